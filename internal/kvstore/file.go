package kvstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
)

// FileBackend writes one file per key under a directory.
type FileBackend struct {
	dir string
}

var _ Backend = (*FileBackend)(nil)

func NewFileBackend(dir string) (*FileBackend, error) {
	if dir == "" {
		return nil, fmt.Errorf("file store: empty directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("file store: create dir: %w", err)
	}
	return &FileBackend{dir: dir}, nil
}

func (f *FileBackend) path(key string) string {
	return filepath.Join(f.dir, url.PathEscape(key)+".json")
}

func (f *FileBackend) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(f.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("file store: read %s: %w", key, err)
	}
	return data, nil
}

// Set replaces the file atomically via a temp file and rename.
func (f *FileBackend) Set(_ context.Context, key string, value []byte) error {
	tmp, err := os.CreateTemp(f.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("file store: temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("file store: write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("file store: close %s: %w", key, err)
	}
	if err := os.Rename(tmpName, f.path(key)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("file store: rename %s: %w", key, err)
	}
	return nil
}

func (f *FileBackend) Close() error { return nil }
