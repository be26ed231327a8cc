package kvstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"gridwatch/config"
	"gridwatch/internal/apperr"

	"go.uber.org/zap"
)

type selection struct {
	Primary string `json:"primary"`
	Compare string `json:"compare"`
}

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New(zap.NewNop(), NewMemoryBackend())

	if err := s.Write(ctx, KeySelection, selection{Primary: "BTC", Compare: "ETH"}); err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}

	got := Get(ctx, s, KeySelection, selection{})
	if got.Primary != "BTC" || got.Compare != "ETH" {
		t.Errorf("unexpected selection: %+v", got)
	}
}

func TestStore_MissingKeyReturnsDefault(t *testing.T) {
	ctx := context.Background()
	s := New(nil, NewMemoryBackend())

	var dest selection
	if err := s.Read(ctx, "missing", &dest); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got: %v", err)
	}

	got := Get(ctx, s, "missing", []string{"fallback"})
	if len(got) != 1 || got[0] != "fallback" {
		t.Errorf("expected default, got: %v", got)
	}
}

func TestStore_CorruptJSONReturnsDefault(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryBackend()
	mem.Set(ctx, KeyWatchlist, []byte(`{"not":"a list"`))
	s := New(nil, mem)

	var dest []string
	err := s.Read(ctx, KeyWatchlist, &dest)
	if !apperr.Is(err, apperr.KindParse) {
		t.Errorf("expected parse error, got: %v", err)
	}

	got := Get(ctx, s, KeyWatchlist, []string{"BTC"})
	if len(got) != 1 || got[0] != "BTC" {
		t.Errorf("expected default for corrupt json, got: %v", got)
	}
}

func TestStore_WrongShapeReturnsDefault(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryBackend()
	mem.Set(ctx, KeyHiddenOrderIDs, []byte(`{"a":1}`))
	s := New(nil, mem)

	got := Get(ctx, s, KeyHiddenOrderIDs, []string{})
	if got == nil || len(got) != 0 {
		t.Errorf("expected empty default, got: %v", got)
	}
}

func TestStore_FailingBackendNeverFails(t *testing.T) {
	ctx := context.Background()
	backend := &FailingBackend{}
	s := New(zap.NewNop(), backend)

	err := s.Write(ctx, KeyAuthToken, "token")
	if !apperr.Is(err, apperr.KindStorageUnavailable) {
		t.Errorf("expected storage unavailable, got: %v", err)
	}

	// Best-effort paths must not fail or panic.
	s.Put(ctx, KeyAuthToken, "token")
	got := Get(ctx, s, KeyAuthToken, "none")
	if got != "none" {
		t.Errorf("expected default, got: %s", got)
	}
	if backend.Calls() != 3 {
		t.Errorf("expected 3 backend calls, got: %d", backend.Calls())
	}
}

func TestStore_UnencodableValue(t *testing.T) {
	s := New(nil, NewMemoryBackend())
	err := s.Write(context.Background(), "bad", make(chan int))
	if !apperr.Is(err, apperr.KindStorageUnavailable) {
		t.Errorf("expected storage unavailable for encode failure, got: %v", err)
	}
}

func TestStore_PanickingBackendIsRecovered(t *testing.T) {
	ctx := context.Background()
	s := New(nil, PanickingBackend{})

	if err := s.Write(ctx, KeyWallet, "x"); !apperr.Is(err, apperr.KindStorageUnavailable) {
		t.Errorf("expected storage unavailable, got: %v", err)
	}
	if got := Get(ctx, s, KeyWallet, "default"); got != "default" {
		t.Errorf("expected default, got: %s", got)
	}
	s.Put(ctx, KeyWallet, "x")
}

func TestStore_NilStore(t *testing.T) {
	ctx := context.Background()
	var s *Store

	if err := s.Write(ctx, KeySelection, 1); !apperr.Is(err, apperr.KindStorageUnavailable) {
		t.Errorf("expected storage unavailable, got: %v", err)
	}
	s.Put(ctx, KeySelection, 1)
	if got := Get(ctx, s, KeySelection, 7); got != 7 {
		t.Errorf("expected default, got: %d", got)
	}
	if err := s.Close(); err != nil {
		t.Errorf("unexpected close error: %v", err)
	}
}

func TestFileBackend(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "store")
	backend, err := NewFileBackend(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s := New(nil, backend)

	if err := s.Write(ctx, "symbol/map", map[string]string{"PEPE": "dex-1"}); err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}
	if err := s.Write(ctx, "symbol/map", map[string]string{"PEPE": "dex-2"}); err != nil {
		t.Fatalf("unexpected overwrite error: %v", err)
	}

	got := Get(ctx, s, "symbol/map", map[string]string{})
	if got["PEPE"] != "dex-2" {
		t.Errorf("expected overwritten value, got: %v", got)
	}

	if _, err := backend.Get(ctx, "never"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got: %v", err)
	}

	if _, err := NewFileBackend(""); err == nil {
		t.Error("expected error for empty directory")
	}
}

func TestSQLiteBackend(t *testing.T) {
	ctx := context.Background()
	backend, err := NewSQLiteBackend(ctx, filepath.Join(t.TempDir(), "kv.db"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer backend.Close()
	s := New(nil, backend)

	if _, err := backend.Get(ctx, KeyLastActivity); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got: %v", err)
	}

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := s.Write(ctx, KeyLastActivity, now); err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}
	later := now.Add(time.Minute)
	if err := s.Write(ctx, KeyLastActivity, later); err != nil {
		t.Fatalf("unexpected upsert error: %v", err)
	}

	got := Get(ctx, s, KeyLastActivity, time.Time{})
	if !got.Equal(later) {
		t.Errorf("expected %v, got %v", later, got)
	}
}

func TestRedisBackend_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	_, err := NewRedisBackend(ctx, RedisOptions{Addr: "127.0.0.1:1"})
	if err == nil {
		t.Error("expected error for unreachable redis")
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		cfg     config.StoreConfig
		wantErr bool
	}{
		{"memory", config.StoreConfig{Backend: "memory"}, false},
		{"file", config.StoreConfig{Backend: "file", Dir: t.TempDir()}, false},
		{"sqlite", config.StoreConfig{Backend: "SQLITE", SQLitePath: filepath.Join(t.TempDir(), "o.db")}, false},
		{"unknown", config.StoreConfig{Backend: "s3"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend, err := Open(ctx, zap.NewNop(), tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			defer backend.Close()
			if err := backend.Set(ctx, "k", []byte(`1`)); err != nil {
				t.Errorf("unexpected set error: %v", err)
			}
		})
	}
}
