package kvstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gridwatch/internal/apperr"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const defaultOpTimeout = 2 * time.Second

// Store encodes values as JSON on top of a Backend. Read and Write report
// classified errors; Get and Put never fail and are what background code uses.
// A nil *Store behaves as storage that is always unavailable.
type Store struct {
	logger    *zap.Logger
	backend   Backend
	opTimeout time.Duration
}

func New(logger *zap.Logger, backend Backend) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		logger:    logger.Named("kvstore"),
		backend:   backend,
		opTimeout: defaultOpTimeout,
	}
}

// Read decodes the value at key into dest. Missing keys return ErrNotFound.
func (s *Store) Read(ctx context.Context, key string, dest any) (err error) {
	if s == nil || s.backend == nil {
		return apperr.New(apperr.KindStorageUnavailable, "read "+key, errors.New("no backend"))
	}
	defer recoverStorage("read "+key, &err)

	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	data, err := s.backend.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return apperr.New(apperr.KindStorageUnavailable, "read "+key, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return apperr.New(apperr.KindParse, "read "+key, err)
	}
	return nil
}

// Write encodes v and stores it at key.
func (s *Store) Write(ctx context.Context, key string, v any) (err error) {
	if s == nil || s.backend == nil {
		return apperr.New(apperr.KindStorageUnavailable, "write "+key, errors.New("no backend"))
	}
	defer recoverStorage("write "+key, &err)

	data, err := json.Marshal(v)
	if err != nil {
		return apperr.New(apperr.KindStorageUnavailable, "write "+key, fmt.Errorf("encode: %w", err))
	}

	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	if err := s.backend.Set(ctx, key, data); err != nil {
		return apperr.New(apperr.KindStorageUnavailable, "write "+key, err)
	}
	return nil
}

// Put is a best-effort Write. Failures are logged and dropped.
func (s *Store) Put(ctx context.Context, key string, v any) {
	if err := s.Write(ctx, key, v); err != nil && s != nil {
		s.logger.Debug("store write dropped", zap.String("key", key), zap.Error(err))
	}
}

// Close releases the backend.
func (s *Store) Close() error {
	if s == nil || s.backend == nil {
		return nil
	}
	return s.backend.Close()
}

// Get returns the value at key, or def when the key is missing, the stored
// JSON does not decode, or storage is unavailable.
func Get[T any](ctx context.Context, s *Store, key string, def T) T {
	var v T
	if err := s.Read(ctx, key, &v); err != nil {
		if s != nil && !errors.Is(err, ErrNotFound) {
			s.logger.Debug("store read fell back to default", zap.String("key", key), zap.Error(err))
		}
		return def
	}
	return v
}

func recoverStorage(op string, err *error) {
	if r := recover(); r != nil {
		*err = apperr.New(apperr.KindStorageUnavailable, op, fmt.Errorf("backend panic: %v", r))
	}
}
