// Package kvstore persists string-keyed JSON blobs on a pluggable backend.
package kvstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"gridwatch/config"

	"go.uber.org/zap"
)

// ErrNotFound is returned by backends when a key has never been written.
var ErrNotFound = errors.New("kvstore: key not found")

// Durable keys.
const (
	KeySelection         = "selection"
	KeySymbolMap         = "symbol_map"
	KeyWatchlist         = "watchlist"
	KeyHealthFullCache   = "health_full_cache"
	KeyHiddenOrderIDs    = "hidden_order_ids"
	KeyAuthToken         = "auth_token"
	KeyWallet            = "wallet"
	KeyLastActivity      = "last_activity"
	KeyWatchlistSnapshot = "watchlist_snapshot"
)

// Backend stores raw bytes by key.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Close() error
}

// MemoryBackend keeps values in process memory.
type MemoryBackend struct {
	mu   sync.RWMutex
	data map[string][]byte
}

var _ Backend = (*MemoryBackend)(nil)

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: make(map[string][]byte)}
}

func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *MemoryBackend) Set(_ context.Context, key string, value []byte) error {
	v := make([]byte, len(value))
	copy(v, value)
	m.mu.Lock()
	m.data[key] = v
	m.mu.Unlock()
	return nil
}

func (m *MemoryBackend) Close() error { return nil }

// Open builds the backend selected by cfg.Backend.
func Open(ctx context.Context, logger *zap.Logger, cfg config.StoreConfig) (Backend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch strings.ToLower(cfg.Backend) {
	case "", "file":
		logger.Info("using file store", zap.String("dir", cfg.Dir))
		return NewFileBackend(cfg.Dir)
	case "sqlite":
		logger.Info("using sqlite store", zap.String("path", cfg.SQLitePath))
		return NewSQLiteBackend(ctx, cfg.SQLitePath)
	case "redis":
		logger.Info("using redis store", zap.String("addr", cfg.RedisAddr), zap.Int("db", cfg.RedisDB))
		return NewRedisBackend(ctx, RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.KeyPrefix,
		})
	case "memory":
		logger.Info("using in-memory store")
		return NewMemoryBackend(), nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
}
