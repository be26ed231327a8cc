package kvstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisOptions configures a RedisBackend.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// RedisBackend stores each key as a plain redis string under Prefix.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

var _ Backend = (*RedisBackend)(nil)

// NewRedisBackend connects and pings. Values never expire; retention is
// decided by the readers.
func NewRedisBackend(ctx context.Context, opts RedisOptions) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	return &RedisBackend{client: client, prefix: opts.Prefix}, nil
}

func (r *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return data, nil
}

func (r *RedisBackend) Set(ctx context.Context, key string, value []byte) error {
	if err := r.client.Set(ctx, r.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (r *RedisBackend) Close() error {
	return r.client.Close()
}
