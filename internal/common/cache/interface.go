package cache

import (
	"context"
	"time"
)

// Cache is the subset of Redis operations the pipeline relies on.
// Get returns "" with a nil error on a miss.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error

	// IncrWindow increments key and sets ttl when the key is created, returning the new count.
	IncrWindow(ctx context.Context, key string, ttl time.Duration) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}
