package cache

import (
	"context"
	"time"
)

// Cache is the key-value surface the services rely on. Values are opaque
// strings (binary safe), so callers pick their own encoding.
type Cache interface {
	// Get returns "" and a nil error on a miss.
	Get(ctx context.Context, key string) (string, error)

	// Set stores a key-value pair; ttl 0 means no expiry.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// SetNX sets the value only if the key does not exist.
	// Returns true if the key was set, false if it already existed.
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)

	// Del deletes one or more keys
	Del(ctx context.Context, keys ...string) error

	// Incr increments a counter without touching its expiry.
	Incr(ctx context.Context, key string) (int64, error)

	// IncrWindow increments a counter and starts its expiry on first use,
	// giving a fixed-window rate counter.
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error)

	// Ping verifies the cache connection is alive
	Ping(ctx context.Context) error

	// Close closes the cache connection
	Close() error
}
