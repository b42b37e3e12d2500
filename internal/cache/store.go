package cache

import (
	"context"
	"time"
)

// Store is the shared cache abstraction. Rate-limit counters and short-lived
// lookups go through it; backed by Redis when configured, the database
// otherwise.
type Store interface {
	// IncrementWithTTL bumps a counter, starting a ttl window on first use,
	// and reports the new count with the time left in the window.
	IncrementWithTTL(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
	// Set stores a value. A non-positive ttl keeps it until deleted.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, keys ...string) error
}
