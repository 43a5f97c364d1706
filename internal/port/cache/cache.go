// Package cache defines the port for short-lived lookup caching.
package cache

import (
	"context"
	"time"
)

// Cache stores lookup results for a bounded time. A miss is reported through
// the bool, not as an error. Implementations are safe for concurrent use.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close()
}
