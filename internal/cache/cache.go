// Package cache implements the read-through cache port used by the queue
// service. The cache only ever reduces read load: a miss or an error is always
// safe, and nothing here takes part in claim decisions.
package cache

import (
	"context"
	"time"
)

// Cache is a key/value store with per-key TTL and prefix invalidation.
type Cache interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// InvalidatePattern removes every key starting with prefix.
	InvalidatePattern(ctx context.Context, prefix string) error
}

// Noop is a Cache that never stores anything. Running without a cache costs
// performance, never correctness.
type Noop struct{}

func (Noop) Get(context.Context, string) ([]byte, bool, error)        { return nil, false, nil }
func (Noop) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (Noop) InvalidatePattern(context.Context, string) error          { return nil }

var _ Cache = Noop{}
