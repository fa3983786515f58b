package cache

import (
	"context"
	"time"
)

// CounterStore is the slice of cache operations used to accumulate counters.
// Implementations must be safe for concurrent use.
type CounterStore interface {
	// HIncrByMany increments several hash fields atomically
	// Fields with a zero delta are skipped
	HIncrByMany(ctx context.Context, key string, deltas map[string]int64) error

	// Expire sets a timeout on a key
	Expire(ctx context.Context, key string, ttl time.Duration) error
}
