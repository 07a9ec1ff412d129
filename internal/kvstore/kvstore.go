// Package kvstore provides the key-value store abstraction backing caching,
// rate limiting, and usage counters. Redis is the production backend; an
// in-memory implementation serves tests and single-instance development.
package kvstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key does not exist or has expired.
var ErrNotFound = errors.New("kvstore: key not found")

// Pipeliner batches mutations issued inside a Pipelined call. Operations are
// queued and executed together; individual results are not observable.
type Pipeliner interface {
	HIncrBy(key, field string, by int64)
	HIncrByFloat(key, field string, by float64)
	Expire(key string, ttl time.Duration)
}

// Store defines the key-value operations the governance layer depends on.
// Implementations must be safe for concurrent use. Every mutation is a single
// atomic operation; no cross-key transactions are provided.
type Store interface {
	// Get retrieves the value for key. Returns ErrNotFound when absent.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value under key with the given TTL (0 means no expiry).
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes key. Returns true when a key was actually removed.
	Delete(ctx context.Context, key string) (bool, error)

	// Keys lists keys matching a glob pattern (e.g. "content:*campaign*").
	Keys(ctx context.Context, pattern string) ([]string, error)

	// Incr atomically increments the integer value at key by one,
	// creating it at zero first if absent. Returns the new value.
	Incr(ctx context.Context, key string) (int64, error)

	// IncrByFloat atomically adds by to the float value at key.
	IncrByFloat(ctx context.Context, key string, by float64) (float64, error)

	// HIncrBy atomically increments an integer hash field.
	HIncrBy(ctx context.Context, key, field string, by int64) (int64, error)

	// HIncrByFloat atomically adds to a float hash field.
	HIncrByFloat(ctx context.Context, key, field string, by float64) (float64, error)

	// HGetAll returns all fields of the hash at key. Missing keys yield an
	// empty map, not an error.
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	// Expire sets a TTL on an existing key.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// TTL returns the remaining lifetime of key, or a negative duration
	// when the key has no expiry or does not exist.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Pipelined executes fn, batching all Pipeliner mutations into a
	// single round trip where the backend supports it.
	Pipelined(ctx context.Context, fn func(p Pipeliner)) error

	// Ping verifies connectivity to the backend.
	Ping(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}
