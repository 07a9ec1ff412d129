// Package cache provides the read-through caching layer shared by every
// request path. All operations fail open: when the underlying store is
// unreachable every read is a miss and every write a no-op, so a cache
// outage never blocks request processing.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"copyrelay/internal/kvstore"
)

// DefaultTTL is used when a caller passes a zero TTL.
const DefaultTTL = time.Hour

// Recorder receives cache hit/miss/error events, typically the metrics
// bundle. Implementations must be safe for concurrent use.
type Recorder interface {
	CacheHit()
	CacheMiss()
	CacheError()
}

// Layer wraps a kvstore.Store with key canonicalization, fail-open
// degradation, and hit/miss/error accounting.
type Layer struct {
	store    kvstore.Store
	recorder Recorder

	hits   atomic.Int64
	misses atomic.Int64
	errors atomic.Int64
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Hits          int64   `json:"hits"`
	Misses        int64   `json:"misses"`
	Errors        int64   `json:"errors"`
	TotalRequests int64   `json:"total_requests"`
	HitRate       float64 `json:"hit_rate"`
}

// New creates a cache layer over store. A nil store is permitted and yields
// a fully degraded (but functional) layer.
func New(store kvstore.Store) *Layer {
	return &Layer{store: store}
}

// SetRecorder attaches a recorder that mirrors the internal counters into
// external instrumentation. Call before serving traffic; a nil recorder
// keeps events local.
func (l *Layer) SetRecorder(r Recorder) {
	l.recorder = r
}

func (l *Layer) recordHit() {
	l.hits.Add(1)
	if l.recorder != nil {
		l.recorder.CacheHit()
	}
}

func (l *Layer) recordMiss() {
	l.misses.Add(1)
	if l.recorder != nil {
		l.recorder.CacheMiss()
	}
}

func (l *Layer) recordError() {
	l.errors.Add(1)
	if l.recorder != nil {
		l.recorder.CacheError()
	}
}

// Key builds a deterministic cache key from a namespace and a parameter set.
// Identical parameter maps produce identical keys irrespective of insertion
// order: encoding/json sorts map keys, and the canonical bytes are hashed.
func Key(namespace string, params map[string]any) string {
	canonical, err := json.Marshal(params)
	if err != nil {
		// Unserializable params degrade to the bare namespace; the entry
		// is still cacheable, just coarser.
		return namespace + ":invalid"
	}
	return fmt.Sprintf("%s:%016x", namespace, xxhash.Sum64(canonical))
}

// Get retrieves the raw cached value. The second return is false on miss,
// on store error, and when no store is configured.
func (l *Layer) Get(ctx context.Context, key string) ([]byte, bool) {
	if l.store == nil {
		l.recordMiss()
		return nil, false
	}

	val, err := l.store.Get(ctx, key)
	if err == kvstore.ErrNotFound {
		l.recordMiss()
		return nil, false
	}
	if err != nil {
		l.recordError()
		slog.Warn("cache degraded: get failed", "key", key, "error", err)
		return nil, false
	}

	l.recordHit()
	return []byte(val), true
}

// Set stores a raw value with the given TTL. Returns false (without error)
// when the store is unreachable or unconfigured.
func (l *Layer) Set(ctx context.Context, key string, value []byte, ttl time.Duration) bool {
	if l.store == nil {
		return false
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	if err := l.store.Set(ctx, key, string(value), ttl); err != nil {
		l.recordError()
		slog.Warn("cache degraded: set failed", "key", key, "error", err)
		return false
	}
	return true
}

// Delete removes a single cache entry.
func (l *Layer) Delete(ctx context.Context, key string) bool {
	if l.store == nil {
		return false
	}

	deleted, err := l.store.Delete(ctx, key)
	if err != nil {
		l.recordError()
		slog.Warn("cache degraded: delete failed", "key", key, "error", err)
		return false
	}
	return deleted
}

// InvalidatePattern deletes every entry matching a glob pattern and returns
// the number deleted. A pattern with no matches returns 0 without error.
func (l *Layer) InvalidatePattern(ctx context.Context, pattern string) int {
	if l.store == nil {
		return 0
	}

	keys, err := l.store.Keys(ctx, pattern)
	if err != nil {
		l.recordError()
		slog.Warn("cache degraded: pattern scan failed", "pattern", pattern, "error", err)
		return 0
	}

	count := 0
	for _, key := range keys {
		deleted, err := l.store.Delete(ctx, key)
		if err != nil {
			l.recordError()
			continue
		}
		if deleted {
			count++
		}
	}

	if count > 0 {
		slog.Info("cache invalidated", "pattern", pattern, "count", count)
	}
	return count
}

// Stats returns aggregate counters including the computed hit rate.
func (l *Layer) Stats() Stats {
	hits := l.hits.Load()
	misses := l.misses.Load()
	total := hits + misses

	s := Stats{
		Hits:          hits,
		Misses:        misses,
		Errors:        l.errors.Load(),
		TotalRequests: total,
	}
	if total > 0 {
		s.HitRate = float64(hits) / float64(total)
	}
	return s
}

// Wrap performs read-through caching around op: canonicalize params into a
// key, attempt a read, and on miss invoke op, store its result, and return
// it. Cache failures never surface; op errors propagate unchanged.
func Wrap[T any](ctx context.Context, l *Layer, namespace string, params map[string]any, ttl time.Duration, op func(ctx context.Context) (T, error)) (T, error) {
	key := Key(namespace, params)

	if raw, ok := l.Get(ctx, key); ok {
		var cached T
		if err := json.Unmarshal(raw, &cached); err == nil {
			return cached, nil
		}
		// Corrupt entry: fall through to recompute and overwrite.
		l.Delete(ctx, key)
	}

	result, err := op(ctx)
	if err != nil {
		return result, err
	}

	if raw, err := json.Marshal(result); err == nil {
		l.Set(ctx, key, raw, ttl)
	}
	return result, nil
}
