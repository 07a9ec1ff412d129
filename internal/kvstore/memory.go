package kvstore

import (
	"context"
	"path"
	"strconv"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store with real TTL semantics. It backs tests
// and single-instance development runs where no Redis is available.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memEntry
	clock   func() time.Time
}

type memEntry struct {
	value     string
	hash      map[string]string
	expiresAt time.Time // zero means no expiry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(time.Now)
}

// NewMemoryStoreWithClock creates a store with an injected clock, letting
// tests advance time to simulate window and TTL expiry.
func NewMemoryStoreWithClock(clock func() time.Time) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*memEntry),
		clock:   clock,
	}
}

func (e *memEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// live returns the entry for key, pruning it if expired. Caller holds mu.
func (s *MemoryStore) live(key string) *memEntry {
	e, ok := s.entries[key]
	if !ok {
		return nil
	}
	if e.expired(s.clock()) {
		delete(s.entries, key)
		return nil
	}
	return e
}

// Get retrieves the value for key.
func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(key)
	if e == nil {
		return "", ErrNotFound
	}
	return e.value, nil
}

// Set stores value under key with the given TTL.
func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := &memEntry{value: value}
	if ttl > 0 {
		e.expiresAt = s.clock().Add(ttl)
	}
	s.entries[key] = e
	return nil
}

// Delete removes key.
func (s *MemoryStore) Delete(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.live(key) == nil {
		return false, nil
	}
	delete(s.entries, key)
	return true, nil
}

// Keys lists keys matching a glob pattern.
func (s *MemoryStore) Keys(_ context.Context, pattern string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []string
	now := s.clock()
	for k, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, k)
			continue
		}
		if ok, _ := path.Match(pattern, k); ok {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// Incr atomically increments the integer value at key.
func (s *MemoryStore) Incr(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(key)
	if e == nil {
		e = &memEntry{}
		s.entries[key] = e
	}
	n, _ := strconv.ParseInt(e.value, 10, 64)
	n++
	e.value = strconv.FormatInt(n, 10)
	return n, nil
}

// IncrByFloat atomically adds by to the float value at key.
func (s *MemoryStore) IncrByFloat(_ context.Context, key string, by float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(key)
	if e == nil {
		e = &memEntry{}
		s.entries[key] = e
	}
	f, _ := strconv.ParseFloat(e.value, 64)
	f += by
	e.value = strconv.FormatFloat(f, 'f', -1, 64)
	return f, nil
}

// hashEntry returns the live hash entry for key, creating it if needed.
// Caller holds mu.
func (s *MemoryStore) hashEntry(key string) *memEntry {
	e := s.live(key)
	if e == nil {
		e = &memEntry{hash: make(map[string]string)}
		s.entries[key] = e
	}
	if e.hash == nil {
		e.hash = make(map[string]string)
	}
	return e
}

// HIncrBy atomically increments an integer hash field.
func (s *MemoryStore) HIncrBy(_ context.Context, key, field string, by int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.hashEntry(key)
	n, _ := strconv.ParseInt(e.hash[field], 10, 64)
	n += by
	e.hash[field] = strconv.FormatInt(n, 10)
	return n, nil
}

// HIncrByFloat atomically adds to a float hash field.
func (s *MemoryStore) HIncrByFloat(_ context.Context, key, field string, by float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.hashEntry(key)
	f, _ := strconv.ParseFloat(e.hash[field], 64)
	f += by
	e.hash[field] = strconv.FormatFloat(f, 'f', -1, 64)
	return f, nil
}

// HGetAll returns all fields of the hash at key.
func (s *MemoryStore) HGetAll(_ context.Context, key string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]string)
	e := s.live(key)
	if e == nil {
		return out, nil
	}
	for k, v := range e.hash {
		out[k] = v
	}
	return out, nil
}

// Expire sets a TTL on an existing key.
func (s *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e := s.live(key); e != nil {
		e.expiresAt = s.clock().Add(ttl)
	}
	return nil
}

// TTL returns the remaining lifetime of key.
func (s *MemoryStore) TTL(_ context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(key)
	if e == nil || e.expiresAt.IsZero() {
		return -1, nil
	}
	return e.expiresAt.Sub(s.clock()), nil
}

type memPipeliner struct {
	store *MemoryStore
	ctx   context.Context
}

func (p *memPipeliner) HIncrBy(key, field string, by int64) {
	_, _ = p.store.HIncrBy(p.ctx, key, field, by)
}

func (p *memPipeliner) HIncrByFloat(key, field string, by float64) {
	_, _ = p.store.HIncrByFloat(p.ctx, key, field, by)
}

func (p *memPipeliner) Expire(key string, ttl time.Duration) {
	_ = p.store.Expire(p.ctx, key, ttl)
}

// Pipelined applies queued mutations sequentially; there is no round trip
// to save in-process.
func (s *MemoryStore) Pipelined(ctx context.Context, fn func(p Pipeliner)) error {
	fn(&memPipeliner{store: s, ctx: ctx})
	return nil
}

// Ping always succeeds for the in-memory store.
func (s *MemoryStore) Ping(_ context.Context) error {
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}
