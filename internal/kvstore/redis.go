package kvstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// URL is the Redis connection URL (e.g., "redis://localhost:6379" or "redis://:password@host:6379/0")
	URL string

	// DialTimeout bounds the initial connectivity check (defaults to 5 seconds).
	DialTimeout time.Duration
}

// RedisStore implements Store using Redis. Suitable for multi-instance
// deployments where counters and cache entries must be shared.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis-backed store and verifies connectivity.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	dialTimeout := cfg.DialTimeout
	if dialTimeout == 0 {
		dialTimeout = 5 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	slog.Info("redis store connected", "addr", opts.Addr)

	return &RedisStore{client: client}, nil
}

// Get retrieves the value for key.
func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, nil
}

// Set stores value under key with the given TTL.
func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (s *RedisStore) Delete(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Del(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis del %s: %w", key, err)
	}
	return n > 0, nil
}

// Keys lists keys matching pattern. SCAN is used instead of KEYS so large
// keyspaces do not block the server.
func (s *RedisStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan %s: %w", pattern, err)
	}
	return keys, nil
}

// Incr atomically increments the integer value at key.
func (s *RedisStore) Incr(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis incr %s: %w", key, err)
	}
	return n, nil
}

// IncrByFloat atomically adds by to the float value at key.
func (s *RedisStore) IncrByFloat(ctx context.Context, key string, by float64) (float64, error) {
	f, err := s.client.IncrByFloat(ctx, key, by).Result()
	if err != nil {
		return 0, fmt.Errorf("redis incrbyfloat %s: %w", key, err)
	}
	return f, nil
}

// HIncrBy atomically increments an integer hash field.
func (s *RedisStore) HIncrBy(ctx context.Context, key, field string, by int64) (int64, error) {
	n, err := s.client.HIncrBy(ctx, key, field, by).Result()
	if err != nil {
		return 0, fmt.Errorf("redis hincrby %s.%s: %w", key, field, err)
	}
	return n, nil
}

// HIncrByFloat atomically adds to a float hash field.
func (s *RedisStore) HIncrByFloat(ctx context.Context, key, field string, by float64) (float64, error) {
	f, err := s.client.HIncrByFloat(ctx, key, field, by).Result()
	if err != nil {
		return 0, fmt.Errorf("redis hincrbyfloat %s.%s: %w", key, field, err)
	}
	return f, nil
}

// HGetAll returns all fields of the hash at key.
func (s *RedisStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall %s: %w", key, err)
	}
	return m, nil
}

// Expire sets a TTL on an existing key.
func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("redis expire %s: %w", key, err)
	}
	return nil
}

// TTL returns the remaining lifetime of key.
func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis ttl %s: %w", key, err)
	}
	return d, nil
}

type redisPipeliner struct {
	pipe redis.Pipeliner
	ctx  context.Context
}

func (p *redisPipeliner) HIncrBy(key, field string, by int64) {
	p.pipe.HIncrBy(p.ctx, key, field, by)
}

func (p *redisPipeliner) HIncrByFloat(key, field string, by float64) {
	p.pipe.HIncrByFloat(p.ctx, key, field, by)
}

func (p *redisPipeliner) Expire(key string, ttl time.Duration) {
	p.pipe.Expire(p.ctx, key, ttl)
}

// Pipelined batches queued mutations into a single round trip.
func (s *RedisStore) Pipelined(ctx context.Context, fn func(p Pipeliner)) error {
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		fn(&redisPipeliner{pipe: pipe, ctx: ctx})
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}
	return nil
}

// Ping verifies connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}
