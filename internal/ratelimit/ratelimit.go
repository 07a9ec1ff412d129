// Package ratelimit implements a fixed-window rate limiter backed by the
// key-value store. Enforcement fails open: availability is prioritized over
// strict limiting when the store is unreachable.
package ratelimit

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"copyrelay/internal/kvstore"
)

const keyPrefix = "rate_limit:"

// Result is the outcome of a rate limit check.
type Result struct {
	Allowed   bool `json:"allowed"`
	Remaining int  `json:"remaining"`
	// FailedOpen marks decisions made because the store was unavailable,
	// distinguishing the degraded path from a normal allow.
	FailedOpen bool `json:"failed_open,omitempty"`
}

// Limiter counts requests per identifier in fixed windows. The window resets
// by key expiry, not explicit clearing.
type Limiter struct {
	store kvstore.Store
}

// New creates a limiter over store. A nil store yields a limiter that always
// allows.
func New(store kvstore.Store) *Limiter {
	return &Limiter{store: store}
}

// Check records one request for identifier and reports whether it is within
// limit for the current window. The first request in a window creates the
// counter with TTL=window; once the count reaches limit, further requests
// are denied until the window expires.
func (l *Limiter) Check(ctx context.Context, identifier string, limit int, window time.Duration) Result {
	if l.store == nil {
		return l.failOpen(identifier, limit, nil)
	}

	key := keyPrefix + identifier

	current, err := l.store.Get(ctx, key)
	if err == kvstore.ErrNotFound {
		// First request in a fresh window.
		if err := l.store.Set(ctx, key, "1", window); err != nil {
			return l.failOpen(identifier, limit, err)
		}
		return Result{Allowed: true, Remaining: limit - 1}
	}
	if err != nil {
		return l.failOpen(identifier, limit, err)
	}

	count, _ := strconv.Atoi(current)
	if count >= limit {
		return Result{Allowed: false, Remaining: 0}
	}

	if _, err := l.store.Incr(ctx, key); err != nil {
		return l.failOpen(identifier, limit, err)
	}
	return Result{Allowed: true, Remaining: limit - count - 1}
}

// failOpen allows the request when the store cannot be consulted. Logged
// distinctly so the degraded path is observable.
func (l *Limiter) failOpen(identifier string, limit int, err error) Result {
	slog.Warn("rate limit store unavailable, allowing request",
		"identifier", identifier,
		"error", err,
	)
	return Result{Allowed: true, Remaining: limit, FailedOpen: true}
}
