// Package breaker implements per-operation circuit breakers that stop
// calling a failing dependency for a cool-down period.
//
// Each protected operation class has an independent breaker identified by a
// caller-chosen name, created lazily on first reference and kept for the
// process lifetime. The open→half-open transition is evaluated lazily at
// call time; no background timer runs.
package breaker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned when a call is rejected because the breaker is open.
// Callers distinguish it from a real call failure with errors.Is, so they
// can fall back (e.g. to cached content) without waiting out a timeout.
var ErrOpen = errors.New("circuit breaker is open")

// State is the breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

const (
	// DefaultFailureThreshold is the consecutive-failure count that opens a breaker.
	DefaultFailureThreshold = 5
	// DefaultRecoveryTimeout is the cool-down before a trial call is permitted.
	DefaultRecoveryTimeout = time.Minute
)

// Breaker tracks failures for one named operation class.
type Breaker struct {
	name             string
	failureThreshold int
	recoveryTimeout  time.Duration

	mu          sync.Mutex
	failures    int
	lastFailure time.Time
	state       State

	now func() time.Time
}

// Snapshot is a read-only view of a breaker for health and metrics reporting.
type Snapshot struct {
	Name        string    `json:"name"`
	State       State     `json:"state"`
	Failures    int       `json:"failures"`
	LastFailure time.Time `json:"last_failure,omitzero"`
}

// NewBreaker creates a closed breaker. Zero threshold/timeout get defaults.
func NewBreaker(name string, failureThreshold int, recoveryTimeout time.Duration) *Breaker {
	if failureThreshold <= 0 {
		failureThreshold = DefaultFailureThreshold
	}
	if recoveryTimeout <= 0 {
		recoveryTimeout = DefaultRecoveryTimeout
	}
	return &Breaker{
		name:             name,
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		state:            StateClosed,
		now:              time.Now,
	}
}

// allow reports whether a call may proceed, applying the lazy open→half-open
// transition when the recovery timeout has elapsed.
func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if b.now().Sub(b.lastFailure) > b.recoveryTimeout {
			b.state = StateHalfOpen
			slog.Info("circuit breaker half-open", "name", b.name)
			return true
		}
		return false
	}
	return true
}

// recordSuccess resets the breaker to closed.
func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateClosed || b.failures != 0 {
		slog.Info("circuit breaker reset", "name", b.name)
	}
	b.failures = 0
	b.state = StateClosed
}

// recordFailure counts a failure, refreshing the failure timestamp. Reaching
// the threshold, or failing the half-open trial call, opens the breaker.
func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = b.now()

	if b.state == StateHalfOpen || b.failures >= b.failureThreshold {
		if b.state != StateOpen {
			slog.Warn("circuit breaker opened", "name", b.name, "failures", b.failures)
		}
		b.state = StateOpen
	}
}

// Snapshot returns the current breaker state.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Name:        b.name,
		State:       b.state,
		Failures:    b.failures,
		LastFailure: b.lastFailure,
	}
}

// Registry holds every named breaker, creating them lazily on first use.
// It is an explicitly constructed, dependency-injected instance; no package
// globals.
type Registry struct {
	failureThreshold int
	recoveryTimeout  time.Duration

	mu       sync.Mutex
	breakers map[string]*Breaker

	now func() time.Time
}

// NewRegistry creates a registry whose breakers share the given thresholds.
func NewRegistry(failureThreshold int, recoveryTimeout time.Duration) *Registry {
	return &Registry{
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		breakers:         make(map[string]*Breaker),
		now:              time.Now,
	}
}

// Get returns the breaker for name, creating it if needed.
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[name]
	if !ok {
		b = NewBreaker(name, r.failureThreshold, r.recoveryTimeout)
		b.now = r.now
		r.breakers[name] = b
	}
	return b
}

// Do wraps fn with the named breaker: reject immediately with ErrOpen when
// open (fn is not invoked), reset on success, record and return the original
// error unchanged on failure.
func (r *Registry) Do(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	b := r.Get(name)

	if !b.allow() {
		slog.Warn("circuit breaker blocked call", "name", name)
		return ErrOpen
	}

	if err := fn(ctx); err != nil {
		b.recordFailure()
		return err
	}

	b.recordSuccess()
	return nil
}

// Snapshots returns the state of every breaker, for health aggregation.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Snapshot, 0, len(r.breakers))
	for _, b := range r.breakers {
		out = append(out, b.Snapshot())
	}
	return out
}
