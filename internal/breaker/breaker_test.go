package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(threshold int, timeout time.Duration) (*Registry, *time.Time) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r := NewRegistry(threshold, timeout)
	r.now = func() time.Time { return now }
	return r, &now
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	r, _ := newTestRegistry(5, time.Minute)
	ctx := context.Background()
	boom := errors.New("upstream down")

	for i := 0; i < 5; i++ {
		err := r.Do(ctx, "meta_api", func(ctx context.Context) error { return boom })
		require.ErrorIs(t, err, boom, "failures must propagate unchanged")
	}

	assert.Equal(t, StateOpen, r.Get("meta_api").Snapshot().State)

	// Sixth call is rejected without invoking the wrapped operation.
	invoked := false
	err := r.Do(ctx, "meta_api", func(ctx context.Context) error {
		invoked = true
		return nil
	})
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, invoked)
}

func TestBreakerRecovery(t *testing.T) {
	r, now := newTestRegistry(5, time.Minute)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_ = r.Do(ctx, "model_provider", func(ctx context.Context) error {
			return errors.New("timeout")
		})
	}
	require.Equal(t, StateOpen, r.Get("model_provider").Snapshot().State)

	// After the recovery timeout the next call is permitted (half-open)
	// and, on success, the breaker closes with the failure count reset.
	*now = now.Add(61 * time.Second)

	invoked := false
	err := r.Do(ctx, "model_provider", func(ctx context.Context) error {
		invoked = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, invoked)

	snap := r.Get("model_provider").Snapshot()
	assert.Equal(t, StateClosed, snap.State)
	assert.Equal(t, 0, snap.Failures)
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	r, now := newTestRegistry(3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = r.Do(ctx, "linkedin_api", func(ctx context.Context) error {
			return errors.New("503")
		})
	}

	*now = now.Add(2 * time.Minute)

	// Trial call fails: straight back to open.
	err := r.Do(ctx, "linkedin_api", func(ctx context.Context) error {
		return errors.New("still down")
	})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrOpen)
	assert.Equal(t, StateOpen, r.Get("linkedin_api").Snapshot().State)

	// And immediately rejecting again.
	err = r.Do(ctx, "linkedin_api", func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrOpen)
}

func TestBreakersAreIndependent(t *testing.T) {
	r, _ := newTestRegistry(2, time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_ = r.Do(ctx, "meta_api", func(ctx context.Context) error { return errors.New("x") })
	}

	assert.ErrorIs(t, r.Do(ctx, "meta_api", func(ctx context.Context) error { return nil }), ErrOpen)
	assert.NoError(t, r.Do(ctx, "linkedin_api", func(ctx context.Context) error { return nil }))
}

func TestSuccessResetsConsecutiveFailures(t *testing.T) {
	r, _ := newTestRegistry(3, time.Minute)
	ctx := context.Background()

	_ = r.Do(ctx, "svc", func(ctx context.Context) error { return errors.New("x") })
	_ = r.Do(ctx, "svc", func(ctx context.Context) error { return errors.New("x") })
	require.NoError(t, r.Do(ctx, "svc", func(ctx context.Context) error { return nil }))

	// Two more failures do not reach the threshold after the reset.
	_ = r.Do(ctx, "svc", func(ctx context.Context) error { return errors.New("x") })
	_ = r.Do(ctx, "svc", func(ctx context.Context) error { return errors.New("x") })
	assert.Equal(t, StateClosed, r.Get("svc").Snapshot().State)
}

func TestSnapshots(t *testing.T) {
	r, _ := newTestRegistry(5, time.Minute)
	ctx := context.Background()

	_ = r.Do(ctx, "a", func(ctx context.Context) error { return nil })
	_ = r.Do(ctx, "b", func(ctx context.Context) error { return errors.New("x") })

	snaps := r.Snapshots()
	assert.Len(t, snaps, 2)
}
