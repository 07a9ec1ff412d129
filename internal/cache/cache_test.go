package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"copyrelay/internal/kvstore"
)

func TestKeyDeterminism(t *testing.T) {
	// Identical key-value pairs, different construction order.
	a := map[string]any{}
	a["product"] = "widget"
	a["persona"] = "cto"
	a["platform"] = "linkedin"
	a["tone"] = "formal"

	b := map[string]any{}
	b["tone"] = "formal"
	b["platform"] = "linkedin"
	b["persona"] = "cto"
	b["product"] = "widget"

	assert.Equal(t, Key("content", a), Key("content", b))

	c := map[string]any{"product": "widget", "persona": "cmo", "platform": "linkedin", "tone": "formal"}
	assert.NotEqual(t, Key("content", a), Key("content", c))
	assert.NotEqual(t, Key("content", a), Key("preview", a))
}

func TestLayerReadThrough(t *testing.T) {
	l := New(kvstore.NewMemoryStore())
	ctx := context.Background()

	calls := 0
	op := func(ctx context.Context) (map[string]any, error) {
		calls++
		return map[string]any{"headline": "Buy the widget"}, nil
	}

	params := map[string]any{"product": "widget"}

	got, err := Wrap(ctx, l, "content", params, time.Minute, op)
	require.NoError(t, err)
	assert.Equal(t, "Buy the widget", got["headline"])
	assert.Equal(t, 1, calls)

	// Second call served from cache
	got, err = Wrap(ctx, l, "content", params, time.Minute, op)
	require.NoError(t, err)
	assert.Equal(t, "Buy the widget", got["headline"])
	assert.Equal(t, 1, calls)

	stats := l.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 0.5, stats.HitRate, 1e-9)
}

func TestWrapOperationErrorNotCached(t *testing.T) {
	l := New(kvstore.NewMemoryStore())
	ctx := context.Background()

	boom := errors.New("generation failed")
	calls := 0
	op := func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", boom
		}
		return "ok", nil
	}

	_, err := Wrap(ctx, l, "content", map[string]any{"p": 1}, time.Minute, op)
	require.ErrorIs(t, err, boom)

	got, err := Wrap(ctx, l, "content", map[string]any{"p": 1}, time.Minute, op)
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 2, calls)
}

// failingStore simulates an unreachable backend. Unused methods panic via
// the embedded nil interface.
type failingStore struct {
	kvstore.Store
}

var errDown = errors.New("connection refused")

func (failingStore) Get(context.Context, string) (string, error)      { return "", errDown }
func (failingStore) Set(context.Context, string, string, time.Duration) error { return errDown }
func (failingStore) Delete(context.Context, string) (bool, error)     { return false, errDown }
func (failingStore) Keys(context.Context, string) ([]string, error)   { return nil, errDown }

type countingRecorder struct {
	hits, misses, errors int
}

func (r *countingRecorder) CacheHit()   { r.hits++ }
func (r *countingRecorder) CacheMiss()  { r.misses++ }
func (r *countingRecorder) CacheError() { r.errors++ }

func TestRecorderMirrorsCounters(t *testing.T) {
	ctx := context.Background()

	l := New(kvstore.NewMemoryStore())
	rec := &countingRecorder{}
	l.SetRecorder(rec)

	key := Key("content", map[string]any{"p": "x"})
	_, ok := l.Get(ctx, key)
	assert.False(t, ok)
	require.True(t, l.Set(ctx, key, []byte("v"), time.Minute))
	_, ok = l.Get(ctx, key)
	assert.True(t, ok)

	assert.Equal(t, 1, rec.hits)
	assert.Equal(t, 1, rec.misses)
	assert.Equal(t, 0, rec.errors)

	t.Run("degraded operations emit error events", func(t *testing.T) {
		l := New(failingStore{})
		rec := &countingRecorder{}
		l.SetRecorder(rec)

		l.Get(ctx, "k")
		l.Set(ctx, "k", []byte("v"), time.Minute)
		assert.Equal(t, 2, rec.errors)
	})

	t.Run("recorder sees the same totals as stats", func(t *testing.T) {
		stats := l.Stats()
		assert.Equal(t, int64(rec.hits), stats.Hits)
		assert.Equal(t, int64(rec.misses), stats.Misses)
	})
}

func TestLayerFailOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("unreachable store", func(t *testing.T) {
		l := New(failingStore{})

		_, ok := l.Get(ctx, "k")
		assert.False(t, ok)
		assert.False(t, l.Set(ctx, "k", []byte("v"), time.Minute))
		assert.False(t, l.Delete(ctx, "k"))
		assert.Equal(t, 0, l.InvalidatePattern(ctx, "*"))

		stats := l.Stats()
		assert.Greater(t, stats.Errors, int64(0))
	})

	t.Run("nil store", func(t *testing.T) {
		l := New(nil)

		_, ok := l.Get(ctx, "k")
		assert.False(t, ok)
		assert.False(t, l.Set(ctx, "k", []byte("v"), time.Minute))
		assert.Equal(t, 0, l.InvalidatePattern(ctx, "*"))
	})

	t.Run("wrap still invokes operation", func(t *testing.T) {
		l := New(failingStore{})
		got, err := Wrap(ctx, l, "ns", map[string]any{"a": 1}, time.Minute, func(ctx context.Context) (int, error) {
			return 42, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 42, got)
	})
}

func TestInvalidatePatternIdempotent(t *testing.T) {
	store := kvstore.NewMemoryStore()
	l := New(store)
	ctx := context.Background()

	l.Set(ctx, "analytics:camp-1", []byte("{}"), time.Minute)
	l.Set(ctx, "analytics:camp-1:daily", []byte("{}"), time.Minute)

	assert.Equal(t, 2, l.InvalidatePattern(ctx, "*camp-1*"))
	// Second invalidation has nothing left to match.
	assert.Equal(t, 0, l.InvalidatePattern(ctx, "*camp-1*"))
}

func TestContentCache(t *testing.T) {
	l := New(kvstore.NewMemoryStore())
	c := NewContentCache(l)
	ctx := context.Background()

	_, ok := c.GetContent(ctx, "widget", "cto", "linkedin", "formal")
	assert.False(t, ok)

	content := map[string]any{"body": "copy", "campaign_id": "camp-7"}
	c.SetContent(ctx, "widget", "cto", "linkedin", "formal", content)

	got, ok := c.GetContent(ctx, "widget", "cto", "linkedin", "formal")
	require.True(t, ok)
	assert.Equal(t, "copy", got["body"])

	c.SetAnalytics(ctx, "camp-7", map[string]any{"impressions": 120.0})
	analytics, ok := c.GetAnalytics(ctx, "camp-7")
	require.True(t, ok)
	assert.Equal(t, 120.0, analytics["impressions"])

	// Analytics keys carry the campaign ID and are pattern-invalidatable.
	assert.Equal(t, 1, c.InvalidateCampaign(ctx, "camp-7"))
	_, ok = c.GetAnalytics(ctx, "camp-7")
	assert.False(t, ok)
}
