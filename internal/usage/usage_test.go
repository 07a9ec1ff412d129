package usage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"copyrelay/internal/kvstore"
)

func newTestTracker(t *testing.T) (*Tracker, *time.Time) {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	tracker := NewTracker(kvstore.NewMemoryStoreWithClock(clock), DefaultLimits(), nil)
	tracker.now = clock
	return tracker, &now
}

func TestTrackAccumulates(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	tracker.Track(ctx, "key-1", "content_api", "/generate", 1500, 0.045, true)
	tracker.Track(ctx, "key-1", "content_api", "/generate", 500, 0.015, false)

	d := tracker.CheckLimits(ctx, "key-1", 0)
	assert.True(t, d.Allowed)
	assert.Equal(t, int64(2), d.Daily.RequestsUsed)
	assert.Equal(t, int64(2000), d.Daily.TokensUsed)
	assert.InDelta(t, 0.06, d.Daily.CostUsed, 1e-9)
	assert.Equal(t, int64(2), d.Monthly.RequestsUsed)

	local := tracker.LocalAggregate("key-1")
	assert.Equal(t, int64(2), local.Requests)
	assert.Equal(t, int64(2000), local.Tokens)
}

func TestCheckLimitsDailyRequests(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	limits := DefaultLimits()
	for i := int64(0); i < limits.DailyRequests; i++ {
		tracker.Track(ctx, "heavy-caller", "content_api", "/generate", 0, 0, true)
	}

	d := tracker.CheckLimits(ctx, "heavy-caller", 0)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Exceeded, "daily_requests")

	// A different caller's counters are untouched.
	tracker.Track(ctx, "light-caller", "content_api", "/generate", 0, 0, true)
	d = tracker.CheckLimits(ctx, "heavy-caller", 0)
	assert.False(t, d.Allowed)

	other := tracker.CheckLimits(ctx, "light-caller", 0)
	assert.True(t, other.Allowed)
	assert.Equal(t, int64(1), other.Daily.RequestsUsed)
}

func TestCheckLimitsTokenHeadroom(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	tracker.Track(ctx, "key-1", "content_api", "/generate", DefaultLimits().DailyTokens-100, 0, true)

	d := tracker.CheckLimits(ctx, "key-1", 50)
	assert.True(t, d.Allowed)

	d = tracker.CheckLimits(ctx, "key-1", 200)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Exceeded, "daily_tokens")
	// Monthly token ceiling is far larger and unaffected.
	assert.NotContains(t, d.Exceeded, "monthly_tokens")
}

func TestBucketExpiryResetsCounters(t *testing.T) {
	tracker, now := newTestTracker(t)
	ctx := context.Background()

	tracker.Track(ctx, "key-1", "content_api", "/generate", 100, 0.01, true)
	require.Equal(t, int64(1), tracker.CheckLimits(ctx, "key-1", 0).Daily.RequestsUsed)

	// Next day: the daily bucket key changes, monthly persists.
	*now = now.AddDate(0, 0, 1)
	d := tracker.CheckLimits(ctx, "key-1", 0)
	assert.Equal(t, int64(0), d.Daily.RequestsUsed)
	assert.Equal(t, int64(1), d.Monthly.RequestsUsed)
}

func TestFailOpenWhenStoreUnavailable(t *testing.T) {
	tracker := NewTracker(nil, DefaultLimits(), nil)
	ctx := context.Background()

	// Tracking still updates the local aggregate.
	tracker.Track(ctx, "key-1", "content_api", "/generate", 100, 0.01, true)
	assert.Equal(t, int64(1), tracker.LocalAggregate("key-1").Requests)

	// Enforcement reads zero usage and allows.
	d := tracker.CheckLimits(ctx, "key-1", 100)
	assert.True(t, d.Allowed)
	assert.Equal(t, int64(0), d.Daily.RequestsUsed)
}

func TestCalculateCost(t *testing.T) {
	tracker := NewTracker(nil, DefaultLimits(), nil)

	// gpt-4-turbo-preview: 0.01/1k input, 0.03/1k output
	cost := tracker.CalculateCost("gpt-4-turbo-preview", 1000, 1000)
	assert.InDelta(t, 0.04, cost, 1e-9)

	cost = tracker.CalculateCost("gpt-3.5-turbo", 2000, 1000)
	assert.InDelta(t, 0.0025, cost, 1e-9)

	// Unknown models price at the default rate, never zero.
	cost = tracker.CalculateCost("mystery-model", 1000, 0)
	assert.Greater(t, cost, 0.0)
}

func TestEstimateContentCost(t *testing.T) {
	tracker := NewTracker(nil, DefaultLimits(), nil)

	est := tracker.EstimateContentCost("gpt-4-turbo-preview", []string{"meta", "linkedin"}, "medium")
	assert.Equal(t, int64(2000), est.EstimatedTokens)
	assert.Equal(t, 2, est.Platforms)
	assert.InDelta(t, 0.04, est.EstimatedCostUSD, 1e-4)

	est = tracker.EstimateContentCost("gpt-4-turbo-preview", []string{"meta"}, "unknown-length")
	assert.Equal(t, "medium", est.ContentLength)
}

func TestGetReport(t *testing.T) {
	tracker, now := newTestTracker(t)
	ctx := context.Background()

	tracker.Track(ctx, "key-1", "content_api", "/generate", 100, 0.01, true)
	*now = now.AddDate(0, 0, 1)
	tracker.Track(ctx, "key-1", "content_api", "/generate", 200, 0.02, true)

	daily := tracker.GetReport(ctx, "key-1", "daily")
	assert.Equal(t, int64(1), daily.Usage.Requests)
	require.NotNil(t, daily.Remaining)
	assert.Equal(t, DefaultLimits().DailyRequests-1, daily.Remaining.Requests)

	weekly := tracker.GetReport(ctx, "key-1", "weekly")
	assert.Equal(t, int64(2), weekly.Usage.Requests)
	assert.Len(t, weekly.Days, 2)

	monthly := tracker.GetReport(ctx, "key-1", "monthly")
	assert.Equal(t, int64(2), monthly.Usage.Requests)
}

func TestServiceAnalytics(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	tracker.Track(ctx, "key-1", "content_api", "/generate", 0, 0, true)
	tracker.Track(ctx, "key-2", "content_api", "/generate", 0, 0, true)
	tracker.Track(ctx, "key-1", "content_api", "/preview", 0, 0, true)

	analytics := tracker.GetServiceAnalytics(ctx, "content_api", "")
	assert.Equal(t, int64(3), analytics.TotalRequests)
	assert.Equal(t, int64(2), analytics.Endpoints["/generate"])
	assert.Equal(t, int64(1), analytics.Endpoints["/preview"])
}

func TestLoadPricing(t *testing.T) {
	path := t.TempDir() + "/pricing.yaml"
	yamlBody := `
models:
  custom-model:
    input_per_1k: 0.002
    output_per_1k: 0.006
default:
  input_per_1k: 0.01
  output_per_1k: 0.03
`
	require.NoError(t, writeFile(path, yamlBody))

	table, err := LoadPricing(path)
	require.NoError(t, err)

	tracker := NewTracker(nil, DefaultLimits(), table)
	assert.InDelta(t, 0.008, tracker.CalculateCost("custom-model", 1000, 1000), 1e-9)
	assert.InDelta(t, 0.04, tracker.CalculateCost("other", 1000, 1000), 1e-9)
}

func writeFile(path, body string) error {
	return os.WriteFile(path, []byte(body), 0o644)
}
