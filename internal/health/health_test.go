package health

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"copyrelay/internal/breaker"
	"copyrelay/internal/kvstore"
	"copyrelay/internal/webhook"
)

type staticCheck struct {
	name   string
	status Status
	calls  int
}

func (c *staticCheck) Name() string { return c.name }

func (c *staticCheck) Probe(ctx context.Context) Result {
	c.calls++
	return Result{Status: c.status}
}

func TestAggregatorWorstOf(t *testing.T) {
	tests := []struct {
		name     string
		statuses []Status
		want     Status
	}{
		{"all healthy", []Status{StatusHealthy, StatusHealthy}, StatusHealthy},
		{"one warning", []Status{StatusHealthy, StatusWarning}, StatusWarning},
		{"warning and unhealthy", []Status{StatusWarning, StatusUnhealthy}, StatusUnhealthy},
		{"error dominates", []Status{StatusUnhealthy, StatusError}, StatusError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checks := make([]Check, len(tt.statuses))
			for i, s := range tt.statuses {
				checks[i] = &staticCheck{name: string(rune('a' + i)), status: s}
			}
			agg := NewAggregator(AggregatorConfig{}, checks...)
			report := agg.Report(context.Background())
			assert.Equal(t, tt.want, report.Status)
			assert.Len(t, report.Checks, len(tt.statuses))
		})
	}
}

func TestAggregatorCachesReports(t *testing.T) {
	check := &staticCheck{name: "dep", status: StatusHealthy}
	agg := NewAggregator(AggregatorConfig{CacheTTL: 30 * time.Second}, check)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	agg.now = func() time.Time { return now }

	agg.Report(context.Background())
	agg.Report(context.Background())
	assert.Equal(t, 1, check.calls)

	t.Run("refreshes after TTL", func(t *testing.T) {
		now = now.Add(31 * time.Second)
		agg.Report(context.Background())
		assert.Equal(t, 2, check.calls)
	})
}

func TestAggregatorRecoversProbePanic(t *testing.T) {
	panicky := CheckFunc{
		CheckName: "flaky",
		Fn: func(ctx context.Context) Result {
			panic("probe blew up")
		},
	}
	agg := NewAggregator(AggregatorConfig{}, panicky)

	report := agg.Report(context.Background())
	require.Contains(t, report.Checks, "flaky")
	assert.Equal(t, StatusError, report.Checks["flaky"].Status)
	assert.Contains(t, report.Checks["flaky"].Error, "probe blew up")
}

func TestStoreCheck(t *testing.T) {
	t.Run("round trip healthy", func(t *testing.T) {
		res := StoreCheck{Store: kvstore.NewMemoryStore()}.Probe(context.Background())
		assert.Equal(t, StatusHealthy, res.Status)
	})

	t.Run("nil store warns", func(t *testing.T) {
		res := StoreCheck{}.Probe(context.Background())
		assert.Equal(t, StatusWarning, res.Status)
	})
}

func TestWebhookQueueCheckThresholds(t *testing.T) {
	t.Run("empty queue healthy", func(t *testing.T) {
		d := webhook.NewDispatcher(webhook.DispatcherConfig{Secret: "s"})
		res := WebhookQueueCheck{Dispatcher: d}.Probe(context.Background())
		assert.Equal(t, StatusHealthy, res.Status)
	})

	t.Run("nil dispatcher warns", func(t *testing.T) {
		res := WebhookQueueCheck{}.Probe(context.Background())
		assert.Equal(t, StatusWarning, res.Status)
	})
}

func TestBreakerCheck(t *testing.T) {
	reg := breaker.NewRegistry(2, time.Minute)
	ctx := context.Background()

	res := BreakerCheck{Registry: reg}.Probe(ctx)
	assert.Equal(t, StatusHealthy, res.Status)

	t.Run("open breaker degrades to warning", func(t *testing.T) {
		fail := func(ctx context.Context) error { return assert.AnError }
		reg.Do(ctx, "model_provider", fail)
		reg.Do(ctx, "model_provider", fail)

		res := BreakerCheck{Registry: reg}.Probe(ctx)
		assert.Equal(t, StatusWarning, res.Status)
	})
}

func TestSummaryShape(t *testing.T) {
	agg := NewAggregator(AggregatorConfig{}, &staticCheck{name: "dep", status: StatusWarning})

	summary := agg.Summary(context.Background())
	assert.Equal(t, StatusWarning, summary["status"])

	checks, ok := summary["checks"].(map[string]Status)
	require.True(t, ok)
	assert.Equal(t, StatusWarning, checks["dep"])
}
