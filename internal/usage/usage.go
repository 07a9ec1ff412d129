// Package usage provides request/token/cost metering per caller and quota
// enforcement against daily and monthly ceilings.
//
// Counters live in the key-value store under per-day and per-month hash keys
// with their own expiry, so old buckets self-purge. A process-local aggregate
// is kept alongside for observability; it survives store outages but not
// restarts. Enforcement is a soft limit: the check-then-increment sequence is
// not atomic against the store, and transient over-admission right at a
// ceiling is accepted.
package usage

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"copyrelay/internal/kvstore"
)

const (
	dailyRetention   = 7 * 24 * time.Hour
	monthlyRetention = 35 * 24 * time.Hour
)

// Limits holds the six usage ceilings.
type Limits struct {
	DailyRequests   int64   `json:"daily_requests"`
	DailyTokens     int64   `json:"daily_tokens"`
	DailyCostUSD    float64 `json:"daily_cost_usd"`
	MonthlyRequests int64   `json:"monthly_requests"`
	MonthlyTokens   int64   `json:"monthly_tokens"`
	MonthlyCostUSD  float64 `json:"monthly_cost_usd"`
}

// DefaultLimits returns the stock ceilings.
func DefaultLimits() Limits {
	return Limits{
		DailyRequests:   1000,
		DailyTokens:     1_000_000,
		DailyCostUSD:    50.0,
		MonthlyRequests: 30_000,
		MonthlyTokens:   30_000_000,
		MonthlyCostUSD:  1000.0,
	}
}

// PeriodUsage is the recorded usage for one time bucket.
type PeriodUsage struct {
	Requests int64   `json:"requests"`
	Tokens   int64   `json:"tokens"`
	Cost     float64 `json:"cost"`
}

// PeriodStatus pairs current usage with its limits so a caller can render a
// quota dashboard without a second query.
type PeriodStatus struct {
	RequestsUsed  int64   `json:"requests_used"`
	RequestsLimit int64   `json:"requests_limit"`
	TokensUsed    int64   `json:"tokens_used"`
	TokensLimit   int64   `json:"tokens_limit"`
	CostUsed      float64 `json:"cost_used"`
	CostLimit     float64 `json:"cost_limit"`
}

// Decision is the outcome of a quota check. Exceeded names every ceiling
// that failed; it is empty when Allowed.
type Decision struct {
	Allowed  bool         `json:"allowed"`
	Exceeded []string     `json:"exceeded"`
	Daily    PeriodStatus `json:"daily"`
	Monthly  PeriodStatus `json:"monthly"`
}

// localAggregate is the in-memory per-caller tally.
type localAggregate struct {
	Requests int64   `json:"requests"`
	Tokens   int64   `json:"tokens"`
	Cost     float64 `json:"cost"`
	Errors   int64   `json:"errors"`
}

// Tracker meters usage and answers quota decisions. Construct one per
// process and inject it; it owns no background goroutines.
type Tracker struct {
	store   kvstore.Store
	limits  Limits
	pricing *PricingTable

	mu    sync.Mutex
	local map[string]*localAggregate

	now func() time.Time
}

// NewTracker creates a tracker over store with the given limits. A nil store
// degrades to local-only tracking with fail-open enforcement.
func NewTracker(store kvstore.Store, limits Limits, pricing *PricingTable) *Tracker {
	if pricing == nil {
		pricing = DefaultPricing()
	}
	return &Tracker{
		store:   store,
		limits:  limits,
		pricing: pricing,
		local:   make(map[string]*localAggregate),
		now:     time.Now,
	}
}

func dayKey(caller string, t time.Time) string {
	return fmt.Sprintf("usage:daily:%s:%s", caller, t.UTC().Format("2006-01-02"))
}

func monthKey(caller string, t time.Time) string {
	return fmt.Sprintf("usage:monthly:%s:%s", caller, t.UTC().Format("2006-01"))
}

func serviceKey(service string, t time.Time) string {
	return fmt.Sprintf("usage:service:%s:%s", service, t.UTC().Format("2006-01-02"))
}

// Track unconditionally records one request into the in-memory aggregate and
// the durable store. Store failures are swallowed and logged; metering is a
// best-effort adjunct to the primary operation.
func (t *Tracker) Track(ctx context.Context, callerID, service, endpoint string, tokensUsed int64, cost float64, success bool) {
	t.mu.Lock()
	agg, ok := t.local[callerID]
	if !ok {
		agg = &localAggregate{}
		t.local[callerID] = agg
	}
	agg.Requests++
	agg.Tokens += tokensUsed
	agg.Cost += cost
	if !success {
		agg.Errors++
	}
	t.mu.Unlock()

	if t.store != nil {
		now := t.now()
		err := t.store.Pipelined(ctx, func(p kvstore.Pipeliner) {
			day := dayKey(callerID, now)
			p.HIncrBy(day, "requests", 1)
			p.HIncrBy(day, "tokens", tokensUsed)
			p.HIncrByFloat(day, "cost", cost)
			p.Expire(day, dailyRetention)

			month := monthKey(callerID, now)
			p.HIncrBy(month, "requests", 1)
			p.HIncrBy(month, "tokens", tokensUsed)
			p.HIncrByFloat(month, "cost", cost)
			p.Expire(month, monthlyRetention)

			svc := serviceKey(service, now)
			p.HIncrBy(svc, endpoint, 1)
			p.Expire(svc, dailyRetention)
		})
		if err != nil {
			slog.Warn("usage store write failed", "caller", redactCaller(callerID), "error", err)
		}
	}

	slog.Info("usage tracked",
		"caller", redactCaller(callerID),
		"service", service,
		"endpoint", endpoint,
		"tokens", tokensUsed,
		"cost", cost,
		"success", success,
	)
}

// CheckLimits evaluates current daily and monthly usage against all six
// ceilings. The store being unreachable reads as zero usage: enforcement
// fails open, consistent with the rate limiter.
func (t *Tracker) CheckLimits(ctx context.Context, callerID string, tokensRequested int64) Decision {
	now := t.now()
	daily := t.readBucket(ctx, dayKey(callerID, now))
	monthly := t.readBucket(ctx, monthKey(callerID, now))

	d := Decision{
		Daily: PeriodStatus{
			RequestsUsed:  daily.Requests,
			RequestsLimit: t.limits.DailyRequests,
			TokensUsed:    daily.Tokens,
			TokensLimit:   t.limits.DailyTokens,
			CostUsed:      daily.Cost,
			CostLimit:     t.limits.DailyCostUSD,
		},
		Monthly: PeriodStatus{
			RequestsUsed:  monthly.Requests,
			RequestsLimit: t.limits.MonthlyRequests,
			TokensUsed:    monthly.Tokens,
			TokensLimit:   t.limits.MonthlyTokens,
			CostUsed:      monthly.Cost,
			CostLimit:     t.limits.MonthlyCostUSD,
		},
	}

	if daily.Requests >= t.limits.DailyRequests {
		d.Exceeded = append(d.Exceeded, "daily_requests")
	}
	if daily.Tokens+tokensRequested >= t.limits.DailyTokens {
		d.Exceeded = append(d.Exceeded, "daily_tokens")
	}
	if daily.Cost >= t.limits.DailyCostUSD {
		d.Exceeded = append(d.Exceeded, "daily_cost")
	}
	if monthly.Requests >= t.limits.MonthlyRequests {
		d.Exceeded = append(d.Exceeded, "monthly_requests")
	}
	if monthly.Tokens+tokensRequested >= t.limits.MonthlyTokens {
		d.Exceeded = append(d.Exceeded, "monthly_tokens")
	}
	if monthly.Cost >= t.limits.MonthlyCostUSD {
		d.Exceeded = append(d.Exceeded, "monthly_cost")
	}

	d.Allowed = len(d.Exceeded) == 0
	if !d.Allowed {
		slog.Warn("usage limit exceeded",
			"caller", redactCaller(callerID),
			"exceeded", d.Exceeded,
		)
	}
	return d
}

// readBucket loads one usage hash, returning zeros when the key is missing
// or the store is unreachable.
func (t *Tracker) readBucket(ctx context.Context, key string) PeriodUsage {
	if t.store == nil {
		return PeriodUsage{}
	}

	data, err := t.store.HGetAll(ctx, key)
	if err != nil {
		slog.Warn("usage store read failed, assuming zero usage", "key", key, "error", err)
		return PeriodUsage{}
	}

	var u PeriodUsage
	u.Requests, _ = strconv.ParseInt(data["requests"], 10, 64)
	u.Tokens, _ = strconv.ParseInt(data["tokens"], 10, 64)
	u.Cost, _ = strconv.ParseFloat(data["cost"], 64)
	return u
}

// LocalAggregate returns a copy of the process-local tally for callerID.
func (t *Tracker) LocalAggregate(callerID string) PeriodUsage {
	t.mu.Lock()
	defer t.mu.Unlock()

	agg, ok := t.local[callerID]
	if !ok {
		return PeriodUsage{}
	}
	return PeriodUsage{Requests: agg.Requests, Tokens: agg.Tokens, Cost: agg.Cost}
}

// Limits returns the configured ceilings.
func (t *Tracker) Limits() Limits {
	return t.limits
}

// redactCaller keeps only a key prefix in logs.
func redactCaller(callerID string) string {
	if len(callerID) <= 8 {
		return callerID
	}
	return callerID[:8] + "..."
}
