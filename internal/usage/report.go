package usage

import (
	"context"
	"strconv"
	"time"
)

// Report summarizes usage for one caller over a period.
type Report struct {
	Period    string                 `json:"period"`
	PeriodKey string                 `json:"period_key,omitempty"`
	Caller    string                 `json:"caller"`
	Usage     PeriodUsage            `json:"usage"`
	Days      map[string]PeriodUsage `json:"days,omitempty"`
	Limits    Limits                 `json:"limits"`
	Remaining *PeriodUsage           `json:"remaining,omitempty"`
}

// GetReport builds a usage report for callerID. Period is "daily", "weekly"
// (last seven daily buckets summed), or "monthly"; anything else reads as
// daily.
func (t *Tracker) GetReport(ctx context.Context, callerID, period string) Report {
	now := t.now()

	switch period {
	case "weekly":
		days := make(map[string]PeriodUsage)
		var total PeriodUsage
		for i := 0; i < 7; i++ {
			day := now.AddDate(0, 0, -i)
			u := t.readBucket(ctx, dayKey(callerID, day))
			if u != (PeriodUsage{}) {
				days[day.UTC().Format("2006-01-02")] = u
			}
			total.Requests += u.Requests
			total.Tokens += u.Tokens
			total.Cost += u.Cost
		}
		return Report{
			Period: "weekly",
			Caller: redactCaller(callerID),
			Usage:  total,
			Days:   days,
			Limits: t.limits,
		}

	case "monthly":
		u := t.readBucket(ctx, monthKey(callerID, now))
		return Report{
			Period:    "monthly",
			PeriodKey: now.UTC().Format("2006-01"),
			Caller:    redactCaller(callerID),
			Usage:     u,
			Limits:    t.limits,
			Remaining: &PeriodUsage{
				Requests: t.limits.MonthlyRequests - u.Requests,
				Tokens:   t.limits.MonthlyTokens - u.Tokens,
				Cost:     t.limits.MonthlyCostUSD - u.Cost,
			},
		}

	default:
		u := t.readBucket(ctx, dayKey(callerID, now))
		return Report{
			Period:    "daily",
			PeriodKey: now.UTC().Format("2006-01-02"),
			Caller:    redactCaller(callerID),
			Usage:     u,
			Limits:    t.limits,
			Remaining: &PeriodUsage{
				Requests: t.limits.DailyRequests - u.Requests,
				Tokens:   t.limits.DailyTokens - u.Tokens,
				Cost:     t.limits.DailyCostUSD - u.Cost,
			},
		}
	}
}

// ServiceAnalytics reports per-endpoint request counts for a service on a
// given date (defaults to today).
type ServiceAnalytics struct {
	Service       string           `json:"service"`
	Date          string           `json:"date"`
	Endpoints     map[string]int64 `json:"endpoints"`
	TotalRequests int64            `json:"total_requests"`
}

// GetServiceAnalytics loads the endpoint breakdown for one service-day.
func (t *Tracker) GetServiceAnalytics(ctx context.Context, service, date string) ServiceAnalytics {
	day := t.now()
	if date != "" {
		if parsed, err := time.Parse("2006-01-02", date); err == nil {
			day = parsed
		}
	}

	out := ServiceAnalytics{
		Service:   service,
		Date:      day.UTC().Format("2006-01-02"),
		Endpoints: make(map[string]int64),
	}

	if t.store == nil {
		return out
	}

	data, err := t.store.HGetAll(ctx, serviceKey(service, day))
	if err != nil {
		return out
	}
	for endpoint, raw := range data {
		n, _ := strconv.ParseInt(raw, 10, 64)
		out.Endpoints[endpoint] = n
		out.TotalRequests += n
	}
	return out
}
