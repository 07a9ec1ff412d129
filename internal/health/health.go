// Package health runs dependency probes concurrently and aggregates them
// into a single service status. Probe results are cached briefly so that
// load-balancer polling does not hammer the dependencies themselves.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"
)

// Status orders from best to worst; aggregation takes the worst observed.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusWarning   Status = "warning"
	StatusUnhealthy Status = "unhealthy"
	StatusError     Status = "error"
)

// severity ranks statuses for worst-of aggregation.
func severity(s Status) int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusWarning:
		return 1
	case StatusUnhealthy:
		return 2
	default:
		return 3
	}
}

// Result is one probe's outcome.
type Result struct {
	Status    Status         `json:"status"`
	LatencyMS float64        `json:"latency_ms"`
	Error     string         `json:"error,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// Check is a single dependency probe. Probes must honor ctx and return
// promptly; slow dependencies should be reported, not waited out.
type Check interface {
	Name() string
	Probe(ctx context.Context) Result
}

const (
	// DefaultCacheTTL is how long an aggregated report is served from cache.
	DefaultCacheTTL = 30 * time.Second

	// DefaultProbeTimeout bounds each individual probe.
	DefaultProbeTimeout = 5 * time.Second

	defaultMaxConcurrent = 8
)

// Report is the aggregated view over all registered checks.
type Report struct {
	Status    Status            `json:"status"`
	CheckedAt time.Time         `json:"checked_at"`
	Checks    map[string]Result `json:"checks"`
}

// AggregatorConfig configures report aggregation.
type AggregatorConfig struct {
	CacheTTL      time.Duration
	ProbeTimeout  time.Duration
	MaxConcurrent int
}

// Aggregator fans probes out over a bounded worker pool and caches the
// combined report.
type Aggregator struct {
	checks        []Check
	cacheTTL      time.Duration
	probeTimeout  time.Duration
	maxConcurrent int

	mu       sync.Mutex
	cached   *Report
	cachedAt time.Time

	now func() time.Time
}

func NewAggregator(cfg AggregatorConfig, checks ...Check) *Aggregator {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	return &Aggregator{
		checks:        checks,
		cacheTTL:      cfg.CacheTTL,
		probeTimeout:  cfg.ProbeTimeout,
		maxConcurrent: cfg.MaxConcurrent,
		now:           time.Now,
	}
}

// Report returns the aggregated status, refreshing only when the cached
// report has expired.
func (a *Aggregator) Report(ctx context.Context) Report {
	a.mu.Lock()
	if a.cached != nil && a.now().Sub(a.cachedAt) < a.cacheTTL {
		r := *a.cached
		a.mu.Unlock()
		return r
	}
	a.mu.Unlock()

	report := a.refresh(ctx)

	a.mu.Lock()
	a.cached = &report
	a.cachedAt = a.now()
	a.mu.Unlock()

	return report
}

// refresh runs every probe concurrently. A panicking probe is reported as an
// error result rather than taking the aggregator down.
func (a *Aggregator) refresh(ctx context.Context) Report {
	results := make(map[string]Result, len(a.checks))
	var mu sync.Mutex

	workers := a.maxConcurrent
	if len(a.checks) < workers {
		workers = len(a.checks)
	}
	if workers < 1 {
		workers = 1
	}

	p := pool.New().WithMaxGoroutines(workers)
	for _, c := range a.checks {
		check := c
		p.Go(func() {
			probeCtx, cancel := context.WithTimeout(ctx, a.probeTimeout)
			defer cancel()

			res := a.runProbe(probeCtx, check)

			mu.Lock()
			results[check.Name()] = res
			mu.Unlock()
		})
	}
	p.Wait()

	overall := StatusHealthy
	for _, r := range results {
		if severity(r.Status) > severity(overall) {
			overall = r.Status
		}
	}

	return Report{
		Status:    overall,
		CheckedAt: a.now(),
		Checks:    results,
	}
}

func (a *Aggregator) runProbe(ctx context.Context, check Check) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{
				Status: StatusError,
				Error:  fmt.Sprintf("probe panic: %v", r),
			}
		}
	}()

	start := time.Now()
	res = check.Probe(ctx)
	if res.LatencyMS == 0 {
		res.LatencyMS = float64(time.Since(start).Microseconds()) / 1000
	}
	return res
}

// Summary returns a compact per-check status map with the report age, for
// the lightweight monitoring endpoint.
func (a *Aggregator) Summary(ctx context.Context) map[string]any {
	report := a.Report(ctx)

	checks := make(map[string]Status, len(report.Checks))
	for name, r := range report.Checks {
		checks[name] = r.Status
	}

	return map[string]any{
		"status":     report.Status,
		"checks":     checks,
		"checked_at": report.CheckedAt,
		"age_ms":     a.now().Sub(report.CheckedAt).Milliseconds(),
	}
}
