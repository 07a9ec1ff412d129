package health

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"copyrelay/internal/breaker"
	"copyrelay/internal/cache"
	"copyrelay/internal/core"
	"copyrelay/internal/kvstore"
	"copyrelay/internal/webhook"
)

// Queue-depth thresholds for the webhook delivery backlog.
const (
	webhookWarningDepth   = 10
	webhookUnhealthyDepth = 100
)

// StoreCheck probes the key-value store with a full write/read/delete round
// trip and reports cache effectiveness alongside.
type StoreCheck struct {
	Store kvstore.Store
	Cache *cache.Layer
}

func (c StoreCheck) Name() string { return "kvstore" }

func (c StoreCheck) Probe(ctx context.Context) Result {
	if c.Store == nil {
		return Result{Status: StatusWarning, Error: "store not configured"}
	}

	start := time.Now()
	key := fmt.Sprintf("health:probe:%d", start.UnixNano())

	if err := c.Store.Set(ctx, key, "ok", 10*time.Second); err != nil {
		return Result{Status: StatusUnhealthy, Error: fmt.Sprintf("set failed: %v", err)}
	}
	val, err := c.Store.Get(ctx, key)
	if err != nil {
		return Result{Status: StatusUnhealthy, Error: fmt.Sprintf("get failed: %v", err)}
	}
	if val != "ok" {
		return Result{Status: StatusUnhealthy, Error: "round trip returned wrong value"}
	}
	if _, err := c.Store.Delete(ctx, key); err != nil {
		return Result{Status: StatusUnhealthy, Error: fmt.Sprintf("delete failed: %v", err)}
	}

	res := Result{
		Status:    StatusHealthy,
		LatencyMS: float64(time.Since(start).Microseconds()) / 1000,
	}
	if c.Cache != nil {
		stats := c.Cache.Stats()
		res.Detail = map[string]any{
			"cache_hit_rate": stats.HitRate,
			"cache_errors":   stats.Errors,
		}
	}
	return res
}

// DatabaseCheck pings the Postgres pool and reports connection utilization.
type DatabaseCheck struct {
	Pool *pgxpool.Pool
}

func (c DatabaseCheck) Name() string { return "database" }

func (c DatabaseCheck) Probe(ctx context.Context) Result {
	if c.Pool == nil {
		return Result{Status: StatusWarning, Error: "database not configured"}
	}

	start := time.Now()
	if err := c.Pool.Ping(ctx); err != nil {
		return Result{Status: StatusUnhealthy, Error: fmt.Sprintf("ping failed: %v", err)}
	}

	stat := c.Pool.Stat()
	return Result{
		Status:    StatusHealthy,
		LatencyMS: float64(time.Since(start).Microseconds()) / 1000,
		Detail: map[string]any{
			"total_conns":    stat.TotalConns(),
			"idle_conns":     stat.IdleConns(),
			"acquired_conns": stat.AcquiredConns(),
			"max_conns":      stat.MaxConns(),
		},
	}
}

// GeneratorCheck reports whether the model provider is configured. It does
// not make a billable API call.
type GeneratorCheck struct {
	Generator core.Generator
}

func (c GeneratorCheck) Name() string { return "model_provider" }

func (c GeneratorCheck) Probe(ctx context.Context) Result {
	if c.Generator == nil || !c.Generator.Available() {
		return Result{Status: StatusWarning, Error: "model provider not configured"}
	}
	return Result{Status: StatusHealthy}
}

// WebhookQueueCheck turns delivery backlog depth into a status: a growing
// pending queue means destinations are failing faster than we can retry.
type WebhookQueueCheck struct {
	Dispatcher *webhook.Dispatcher
}

func (c WebhookQueueCheck) Name() string { return "webhook_queue" }

func (c WebhookQueueCheck) Probe(ctx context.Context) Result {
	if c.Dispatcher == nil {
		return Result{Status: StatusWarning, Error: "dispatcher not configured"}
	}

	stats := c.Dispatcher.Stats()
	status := StatusHealthy
	switch {
	case stats.PendingCount > webhookUnhealthyDepth:
		status = StatusUnhealthy
	case stats.PendingCount > webhookWarningDepth:
		status = StatusWarning
	}

	return Result{
		Status: status,
		Detail: map[string]any{
			"pending": stats.PendingCount,
			"dead":    stats.DeadCount,
		},
	}
}

// BreakerCheck reports warning while any circuit breaker is open, since the
// service is degraded but still serving.
type BreakerCheck struct {
	Registry *breaker.Registry
}

func (c BreakerCheck) Name() string { return "circuit_breakers" }

func (c BreakerCheck) Probe(ctx context.Context) Result {
	if c.Registry == nil {
		return Result{Status: StatusWarning, Error: "registry not configured"}
	}

	states := make(map[string]any)
	status := StatusHealthy
	for _, snap := range c.Registry.Snapshots() {
		states[snap.Name] = snap.State
		if snap.State == breaker.StateOpen {
			status = StatusWarning
		}
	}

	return Result{Status: status, Detail: map[string]any{"breakers": states}}
}

// CheckFunc adapts a plain function into a Check, for one-off probes such
// as platform reachability.
type CheckFunc struct {
	CheckName string
	Fn        func(ctx context.Context) Result
}

func (c CheckFunc) Name() string { return c.CheckName }

func (c CheckFunc) Probe(ctx context.Context) Result { return c.Fn(ctx) }
