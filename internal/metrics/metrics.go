// Package metrics defines the Prometheus instruments for request traffic,
// external calls, caching, webhook delivery, and content generation. All
// instruments register against an injected registerer so tests can isolate
// their own registries.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"copyrelay/internal/breaker"
)

const namespace = "copyrelay"

// Metrics holds every instrument the service records against.
type Metrics struct {
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	externalCalls    *prometheus.CounterVec
	externalErrors   *prometheus.CounterVec
	externalDuration *prometheus.HistogramVec

	cacheHits   prometheus.Counter
	cacheMisses prometheus.Counter
	cacheErrors prometheus.Counter

	webhookPending prometheus.Gauge
	webhookDead    prometheus.Gauge

	breakerState *prometheus.GaugeVec

	generations      *prometheus.CounterVec
	generationTokens *prometheus.CounterVec
	generationCost   prometheus.Counter
}

// New constructs and registers all instruments. A nil registerer falls back
// to the default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "HTTP requests by method, route, and status class.",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request latency by route.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		externalCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "external",
				Name:      "calls_total",
				Help:      "Outbound calls by target service.",
			},
			[]string{"service"},
		),
		externalErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "external",
				Name:      "errors_total",
				Help:      "Failed outbound calls by target service and error type.",
			},
			[]string{"service", "error_type"},
		),
		externalDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "external",
				Name:      "call_duration_seconds",
				Help:      "Outbound call latency by target service.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"service"},
		),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Cache reads that found a fresh entry.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Cache reads that fell through to the origin.",
		}),
		cacheErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "errors_total",
			Help:      "Cache operations that failed open.",
		}),
		webhookPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "pending_deliveries",
			Help:      "Webhooks waiting in the retry queue.",
		}),
		webhookDead: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "dead_letters",
			Help:      "Webhooks that exhausted their retry budget.",
		}),
		breakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "breaker",
				Name:      "state",
				Help:      "Circuit breaker state (0 closed, 1 half-open, 2 open).",
			},
			[]string{"name"},
		),
		generations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "generation",
				Name:      "requests_total",
				Help:      "Content generation requests by model and outcome.",
			},
			[]string{"model", "outcome"},
		),
		generationTokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "generation",
				Name:      "tokens_total",
				Help:      "Tokens consumed by model and direction.",
			},
			[]string{"model", "direction"},
		),
		generationCost: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "generation",
			Name:      "cost_usd_total",
			Help:      "Estimated generation spend in USD.",
		}),
	}

	reg.MustRegister(
		m.httpRequests, m.httpDuration,
		m.externalCalls, m.externalErrors, m.externalDuration,
		m.cacheHits, m.cacheMisses, m.cacheErrors,
		m.webhookPending, m.webhookDead,
		m.breakerState,
		m.generations, m.generationTokens, m.generationCost,
	)
	return m
}

// ObserveRequest records one completed HTTP request.
func (m *Metrics) ObserveRequest(method, route, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, status).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// ObserveExternalCall records one outbound call attempt.
func (m *Metrics) ObserveExternalCall(service string, elapsed time.Duration, errType string) {
	if m == nil {
		return
	}
	m.externalCalls.WithLabelValues(service).Inc()
	m.externalDuration.WithLabelValues(service).Observe(elapsed.Seconds())
	if errType != "" {
		m.externalErrors.WithLabelValues(service, errType).Inc()
	}
}

func (m *Metrics) CacheHit()   { m.inc(m.cacheHits) }
func (m *Metrics) CacheMiss()  { m.inc(m.cacheMisses) }
func (m *Metrics) CacheError() { m.inc(m.cacheErrors) }

func (m *Metrics) inc(c prometheus.Counter) {
	if m == nil {
		return
	}
	c.Inc()
}

// SetWebhookQueueDepth publishes the current delivery backlog.
func (m *Metrics) SetWebhookQueueDepth(pending, dead int) {
	if m == nil {
		return
	}
	m.webhookPending.Set(float64(pending))
	m.webhookDead.Set(float64(dead))
}

// SetBreakerStates publishes each breaker's state as a gauge level.
func (m *Metrics) SetBreakerStates(snapshots []breaker.Snapshot) {
	if m == nil {
		return
	}
	for _, s := range snapshots {
		var level float64
		switch s.State {
		case breaker.StateHalfOpen:
			level = 1
		case breaker.StateOpen:
			level = 2
		}
		m.breakerState.WithLabelValues(s.Name).Set(level)
	}
}

// ObserveGeneration records one content generation outcome.
func (m *Metrics) ObserveGeneration(model, outcome string, inputTokens, outputTokens int, costUSD float64) {
	if m == nil {
		return
	}
	m.generations.WithLabelValues(model, outcome).Inc()
	if inputTokens > 0 {
		m.generationTokens.WithLabelValues(model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.generationTokens.WithLabelValues(model, "output").Add(float64(outputTokens))
	}
	if costUSD > 0 {
		m.generationCost.Add(costUSD)
	}
}
