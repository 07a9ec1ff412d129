// Package server provides the HTTP surface: routing, authentication, and
// handlers over the governance components.
package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"copyrelay/internal/metrics"
)

// DefaultBodySizeLimit caps request bodies at 1MB; generation prompts are
// far smaller.
const DefaultBodySizeLimit int64 = 1 << 20

// Config holds server-level options.
type Config struct {
	// APIKey authenticates callers. Empty disables authentication.
	APIKey string

	// APIKeyHeader is the header carrying the key (default X-API-Key).
	APIKeyHeader string

	BodySizeLimit int64
}

// Server wraps the Echo server.
type Server struct {
	echo    *echo.Echo
	handler *Handler
}

// New assembles the middleware stack and routes.
func New(h *Handler, cfg Config) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	if cfg.APIKeyHeader == "" {
		cfg.APIKeyHeader = "X-API-Key"
	}
	bodyLimit := cfg.BodySizeLimit
	if bodyLimit <= 0 {
		bodyLimit = DefaultBodySizeLimit
	}

	e.Use(middleware.Recover())
	e.Use(requestMetrics(h.metrics))
	e.Use(middleware.BodyLimit(strconv.FormatInt(bodyLimit, 10)))

	// Health and metrics stay reachable without a key so probes and
	// scrapers work.
	skipAuth := []string{"/health", "/health/summary", "/metrics"}
	if cfg.APIKey != "" {
		e.Use(AuthMiddleware(cfg.APIKey, cfg.APIKeyHeader, skipAuth))
	}

	e.GET("/health", h.Health)
	e.GET("/health/summary", h.HealthSummary)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	e.POST("/generate", h.Generate)

	e.POST("/webhooks/:event_type", h.ReceiveWebhook)
	e.GET("/webhooks/history", h.WebhookHistory)
	e.POST("/webhooks/outbound", h.SendWebhook)
	e.GET("/webhooks/outbound/:id/status", h.WebhookStatus)

	e.GET("/usage/estimate", h.UsageEstimate)
	e.GET("/usage/:caller", h.UsageReport)
	e.GET("/usage/:caller/limits", h.UsageLimits)
	e.GET("/analytics/service/:service", h.ServiceAnalytics)

	e.GET("/cache/stats", h.CacheStats)
	e.DELETE("/cache/campaign/:id", h.InvalidateCampaign)

	return &Server{echo: e, handler: h}
}

// Start starts the HTTP server on the given address.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// ServeHTTP implements http.Handler so the server works with httptest.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// requestMetrics records request counts and latency per route. The route
// label uses the registered path pattern, not the raw URL, to bound label
// cardinality.
func requestMetrics(m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}
			m.ObserveRequest(c.Request().Method, route, statusClass(status), time.Since(start))
			return err
		}
	}
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
