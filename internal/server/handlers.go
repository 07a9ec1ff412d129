package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"copyrelay/internal/breaker"
	"copyrelay/internal/cache"
	"copyrelay/internal/core"
	"copyrelay/internal/health"
	"copyrelay/internal/metrics"
	"copyrelay/internal/ratelimit"
	"copyrelay/internal/retry"
	"copyrelay/internal/usage"
	"copyrelay/internal/webhook"
)

// Handler holds every collaborator the HTTP surface exposes.
type Handler struct {
	generator  core.Generator
	publishers map[string]core.Publisher

	cache   *cache.Layer
	content *cache.ContentCache

	limiter            *ratelimit.Limiter
	ratePerMin         int
	tracker            *usage.Tracker
	breakers           *breaker.Registry
	dispatcher         *webhook.Dispatcher
	receiver           *webhook.Receiver
	health             *health.Aggregator
	metrics            *metrics.Metrics
	genPolicy          retry.Policy
	defaultModel       string
	maxPromptLen       int
	cacheTTL           time.Duration
	defaultMaxTokens   int
	defaultTemperature float64
}

// HandlerConfig wires the handler's collaborators.
type HandlerConfig struct {
	Generator  core.Generator
	Publishers map[string]core.Publisher

	Cache        *cache.Layer
	ContentCache *cache.ContentCache

	Limiter      *ratelimit.Limiter
	RatePerMin   int
	Tracker      *usage.Tracker
	Breakers     *breaker.Registry
	Dispatcher   *webhook.Dispatcher
	Receiver     *webhook.Receiver
	Health       *health.Aggregator
	Metrics      *metrics.Metrics
	DefaultModel string
	MaxPromptLen int

	// CacheTTL bounds cached generation results (default one hour).
	CacheTTL time.Duration

	// DefaultMaxTokens and DefaultTemperature apply when a request leaves
	// them unset.
	DefaultMaxTokens   int
	DefaultTemperature float64

	// GeneratePolicy overrides the model-provider retry policy (tests).
	GeneratePolicy retry.Policy
}

func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.RatePerMin <= 0 {
		cfg.RatePerMin = 60
	}
	if cfg.MaxPromptLen <= 0 {
		cfg.MaxPromptLen = 4000
	}
	if cfg.GeneratePolicy.MaxAttempts == 0 {
		cfg.GeneratePolicy = retry.ModelProvider
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	if cfg.DefaultMaxTokens <= 0 {
		cfg.DefaultMaxTokens = 2000
	}
	return &Handler{
		generator:          cfg.Generator,
		publishers:         cfg.Publishers,
		cache:              cfg.Cache,
		content:            cfg.ContentCache,
		limiter:            cfg.Limiter,
		ratePerMin:         cfg.RatePerMin,
		tracker:            cfg.Tracker,
		breakers:           cfg.Breakers,
		dispatcher:         cfg.Dispatcher,
		receiver:           cfg.Receiver,
		health:             cfg.Health,
		metrics:            cfg.Metrics,
		genPolicy:          cfg.GeneratePolicy,
		defaultModel:       cfg.DefaultModel,
		maxPromptLen:       cfg.MaxPromptLen,
		cacheTTL:           cfg.CacheTTL,
		defaultMaxTokens:   cfg.DefaultMaxTokens,
		defaultTemperature: cfg.DefaultTemperature,
	}
}

// Health handles GET /health.
func (h *Handler) Health(c echo.Context) error {
	report := h.health.Report(c.Request().Context())

	code := http.StatusOK
	if report.Status == health.StatusUnhealthy || report.Status == health.StatusError {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, report)
}

// HealthSummary handles GET /health/summary.
func (h *Handler) HealthSummary(c echo.Context) error {
	return c.JSON(http.StatusOK, h.health.Summary(c.Request().Context()))
}

// ReceiveWebhook handles POST /webhooks/:event_type.
func (h *Handler) ReceiveWebhook(c echo.Context) error {
	eventType := c.Param("event_type")

	rawBody, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return handleError(c, core.NewInvalidRequestError("unreadable request body", err))
	}

	data := map[string]any{}
	if len(rawBody) > 0 {
		if err := json.Unmarshal(rawBody, &data); err != nil {
			return handleError(c, core.NewInvalidRequestError("request body is not valid JSON", err))
		}
	}

	signature := c.Request().Header.Get("X-Webhook-Signature")
	result, err := h.receiver.Process(c.Request().Context(), eventType, rawBody, signature, data)
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// WebhookHistory handles GET /webhooks/history.
func (h *Handler) WebhookHistory(c echo.Context) error {
	limit := 50
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	entries := h.receiver.History(c.QueryParam("event_type"), limit)
	return c.JSON(http.StatusOK, map[string]any{
		"count":   len(entries),
		"history": entries,
	})
}

type sendWebhookRequest struct {
	URL        string         `json:"url"`
	EventType  string         `json:"event_type"`
	Data       map[string]any `json:"data"`
	CampaignID string         `json:"campaign_id"`
}

// SendWebhook handles POST /webhooks/outbound.
func (h *Handler) SendWebhook(c echo.Context) error {
	var req sendWebhookRequest
	if err := c.Bind(&req); err != nil {
		return handleError(c, core.NewInvalidRequestError("invalid request body", err))
	}
	if req.URL == "" || req.EventType == "" {
		return handleError(c, core.NewInvalidRequestError("url and event_type are required", nil))
	}

	result := h.dispatcher.Send(c.Request().Context(), req.URL, req.EventType, req.Data, req.CampaignID)

	code := http.StatusOK
	if result.Status != "delivered" {
		code = http.StatusAccepted
	}
	return c.JSON(code, result)
}

// WebhookStatus handles GET /webhooks/outbound/:id/status.
func (h *Handler) WebhookStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, h.dispatcher.Status(c.Param("id")))
}

// UsageReport handles GET /usage/:caller.
func (h *Handler) UsageReport(c echo.Context) error {
	period := c.QueryParam("period")
	if period == "" {
		period = "daily"
	}
	report := h.tracker.GetReport(c.Request().Context(), c.Param("caller"), period)
	return c.JSON(http.StatusOK, report)
}

// UsageEstimate handles GET /usage/estimate: pre-flight cost estimation
// before committing to a generation.
func (h *Handler) UsageEstimate(c echo.Context) error {
	model := c.QueryParam("model")
	if model == "" {
		model = h.defaultModel
	}

	var platforms []string
	for _, p := range strings.Split(c.QueryParam("platforms"), ",") {
		if p = strings.TrimSpace(p); p != "" {
			platforms = append(platforms, p)
		}
	}
	if len(platforms) == 0 {
		return handleError(c, core.NewInvalidRequestError("platforms query parameter is required", nil))
	}

	est := h.tracker.EstimateContentCost(model, platforms, c.QueryParam("length"))
	return c.JSON(http.StatusOK, est)
}

// ServiceAnalytics handles GET /analytics/service/:service.
func (h *Handler) ServiceAnalytics(c echo.Context) error {
	analytics := h.tracker.GetServiceAnalytics(c.Request().Context(), c.Param("service"), c.QueryParam("date"))
	return c.JSON(http.StatusOK, analytics)
}

// UsageLimits handles GET /usage/:caller/limits.
func (h *Handler) UsageLimits(c echo.Context) error {
	decision := h.tracker.CheckLimits(c.Request().Context(), c.Param("caller"), 0)
	return c.JSON(http.StatusOK, decision)
}

// CacheStats handles GET /cache/stats.
func (h *Handler) CacheStats(c echo.Context) error {
	return c.JSON(http.StatusOK, h.cache.Stats())
}

// InvalidateCampaign handles DELETE /cache/campaign/:id.
func (h *Handler) InvalidateCampaign(c echo.Context) error {
	dropped := h.content.InvalidateCampaign(c.Request().Context(), c.Param("id"))
	return c.JSON(http.StatusOK, map[string]any{
		"campaign_id":     c.Param("id"),
		"entries_dropped": dropped,
	})
}

// handleError converts classified errors to HTTP responses.
func handleError(c echo.Context, err error) error {
	if errors.Is(err, breaker.ErrOpen) {
		return c.JSON(http.StatusServiceUnavailable, map[string]any{
			"error": map[string]any{
				"type":    "service_unavailable_error",
				"message": "service temporarily unavailable, please retry later",
			},
		})
	}

	var svcErr *core.ServiceError
	if errors.As(err, &svcErr) {
		return c.JSON(svcErr.HTTPStatusCode(), svcErr.ToJSON())
	}

	return c.JSON(http.StatusInternalServerError, map[string]any{
		"error": map[string]any{
			"type":    "internal_error",
			"message": "an unexpected error occurred",
		},
	})
}
