package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"copyrelay/internal/cache"
	"copyrelay/internal/core"
	"copyrelay/internal/retry"
)

type generateRequest struct {
	Prompt      string  `json:"prompt"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`

	// Cache identity; requests with the same four fields share a cache entry.
	Product  string `json:"product"`
	Persona  string `json:"persona"`
	Platform string `json:"platform"`
	Tone     string `json:"tone"`

	CampaignID string `json:"campaign_id"`

	// PublishTo routes the generated copy to platform publishers.
	PublishTo []publishTarget `json:"publish_to"`

	// NotifyURL receives a content_generated webhook on success.
	NotifyURL string `json:"notify_url"`
}

type publishTarget struct {
	Platform string         `json:"platform"`
	Payload  map[string]any `json:"payload"`
}

type generateResponse struct {
	Text         string          `json:"text"`
	Model        string          `json:"model"`
	InputTokens  int             `json:"input_tokens"`
	OutputTokens int             `json:"output_tokens"`
	CostUSD      float64         `json:"cost_usd"`
	Cached       bool            `json:"cached"`
	Published    []publishStatus `json:"published,omitempty"`
}

type publishStatus struct {
	Platform string `json:"platform"`
	PostID   string `json:"post_id,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Generate handles POST /generate: rate limit, quota check, cached
// breaker-and-retry-wrapped model call, usage tracking, publishing, and
// webhook notification.
func (h *Handler) Generate(c echo.Context) error {
	ctx := c.Request().Context()

	var req generateRequest
	if err := c.Bind(&req); err != nil {
		return handleError(c, core.NewInvalidRequestError("invalid request body", err))
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return handleError(c, core.NewInvalidRequestError("prompt is required", nil))
	}
	if len(req.Prompt) > h.maxPromptLen {
		return handleError(c, core.NewInvalidRequestError(
			fmt.Sprintf("prompt exceeds maximum length of %d characters", h.maxPromptLen), nil))
	}

	model := req.Model
	if model == "" {
		model = h.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = h.defaultMaxTokens
	}
	// A request that omits temperature takes the configured default.
	temperature := req.Temperature
	if temperature == 0 {
		temperature = h.defaultTemperature
	}

	caller := callerIdentity(c)

	rl := h.limiter.Check(ctx, caller, h.ratePerMin, time.Minute)
	if !rl.Allowed {
		c.Response().Header().Set("Retry-After", "60")
		return handleError(c, core.NewRateLimitError("rate limit exceeded, try again in a minute"))
	}

	decision := h.tracker.CheckLimits(ctx, caller, int64(maxTokens))
	if !decision.Allowed {
		return handleError(c, core.NewQuotaError(
			"usage quota exceeded: "+strings.Join(decision.Exceeded, ", ")))
	}

	cached := true
	result, err := cache.Wrap(ctx, h.cache, "content", map[string]any{
		"prompt":   req.Prompt,
		"model":    model,
		"product":  req.Product,
		"persona":  req.Persona,
		"platform": req.Platform,
		"tone":     req.Tone,
	}, h.cacheTTL, func(ctx context.Context) (*core.GenerateResult, error) {
		cached = false
		return h.generateOnce(ctx, req.Prompt, core.GenerateOptions{
			Model:       model,
			MaxTokens:   maxTokens,
			Temperature: temperature,
		})
	})
	if err != nil {
		h.metrics.ObserveGeneration(model, "failed", 0, 0, 0)
		h.tracker.Track(ctx, caller, "content-api", "/generate", 0, 0, false)
		return handleError(c, err)
	}

	cost := 0.0
	if !cached {
		cost = h.tracker.CalculateCost(result.Model, int64(result.InputTokens), int64(result.OutputTokens))
	}
	h.tracker.Track(ctx, caller, "content-api", "/generate",
		int64(result.InputTokens+result.OutputTokens), cost, true)
	h.metrics.ObserveGeneration(result.Model, "success", result.InputTokens, result.OutputTokens, cost)

	resp := generateResponse{
		Text:         result.Text,
		Model:        result.Model,
		InputTokens:  result.InputTokens,
		OutputTokens: result.OutputTokens,
		CostUSD:      cost,
		Cached:       cached,
	}

	for _, target := range req.PublishTo {
		resp.Published = append(resp.Published, h.publish(ctx, target, result.Text))
	}

	if req.NotifyURL != "" && h.dispatcher != nil {
		h.dispatcher.Send(ctx, req.NotifyURL, "content_generated", map[string]any{
			"model":  result.Model,
			"cached": cached,
			"tokens": result.InputTokens + result.OutputTokens,
		}, req.CampaignID)
	}

	return c.JSON(http.StatusOK, resp)
}

// generateOnce performs a single governed model call: circuit breaker around
// the retry loop, so an open breaker rejects before any attempt is made.
func (h *Handler) generateOnce(ctx context.Context, prompt string, opts core.GenerateOptions) (*core.GenerateResult, error) {
	var result *core.GenerateResult
	start := time.Now()

	err := h.breakers.Do(ctx, "model_provider", func(ctx context.Context) error {
		var genErr error
		result, genErr = retry.DoValue(ctx, h.genPolicy, func(ctx context.Context) (*core.GenerateResult, error) {
			return h.generator.Generate(ctx, prompt, opts)
		})
		return genErr
	})

	errType := ""
	if err != nil {
		var svcErr *core.ServiceError
		if errors.As(err, &svcErr) {
			errType = string(svcErr.Type)
		} else {
			errType = "internal_error"
		}
	}
	h.metrics.ObserveExternalCall("model_provider", time.Since(start), errType)

	if err != nil {
		return nil, err
	}
	return result, nil
}

// publish delivers text to one platform with the platform retry policy
// inside that platform's breaker. Publish failures degrade the response,
// never fail it.
func (h *Handler) publish(ctx context.Context, target publishTarget, text string) publishStatus {
	pub, ok := h.publishers[target.Platform]
	if !ok {
		return publishStatus{Platform: target.Platform, Error: "unknown platform"}
	}

	payload := target.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	if _, exists := payload["message"]; !exists {
		payload["message"] = text
	}
	if _, exists := payload["text"]; !exists {
		payload["text"] = text
	}

	var result *core.PublishResult
	breakerName := pub.Name() + "_api"
	err := h.breakers.Do(ctx, breakerName, func(ctx context.Context) error {
		var postErr error
		result, postErr = retry.DoValue(ctx, retry.PlatformAPI, func(ctx context.Context) (*core.PublishResult, error) {
			return pub.Post(ctx, payload)
		})
		return postErr
	})
	if err != nil {
		slog.Warn("platform publish failed", "platform", target.Platform, "error", err)
		return publishStatus{Platform: target.Platform, Error: err.Error()}
	}
	return publishStatus{Platform: result.Platform, PostID: result.PostID}
}

// callerIdentity keys rate limiting and usage accounting. The API key is the
// caller identity; unauthenticated deployments share one anonymous bucket.
func callerIdentity(c echo.Context) string {
	if key := c.Request().Header.Get("X-API-Key"); key != "" {
		return key
	}
	return "anonymous"
}
