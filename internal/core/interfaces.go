package core

import (
	"context"
	"log/slog"
)

// GenerateOptions controls a single model generation call.
type GenerateOptions struct {
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
}

// GenerateResult is the normalized output of a model generation call.
type GenerateResult struct {
	Text         string `json:"text"`
	Model        string `json:"model"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

// Generator is the model-generation collaborator. Implementations wrap a
// remote language-model API and may be unavailable when no key is configured.
type Generator interface {
	// Generate produces copy for the given prompt.
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (*GenerateResult, error)

	// Available reports whether the generator is configured and usable.
	Available() bool
}

// PublishResult is the outcome of posting a payload to a platform.
type PublishResult struct {
	PostID   string `json:"post_id"`
	Platform string `json:"platform"`
}

// Publisher is a platform publishing collaborator: take a payload, call a
// remote endpoint. One implementation per target platform.
type Publisher interface {
	// Name identifies the platform (used for breaker and retry naming).
	Name() string

	// Post publishes the payload and returns the remote post ID.
	Post(ctx context.Context, payload map[string]any) (*PublishResult, error)
}

// SafeGenerate calls gen and falls back to the supplied default on failure.
// When fallback is nil the failure surfaces as a service-unavailable error,
// so callers that cannot degrade still get a classified error to act on.
func SafeGenerate(ctx context.Context, gen Generator, prompt string, opts GenerateOptions, fallback *GenerateResult) (*GenerateResult, error) {
	result, err := gen.Generate(ctx, prompt, opts)
	if err == nil {
		return result, nil
	}

	if fallback != nil {
		slog.Warn("model generation failed, using fallback value",
			"model", opts.Model,
			"error", err,
		)
		return fallback, nil
	}

	return nil, NewUnavailableError("model_provider", "generation failed and no fallback configured", err)
}
