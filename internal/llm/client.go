// Package llm provides the OpenAI-compatible model provider client.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"copyrelay/internal/core"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4-turbo-preview"
	defaultTimeout = 60 * time.Second
)

// Config configures the provider client.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Client  *http.Client
}

// Client calls an OpenAI-compatible chat-completions endpoint. It satisfies
// core.Generator; with no API key configured it reports itself unavailable
// instead of failing at call time.
type Client struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		apiKey:  cfg.APIKey,
		baseURL: cfg.BaseURL,
		model:   cfg.Model,
		client:  cfg.Client,
	}
}

// Available reports whether an API key is configured.
func (c *Client) Available() bool { return c.apiKey != "" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

// Generate produces copy for prompt via the chat-completions endpoint.
func (c *Client) Generate(ctx context.Context, prompt string, opts core.GenerateOptions) (*core.GenerateResult, error) {
	if !c.Available() {
		return nil, core.NewUnavailableError("model_provider", "no API key configured", nil)
	}

	model := opts.Model
	if model == "" {
		model = c.model
	}

	body, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, core.NewTransientError("model_provider", "chat completion request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, core.NewTransientError("model_provider", "read chat completion response", err)
	}

	if resp.StatusCode >= 400 {
		return nil, core.ParseUpstreamError("model_provider", resp.StatusCode, respBody, nil)
	}

	text := gjson.GetBytes(respBody, "choices.0.message.content").String()
	if text == "" {
		return nil, core.NewInvalidRequestError("response contained no completion text", nil)
	}

	result := &core.GenerateResult{
		Text:         text,
		Model:        gjson.GetBytes(respBody, "model").String(),
		InputTokens:  int(gjson.GetBytes(respBody, "usage.prompt_tokens").Int()),
		OutputTokens: int(gjson.GetBytes(respBody, "usage.completion_tokens").Int()),
	}
	if result.Model == "" {
		result.Model = model
	}
	return result, nil
}
