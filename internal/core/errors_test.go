package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceErrorStatusCodes(t *testing.T) {
	tests := []struct {
		name string
		err  *ServiceError
		want int
	}{
		{"transient", NewTransientError("meta_api", "upstream 502", nil), http.StatusServiceUnavailable},
		{"rate limit", NewRateLimitError("too many requests"), http.StatusTooManyRequests},
		{"quota", NewQuotaError("daily_tokens exceeded"), http.StatusTooManyRequests},
		{"invalid", NewInvalidRequestError("bad payload", nil), http.StatusBadRequest},
		{"auth", NewAuthenticationError("missing key"), http.StatusUnauthorized},
		{"signature", NewSignatureError("bad signature"), http.StatusUnauthorized},
		{"unavailable", NewUnavailableError("model_provider", "down", nil), http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.HTTPStatusCode())
		})
	}
}

func TestServiceErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewTransientError("webhook", "delivery failed", cause)

	require.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "webhook")
	assert.Contains(t, err.Error(), "transient_error")
}

func TestParseUpstreamError(t *testing.T) {
	t.Run("5xx is transient", func(t *testing.T) {
		err := ParseUpstreamError("meta_api", 503, []byte("bad gateway"), nil)
		assert.Equal(t, ErrorTypeTransient, err.Type)
		assert.True(t, IsTransient(err))
	})

	t.Run("429 is transient", func(t *testing.T) {
		err := ParseUpstreamError("model_provider", 429, []byte("slow down"), nil)
		assert.Equal(t, ErrorTypeTransient, err.Type)
	})

	t.Run("4xx is not retryable", func(t *testing.T) {
		err := ParseUpstreamError("linkedin_api", 400, []byte("bad field"), nil)
		assert.Equal(t, ErrorTypeInvalidRequest, err.Type)
		assert.False(t, IsTransient(err))
	})

	t.Run("401 maps to authentication", func(t *testing.T) {
		err := ParseUpstreamError("meta_api", 401, []byte("expired token"), nil)
		assert.Equal(t, ErrorTypeAuthentication, err.Type)
	})
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsTransient(t *testing.T) {
	var netErr net.Error = timeoutErr{}

	assert.True(t, IsTransient(netErr))
	assert.True(t, IsTransient(fmt.Errorf("post: %w", netErr)))
	assert.False(t, IsTransient(context.Canceled))
	assert.False(t, IsTransient(errors.New("schema mismatch")))
	assert.False(t, IsTransient(nil))
}

type stubGenerator struct {
	result *GenerateResult
	err    error
}

func (s *stubGenerator) Generate(context.Context, string, GenerateOptions) (*GenerateResult, error) {
	return s.result, s.err
}

func (s *stubGenerator) Available() bool { return s.err == nil }

func TestSafeGenerate(t *testing.T) {
	ctx := context.Background()
	opts := GenerateOptions{Model: "gpt-4-turbo-preview"}

	t.Run("success passes through", func(t *testing.T) {
		gen := &stubGenerator{result: &GenerateResult{Text: "generated copy"}}
		got, err := SafeGenerate(ctx, gen, "prompt", opts, nil)
		require.NoError(t, err)
		assert.Equal(t, "generated copy", got.Text)
	})

	t.Run("failure returns fallback", func(t *testing.T) {
		gen := &stubGenerator{err: errors.New("api down")}
		fallback := &GenerateResult{Text: "canned copy"}
		got, err := SafeGenerate(ctx, gen, "prompt", opts, fallback)
		require.NoError(t, err)
		assert.Equal(t, "canned copy", got.Text)
	})

	t.Run("failure without fallback surfaces unavailable", func(t *testing.T) {
		gen := &stubGenerator{err: errors.New("api down")}
		_, err := SafeGenerate(ctx, gen, "prompt", opts, nil)
		var svcErr *ServiceError
		require.ErrorAs(t, err, &svcErr)
		assert.Equal(t, ErrorTypeUnavailable, svcErr.Type)
	})
}
