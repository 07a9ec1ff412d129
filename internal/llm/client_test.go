package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"copyrelay/internal/core"
)

func TestGenerateParsesCompletion(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"model": "gpt-4-turbo-preview",
			"choices": [{"message": {"role": "assistant", "content": "Fresh roasted, delivered weekly."}}],
			"usage": {"prompt_tokens": 42, "completion_tokens": 9}
		}`))
	}))
	defer srv.Close()

	c := New(Config{APIKey: "sk-test", BaseURL: srv.URL})
	res, err := c.Generate(context.Background(), "write a tagline", core.GenerateOptions{MaxTokens: 100})
	require.NoError(t, err)

	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "Fresh roasted, delivered weekly.", res.Text)
	assert.Equal(t, "gpt-4-turbo-preview", res.Model)
	assert.Equal(t, 42, res.InputTokens)
	assert.Equal(t, 9, res.OutputTokens)
}

func TestGenerateClassifiesUpstreamErrors(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		wantType   core.ErrorType
	}{
		{"rate limited is transient", http.StatusTooManyRequests, core.ErrorTypeTransient},
		{"server error is transient", http.StatusInternalServerError, core.ErrorTypeTransient},
		{"bad key is authentication", http.StatusUnauthorized, core.ErrorTypeAuthentication},
		{"bad request is invalid", http.StatusBadRequest, core.ErrorTypeInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
				w.Write([]byte(`{"error": {"message": "nope"}}`))
			}))
			defer srv.Close()

			c := New(Config{APIKey: "sk-test", BaseURL: srv.URL})
			_, err := c.Generate(context.Background(), "p", core.GenerateOptions{})
			require.Error(t, err)

			var svcErr *core.ServiceError
			require.ErrorAs(t, err, &svcErr)
			assert.Equal(t, tt.wantType, svcErr.Type)
		})
	}
}

func TestGenerateWithoutKey(t *testing.T) {
	c := New(Config{})
	assert.False(t, c.Available())

	_, err := c.Generate(context.Background(), "p", core.GenerateOptions{})
	var svcErr *core.ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, core.ErrorTypeUnavailable, svcErr.Type)
}

func TestGenerateEmptyCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices": []}`))
	}))
	defer srv.Close()

	c := New(Config{APIKey: "sk-test", BaseURL: srv.URL})
	_, err := c.Generate(context.Background(), "p", core.GenerateOptions{})
	require.Error(t, err)

	var svcErr *core.ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, core.ErrorTypeInvalidRequest, svcErr.Type)
}
