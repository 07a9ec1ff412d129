package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"copyrelay/internal/core"
)

// fast is a policy with negligible sleeps so tests run instantly.
var fast = Policy{
	Name:            "test",
	MaxAttempts:     3,
	InitialInterval: time.Millisecond,
	MaxInterval:     2 * time.Millisecond,
	Multiplier:      2,
}

func TestRetriesTransientErrors(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fast, func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return core.NewTransientError("meta_api", "502", nil)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestExhaustionReturnsLastError(t *testing.T) {
	attempts := 0
	last := core.NewTransientError("model_provider", "timeout", nil)
	err := Do(context.Background(), fast, func(ctx context.Context) error {
		attempts++
		return last
	})

	require.Error(t, err)
	assert.Equal(t, 3, attempts)

	var svcErr *core.ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, "model_provider", svcErr.Service)
}

func TestNonTransientErrorsAreNotRetried(t *testing.T) {
	attempts := 0
	bad := core.NewInvalidRequestError("malformed payload", nil)
	err := Do(context.Background(), fast, func(ctx context.Context) error {
		attempts++
		return bad
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts, "non-transient errors must propagate immediately")
	var svcErr *core.ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, core.ErrorTypeInvalidRequest, svcErr.Type)
}

func TestPlainErrorsAreNotRetried(t *testing.T) {
	attempts := 0
	_ = Do(context.Background(), fast, func(ctx context.Context) error {
		attempts++
		return errors.New("logic bug")
	})
	assert.Equal(t, 1, attempts)
}

func TestDoValue(t *testing.T) {
	attempts := 0
	got, err := DoValue(context.Background(), fast, func(ctx context.Context) (string, error) {
		attempts++
		if attempts == 1 {
			return "", core.NewTransientError("meta_api", "flake", nil)
		}
		return "post-123", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "post-123", got)
	assert.Equal(t, 2, attempts)
}

func TestContextCancellationStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := Do(ctx, fast, func(ctx context.Context) error {
		attempts++
		cancel()
		return core.NewTransientError("webhook", "refused", nil)
	})

	require.Error(t, err)
	assert.LessOrEqual(t, attempts, 2)
}

func TestPolicyParameters(t *testing.T) {
	assert.Equal(t, 3, ModelProvider.MaxAttempts)
	assert.Equal(t, 5, PlatformAPI.MaxAttempts)
	assert.Equal(t, 3, WebhookDelivery.MaxAttempts)
	assert.Less(t, ModelProvider.InitialInterval, ModelProvider.MaxInterval)
}
