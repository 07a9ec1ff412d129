// Package retry provides exponential-backoff retry execution for the three
// external-call classes: model-provider calls, platform-publishing calls,
// and webhook delivery. Only transient errors are retried; everything else
// propagates immediately.
package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"copyrelay/internal/core"
)

// Policy parameterizes one external-call class.
type Policy struct {
	// Name labels the policy in logs.
	Name string

	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int

	// InitialInterval and MaxInterval bound the exponential backoff.
	InitialInterval time.Duration
	MaxInterval     time.Duration

	// Multiplier grows the interval between attempts.
	Multiplier float64
}

// The three per-service-class policies.
var (
	// ModelProvider covers language-model API calls.
	ModelProvider = Policy{
		Name:            "model_provider",
		MaxAttempts:     3,
		InitialInterval: 1 * time.Second,
		MaxInterval:     10 * time.Second,
		Multiplier:      2,
	}

	// PlatformAPI covers social-platform publishing calls.
	PlatformAPI = Policy{
		Name:            "platform_api",
		MaxAttempts:     5,
		InitialInterval: 2 * time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2,
	}

	// WebhookDelivery covers a single outbound webhook delivery attempt.
	WebhookDelivery = Policy{
		Name:            "webhook_delivery",
		MaxAttempts:     3,
		InitialInterval: 2 * time.Second,
		MaxInterval:     10 * time.Second,
		Multiplier:      2,
	}
)

// Do executes op under the policy. Transient failures (per core.IsTransient)
// are retried with exponential backoff up to MaxAttempts; other errors
// propagate immediately. The last error is returned when attempts exhaust.
func Do(ctx context.Context, policy Policy, op func(ctx context.Context) error) error {
	_, err := DoValue(ctx, policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, policy Policy, op func(ctx context.Context) (T, error)) (T, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = policy.InitialInterval
	eb.MaxInterval = policy.MaxInterval
	eb.Multiplier = policy.Multiplier

	return backoff.Retry(ctx,
		func() (T, error) {
			result, err := op(ctx)
			if err != nil && !core.IsTransient(err) {
				return result, backoff.Permanent(err)
			}
			return result, err
		},
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(uint(policy.MaxAttempts)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			slog.Warn("retrying after transient failure",
				"policy", policy.Name,
				"wait", wait,
				"error", err,
			)
		}),
	)
}
