package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"copyrelay/internal/core"
	"copyrelay/internal/retry"
)

const (
	// DefaultMaxAttempts is the redelivery budget before dead-lettering.
	DefaultMaxAttempts = 3

	// DefaultDeadLetterCapacity bounds the dead-letter set; oldest entries
	// are evicted once it fills.
	DefaultDeadLetterCapacity = 1000
)

// defaultRetryDelays is the per-attempt delay schedule, indexed by attempt
// number and clamped to the last entry.
var defaultRetryDelays = []time.Duration{5 * time.Second, 30 * time.Second, 120 * time.Second}

// Pending is a queued webhook awaiting redelivery.
type Pending struct {
	ID        string          `json:"webhook_id"`
	URL       string          `json:"url"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	NextRetry time.Time       `json:"next_retry"`
	CreatedAt time.Time       `json:"created_at"`
}

// DeadLetter is a terminally failed webhook, retained for inspection. It is
// never retried automatically.
type DeadLetter struct {
	Pending
	FailedAt time.Time `json:"failed_at"`
	Reason   string    `json:"failure_reason"`
}

// DeliveryResult reports the outcome of a Send call.
type DeliveryResult struct {
	WebhookID      string `json:"webhook_id"`
	Status         string `json:"status"` // delivered | failed
	StatusCode     int    `json:"status_code,omitempty"`
	Error          string `json:"error,omitempty"`
	QueuedForRetry bool   `json:"queued_for_retry,omitempty"`
}

// QueueStats summarizes queue health for monitoring.
type QueueStats struct {
	PendingCount  int        `json:"pending_count"`
	DeadCount     int        `json:"dead_count"`
	OldestPending *time.Time `json:"oldest_pending,omitempty"`
}

// DispatcherConfig configures outbound delivery.
type DispatcherConfig struct {
	Secret             string
	MaxAttempts        int
	RetryDelays        []time.Duration
	DeadLetterCapacity int

	// DeliveryRate paces outbound POSTs so a retry storm cannot flood a
	// destination. Zero disables pacing.
	DeliveryRate  rate.Limit
	DeliveryBurst int

	// Client is the HTTP client used for deliveries.
	Client *http.Client

	// RetryPolicy governs in-call retries of transient network failures.
	// Defaults to the webhook delivery policy.
	RetryPolicy retry.Policy
}

// Dispatcher owns the outbound webhook state machine:
// queued → sending → (delivered | retry-scheduled) → (delivered | dead-lettered).
type Dispatcher struct {
	signer      *Signer
	client      *http.Client
	maxAttempts int
	retryDelays []time.Duration
	deadCap     int
	limiter     *rate.Limiter
	policy      retry.Policy

	mu      sync.Mutex
	pending []*Pending
	dead    []*DeadLetter

	now func() time.Time
}

// NewDispatcher creates a dispatcher. The caller owns its lifecycle and
// should run ProcessQueue periodically (see RunRetryLoop).
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if len(cfg.RetryDelays) == 0 {
		cfg.RetryDelays = defaultRetryDelays
	}
	if cfg.DeadLetterCapacity <= 0 {
		cfg.DeadLetterCapacity = DefaultDeadLetterCapacity
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.RetryPolicy.MaxAttempts == 0 {
		cfg.RetryPolicy = retry.WebhookDelivery
	}

	var limiter *rate.Limiter
	if cfg.DeliveryRate > 0 {
		burst := cfg.DeliveryBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(cfg.DeliveryRate, burst)
	}

	return &Dispatcher{
		signer:      NewSigner(cfg.Secret),
		client:      client,
		maxAttempts: cfg.MaxAttempts,
		retryDelays: cfg.RetryDelays,
		deadCap:     cfg.DeadLetterCapacity,
		limiter:     limiter,
		policy:      cfg.RetryPolicy,
		now:         time.Now,
	}
}

// Send signs and delivers a webhook immediately. The attempt itself is
// wrapped in the webhook retry policy for transient network flakes; if it
// still fails the webhook is queued for the slow retry schedule.
func (d *Dispatcher) Send(ctx context.Context, url, eventType string, data map[string]any, campaignID string) DeliveryResult {
	id := uuid.NewString()[:12]

	body := map[string]any{
		"webhook_id": id,
		"event_type": eventType,
		"data":       data,
		"timestamp":  d.now().UTC().Format(time.RFC3339),
	}
	if campaignID != "" {
		body["campaign_id"] = campaignID
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return DeliveryResult{WebhookID: id, Status: "failed", Error: err.Error()}
	}

	slog.Info("webhook sending", "webhook_id", id, "url", url, "event_type", eventType)

	statusCode, err := d.deliverWithRetry(ctx, url, payload)
	if err == nil {
		slog.Info("webhook delivered", "webhook_id", id, "status_code", statusCode)
		return DeliveryResult{WebhookID: id, Status: "delivered", StatusCode: statusCode}
	}

	slog.Error("webhook delivery failed", "webhook_id", id, "url", url, "error", err)
	d.enqueue(&Pending{
		ID:        id,
		URL:       url,
		EventType: eventType,
		Payload:   payload,
		Attempt:   0,
		NextRetry: d.now().Add(d.delayFor(0)),
		CreatedAt: d.now(),
	})

	return DeliveryResult{
		WebhookID:      id,
		Status:         "failed",
		Error:          err.Error(),
		QueuedForRetry: true,
	}
}

// deliverWithRetry performs one logical delivery attempt, retrying transient
// network failures within the webhook retry policy.
func (d *Dispatcher) deliverWithRetry(ctx context.Context, url string, payload []byte) (int, error) {
	return retry.DoValue(ctx, d.policy, func(ctx context.Context) (int, error) {
		return d.post(ctx, url, payload)
	})
}

// post issues one signed POST. Non-2xx responses are classified through the
// shared upstream-error taxonomy so 5xx counts as transient.
func (d *Dispatcher) post(ctx context.Context, url string, payload []byte) (int, error) {
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return 0, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", d.signer.Sign(payload))
	req.Header.Set("X-Webhook-Timestamp", strconv.FormatInt(d.now().Unix(), 10))

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, core.NewTransientError("webhook", "webhook POST failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return resp.StatusCode, core.ParseUpstreamError("webhook", resp.StatusCode, respBody, nil)
	}
	return resp.StatusCode, nil
}

// delayFor returns the retry delay for an attempt number, clamped to the
// last schedule entry.
func (d *Dispatcher) delayFor(attempt int) time.Duration {
	if attempt >= len(d.retryDelays) {
		return d.retryDelays[len(d.retryDelays)-1]
	}
	return d.retryDelays[attempt]
}

func (d *Dispatcher) enqueue(p *Pending) {
	d.mu.Lock()
	d.pending = append(d.pending, p)
	d.mu.Unlock()

	slog.Info("webhook queued for retry",
		"webhook_id", p.ID,
		"attempt", p.Attempt,
		"next_retry", p.NextRetry,
	)
}

// ProcessQueue scans the pending queue once. Entries whose retry time has
// elapsed are either dead-lettered (attempt budget spent) or redelivered;
// renewed failures re-queue with the attempt count incremented.
func (d *Dispatcher) ProcessQueue(ctx context.Context) {
	now := d.now()

	d.mu.Lock()
	var due []*Pending
	var rest []*Pending
	for _, p := range d.pending {
		if !p.NextRetry.After(now) {
			due = append(due, p)
		} else {
			rest = append(rest, p)
		}
	}
	d.pending = rest
	d.mu.Unlock()

	for _, p := range due {
		if p.Attempt >= d.maxAttempts {
			d.deadLetter(p, "max_retries_exceeded")
			continue
		}

		if _, err := d.deliverWithRetry(ctx, p.URL, p.Payload); err != nil {
			p.Attempt++
			p.NextRetry = d.now().Add(d.delayFor(p.Attempt))
			d.enqueue(p)
			continue
		}

		slog.Info("webhook retry succeeded", "webhook_id", p.ID, "attempt", p.Attempt+1)
	}
}

// deadLetter moves p to the terminal set, evicting the oldest entry when
// the set is full.
func (d *Dispatcher) deadLetter(p *Pending, reason string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.dead) >= d.deadCap {
		d.dead = d.dead[1:]
	}
	d.dead = append(d.dead, &DeadLetter{
		Pending:  *p,
		FailedAt: d.now(),
		Reason:   reason,
	})

	slog.Error("webhook dead-lettered",
		"webhook_id", p.ID,
		"attempts", p.Attempt,
		"reason", reason,
	)
}

// Status reports where a webhook currently sits: pending_retry, dead, or
// unknown (delivered webhooks are not retained).
func (d *Dispatcher) Status(webhookID string) map[string]any {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, p := range d.pending {
		if p.ID == webhookID {
			return map[string]any{
				"webhook_id": webhookID,
				"status":     "pending_retry",
				"attempt":    p.Attempt,
				"next_retry": p.NextRetry,
			}
		}
	}
	for _, dl := range d.dead {
		if dl.ID == webhookID {
			return map[string]any{
				"webhook_id": webhookID,
				"status":     "dead",
				"attempts":   dl.Attempt,
				"failed_at":  dl.FailedAt,
				"reason":     dl.Reason,
			}
		}
	}
	return map[string]any{"webhook_id": webhookID, "status": "unknown"}
}

// Stats summarizes queue depth for health reporting.
func (d *Dispatcher) Stats() QueueStats {
	d.mu.Lock()
	defer d.mu.Unlock()

	stats := QueueStats{
		PendingCount: len(d.pending),
		DeadCount:    len(d.dead),
	}
	for _, p := range d.pending {
		if stats.OldestPending == nil || p.CreatedAt.Before(*stats.OldestPending) {
			t := p.CreatedAt
			stats.OldestPending = &t
		}
	}
	return stats
}

// DeadLetters returns a copy of the dead-letter set for inspection.
func (d *Dispatcher) DeadLetters() []DeadLetter {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]DeadLetter, len(d.dead))
	for i, dl := range d.dead {
		out[i] = *dl
	}
	return out
}

// RunRetryLoop processes the retry queue at the given interval until ctx is
// cancelled. Run it in its own goroutine.
func (d *Dispatcher) RunRetryLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.ProcessQueue(ctx)
		case <-ctx.Done():
			return
		}
	}
}
