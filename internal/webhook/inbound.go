package webhook

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"copyrelay/internal/core"
)

// DefaultHistoryCapacity bounds the inbound audit ring.
const DefaultHistoryCapacity = 1000

// Handler processes one inbound event and returns a handler-specific result
// for the HTTP response.
type Handler func(ctx context.Context, data map[string]any) (map[string]any, error)

// Received is one audit-ring entry. Entries are recorded before dispatch so
// the history survives handler failures.
type Received struct {
	EventType  string         `json:"event_type"`
	Data       map[string]any `json:"data"`
	ReceivedAt time.Time      `json:"received_at"`
}

// ProcessResult is the outcome of an inbound event.
type ProcessResult struct {
	Status string         `json:"status"` // processed | unhandled
	Result map[string]any `json:"result,omitempty"`
}

// ReceiverConfig configures inbound webhook handling.
type ReceiverConfig struct {
	Secret string

	// VerifySignatures enforces HMAC verification on inbound events. Off in
	// development so local integrations can post unsigned payloads.
	VerifySignatures bool

	HistoryCapacity int
}

// Receiver verifies, records, and dispatches inbound webhooks.
type Receiver struct {
	signer   *Signer
	verify   bool
	capacity int

	mu       sync.Mutex
	handlers map[string]Handler
	history  []Received

	now func() time.Time
}

func NewReceiver(cfg ReceiverConfig) *Receiver {
	if cfg.HistoryCapacity <= 0 {
		cfg.HistoryCapacity = DefaultHistoryCapacity
	}
	return &Receiver{
		signer:   NewSigner(cfg.Secret),
		verify:   cfg.VerifySignatures,
		capacity: cfg.HistoryCapacity,
		handlers: make(map[string]Handler),
		now:      time.Now,
	}
}

// Register installs the handler for an event type, replacing any previous
// registration.
func (r *Receiver) Register(eventType string, h Handler) {
	r.mu.Lock()
	r.handlers[eventType] = h
	r.mu.Unlock()
}

// Process verifies the raw payload signature (when enforcement is on),
// records the event, and dispatches it to the registered handler.
func (r *Receiver) Process(ctx context.Context, eventType string, rawBody []byte, signature string, data map[string]any) (ProcessResult, error) {
	if r.verify {
		if signature == "" || !r.signer.Verify(rawBody, signature) {
			slog.Warn("webhook rejected", "event_type", eventType, "reason", "invalid signature")
			return ProcessResult{}, core.NewSignatureError("webhook signature verification failed")
		}
	}

	r.record(eventType, data)

	r.mu.Lock()
	h, ok := r.handlers[eventType]
	r.mu.Unlock()

	if !ok {
		slog.Warn("webhook unhandled", "event_type", eventType)
		return ProcessResult{Status: "unhandled"}, nil
	}

	result, err := h(ctx, data)
	if err != nil {
		slog.Error("webhook handler failed", "event_type", eventType, "error", err)
		return ProcessResult{}, err
	}

	slog.Info("webhook processed", "event_type", eventType)
	return ProcessResult{Status: "processed", Result: result}, nil
}

func (r *Receiver) record(eventType string, data map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.history) >= r.capacity {
		r.history = r.history[1:]
	}
	r.history = append(r.history, Received{
		EventType:  eventType,
		Data:       data,
		ReceivedAt: r.now(),
	})
}

// History returns the most recent entries, newest first, optionally filtered
// by event type. limit <= 0 means no limit.
func (r *Receiver) History(eventType string, limit int) []Received {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Received
	for i := len(r.history) - 1; i >= 0; i-- {
		e := r.history[i]
		if eventType != "" && e.EventType != eventType {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}
