// Package retry wraps fallible provider operations with bounded attempts
// and exponential backoff. Retry decisions are driven entirely by the
// error taxonomy: only errors classified as retryable are re-attempted.
//
// Retries for a single logical call are strictly sequential. The wrapped
// operation is responsible for its own idempotency.
package retry

import (
	"context"
	"log/slog"
	"time"

	"caremesh/modelguard/pkg/providers"
)

// Policy bounds the retry behavior for one logical call.
type Policy struct {
	// MaxAttempts is the total number of invocations, including the
	// first. Values below 1 are treated as 1.
	MaxAttempts int

	// BaseBackoff is the delay before the first retry. Each subsequent
	// retry doubles it.
	BaseBackoff time.Duration

	// MaxBackoff caps the per-retry delay. Zero means no cap.
	MaxBackoff time.Duration
}

// DefaultPolicy matches the provider-call defaults: three attempts with a
// one second base backoff capped at thirty seconds.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseBackoff: time.Second,
		MaxBackoff:  30 * time.Second,
	}
}

// Event describes one retry decision. It is handed to the OnRetry hook
// before the backoff sleep.
type Event struct {
	// Provider and Model identify the failing call.
	Provider string
	Model    string

	// Attempt is the 1-based index of the attempt that just failed.
	Attempt int

	// MaxAttempts is the policy bound.
	MaxAttempts int

	// Kind and Message describe the classified failure.
	Kind    providers.ErrorKind
	Message string

	// Backoff is the delay before the next attempt.
	Backoff time.Duration
}

// Handler executes operations under a retry policy.
type Handler struct {
	policy Policy

	// onRetry, when set, observes every retry decision. It is called
	// synchronously, so implementations should be fast or hand off.
	onRetry func(Event)
}

// NewHandler creates a retry handler. hook may be nil.
func NewHandler(policy Policy, hook func(Event)) *Handler {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if policy.BaseBackoff <= 0 {
		policy.BaseBackoff = time.Second
	}
	return &Handler{policy: policy, onRetry: hook}
}

// Do invokes op until it succeeds, fails non-retryably, or exhausts the
// attempt bound. The returned error is always classified. provider and
// model annotate classification for operations that fail before the
// adapter can attribute them.
func (h *Handler) Do(ctx context.Context, provider, model string, op func(ctx context.Context) error) error {
	var lastErr *providers.ClassifiedError

	for attempt := 1; attempt <= h.policy.MaxAttempts; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}

		lastErr = providers.Classify(provider, model, err)
		if !lastErr.Retryable || attempt == h.policy.MaxAttempts {
			break
		}

		backoff := h.backoff(attempt)
		if h.onRetry != nil {
			h.onRetry(Event{
				Provider:    provider,
				Model:       model,
				Attempt:     attempt,
				MaxAttempts: h.policy.MaxAttempts,
				Kind:        lastErr.Kind,
				Message:     lastErr.Message,
				Backoff:     backoff,
			})
		}

		slog.Debug("retrying operation",
			"provider", provider,
			"model", model,
			"attempt", attempt,
			"max_attempts", h.policy.MaxAttempts,
			"kind", lastErr.Kind,
			"backoff", backoff,
		)

		select {
		case <-ctx.Done():
			return providers.Classify(provider, model, ctx.Err())
		case <-time.After(backoff):
		}
	}

	return lastErr
}

// backoff computes the delay after the given 1-based attempt.
func (h *Handler) backoff(attempt int) time.Duration {
	backoff := h.policy.BaseBackoff << uint(attempt-1)
	if h.policy.MaxBackoff > 0 && backoff > h.policy.MaxBackoff {
		backoff = h.policy.MaxBackoff
	}
	return backoff
}
