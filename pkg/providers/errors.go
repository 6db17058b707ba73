package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrorKind is the closed set of normalized failure categories. Everything
// downstream of an adapter sees only these kinds, never provider-specific
// error shapes.
type ErrorKind string

const (
	// ErrProviderUnavailable covers unknown providers, providers whose
	// health status is down, connection failures, and 5xx responses.
	ErrProviderUnavailable ErrorKind = "PROVIDER_UNAVAILABLE"

	// ErrRateLimited covers HTTP 429 responses.
	ErrRateLimited ErrorKind = "RATE_LIMITED"

	// ErrTimeout covers request deadlines and network timeouts.
	ErrTimeout ErrorKind = "TIMEOUT"

	// ErrInvalidRequest covers malformed or rejected requests (4xx other
	// than auth and rate limiting).
	ErrInvalidRequest ErrorKind = "INVALID_REQUEST"

	// ErrAuthFailure covers rejected credentials (401/403).
	ErrAuthFailure ErrorKind = "AUTH_FAILURE"

	// ErrUnknown covers everything the classifier cannot place.
	ErrUnknown ErrorKind = "UNKNOWN"
)

// ClassifiedError is the normalized error type returned by every adapter
// and by the registry. Retryable tells the retry handler whether
// re-invoking the operation may succeed.
type ClassifiedError struct {
	// Kind is the normalized failure category.
	Kind ErrorKind

	// Provider is the provider the failure is attributed to.
	Provider string

	// Model is the model involved, when known.
	Model string

	// Retryable indicates whether the failure is transient.
	Retryable bool

	// StatusCode is the HTTP status code (0 if not applicable).
	StatusCode int

	// Message is a human-readable description.
	Message string

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *ClassifiedError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider %q: %s (status %d): %s", e.Provider, e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider %q: %s: %s", e.Provider, e.Kind, e.Message)
}

// Unwrap returns the underlying error for error chain support.
func (e *ClassifiedError) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether err is a classified error marked retryable.
// Unclassified errors are not retryable.
func IsRetryable(err error) bool {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	return false
}

// KindOf returns the error kind of a classified error, or ErrUnknown for
// anything else.
func KindOf(err error) ErrorKind {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ErrUnknown
}

// Classify maps an arbitrary transport-level failure to the taxonomy.
// It is the single place that understands provider error shapes:
//
//   - an already-classified error passes through unchanged
//   - context deadline and network timeouts become TIMEOUT (retryable)
//   - connection-level failures become PROVIDER_UNAVAILABLE (retryable)
//   - HTTP status codes map via ClassifyStatus
//   - everything else becomes UNKNOWN (not retryable)
func Classify(provider, model string, err error) *ClassifiedError {
	if err == nil {
		return nil
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &ClassifiedError{
			Kind:      ErrTimeout,
			Provider:  provider,
			Model:     model,
			Retryable: true,
			Message:   "request deadline exceeded",
			Cause:     err,
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return &ClassifiedError{
				Kind:      ErrTimeout,
				Provider:  provider,
				Model:     model,
				Retryable: true,
				Message:   "network timeout",
				Cause:     err,
			}
		}
		return &ClassifiedError{
			Kind:      ErrProviderUnavailable,
			Provider:  provider,
			Model:     model,
			Retryable: true,
			Message:   "connection failed",
			Cause:     err,
		}
	}

	return &ClassifiedError{
		Kind:      ErrUnknown,
		Provider:  provider,
		Model:     model,
		Retryable: false,
		Message:   err.Error(),
		Cause:     err,
	}
}

// ClassifyStatus maps an HTTP status code plus response body to the
// taxonomy. Used by adapters when the provider responded with a non-2xx
// status.
func ClassifyStatus(provider, model string, status int, body string) *ClassifiedError {
	ce := &ClassifiedError{
		Provider:   provider,
		Model:      model,
		StatusCode: status,
		Message:    body,
	}

	switch {
	case status == http.StatusTooManyRequests:
		ce.Kind = ErrRateLimited
		ce.Retryable = true
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		ce.Kind = ErrAuthFailure
		ce.Retryable = false
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		ce.Kind = ErrTimeout
		ce.Retryable = true
	case status >= 500:
		ce.Kind = ErrProviderUnavailable
		ce.Retryable = true
	case status >= 400:
		ce.Kind = ErrInvalidRequest
		ce.Retryable = false
	default:
		ce.Kind = ErrUnknown
		ce.Retryable = false
	}

	return ce
}
