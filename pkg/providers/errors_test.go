package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
)

func TestClassifyStatus(t *testing.T) {
	cases := []struct {
		status    int
		kind      ErrorKind
		retryable bool
	}{
		{429, ErrRateLimited, true},
		{401, ErrAuthFailure, false},
		{403, ErrAuthFailure, false},
		{408, ErrTimeout, true},
		{504, ErrTimeout, true},
		{500, ErrProviderUnavailable, true},
		{503, ErrProviderUnavailable, true},
		{400, ErrInvalidRequest, false},
		{404, ErrInvalidRequest, false},
		{422, ErrInvalidRequest, false},
		{301, ErrUnknown, false},
	}

	for _, tc := range cases {
		ce := ClassifyStatus("openai", "gpt-4o", tc.status, "body")
		if ce.Kind != tc.kind {
			t.Errorf("status %d: kind = %s, want %s", tc.status, ce.Kind, tc.kind)
		}
		if ce.Retryable != tc.retryable {
			t.Errorf("status %d: retryable = %v, want %v", tc.status, ce.Retryable, tc.retryable)
		}
		if ce.StatusCode != tc.status {
			t.Errorf("status %d not carried through", tc.status)
		}
	}
}

func TestClassify_PassThrough(t *testing.T) {
	original := &ClassifiedError{Kind: ErrRateLimited, Provider: "openai", Retryable: true}
	wrapped := fmt.Errorf("call failed: %w", original)

	ce := Classify("anthropic", "claude-sonnet-4-5", wrapped)
	if ce != original {
		t.Error("Expected already-classified error to pass through unchanged")
	}
}

func TestClassify_DeadlineExceeded(t *testing.T) {
	ce := Classify("openai", "gpt-4o", context.DeadlineExceeded)
	if ce.Kind != ErrTimeout {
		t.Errorf("Expected TIMEOUT, got %s", ce.Kind)
	}
	if !ce.Retryable {
		t.Error("Expected timeout to be retryable")
	}
}

// fakeNetError implements net.Error.
type fakeNetError struct{ timeout bool }

func (e *fakeNetError) Error() string   { return "net failure" }
func (e *fakeNetError) Timeout() bool   { return e.timeout }
func (e *fakeNetError) Temporary() bool { return true }

func TestClassify_NetworkErrors(t *testing.T) {
	var _ net.Error = (*fakeNetError)(nil)

	ce := Classify("openai", "gpt-4o", &fakeNetError{timeout: true})
	if ce.Kind != ErrTimeout || !ce.Retryable {
		t.Errorf("Expected retryable TIMEOUT for net timeout, got %s/%v", ce.Kind, ce.Retryable)
	}

	ce = Classify("openai", "gpt-4o", &fakeNetError{timeout: false})
	if ce.Kind != ErrProviderUnavailable || !ce.Retryable {
		t.Errorf("Expected retryable PROVIDER_UNAVAILABLE for connection failure, got %s/%v", ce.Kind, ce.Retryable)
	}
}

func TestClassify_UnknownNotRetryable(t *testing.T) {
	ce := Classify("openai", "gpt-4o", errors.New("mystery"))
	if ce.Kind != ErrUnknown {
		t.Errorf("Expected UNKNOWN, got %s", ce.Kind)
	}
	if ce.Retryable {
		t.Error("Expected unknown errors to be non-retryable")
	}
	if ce.Provider != "openai" || ce.Model != "gpt-4o" {
		t.Errorf("Expected attribution, got %+v", ce)
	}
}

func TestClassify_Nil(t *testing.T) {
	if ce := Classify("openai", "gpt-4o", nil); ce != nil {
		t.Errorf("Expected nil for nil error, got %v", ce)
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(&ClassifiedError{Retryable: true}) {
		t.Error("Expected retryable")
	}
	if IsRetryable(&ClassifiedError{Retryable: false}) {
		t.Error("Expected non-retryable")
	}
	if IsRetryable(errors.New("plain")) {
		t.Error("Expected unclassified errors non-retryable")
	}
	if IsRetryable(nil) {
		t.Error("Expected nil non-retryable")
	}
}

func TestClassifiedError_Unwrap(t *testing.T) {
	cause := context.DeadlineExceeded
	ce := Classify("openai", "gpt-4o", fmt.Errorf("wrapped: %w", cause))
	if !errors.Is(ce, context.DeadlineExceeded) {
		t.Error("Expected errors.Is to reach the cause through Unwrap")
	}
}
