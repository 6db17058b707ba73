package providers

import (
	"context"
	"time"
)

// Request is a provider-agnostic completion request. Adapters transform it
// into the provider-specific wire format.
type Request struct {
	// Model is the model identifier (e.g. "gpt-4o", "claude-sonnet-4-5").
	Model string `json:"model"`

	// Prompt is the user prompt text.
	Prompt string `json:"prompt"`

	// System is an optional system prompt.
	System string `json:"system,omitempty"`

	// Temperature controls randomness (0.0 to 2.0).
	Temperature float64 `json:"temperature,omitempty"`

	// MaxTokens is the maximum number of tokens to generate.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Stop sequences that halt generation.
	Stop []string `json:"stop,omitempty"`

	// Scenario identifies the clinical workflow that issued the request
	// (e.g. "triage", "consult-summary"). Used for call logging only,
	// never sent to the provider.
	Scenario string `json:"-"`

	// AgentType identifies the agent persona for usage accounting.
	AgentType string `json:"-"`

	// UserID identifies the requesting user for access control and
	// usage accounting. Empty disables access enforcement.
	UserID string `json:"-"`
}

// Usage tracks token consumption for a single call.
type Usage struct {
	// InputTokens is the number of tokens in the prompt.
	InputTokens int `json:"input_tokens"`

	// OutputTokens is the number of tokens generated.
	OutputTokens int `json:"output_tokens"`
}

// Total returns input plus output tokens.
func (u Usage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// Response is a provider-agnostic completion response.
type Response struct {
	// Content is the generated text.
	Content string `json:"content"`

	// Usage is the token usage reported by the provider.
	Usage Usage `json:"usage"`

	// FinishReason is why generation stopped (stop, length, ...).
	FinishReason string `json:"finish_reason"`

	// Model is the model that actually served the request.
	Model string `json:"model"`

	// Latency is the provider round-trip time.
	Latency time.Duration `json:"latency"`
}

// StreamChunk is one incremental piece of a streaming response.
// The stream is finite and not restartable: once the channel closes the
// caller must issue a new request to regenerate.
type StreamChunk struct {
	// Delta is the incremental content.
	Delta string `json:"delta"`

	// FinishReason is set on the final chunk.
	FinishReason string `json:"finish_reason,omitempty"`

	// Usage is set on the final chunk when the provider reports it.
	Usage *Usage `json:"usage,omitempty"`

	// Err is set when the stream terminates abnormally. No further
	// chunks follow a chunk with Err set.
	Err error `json:"-"`
}

// ModelInfo describes one model offered by a provider.
type ModelInfo struct {
	// Name is the model identifier.
	Name string `json:"name"`

	// Provider is the owning provider name.
	Provider string `json:"provider"`

	// MaxTokens is the default completion budget for the model.
	MaxTokens int `json:"max_tokens"`

	// Temperature is the default sampling temperature.
	Temperature float64 `json:"temperature"`

	// InputCostPerToken is the input price in USD per token.
	InputCostPerToken float64 `json:"input_cost_per_token"`

	// OutputCostPerToken is the output price in USD per token.
	OutputCostPerToken float64 `json:"output_cost_per_token"`
}

// Provider is the uniform capability contract every adapter satisfies.
//
// All methods accept a context.Context for cancellation and timeout
// control. Implementations must respect context cancellation.
type Provider interface {
	// Complete sends a completion request and returns the normalized
	// response. Transport failures are returned as classified errors.
	Complete(ctx context.Context, req *Request) (*Response, error)

	// Stream sends a streaming completion request. The returned channel
	// yields chunks until the stream ends; the caller must drain it.
	// A stream error is delivered as the final chunk's Err field.
	Stream(ctx context.Context, req *Request) (<-chan *StreamChunk, error)

	// HealthCheck probes the provider with a lightweight request.
	// Returns nil when the provider is reachable and responding.
	HealthCheck(ctx context.Context) error

	// ListModels returns the names of the models this adapter serves.
	ListModels() []string

	// ModelInfo returns the configuration-derived info for one model.
	ModelInfo(name string) (*ModelInfo, error)

	// Name returns the provider name (e.g. "openai").
	Name() string

	// Close releases adapter resources. The adapter must not be used
	// after Close.
	Close() error
}
