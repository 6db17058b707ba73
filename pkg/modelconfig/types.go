// Package modelconfig owns the model configuration records and the
// in-process cache that serves them with decrypted credentials.
package modelconfig

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a model configuration does not exist.
var ErrNotFound = errors.New("model configuration not found")

// ModelConfig is one administratively managed model entry. The
// credential is stored encrypted ("ivHex:cipherHex") and is never
// persisted or logged in plaintext.
type ModelConfig struct {
	// ID is the configuration identifier.
	ID string `json:"id"`

	// Name is the unique model name ("gpt-4o", "claude-sonnet-4-5").
	Name string `json:"name"`

	// Provider is the backing provider name ("openai", "anthropic",
	// "gemini", "deepseek", "qwen").
	Provider string `json:"provider"`

	// EncryptedAPIKey is the encrypted credential.
	EncryptedAPIKey string `json:"-"`

	// Endpoint overrides the provider default base URL when set.
	Endpoint string `json:"endpoint,omitempty"`

	// Temperature is the default sampling temperature.
	Temperature float64 `json:"temperature"`

	// MaxTokens is the default completion budget.
	MaxTokens int `json:"max_tokens"`

	// InputCostPerToken and OutputCostPerToken are USD per token.
	InputCostPerToken  float64 `json:"input_cost_per_token"`
	OutputCostPerToken float64 `json:"output_cost_per_token"`

	// RateLimitPerMinute and RateLimitPerDay are request budgets.
	RateLimitPerDay    int `json:"rate_limit_per_day"`
	RateLimitPerMinute int `json:"rate_limit_per_minute"`

	// Active marks the configuration as servable.
	Active bool `json:"active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store is the persistent model configuration table.
type Store interface {
	CreateModelConfig(ctx context.Context, cfg *ModelConfig) error
	UpdateModelConfig(ctx context.Context, cfg *ModelConfig) error
	GetModelConfigByID(ctx context.Context, id string) (*ModelConfig, error)
	GetModelConfigByName(ctx context.Context, name string) (*ModelConfig, error)
	ListActiveModelConfigs(ctx context.Context) ([]*ModelConfig, error)
	DeleteModelConfig(ctx context.Context, id string) error
}

// Decrypter decrypts stored credentials. Satisfied by security.Cipher.
type Decrypter interface {
	Decrypt(encrypted string) (string, error)
}
