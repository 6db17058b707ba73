// Package registry builds one adapter per active provider and tracks
// each provider's health status for request routing.
package registry

import (
	"fmt"
	"time"

	"caremesh/modelguard/pkg/modelconfig"
	"caremesh/modelguard/pkg/providers"
	"caremesh/modelguard/pkg/providers/anthropic"
	"caremesh/modelguard/pkg/providers/gemini"
	"caremesh/modelguard/pkg/providers/generic"
	"caremesh/modelguard/pkg/providers/openai"
)

// defaultEndpoints supplies base URLs for providers that ride the
// OpenAI-compatible adapter and therefore have no built-in default.
var defaultEndpoints = map[string]string{
	"deepseek": "https://api.deepseek.com/v1",
	"qwen":     "https://dashscope.aliyuncs.com/compatible-mode/v1",
}

// newAdapter constructs the adapter for one provider name. OpenAI,
// Anthropic, and Gemini get their dedicated adapters; every other name
// (DeepSeek, Qwen, self-hosted endpoints) gets the OpenAI-compatible
// generic adapter.
func newAdapter(config providers.Config) (providers.Provider, error) {
	switch config.Name {
	case "openai":
		return openai.New(config)
	case "anthropic":
		return anthropic.New(config)
	case "gemini":
		return gemini.New(config)
	default:
		if config.Endpoint == "" {
			config.Endpoint = defaultEndpoints[config.Name]
		}
		return generic.New(config)
	}
}

// buildAdapterConfig assembles one adapter configuration from the cached
// entries of a single provider. The first entry's credential and
// endpoint apply to the whole adapter; per-model settings become the
// adapter's model list.
func buildAdapterConfig(provider string, entries []*modelconfig.Entry, timeout time.Duration) (providers.Config, error) {
	if len(entries) == 0 {
		return providers.Config{}, fmt.Errorf("provider %q has no active models", provider)
	}

	config := providers.Config{
		Name:    provider,
		APIKey:  entries[0].APIKey,
		Timeout: timeout,
	}

	for _, entry := range entries {
		if config.Endpoint == "" {
			config.Endpoint = entry.Endpoint
		}
		config.Models = append(config.Models, providers.ModelInfo{
			Name:               entry.Name,
			Provider:           provider,
			MaxTokens:          entry.MaxTokens,
			Temperature:        entry.Temperature,
			InputCostPerToken:  entry.InputCostPerToken,
			OutputCostPerToken: entry.OutputCostPerToken,
		})
	}

	return config, nil
}
