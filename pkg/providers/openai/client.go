// Package openai implements the OpenAI adapter on top of the
// sashabaranov/go-openai client.
package openai

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"caremesh/modelguard/pkg/providers"
)

// Adapter is the OpenAI provider adapter.
type Adapter struct {
	config providers.Config
	client *goopenai.Client
}

// New creates an OpenAI adapter.
func New(config providers.Config) (*Adapter, error) {
	if config.APIKey == "" {
		return nil, &providers.ClassifiedError{
			Kind:     providers.ErrAuthFailure,
			Provider: config.Name,
			Message:  "API key is required",
		}
	}

	clientCfg := goopenai.DefaultConfig(config.APIKey)
	if config.Endpoint != "" {
		clientCfg.BaseURL = config.Endpoint
	}

	a := &Adapter{
		config: config,
		client: goopenai.NewClientWithConfig(clientCfg),
	}

	slog.Info("openai adapter initialized",
		"provider", config.Name,
		"models", len(config.Models),
	)

	return a, nil
}

// Complete sends a chat completion request.
func (a *Adapter) Complete(ctx context.Context, req *providers.Request) (*providers.Response, error) {
	start := time.Now()

	resp, err := a.client.CreateChatCompletion(ctx, buildRequest(req, false))
	if err != nil {
		return nil, a.classify(err, req.Model)
	}

	if len(resp.Choices) == 0 {
		return nil, &providers.ClassifiedError{
			Kind:     providers.ErrUnknown,
			Provider: a.config.Name,
			Model:    req.Model,
			Message:  "response contained no choices",
		}
	}

	choice := resp.Choices[0]
	out := &providers.Response{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Model:        resp.Model,
		Latency:      time.Since(start),
		Usage: providers.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}

	slog.Debug("completion succeeded",
		"provider", a.config.Name,
		"model", out.Model,
		"tokens", out.Usage.Total(),
		"latency", out.Latency,
	)

	return out, nil
}

// Stream sends a streaming chat completion request.
func (a *Adapter) Stream(ctx context.Context, req *providers.Request) (<-chan *providers.StreamChunk, error) {
	stream, err := a.client.CreateChatCompletionStream(ctx, buildRequest(req, true))
	if err != nil {
		return nil, a.classify(err, req.Model)
	}

	chunks := make(chan *providers.StreamChunk)
	go func() {
		defer close(chunks)
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				select {
				case chunks <- &providers.StreamChunk{Err: a.classify(err, req.Model)}:
				case <-ctx.Done():
				}
				return
			}

			if len(resp.Choices) == 0 {
				continue
			}
			choice := resp.Choices[0]

			chunk := &providers.StreamChunk{Delta: choice.Delta.Content}
			if choice.FinishReason != "" {
				chunk.FinishReason = string(choice.FinishReason)
			}

			select {
			case chunks <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()

	return chunks, nil
}

// HealthCheck lists models, the cheapest authenticated round-trip.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	_, err := a.client.ListModels(ctx)
	if err != nil {
		return a.classify(err, "")
	}
	return nil
}

// ListModels returns the configured model names.
func (a *Adapter) ListModels() []string {
	names := make([]string, 0, len(a.config.Models))
	for _, m := range a.config.Models {
		names = append(names, m.Name)
	}
	return names
}

// ModelInfo returns the info for one model.
func (a *Adapter) ModelInfo(name string) (*providers.ModelInfo, error) {
	for i := range a.config.Models {
		if a.config.Models[i].Name == name {
			info := a.config.Models[i]
			return &info, nil
		}
	}
	return nil, &providers.ModelNotFoundError{Provider: a.config.Name, Model: name}
}

// Name returns the provider name.
func (a *Adapter) Name() string {
	return a.config.Name
}

// Close releases adapter resources. The SDK client holds no long-lived
// connections beyond the transport pool, so there is nothing to tear down.
func (a *Adapter) Close() error {
	return nil
}

// classify maps SDK errors to the taxonomy.
func (a *Adapter) classify(err error, model string) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return providers.ClassifyStatus(a.config.Name, model, apiErr.HTTPStatusCode, apiErr.Message)
	}

	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return providers.ClassifyStatus(a.config.Name, model, reqErr.HTTPStatusCode, reqErr.Error())
	}

	return providers.Classify(a.config.Name, model, err)
}

// buildRequest maps a normalized request to the SDK request type.
func buildRequest(req *providers.Request, stream bool) goopenai.ChatCompletionRequest {
	messages := make([]goopenai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, goopenai.ChatCompletionMessage{
			Role:    goopenai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, goopenai.ChatCompletionMessage{
		Role:    goopenai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	return goopenai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
		Stop:        req.Stop,
		Stream:      stream,
	}
}
