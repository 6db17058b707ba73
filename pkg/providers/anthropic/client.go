// Package anthropic implements the adapter for Anthropic's Messages API.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"caremesh/modelguard/pkg/providers"
)

const (
	// apiVersion is the Anthropic API version header value.
	apiVersion = "2023-06-01"

	defaultEndpoint = "https://api.anthropic.com"
)

// Adapter is the Anthropic provider adapter.
type Adapter struct {
	*providers.HTTPAdapter
}

// New creates an Anthropic adapter.
func New(config providers.Config) (*Adapter, error) {
	if config.APIKey == "" {
		return nil, &providers.ClassifiedError{
			Kind:     providers.ErrAuthFailure,
			Provider: config.Name,
			Message:  "API key is required",
		}
	}
	if config.Endpoint == "" {
		config.Endpoint = defaultEndpoint
	}

	a := &Adapter{HTTPAdapter: providers.NewHTTPAdapter(config)}

	slog.Info("anthropic adapter initialized",
		"provider", config.Name,
		"endpoint", config.Endpoint,
		"models", len(config.Models),
	)

	return a, nil
}

// Complete sends a completion request to the Messages API.
func (a *Adapter) Complete(ctx context.Context, req *providers.Request) (*providers.Response, error) {
	wire := buildRequest(req)

	start := time.Now()
	var resp messagesResponse
	url := fmt.Sprintf("%s/v1/messages", a.Config().Endpoint)
	if err := a.DoJSON(ctx, http.MethodPost, url, a.headers(), wire, &resp); err != nil {
		return nil, attachModel(err, req.Model)
	}

	out := &providers.Response{
		Content:      resp.text(),
		FinishReason: normalizeStopReason(resp.StopReason),
		Model:        resp.Model,
		Latency:      time.Since(start),
		Usage: providers.Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
	}

	slog.Debug("completion succeeded",
		"provider", a.Name(),
		"model", out.Model,
		"tokens", out.Usage.Total(),
		"latency", out.Latency,
	)

	return out, nil
}

// Stream sends a streaming completion request.
func (a *Adapter) Stream(ctx context.Context, req *providers.Request) (<-chan *providers.StreamChunk, error) {
	wire := buildRequest(req)
	wire.Stream = true

	url := fmt.Sprintf("%s/v1/messages", a.Config().Endpoint)
	resp, err := a.DoStream(ctx, http.MethodPost, url, a.headers(), wire)
	if err != nil {
		return nil, attachModel(err, req.Model)
	}

	chunks := make(chan *providers.StreamChunk)
	go a.readStream(ctx, resp.Body, req.Model, chunks)
	return chunks, nil
}

// readStream consumes the SSE event stream and forwards normalized chunks.
func (a *Adapter) readStream(ctx context.Context, body io.ReadCloser, model string, chunks chan<- *providers.StreamChunk) {
	defer close(chunks)

	scanner := providers.NewSSEScanner(body)
	defer scanner.Close()

	var usage providers.Usage
	for {
		data, err := scanner.Next()
		if err == io.EOF {
			return
		}
		if err != nil {
			a.emit(ctx, chunks, &providers.StreamChunk{Err: providers.Classify(a.Name(), model, err)})
			return
		}

		var event streamEvent
		if jerr := json.Unmarshal([]byte(data), &event); jerr != nil {
			continue
		}

		switch event.Type {
		case "message_start":
			if event.Message != nil {
				usage.InputTokens = event.Message.Usage.InputTokens
			}
		case "content_block_delta":
			if event.Delta != nil && event.Delta.Text != "" {
				if !a.emit(ctx, chunks, &providers.StreamChunk{Delta: event.Delta.Text}) {
					return
				}
			}
		case "message_delta":
			if event.Usage != nil {
				usage.OutputTokens = event.Usage.OutputTokens
			}
			if event.Delta != nil && event.Delta.StopReason != "" {
				u := usage
				a.emit(ctx, chunks, &providers.StreamChunk{
					FinishReason: normalizeStopReason(event.Delta.StopReason),
					Usage:        &u,
				})
			}
		case "message_stop":
			return
		case "error":
			msg := "stream error"
			if event.Error != nil {
				msg = event.Error.Message
			}
			a.emit(ctx, chunks, &providers.StreamChunk{Err: &providers.ClassifiedError{
				Kind:      providers.ErrUnknown,
				Provider:  a.Name(),
				Model:     model,
				Retryable: false,
				Message:   msg,
			}})
			return
		}
	}
}

// emit sends a chunk respecting context cancellation.
func (a *Adapter) emit(ctx context.Context, chunks chan<- *providers.StreamChunk, chunk *providers.StreamChunk) bool {
	select {
	case chunks <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

// HealthCheck issues a minimal single-token request against the default
// model. Anthropic has no unauthenticated models endpoint, so a tiny
// message round-trip is the cheapest end-to-end probe.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	model := a.DefaultModel()
	if model == "" {
		return &providers.ClassifiedError{
			Kind:     providers.ErrInvalidRequest,
			Provider: a.Name(),
			Message:  "no models configured",
		}
	}

	wire := &messagesRequest{
		Model:     model,
		MaxTokens: 1,
		Messages:  []message{{Role: "user", Content: "ping"}},
	}

	var resp messagesResponse
	url := fmt.Sprintf("%s/v1/messages", a.Config().Endpoint)
	return a.DoJSON(ctx, http.MethodPost, url, a.headers(), wire, &resp)
}

func (a *Adapter) headers() map[string]string {
	return map[string]string{
		"x-api-key":         a.Config().APIKey,
		"anthropic-version": apiVersion,
	}
}

// attachModel fills in the model on a classified error when the adapter
// knows it and the classifier did not.
func attachModel(err error, model string) error {
	if ce, ok := err.(*providers.ClassifiedError); ok && ce.Model == "" {
		ce.Model = model
	}
	return err
}
