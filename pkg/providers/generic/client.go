// Package generic implements the adapter for OpenAI-compatible chat
// completion APIs. It serves the DeepSeek and Qwen backends as well as
// self-hosted endpoints (Ollama, vLLM, LM Studio).
package generic

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

// Adapter is the generic OpenAI-compatible adapter.
type Adapter struct {
	*providers.HTTPAdapter
}

// New creates a generic adapter. An endpoint is mandatory because there is
// no sensible default for an OpenAI-compatible backend.
func New(config providers.Config) (*Adapter, error) {
	if config.Endpoint == "" {
		return nil, &providers.ClassifiedError{
			Kind:     providers.ErrInvalidRequest,
			Provider: config.Name,
			Message:  "endpoint is required for OpenAI-compatible providers",
		}
	}

	a := &Adapter{HTTPAdapter: providers.NewHTTPAdapter(config)}

	slog.Info("generic adapter initialized",
		"provider", config.Name,
		"endpoint", config.Endpoint,
		"models", len(config.Models),
	)

	return a, nil
}

// Complete sends a chat completion request.
func (a *Adapter) Complete(ctx context.Context, req *providers.Request) (*providers.Response, error) {
	wire := buildRequest(req, false)

	start := time.Now()
	var resp chatResponse
	url := fmt.Sprintf("%s/chat/completions", a.Config().Endpoint)
	if err := a.DoJSON(ctx, http.MethodPost, url, a.headers(), wire, &resp); err != nil {
		return nil, err
	}

	if len(resp.Choices) == 0 {
		return nil, &providers.ClassifiedError{
			Kind:     providers.ErrUnknown,
			Provider: a.Name(),
			Model:    req.Model,
			Message:  "response contained no choices",
		}
	}

	choice := resp.Choices[0]
	return &providers.Response{
		Content:      choice.Message.Content,
		FinishReason: choice.FinishReason,
		Model:        resp.Model,
		Latency:      time.Since(start),
		Usage: providers.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

// Stream sends a streaming chat completion request.
func (a *Adapter) Stream(ctx context.Context, req *providers.Request) (<-chan *providers.StreamChunk, error) {
	wire := buildRequest(req, true)

	url := fmt.Sprintf("%s/chat/completions", a.Config().Endpoint)
	resp, err := a.DoStream(ctx, http.MethodPost, url, a.headers(), wire)
	if err != nil {
		return nil, err
	}

	chunks := make(chan *providers.StreamChunk)
	go a.readStream(ctx, resp.Body, req.Model, chunks)
	return chunks, nil
}

func (a *Adapter) readStream(ctx context.Context, body io.ReadCloser, model string, chunks chan<- *providers.StreamChunk) {
	defer close(chunks)

	scanner := providers.NewSSEScanner(body)
	defer scanner.Close()

	for {
		data, err := scanner.Next()
		if err == io.EOF {
			return
		}
		if err != nil {
			select {
			case chunks <- &providers.StreamChunk{Err: providers.Classify(a.Name(), model, err)}:
			case <-ctx.Done():
			}
			return
		}

		var sc streamChunk
		if jerr := json.Unmarshal([]byte(data), &sc); jerr != nil {
			continue
		}
		if len(sc.Choices) == 0 {
			continue
		}

		choice := sc.Choices[0]
		chunk := &providers.StreamChunk{
			Delta:        choice.Delta.Content,
			FinishReason: choice.FinishReason,
		}
		if sc.Usage != nil {
			chunk.Usage = &providers.Usage{
				InputTokens:  sc.Usage.PromptTokens,
				OutputTokens: sc.Usage.CompletionTokens,
			}
		}

		select {
		case chunks <- chunk:
		case <-ctx.Done():
			return
		}
	}
}

// HealthCheck lists the models endpoint.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	url := fmt.Sprintf("%s/models", a.Config().Endpoint)
	var out json.RawMessage
	return a.DoJSON(ctx, http.MethodGet, url, a.headers(), nil, &out)
}

func (a *Adapter) headers() map[string]string {
	headers := map[string]string{}
	if key := a.Config().APIKey; key != "" {
		headers["Authorization"] = "Bearer " + key
	}
	return headers
}
