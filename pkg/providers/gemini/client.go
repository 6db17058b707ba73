// Package gemini implements the adapter for Google's Gemini
// generateContent API.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"caremesh/modelguard/pkg/providers"
)

const defaultEndpoint = "https://generativelanguage.googleapis.com"

// Adapter is the Gemini provider adapter.
type Adapter struct {
	*providers.HTTPAdapter
}

// New creates a Gemini adapter.
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

	slog.Info("gemini adapter initialized",
		"provider", config.Name,
		"endpoint", config.Endpoint,
		"models", len(config.Models),
	)

	return a, nil
}

// Complete sends a generateContent request.
func (a *Adapter) Complete(ctx context.Context, req *providers.Request) (*providers.Response, error) {
	wire := buildRequest(req)

	start := time.Now()
	var resp generateResponse
	endpoint := a.methodURL(req.Model, "generateContent", false)
	if err := a.DoJSON(ctx, http.MethodPost, endpoint, nil, wire, &resp); err != nil {
		return nil, err
	}

	if len(resp.Candidates) == 0 {
		return nil, &providers.ClassifiedError{
			Kind:     providers.ErrUnknown,
			Provider: a.Name(),
			Model:    req.Model,
			Message:  "response contained no candidates",
		}
	}

	candidate := resp.Candidates[0]
	return &providers.Response{
		Content:      candidate.text(),
		FinishReason: normalizeFinishReason(candidate.FinishReason),
		Model:        req.Model,
		Latency:      time.Since(start),
		Usage: providers.Usage{
			InputTokens:  resp.UsageMetadata.PromptTokenCount,
			OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
		},
	}, nil
}

// Stream sends a streamGenerateContent request over SSE.
func (a *Adapter) Stream(ctx context.Context, req *providers.Request) (<-chan *providers.StreamChunk, error) {
	wire := buildRequest(req)

	endpoint := a.methodURL(req.Model, "streamGenerateContent", true)
	resp, err := a.DoStream(ctx, http.MethodPost, endpoint, nil, wire)
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

		var resp generateResponse
		if jerr := json.Unmarshal([]byte(data), &resp); jerr != nil {
			continue
		}
		if len(resp.Candidates) == 0 {
			continue
		}

		candidate := resp.Candidates[0]
		chunk := &providers.StreamChunk{Delta: candidate.text()}
		if candidate.FinishReason != "" {
			chunk.FinishReason = normalizeFinishReason(candidate.FinishReason)
			chunk.Usage = &providers.Usage{
				InputTokens:  resp.UsageMetadata.PromptTokenCount,
				OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
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
	endpoint := fmt.Sprintf("%s/v1beta/models?key=%s&pageSize=1",
		a.Config().Endpoint, url.QueryEscape(a.Config().APIKey))
	var out json.RawMessage
	return a.DoJSON(ctx, http.MethodGet, endpoint, nil, nil, &out)
}

// methodURL builds a model method URL with the API key query parameter.
func (a *Adapter) methodURL(model, method string, sse bool) string {
	u := fmt.Sprintf("%s/v1beta/models/%s:%s?key=%s",
		a.Config().Endpoint, url.PathEscape(model), method, url.QueryEscape(a.Config().APIKey))
	if sse {
		u += "&alt=sse"
	}
	return u
}
