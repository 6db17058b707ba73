package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Config is the runtime configuration for one adapter. It is assembled by
// the registry from the active model configurations of a single provider;
// APIKey arrives already decrypted and must never be logged.
type Config struct {
	// Name is the provider name ("openai", "anthropic", ...).
	Name string

	// Endpoint is the provider base URL.
	Endpoint string

	// APIKey is the decrypted credential.
	APIKey string

	// Timeout is the per-request timeout.
	Timeout time.Duration

	// MaxIdleConns and MaxIdleConnsPerHost size the connection pool.
	MaxIdleConns        int
	MaxIdleConnsPerHost int

	// Models are the active models this adapter serves.
	Models []ModelInfo
}

// ModelNotFoundError is returned by ModelInfo for unknown model names.
type ModelNotFoundError struct {
	Provider string
	Model    string
}

// Error implements the error interface.
func (e *ModelNotFoundError) Error() string {
	return fmt.Sprintf("provider %q does not serve model %q", e.Provider, e.Model)
}

// HTTPAdapter is the shared base for HTTP-backed adapters. It owns the
// pooled HTTP client and the JSON request helper; concrete adapters embed
// it and implement Complete, Stream, and HealthCheck.
//
// HTTPAdapter performs no retries itself. Retry policy lives with the
// caller so a single logical call is never retried in two places.
type HTTPAdapter struct {
	config Config
	client *http.Client
}

// NewHTTPAdapter creates the base adapter with a pooled HTTP client.
func NewHTTPAdapter(config Config) *HTTPAdapter {
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}
	if config.MaxIdleConns == 0 {
		config.MaxIdleConns = 20
	}
	if config.MaxIdleConnsPerHost == 0 {
		config.MaxIdleConnsPerHost = 10
	}

	transport := &http.Transport{
		MaxIdleConns:        config.MaxIdleConns,
		MaxIdleConnsPerHost: config.MaxIdleConnsPerHost,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}

	return &HTTPAdapter{
		config: config,
		client: &http.Client{
			Transport: transport,
			Timeout:   config.Timeout,
		},
	}
}

// Name returns the provider name.
func (a *HTTPAdapter) Name() string {
	return a.config.Name
}

// Config returns the adapter configuration.
func (a *HTTPAdapter) Config() Config {
	return a.config
}

// ListModels returns the names of the models this adapter serves.
func (a *HTTPAdapter) ListModels() []string {
	names := make([]string, 0, len(a.config.Models))
	for _, m := range a.config.Models {
		names = append(names, m.Name)
	}
	return names
}

// ModelInfo returns the info for one model by name.
func (a *HTTPAdapter) ModelInfo(name string) (*ModelInfo, error) {
	for i := range a.config.Models {
		if a.config.Models[i].Name == name {
			info := a.config.Models[i]
			return &info, nil
		}
	}
	return nil, &ModelNotFoundError{Provider: a.config.Name, Model: name}
}

// DefaultModel returns the first configured model name, used for
// lightweight health probes. Empty when no models are configured.
func (a *HTTPAdapter) DefaultModel() string {
	if len(a.config.Models) == 0 {
		return ""
	}
	return a.config.Models[0].Name
}

// DoJSON performs a JSON HTTP request and decodes the response into out.
// Non-2xx responses and transport failures are returned as classified
// errors; callers can hand them straight to the retry handler.
func (a *HTTPAdapter) DoJSON(ctx context.Context, method, url string, headers map[string]string, in, out any) error {
	var bodyReader io.Reader
	if in != nil {
		body, err := json.Marshal(in)
		if err != nil {
			return &ClassifiedError{
				Kind:     ErrInvalidRequest,
				Provider: a.config.Name,
				Message:  fmt.Sprintf("marshal request: %v", err),
				Cause:    err,
			}
		}
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return &ClassifiedError{
			Kind:     ErrInvalidRequest,
			Provider: a.config.Name,
			Message:  fmt.Sprintf("build request: %v", err),
			Cause:    err,
		}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if req.Header.Get("Content-Type") == "" && in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return Classify(a.config.Name, "", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Classify(a.config.Name, "", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ClassifyStatus(a.config.Name, "", resp.StatusCode, truncateBody(respBody))
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return &ClassifiedError{
				Kind:     ErrUnknown,
				Provider: a.config.Name,
				Message:  fmt.Sprintf("decode response: %v", err),
				Cause:    err,
			}
		}
	}

	return nil
}

// DoStream performs a streaming HTTP request and returns the raw response
// for the caller to consume as server-sent events. The caller owns closing
// the body.
func (a *HTTPAdapter) DoStream(ctx context.Context, method, url string, headers map[string]string, in any) (*http.Response, error) {
	var bodyReader io.Reader
	if in != nil {
		body, err := json.Marshal(in)
		if err != nil {
			return nil, &ClassifiedError{
				Kind:     ErrInvalidRequest,
				Provider: a.config.Name,
				Message:  fmt.Sprintf("marshal request: %v", err),
				Cause:    err,
			}
		}
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, &ClassifiedError{
			Kind:     ErrInvalidRequest,
			Provider: a.config.Name,
			Message:  fmt.Sprintf("build request: %v", err),
			Cause:    err,
		}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if req.Header.Get("Content-Type") == "" && in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, Classify(a.config.Name, "", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, ClassifyStatus(a.config.Name, "", resp.StatusCode, truncateBody(body))
	}

	return resp, nil
}

// Close releases idle connections.
func (a *HTTPAdapter) Close() error {
	a.client.CloseIdleConnections()
	slog.Debug("adapter closed", "provider", a.config.Name)
	return nil
}

// truncateBody bounds error bodies recorded in classified errors.
func truncateBody(b []byte) string {
	const max = 500
	if len(b) <= max {
		return string(b)
	}
	return string(b[:max]) + "..."
}
