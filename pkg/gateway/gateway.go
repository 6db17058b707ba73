// Package gateway is the call-path facade. It resolves the model
// configuration, enforces access, executes the provider call under the
// retry policy, and fans the outcome into monitoring, metrics, and the
// asynchronous log recorder.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"caremesh/modelguard/pkg/auditlog"
	"caremesh/modelguard/pkg/health"
	"caremesh/modelguard/pkg/modelconfig"
	"caremesh/modelguard/pkg/monitor"
	"caremesh/modelguard/pkg/providers"
	"caremesh/modelguard/pkg/registry"
	"caremesh/modelguard/pkg/retry"
	"caremesh/modelguard/pkg/security"
	"caremesh/modelguard/pkg/telemetry/metrics"
)

// Gateway composes the resilience layer around provider calls.
type Gateway struct {
	cache     *modelconfig.Cache
	registry  *registry.Registry
	health    *health.Scheduler
	retrier   *retry.Handler
	access    *security.AccessControl
	monitor   *monitor.Monitor
	recorder  *auditlog.Recorder
	logStore  auditlog.Store
	collector *metrics.Collector

	logger *slog.Logger
}

// Deps carries the collaborators the gateway composes. All fields are
// required except Collector.
type Deps struct {
	Cache     *modelconfig.Cache
	Registry  *registry.Registry
	Health    *health.Scheduler
	Access    *security.AccessControl
	Monitor   *monitor.Monitor
	Recorder  *auditlog.Recorder
	LogStore  auditlog.Store
	Collector *metrics.Collector
}

// New creates the gateway. Retry decisions are recorded through the
// async recorder.
func New(deps Deps, policy retry.Policy) *Gateway {
	g := &Gateway{
		cache:     deps.Cache,
		registry:  deps.Registry,
		health:    deps.Health,
		access:    deps.Access,
		monitor:   deps.Monitor,
		recorder:  deps.Recorder,
		logStore:  deps.LogStore,
		collector: deps.Collector,
		logger:    slog.Default().With("component", "gateway"),
	}

	g.retrier = retry.NewHandler(policy, func(ev retry.Event) {
		g.recorder.RecordRetry(&auditlog.RetryLog{
			Model:        ev.Model,
			Provider:     ev.Provider,
			Attempt:      ev.Attempt,
			MaxAttempts:  ev.MaxAttempts,
			ErrorCode:    string(ev.Kind),
			ErrorMessage: ev.Message,
		})
	})

	return g
}

// Call executes a completion request against the model's provider with
// retries. The request's model name selects the configuration; request
// defaults missing temperature and token budget from it.
func (g *Gateway) Call(ctx context.Context, req *providers.Request) (*providers.Response, error) {
	entry, err := g.resolve(ctx, req)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	var resp *providers.Response

	callErr := g.retrier.Do(ctx, entry.Provider, req.Model, func(ctx context.Context) error {
		adapter, err := g.registry.GetProvider(entry.Provider)
		if err != nil {
			return err
		}
		r, err := adapter.Complete(ctx, req)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})

	latencyMs := float64(time.Since(started).Milliseconds())
	g.finishCall(ctx, entry, req, resp, latencyMs, callErr)

	if callErr != nil {
		return nil, callErr
	}
	return resp, nil
}

// CallWithFallback executes the request and, when the primary model
// fails, walks the fallback models in order until one succeeds. Every
// successful fallback is recorded as a degradation.
func (g *Gateway) CallWithFallback(ctx context.Context, req *providers.Request, fallbacks []string) (*providers.Response, error) {
	resp, err := g.Call(ctx, req)
	if err == nil {
		return resp, nil
	}

	// Requests the caller got wrong will fail on every model.
	if providers.KindOf(err) == providers.ErrInvalidRequest {
		return nil, err
	}

	primary := req.Model
	primaryProvider := ""
	if entry, cerr := g.cache.Get(primary); cerr == nil {
		primaryProvider = entry.Provider
	}
	reason := err.Error()

	for _, name := range fallbacks {
		if ctx.Err() != nil {
			return nil, providers.Classify(primaryProvider, primary, ctx.Err())
		}

		fbReq := *req
		fbReq.Model = name
		// Per-model defaults differ; let resolve refill them.
		fbReq.Temperature = 0
		fbReq.MaxTokens = 0

		resp, ferr := g.Call(ctx, &fbReq)
		if ferr != nil {
			g.logger.Warn("fallback model failed",
				"requested_model", primary,
				"fallback_model", name,
				"error", ferr,
			)
			continue
		}

		entry, _ := g.cache.Get(name)
		actualProvider := ""
		if entry != nil {
			actualProvider = entry.Provider
		}
		g.recorder.RecordDegradation(&auditlog.DegradationLog{
			RequestedModel:    primary,
			RequestedProvider: primaryProvider,
			ActualModel:       name,
			ActualProvider:    actualProvider,
			Reason:            reason,
		})
		g.logger.Info("call degraded to fallback model",
			"requested_model", primary,
			"actual_model", name,
		)
		return resp, nil
	}

	return nil, err
}

// Stream executes a streaming completion request. Streams are not
// retried: once chunks may have been delivered the call is no longer
// idempotent. The outcome is recorded when the stream ends.
func (g *Gateway) Stream(ctx context.Context, req *providers.Request) (<-chan *providers.StreamChunk, error) {
	entry, err := g.resolve(ctx, req)
	if err != nil {
		return nil, err
	}

	adapter, err := g.registry.GetProvider(entry.Provider)
	if err != nil {
		g.finishCall(ctx, entry, req, nil, 0, err)
		return nil, err
	}

	started := time.Now()
	upstream, err := adapter.Stream(ctx, req)
	if err != nil {
		classified := providers.Classify(entry.Provider, req.Model, err)
		g.finishCall(ctx, entry, req, nil, float64(time.Since(started).Milliseconds()), classified)
		return nil, classified
	}

	out := make(chan *providers.StreamChunk)
	go func() {
		defer close(out)

		var usage providers.Usage
		var streamErr error

		for chunk := range upstream {
			if chunk.Usage != nil {
				usage = *chunk.Usage
			}
			if chunk.Err != nil {
				streamErr = providers.Classify(entry.Provider, req.Model, chunk.Err)
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				streamErr = providers.Classify(entry.Provider, req.Model, ctx.Err())
				g.record(ctx, entry, req, usage, float64(time.Since(started).Milliseconds()), streamErr)
				return
			}
		}

		g.record(ctx, entry, req, usage, float64(time.Since(started).Milliseconds()), streamErr)
	}()

	return out, nil
}

// resolve maps the request's model name to its cached configuration,
// enforces access when a user is attached, and fills request defaults.
func (g *Gateway) resolve(ctx context.Context, req *providers.Request) (*modelconfig.Entry, error) {
	if req.Model == "" {
		return nil, &providers.ClassifiedError{
			Kind:      providers.ErrInvalidRequest,
			Retryable: false,
			Message:   "request has no model",
		}
	}

	entry, err := g.cache.Get(req.Model)
	if err != nil {
		return nil, &providers.ClassifiedError{
			Kind:      providers.ErrInvalidRequest,
			Model:     req.Model,
			Retryable: false,
			Message:   fmt.Sprintf("unknown model %q", req.Model),
			Cause:     err,
		}
	}

	if req.UserID != "" {
		if err := g.access.EnforceAccess(ctx, req.UserID, entry.ID); err != nil {
			return nil, err
		}
	}

	if req.Temperature == 0 {
		req.Temperature = entry.Temperature
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = entry.MaxTokens
	}

	return entry, nil
}

// finishCall records the outcome of a non-streaming call.
func (g *Gateway) finishCall(ctx context.Context, entry *modelconfig.Entry, req *providers.Request, resp *providers.Response, latencyMs float64, callErr error) {
	var usage providers.Usage
	if resp != nil {
		usage = resp.Usage
	}
	g.record(ctx, entry, req, usage, latencyMs, callErr)
}

// record fans one call outcome into monitoring, metrics, usage
// accounting, and the call log. All writes are best-effort.
func (g *Gateway) record(ctx context.Context, entry *modelconfig.Entry, req *providers.Request, usage providers.Usage, latencyMs float64, callErr error) {
	success := callErr == nil

	if err := g.monitor.RecordMetrics(req.Model, entry.Provider, latencyMs, success); err != nil {
		g.logger.Warn("metrics recording rejected", "model", req.Model, "error", err)
	}

	// Latency and outcome reach the collector through the monitor;
	// error kinds are counted here.
	if g.collector != nil && !success {
		g.collector.CountError(entry.Provider, string(providers.KindOf(callErr)))
	}

	rec := &auditlog.CallLog{
		Model:        req.Model,
		Provider:     entry.Provider,
		Scenario:     req.Scenario,
		AgentType:    req.AgentType,
		UserID:       req.UserID,
		InputTokens:  int64(usage.InputTokens),
		OutputTokens: int64(usage.OutputTokens),
		LatencyMs:    latencyMs,
		Success:      success,
	}
	if callErr != nil {
		rec.ErrorCode = string(providers.KindOf(callErr))
		rec.ErrorMessage = callErr.Error()
	}
	g.recorder.RecordCall(rec)

	if success && req.AgentType != "" && usage.Total() > 0 {
		cost := float64(usage.InputTokens)*entry.InputCostPerToken +
			float64(usage.OutputTokens)*entry.OutputCostPerToken
		g.monitor.RecordUsage(ctx, &monitor.UsageRecord{
			AgentType:    req.AgentType,
			UserID:       req.UserID,
			Model:        req.Model,
			Provider:     entry.Provider,
			InputTokens:  int64(usage.InputTokens),
			OutputTokens: int64(usage.OutputTokens),
			Cost:         cost,
		})
	}
}
