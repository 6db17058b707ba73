package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"caremesh/modelguard/pkg/auditlog"
	"caremesh/modelguard/pkg/modelconfig"
	"caremesh/modelguard/pkg/monitor"
	"caremesh/modelguard/pkg/providers"
	"caremesh/modelguard/pkg/registry"
	"caremesh/modelguard/pkg/retry"
	"caremesh/modelguard/pkg/security"
	"caremesh/modelguard/pkg/storage"
)

type plainDecrypter struct{}

func (plainDecrypter) Decrypt(encrypted string) (string, error) {
	key, ok := strings.CutPrefix(encrypted, "enc:")
	if !ok {
		return "", errors.New("malformed ciphertext")
	}
	return key, nil
}

// completionServer emulates an OpenAI-compatible backend. failures
// rejects that many requests with a 500 before succeeding.
type completionServer struct {
	*httptest.Server
	requests atomic.Int64
	failures atomic.Int64
}

func newCompletionServer(t *testing.T, content string) *completionServer {
	t.Helper()
	cs := &completionServer{}
	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		cs.requests.Add(1)
		if cs.failures.Load() > 0 {
			cs.failures.Add(-1)
			http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"model": "test-model",
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": content},
					"finish_reason": "stop"},
			},
			"usage": map[string]any{"prompt_tokens": 100, "completion_tokens": 40},
		})
	}))
	t.Cleanup(cs.Close)
	return cs
}

type gatewayFixture struct {
	store    *storage.Memory
	cache    *modelconfig.Cache
	registry *registry.Registry
	access   *security.AccessControl
	monitor  *monitor.Monitor
	recorder *auditlog.Recorder
	gateway  *Gateway
}

// modelAt maps a model name to the endpoint serving it. Each endpoint
// becomes its own provider so fallbacks can cross providers.
type modelAt struct {
	ID       string
	Name     string
	Provider string
	Endpoint string
}

func newGatewayFixture(t *testing.T, models ...modelAt) *gatewayFixture {
	t.Helper()
	ctx := context.Background()

	store := storage.NewMemory()
	for _, m := range models {
		err := store.CreateModelConfig(ctx, &modelconfig.ModelConfig{
			ID:                 m.ID,
			Name:               m.Name,
			Provider:           m.Provider,
			EncryptedAPIKey:    "enc:sk-test",
			Endpoint:           m.Endpoint,
			Temperature:        0.4,
			MaxTokens:          2048,
			InputCostPerToken:  0.00001,
			OutputCostPerToken: 0.00003,
			Active:             true,
		})
		if err != nil {
			t.Fatalf("CreateModelConfig(%s) failed: %v", m.Name, err)
		}
	}

	cache := modelconfig.NewCache(store, plainDecrypter{})
	if err := cache.Refresh(ctx); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	reg := registry.New(cache, 0)
	if err := reg.Build(ctx); err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	for _, m := range models {
		reg.SetStatus(m.Provider, true, nil)
	}
	t.Cleanup(func() { reg.Close() })

	recorder := auditlog.NewRecorder(store, auditlog.DefaultRecorderConfig())
	access := security.NewAccessControl(store, recorder, nil)
	if err := access.LoadFromStore(ctx); err != nil {
		t.Fatalf("LoadFromStore failed: %v", err)
	}
	mon := monitor.New(monitor.DefaultConfig(), store, store, nil)

	gw := New(Deps{
		Cache:    cache,
		Registry: reg,
		Access:   access,
		Monitor:  mon,
		Recorder: recorder,
		LogStore: store,
	}, retry.Policy{MaxAttempts: 3, BaseBackoff: time.Millisecond, MaxBackoff: 4 * time.Millisecond})

	return &gatewayFixture{
		store:    store,
		cache:    cache,
		registry: reg,
		access:   access,
		monitor:  mon,
		recorder: recorder,
		gateway:  gw,
	}
}

func TestGateway_Call_Success(t *testing.T) {
	server := newCompletionServer(t, "Assessment: stable.")
	fx := newGatewayFixture(t, modelAt{ID: "mc-1", Name: "local-model", Provider: "selfhosted", Endpoint: server.URL})

	req := &providers.Request{
		Model:     "local-model",
		Prompt:    "Summarize the encounter.",
		Scenario:  "triage",
		AgentType: "triage",
	}
	resp, err := fx.gateway.Call(context.Background(), req)
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if resp.Content != "Assessment: stable." {
		t.Errorf("Unexpected content: %q", resp.Content)
	}
	if resp.Usage.InputTokens != 100 || resp.Usage.OutputTokens != 40 {
		t.Errorf("Unexpected usage: %+v", resp.Usage)
	}

	// Missing sampling parameters come from the model configuration.
	if req.Temperature != 0.4 || req.MaxTokens != 2048 {
		t.Errorf("Expected defaults filled from configuration, got temp %f, max tokens %d",
			req.Temperature, req.MaxTokens)
	}

	fx.recorder.Close()
	logs, err := fx.store.QueryCallLogs(context.Background(), auditlog.Query{})
	if err != nil {
		t.Fatalf("QueryCallLogs failed: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("Expected 1 call log, got %d", len(logs))
	}
	if !logs[0].Success || logs[0].Provider != "selfhosted" || logs[0].Scenario != "triage" {
		t.Errorf("Unexpected call log: %+v", logs[0])
	}

	// Token usage lands in the accounting store with the per-token cost.
	tokens, cost, err := fx.store.SumUsage(context.Background(), "triage", "", time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("SumUsage failed: %v", err)
	}
	if tokens != 140 {
		t.Errorf("Expected 140 tokens accounted, got %d", tokens)
	}
	wantCost := 100*0.00001 + 40*0.00003
	if cost < wantCost-1e-9 || cost > wantCost+1e-9 {
		t.Errorf("Expected cost %f, got %f", wantCost, cost)
	}

	agg, ok := fx.monitor.GetAggregate("local-model")
	if !ok {
		t.Fatal("Expected an aggregate for local-model")
	}
	if agg.TotalCalls != 1 || agg.SuccessfulCalls != 1 {
		t.Errorf("Unexpected aggregate: %+v", agg)
	}
}

func TestGateway_Call_UnknownModel(t *testing.T) {
	fx := newGatewayFixture(t)

	_, err := fx.gateway.Call(context.Background(), &providers.Request{Model: "no-such-model", Prompt: "hi"})
	if err == nil {
		t.Fatal("Expected error for unknown model")
	}
	var cerr *providers.ClassifiedError
	if !errors.As(err, &cerr) {
		t.Fatalf("Expected *ClassifiedError, got %T", err)
	}
	if cerr.Kind != providers.ErrInvalidRequest || cerr.Retryable {
		t.Errorf("Expected non-retryable INVALID_REQUEST, got %+v", cerr)
	}
}

func TestGateway_Call_EmptyModel(t *testing.T) {
	fx := newGatewayFixture(t)

	_, err := fx.gateway.Call(context.Background(), &providers.Request{Prompt: "hi"})
	if providers.KindOf(err) != providers.ErrInvalidRequest {
		t.Errorf("Expected INVALID_REQUEST for empty model, got %v", err)
	}
}

func TestGateway_Call_RetriesTransientFailures(t *testing.T) {
	server := newCompletionServer(t, "ok")
	server.failures.Store(2)
	fx := newGatewayFixture(t, modelAt{ID: "mc-1", Name: "local-model", Provider: "selfhosted", Endpoint: server.URL})

	resp, err := fx.gateway.Call(context.Background(), &providers.Request{Model: "local-model", Prompt: "hi"})
	if err != nil {
		t.Fatalf("Call should have recovered, got: %v", err)
	}
	if resp.Content != "ok" {
		t.Errorf("Unexpected content: %q", resp.Content)
	}
	if n := server.requests.Load(); n != 3 {
		t.Errorf("Expected 3 requests, got %d", n)
	}

	fx.recorder.Close()
	retries, err := fx.store.QueryRetryLogs(context.Background(), auditlog.Query{})
	if err != nil {
		t.Fatalf("QueryRetryLogs failed: %v", err)
	}
	if len(retries) != 2 {
		t.Fatalf("Expected 2 retry logs, got %d", len(retries))
	}
	for _, rec := range retries {
		if rec.ErrorCode != string(providers.ErrProviderUnavailable) {
			t.Errorf("Expected PROVIDER_UNAVAILABLE retry, got %s", rec.ErrorCode)
		}
	}
}

func TestGateway_Call_ExhaustedRetriesRecordFailure(t *testing.T) {
	server := newCompletionServer(t, "never")
	server.failures.Store(10)
	fx := newGatewayFixture(t, modelAt{ID: "mc-1", Name: "local-model", Provider: "selfhosted", Endpoint: server.URL})

	_, err := fx.gateway.Call(context.Background(), &providers.Request{Model: "local-model", Prompt: "hi"})
	if providers.KindOf(err) != providers.ErrProviderUnavailable {
		t.Fatalf("Expected PROVIDER_UNAVAILABLE, got %v", err)
	}
	if n := server.requests.Load(); n != 3 {
		t.Errorf("Expected the policy bound of 3 requests, got %d", n)
	}

	fx.recorder.Close()
	failed := false
	logs, err := fx.store.QueryCallLogs(context.Background(), auditlog.Query{Success: &failed})
	if err != nil {
		t.Fatalf("QueryCallLogs failed: %v", err)
	}
	if len(logs) != 1 || logs[0].ErrorCode != string(providers.ErrProviderUnavailable) {
		t.Errorf("Expected one failed call log with the error kind, got %+v", logs)
	}
}

func TestGateway_Call_AccessControl(t *testing.T) {
	server := newCompletionServer(t, "ok")
	fx := newGatewayFixture(t, modelAt{ID: "mc-1", Name: "local-model", Provider: "selfhosted", Endpoint: server.URL})

	ctx := context.Background()
	if err := fx.access.GrantUserAccess(ctx, "clinician-1", "mc-1", "admin"); err != nil {
		t.Fatalf("GrantUserAccess failed: %v", err)
	}

	if _, err := fx.gateway.Call(ctx, &providers.Request{
		Model: "local-model", Prompt: "hi", UserID: "clinician-1",
	}); err != nil {
		t.Fatalf("Granted user should pass, got: %v", err)
	}

	_, err := fx.gateway.Call(ctx, &providers.Request{
		Model: "local-model", Prompt: "hi", UserID: "clinician-2",
	})
	var denied *security.AccessDeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("Expected *AccessDeniedError, got %v", err)
	}
}

func TestGateway_CallWithFallback_DegradesToSecondary(t *testing.T) {
	backup := newCompletionServer(t, "from backup")
	fx := newGatewayFixture(t,
		modelAt{ID: "mc-1", Name: "primary-model", Provider: "selfhosted", Endpoint: "http://127.0.0.1:1"},
		modelAt{ID: "mc-2", Name: "backup-model", Provider: "backup", Endpoint: backup.URL},
	)

	resp, err := fx.gateway.CallWithFallback(context.Background(),
		&providers.Request{Model: "primary-model", Prompt: "hi"},
		[]string{"backup-model"})
	if err != nil {
		t.Fatalf("CallWithFallback failed: %v", err)
	}
	if resp.Content != "from backup" {
		t.Errorf("Expected the backup response, got %q", resp.Content)
	}

	fx.recorder.Close()
	degs, err := fx.store.QueryDegradationLogs(context.Background(), auditlog.Query{})
	if err != nil {
		t.Fatalf("QueryDegradationLogs failed: %v", err)
	}
	if len(degs) != 1 {
		t.Fatalf("Expected 1 degradation log, got %d", len(degs))
	}
	deg := degs[0]
	if deg.RequestedModel != "primary-model" || deg.ActualModel != "backup-model" {
		t.Errorf("Unexpected degradation: %+v", deg)
	}
	if deg.RequestedProvider != "selfhosted" || deg.ActualProvider != "backup" {
		t.Errorf("Unexpected providers in degradation: %+v", deg)
	}
	if deg.Reason == "" {
		t.Error("Expected the primary failure as degradation reason")
	}
}

func TestGateway_CallWithFallback_InvalidRequestNotRetried(t *testing.T) {
	backup := newCompletionServer(t, "never used")
	fx := newGatewayFixture(t,
		modelAt{ID: "mc-2", Name: "backup-model", Provider: "backup", Endpoint: backup.URL},
	)

	_, err := fx.gateway.CallWithFallback(context.Background(),
		&providers.Request{Model: "no-such-model", Prompt: "hi"},
		[]string{"backup-model"})
	if providers.KindOf(err) != providers.ErrInvalidRequest {
		t.Fatalf("Expected INVALID_REQUEST, got %v", err)
	}
	if n := backup.requests.Load(); n != 0 {
		t.Errorf("Invalid requests must not fall back, got %d backup calls", n)
	}
}

func TestGateway_CallWithFallback_AllFail(t *testing.T) {
	fx := newGatewayFixture(t,
		modelAt{ID: "mc-1", Name: "primary-model", Provider: "selfhosted", Endpoint: "http://127.0.0.1:1"},
		modelAt{ID: "mc-2", Name: "backup-model", Provider: "backup", Endpoint: "http://127.0.0.1:1"},
	)

	_, err := fx.gateway.CallWithFallback(context.Background(),
		&providers.Request{Model: "primary-model", Prompt: "hi"},
		[]string{"backup-model"})
	if err == nil {
		t.Fatal("Expected error when every model fails")
	}
	if providers.KindOf(err) != providers.ErrProviderUnavailable {
		t.Errorf("Expected the primary failure returned, got %v", err)
	}
}

func TestGateway_Stream_DeliversChunksAndRecords(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(
			"data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n" +
				"data: {\"choices\":[{\"delta\":{\"content\":\"lo\"},\"finish_reason\":\"stop\"}],\"usage\":{\"prompt_tokens\":10,\"completion_tokens\":2}}\n\n" +
				"data: [DONE]\n\n"))
	}))
	defer server.Close()

	fx := newGatewayFixture(t, modelAt{ID: "mc-1", Name: "local-model", Provider: "selfhosted", Endpoint: server.URL})

	chunks, err := fx.gateway.Stream(context.Background(), &providers.Request{Model: "local-model", Prompt: "hi"})
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}

	var content strings.Builder
	for chunk := range chunks {
		if chunk.Err != nil {
			t.Fatalf("Unexpected stream error: %v", chunk.Err)
		}
		content.WriteString(chunk.Delta)
	}
	if content.String() != "Hello" {
		t.Errorf("Expected streamed content Hello, got %q", content.String())
	}

	fx.recorder.Close()
	logs, err := fx.store.QueryCallLogs(context.Background(), auditlog.Query{})
	if err != nil {
		t.Fatalf("QueryCallLogs failed: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("Expected 1 call log after stream, got %d", len(logs))
	}
	if !logs[0].Success || logs[0].InputTokens != 10 || logs[0].OutputTokens != 2 {
		t.Errorf("Unexpected stream call log: %+v", logs[0])
	}
}

func TestGateway_Stream_ProviderDownFailsFast(t *testing.T) {
	fx := newGatewayFixture(t, modelAt{ID: "mc-1", Name: "local-model", Provider: "selfhosted", Endpoint: "http://127.0.0.1:1"})
	fx.registry.SetStatus("selfhosted", false, errors.New("probe failed"))

	_, err := fx.gateway.Stream(context.Background(), &providers.Request{Model: "local-model", Prompt: "hi"})
	if providers.KindOf(err) != providers.ErrProviderUnavailable {
		t.Fatalf("Expected PROVIDER_UNAVAILABLE, got %v", err)
	}
}
