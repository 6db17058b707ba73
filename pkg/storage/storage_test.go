package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"caremesh/modelguard/pkg/auditlog"
	"caremesh/modelguard/pkg/modelconfig"
	"caremesh/modelguard/pkg/monitor"
	"caremesh/modelguard/pkg/security"
)

// runStoreSuite exercises the Store contract. Both backends run the
// same suite so their observable behavior cannot drift apart.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("ModelConfigCRUD", func(t *testing.T) { testModelConfigCRUD(t, newStore(t)) })
	t.Run("EncryptedKeys", func(t *testing.T) { testEncryptedKeys(t, newStore(t)) })
	t.Run("Grants", func(t *testing.T) { testGrants(t, newStore(t)) })
	t.Run("UsageSums", func(t *testing.T) { testUsageSums(t, newStore(t)) })
	t.Run("Thresholds", func(t *testing.T) { testThresholds(t, newStore(t)) })
	t.Run("CallLogQueries", func(t *testing.T) { testCallLogQueries(t, newStore(t)) })
	t.Run("LogFamilies", func(t *testing.T) { testLogFamilies(t, newStore(t)) })
	t.Run("Prune", func(t *testing.T) { testPrune(t, newStore(t)) })
}

func sampleConfig(id, name, provider string, active bool) *modelconfig.ModelConfig {
	return &modelconfig.ModelConfig{
		ID:                 id,
		Name:               name,
		Provider:           provider,
		EncryptedAPIKey:    "ciphertext-" + id,
		Endpoint:           "",
		Temperature:        0.3,
		MaxTokens:          8192,
		InputCostPerToken:  0.0000025,
		OutputCostPerToken: 0.00001,
		RateLimitPerMinute: 60,
		RateLimitPerDay:    10000,
		Active:             active,
	}
}

func testModelConfigCRUD(t *testing.T, store Store) {
	defer store.Close()
	ctx := context.Background()

	if err := store.CreateModelConfig(ctx, sampleConfig("mc-1", "gpt-4o", "openai", true)); err != nil {
		t.Fatalf("CreateModelConfig failed: %v", err)
	}
	if err := store.CreateModelConfig(ctx, sampleConfig("mc-2", "claude-sonnet-4-5", "anthropic", true)); err != nil {
		t.Fatalf("CreateModelConfig failed: %v", err)
	}
	if err := store.CreateModelConfig(ctx, sampleConfig("mc-3", "legacy-model", "openai", false)); err != nil {
		t.Fatalf("CreateModelConfig failed: %v", err)
	}

	got, err := store.GetModelConfigByID(ctx, "mc-1")
	if err != nil {
		t.Fatalf("GetModelConfigByID failed: %v", err)
	}
	if got.Name != "gpt-4o" || got.Provider != "openai" || got.MaxTokens != 8192 {
		t.Errorf("Unexpected config: %+v", got)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("Expected create to fill timestamps")
	}

	byName, err := store.GetModelConfigByName(ctx, "claude-sonnet-4-5")
	if err != nil {
		t.Fatalf("GetModelConfigByName failed: %v", err)
	}
	if byName.ID != "mc-2" {
		t.Errorf("Expected mc-2, got %s", byName.ID)
	}

	if _, err := store.GetModelConfigByID(ctx, "nope"); !errors.Is(err, modelconfig.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown id, got %v", err)
	}
	if _, err := store.GetModelConfigByName(ctx, "nope"); !errors.Is(err, modelconfig.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown name, got %v", err)
	}

	active, err := store.ListActiveModelConfigs(ctx)
	if err != nil {
		t.Fatalf("ListActiveModelConfigs failed: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("Expected 2 active configs, got %d", len(active))
	}
	if active[0].Name != "claude-sonnet-4-5" || active[1].Name != "gpt-4o" {
		t.Errorf("Expected name-sorted listing, got %s, %s", active[0].Name, active[1].Name)
	}

	got.Temperature = 0.9
	got.Active = false
	if err := store.UpdateModelConfig(ctx, got); err != nil {
		t.Fatalf("UpdateModelConfig failed: %v", err)
	}
	updated, err := store.GetModelConfigByID(ctx, "mc-1")
	if err != nil {
		t.Fatalf("GetModelConfigByID after update failed: %v", err)
	}
	if updated.Temperature != 0.9 || updated.Active {
		t.Errorf("Update not applied: %+v", updated)
	}

	missing := sampleConfig("ghost", "ghost-model", "openai", true)
	if err := store.UpdateModelConfig(ctx, missing); !errors.Is(err, modelconfig.ErrNotFound) {
		t.Errorf("Expected ErrNotFound updating unknown config, got %v", err)
	}

	if err := store.DeleteModelConfig(ctx, "mc-2"); err != nil {
		t.Fatalf("DeleteModelConfig failed: %v", err)
	}
	if _, err := store.GetModelConfigByID(ctx, "mc-2"); !errors.Is(err, modelconfig.ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
	if err := store.DeleteModelConfig(ctx, "mc-2"); !errors.Is(err, modelconfig.ErrNotFound) {
		t.Errorf("Expected ErrNotFound deleting twice, got %v", err)
	}
}

func testEncryptedKeys(t *testing.T, store Store) {
	defer store.Close()
	ctx := context.Background()

	if err := store.CreateModelConfig(ctx, sampleConfig("mc-1", "gpt-4o", "openai", true)); err != nil {
		t.Fatalf("CreateModelConfig failed: %v", err)
	}

	key, err := store.GetEncryptedKey(ctx, "mc-1")
	if err != nil {
		t.Fatalf("GetEncryptedKey failed: %v", err)
	}
	if key != "ciphertext-mc-1" {
		t.Errorf("Expected ciphertext-mc-1, got %q", key)
	}

	if err := store.UpdateEncryptedKey(ctx, "mc-1", "ciphertext-rotated"); err != nil {
		t.Fatalf("UpdateEncryptedKey failed: %v", err)
	}
	key, err = store.GetEncryptedKey(ctx, "mc-1")
	if err != nil {
		t.Fatalf("GetEncryptedKey after rotation failed: %v", err)
	}
	if key != "ciphertext-rotated" {
		t.Errorf("Expected rotated ciphertext, got %q", key)
	}

	if _, err := store.GetEncryptedKey(ctx, "nope"); !errors.Is(err, security.ErrConfigNotFound) {
		t.Errorf("Expected ErrConfigNotFound, got %v", err)
	}
	if err := store.UpdateEncryptedKey(ctx, "nope", "x"); !errors.Is(err, security.ErrConfigNotFound) {
		t.Errorf("Expected ErrConfigNotFound on update, got %v", err)
	}
}

func testGrants(t *testing.T, store Store) {
	defer store.Close()
	ctx := context.Background()

	if err := store.AddGrant(ctx, "clinician-1", "mc-1"); err != nil {
		t.Fatalf("AddGrant failed: %v", err)
	}
	if err := store.AddGrant(ctx, "clinician-1", "mc-1"); err != nil {
		t.Fatalf("Duplicate AddGrant should be a no-op, got: %v", err)
	}
	if err := store.AddGrant(ctx, "clinician-1", "mc-2"); err != nil {
		t.Fatalf("AddGrant failed: %v", err)
	}
	if err := store.AddGrant(ctx, "clinician-2", "mc-1"); err != nil {
		t.Fatalf("AddGrant failed: %v", err)
	}

	grants, err := store.ListGrants(ctx)
	if err != nil {
		t.Fatalf("ListGrants failed: %v", err)
	}
	if len(grants) != 3 {
		t.Fatalf("Expected 3 grants, got %d", len(grants))
	}

	if err := store.RemoveGrant(ctx, "clinician-1", "mc-2"); err != nil {
		t.Fatalf("RemoveGrant failed: %v", err)
	}
	grants, err = store.ListGrants(ctx)
	if err != nil {
		t.Fatalf("ListGrants failed: %v", err)
	}
	for _, g := range grants {
		if g.UserID == "clinician-1" && g.ModelID == "mc-2" {
			t.Error("Removed grant still listed")
		}
	}
	if len(grants) != 2 {
		t.Errorf("Expected 2 grants after removal, got %d", len(grants))
	}
}

func testUsageSums(t *testing.T, store Store) {
	defer store.Close()
	ctx := context.Background()
	now := time.Now().UTC()

	records := []*monitor.UsageRecord{
		{ID: "u-1", AgentType: "triage", UserID: "clinician-1", Model: "gpt-4o", Provider: "openai",
			InputTokens: 100, OutputTokens: 50, Cost: 0.01, Timestamp: now.Add(-1 * time.Hour)},
		{ID: "u-2", AgentType: "triage", UserID: "clinician-2", Model: "gpt-4o", Provider: "openai",
			InputTokens: 200, OutputTokens: 100, Cost: 0.02, Timestamp: now.Add(-2 * time.Hour)},
		{ID: "u-3", AgentType: "triage", UserID: "clinician-1", Model: "gpt-4o", Provider: "openai",
			InputTokens: 400, OutputTokens: 200, Cost: 0.04, Timestamp: now.Add(-48 * time.Hour)},
		{ID: "u-4", AgentType: "scribe", UserID: "clinician-1", Model: "claude-sonnet-4-5", Provider: "anthropic",
			InputTokens: 800, OutputTokens: 400, Cost: 0.08, Timestamp: now.Add(-1 * time.Hour)},
	}
	for _, rec := range records {
		if err := store.InsertUsage(ctx, rec); err != nil {
			t.Fatalf("InsertUsage(%s) failed: %v", rec.ID, err)
		}
	}

	tokens, cost, err := store.SumUsage(ctx, "triage", "", now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("SumUsage failed: %v", err)
	}
	if tokens != 450 {
		t.Errorf("Expected 450 tokens inside the window, got %d", tokens)
	}
	if cost < 0.0299 || cost > 0.0301 {
		t.Errorf("Expected cost ~0.03, got %f", cost)
	}

	tokens, _, err = store.SumUsage(ctx, "triage", "clinician-1", now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("SumUsage with user filter failed: %v", err)
	}
	if tokens != 150 {
		t.Errorf("Expected 150 tokens for clinician-1, got %d", tokens)
	}

	tokens, _, err = store.SumUsage(ctx, "triage", "", now.Add(-72*time.Hour))
	if err != nil {
		t.Fatalf("SumUsage over wide window failed: %v", err)
	}
	if tokens != 1050 {
		t.Errorf("Expected 1050 tokens over the wide window, got %d", tokens)
	}

	tokens, cost, err = store.SumUsage(ctx, "billing", "", now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("SumUsage for unknown agent failed: %v", err)
	}
	if tokens != 0 || cost != 0 {
		t.Errorf("Expected zero sums for unknown agent, got %d tokens, %f cost", tokens, cost)
	}
}

func testThresholds(t *testing.T, store Store) {
	defer store.Close()
	ctx := context.Background()

	got, err := store.GetAgentThreshold(ctx, "triage")
	if err != nil {
		t.Fatalf("GetAgentThreshold failed: %v", err)
	}
	if got != nil {
		t.Fatalf("Expected nil threshold for unconfigured agent, got %+v", got)
	}

	threshold := &monitor.AgentThreshold{
		AgentType:       "triage",
		DailyTokenLimit: 100000,
		DailyCostLimit:  25,
	}
	if err := store.UpsertAgentThreshold(ctx, threshold); err != nil {
		t.Fatalf("UpsertAgentThreshold failed: %v", err)
	}

	got, err = store.GetAgentThreshold(ctx, "triage")
	if err != nil {
		t.Fatalf("GetAgentThreshold failed: %v", err)
	}
	if got == nil || got.DailyTokenLimit != 100000 || got.DailyCostLimit != 25 {
		t.Fatalf("Unexpected threshold: %+v", got)
	}

	threshold.DailyTokenLimit = 50000
	threshold.MonthlyCostLimit = 500
	if err := store.UpsertAgentThreshold(ctx, threshold); err != nil {
		t.Fatalf("Second UpsertAgentThreshold failed: %v", err)
	}
	got, err = store.GetAgentThreshold(ctx, "triage")
	if err != nil {
		t.Fatalf("GetAgentThreshold failed: %v", err)
	}
	if got.DailyTokenLimit != 50000 || got.MonthlyCostLimit != 500 {
		t.Errorf("Upsert did not overwrite: %+v", got)
	}
}

func testCallLogQueries(t *testing.T, store Store) {
	defer store.Close()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	logs := []*auditlog.CallLog{
		{ID: "c-1", Model: "gpt-4o", Provider: "openai", Scenario: "triage", Success: true,
			LatencyMs: 420, Timestamp: now.Add(-3 * time.Hour)},
		{ID: "c-2", Model: "gpt-4o", Provider: "openai", Scenario: "scribe", Success: false,
			ErrorCode: "TIMEOUT", Timestamp: now.Add(-2 * time.Hour)},
		{ID: "c-3", Model: "claude-sonnet-4-5", Provider: "anthropic", Scenario: "triage", Success: true,
			LatencyMs: 910, Timestamp: now.Add(-1 * time.Hour)},
	}
	for _, rec := range logs {
		if err := store.InsertCallLog(ctx, rec); err != nil {
			t.Fatalf("InsertCallLog(%s) failed: %v", rec.ID, err)
		}
	}

	all, err := store.QueryCallLogs(ctx, auditlog.Query{})
	if err != nil {
		t.Fatalf("QueryCallLogs failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("Expected 3 call logs, got %d", len(all))
	}
	if all[0].ID != "c-3" || all[2].ID != "c-1" {
		t.Errorf("Expected newest-first ordering, got %s .. %s", all[0].ID, all[2].ID)
	}

	byModel, err := store.QueryCallLogs(ctx, auditlog.Query{Model: "gpt-4o"})
	if err != nil {
		t.Fatalf("QueryCallLogs by model failed: %v", err)
	}
	if len(byModel) != 2 {
		t.Errorf("Expected 2 gpt-4o logs, got %d", len(byModel))
	}

	failed := false
	failures, err := store.QueryCallLogs(ctx, auditlog.Query{Success: &failed})
	if err != nil {
		t.Fatalf("QueryCallLogs by success failed: %v", err)
	}
	if len(failures) != 1 || failures[0].ID != "c-2" {
		t.Errorf("Expected only c-2 as failure, got %+v", failures)
	}

	start := now.Add(-2 * time.Hour)
	end := now.Add(-1 * time.Hour)
	windowed, err := store.QueryCallLogs(ctx, auditlog.Query{Start: &start, End: &end})
	if err != nil {
		t.Fatalf("QueryCallLogs windowed failed: %v", err)
	}
	if len(windowed) != 1 || windowed[0].ID != "c-2" {
		t.Errorf("Expected inclusive start, exclusive end to select c-2 only, got %+v", windowed)
	}

	page, err := store.QueryCallLogs(ctx, auditlog.Query{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("QueryCallLogs paginated failed: %v", err)
	}
	if len(page) != 1 || page[0].ID != "c-2" {
		t.Errorf("Expected second-newest log on page 2, got %+v", page)
	}

	empty, err := store.QueryCallLogs(ctx, auditlog.Query{Offset: 10})
	if err != nil {
		t.Fatalf("QueryCallLogs past the end failed: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("Expected no logs past the end, got %d", len(empty))
	}
}

func testLogFamilies(t *testing.T, store Store) {
	defer store.Close()
	ctx := context.Background()
	now := time.Now().UTC()

	retries := []*auditlog.RetryLog{
		{ID: "r-1", Model: "gpt-4o", Provider: "openai", Attempt: 1, MaxAttempts: 3,
			ErrorCode: "RATE_LIMITED", Timestamp: now.Add(-2 * time.Minute)},
		{ID: "r-2", Model: "claude-sonnet-4-5", Provider: "anthropic", Attempt: 2, MaxAttempts: 3,
			ErrorCode: "TIMEOUT", Timestamp: now.Add(-1 * time.Minute)},
	}
	for _, rec := range retries {
		if err := store.InsertRetryLog(ctx, rec); err != nil {
			t.Fatalf("InsertRetryLog failed: %v", err)
		}
	}
	got, err := store.QueryRetryLogs(ctx, auditlog.Query{Provider: "openai"})
	if err != nil {
		t.Fatalf("QueryRetryLogs failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != "r-1" {
		t.Errorf("Expected only r-1 for openai, got %+v", got)
	}

	deg := &auditlog.DegradationLog{
		ID:                "d-1",
		RequestedModel:    "gpt-4o",
		RequestedProvider: "openai",
		ActualModel:       "claude-sonnet-4-5",
		ActualProvider:    "anthropic",
		Reason:            "PROVIDER_UNAVAILABLE",
		Timestamp:         now,
	}
	if err := store.InsertDegradationLog(ctx, deg); err != nil {
		t.Fatalf("InsertDegradationLog failed: %v", err)
	}
	degs, err := store.QueryDegradationLogs(ctx, auditlog.Query{Model: "gpt-4o"})
	if err != nil {
		t.Fatalf("QueryDegradationLogs failed: %v", err)
	}
	if len(degs) != 1 || degs[0].ActualProvider != "anthropic" {
		t.Errorf("Expected the degradation to match on requested model, got %+v", degs)
	}
	degs, err = store.QueryDegradationLogs(ctx, auditlog.Query{Model: "claude-sonnet-4-5"})
	if err != nil {
		t.Fatalf("QueryDegradationLogs failed: %v", err)
	}
	if len(degs) != 0 {
		t.Errorf("Degradation queries filter on requested model, not actual; got %+v", degs)
	}

	events := []*auditlog.AuditEvent{
		{ID: "a-1", Action: "API_KEY_ROTATED", Resource: "model:mc-1", Actor: "admin",
			Timestamp: now.Add(-1 * time.Minute)},
		{ID: "a-2", Action: "ACCESS_GRANTED", Resource: "model:mc-1", Actor: "admin",
			Timestamp: now},
	}
	for _, rec := range events {
		if err := store.InsertAuditEvent(ctx, rec); err != nil {
			t.Fatalf("InsertAuditEvent failed: %v", err)
		}
	}
	found, err := store.QueryAuditEvents(ctx, auditlog.Query{Action: "api_key_rotated"})
	if err != nil {
		t.Fatalf("QueryAuditEvents failed: %v", err)
	}
	if len(found) != 1 || found[0].ID != "a-1" {
		t.Errorf("Expected case-insensitive action match to return a-1, got %+v", found)
	}
}

func testPrune(t *testing.T, store Store) {
	defer store.Close()
	ctx := context.Background()
	now := time.Now().UTC()
	old := now.Add(-120 * 24 * time.Hour)

	inserts := []error{
		store.InsertCallLog(ctx, &auditlog.CallLog{ID: "c-old", Model: "gpt-4o", Provider: "openai", Timestamp: old}),
		store.InsertCallLog(ctx, &auditlog.CallLog{ID: "c-new", Model: "gpt-4o", Provider: "openai", Timestamp: now}),
		store.InsertRetryLog(ctx, &auditlog.RetryLog{ID: "r-old", Model: "gpt-4o", Provider: "openai", Timestamp: old}),
		store.InsertDegradationLog(ctx, &auditlog.DegradationLog{ID: "d-old", RequestedModel: "gpt-4o", Timestamp: old}),
		store.InsertAuditEvent(ctx, &auditlog.AuditEvent{ID: "a-old", Action: "ACCESS_GRANTED", Timestamp: old}),
		store.InsertAuditEvent(ctx, &auditlog.AuditEvent{ID: "a-new", Action: "ACCESS_GRANTED", Timestamp: now}),
	}
	for _, err := range inserts {
		if err != nil {
			t.Fatalf("Seeding logs failed: %v", err)
		}
	}

	pruned, err := store.PruneLogsBefore(ctx, now.Add(-90*24*time.Hour))
	if err != nil {
		t.Fatalf("PruneLogsBefore failed: %v", err)
	}
	if pruned != 4 {
		t.Errorf("Expected 4 pruned records, got %d", pruned)
	}

	calls, err := store.QueryCallLogs(ctx, auditlog.Query{})
	if err != nil {
		t.Fatalf("QueryCallLogs after prune failed: %v", err)
	}
	if len(calls) != 1 || calls[0].ID != "c-new" {
		t.Errorf("Expected only c-new to survive, got %+v", calls)
	}
	events, err := store.QueryAuditEvents(ctx, auditlog.Query{})
	if err != nil {
		t.Fatalf("QueryAuditEvents after prune failed: %v", err)
	}
	if len(events) != 1 || events[0].ID != "a-new" {
		t.Errorf("Expected only a-new to survive, got %+v", events)
	}
	retries, err := store.QueryRetryLogs(ctx, auditlog.Query{})
	if err != nil {
		t.Fatalf("QueryRetryLogs after prune failed: %v", err)
	}
	if len(retries) != 0 {
		t.Errorf("Expected no retry logs to survive, got %d", len(retries))
	}
}
