package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"caremesh/modelguard/pkg/auditlog"
	"caremesh/modelguard/pkg/modelconfig"
	"caremesh/modelguard/pkg/monitor"
	"caremesh/modelguard/pkg/security"
)

// Memory is the in-memory store. It satisfies the same interfaces as
// the SQL backends and is used by tests and throwaway setups.
type Memory struct {
	mu sync.RWMutex

	configs      map[string]*modelconfig.ModelConfig
	grants       map[string]map[string]struct{}
	usage        []*monitor.UsageRecord
	thresholds   map[string]*monitor.AgentThreshold
	callLogs     []*auditlog.CallLog
	retryLogs    []*auditlog.RetryLog
	degradations []*auditlog.DegradationLog
	auditEvents  []*auditlog.AuditEvent
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		configs:    make(map[string]*modelconfig.ModelConfig),
		grants:     make(map[string]map[string]struct{}),
		thresholds: make(map[string]*monitor.AgentThreshold),
	}
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }

// ---- model configurations ----

func (m *Memory) CreateModelConfig(_ context.Context, cfg *modelconfig.ModelConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now

	cp := *cfg
	m.configs[cfg.ID] = &cp
	return nil
}

func (m *Memory) UpdateModelConfig(_ context.Context, cfg *modelconfig.ModelConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.configs[cfg.ID]; !ok {
		return modelconfig.ErrNotFound
	}
	cfg.UpdatedAt = time.Now().UTC()
	cp := *cfg
	m.configs[cfg.ID] = &cp
	return nil
}

func (m *Memory) GetModelConfigByID(_ context.Context, id string) (*modelconfig.ModelConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cfg, ok := m.configs[id]
	if !ok {
		return nil, modelconfig.ErrNotFound
	}
	cp := *cfg
	return &cp, nil
}

func (m *Memory) GetModelConfigByName(_ context.Context, name string) (*modelconfig.ModelConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, cfg := range m.configs {
		if cfg.Name == name {
			cp := *cfg
			return &cp, nil
		}
	}
	return nil, modelconfig.ErrNotFound
}

func (m *Memory) ListActiveModelConfigs(_ context.Context) ([]*modelconfig.ModelConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*modelconfig.ModelConfig
	for _, cfg := range m.configs {
		if cfg.Active {
			cp := *cfg
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) DeleteModelConfig(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.configs[id]; !ok {
		return modelconfig.ErrNotFound
	}
	delete(m.configs, id)
	return nil
}

func (m *Memory) GetEncryptedKey(_ context.Context, modelID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cfg, ok := m.configs[modelID]
	if !ok {
		return "", security.ErrConfigNotFound
	}
	return cfg.EncryptedAPIKey, nil
}

func (m *Memory) UpdateEncryptedKey(_ context.Context, modelID, encrypted string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg, ok := m.configs[modelID]
	if !ok {
		return security.ErrConfigNotFound
	}
	cfg.EncryptedAPIKey = encrypted
	cfg.UpdatedAt = time.Now().UTC()
	return nil
}

// ---- access grants ----

func (m *Memory) ListGrants(_ context.Context) ([]security.Grant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []security.Grant
	for userID, models := range m.grants {
		for modelID := range models {
			out = append(out, security.Grant{UserID: userID, ModelID: modelID})
		}
	}
	return out, nil
}

func (m *Memory) AddGrant(_ context.Context, userID, modelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.grants[userID] == nil {
		m.grants[userID] = make(map[string]struct{})
	}
	m.grants[userID][modelID] = struct{}{}
	return nil
}

func (m *Memory) RemoveGrant(_ context.Context, userID, modelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if models, ok := m.grants[userID]; ok {
		delete(models, modelID)
		if len(models) == 0 {
			delete(m.grants, userID)
		}
	}
	return nil
}

// ---- usage and thresholds ----

func (m *Memory) InsertUsage(_ context.Context, rec *monitor.UsageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *rec
	m.usage = append(m.usage, &cp)
	return nil
}

func (m *Memory) SumUsage(_ context.Context, agentType, userID string, since time.Time) (int64, float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var tokens int64
	var cost float64
	for _, rec := range m.usage {
		if rec.AgentType != agentType || rec.Timestamp.Before(since) {
			continue
		}
		if userID != "" && rec.UserID != userID {
			continue
		}
		tokens += rec.InputTokens + rec.OutputTokens
		cost += rec.Cost
	}
	return tokens, cost, nil
}

func (m *Memory) GetAgentThreshold(_ context.Context, agentType string) (*monitor.AgentThreshold, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.thresholds[agentType]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (m *Memory) UpsertAgentThreshold(_ context.Context, t *monitor.AgentThreshold) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *t
	m.thresholds[t.AgentType] = &cp
	return nil
}

// ---- log records ----

func (m *Memory) InsertCallLog(_ context.Context, rec *auditlog.CallLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.callLogs = append(m.callLogs, &cp)
	return nil
}

func (m *Memory) InsertRetryLog(_ context.Context, rec *auditlog.RetryLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.retryLogs = append(m.retryLogs, &cp)
	return nil
}

func (m *Memory) InsertDegradationLog(_ context.Context, rec *auditlog.DegradationLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.degradations = append(m.degradations, &cp)
	return nil
}

func (m *Memory) InsertAuditEvent(_ context.Context, rec *auditlog.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.auditEvents = append(m.auditEvents, &cp)
	return nil
}

// inWindow applies the shared time bounds.
func inWindow(ts time.Time, q auditlog.Query) bool {
	if q.Start != nil && ts.Before(*q.Start) {
		return false
	}
	if q.End != nil && !ts.Before(*q.End) {
		return false
	}
	return true
}

// paginate sorts newest first and applies limit and offset.
func paginate[T any](matched []T, ts func(T) time.Time, q auditlog.Query) []T {
	sort.SliceStable(matched, func(i, j int) bool {
		return ts(matched[i]).After(ts(matched[j]))
	})
	if q.Offset >= len(matched) {
		return nil
	}
	matched = matched[q.Offset:]
	if len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched
}

func (m *Memory) QueryCallLogs(_ context.Context, q auditlog.Query) ([]*auditlog.CallLog, error) {
	q = q.Normalize()
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []*auditlog.CallLog
	for _, rec := range m.callLogs {
		if q.Model != "" && rec.Model != q.Model {
			continue
		}
		if q.Provider != "" && rec.Provider != q.Provider {
			continue
		}
		if q.Scenario != "" && rec.Scenario != q.Scenario {
			continue
		}
		if q.Success != nil && rec.Success != *q.Success {
			continue
		}
		if !inWindow(rec.Timestamp, q) {
			continue
		}
		cp := *rec
		matched = append(matched, &cp)
	}
	return paginate(matched, func(r *auditlog.CallLog) time.Time { return r.Timestamp }, q), nil
}

func (m *Memory) QueryRetryLogs(_ context.Context, q auditlog.Query) ([]*auditlog.RetryLog, error) {
	q = q.Normalize()
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []*auditlog.RetryLog
	for _, rec := range m.retryLogs {
		if q.Model != "" && rec.Model != q.Model {
			continue
		}
		if q.Provider != "" && rec.Provider != q.Provider {
			continue
		}
		if !inWindow(rec.Timestamp, q) {
			continue
		}
		cp := *rec
		matched = append(matched, &cp)
	}
	return paginate(matched, func(r *auditlog.RetryLog) time.Time { return r.Timestamp }, q), nil
}

func (m *Memory) QueryDegradationLogs(_ context.Context, q auditlog.Query) ([]*auditlog.DegradationLog, error) {
	q = q.Normalize()
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []*auditlog.DegradationLog
	for _, rec := range m.degradations {
		if q.Model != "" && rec.RequestedModel != q.Model {
			continue
		}
		if q.Provider != "" && rec.RequestedProvider != q.Provider {
			continue
		}
		if !inWindow(rec.Timestamp, q) {
			continue
		}
		cp := *rec
		matched = append(matched, &cp)
	}
	return paginate(matched, func(r *auditlog.DegradationLog) time.Time { return r.Timestamp }, q), nil
}

func (m *Memory) QueryAuditEvents(_ context.Context, q auditlog.Query) ([]*auditlog.AuditEvent, error) {
	q = q.Normalize()
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []*auditlog.AuditEvent
	for _, rec := range m.auditEvents {
		if q.Action != "" && !strings.EqualFold(rec.Action, q.Action) {
			continue
		}
		if !inWindow(rec.Timestamp, q) {
			continue
		}
		cp := *rec
		matched = append(matched, &cp)
	}
	return paginate(matched, func(r *auditlog.AuditEvent) time.Time { return r.Timestamp }, q), nil
}

func (m *Memory) PruneLogsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var total int64
	m.callLogs, total = pruneSlice(m.callLogs, total, cutoff,
		func(r *auditlog.CallLog) time.Time { return r.Timestamp })
	m.retryLogs, total = pruneSlice(m.retryLogs, total, cutoff,
		func(r *auditlog.RetryLog) time.Time { return r.Timestamp })
	m.degradations, total = pruneSlice(m.degradations, total, cutoff,
		func(r *auditlog.DegradationLog) time.Time { return r.Timestamp })
	m.auditEvents, total = pruneSlice(m.auditEvents, total, cutoff,
		func(r *auditlog.AuditEvent) time.Time { return r.Timestamp })
	return total, nil
}

func pruneSlice[T any](recs []T, total int64, cutoff time.Time, ts func(T) time.Time) ([]T, int64) {
	kept := recs[:0]
	for _, rec := range recs {
		if ts(rec).Before(cutoff) {
			total++
			continue
		}
		kept = append(kept, rec)
	}
	return kept, total
}

var _ Store = (*Memory)(nil)
