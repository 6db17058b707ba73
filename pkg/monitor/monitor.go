package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"caremesh/modelguard/pkg/telemetry/metrics"
)

// Config bounds the aggregate alert rules.
type Config struct {
	// FailureRateThreshold triggers HIGH_FAILURE_RATE above it.
	// Default: 0.10.
	FailureRateThreshold float64

	// LatencyThresholdMs triggers HIGH_LATENCY above it.
	// Default: 30000.
	LatencyThresholdMs float64

	// CriticalMultiplier grades an agent-threshold breach CRITICAL
	// when usage reaches this multiple of the limit. Default: 1.5.
	CriticalMultiplier float64
}

// DefaultConfig returns the default alert rule configuration.
func DefaultConfig() Config {
	return Config{
		FailureRateThreshold: 0.10,
		LatencyThresholdMs:   30000,
		CriticalMultiplier:   1.5,
	}
}

// aggregateState carries the latency accumulator alongside the exported
// aggregate so the running average never drifts.
type aggregateState struct {
	Aggregate
	totalLatencyMs float64
}

// Monitor aggregates call outcomes and evaluates alert rules.
// All aggregate mutations are serialized under one mutex; racing
// RecordMetrics calls for the same model cannot lose updates.
type Monitor struct {
	config     Config
	usage      UsageStore
	thresholds ThresholdStore
	collector  *metrics.Collector

	mu         sync.Mutex
	aggregates map[string]*aggregateState

	logger *slog.Logger
}

// New creates a monitor. usage, thresholds, and collector may each be
// nil: a nil usage store disables usage accounting, a nil threshold
// store makes CheckAgentThresholds always empty, a nil collector
// disables Prometheus mirroring.
func New(config Config, usage UsageStore, thresholds ThresholdStore, collector *metrics.Collector) *Monitor {
	if config.FailureRateThreshold <= 0 {
		config.FailureRateThreshold = 0.10
	}
	if config.LatencyThresholdMs <= 0 {
		config.LatencyThresholdMs = 30000
	}
	if config.CriticalMultiplier <= 1 {
		config.CriticalMultiplier = 1.5
	}
	return &Monitor{
		config:     config,
		usage:      usage,
		thresholds: thresholds,
		collector:  collector,
		aggregates: make(map[string]*aggregateState),
		logger:     slog.Default().With("component", "monitor"),
	}
}

// RecordMetrics folds one call outcome into the model's aggregate,
// creating it on first use. Inputs are validated first; a validation
// failure writes nothing.
func (m *Monitor) RecordMetrics(model, provider string, latencyMs float64, success bool) error {
	if model == "" {
		return &ValidationError{Field: "model", Message: "must not be empty"}
	}
	if provider == "" {
		return &ValidationError{Field: "provider", Message: "must not be empty"}
	}
	if latencyMs < 0 {
		return &ValidationError{Field: "latency", Message: fmt.Sprintf("must be >= 0, got %v", latencyMs)}
	}

	m.mu.Lock()
	state, ok := m.aggregates[model]
	if !ok {
		state = &aggregateState{Aggregate: Aggregate{Model: model, Provider: provider}}
		m.aggregates[model] = state
	}

	state.TotalCalls++
	if success {
		state.SuccessfulCalls++
	} else {
		state.FailedCalls++
	}

	state.totalLatencyMs += latencyMs
	state.AvgLatencyMs = state.totalLatencyMs / float64(state.TotalCalls)
	if state.TotalCalls == 1 || latencyMs < state.MinLatencyMs {
		state.MinLatencyMs = latencyMs
	}
	if latencyMs > state.MaxLatencyMs {
		state.MaxLatencyMs = latencyMs
	}

	state.SuccessRate = float64(state.SuccessfulCalls) / float64(state.TotalCalls)
	state.FailureRate = float64(state.FailedCalls) / float64(state.TotalCalls)
	m.mu.Unlock()

	if m.collector != nil {
		m.collector.ObserveCall(provider, model, latencyMs/1000, success)
	}

	return nil
}

// GetAggregate returns a copy of one model's aggregate.
func (m *Monitor) GetAggregate(model string) (Aggregate, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.aggregates[model]
	if !ok {
		return Aggregate{}, false
	}
	return state.Aggregate, true
}

// AllAggregates returns copies of every aggregate, sorted by model name.
func (m *Monitor) AllAggregates() []Aggregate {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Aggregate, 0, len(m.aggregates))
	for _, state := range m.aggregates {
		out = append(out, state.Aggregate)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Model < out[j].Model })
	return out
}

// ResetMetrics zeroes a model's counters while keeping its identity.
func (m *Monitor) ResetMetrics(model string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.aggregates[model]
	if !ok {
		return &NotFoundError{Model: model}
	}

	*state = aggregateState{Aggregate: Aggregate{Model: state.Model, Provider: state.Provider}}
	m.logger.Info("metrics reset", "model", model)
	return nil
}

// CheckAlerts scans every aggregate against the failure-rate and
// latency rules. The rules are independent: a model can produce zero,
// one, or both alerts per scan.
func (m *Monitor) CheckAlerts() []Alert {
	now := time.Now()
	var alerts []Alert

	for _, agg := range m.AllAggregates() {
		if agg.TotalCalls == 0 {
			continue
		}

		if agg.FailureRate > m.config.FailureRateThreshold {
			alerts = append(alerts, Alert{
				Type:         AlertHighFailureRate,
				Severity:     SeverityWarning,
				Model:        agg.Model,
				Provider:     agg.Provider,
				Threshold:    m.config.FailureRateThreshold,
				CurrentValue: agg.FailureRate,
				Message: fmt.Sprintf("model %q failure rate %.2f exceeds %.2f",
					agg.Model, agg.FailureRate, m.config.FailureRateThreshold),
				Timestamp: now,
			})
		}

		if agg.AvgLatencyMs > m.config.LatencyThresholdMs {
			alerts = append(alerts, Alert{
				Type:         AlertHighLatency,
				Severity:     SeverityWarning,
				Model:        agg.Model,
				Provider:     agg.Provider,
				Threshold:    m.config.LatencyThresholdMs,
				CurrentValue: agg.AvgLatencyMs,
				Message: fmt.Sprintf("model %q average latency %.0fms exceeds %.0fms",
					agg.Model, agg.AvgLatencyMs, m.config.LatencyThresholdMs),
				Timestamp: now,
			})
		}
	}

	return alerts
}

// RecordUsage persists one usage sample. Writes are best-effort: a
// storage failure is logged and dropped, never surfaced to the call
// path.
func (m *Monitor) RecordUsage(ctx context.Context, rec *UsageRecord) {
	if m.usage == nil {
		return
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	if err := m.usage.InsertUsage(ctx, rec); err != nil {
		m.logger.Error("usage record write failed",
			"agent_type", rec.AgentType,
			"model", rec.Model,
			"error", err,
		)
	}
}

// CheckAgentThresholds compares the agent's current-day and
// current-month usage against its configured limits. Every breached
// dimension yields its own alert; a breach at or past the critical
// multiplier is CRITICAL, otherwise WARNING. No configured threshold
// means no alerts.
func (m *Monitor) CheckAgentThresholds(ctx context.Context, agentType, userID string) ([]Alert, error) {
	if m.thresholds == nil || m.usage == nil {
		return nil, nil
	}

	threshold, err := m.thresholds.GetAgentThreshold(ctx, agentType)
	if err != nil {
		return nil, fmt.Errorf("load threshold for %q: %w", agentType, err)
	}
	if !threshold.configured() {
		return nil, nil
	}

	now := time.Now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())

	var alerts []Alert

	check := func(period string, since time.Time, tokenLimit int64, costLimit float64) error {
		if tokenLimit <= 0 && costLimit <= 0 {
			return nil
		}

		tokens, cost, serr := m.usage.SumUsage(ctx, agentType, userID, since)
		if serr != nil {
			return fmt.Errorf("sum %s usage for %q: %w", period, agentType, serr)
		}

		if tokenLimit > 0 && tokens > tokenLimit {
			alerts = append(alerts, Alert{
				Type:         AlertExcessiveTokenUsage,
				Severity:     m.grade(float64(tokens), float64(tokenLimit)),
				AgentType:    agentType,
				UserID:       userID,
				Period:       period,
				Threshold:    float64(tokenLimit),
				CurrentValue: float64(tokens),
				Message: fmt.Sprintf("agent %q used %d tokens against a %s limit of %d",
					agentType, tokens, period, tokenLimit),
				Timestamp: now,
			})
		}

		if costLimit > 0 && cost > costLimit {
			alerts = append(alerts, Alert{
				Type:         AlertExcessiveCost,
				Severity:     m.grade(cost, costLimit),
				AgentType:    agentType,
				UserID:       userID,
				Period:       period,
				Threshold:    costLimit,
				CurrentValue: cost,
				Message: fmt.Sprintf("agent %q spent $%.4f against a %s limit of $%.4f",
					agentType, cost, period, costLimit),
				Timestamp: now,
			})
		}

		return nil
	}

	if err := check("daily", dayStart, threshold.DailyTokenLimit, threshold.DailyCostLimit); err != nil {
		return nil, err
	}
	if err := check("monthly", monthStart, threshold.MonthlyTokenLimit, threshold.MonthlyCostLimit); err != nil {
		return nil, err
	}

	return alerts, nil
}

// grade returns CRITICAL at or past the critical multiplier.
func (m *Monitor) grade(current, limit float64) Severity {
	if current >= m.config.CriticalMultiplier*limit {
		return SeverityCritical
	}
	return SeverityWarning
}
