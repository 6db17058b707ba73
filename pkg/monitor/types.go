// Package monitor records per-model call outcomes, aggregates running
// statistics, and evaluates threshold rules over both the aggregates and
// the persisted usage records.
package monitor

import (
	"context"
	"fmt"
	"time"
)

// AlertType identifies a threshold rule.
type AlertType string

const (
	// AlertHighFailureRate fires when a model's failure rate exceeds
	// the configured bound.
	AlertHighFailureRate AlertType = "HIGH_FAILURE_RATE"

	// AlertHighLatency fires when a model's average latency exceeds
	// the configured bound.
	AlertHighLatency AlertType = "HIGH_LATENCY"

	// AlertExcessiveTokenUsage fires when an agent's token usage in a
	// window exceeds its configured limit.
	AlertExcessiveTokenUsage AlertType = "EXCESSIVE_TOKEN_USAGE"

	// AlertExcessiveCost fires when an agent's spend in a window
	// exceeds its configured limit.
	AlertExcessiveCost AlertType = "EXCESSIVE_COST"
)

// Severity grades an alert.
type Severity string

const (
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Alert is one threshold breach.
type Alert struct {
	Type     AlertType `json:"type"`
	Severity Severity  `json:"severity"`

	// Model and Provider are set for aggregate-rule alerts.
	Model    string `json:"model,omitempty"`
	Provider string `json:"provider,omitempty"`

	// AgentType, UserID, and Period are set for agent-threshold alerts.
	// Period is "daily" or "monthly".
	AgentType string `json:"agent_type,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	Period    string `json:"period,omitempty"`

	// Threshold is the configured limit; CurrentValue the measured one.
	Threshold    float64 `json:"threshold"`
	CurrentValue float64 `json:"current_value"`

	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Aggregate is the running performance statistic for one model.
//
// Invariants: TotalCalls == SuccessfulCalls + FailedCalls always, and
// SuccessRate + FailureRate == 1 whenever TotalCalls > 0 (both zero at
// zero calls).
type Aggregate struct {
	Model           string  `json:"model"`
	Provider        string  `json:"provider"`
	TotalCalls      int64   `json:"total_calls"`
	SuccessfulCalls int64   `json:"successful_calls"`
	FailedCalls     int64   `json:"failed_calls"`
	AvgLatencyMs    float64 `json:"avg_latency_ms"`
	MinLatencyMs    float64 `json:"min_latency_ms"`
	MaxLatencyMs    float64 `json:"max_latency_ms"`
	SuccessRate     float64 `json:"success_rate"`
	FailureRate     float64 `json:"failure_rate"`
}

// AgentThreshold is the per-agent-type usage budget. Zero values mean
// the dimension is not limited.
type AgentThreshold struct {
	AgentType         string  `json:"agent_type"`
	DailyTokenLimit   int64   `json:"daily_token_limit,omitempty"`
	MonthlyTokenLimit int64   `json:"monthly_token_limit,omitempty"`
	DailyCostLimit    float64 `json:"daily_cost_limit,omitempty"`
	MonthlyCostLimit  float64 `json:"monthly_cost_limit,omitempty"`
}

// configured reports whether any dimension is limited.
func (t *AgentThreshold) configured() bool {
	return t != nil && (t.DailyTokenLimit > 0 || t.MonthlyTokenLimit > 0 ||
		t.DailyCostLimit > 0 || t.MonthlyCostLimit > 0)
}

// UsageRecord is one persisted token/cost usage sample, written by the
// call path and summed by the threshold checks.
type UsageRecord struct {
	ID           string    `json:"id"`
	AgentType    string    `json:"agent_type"`
	UserID       string    `json:"user_id"`
	Model        string    `json:"model"`
	Provider     string    `json:"provider"`
	InputTokens  int64     `json:"input_tokens"`
	OutputTokens int64     `json:"output_tokens"`
	Cost         float64   `json:"cost"`
	Timestamp    time.Time `json:"timestamp"`
}

// UsageStore persists usage records and answers windowed sums.
type UsageStore interface {
	InsertUsage(ctx context.Context, rec *UsageRecord) error

	// SumUsage totals tokens (input+output) and cost for records of
	// the agent type and user at or after since.
	SumUsage(ctx context.Context, agentType, userID string, since time.Time) (tokens int64, cost float64, err error)
}

// ThresholdStore serves agent thresholds. A missing threshold is
// (nil, nil), not an error.
type ThresholdStore interface {
	GetAgentThreshold(ctx context.Context, agentType string) (*AgentThreshold, error)
	UpsertAgentThreshold(ctx context.Context, threshold *AgentThreshold) error
}

// ValidationError rejects invalid RecordMetrics input. No state changes
// when it is returned.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// NotFoundError is returned by ResetMetrics for unknown models.
type NotFoundError struct {
	Model string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no metrics recorded for model %q", e.Model)
}
