// Package auditlog owns the append-only operational records: call logs,
// retry logs, degradation logs, and the audit trail. Records are written
// asynchronously and best-effort, queried with offset pagination, and
// purged by a scheduled retention sweep.
package auditlog

import (
	"context"
	"time"
)

// CallLog records one provider call outcome.
type CallLog struct {
	ID           string    `json:"id"`
	Model        string    `json:"model"`
	Provider     string    `json:"provider"`
	Scenario     string    `json:"scenario,omitempty"`
	AgentType    string    `json:"agent_type,omitempty"`
	UserID       string    `json:"user_id,omitempty"`
	InputTokens  int64     `json:"input_tokens"`
	OutputTokens int64     `json:"output_tokens"`
	LatencyMs    float64   `json:"latency_ms"`
	Success      bool      `json:"success"`
	ErrorCode    string    `json:"error_code,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// RetryLog records one retry decision.
type RetryLog struct {
	ID           string    `json:"id"`
	Model        string    `json:"model"`
	Provider     string    `json:"provider"`
	Attempt      int       `json:"attempt"`
	MaxAttempts  int       `json:"max_attempts"`
	ErrorCode    string    `json:"error_code"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// DegradationLog records a call that fell back to a different provider
// or model than originally requested.
type DegradationLog struct {
	ID                string    `json:"id"`
	RequestedModel    string    `json:"requested_model"`
	RequestedProvider string    `json:"requested_provider"`
	ActualModel       string    `json:"actual_model"`
	ActualProvider    string    `json:"actual_provider"`
	Reason            string    `json:"reason"`
	Timestamp         time.Time `json:"timestamp"`
}

// AuditEvent is one generic audit trail entry. Details is sanitized
// JSON; sensitive fields are redacted before the event reaches the
// recorder.
type AuditEvent struct {
	ID        string    `json:"id"`
	Action    string    `json:"action"`
	Resource  string    `json:"resource"`
	Actor     string    `json:"actor"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Query filters paginated log reads. Zero-valued filters are ignored.
type Query struct {
	Model    string
	Provider string
	Scenario string

	// Success filters call logs by outcome when non-nil.
	Success *bool

	// Action filters audit events.
	Action string

	// Start and End bound the time range (inclusive start, exclusive
	// end) when non-nil.
	Start *time.Time
	End   *time.Time

	// Limit defaults to 100; Offset to 0.
	Limit  int
	Offset int
}

// DefaultPageSize is applied when a query has no limit.
const DefaultPageSize = 100

// Normalize applies pagination defaults.
func (q Query) Normalize() Query {
	if q.Limit <= 0 {
		q.Limit = DefaultPageSize
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}

// Store is the persistent backend for all four record families.
type Store interface {
	InsertCallLog(ctx context.Context, rec *CallLog) error
	InsertRetryLog(ctx context.Context, rec *RetryLog) error
	InsertDegradationLog(ctx context.Context, rec *DegradationLog) error
	InsertAuditEvent(ctx context.Context, rec *AuditEvent) error

	QueryCallLogs(ctx context.Context, q Query) ([]*CallLog, error)
	QueryRetryLogs(ctx context.Context, q Query) ([]*RetryLog, error)
	QueryDegradationLogs(ctx context.Context, q Query) ([]*DegradationLog, error)
	QueryAuditEvents(ctx context.Context, q Query) ([]*AuditEvent, error)

	// PruneLogsBefore deletes records older than cutoff across all
	// four families and reports how many rows went away.
	PruneLogsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
