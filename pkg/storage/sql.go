package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"caremesh/modelguard/pkg/auditlog"
	"caremesh/modelguard/pkg/modelconfig"
	"caremesh/modelguard/pkg/monitor"
	"caremesh/modelguard/pkg/security"
)

// SQLStore is the database/sql backed store, shared by the SQLite and
// Postgres backends. Queries are written with ? placeholders and
// rebound to $n for Postgres.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	logger  *slog.Logger
}

// initialize applies the schema.
func (s *SQLStore) initialize(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// Close releases the connection pool.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// rebind converts ? placeholders to the dialect's form.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *SQLStore) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(query), args...)
}

func (s *SQLStore) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}

// ---- model configurations ----

const modelConfigColumns = `id, name, provider, encrypted_api_key, endpoint,
	temperature, max_tokens, input_cost_per_token, output_cost_per_token,
	rate_limit_per_minute, rate_limit_per_day, active, created_at, updated_at`

// CreateModelConfig inserts a new model configuration.
func (s *SQLStore) CreateModelConfig(ctx context.Context, cfg *modelconfig.ModelConfig) error {
	now := time.Now().UTC()
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now

	_, err := s.exec(ctx, `INSERT INTO model_configs (`+modelConfigColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cfg.ID, cfg.Name, cfg.Provider, cfg.EncryptedAPIKey, cfg.Endpoint,
		cfg.Temperature, cfg.MaxTokens, cfg.InputCostPerToken, cfg.OutputCostPerToken,
		cfg.RateLimitPerMinute, cfg.RateLimitPerDay, cfg.Active, cfg.CreatedAt, cfg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create model config %q: %w", cfg.Name, err)
	}
	return nil
}

// UpdateModelConfig replaces a model configuration by id.
func (s *SQLStore) UpdateModelConfig(ctx context.Context, cfg *modelconfig.ModelConfig) error {
	cfg.UpdatedAt = time.Now().UTC()

	res, err := s.exec(ctx, `UPDATE model_configs SET
		name = ?, provider = ?, encrypted_api_key = ?, endpoint = ?,
		temperature = ?, max_tokens = ?, input_cost_per_token = ?,
		output_cost_per_token = ?, rate_limit_per_minute = ?,
		rate_limit_per_day = ?, active = ?, updated_at = ?
		WHERE id = ?`,
		cfg.Name, cfg.Provider, cfg.EncryptedAPIKey, cfg.Endpoint,
		cfg.Temperature, cfg.MaxTokens, cfg.InputCostPerToken,
		cfg.OutputCostPerToken, cfg.RateLimitPerMinute,
		cfg.RateLimitPerDay, cfg.Active, cfg.UpdatedAt, cfg.ID)
	if err != nil {
		return fmt.Errorf("update model config %q: %w", cfg.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return modelconfig.ErrNotFound
	}
	return nil
}

// GetModelConfigByID fetches one configuration by id.
func (s *SQLStore) GetModelConfigByID(ctx context.Context, id string) (*modelconfig.ModelConfig, error) {
	row := s.queryRow(ctx, `SELECT `+modelConfigColumns+`
		FROM model_configs WHERE id = ?`, id)
	return scanModelConfig(row)
}

// GetModelConfigByName fetches one configuration by its unique name.
func (s *SQLStore) GetModelConfigByName(ctx context.Context, name string) (*modelconfig.ModelConfig, error) {
	row := s.queryRow(ctx, `SELECT `+modelConfigColumns+`
		FROM model_configs WHERE name = ?`, name)
	return scanModelConfig(row)
}

// ListActiveModelConfigs returns all active configurations ordered by
// name.
func (s *SQLStore) ListActiveModelConfigs(ctx context.Context) ([]*modelconfig.ModelConfig, error) {
	rows, err := s.query(ctx, `SELECT `+modelConfigColumns+`
		FROM model_configs WHERE active = ? ORDER BY name`, true)
	if err != nil {
		return nil, fmt.Errorf("list model configs: %w", err)
	}
	defer rows.Close()

	var out []*modelconfig.ModelConfig
	for rows.Next() {
		cfg, err := scanModelConfig(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

// DeleteModelConfig removes a configuration by id.
func (s *SQLStore) DeleteModelConfig(ctx context.Context, id string) error {
	res, err := s.exec(ctx, `DELETE FROM model_configs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete model config %q: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return modelconfig.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanModelConfig(row rowScanner) (*modelconfig.ModelConfig, error) {
	var cfg modelconfig.ModelConfig
	err := row.Scan(&cfg.ID, &cfg.Name, &cfg.Provider, &cfg.EncryptedAPIKey,
		&cfg.Endpoint, &cfg.Temperature, &cfg.MaxTokens,
		&cfg.InputCostPerToken, &cfg.OutputCostPerToken,
		&cfg.RateLimitPerMinute, &cfg.RateLimitPerDay, &cfg.Active,
		&cfg.CreatedAt, &cfg.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, modelconfig.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan model config: %w", err)
	}
	return &cfg, nil
}

// GetEncryptedKey returns the stored credential ciphertext for a model
// configuration.
func (s *SQLStore) GetEncryptedKey(ctx context.Context, modelID string) (string, error) {
	var encrypted string
	err := s.queryRow(ctx, `SELECT encrypted_api_key FROM model_configs
		WHERE id = ?`, modelID).Scan(&encrypted)
	if errors.Is(err, sql.ErrNoRows) {
		return "", security.ErrConfigNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get encrypted key %q: %w", modelID, err)
	}
	return encrypted, nil
}

// UpdateEncryptedKey replaces the stored credential ciphertext.
func (s *SQLStore) UpdateEncryptedKey(ctx context.Context, modelID, encrypted string) error {
	res, err := s.exec(ctx, `UPDATE model_configs
		SET encrypted_api_key = ?, updated_at = ? WHERE id = ?`,
		encrypted, time.Now().UTC(), modelID)
	if err != nil {
		return fmt.Errorf("update encrypted key %q: %w", modelID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return security.ErrConfigNotFound
	}
	return nil
}

// ---- access grants ----

// ListGrants returns every persisted user-to-model grant.
func (s *SQLStore) ListGrants(ctx context.Context) ([]security.Grant, error) {
	rows, err := s.query(ctx, `SELECT user_id, model_id FROM access_grants`)
	if err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}
	defer rows.Close()

	var out []security.Grant
	for rows.Next() {
		var g security.Grant
		if err := rows.Scan(&g.UserID, &g.ModelID); err != nil {
			return nil, fmt.Errorf("scan grant: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// AddGrant persists a grant. Re-granting is a no-op.
func (s *SQLStore) AddGrant(ctx context.Context, userID, modelID string) error {
	_, err := s.exec(ctx, `INSERT INTO access_grants (user_id, model_id, granted_at)
		VALUES (?, ?, ?) ON CONFLICT (user_id, model_id) DO NOTHING`,
		userID, modelID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("add grant %s/%s: %w", userID, modelID, err)
	}
	return nil
}

// RemoveGrant deletes a grant. Removing an absent grant is a no-op.
func (s *SQLStore) RemoveGrant(ctx context.Context, userID, modelID string) error {
	_, err := s.exec(ctx, `DELETE FROM access_grants
		WHERE user_id = ? AND model_id = ?`, userID, modelID)
	if err != nil {
		return fmt.Errorf("remove grant %s/%s: %w", userID, modelID, err)
	}
	return nil
}

// ---- usage records and agent thresholds ----

// InsertUsage persists one usage record.
func (s *SQLStore) InsertUsage(ctx context.Context, rec *monitor.UsageRecord) error {
	_, err := s.exec(ctx, `INSERT INTO usage_records
		(id, agent_type, user_id, model, provider, input_tokens,
		 output_tokens, cost, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.AgentType, rec.UserID, rec.Model, rec.Provider,
		rec.InputTokens, rec.OutputTokens, rec.Cost, rec.Timestamp)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

// SumUsage totals tokens and cost for an agent type (and user, when
// set) at or after since.
func (s *SQLStore) SumUsage(ctx context.Context, agentType, userID string, since time.Time) (int64, float64, error) {
	q := `SELECT COALESCE(SUM(input_tokens + output_tokens), 0),
		COALESCE(SUM(cost), 0)
		FROM usage_records WHERE agent_type = ? AND recorded_at >= ?`
	args := []any{agentType, since}
	if userID != "" {
		q += ` AND user_id = ?`
		args = append(args, userID)
	}

	var tokens int64
	var cost float64
	if err := s.queryRow(ctx, q, args...).Scan(&tokens, &cost); err != nil {
		return 0, 0, fmt.Errorf("sum usage for %q: %w", agentType, err)
	}
	return tokens, cost, nil
}

// GetAgentThreshold returns the threshold for an agent type, or nil
// when none is configured.
func (s *SQLStore) GetAgentThreshold(ctx context.Context, agentType string) (*monitor.AgentThreshold, error) {
	var t monitor.AgentThreshold
	err := s.queryRow(ctx, `SELECT agent_type, daily_token_limit,
		monthly_token_limit, daily_cost_limit, monthly_cost_limit
		FROM agent_thresholds WHERE agent_type = ?`, agentType).
		Scan(&t.AgentType, &t.DailyTokenLimit, &t.MonthlyTokenLimit,
			&t.DailyCostLimit, &t.MonthlyCostLimit)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get agent threshold %q: %w", agentType, err)
	}
	return &t, nil
}

// UpsertAgentThreshold creates or replaces an agent threshold.
func (s *SQLStore) UpsertAgentThreshold(ctx context.Context, t *monitor.AgentThreshold) error {
	_, err := s.exec(ctx, `INSERT INTO agent_thresholds
		(agent_type, daily_token_limit, monthly_token_limit,
		 daily_cost_limit, monthly_cost_limit, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (agent_type) DO UPDATE SET
			daily_token_limit = excluded.daily_token_limit,
			monthly_token_limit = excluded.monthly_token_limit,
			daily_cost_limit = excluded.daily_cost_limit,
			monthly_cost_limit = excluded.monthly_cost_limit,
			updated_at = excluded.updated_at`,
		t.AgentType, t.DailyTokenLimit, t.MonthlyTokenLimit,
		t.DailyCostLimit, t.MonthlyCostLimit, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert agent threshold %q: %w", t.AgentType, err)
	}
	return nil
}

// ---- call, retry, degradation, and audit records ----

// InsertCallLog persists one call outcome.
func (s *SQLStore) InsertCallLog(ctx context.Context, rec *auditlog.CallLog) error {
	_, err := s.exec(ctx, `INSERT INTO call_logs
		(id, model, provider, scenario, agent_type, user_id,
		 input_tokens, output_tokens, latency_ms, success,
		 error_code, error_message, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Model, rec.Provider, rec.Scenario, rec.AgentType,
		rec.UserID, rec.InputTokens, rec.OutputTokens, rec.LatencyMs,
		rec.Success, rec.ErrorCode, rec.ErrorMessage, rec.Timestamp)
	if err != nil {
		return fmt.Errorf("insert call log: %w", err)
	}
	return nil
}

// InsertRetryLog persists one retry decision.
func (s *SQLStore) InsertRetryLog(ctx context.Context, rec *auditlog.RetryLog) error {
	_, err := s.exec(ctx, `INSERT INTO retry_logs
		(id, model, provider, attempt, max_attempts, error_code,
		 error_message, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Model, rec.Provider, rec.Attempt, rec.MaxAttempts,
		rec.ErrorCode, rec.ErrorMessage, rec.Timestamp)
	if err != nil {
		return fmt.Errorf("insert retry log: %w", err)
	}
	return nil
}

// InsertDegradationLog persists one fallback event.
func (s *SQLStore) InsertDegradationLog(ctx context.Context, rec *auditlog.DegradationLog) error {
	_, err := s.exec(ctx, `INSERT INTO degradation_logs
		(id, requested_model, requested_provider, actual_model,
		 actual_provider, reason, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.RequestedModel, rec.RequestedProvider,
		rec.ActualModel, rec.ActualProvider, rec.Reason, rec.Timestamp)
	if err != nil {
		return fmt.Errorf("insert degradation log: %w", err)
	}
	return nil
}

// InsertAuditEvent persists one audit trail entry.
func (s *SQLStore) InsertAuditEvent(ctx context.Context, rec *auditlog.AuditEvent) error {
	_, err := s.exec(ctx, `INSERT INTO audit_events
		(id, action, resource, actor, details, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Action, rec.Resource, rec.Actor, rec.Details, rec.Timestamp)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// queryFilter builds the shared WHERE / ORDER / LIMIT tail for the log
// queries. Conditions only reference columns present on every table
// they are used against.
func buildFilter(q auditlog.Query, conds []string, args []any) (string, []any) {
	if q.Start != nil {
		conds = append(conds, "recorded_at >= ?")
		args = append(args, *q.Start)
	}
	if q.End != nil {
		conds = append(conds, "recorded_at < ?")
		args = append(args, *q.End)
	}

	var b strings.Builder
	if len(conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}
	b.WriteString(" ORDER BY recorded_at DESC LIMIT ? OFFSET ?")
	args = append(args, q.Limit, q.Offset)
	return b.String(), args
}

// QueryCallLogs returns call logs matching the query, newest first.
func (s *SQLStore) QueryCallLogs(ctx context.Context, q auditlog.Query) ([]*auditlog.CallLog, error) {
	q = q.Normalize()

	var conds []string
	var args []any
	if q.Model != "" {
		conds = append(conds, "model = ?")
		args = append(args, q.Model)
	}
	if q.Provider != "" {
		conds = append(conds, "provider = ?")
		args = append(args, q.Provider)
	}
	if q.Scenario != "" {
		conds = append(conds, "scenario = ?")
		args = append(args, q.Scenario)
	}
	if q.Success != nil {
		conds = append(conds, "success = ?")
		args = append(args, *q.Success)
	}
	tail, args := buildFilter(q, conds, args)

	rows, err := s.query(ctx, `SELECT id, model, provider, scenario,
		agent_type, user_id, input_tokens, output_tokens, latency_ms,
		success, error_code, error_message, recorded_at
		FROM call_logs`+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("query call logs: %w", err)
	}
	defer rows.Close()

	var out []*auditlog.CallLog
	for rows.Next() {
		var rec auditlog.CallLog
		if err := rows.Scan(&rec.ID, &rec.Model, &rec.Provider,
			&rec.Scenario, &rec.AgentType, &rec.UserID,
			&rec.InputTokens, &rec.OutputTokens, &rec.LatencyMs,
			&rec.Success, &rec.ErrorCode, &rec.ErrorMessage,
			&rec.Timestamp); err != nil {
			return nil, fmt.Errorf("scan call log: %w", err)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// QueryRetryLogs returns retry logs matching the query, newest first.
func (s *SQLStore) QueryRetryLogs(ctx context.Context, q auditlog.Query) ([]*auditlog.RetryLog, error) {
	q = q.Normalize()

	var conds []string
	var args []any
	if q.Model != "" {
		conds = append(conds, "model = ?")
		args = append(args, q.Model)
	}
	if q.Provider != "" {
		conds = append(conds, "provider = ?")
		args = append(args, q.Provider)
	}
	tail, args := buildFilter(q, conds, args)

	rows, err := s.query(ctx, `SELECT id, model, provider, attempt,
		max_attempts, error_code, error_message, recorded_at
		FROM retry_logs`+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("query retry logs: %w", err)
	}
	defer rows.Close()

	var out []*auditlog.RetryLog
	for rows.Next() {
		var rec auditlog.RetryLog
		if err := rows.Scan(&rec.ID, &rec.Model, &rec.Provider,
			&rec.Attempt, &rec.MaxAttempts, &rec.ErrorCode,
			&rec.ErrorMessage, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("scan retry log: %w", err)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// QueryDegradationLogs returns fallback events matching the query,
// newest first.
func (s *SQLStore) QueryDegradationLogs(ctx context.Context, q auditlog.Query) ([]*auditlog.DegradationLog, error) {
	q = q.Normalize()

	var conds []string
	var args []any
	if q.Model != "" {
		conds = append(conds, "requested_model = ?")
		args = append(args, q.Model)
	}
	if q.Provider != "" {
		conds = append(conds, "requested_provider = ?")
		args = append(args, q.Provider)
	}
	tail, args := buildFilter(q, conds, args)

	rows, err := s.query(ctx, `SELECT id, requested_model,
		requested_provider, actual_model, actual_provider, reason,
		recorded_at FROM degradation_logs`+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("query degradation logs: %w", err)
	}
	defer rows.Close()

	var out []*auditlog.DegradationLog
	for rows.Next() {
		var rec auditlog.DegradationLog
		if err := rows.Scan(&rec.ID, &rec.RequestedModel,
			&rec.RequestedProvider, &rec.ActualModel,
			&rec.ActualProvider, &rec.Reason, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("scan degradation log: %w", err)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// QueryAuditEvents returns audit trail entries matching the query,
// newest first.
func (s *SQLStore) QueryAuditEvents(ctx context.Context, q auditlog.Query) ([]*auditlog.AuditEvent, error) {
	q = q.Normalize()

	var conds []string
	var args []any
	if q.Action != "" {
		conds = append(conds, "UPPER(action) = UPPER(?)")
		args = append(args, q.Action)
	}
	tail, args := buildFilter(q, conds, args)

	rows, err := s.query(ctx, `SELECT id, action, resource, actor,
		details, recorded_at FROM audit_events`+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var out []*auditlog.AuditEvent
	for rows.Next() {
		var rec auditlog.AuditEvent
		if err := rows.Scan(&rec.ID, &rec.Action, &rec.Resource,
			&rec.Actor, &rec.Details, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// PruneLogsBefore deletes records older than cutoff across all four
// record families and reports the total rows removed.
func (s *SQLStore) PruneLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tables := []string{"call_logs", "retry_logs", "degradation_logs", "audit_events"}

	var total int64
	for _, table := range tables {
		res, err := s.exec(ctx, `DELETE FROM `+table+` WHERE recorded_at < ?`, cutoff)
		if err != nil {
			return total, fmt.Errorf("prune %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

var _ Store = (*SQLStore)(nil)
