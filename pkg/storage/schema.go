package storage

// schemaStatements are executed in order on startup. Statements use
// IF NOT EXISTS so initialization is idempotent for both backends.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS model_configs (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		provider TEXT NOT NULL,
		encrypted_api_key TEXT NOT NULL,
		endpoint TEXT NOT NULL DEFAULT '',
		temperature DOUBLE PRECISION NOT NULL DEFAULT 0,
		max_tokens INTEGER NOT NULL DEFAULT 0,
		input_cost_per_token DOUBLE PRECISION NOT NULL DEFAULT 0,
		output_cost_per_token DOUBLE PRECISION NOT NULL DEFAULT 0,
		rate_limit_per_minute INTEGER NOT NULL DEFAULT 0,
		rate_limit_per_day INTEGER NOT NULL DEFAULT 0,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS access_grants (
		user_id TEXT NOT NULL,
		model_id TEXT NOT NULL,
		granted_at TIMESTAMP NOT NULL,
		PRIMARY KEY (user_id, model_id)
	)`,

	`CREATE TABLE IF NOT EXISTS usage_records (
		id TEXT PRIMARY KEY,
		agent_type TEXT NOT NULL,
		user_id TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL,
		provider TEXT NOT NULL,
		input_tokens INTEGER NOT NULL,
		output_tokens INTEGER NOT NULL,
		cost DOUBLE PRECISION NOT NULL,
		recorded_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_usage_agent_time
		ON usage_records (agent_type, recorded_at)`,

	`CREATE TABLE IF NOT EXISTS agent_thresholds (
		agent_type TEXT PRIMARY KEY,
		daily_token_limit INTEGER NOT NULL DEFAULT 0,
		monthly_token_limit INTEGER NOT NULL DEFAULT 0,
		daily_cost_limit DOUBLE PRECISION NOT NULL DEFAULT 0,
		monthly_cost_limit DOUBLE PRECISION NOT NULL DEFAULT 0,
		updated_at TIMESTAMP NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS call_logs (
		id TEXT PRIMARY KEY,
		model TEXT NOT NULL,
		provider TEXT NOT NULL,
		scenario TEXT NOT NULL DEFAULT '',
		agent_type TEXT NOT NULL DEFAULT '',
		user_id TEXT NOT NULL DEFAULT '',
		input_tokens INTEGER NOT NULL,
		output_tokens INTEGER NOT NULL,
		latency_ms DOUBLE PRECISION NOT NULL,
		success BOOLEAN NOT NULL,
		error_code TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT '',
		recorded_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_call_logs_time
		ON call_logs (recorded_at)`,
	`CREATE INDEX IF NOT EXISTS idx_call_logs_model
		ON call_logs (provider, model, recorded_at)`,

	`CREATE TABLE IF NOT EXISTS retry_logs (
		id TEXT PRIMARY KEY,
		model TEXT NOT NULL,
		provider TEXT NOT NULL,
		attempt INTEGER NOT NULL,
		max_attempts INTEGER NOT NULL,
		error_code TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT '',
		recorded_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_retry_logs_time
		ON retry_logs (recorded_at)`,

	`CREATE TABLE IF NOT EXISTS degradation_logs (
		id TEXT PRIMARY KEY,
		requested_model TEXT NOT NULL,
		requested_provider TEXT NOT NULL,
		actual_model TEXT NOT NULL,
		actual_provider TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		recorded_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_degradation_logs_time
		ON degradation_logs (recorded_at)`,

	`CREATE TABLE IF NOT EXISTS audit_events (
		id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		resource TEXT NOT NULL DEFAULT '',
		actor TEXT NOT NULL DEFAULT '',
		details TEXT NOT NULL DEFAULT '',
		recorded_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_events_time
		ON audit_events (recorded_at)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_events_action
		ON audit_events (action, recorded_at)`,
}
