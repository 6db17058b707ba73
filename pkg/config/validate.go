package config

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// ValidationError describes one invalid configuration field.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config field %s: %s", e.Field, e.Message)
}

// Validate checks the configuration for internal consistency. It
// returns the first problem found.
func Validate(cfg *Config) error {
	switch cfg.Storage.Driver {
	case "sqlite", "postgres", "memory":
	default:
		return &ValidationError{
			Field:   "storage.driver",
			Message: fmt.Sprintf("unknown driver %q (want sqlite, postgres, or memory)", cfg.Storage.Driver),
		}
	}
	if cfg.Storage.Driver == "postgres" && cfg.Storage.DSN == "" {
		return &ValidationError{
			Field:   "storage.dsn",
			Message: "required for the postgres driver",
		}
	}

	if cfg.Security.MasterSecretEnv == "" {
		return &ValidationError{
			Field:   "security.master_secret_env",
			Message: "must name the environment variable holding the master secret",
		}
	}

	if cfg.Health.Interval <= 0 {
		return &ValidationError{
			Field:   "health.interval",
			Message: "must be positive",
		}
	}
	if cfg.Health.ProbeTimeout <= 0 {
		return &ValidationError{
			Field:   "health.probe_timeout",
			Message: "must be positive",
		}
	}
	if cfg.Health.ProbeTimeout >= cfg.Health.Interval {
		return &ValidationError{
			Field:   "health.probe_timeout",
			Message: "must be shorter than the check interval",
		}
	}

	if cfg.Retry.MaxAttempts < 1 {
		return &ValidationError{
			Field:   "retry.max_attempts",
			Message: "must be at least 1",
		}
	}
	if cfg.Retry.BaseBackoff <= 0 {
		return &ValidationError{
			Field:   "retry.base_backoff",
			Message: "must be positive",
		}
	}
	if cfg.Retry.MaxBackoff < cfg.Retry.BaseBackoff {
		return &ValidationError{
			Field:   "retry.max_backoff",
			Message: "must be at least the base backoff",
		}
	}

	if cfg.Monitor.FailureRateThreshold <= 0 || cfg.Monitor.FailureRateThreshold > 1 {
		return &ValidationError{
			Field:   "monitor.failure_rate_threshold",
			Message: "must be in (0, 1]",
		}
	}
	if cfg.Monitor.LatencyThresholdMs <= 0 {
		return &ValidationError{
			Field:   "monitor.latency_threshold_ms",
			Message: "must be positive",
		}
	}
	if cfg.Monitor.CriticalMultiplier < 1 {
		return &ValidationError{
			Field:   "monitor.critical_multiplier",
			Message: "must be at least 1",
		}
	}

	if cfg.Retention.RetentionDays < 1 {
		return &ValidationError{
			Field:   "retention.retention_days",
			Message: "must be at least 1 day",
		}
	}
	if _, err := cron.ParseStandard(cfg.Retention.Schedule); err != nil {
		return &ValidationError{
			Field:   "retention.schedule",
			Message: fmt.Sprintf("invalid cron expression %q: %v", cfg.Retention.Schedule, err),
		}
	}

	switch strings.ToLower(cfg.Telemetry.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return &ValidationError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("unknown level %q", cfg.Telemetry.Logging.Level),
		}
	}
	switch strings.ToLower(cfg.Telemetry.Logging.Format) {
	case "json", "text":
	default:
		return &ValidationError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("unknown format %q (want json or text)", cfg.Telemetry.Logging.Format),
		}
	}

	return nil
}
