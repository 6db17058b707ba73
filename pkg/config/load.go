package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads configuration from a YAML file, applies defaults and
// MODELGUARD_* environment overrides, and validates the result. An
// empty path yields the default configuration (still subject to
// overrides).
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read configuration file %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse configuration file %q: %w", path, err)
		}
	}

	ApplyDefaults(cfg)
	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies MODELGUARD_SECTION_FIELD environment
// variables on top of the file values.
func applyEnvOverrides(cfg *Config) {
	setString := func(key string, dst *string) {
		if val := os.Getenv(key); val != "" {
			*dst = val
		}
	}
	setInt := func(key string, dst *int) {
		if val := os.Getenv(key); val != "" {
			if i, err := strconv.Atoi(val); err == nil {
				*dst = i
			}
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if val := os.Getenv(key); val != "" {
			if d, err := time.ParseDuration(val); err == nil {
				*dst = d
			}
		}
	}
	setBool := func(key string, dst *bool) {
		if val := os.Getenv(key); val != "" {
			if b, err := strconv.ParseBool(val); err == nil {
				*dst = b
			}
		}
	}
	setFloat := func(key string, dst *float64) {
		if val := os.Getenv(key); val != "" {
			if f, err := strconv.ParseFloat(val, 64); err == nil {
				*dst = f
			}
		}
	}

	setString("MODELGUARD_SERVER_LISTEN_ADDRESS", &cfg.Server.ListenAddress)
	setDuration("MODELGUARD_SERVER_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	setDuration("MODELGUARD_SERVER_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)

	setString("MODELGUARD_STORAGE_DRIVER", &cfg.Storage.Driver)
	setString("MODELGUARD_STORAGE_DSN", &cfg.Storage.DSN)
	setInt("MODELGUARD_STORAGE_MAX_OPEN_CONNS", &cfg.Storage.MaxOpenConns)
	setInt("MODELGUARD_STORAGE_MAX_IDLE_CONNS", &cfg.Storage.MaxIdleConns)

	setString("MODELGUARD_SECURITY_MASTER_SECRET_ENV", &cfg.Security.MasterSecretEnv)

	setString("MODELGUARD_REDIS_ADDRESS", &cfg.Redis.Address)
	setString("MODELGUARD_REDIS_PASSWORD", &cfg.Redis.Password)
	setInt("MODELGUARD_REDIS_DB", &cfg.Redis.DB)

	setDuration("MODELGUARD_HEALTH_INTERVAL", &cfg.Health.Interval)
	setDuration("MODELGUARD_HEALTH_PROBE_TIMEOUT", &cfg.Health.ProbeTimeout)

	setInt("MODELGUARD_RETRY_MAX_ATTEMPTS", &cfg.Retry.MaxAttempts)
	setDuration("MODELGUARD_RETRY_BASE_BACKOFF", &cfg.Retry.BaseBackoff)
	setDuration("MODELGUARD_RETRY_MAX_BACKOFF", &cfg.Retry.MaxBackoff)

	setFloat("MODELGUARD_MONITOR_FAILURE_RATE_THRESHOLD", &cfg.Monitor.FailureRateThreshold)
	setFloat("MODELGUARD_MONITOR_LATENCY_THRESHOLD_MS", &cfg.Monitor.LatencyThresholdMs)
	setFloat("MODELGUARD_MONITOR_CRITICAL_MULTIPLIER", &cfg.Monitor.CriticalMultiplier)

	setInt("MODELGUARD_RETENTION_DAYS", &cfg.Retention.RetentionDays)
	setString("MODELGUARD_RETENTION_SCHEDULE", &cfg.Retention.Schedule)

	setString("MODELGUARD_TELEMETRY_LOGGING_LEVEL", &cfg.Telemetry.Logging.Level)
	setString("MODELGUARD_TELEMETRY_LOGGING_FORMAT", &cfg.Telemetry.Logging.Format)
	setBool("MODELGUARD_TELEMETRY_METRICS_ENABLED", &cfg.Telemetry.Metrics.Enabled)
	setString("MODELGUARD_TELEMETRY_METRICS_PATH", &cfg.Telemetry.Metrics.Path)
}
