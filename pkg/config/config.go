package config

import "time"

// Config is the full application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Security  SecurityConfig  `yaml:"security"`
	Redis     RedisConfig     `yaml:"redis"`
	Health    HealthConfig    `yaml:"health"`
	Retry     RetryConfig     `yaml:"retry"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Retention RetentionConfig `yaml:"retention"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig configures the HTTP listener that serves metrics and
// health endpoints.
type ServerConfig struct {
	ListenAddress string        `yaml:"listen_address"`
	ReadTimeout   time.Duration `yaml:"read_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
}

// StorageConfig selects the persistent store backend.
type StorageConfig struct {
	// Driver is "sqlite", "postgres", or "memory".
	Driver string `yaml:"driver"`

	// DSN is the database path (sqlite) or connection string
	// (postgres).
	DSN string `yaml:"dsn"`

	MaxOpenConns int `yaml:"max_open_conns"`
	MaxIdleConns int `yaml:"max_idle_conns"`
}

// SecurityConfig configures credential encryption. The secret itself
// lives only in the named environment variable.
type SecurityConfig struct {
	// MasterSecretEnv names the environment variable holding the
	// master encryption secret. Startup fails when it is unset.
	MasterSecretEnv string `yaml:"master_secret_env"`
}

// RedisConfig configures the cache invalidation bus. An empty address
// disables the bus; instances then rely on local reloads only.
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// HealthConfig configures the periodic provider health checks.
type HealthConfig struct {
	Interval     time.Duration `yaml:"interval"`
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
}

// RetryConfig configures the call retry policy.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseBackoff time.Duration `yaml:"base_backoff"`
	MaxBackoff  time.Duration `yaml:"max_backoff"`
}

// MonitorConfig configures the alerting thresholds over the per-model
// aggregates.
type MonitorConfig struct {
	// FailureRateThreshold is the failure rate above which a model is
	// flagged (fraction, 0.10 means 10%).
	FailureRateThreshold float64 `yaml:"failure_rate_threshold"`

	// LatencyThresholdMs is the average latency above which a model is
	// flagged.
	LatencyThresholdMs float64 `yaml:"latency_threshold_ms"`

	// CriticalMultiplier scales an agent limit to its critical bound.
	CriticalMultiplier float64 `yaml:"critical_multiplier"`
}

// RetentionConfig configures the log retention sweep.
type RetentionConfig struct {
	// RetentionDays is how long log records are kept.
	RetentionDays int `yaml:"retention_days"`

	// Schedule is the cron expression for the sweep.
	Schedule string `yaml:"schedule"`
}

// TelemetryConfig configures logging and metrics.
type TelemetryConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	// Level is "debug", "info", "warn", or "error".
	Level string `yaml:"level"`

	// Format is "json" or "text".
	Format string `yaml:"format"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills in zero-valued fields.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = ":9090"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 10 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.DSN == "" && cfg.Storage.Driver == "sqlite" {
		cfg.Storage.DSN = "data/modelguard.db"
	}
	if cfg.Storage.MaxOpenConns == 0 {
		cfg.Storage.MaxOpenConns = 10
	}
	if cfg.Storage.MaxIdleConns == 0 {
		cfg.Storage.MaxIdleConns = 5
	}

	if cfg.Security.MasterSecretEnv == "" {
		cfg.Security.MasterSecretEnv = "MODELGUARD_MASTER_SECRET"
	}

	if cfg.Health.Interval == 0 {
		cfg.Health.Interval = 60 * time.Second
	}
	if cfg.Health.ProbeTimeout == 0 {
		cfg.Health.ProbeTimeout = 10 * time.Second
	}

	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.BaseBackoff == 0 {
		cfg.Retry.BaseBackoff = time.Second
	}
	if cfg.Retry.MaxBackoff == 0 {
		cfg.Retry.MaxBackoff = 30 * time.Second
	}

	if cfg.Monitor.FailureRateThreshold == 0 {
		cfg.Monitor.FailureRateThreshold = 0.10
	}
	if cfg.Monitor.LatencyThresholdMs == 0 {
		cfg.Monitor.LatencyThresholdMs = 30000
	}
	if cfg.Monitor.CriticalMultiplier == 0 {
		cfg.Monitor.CriticalMultiplier = 1.5
	}

	if cfg.Retention.RetentionDays == 0 {
		cfg.Retention.RetentionDays = 90
	}
	if cfg.Retention.Schedule == "" {
		cfg.Retention.Schedule = "0 3 * * *"
	}

	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = "info"
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = "json"
	}
	if cfg.Telemetry.Metrics.Path == "" {
		cfg.Telemetry.Metrics.Path = "/metrics"
	}
}
