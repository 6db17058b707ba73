// Package storage provides the persistent store shared by the model
// configuration cache, access control, usage accounting, and the log
// and audit tables.
//
// Three backends exist: SQLite (single instance, the default), Postgres
// (multi-instance deployments sharing one store), and an in-memory
// store for tests. Each consumer package defines the narrow interface
// it needs; the backends here satisfy all of them.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"caremesh/modelguard/pkg/auditlog"
	"caremesh/modelguard/pkg/modelconfig"
	"caremesh/modelguard/pkg/monitor"
	"caremesh/modelguard/pkg/security"
)

// Store is the composite interface every backend satisfies.
type Store interface {
	modelconfig.Store
	security.GrantStore
	security.CredentialStore
	monitor.UsageStore
	monitor.ThresholdStore
	auditlog.Store

	Close() error
}

// Config selects and tunes a backend.
type Config struct {
	// Driver is "sqlite", "postgres", or "memory".
	Driver string `yaml:"driver"`

	// DSN is the database path (sqlite) or connection string
	// (postgres). Ignored by the memory backend.
	DSN string `yaml:"dsn"`

	// MaxOpenConns and MaxIdleConns size the connection pool.
	MaxOpenConns int `yaml:"max_open_conns"`
	MaxIdleConns int `yaml:"max_idle_conns"`
}

// DefaultConfig returns the default SQLite configuration.
func DefaultConfig() Config {
	return Config{
		Driver:       "sqlite",
		DSN:          "data/modelguard.db",
		MaxOpenConns: 10,
		MaxIdleConns: 5,
	}
}

// Open creates the configured backend and initializes its schema.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		return openSQL(ctx, cfg, dialectSQLite)
	case "postgres":
		return openSQL(ctx, cfg, dialectPostgres)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// openSQL opens a database/sql backed store.
func openSQL(ctx context.Context, cfg Config, d dialect) (*SQLStore, error) {
	driverName := "sqlite"
	dsn := cfg.DSN
	if d == dialectPostgres {
		driverName = "postgres"
	} else if dsn == "" {
		dsn = DefaultConfig().DSN
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", driverName, err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s store: %w", driverName, err)
	}

	s := &SQLStore{
		db:      db,
		dialect: d,
		logger:  slog.Default().With("component", "storage", "driver", driverName),
	}

	if err := s.initialize(ctx); err != nil {
		db.Close()
		return nil, err
	}

	s.logger.Info("storage initialized")
	return s, nil
}
