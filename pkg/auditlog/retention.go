package auditlog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// RetentionConfig bounds how long log and audit records are kept.
type RetentionConfig struct {
	// RetentionDays is the age beyond which records are deleted.
	// 0 disables pruning.
	RetentionDays int

	// Schedule is the cron expression for the sweep.
	// Default: "0 3 * * *" (daily at 3 AM).
	Schedule string
}

// DefaultRetentionConfig returns the default retention configuration.
func DefaultRetentionConfig() RetentionConfig {
	return RetentionConfig{
		RetentionDays: 90,
		Schedule:      "0 3 * * *",
	}
}

// Pruner deletes records older than the retention window on a cron
// schedule. Its lifetime is tied to the context passed to Start.
type Pruner struct {
	store  Store
	config RetentionConfig
	cron   *cron.Cron

	mu      sync.Mutex
	running bool

	logger *slog.Logger
}

// NewPruner creates a retention pruner.
func NewPruner(store Store, config RetentionConfig) *Pruner {
	if config.Schedule == "" {
		config.Schedule = "0 3 * * *"
	}
	return &Pruner{
		store:  store,
		config: config,
		cron:   cron.New(),
		logger: slog.Default().With("component", "auditlog.retention"),
	}
}

// Start schedules the sweep. A zero retention disables it entirely.
func (p *Pruner) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.config.RetentionDays <= 0 {
		p.logger.Info("retention disabled, records kept forever")
		return nil
	}
	if p.running {
		return nil
	}

	if _, err := cron.ParseStandard(p.config.Schedule); err != nil {
		return fmt.Errorf("invalid retention schedule %q: %w", p.config.Schedule, err)
	}

	_, err := p.cron.AddFunc(p.config.Schedule, func() {
		if _, perr := p.Prune(ctx); perr != nil {
			p.logger.Error("scheduled prune failed", "error", perr)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule retention sweep: %w", err)
	}

	p.cron.Start()
	p.running = true

	go func() {
		<-ctx.Done()
		p.Stop()
	}()

	p.logger.Info("retention sweep scheduled",
		"schedule", p.config.Schedule,
		"retention_days", p.config.RetentionDays,
	)
	return nil
}

// Prune runs one sweep immediately.
func (p *Pruner) Prune(ctx context.Context) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -p.config.RetentionDays)

	deleted, err := p.store.PruneLogsBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune records before %s: %w", cutoff.Format(time.RFC3339), err)
	}

	if deleted > 0 {
		p.logger.Info("records pruned", "deleted", deleted, "cutoff", cutoff)
	}
	return deleted, nil
}

// Stop halts the schedule and waits for a running sweep.
func (p *Pruner) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}
	p.running = false
	<-p.cron.Stop().Done()
	p.logger.Info("retention sweep stopped")
}
