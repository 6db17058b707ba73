// Package health runs the periodic provider health checks that feed the
// registry's status map.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"caremesh/modelguard/pkg/registry"
)

// Config configures the health check scheduler.
type Config struct {
	// Interval between rounds. Default: 60s.
	Interval time.Duration

	// ProbeTimeout bounds one provider probe. Default: 10s.
	ProbeTimeout time.Duration
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		Interval:     60 * time.Second,
		ProbeTimeout: 10 * time.Second,
	}
}

// Scheduler probes every registered adapter on a fixed interval.
//
// Within a round all probes run concurrently and each provider's status
// is updated as its own probe settles, so a slow adapter delays only its
// own update. The round completes when every probe has settled. After
// cancellation, results of in-flight probes are discarded rather than
// written to a torn-down registry.
type Scheduler struct {
	registry *registry.Registry
	config   Config

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}

	logger *slog.Logger
}

// NewScheduler creates a scheduler over the registry.
func NewScheduler(reg *registry.Registry, config Config) *Scheduler {
	if config.Interval <= 0 {
		config.Interval = 60 * time.Second
	}
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = 10 * time.Second
	}
	return &Scheduler{
		registry: reg,
		config:   config,
		logger:   slog.Default().With("component", "health"),
	}
}

// Start launches the background loop: one immediate round, then one per
// interval. Start is idempotent while running.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.stopped = make(chan struct{})

	go s.run(runCtx)

	s.logger.Info("health check scheduler started", "interval", s.config.Interval)
}

// Stop cancels the loop and waits for the current round to settle.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	stopped := s.stopped
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-stopped
	s.logger.Info("health check scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.stopped)

	s.RunRound(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunRound(ctx)
		}
	}
}

// RunRound probes every adapter concurrently and waits for all probes to
// settle. Safe to call directly for an on-demand full round (e.g. right
// after a registry reload).
func (s *Scheduler) RunRound(ctx context.Context) {
	adapters := s.registry.Adapters()
	if len(adapters) == 0 {
		return
	}

	start := time.Now()
	var wg sync.WaitGroup
	for name, adapter := range adapters {
		wg.Add(1)
		go func(name string, probe func(context.Context) error) {
			defer wg.Done()
			s.probe(ctx, name, probe)
		}(name, adapter.HealthCheck)
	}
	wg.Wait()

	s.logger.Debug("health check round complete",
		"providers", len(adapters),
		"elapsed", time.Since(start),
	)
}

// CheckNow runs a synchronous single-provider check with the same update
// semantics as a scheduled round.
func (s *Scheduler) CheckNow(ctx context.Context, name string) (registry.Status, bool) {
	adapter, ok := s.registry.Adapter(name)
	if !ok {
		return registry.Status{}, false
	}

	s.probe(ctx, name, adapter.HealthCheck)
	return s.registry.GetStatus(name)
}

// probe runs one health check and records its outcome. A result arriving
// after cancellation is discarded.
func (s *Scheduler) probe(ctx context.Context, name string, check func(context.Context) error) {
	probeCtx, cancel := context.WithTimeout(ctx, s.config.ProbeTimeout)
	defer cancel()

	start := time.Now()
	err := check(probeCtx)
	latency := time.Since(start)

	if ctx.Err() != nil {
		s.logger.Debug("discarding probe result after cancellation", "provider", name)
		return
	}

	if err != nil {
		s.registry.SetStatus(name, false, err)
		s.logger.Warn("health check failed",
			"provider", name,
			"latency", latency,
			"error", err,
		)
		return
	}

	prev, _ := s.registry.GetStatus(name)
	s.registry.SetStatus(name, true, nil)
	if !prev.Available {
		s.logger.Info("provider available", "provider", name, "latency", latency)
	} else {
		s.logger.Debug("health check passed", "provider", name, "latency", latency)
	}
}
