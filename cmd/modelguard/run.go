package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"caremesh/modelguard/pkg/auditlog"
	"caremesh/modelguard/pkg/bus"
	"caremesh/modelguard/pkg/config"
	"caremesh/modelguard/pkg/gateway"
	"caremesh/modelguard/pkg/health"
	"caremesh/modelguard/pkg/modelconfig"
	"caremesh/modelguard/pkg/monitor"
	"caremesh/modelguard/pkg/registry"
	"caremesh/modelguard/pkg/retry"
	"caremesh/modelguard/pkg/security"
	"caremesh/modelguard/pkg/storage"
	"caremesh/modelguard/pkg/telemetry/logging"
	"caremesh/modelguard/pkg/telemetry/metrics"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the ModelGuard service",
	Long: `Start the ModelGuard service: load the model configurations, build the
provider registry, and serve health, status, and metrics endpoints
until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runServer() error {
	// A missing .env file is fine; environment variables may be set
	// directly.
	_ = godotenv.Load()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}

	logger := logging.Setup(logging.Config{
		Level:  cfg.Telemetry.Logging.Level,
		Format: cfg.Telemetry.Logging.Format,
	})
	logger.Info("starting modelguard", "version", Version)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The master secret is load-bearing: without it no stored
	// credential can be decrypted, so refusing to start beats starting
	// blind.
	secret := os.Getenv(cfg.Security.MasterSecretEnv)
	cipher, err := security.NewCipher(secret)
	if err != nil {
		return fmt.Errorf("master secret (%s): %w", cfg.Security.MasterSecretEnv, err)
	}

	store, err := storage.Open(ctx, storage.Config{
		Driver:       cfg.Storage.Driver,
		DSN:          cfg.Storage.DSN,
		MaxOpenConns: cfg.Storage.MaxOpenConns,
		MaxIdleConns: cfg.Storage.MaxIdleConns,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	recorder := auditlog.NewRecorder(store, auditlog.DefaultRecorderConfig())
	defer recorder.Close()

	var invBus *bus.Redis
	if cfg.Redis.Address != "" {
		invBus, err = bus.NewRedis(ctx, cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Warn("invalidation bus unavailable, running standalone", "error", err)
		} else {
			defer invBus.Close()
		}
	}

	access := security.NewAccessControl(store, recorder, invBus)
	if err := access.LoadFromStore(ctx); err != nil {
		return err
	}

	cache := modelconfig.NewCache(store, cipher)
	if err := cache.Refresh(ctx); err != nil {
		return err
	}

	var collector *metrics.Collector
	if cfg.Telemetry.Metrics.Enabled {
		collector = metrics.NewCollector(metrics.DefaultConfig(), nil)
	}

	reg := registry.New(cache, 0)
	if collector != nil {
		reg.SetStatusListener(collector.SetProviderHealth)
	}
	if err := reg.Build(ctx); err != nil {
		return err
	}
	defer reg.Close()

	sched := health.NewScheduler(reg, health.Config{
		Interval:     cfg.Health.Interval,
		ProbeTimeout: cfg.Health.ProbeTimeout,
	})

	mon := monitor.New(monitor.Config{
		FailureRateThreshold: cfg.Monitor.FailureRateThreshold,
		LatencyThresholdMs:   cfg.Monitor.LatencyThresholdMs,
		CriticalMultiplier:   cfg.Monitor.CriticalMultiplier,
	}, store, store, collector)

	gw := gateway.New(gateway.Deps{
		Cache:     cache,
		Registry:  reg,
		Health:    sched,
		Access:    access,
		Monitor:   mon,
		Recorder:  recorder,
		LogStore:  store,
		Collector: collector,
	}, retry.Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseBackoff: cfg.Retry.BaseBackoff,
		MaxBackoff:  cfg.Retry.MaxBackoff,
	})

	// Other instances broadcast invalidations after credential
	// rotations, grant changes, and configuration edits.
	if invBus != nil {
		invBus.Subscribe(ctx, bus.TopicModelConfig, func() {
			if err := gw.ReloadProviders(ctx); err != nil {
				logger.Error("broadcast-triggered reload failed", "error", err)
			}
		})
		invBus.Subscribe(ctx, bus.TopicAccess, func() {
			if err := access.LoadFromStore(ctx); err != nil {
				logger.Error("broadcast-triggered grant reload failed", "error", err)
			}
		})
	}

	sched.Start(ctx)
	defer sched.Stop()

	pruner := auditlog.NewPruner(store, auditlog.RetentionConfig{
		RetentionDays: cfg.Retention.RetentionDays,
		Schedule:      cfg.Retention.Schedule,
	})
	if err := pruner.Start(ctx); err != nil {
		return err
	}
	defer pruner.Stop()

	if cfgFile != "" {
		watcher, err := config.NewWatcher(cfgFile, logger)
		if err != nil {
			return err
		}
		go func() {
			err := watcher.Watch(ctx, func(_ *config.Config) error {
				// Provider-affecting changes land in the store, not
				// the file; a file change still refreshes adapters so
				// endpoint or timeout edits take effect.
				return gw.ReloadProviders(ctx)
			})
			if err != nil {
				logger.Error("configuration watcher stopped", "error", err)
			}
		}()
		defer watcher.Stop()
	}

	server := newHTTPServer(cfg, gw, collector)
	go func() {
		logger.Info("http server listening", "address", cfg.Server.ListenAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown incomplete", "error", err)
	}
	return nil
}

// newHTTPServer builds the operational HTTP surface: liveness, provider
// status, aggregates, alerts, and Prometheus metrics.
func newHTTPServer(cfg *config.Config, gw *gateway.Gateway, collector *metrics.Collector) *http.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, gw.ProviderStatuses())
	})

	mux.HandleFunc("/aggregates", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, gw.Aggregates())
	})

	mux.HandleFunc("/alerts", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, gw.CheckAlerts())
	})

	if collector != nil {
		mux.Handle(cfg.Telemetry.Metrics.Path, collector.Handler())
	}

	return &http.Server{
		Addr:         cfg.Server.ListenAddress,
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
