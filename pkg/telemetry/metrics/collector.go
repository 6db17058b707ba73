// Package metrics exposes Prometheus collectors for provider calls and
// health.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config configures metric naming.
type Config struct {
	// Namespace prefixes every metric name. Default: "modelguard".
	Namespace string

	// LatencyBuckets are the histogram buckets in seconds. Defaults
	// cover LLM latencies from 100ms to 2 minutes.
	LatencyBuckets []float64
}

// DefaultConfig returns the default metrics configuration.
func DefaultConfig() Config {
	return Config{
		Namespace:      "modelguard",
		LatencyBuckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}
}

// Collector registers and updates the provider-facing metrics:
//
//   - modelguard_provider_health: health status gauge (1=up, 0=down)
//   - modelguard_call_latency_seconds: call latency histogram
//   - modelguard_calls_total: call counter by outcome
//   - modelguard_provider_errors_total: classified error counter
type Collector struct {
	registry *prometheus.Registry

	health  *prometheus.GaugeVec
	latency *prometheus.HistogramVec
	calls   *prometheus.CounterVec
	errors  *prometheus.CounterVec
}

// NewCollector creates and registers the collectors. A nil registry uses
// a fresh private registry.
func NewCollector(cfg Config, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "modelguard"
	}
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}

	c := &Collector{
		registry: registry,
		health: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Name:      "provider_health",
				Help:      "Provider health status (1=healthy, 0=unhealthy)",
			},
			[]string{"provider"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Name:      "call_latency_seconds",
				Help:      "Provider call latency in seconds",
				Buckets:   cfg.LatencyBuckets,
			},
			[]string{"provider", "model"},
		),
		calls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "calls_total",
				Help:      "Total provider calls by outcome",
			},
			[]string{"provider", "model", "outcome"},
		),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "provider_errors_total",
				Help:      "Total classified provider errors by kind",
			},
			[]string{"provider", "kind"},
		),
	}

	registry.MustRegister(c.health, c.latency, c.calls, c.errors)
	return c
}

// SetProviderHealth updates the health gauge.
func (c *Collector) SetProviderHealth(provider string, available bool) {
	value := 0.0
	if available {
		value = 1.0
	}
	c.health.WithLabelValues(provider).Set(value)
}

// ObserveCall records one completed call.
func (c *Collector) ObserveCall(provider, model string, latencySeconds float64, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	c.calls.WithLabelValues(provider, model, outcome).Inc()
	c.latency.WithLabelValues(provider, model).Observe(latencySeconds)
}

// CountError records one classified error.
func (c *Collector) CountError(provider, kind string) {
	c.errors.WithLabelValues(provider, kind).Inc()
}

// Handler returns the HTTP handler serving the /metrics endpoint.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
