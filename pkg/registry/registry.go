package registry

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"caremesh/modelguard/pkg/modelconfig"
	"caremesh/modelguard/pkg/providers"
)

// Status is the transient, in-memory health record for one provider.
// It always reflects the most recently completed health check and is
// never persisted.
type Status struct {
	// Provider is the provider name.
	Provider string `json:"provider"`

	// Available reports whether the last health check passed. New
	// adapters start unavailable until their first check completes.
	Available bool `json:"available"`

	// LastCheck is when the status was last updated.
	LastCheck time.Time `json:"last_check"`

	// LastError is the most recent failure text, empty when healthy.
	LastError string `json:"last_error,omitempty"`
}

// Registry holds one adapter per active provider plus its status.
//
// Reload builds the replacement adapter and status maps aside and
// publishes them in a single write-lock swap, so concurrent readers see
// either the old snapshot or the new one, never an empty registry.
type Registry struct {
	cache          *modelconfig.Cache
	requestTimeout time.Duration

	mu       sync.RWMutex
	adapters map[string]providers.Provider
	statuses map[string]*Status

	// onStatus, when set, observes every status update (metrics).
	onStatus func(provider string, available bool)

	logger *slog.Logger
}

// SetStatusListener registers a hook invoked on every status update.
// Set it before the health scheduler starts.
func (r *Registry) SetStatusListener(fn func(provider string, available bool)) {
	r.onStatus = fn
}

// New creates an empty registry over the configuration cache.
func New(cache *modelconfig.Cache, requestTimeout time.Duration) *Registry {
	if requestTimeout == 0 {
		requestTimeout = 60 * time.Second
	}
	return &Registry{
		cache:          cache,
		requestTimeout: requestTimeout,
		adapters:       make(map[string]providers.Provider),
		statuses:       make(map[string]*Status),
		logger:         slog.Default().With("component", "registry"),
	}
}

// Build constructs adapters from the configuration cache and swaps them
// in. Existing adapters are closed after the swap. Every new adapter
// starts with an unavailable status until its first health check.
func (r *Registry) Build(ctx context.Context) error {
	byProvider := make(map[string][]*modelconfig.Entry)
	for _, entry := range r.cache.GetAll() {
		byProvider[entry.Provider] = append(byProvider[entry.Provider], entry)
	}

	adapters := make(map[string]providers.Provider, len(byProvider))
	statuses := make(map[string]*Status, len(byProvider))

	for provider, entries := range byProvider {
		// Deterministic model ordering keeps DefaultModel stable
		// across reloads.
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

		config, err := buildAdapterConfig(provider, entries, r.requestTimeout)
		if err != nil {
			r.logger.Error("skipping provider", "provider", provider, "error", err)
			continue
		}

		adapter, err := newAdapter(config)
		if err != nil {
			r.logger.Error("adapter construction failed", "provider", provider, "error", err)
			continue
		}

		adapters[provider] = adapter
		statuses[provider] = &Status{Provider: provider, Available: false}
	}

	r.mu.Lock()
	old := r.adapters
	r.adapters = adapters
	r.statuses = statuses
	r.mu.Unlock()

	for name, adapter := range old {
		if err := adapter.Close(); err != nil {
			r.logger.Warn("closing replaced adapter failed", "provider", name, "error", err)
		}
	}

	r.logger.Info("registry built", "providers", len(adapters))
	return nil
}

// Reload refreshes the configuration cache and rebuilds the registry.
// The caller is expected to run a health-check round immediately after,
// since all statuses reset to unavailable.
func (r *Registry) Reload(ctx context.Context) error {
	if err := r.cache.Refresh(ctx); err != nil {
		return err
	}
	return r.Build(ctx)
}

// GetProvider returns the adapter for a provider name.
//
// An unknown name fails with PROVIDER_UNAVAILABLE retryable=false: no
// amount of retrying registers an adapter. A known but currently down
// provider fails with PROVIDER_UNAVAILABLE retryable=true: the next
// health round may bring it back.
func (r *Registry) GetProvider(name string) (providers.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	adapter, ok := r.adapters[name]
	if !ok {
		return nil, &providers.ClassifiedError{
			Kind:      providers.ErrProviderUnavailable,
			Provider:  name,
			Retryable: false,
			Message:   "no adapter registered",
		}
	}

	status := r.statuses[name]
	if status == nil || !status.Available {
		msg := "provider is unavailable"
		if status != nil && status.LastError != "" {
			msg = status.LastError
		}
		return nil, &providers.ClassifiedError{
			Kind:      providers.ErrProviderUnavailable,
			Provider:  name,
			Retryable: true,
			Message:   msg,
		}
	}

	return adapter, nil
}

// Adapter returns the adapter regardless of its health status. Used by
// the health checker, which must probe down providers too.
func (r *Registry) Adapter(name string) (providers.Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[name]
	return adapter, ok
}

// Adapters returns a snapshot copy of the adapter map.
func (r *Registry) Adapters() map[string]providers.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]providers.Provider, len(r.adapters))
	for name, adapter := range r.adapters {
		out[name] = adapter
	}
	return out
}

// GetStatus returns the status of one provider.
func (r *Registry) GetStatus(name string) (Status, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status, ok := r.statuses[name]
	if !ok {
		return Status{}, false
	}
	return *status, true
}

// AllStatuses returns a copy of every provider status, sorted by name.
func (r *Registry) AllStatuses() []Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Status, 0, len(r.statuses))
	for _, status := range r.statuses {
		out = append(out, *status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}

// SetStatus records the outcome of a health check. Updates for
// providers that disappeared in a concurrent reload are dropped.
func (r *Registry) SetStatus(name string, available bool, checkErr error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	status, ok := r.statuses[name]
	if !ok {
		return
	}

	status.Available = available
	status.LastCheck = time.Now()
	if checkErr != nil {
		status.LastError = checkErr.Error()
	} else {
		status.LastError = ""
	}

	if r.onStatus != nil {
		r.onStatus(name, available)
	}
}

// Close closes every adapter and empties the registry.
func (r *Registry) Close() error {
	r.mu.Lock()
	adapters := r.adapters
	r.adapters = make(map[string]providers.Provider)
	r.statuses = make(map[string]*Status)
	r.mu.Unlock()

	for name, adapter := range adapters {
		if err := adapter.Close(); err != nil {
			r.logger.Warn("adapter close failed", "provider", name, "error", err)
		}
	}
	return nil
}
