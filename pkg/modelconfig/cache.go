package modelconfig

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Entry is a cached model configuration with the decrypted credential.
// The plaintext credential lives only in this in-memory entry.
type Entry struct {
	ModelConfig

	// APIKey is the decrypted credential. Never log it.
	APIKey string
}

// Cache serves model configurations from memory with decrypted
// credentials. Entries have no TTL: they are served until an explicit
// Refresh, triggered by an administrative action or an invalidation
// broadcast from another instance.
type Cache struct {
	store     Store
	decrypter Decrypter

	mu     sync.RWMutex
	byName map[string]*Entry

	logger *slog.Logger
}

// NewCache creates an empty cache. Call Refresh before serving.
func NewCache(store Store, decrypter Decrypter) *Cache {
	return &Cache{
		store:     store,
		decrypter: decrypter,
		byName:    make(map[string]*Entry),
		logger:    slog.Default().With("component", "modelconfig.cache"),
	}
}

// Refresh reloads all active configurations from the store.
//
// A row whose credential fails to decrypt is skipped and logged; it
// never fails the whole load. The new map is built aside and swapped in
// one step so readers always see a consistent snapshot.
func (c *Cache) Refresh(ctx context.Context) error {
	configs, err := c.store.ListActiveModelConfigs(ctx)
	if err != nil {
		return fmt.Errorf("load model configurations: %w", err)
	}

	byName := make(map[string]*Entry, len(configs))
	skipped := 0
	for _, cfg := range configs {
		key, derr := c.decrypter.Decrypt(cfg.EncryptedAPIKey)
		if derr != nil {
			skipped++
			c.logger.Error("credential decrypt failed, skipping model",
				"model", cfg.Name,
				"provider", cfg.Provider,
				"error", derr,
			)
			continue
		}
		byName[cfg.Name] = &Entry{ModelConfig: *cfg, APIKey: key}
	}

	c.mu.Lock()
	c.byName = byName
	c.mu.Unlock()

	c.logger.Info("model configuration cache refreshed",
		"models", len(byName),
		"skipped", skipped,
	)
	return nil
}

// Get returns the entry for a model name.
func (c *Cache) Get(name string) (*Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.byName[name]
	if !ok {
		return nil, fmt.Errorf("model %q: %w", name, ErrNotFound)
	}
	return entry, nil
}

// GetAll returns every cached entry.
func (c *Cache) GetAll() []*Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entries := make([]*Entry, 0, len(c.byName))
	for _, entry := range c.byName {
		entries = append(entries, entry)
	}
	return entries
}

// GetByProvider returns the cached entries for one provider.
func (c *Cache) GetByProvider(provider string) []*Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var entries []*Entry
	for _, entry := range c.byName {
		if entry.Provider == provider {
			entries = append(entries, entry)
		}
	}
	return entries
}

// Providers returns the distinct provider names present in the cache.
func (c *Cache) Providers() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	seen := make(map[string]struct{})
	var names []string
	for _, entry := range c.byName {
		if _, ok := seen[entry.Provider]; ok {
			continue
		}
		seen[entry.Provider] = struct{}{}
		names = append(names, entry.Provider)
	}
	return names
}
