package modelconfig

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"
)

// fakeStore serves a fixed set of configurations.
type fakeStore struct {
	configs []*ModelConfig
	fail    bool
}

func (s *fakeStore) CreateModelConfig(ctx context.Context, cfg *ModelConfig) error { return nil }
func (s *fakeStore) UpdateModelConfig(ctx context.Context, cfg *ModelConfig) error { return nil }
func (s *fakeStore) DeleteModelConfig(ctx context.Context, id string) error        { return nil }

func (s *fakeStore) GetModelConfigByID(ctx context.Context, id string) (*ModelConfig, error) {
	for _, cfg := range s.configs {
		if cfg.ID == id {
			return cfg, nil
		}
	}
	return nil, ErrNotFound
}

func (s *fakeStore) GetModelConfigByName(ctx context.Context, name string) (*ModelConfig, error) {
	for _, cfg := range s.configs {
		if cfg.Name == name {
			return cfg, nil
		}
	}
	return nil, ErrNotFound
}

func (s *fakeStore) ListActiveModelConfigs(ctx context.Context) ([]*ModelConfig, error) {
	if s.fail {
		return nil, errors.New("store down")
	}
	var out []*ModelConfig
	for _, cfg := range s.configs {
		if cfg.Active {
			out = append(out, cfg)
		}
	}
	return out, nil
}

// plainDecrypter strips a "enc:" prefix; anything else fails.
type plainDecrypter struct{}

func (plainDecrypter) Decrypt(encrypted string) (string, error) {
	if plain, ok := strings.CutPrefix(encrypted, "enc:"); ok {
		return plain, nil
	}
	return "", errors.New("malformed ciphertext")
}

func testConfigs() []*ModelConfig {
	return []*ModelConfig{
		{ID: "mc-1", Name: "gpt-4o", Provider: "openai", EncryptedAPIKey: "enc:sk-openai", Active: true},
		{ID: "mc-2", Name: "claude-sonnet-4-5", Provider: "anthropic", EncryptedAPIKey: "enc:sk-ant", Active: true},
		{ID: "mc-3", Name: "gemini-2.5-pro", Provider: "gemini", EncryptedAPIKey: "corrupted", Active: true},
	}
}

func TestCache_Refresh_SkipsUndecryptable(t *testing.T) {
	cache := NewCache(&fakeStore{configs: testConfigs()}, plainDecrypter{})

	if err := cache.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	entry, err := cache.Get("gpt-4o")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if entry.APIKey != "sk-openai" {
		t.Errorf("Expected decrypted key, got %q", entry.APIKey)
	}

	// The corrupted row is skipped, not fatal.
	if _, err := cache.Get("gemini-2.5-pro"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected undecryptable model absent, got %v", err)
	}
	if got := len(cache.GetAll()); got != 2 {
		t.Errorf("Expected 2 cached entries, got %d", got)
	}
}

func TestCache_Refresh_StoreFailureKeepsSnapshot(t *testing.T) {
	store := &fakeStore{configs: testConfigs()}
	cache := NewCache(store, plainDecrypter{})
	ctx := context.Background()

	if err := cache.Refresh(ctx); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	store.fail = true
	if err := cache.Refresh(ctx); err == nil {
		t.Fatal("Expected refresh error from failing store")
	}

	if _, err := cache.Get("gpt-4o"); err != nil {
		t.Errorf("Expected previous snapshot to survive failed refresh: %v", err)
	}
}

func TestCache_Get_Unknown(t *testing.T) {
	cache := NewCache(&fakeStore{}, plainDecrypter{})
	if err := cache.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	_, err := cache.Get("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestCache_GetByProviderAndProviders(t *testing.T) {
	cache := NewCache(&fakeStore{configs: testConfigs()}, plainDecrypter{})
	if err := cache.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	openai := cache.GetByProvider("openai")
	if len(openai) != 1 || openai[0].Name != "gpt-4o" {
		t.Errorf("Unexpected openai entries: %+v", openai)
	}

	providers := cache.Providers()
	sort.Strings(providers)
	want := []string{"anthropic", "openai"}
	if len(providers) != len(want) {
		t.Fatalf("Expected providers %v, got %v", want, providers)
	}
	for i := range want {
		if providers[i] != want[i] {
			t.Errorf("Expected providers %v, got %v", want, providers)
			break
		}
	}
}

func TestCache_InactiveExcluded(t *testing.T) {
	configs := testConfigs()
	configs[0].Active = false
	cache := NewCache(&fakeStore{configs: configs}, plainDecrypter{})
	if err := cache.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	if _, err := cache.Get("gpt-4o"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected inactive model absent, got %v", err)
	}
}
