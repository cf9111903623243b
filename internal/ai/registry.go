package ai

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"chatflow/internal/models"
)

type ProviderFactory func(ctx context.Context, cfg models.AIConfig) (Provider, error)

type Registry struct {
	mu        sync.RWMutex
	factories map[string]ProviderFactory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]ProviderFactory)}
}

// NewDefaultRegistry knows every built-in backend.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("openai", func(_ context.Context, cfg models.AIConfig) (Provider, error) {
		return NewOpenAIProvider(cfg)
	})
	r.Register("openrouter", func(_ context.Context, cfg models.AIConfig) (Provider, error) {
		if cfg.BaseURL == "" {
			cfg.BaseURL = OpenRouterBaseURL
		}
		return NewOpenAIProvider(cfg)
	})
	r.Register("ollama", func(_ context.Context, cfg models.AIConfig) (Provider, error) {
		return NewOllamaProvider(cfg), nil
	})
	r.Register("gemini", func(ctx context.Context, cfg models.AIConfig) (Provider, error) {
		return NewGeminiProvider(ctx, cfg)
	})
	return r
}

func (r *Registry) Register(name string, f ProviderFactory) {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Get builds the provider named by cfg.Provider.
func (r *Registry) Get(ctx context.Context, cfg models.AIConfig) (Provider, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Provider))
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown ai provider: %s (known: %s)", name, strings.Join(r.Names(), ", "))
	}
	return f(ctx, cfg)
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
