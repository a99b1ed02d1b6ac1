package providers

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// Registry holds the model clients and routes a model id to one of them by
// prefix. Model ids without a registered prefix go to the default client.
// It supports config-driven instantiation and hot-reload, and is safe for
// concurrent use.
type Registry struct {
	mu          sync.RWMutex
	generators  map[string]Generator
	prefixes    map[string]string // model id prefix -> generator name
	defaultName string
	logger      *slog.Logger
}

// NewRegistry creates a new empty registry.
func NewRegistry() *Registry {
	return &Registry{
		generators: make(map[string]Generator),
		prefixes:   make(map[string]string),
		logger:     slog.Default(),
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger *slog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger
}

// Register adds a generator under name. The first registered generator
// becomes the default unless SetDefault is called.
func (r *Registry) Register(name string, g Generator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generators[name] = g
	if r.defaultName == "" {
		r.defaultName = name
	}
	if r.logger != nil {
		r.logger.Info("registered model client", "name", name)
	}
}

// Unregister removes a generator and any routes pointing at it.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.generators, name)
	for p, n := range r.prefixes {
		if n == name {
			delete(r.prefixes, p)
		}
	}
	if r.defaultName == name {
		r.defaultName = ""
	}
	if r.logger != nil {
		r.logger.Info("unregistered model client", "name", name)
	}
}

// Route sends model ids starting with prefix to the named generator.
func (r *Registry) Route(prefix, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prefixes[prefix] = name
}

// SetDefault names the generator used for unrouted model ids.
func (r *Registry) SetDefault(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultName = name
}

// For returns the generator serving model. The longest matching prefix wins.
func (r *Registry) For(model string) (Generator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	name := r.defaultName
	best := -1
	for p, n := range r.prefixes {
		if strings.HasPrefix(model, p) && len(p) > best {
			name, best = n, len(p)
		}
	}
	g, ok := r.generators[name]
	if !ok {
		return nil, fmt.Errorf("no model client for %q", model)
	}
	return g, nil
}

// Has checks if a generator is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.generators[name]
	return ok
}

// List returns all registered generator names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.generators))
	for name := range r.generators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegistryConfig defines the clients to instantiate from config.
type RegistryConfig struct {
	GeminiAPIKey  string
	GeminiBaseURL string
	GeminiRPM     int
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIRPM     int
}

// NewRegistryFromConfig creates a registry with the clients that have keys.
func NewRegistryFromConfig(cfg RegistryConfig) *Registry {
	r := NewRegistry()
	r.Reload(cfg)
	return r
}

// Reload replaces the clients with ones built from cfg. Clients whose key was
// removed are unregistered.
func (r *Registry) Reload(cfg RegistryConfig) {
	if cfg.GeminiAPIKey != "" {
		r.Register(GeminiName, NewGeminiClient(GeminiConfig{
			APIKey:  cfg.GeminiAPIKey,
			BaseURL: cfg.GeminiBaseURL,
			RPM:     cfg.GeminiRPM,
		}))
		r.SetDefault(GeminiName)
	} else if r.Has(GeminiName) {
		r.Unregister(GeminiName)
	}

	if cfg.OpenAIAPIKey != "" {
		r.Register(OpenAIName, NewOpenAIClient(OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			RPM:     cfg.OpenAIRPM,
		}))
		r.Route(OpenAIPrefix, OpenAIName)
	} else if r.Has(OpenAIName) {
		r.Unregister(OpenAIName)
	}

	if cfg.GeminiAPIKey == "" {
		// Only prefixed model ids are servable without a Gemini key.
		r.SetDefault("")
	}
}
