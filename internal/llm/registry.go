package llm

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// Options carries provider credentials and defaults for construction.
type Options struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Factory builds a client from options.
type Factory func(Options) (Client, error)

// Active is the currently selected provider plus its default model.
type Active struct {
	Client Client
	Model  string
}

// Registry holds the known provider factories and the single active
// client. Reconfiguration replaces the active client atomically, so
// in-flight exchanges keep the client they started with.
type Registry struct {
	mu        sync.RWMutex
	factories map[Provider]Factory
	active    atomic.Value // Active
}

// NewRegistry returns a registry with the built-in providers registered.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[Provider]Factory)}
	r.Register(ProviderAnthropic, func(opts Options) (Client, error) {
		return NewAnthropicClient(opts.APIKey)
	})
	r.Register(ProviderOpenAI, func(opts Options) (Client, error) {
		return NewOpenAIClient(opts.APIKey)
	})
	r.Register(ProviderCompat, func(opts Options) (Client, error) {
		return NewCompatClient(opts.BaseURL, opts.APIKey, opts.Model)
	})
	return r
}

// Register adds or replaces a provider factory. Adding a provider means
// adding one implementation and one Register call.
func (r *Registry) Register(name Provider, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Configure builds the named provider and makes it the active client.
func (r *Registry) Configure(name Provider, opts Options) error {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("llm: unknown provider %q", name)
	}

	client, err := factory(opts)
	if err != nil {
		return fmt.Errorf("llm: configure %s: %w", name, err)
	}

	r.active.Store(Active{Client: client, Model: opts.Model})
	return nil
}

// Active returns the configured client and default model, or
// ErrNotConfigured when no provider has been selected.
func (r *Registry) Active() (Active, error) {
	v := r.active.Load()
	if v == nil {
		return Active{}, ErrNotConfigured
	}
	return v.(Active), nil
}

// Providers lists the registered provider names, sorted.
func (r *Registry) Providers() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]Provider, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}
