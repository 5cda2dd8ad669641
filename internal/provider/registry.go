package provider

import (
	"fmt"
	"sort"
	"sync"

	"github.com/fyrsmithlabs/llmgw/internal/llmerr"
)

// Registry holds the adapters known to a gateway. It is built once at
// startup and passed by reference to the components that dispatch.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	params   map[string]ModelParams
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
		params:   make(map[string]ModelParams),
	}
}

// Register adds an adapter with its default model parameters.
func (r *Registry) Register(a Adapter, params ModelParams) error {
	if a == nil {
		return fmt.Errorf("adapter cannot be nil")
	}
	name := a.Name()
	if name == "" {
		return fmt.Errorf("adapter name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[name]; exists {
		return fmt.Errorf("provider %q already registered", name)
	}
	r.adapters[name] = a
	r.params[name] = params
	return nil
}

// Get returns the adapter registered under name.
func (r *Registry) Get(name string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	if !ok {
		return nil, llmerr.New(llmerr.KindProviderUnknown, "provider %q is not registered", name).WithProvider(name)
	}
	return a, nil
}

// Params returns the default model parameters of a provider.
func (r *Registry) Params(name string) ModelParams {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.params[name]
}

// Names returns registered provider names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BuildRequest applies a provider's defaults to a message list.
func (r *Registry) BuildRequest(name, model string, msgs []Message) (Adapter, *Request, error) {
	a, err := r.Get(name)
	if err != nil {
		return nil, nil, err
	}
	if model == "" {
		model = a.DefaultModel()
	}
	p := r.Params(name)
	return a, &Request{
		Model:       model,
		Messages:    msgs,
		MaxTokens:   p.MaxTokens,
		Temperature: p.Temperature,
	}, nil
}
