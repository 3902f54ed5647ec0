package completion

import (
	"context"
	"sort"
	"sync"

	"github.com/fyrsmithlabs/taskd/internal/fault"
)

// Registry routes requests to a named provider, falling back to a
// default when the request does not name one. Registry itself
// implements Client so callers stay provider-agnostic.
type Registry struct {
	mu              sync.RWMutex
	clients         map[string]Client
	defaultProvider string
}

// NewRegistry returns a registry routing unnamed requests to
// defaultProvider.
func NewRegistry(defaultProvider string) *Registry {
	return &Registry{
		clients:         make(map[string]Client),
		defaultProvider: defaultProvider,
	}
}

// Register adds or replaces the client for a provider name.
func (r *Registry) Register(provider string, client Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[provider] = client
}

// Providers returns the registered provider names, sorted.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Complete implements Client.
func (r *Registry) Complete(ctx context.Context, req Request) (string, error) {
	provider := req.Provider
	if provider == "" {
		provider = r.defaultProvider
	}

	r.mu.RLock()
	client, ok := r.clients[provider]
	r.mu.RUnlock()
	if !ok {
		return "", fault.New(fault.CodeExternal, "completion.Registry.Complete", "no completion provider registered as %q", provider)
	}
	return client.Complete(ctx, req)
}
