package adapters

import "sync"

// Registry maps provider names to adapters. Registration is write-rare
// and read-heavy; re-registration silently replaces the previous entry.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	stub     Adapter
}

// NewRegistry creates a registry with a stub adapter installed as the
// fallback for unknown providers.
func NewRegistry() *Registry {
	r := &Registry{
		adapters: make(map[string]Adapter),
		stub:     NewStubAdapter(),
	}
	r.Register(r.stub)
	return r
}

// Register installs adapter under its provider name, replacing any
// previous adapter for that provider.
func (r *Registry) Register(adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[adapter.ProviderName()] = adapter
}

// Get returns the adapter for provider, or nil.
func (r *Registry) Get(provider string) Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.adapters[provider]
}

// GetOrStub returns the adapter for provider, falling back to the stub
// adapter when none is registered.
func (r *Registry) GetOrStub(provider string) Adapter {
	if a := r.Get(provider); a != nil {
		return a
	}
	return r.stub
}
