// Package inmemory provides a registry.Resolver that keeps every repository in memory.
package inmemory

import (
	"context"
	"sync"

	"oras.land/oras-go/v2/content/memory"
	orasregistry "oras.land/oras-go/v2/registry"

	"ocm.software/open-component-model/hangar/bindings/go/registry"
)

// Registry holds any number of in-memory repositories keyed by registry and repository name.
type Registry struct {
	mu    sync.Mutex
	repos map[string]*memory.Store
}

var _ registry.Resolver = (*Registry)(nil)

func New() *Registry {
	return &Registry{repos: make(map[string]*memory.Store)}
}

// Repository returns the repository of ref, creating it on first use.
func (r *Registry) Repository(_ context.Context, ref orasregistry.Reference) (registry.Repository, error) {
	if err := ref.ValidateRepository(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	key := ref.Registry + "/" + ref.Repository
	store, ok := r.repos[key]
	if !ok {
		store = memory.New()
		r.repos[key] = store
	}
	return store, nil
}

// Lookup returns the repository of ref without creating it.
func (r *Registry) Lookup(ref orasregistry.Reference) (*memory.Store, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	store, ok := r.repos[ref.Registry+"/"+ref.Repository]
	return store, ok
}
