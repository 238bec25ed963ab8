// Package registry selects a generation backend by core.BackendType.
// Backends are built lazily from registered factories and shared by every
// chat targeting the same backend type.
package registry

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/hupe1980/agentstep/core"
	"github.com/hupe1980/agentstep/model"
)

// Factory builds a backend on first use.
type Factory func() (model.Backend, error)

// Registry maps backend types to backends.
type Registry struct {
	mu        sync.Mutex
	factories map[core.BackendType]Factory
	backends  map[core.BackendType]model.Backend
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		factories: map[core.BackendType]Factory{},
		backends:  map[core.BackendType]model.Backend{},
	}
}

// Register installs a factory for t, replacing any previous one.
func (r *Registry) Register(t core.BackendType, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[t] = f
	delete(r.backends, t)
}

// RegisterBackend installs an already built backend for t.
func (r *Registry) RegisterBackend(t core.BackendType, b model.Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[t] = b
}

// Backend returns the backend for t, building it on first use. An empty
// type selects the local backend.
func (r *Registry) Backend(t core.BackendType) (model.Backend, error) {
	t = t.OrLocal()

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.backends[t]; ok {
		return b, nil
	}
	f, ok := r.factories[t]
	if !ok {
		return nil, core.NewConfigError("select backend", fmt.Errorf("%w: %q", core.ErrUnknownBackend, t))
	}
	b, err := f()
	if err != nil {
		return nil, fmt.Errorf("build %s backend: %w", t, err)
	}
	r.backends[t] = b
	return b, nil
}

// Types returns every type with a factory or backend, sorted.
func (r *Registry) Types() []core.BackendType {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := map[core.BackendType]bool{}
	for t := range r.factories {
		seen[t] = true
	}
	for t := range r.backends {
		seen[t] = true
	}
	out := make([]core.BackendType, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// InvalidateSession forwards to every backend built so far.
func (r *Registry) InvalidateSession(chatID string) {
	r.mu.Lock()
	backends := make([]model.Backend, 0, len(r.backends))
	for _, b := range r.backends {
		backends = append(backends, b)
	}
	r.mu.Unlock()
	for _, b := range backends {
		b.InvalidateSession(chatID)
	}
}

// Close closes every built backend that implements io.Closer.
func (r *Registry) Close() error {
	r.mu.Lock()
	backends := r.backends
	r.backends = map[core.BackendType]model.Backend{}
	r.mu.Unlock()

	var errs []error
	for _, b := range backends {
		if c, ok := b.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
