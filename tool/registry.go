package tool

import (
	"fmt"
	"sort"
	"sync"

	"github.com/hupe1980/agentstep/core"
)

// Registry maps function names to executors. Executors must be registered
// before a chat that declares them is processed. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
	defs      map[string]core.ToolDefinition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		executors: make(map[string]Executor),
		defs:      make(map[string]core.ToolDefinition),
	}
}

// Register binds an executor to name, replacing any previous binding.
func (r *Registry) Register(name string, e Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[name] = e
}

// RegisterTool registers t as executor and remembers its definition.
func (r *Registry) RegisterTool(tools ...Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range tools {
		r.executors[t.Name()] = t
		r.defs[t.Name()] = Definition(t)
	}
}

// Lookup returns the executor bound to name. An unregistered name is a
// configuration error wrapping core.ErrUnknownTool.
func (r *Registry) Lookup(name string) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.executors[name]
	if !ok {
		return nil, core.NewConfigError("tool lookup", fmt.Errorf("%w: %q", core.ErrUnknownTool, name))
	}
	return e, nil
}

// Definitions returns definitions of registered tools. With no names every
// known definition is returned sorted by name; unknown names are skipped.
func (r *Registry) Definitions(names ...string) []core.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(names) == 0 {
		for n := range r.defs {
			names = append(names, n)
		}
		sort.Strings(names)
	}
	out := make([]core.ToolDefinition, 0, len(names))
	for _, n := range names {
		if d, ok := r.defs[n]; ok {
			out = append(out, d)
		}
	}
	return out
}

// Names returns all registered executor names sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.executors))
	for n := range r.executors {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
