// Package registry holds the set of workload specs known to a node,
// keyed by name.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cuemby/mctl/pkg/types"
)

// AlreadyRegisteredError is returned by Register when a workload with the
// same name is already present.
type AlreadyRegisteredError struct {
	Name string
}

func (e *AlreadyRegisteredError) Error() string {
	return fmt.Sprintf("workload already registered: %s", e.Name)
}

// NotFoundError is returned by Get/Unregister when no workload with the
// given name is registered.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("unknown workload: %s", e.Name)
}

// Registry is a concurrency-safe map of workload specs by name.
type Registry struct {
	mu    sync.RWMutex
	specs map[string]types.WorkloadSpec
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{specs: make(map[string]types.WorkloadSpec)}
}

// Register adds spec, failing if a workload with the same name already
// exists.
func (r *Registry) Register(spec types.WorkloadSpec) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.specs[spec.Name]; exists {
		return &AlreadyRegisteredError{Name: spec.Name}
	}
	r.specs[spec.Name] = spec
	return nil
}

// Put adds or overwrites spec unconditionally.
func (r *Registry) Put(spec types.WorkloadSpec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.specs[spec.Name] = spec
}

// Unregister removes the named workload.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.specs[name]; !exists {
		return &NotFoundError{Name: name}
	}
	delete(r.specs, name)
	return nil
}

// Get returns the named workload's spec.
func (r *Registry) Get(name string) (types.WorkloadSpec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, exists := r.specs[name]
	if !exists {
		return types.WorkloadSpec{}, &NotFoundError{Name: name}
	}
	return spec, nil
}

// Contains reports whether name is registered.
func (r *Registry) Contains(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.specs[name]
	return exists
}

// List returns every registered spec, sorted by name for stable output.
func (r *Registry) List() []types.WorkloadSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.WorkloadSpec, 0, len(r.specs))
	for _, spec := range r.specs {
		out = append(out, spec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of registered workloads.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.specs)
}
