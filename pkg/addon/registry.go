package addon

import (
	"fmt"
	"sync"
)

// Descriptor names an add-on implementation and the factory that builds it.
type Descriptor struct {
	// Name is the unique identifier of the add-on within a hub. It selects
	// the configuration slice and is used for logging and status.
	Name string

	// Description is a human-readable summary.
	Description string

	// Factory creates the add-on instance.
	Factory Factory
}

// Registry keeps add-on descriptors in registration order. The runtime
// starts add-ons in that order and stops them in reverse, so the order is
// part of the contract.
type Registry struct {
	mu          sync.RWMutex
	names       map[string]struct{}
	descriptors []Descriptor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		names:       make(map[string]struct{}),
		descriptors: make([]Descriptor, 0),
	}
}

// Register appends a descriptor. It fails with ErrDuplicateName if the name
// is already registered, leaving the registry unchanged.
func (r *Registry) Register(d Descriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d.Name == "" {
		return fmt.Errorf("addon name cannot be empty")
	}

	if d.Factory == nil {
		return fmt.Errorf("addon %s: factory cannot be nil", d.Name)
	}

	if _, exists := r.names[d.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateName, d.Name)
	}

	r.names[d.Name] = struct{}{}
	r.descriptors = append(r.descriptors, d)
	return nil
}

// Discover returns all registered descriptors in registration order.
func (r *Registry) Discover() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Descriptor, len(r.descriptors))
	copy(result, r.descriptors)
	return result
}

// Get returns the descriptor registered under name.
func (r *Registry) Get(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, d := range r.descriptors {
		if d.Name == name {
			return d, true
		}
	}
	return Descriptor{}, false
}

// Names returns the names of all registered add-ons in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]string, len(r.descriptors))
	for i, d := range r.descriptors {
		result[i] = d.Name
	}
	return result
}

// Len returns the number of registered add-ons.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.descriptors)
}

// Clear removes all registered add-ons. Useful for testing.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.names = make(map[string]struct{})
	r.descriptors = make([]Descriptor, 0)
}

// Global registry instance
var globalRegistry = NewRegistry()

// Global returns the registry compiled-in add-ons register with.
func Global() *Registry {
	return globalRegistry
}

// Register adds a descriptor to the global registry.
func Register(d Descriptor) error {
	return globalRegistry.Register(d)
}

// MustRegister adds a descriptor to the global registry and panics if that
// fails. It is meant for init() functions, where a duplicate name is a build
// mistake.
func MustRegister(d Descriptor) {
	if err := globalRegistry.Register(d); err != nil {
		panic(err)
	}
}

// Discover returns the descriptors of the global registry.
func Discover() []Descriptor {
	return globalRegistry.Discover()
}

// ClearGlobal clears the global registry. Useful for testing.
func ClearGlobal() {
	globalRegistry.Clear()
}
