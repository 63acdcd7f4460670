package model

import (
	"fmt"
	"sync"
)

// Registry holds the models of one database, addressed by name.
//
// A relationship's ref is resolved against the registry of the owning model.
type Registry struct {
	mu     sync.RWMutex
	models []*Model
	byName map[string]*Model
}

// NewRegistry creates a new empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		models: []*Model{},
		byName: make(map[string]*Model),
	}
}

// Register adds a model to the registry and binds the model to it.
func (r *Registry) Register(m *Model) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[m.name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateModel, m.name)
	}
	r.models = append(r.models, m)
	r.byName[m.name] = m
	m.registry = r
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(m *Model) *Model {
	if err := r.Register(m); err != nil {
		panic(err)
	}
	return m
}

// Lookup returns the model with the given name.
func (r *Registry) Lookup(name string) (*Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byName[name]
	return m, ok
}

// Models returns all registered models in registration order.
func (r *Registry) Models() []*Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Model(nil), r.models...)
}
