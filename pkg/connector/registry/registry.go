// Package registry provides the global connector registry. Connectors
// register a factory from an init function in their package; the CLI blank
// imports connector packages to populate the registry.
package registry

import (
	"sort"
	"sync"

	"github.com/ajitpratap0/stardust/pkg/config"
	"github.com/ajitpratap0/stardust/pkg/connector/core"
	"github.com/ajitpratap0/stardust/pkg/errors"
)

// SourceFactory creates a source connector from configuration.
type SourceFactory func(cfg *config.Config) (core.Source, error)

// Registry holds registered source connector factories.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]SourceFactory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sources: make(map[string]SourceFactory),
	}
}

// RegisterSource registers a source factory under the given name.
// Registering the same name twice is a programming error.
func (r *Registry) RegisterSource(name string, factory SourceFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if name == "" {
		return errors.New(errors.ErrorTypeValidation, "connector name cannot be empty")
	}
	if factory == nil {
		return errors.Newf(errors.ErrorTypeValidation, "factory for %s cannot be nil", name)
	}
	if _, exists := r.sources[name]; exists {
		return errors.Newf(errors.ErrorTypeValidation, "source connector %s already registered", name)
	}

	r.sources[name] = factory
	return nil
}

// CreateSource creates a source connector by name.
func (r *Registry) CreateSource(name string, cfg *config.Config) (core.Source, error) {
	r.mu.RLock()
	factory, exists := r.sources[name]
	r.mu.RUnlock()

	if !exists {
		return nil, errors.Newf(errors.ErrorTypeConfig, "unknown source connector: %s", name)
	}
	return factory(cfg)
}

// HasSource reports whether a source connector is registered.
func (r *Registry) HasSource(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.sources[name]
	return exists
}

// ListSources returns registered connector names in sorted order.
func (r *Registry) ListSources() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clear removes all registrations. Intended for tests.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources = make(map[string]SourceFactory)
}

// globalRegistry backs the package-level registration functions.
var globalRegistry = NewRegistry()

// RegisterSource registers a source factory in the global registry,
// panicking on conflict. Meant to be called from init functions.
func RegisterSource(name string, factory SourceFactory) {
	if err := globalRegistry.RegisterSource(name, factory); err != nil {
		panic(err)
	}
}

// CreateSource creates a source connector from the global registry.
func CreateSource(name string, cfg *config.Config) (core.Source, error) {
	return globalRegistry.CreateSource(name, cfg)
}

// HasSource reports whether the global registry knows the connector.
func HasSource(name string) bool {
	return globalRegistry.HasSource(name)
}

// ListSources lists connectors registered in the global registry.
func ListSources() []string {
	return globalRegistry.ListSources()
}
