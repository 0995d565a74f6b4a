package harvester

import (
	"fmt"
	"sync"

	"github.com/Masterminds/semver/v3"

	"github.com/crisref/harvest-core/internal/config"
)

// Factory creates a harvester instance from its configured settings.
type Factory func(deps Deps, settings map[string]string) (Harvester, error)

// Registry holds harvester factories indexed by adapter name.
type Registry struct {
	factories map[string]Factory
	mu        sync.RWMutex
}

// NewRegistry creates an empty harvester registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register adds a factory for the given adapter name.
// Panics if the name is already registered.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		panic(fmt.Sprintf("harvester factory already registered: %s", name))
	}
	r.factories[name] = factory
}

// Get returns the factory for the given adapter name.
func (r *Registry) Get(name string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.factories[name]
	return factory, ok
}

// List returns all registered adapter names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}

// Create instantiates a harvester and validates its version.
func (r *Registry) Create(name string, deps Deps, settings map[string]string) (Harvester, error) {
	factory, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("unknown harvester: %s", name)
	}
	h, err := factory(deps, settings)
	if err != nil {
		return nil, fmt.Errorf("failed to build harvester %s: %w", name, err)
	}
	if _, err := semver.NewVersion(h.Version()); err != nil {
		return nil, fmt.Errorf("harvester %s version %q is not semver: %w", name, h.Version(), err)
	}
	return h, nil
}

// Build instantiates every enabled harvester from the configuration
// registry, preserving configuration order. Unknown names fail fast.
func (r *Registry) Build(cfg *config.Config, deps Deps) ([]Harvester, error) {
	entries := cfg.EnabledHarvesters()
	harvesters := make([]Harvester, 0, len(entries))
	for _, entry := range entries {
		h, err := r.Create(entry.Name, deps, entry.Settings)
		if err != nil {
			return nil, err
		}
		harvesters = append(harvesters, h)
	}
	return harvesters, nil
}

// --- Default Global Registry ---

var defaultRegistry = NewRegistry()

// DefaultRegistry returns the global harvester registry.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// Register adds a factory to the default registry.
func Register(name string, factory Factory) {
	defaultRegistry.Register(name, factory)
}
