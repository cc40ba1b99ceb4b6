package capture

import (
	"fmt"
	"slices"
	"sync"
)

// DeviceConfig carries driver settings.
type DeviceConfig struct {
	Path string
}

// Factory creates a Device from its config.
type Factory func(cfg DeviceConfig) (Device, error)

// Registry holds named device factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Drivers is the default device registry.
var Drivers = NewRegistry()

func init() {
	Drivers.Register("watch", newWatchDevice)
	Drivers.Register("still", newStillDevice)
}

// Register adds a named factory.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Create instantiates the named driver.
func (r *Registry) Create(name string, cfg DeviceConfig) (Device, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown camera driver %q (available: %v)", name, r.List())
	}
	return factory(cfg)
}

// Has returns true if the named driver exists.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}

// List returns the registered driver names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
