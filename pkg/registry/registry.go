package registry

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/openfroyo/scenarioflow/pkg/engine"
)

// Registry is an in-memory catalog of definitions keyed by a unique string.
//
// Definitions are registered at process start and the registry is then sealed.
// After Seal no registration is accepted and reads take no lock, so a sealed
// registry can be shared by any number of concurrent runs.
type Registry[D any] struct {
	kind     string
	notFound engine.ErrorCode

	mu      sync.RWMutex
	entries map[string]D
	sealed  atomic.Bool
}

// New creates an empty registry. kind names the definition kind in errors, and
// notFound is the code Get returns for unknown keys.
func New[D any](kind string, notFound engine.ErrorCode) *Registry[D] {
	return &Registry[D]{
		kind:     kind,
		notFound: notFound,
		entries:  make(map[string]D),
	}
}

// Register adds a definition. Registering an existing key is a boot-time contract
// violation and returns DUPLICATE_REGISTRATION.
func (r *Registry[D]) Register(key string, def D) error {
	if key == "" {
		return engine.Errorf(engine.ErrCodeInvalidInput, "%s key cannot be empty", r.kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed.Load() {
		return engine.Errorf(engine.ErrCodeInternal, "%s registry is sealed, cannot register %q", r.kind, key)
	}
	if _, exists := r.entries[key]; exists {
		return engine.Errorf(engine.ErrCodeDuplicateRegistration, "%s %q is already registered", r.kind, key)
	}

	r.entries[key] = def
	return nil
}

// MustRegister is Register for process start-up; it panics on error.
func (r *Registry[D]) MustRegister(key string, def D) {
	if err := r.Register(key, def); err != nil {
		panic(err)
	}
}

// Seal freezes the registry.
func (r *Registry[D]) Seal() {
	r.mu.Lock()
	r.sealed.Store(true)
	r.mu.Unlock()
}

// Sealed reports whether Seal has been called.
func (r *Registry[D]) Sealed() bool {
	return r.sealed.Load()
}

// Get returns the definition registered under key.
func (r *Registry[D]) Get(key string) (D, error) {
	if def, ok := r.lookup(key); ok {
		return def, nil
	}
	var zero D
	return zero, engine.Errorf(r.notFound, "%s %q is not registered", r.kind, key)
}

// Has reports whether key is registered.
func (r *Registry[D]) Has(key string) bool {
	_, ok := r.lookup(key)
	return ok
}

// Keys returns the registered keys in sorted order.
func (r *Registry[D]) Keys() []string {
	if !r.sealed.Load() {
		r.mu.RLock()
		defer r.mu.RUnlock()
	}

	keys := make([]string, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// GetAll returns every definition, sorted by key so discovery output is stable.
func (r *Registry[D]) GetAll() []D {
	keys := r.Keys()
	defs := make([]D, 0, len(keys))
	for _, k := range keys {
		def, _ := r.lookup(k)
		defs = append(defs, def)
	}
	return defs
}

// Len returns the number of registered definitions.
func (r *Registry[D]) Len() int {
	if !r.sealed.Load() {
		r.mu.RLock()
		defer r.mu.RUnlock()
	}
	return len(r.entries)
}

func (r *Registry[D]) lookup(key string) (D, bool) {
	if !r.sealed.Load() {
		r.mu.RLock()
		defer r.mu.RUnlock()
	}
	def, ok := r.entries[key]
	return def, ok
}
