package transform

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"splinewarp/internal/errdefs"
	"splinewarp/pkg/params"
)

// Registry maps transform names to factories and tracks which components a
// run has loaded so they can be released at cleanup
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	loaded    map[string]struct{}
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		loaded:    make(map[string]struct{}),
	}
}

// DefaultRegistry returns a new registry holding the built-in transforms
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.MustRegister(IdentityName, newIdentityFromMap)
	r.MustRegister(TranslationName, newTranslationFromMap)
	r.MustRegister(AffineName, newAffineFromMap)
	r.MustRegister(KernelName, newKernelFromMap)
	return r
}

// Register adds a factory. Duplicate names return an error.
func (r *Registry) Register(name string, f Factory) error {
	if name == "" {
		return fmt.Errorf("transform: factory name is required")
	}
	if f == nil {
		return fmt.Errorf("transform: factory for %q is nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("transform: factory %q already registered", name)
	}
	r.factories[name] = f
	return nil
}

// MustRegister panics on registration failure
func (r *Registry) MustRegister(name string, f Factory) {
	if err := r.Register(name, f); err != nil {
		panic(err)
	}
}

// Load returns the factory registered under name and marks it loaded
func (r *Registry) Load(name string) (Factory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("%w: transform %q is not registered", errdefs.ErrConfiguration, name)
	}
	r.loaded[name] = struct{}{}
	return f, nil
}

// Loaded returns the sorted names of loaded components
func (r *Registry) Loaded() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.loaded))
	for name := range r.loaded {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// UnloadComponents releases every loaded component
func (r *Registry) UnloadComponents() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaded = make(map[string]struct{})
}

// FromParameterMaps builds the transform chain described by maps. The first
// map is the innermost transform; each following map is combined onto the
// chain according to its HowToCombineTransforms value.
func FromParameterMaps(reg *Registry, maps []*params.Map, logger zerolog.Logger) (Transform, error) {
	if len(maps) == 0 {
		return nil, fmt.Errorf("%w: no transform parameter maps given", errdefs.ErrConfiguration)
	}

	var chain Transform
	for i, m := range maps {
		name := m.Value(params.KeyTransform, "")
		if name == "" {
			return nil, fmt.Errorf("%w: %s is not given in transform parameter map %d",
				errdefs.ErrMissingParameter, params.KeyTransform, i)
		}
		factory, err := reg.Load(name)
		if err != nil {
			return nil, err
		}
		t, err := factory(m, logger.With().Int("map", i).Str("transform", name).Logger())
		if err != nil {
			return nil, fmt.Errorf("transform parameter map %d: %w", i, err)
		}

		if chain == nil {
			chain = t
			continue
		}
		mode, err := ParseCombineMode(m.Value(KeyHowToCombineTransforms, string(Compose)))
		if err != nil {
			return nil, err
		}
		if chain, err = NewCombination(chain, t, mode); err != nil {
			return nil, err
		}
	}
	return chain, nil
}
