package job

import (
	"fmt"
	"sort"
	"sync"

	"jobretry/internal/shared"
)

// Factory creates a fresh user instance of a job class.
type Factory func() Job

// Registry maps job class names to factories.
// It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty class registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a job class. Registering the same name twice replaces the
// previous factory.
func (r *Registry) Register(class string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[class] = f
}

// New instantiates the given class.
func (r *Registry) New(class string) (Job, error) {
	r.mu.RLock()
	f, ok := r.factories[class]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: job class %q is not registered", shared.ErrMisconfigured, class)
	}
	return f(), nil
}

// Has reports whether the class is registered.
func (r *Registry) Has(class string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[class]
	return ok
}

// Classes returns registered class names in sorted order.
func (r *Registry) Classes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PluginsOf returns the plugin declaration of a class, or nil when the class
// is unknown or declares nothing.
func (r *Registry) PluginsOf(class string) []string {
	j, err := r.New(class)
	if err != nil {
		return nil
	}
	if d, ok := j.(PluginDeclarer); ok {
		return d.Plugins()
	}
	return nil
}

// Occurrence builds an occurrence for the envelope with a fresh user instance.
func (r *Registry) Occurrence(env Envelope) (*Occurrence, error) {
	j, err := r.New(env.Class)
	if err != nil {
		return nil, err
	}
	return &Occurrence{
		Queue:         env.Queue,
		Class:         env.Class,
		PayloadID:     env.PayloadID,
		Args:          env.Args,
		TrackProgress: env.TrackProgress,
		Instance:      j,
	}, nil
}
