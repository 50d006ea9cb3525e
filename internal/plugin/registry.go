package plugin

import (
	"log/slog"
	"sort"
	"sync"
)

// Declarations looks up the ordered plugin names a job class declares.
// *job.Registry implements it.
type Declarations interface {
	PluginsOf(class string) []string
	Classes() []string
}

// Registry maps plugin names to factories and memoizes the instances of each
// job class for the lifetime of the process.
// It is safe for concurrent use.
type Registry struct {
	decls  Declarations
	logger *slog.Logger

	mu        sync.RWMutex
	factories map[string]Factory
	instances map[string][]Instance
}

// NewRegistry creates a plugin registry reading class declarations from decls.
func NewRegistry(decls Declarations, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		decls:     decls,
		logger:    logger.With("component", "plugins"),
		factories: make(map[string]Factory),
		instances: make(map[string][]Instance),
	}
}

// Register adds a plugin factory. Registration is expected at startup,
// before the first instance lookup.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Validate returns, per job class, the declared plugin names without a
// registered factory. Classes with no problems are omitted.
func (r *Registry) Validate() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	unknown := make(map[string][]string)
	for _, class := range r.decls.Classes() {
		for _, name := range r.decls.PluginsOf(class) {
			if _, ok := r.factories[name]; !ok {
				unknown[class] = append(unknown[class], name)
			}
		}
	}
	return unknown
}

// InstancesFor returns the plugin instances of a job class in declaration
// order. The first call per class instantiates them; later calls return the
// cached slice. Unknown names are skipped.
func (r *Registry) InstancesFor(class string) []Instance {
	r.mu.RLock()
	cached, ok := r.instances[class]
	r.mu.RUnlock()
	if ok {
		return cached
	}

	names := r.decls.PluginsOf(class)

	r.mu.Lock()
	defer r.mu.Unlock()
	if cached, ok := r.instances[class]; ok {
		return cached
	}

	list := make([]Instance, 0, len(names))
	for _, name := range names {
		f, ok := r.factories[name]
		if !ok {
			r.logger.Warn("skipping unknown plugin", slog.String("class", class), slog.String("plugin", name))
			continue
		}
		list = append(list, Instance{Name: name, Plugin: f()})
	}
	r.instances[class] = list
	return list
}

// InstancesImplementing returns the instances of a class exposing the hook,
// in declaration order.
func (r *Registry) InstancesImplementing(class string, h Hook) []Instance {
	all := r.InstancesFor(class)
	if len(all) == 0 {
		return nil
	}
	out := make([]Instance, 0, len(all))
	for _, inst := range all {
		if inst.Implements(h) {
			out = append(out, inst)
		}
	}
	return out
}

// Names returns the registered plugin names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
