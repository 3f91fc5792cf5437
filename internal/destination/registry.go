package destination

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps destination slugs to their definitions.
// It is safe for concurrent reads; Register should only be called at startup.
type Registry struct {
	mu          sync.RWMutex
	definitions map[string]*Definition
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{definitions: make(map[string]*Definition)}
}

// Register adds a definition and compiles its schemas. Panics on a duplicate
// slug or an invalid definition to surface programming errors early.
func (r *Registry) Register(d *Definition) {
	if err := d.prepare(); err != nil {
		panic(fmt.Sprintf("destination registry: %v", err))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.definitions[d.Slug]; exists {
		panic(fmt.Sprintf("destination registry: duplicate slug %q", d.Slug))
	}
	r.definitions[d.Slug] = d
}

// Get returns the definition for the given slug.
func (r *Registry) Get(slug string) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.definitions[slug]
	if !ok {
		return nil, fmt.Errorf("no destination registered for slug %q", slug)
	}
	return d, nil
}

// Slugs returns all registered slugs in sorted order.
func (r *Registry) Slugs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.definitions))
	for k := range r.definitions {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
