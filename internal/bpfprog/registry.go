package bpfprog

import (
	"fmt"
	"sort"
	"sync"
)

// Registry tracks the BPF objects loaded by the daemon so the control API
// can attach their programs by object path and program name.
type Registry struct {
	mu    sync.RWMutex
	colls map[string]*Collection
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{colls: make(map[string]*Collection)}
}

// Add registers a loaded collection under its object path.
func (r *Registry) Add(c *Collection) {
	r.mu.Lock()
	r.colls[c.Path()] = c
	r.mu.Unlock()
}

// Get returns the collection loaded from the given object path.
func (r *Registry) Get(path string) (*Collection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.colls[path]
	if !ok {
		return nil, fmt.Errorf("no loaded object %q", path)
	}
	return c, nil
}

// Objects lists the loaded object paths, sorted.
func (r *Registry) Objects() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	paths := make([]string, 0, len(r.colls))
	for p := range r.colls {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Close unloads every registered collection.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.colls {
		c.Close()
	}
	r.colls = make(map[string]*Collection)
}
