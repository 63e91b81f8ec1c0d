package tools

import (
	"fmt"
	"sync"
)

// Registry is the fixed set of tool descriptors plus the install root the
// scripts are resolved against. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	root  string
	byID  map[ToolID]Descriptor
	order []ToolID
}

// NewRegistry loads the built-in descriptors for an install rooted at root.
func NewRegistry(root string) *Registry {
	return NewRegistryWith(root, defaultDescriptors()...)
}

// NewRegistryWith builds a registry from an explicit descriptor set.
func NewRegistryWith(root string, descs ...Descriptor) *Registry {
	r := &Registry{root: root, byID: make(map[ToolID]Descriptor, len(descs))}
	for _, d := range descs {
		if _, dup := r.byID[d.ID]; !dup {
			r.order = append(r.order, d.ID)
		}
		r.byID[d.ID] = d
	}
	return r
}

// Lookup returns the descriptor for id.
func (r *Registry) Lookup(id ToolID) (Descriptor, error) {
	d, ok := r.byID[id]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrUnknownTool, id)
	}
	return d, nil
}

// List returns every descriptor in registration order.
func (r *Registry) List() []Descriptor {
	out := make([]Descriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// Root is the install root used for the next Build.
func (r *Registry) Root() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.root
}

// Relocate points later builds at a different install root.
func (r *Registry) Relocate(root string) {
	r.mu.Lock()
	r.root = root
	r.mu.Unlock()
}
