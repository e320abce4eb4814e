package inventory

import (
	"sync"
)

// Registry resolves names to Site, Group and Dataset objects for the
// duration of one sync. Each sync owns its own Registry so concurrent syncs
// never share half-built entities; results are merged into an Inventory
// once the sync completes. Safe for concurrent use by the sync's workers.
type Registry struct {
	mu       sync.Mutex
	sites    map[string]*Site
	groups   map[string]*Group
	datasets map[string]*Dataset
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sites:    make(map[string]*Site),
		groups:   make(map[string]*Group),
		datasets: make(map[string]*Dataset),
	}
}

// Site returns the site of that name, creating it on first reference.
func (r *Registry) Site(name string) *Site {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sites[name]
	if !ok {
		s = NewSite(name)
		r.sites[name] = s
	}

	return s
}

// AddSite registers a copy of a fully described site, replacing the
// fields of any lazily created one of the same name.
func (r *Registry) AddSite(site *Site) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sites[site.Name]; ok {
		*s = *site
		return
	}

	own := *site
	r.sites[site.Name] = &own
}

// Group returns the group of that name. The empty name is the null group.
func (r *Registry) Group(name string) *Group {
	if name == "" {
		return NullGroup
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[name]
	if !ok {
		g = &Group{Name: name}
		r.groups[name] = g
	}

	return g
}

// Dataset returns the dataset of that name, creating it on first
// reference. Invalid names return ErrInvalidDatasetName.
func (r *Registry) Dataset(name string) (*Dataset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d, ok := r.datasets[name]; ok {
		return d, nil
	}

	d, err := NewDataset(name)
	if err != nil {
		return nil, err
	}

	r.datasets[name] = d

	return d, nil
}
