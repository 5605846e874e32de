package provider

import (
	"sync"
)

// Descriptor announces a provider variant to the registry.
type Descriptor struct {
	ID    string             `json:"id"`
	Title string             `json:"title"`
	New   func(Env) Provider `json:"-"`
}

// Builtin lists the bundled variants.
func Builtin() []Descriptor {
	return []Descriptor{
		{ID: IDAzure, Title: "Azure Cognitive Services", New: NewAzure},
		{ID: IDOpenAI, Title: "OpenAI", New: NewOpenAI},
		{ID: IDAlttextAI, Title: "Alttext.AI", New: NewAlttextAI},
	}
}

// Registry maps provider ids to lazily built instances. Each id is
// constructed at most once.
type Registry struct {
	env Env

	mu        sync.Mutex
	order     []string
	descs     map[string]Descriptor
	instances map[string]Provider
}

// NewRegistry builds a registry over descs, falling back to Builtin when
// none are given.
func NewRegistry(env Env, descs ...Descriptor) *Registry {
	r := &Registry{
		env:       env.withDefaults(),
		descs:     map[string]Descriptor{},
		instances: map[string]Provider{},
	}
	if len(descs) == 0 {
		descs = Builtin()
	}
	for _, d := range descs {
		r.Register(d)
	}
	return r
}

// Register adds or replaces a descriptor. A replaced id drops its instance.
func (r *Registry) Register(d Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.descs[d.ID]; !ok {
		r.order = append(r.order, d.ID)
	}
	r.descs[d.ID] = d
	delete(r.instances, d.ID)
}

// List returns the descriptors in registration order.
func (r *Registry) List() []Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Descriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.descs[id])
	}
	return out
}

// Get returns the instance for id, or an unknown-provider *Error.
func (r *Registry) Get(id string) (Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.instances[id]; ok {
		return p, nil
	}
	d, ok := r.descs[id]
	if !ok || d.New == nil {
		return nil, &Error{Kind: KindUnknownProvider, Provider: id}
	}
	p := d.New(r.env)
	r.instances[id] = p
	return p, nil
}
