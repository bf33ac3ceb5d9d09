package orm

import (
	"fmt"
	"sync"
)

// Registry owns the models of one application. Models are declared with
// Define and their relations are resolved once by Build; afterwards the
// registry is read-only and safe to share between goroutines.
type Registry struct {
	mu     sync.RWMutex
	models map[string]*Model
	order  []string
	built  bool
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{models: make(map[string]*Model)}
}

// Define declares a model. It fails after Build and on duplicate names.
func (r *Registry) Define(def ModelDef) (*Model, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.built {
		return nil, ErrRegistryBuilt
	}
	if def.Name == "" {
		return nil, fmt.Errorf("orm: model name is required")
	}
	if _, ok := r.models[def.Name]; ok {
		return nil, fmt.Errorf("orm: model %s already defined", def.Name)
	}

	m := newModel(def)
	r.models[def.Name] = m
	r.order = append(r.order, def.Name)
	return m, nil
}

// MustDefine is like Define but panics on error.
func (r *Registry) MustDefine(def ModelDef) *Model {
	m, err := r.Define(def)
	if err != nil {
		panic(err)
	}
	return m
}

// Build creates every declared relation and resolves its join columns.
// The first unresolvable column fails the whole build with a *MappingError.
func (r *Registry) Build() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.built {
		return ErrRegistryBuilt
	}

	for _, name := range r.order {
		owner := r.models[name]
		var rels []*Relation
		for _, def := range owner.defs {
			related, ok := r.models[def.Model]
			if !ok {
				return &MappingError{
					Model:    owner.name,
					Relation: def.Name,
					Reason:   fmt.Sprintf("related model %q is not defined", def.Model),
				}
			}
			if _, dup := owner.byName[def.Name]; dup {
				return &MappingError{Model: owner.name, Relation: def.Name, Reason: "duplicate relation name"}
			}
			rel := NewRelation(def, owner, related)
			if err := rel.setMapping(); err != nil {
				return err
			}
			rels = append(rels, rel)
			owner.byName[def.Name] = rel
		}
		owner.relations = rels
	}

	r.built = true
	return nil
}

// Model returns the named model.
func (r *Registry) Model(name string) (*Model, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.models[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, name)
	}
	return m, nil
}

// MustModel is like Model but panics on error.
func (r *Registry) MustModel(name string) *Model {
	m, err := r.Model(name)
	if err != nil {
		panic(err)
	}
	return m
}

// Models returns every model in definition order.
func (r *Registry) Models() []*Model {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ms := make([]*Model, len(r.order))
	for i, name := range r.order {
		ms[i] = r.models[name]
	}
	return ms
}

// Built reports whether Build has completed.
func (r *Registry) Built() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.built
}
