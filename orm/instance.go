package orm

import (
	"context"
	"encoding/json"
	"sync"
)

// Instance is a live model instance: a mutable record plus the related
// instances loaded onto it, keyed by relation name.
type Instance struct {
	model *Model
	rec   Record

	mu      sync.RWMutex
	related map[string]any // *Instance for HasOne, []*Instance otherwise
}

// Model returns the model the instance belongs to.
func (i *Instance) Model() *Model { return i.model }

// Record returns the instance's record. The map is live, not a copy.
func (i *Instance) Record() Record { return i.rec }

func (i *Instance) Get(field string) any { return i.rec[field] }

func (i *Instance) Set(field string, v any) { i.rec[field] = v }

// ID returns the value of the identifying field.
func (i *Instance) ID() any { return i.rec[i.model.id] }

// Loaded reports whether the named relation was assigned onto the instance.
func (i *Instance) Loaded(name string) bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	_, ok := i.related[name]
	return ok
}

// Related returns the instances assigned under a relation. A HasOne value
// is returned as a one-element slice; an unloaded or empty relation yields
// nil.
func (i *Instance) Related(name string) []*Instance {
	i.mu.RLock()
	defer i.mu.RUnlock()

	switch v := i.related[name].(type) {
	case []*Instance:
		return v
	case *Instance:
		if v != nil {
			return []*Instance{v}
		}
	}
	return nil
}

// One returns the instance assigned under a HasOne relation, or the first
// element of a many relation.
func (i *Instance) One(name string) *Instance {
	rel := i.Related(name)
	if len(rel) == 0 {
		return nil
	}
	return rel[0]
}

func (i *Instance) setRelated(name string, v any) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.related == nil {
		i.related = make(map[string]any)
	}
	i.related[name] = v
}

func (i *Instance) appendRelated(name string, insts ...*Instance) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.related == nil {
		i.related = make(map[string]any)
	}
	cur, _ := i.related[name].([]*Instance)
	i.related[name] = append(append(make([]*Instance, 0, len(cur)+len(insts)), cur...), insts...)
}

// RelatedQuery returns a query bound to the named relation with the
// instance as its only owner.
//
//	pets, err := person.RelatedQuery("pets", tx).Where("species = ?", "dog").Find(ctx)
func (i *Instance) RelatedQuery(name string, db Querier) *Query {
	return i.model.RelatedQuery(name, db, i)
}

// LoadRelated fetches the relation graph described by expression onto the
// instance.
func (i *Instance) LoadRelated(ctx context.Context, db Querier, expression string) error {
	return LoadRelated(ctx, db, []*Instance{i}, expression)
}

// MarshalJSON renders the record merged with the loaded relations.
func (i *Instance) MarshalJSON() ([]byte, error) {
	i.mu.RLock()
	out := make(map[string]any, len(i.rec)+len(i.related))
	for k, v := range i.rec {
		out[k] = v
	}
	for k, v := range i.related {
		out[k] = v
	}
	i.mu.RUnlock()
	return json.Marshal(out) //nolint:wrapcheck // pass through
}
