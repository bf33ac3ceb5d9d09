package orm

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/lykmapipo/moron/expr"
)

// FetchOptions tunes an eager fetch.
type FetchOptions struct {
	// MaxDepth caps the number of relation levels; 0 means unlimited.
	// A fetch that needs a deeper level fails with ErrMaxDepth.
	MaxDepth int
	// Concurrency is the number of sibling relations queried at once.
	// Values below 1 mean one at a time.
	Concurrency int
}

// DefaultFetchOptions fetches one relation at a time without a depth cap.
var DefaultFetchOptions = FetchOptions{Concurrency: 1}

// Fetcher loads a relation graph onto owner instances, issuing one batched
// query per relation per level. It keeps no state between calls.
type Fetcher struct {
	db   Querier
	opts FetchOptions
}

// NewFetcher returns a Fetcher issuing its queries through db.
//
// A transaction holds a single connection, so a fetcher over a *Tx always
// queries one relation at a time whatever opts.Concurrency says.
func NewFetcher(db Querier, opts FetchOptions) *Fetcher {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if _, ok := db.(*Tx); ok {
		opts.Concurrency = 1
	}
	return &Fetcher{db: db, opts: opts}
}

// LoadRelated parses expression and fetches the described graph onto
// instances, which must all belong to the same model.
//
//	err := orm.LoadRelated(ctx, tx, people, "[pets, children.^]")
func LoadRelated(ctx context.Context, db Querier, instances []*Instance, expression string) error {
	return NewFetcher(db, DefaultFetchOptions).Load(ctx, instances, expression)
}

// Load is LoadRelated with the fetcher's options.
func (f *Fetcher) Load(ctx context.Context, instances []*Instance, expression string) error {
	node, err := expr.Parse(expression)
	if err != nil {
		return err //nolint:wrapcheck // pass through
	}
	if len(instances) == 0 {
		return nil
	}
	model := instances[0].model
	for _, inst := range instances[1:] {
		if inst.model != model {
			return fmt.Errorf("orm: cannot load relations onto a mix of %s and %s instances", model.name, inst.model.name)
		}
	}
	return f.Fetch(ctx, model, instances, node)
}

// Fetch walks node level by level starting from owners of model.
//
// Recursive ("^") and wildcard ("*") continuations stop on a branch that
// already expanded the same relation for the same owner id, so cyclic data
// terminates. Other branches reaching that row are still expanded.
func (f *Fetcher) Fetch(ctx context.Context, model *Model, owners []*Instance, node *expr.Node) error {
	if node == nil || len(owners) == 0 {
		return nil
	}
	st := &fetchState{paths: make(map[*Instance]map[string]struct{})}
	return f.level(ctx, st, model, owners, node, 1)
}

type fetchTask struct {
	rel  *Relation
	node *expr.Node // continuation below rel
}

// fetchState tracks, per fetched instance, the relation#id expansions on
// the path that reached it.
type fetchState struct {
	mu    sync.Mutex
	paths map[*Instance]map[string]struct{}
}

func expansionKey(rel *Relation, o *Instance) (string, bool) {
	id, ok := keyOf(o.ID())
	if !ok {
		return "", false
	}
	return rel.String() + "#" + id, true
}

// expandable returns the owners whose path has not expanded rel for their
// id yet. Owners without an id are always returned.
func (st *fetchState) expandable(rel *Relation, owners []*Instance) []*Instance {
	st.mu.Lock()
	defer st.mu.Unlock()

	out := make([]*Instance, 0, len(owners))
	for _, o := range owners {
		if k, ok := expansionKey(rel, o); ok {
			if _, cycle := st.paths[o][k]; cycle {
				continue
			}
		}
		out = append(out, o)
	}
	return out
}

// descend extends the path of every owner onto the instances assigned to
// it under rel. An instance shared by several owners keeps only the
// expansions common to all of its paths.
func (st *fetchState) descend(rel *Relation, owners []*Instance) {
	st.mu.Lock()
	defer st.mu.Unlock()

	for _, o := range owners {
		parent := st.paths[o]
		k, hasKey := expansionKey(rel, o)
		for _, c := range o.Related(rel.name) {
			path := make(map[string]struct{}, len(parent)+1)
			for p := range parent {
				path[p] = struct{}{}
			}
			if hasKey {
				path[k] = struct{}{}
			}
			if prev, ok := st.paths[c]; ok {
				for p := range path {
					if _, common := prev[p]; !common {
						delete(path, p)
					}
				}
			}
			st.paths[c] = path
		}
	}
}

func (f *Fetcher) level(ctx context.Context, st *fetchState, model *Model, owners []*Instance, node *expr.Node, depth int) error {
	if len(owners) == 0 {
		return nil
	}
	tasks, err := f.tasks(model, node)
	if err != nil || len(tasks) == 0 {
		return err
	}
	if f.opts.MaxDepth > 0 && depth > f.opts.MaxDepth {
		return fmt.Errorf("%w: %d levels below %s", ErrMaxDepth, f.opts.MaxDepth, model.name)
	}

	fetched := make([][]*Instance, len(tasks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.opts.Concurrency)
	for i, t := range tasks {
		g.Go(func() error {
			batch := owners
			if t.node.Recursive || t.node.AllRelations {
				batch = st.expandable(t.rel, owners)
			}
			if len(batch) == 0 {
				return nil
			}
			related, err := t.rel.Query(f.db, batch...).Find(gctx)
			if err != nil {
				return err
			}
			st.descend(t.rel, batch)
			fetched[i] = related
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err //nolint:wrapcheck // pass through
	}

	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(f.opts.Concurrency)
	for i, t := range tasks {
		g.Go(func() error {
			return f.level(gctx, st, t.rel.related, fetched[i], t.node, depth+1)
		})
	}
	return g.Wait() //nolint:wrapcheck // pass through
}

// tasks resolves the relations to fetch below node. Unknown names fail
// before any query of the level runs.
func (f *Fetcher) tasks(model *Model, node *expr.Node) ([]fetchTask, error) {
	switch {
	case node.AllRelations:
		tasks := make([]fetchTask, len(model.relations))
		for i, r := range model.relations {
			tasks[i] = fetchTask{rel: r, node: &expr.Node{Name: r.name, AllRelations: true}}
		}
		return tasks, nil
	case node.Recursive:
		r, err := model.Relation(node.Name)
		if err != nil {
			return nil, err
		}
		return []fetchTask{{rel: r, node: node}}, nil
	}

	tasks := make([]fetchTask, 0, len(node.Children))
	for _, c := range node.Children {
		r, err := model.Relation(c.Name)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, fetchTask{rel: r, node: c})
	}
	return tasks, nil
}
