package orm

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cast"
)

// ownerKeyAlias is the column a ManyToMany find selects the bridge owner
// key under, so fetched rows can be grouped onto their owners.
const ownerKeyAlias = "__owner_key"

// run shapes req for the relation and executes it. Every operation kind is
// handled for every relation kind.
func (r *Relation) run(ctx context.Context, q *Query, req Request) (*Result, error) {
	if r.m == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoMapping, r)
	}

	switch req.Kind {
	case OpFind:
		shaped, ok, err := r.findQuery(q)
		if err != nil {
			return nil, err
		}
		if !ok {
			// no owner carries a key: nothing can match
			for _, o := range q.owners {
				r.assign(o, nil)
			}
			return q.plain().finish(ctx, &Result{Kind: OpFind})
		}
		return shaped.runFind(ctx)
	case OpInsert:
		return r.insert(ctx, q, req)
	case OpUpdate, OpPatch:
		shaped, err := r.scoped(q)
		if err != nil {
			return nil, err
		}
		return shaped.runUpdate(ctx, req)
	case OpDelete:
		shaped, err := r.scoped(q)
		if err != nil {
			return nil, err
		}
		return shaped.runDelete(ctx)
	case OpRelate:
		return r.relate(ctx, q, req)
	case OpUnrelate:
		return r.unrelate(ctx, q)
	}
	return nil, fmt.Errorf("orm: unknown operation %v", req.Kind)
}

// findQuery restricts q to the rows linked to its owners and queues the
// partitioning step. ok is false when no owner carries a key.
func (r *Relation) findQuery(q *Query) (*Query, bool, error) {
	if r.m == nil {
		return nil, false, fmt.Errorf("%w: %s", ErrNoMapping, r)
	}
	keys := r.ownerKeys(q.owners)
	if len(keys) == 0 {
		return nil, false, nil
	}

	m := r.m
	shaped := q.plain()
	in := "(" + repeatPlaceholders(len(keys)) + ")"

	switch r.kind {
	case HasOne, HasMany:
		shaped.wheres = append(shaped.wheres, whereClause{
			q.col(r.related.table, m.relatedCol) + " IN " + in, keys,
		})
	case ManyToMany:
		shaped.joins = append(shaped.joins, fmt.Sprintf(
			"INNER JOIN %s ON %s = %s",
			q.qi(m.bridgeTable),
			q.col(m.bridgeTable, m.bridgeTo), q.col(r.related.table, m.relatedCol),
		))
		shaped.wheres = append(shaped.wheres, whereClause{
			q.col(m.bridgeTable, m.bridgeFrom) + " IN " + in, keys,
		})
		sel := q.qi(r.related.table) + ".*"
		if q.selects != nil {
			sel = *q.selects
		}
		sel += ", " + q.col(m.bridgeTable, m.bridgeFrom) + " AS " + q.qi(ownerKeyAlias)
		shaped.selects = &sel
	}

	owners := q.owners
	shaped.steps = append([]AfterFunc{r.partition(owners)}, shaped.steps...)
	return shaped, true, nil
}

// partition assigns the fetched rows onto each owner by matching key. The
// flat result keeps query order.
func (r *Relation) partition(owners []*Instance) AfterFunc {
	return func(_ context.Context, related []*Instance) ([]*Instance, error) {
		groups := make(map[string][]*Instance)
		for _, inst := range related {
			var k any
			if r.kind == ManyToMany {
				k = inst.rec[ownerKeyAlias]
				delete(inst.rec, ownerKeyAlias)
			} else {
				k = inst.rec[r.m.relatedProp]
			}
			if key, ok := keyOf(k); ok {
				groups[key] = append(groups[key], inst)
			}
		}

		for _, o := range owners {
			var matched []*Instance
			if key, ok := keyOf(o.Get(r.m.ownerProp)); ok {
				matched = groups[key]
			}
			r.assign(o, matched)
		}
		return related, nil
	}
}

// assign stores matched onto the owner: one instance or nil for HasOne, a
// non-nil slice otherwise.
func (r *Relation) assign(owner *Instance, matched []*Instance) {
	if r.kind == HasOne {
		var one *Instance
		if len(matched) > 0 {
			one = matched[0]
		}
		owner.setRelated(r.name, one)
		return
	}
	owner.setRelated(r.name, append(make([]*Instance, 0, len(matched)), matched...))
}

func (r *Relation) insert(ctx context.Context, q *Query, req Request) (*Result, error) {
	owner, key, err := r.singleOwner(q)
	if err != nil {
		return nil, err
	}

	if r.kind != ManyToMany {
		for _, inst := range req.Instances {
			inst.Set(r.m.relatedProp, key)
		}
	}

	res, err := q.plain().runInsert(ctx, req)
	if err != nil {
		return nil, err
	}

	if r.kind == ManyToMany && len(res.Instances) > 0 {
		pairs := make([]BridgePair, len(res.Instances))
		for i, inst := range res.Instances {
			pairs[i] = BridgePair{Owner: key, Related: inst.Get(r.m.relatedProp)}
		}
		if _, err := insertBridge(ctx, q.db, r, pairs); err != nil {
			return nil, err
		}
	}

	switch {
	case len(res.Instances) == 0:
	case r.kind == HasOne:
		owner.setRelated(r.name, res.Instances[len(res.Instances)-1])
	default:
		owner.appendRelated(r.name, res.Instances...)
	}
	return res, nil
}

// scoped adds the owner-scoping predicate to q's caller predicates.
func (r *Relation) scoped(q *Query) (*Query, error) {
	keys := r.ownerKeys(q.owners)
	if len(keys) == 0 {
		return nil, fmt.Errorf("orm: %s: no owner carries a value for %s", r, r.m.ownerProp)
	}

	m := r.m
	cmp := " = ?"
	if len(keys) > 1 {
		cmp = " IN (" + repeatPlaceholders(len(keys)) + ")"
	}

	shaped := q.plain()
	switch r.kind {
	case HasOne, HasMany:
		shaped.wheres = append(shaped.wheres, whereClause{
			q.col(r.related.table, m.relatedCol) + cmp, keys,
		})
	case ManyToMany:
		shaped.wheres = append(shaped.wheres, whereClause{
			fmt.Sprintf("%s IN (SELECT %s FROM %s WHERE %s%s)",
				q.col(r.related.table, m.relatedCol),
				q.col(m.bridgeTable, m.bridgeTo),
				q.qi(m.bridgeTable),
				q.col(m.bridgeTable, m.bridgeFrom), cmp,
			), keys,
		})
	}
	return shaped, nil
}

func (r *Relation) relate(ctx context.Context, q *Query, req Request) (*Result, error) {
	owner, key, err := r.singleOwner(q)
	if err != nil {
		return nil, err
	}
	res := &Result{Kind: OpRelate, Single: req.Single, IDs: req.IDs}
	if len(req.IDs) == 0 {
		return res, nil
	}

	if r.kind == ManyToMany {
		var pairs []BridgePair
		pairs, err = r.newLinks(ctx, q.db, owner, key, req.IDs)
		if err != nil {
			return nil, err
		}
		res.RowsAffected, err = insertBridge(ctx, q.db, r, pairs)
		if err != nil {
			return nil, err
		}
		return res, nil
	}

	shaped := q.plain()
	shaped.wheres = append(shaped.wheres, whereClause{
		q.col(r.related.table, r.related.IDColumn()) + " IN (" + repeatPlaceholders(len(req.IDs)) + ")",
		req.IDs,
	})
	res.RowsAffected, err = shaped.execUpdate(ctx, []string{r.m.relatedCol}, []any{key})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// newLinks returns the bridge pairs still missing between owner and ids.
// Ids already linked or repeated in the request are skipped, so relating
// twice does not collide with the bridge's unique key.
func (r *Relation) newLinks(ctx context.Context, db Querier, owner *Instance, key any, ids []any) ([]BridgePair, error) {
	existing, err := r.Links(ctx, db, owner)
	if err != nil {
		return nil, err
	}
	linked := make(map[string]struct{}, len(existing))
	if ownerKey, ok := keyOf(key); ok {
		for _, id := range GroupByOwner(existing)[ownerKey] {
			if k, ok := keyOf(id); ok {
				linked[k] = struct{}{}
			}
		}
	}

	requested := make([]BridgePair, len(ids))
	for i, id := range ids {
		requested[i] = BridgePair{Owner: key, Related: id}
	}
	var pairs []BridgePair
	for _, id := range UniqueRelated(requested) {
		k, _ := keyOf(id)
		if _, dup := linked[k]; dup {
			continue
		}
		pairs = append(pairs, BridgePair{Owner: key, Related: id})
	}
	return pairs, nil
}

// unrelate clears the link between the owners and the related rows that
// match the caller's filters. For ManyToMany the filters apply to the
// related table and the bridge rows are deleted.
func (r *Relation) unrelate(ctx context.Context, q *Query) (*Result, error) {
	res := &Result{Kind: OpUnrelate}

	if r.kind == ManyToMany {
		keys := r.ownerKeys(q.owners)
		if len(keys) == 0 {
			return nil, fmt.Errorf("orm: %s: no owner carries a value for %s", r, r.m.ownerProp)
		}
		var err error
		res.RowsAffected, err = deleteBridge(ctx, q, r, keys)
		if err != nil {
			return nil, err
		}
		return res, nil
	}

	shaped, err := r.scoped(q)
	if err != nil {
		return nil, err
	}
	res.RowsAffected, err = shaped.execUpdate(ctx, []string{r.m.relatedCol}, []any{nil})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (r *Relation) singleOwner(q *Query) (*Instance, any, error) {
	if len(q.owners) != 1 {
		return nil, nil, fmt.Errorf("%w: %s has %d owners", ErrMultipleOwners, r, len(q.owners))
	}
	owner := q.owners[0]
	key := owner.Get(r.m.ownerProp)
	if key == nil {
		return nil, nil, fmt.Errorf("orm: %s: owner has no value for %s", r, r.m.ownerProp)
	}
	return owner, key, nil
}

// ownerKeys returns the owners' join values, deduplicated in first-seen
// order. Owners without a value are skipped.
func (r *Relation) ownerKeys(owners []*Instance) []any {
	seen := make(map[string]struct{}, len(owners))
	keys := make([]any, 0, len(owners))
	for _, o := range owners {
		v := o.Get(r.m.ownerProp)
		k, ok := keyOf(v)
		if !ok {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, v)
	}
	return keys
}

// keyOf normalizes a join value so that e.g. int64(1) and "1" group
// together.
func keyOf(v any) (string, bool) {
	if v == nil {
		return "", false
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return fmt.Sprint(v), true
	}
	return s, true
}

func repeatPlaceholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
