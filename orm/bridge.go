package orm

import (
	"context"
	"fmt"
	"strings"
)

// BridgePair is one row of a ManyToMany bridge table.
type BridgePair struct {
	Owner   any
	Related any
}

// Links reads the bridge rows of a ManyToMany relation for the given
// owners, in query order.
func (r *Relation) Links(ctx context.Context, db Querier, owners ...*Instance) ([]BridgePair, error) {
	if r.m == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoMapping, r)
	}
	if r.kind != ManyToMany {
		return nil, fmt.Errorf("orm: %s is %v and has no bridge table", r, r.kind)
	}
	keys := r.ownerKeys(owners)
	if len(keys) == 0 {
		return nil, nil
	}

	d := db.dialect()
	qi := d.QuoteIdent
	m := r.m

	query := fmt.Sprintf(
		"SELECT %s, %s FROM %s WHERE %s IN (%s)",
		qi(m.bridgeFrom), qi(m.bridgeTo), qi(m.bridgeTable), qi(m.bridgeFrom),
		repeatPlaceholders(len(keys)),
	)
	query = rewritePlaceholders(d, query)

	rows, err := db.QueryContext(ctx, query, keys...)
	if err != nil {
		return nil, err //nolint:wrapcheck // pass through
	}
	defer func() { _ = rows.Close() }()

	var pairs []BridgePair
	for rows.Next() {
		var p BridgePair
		if err := rows.Scan(&p.Owner, &p.Related); err != nil {
			return nil, err //nolint:wrapcheck // pass through
		}
		p.Owner, p.Related = normalizeValue(p.Owner), normalizeValue(p.Related)
		pairs = append(pairs, p)
	}
	return pairs, rows.Err() //nolint:wrapcheck // pass through
}

// UniqueRelated extracts the deduplicated related keys of the pairs.
func UniqueRelated(pairs []BridgePair) []any {
	seen := make(map[string]struct{}, len(pairs))
	result := make([]any, 0, len(pairs))
	for _, p := range pairs {
		k, ok := keyOf(p.Related)
		if !ok {
			continue
		}
		if _, dup := seen[k]; !dup {
			seen[k] = struct{}{}
			result = append(result, p.Related)
		}
	}
	return result
}

// GroupByOwner groups the related keys of the pairs by normalized owner key.
func GroupByOwner(pairs []BridgePair) map[string][]any {
	m := make(map[string][]any)
	for _, p := range pairs {
		if k, ok := keyOf(p.Owner); ok {
			m[k] = append(m[k], p.Related)
		}
	}
	return m
}

// insertBridge writes one bridge row per pair in a single statement.
func insertBridge(ctx context.Context, db Querier, r *Relation, pairs []BridgePair) (int64, error) {
	if len(pairs) == 0 {
		return 0, nil
	}
	d := db.dialect()
	query := buildInsert(d.QuoteIdent, r.m.bridgeTable, []string{r.m.bridgeFrom, r.m.bridgeTo}, len(pairs))
	query = rewritePlaceholders(d, query)

	args := make([]any, 0, len(pairs)*2)
	for _, p := range pairs {
		args = append(args, p.Owner, p.Related)
	}

	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err //nolint:wrapcheck // pass through
	}
	n, _ := result.RowsAffected()
	return n, nil
}

// deleteBridge removes the bridge rows of the owners. The caller's filters
// on q select the related rows whose links are removed.
func deleteBridge(ctx context.Context, q *Query, r *Relation, keys []any) (int64, error) {
	m := r.m
	var b strings.Builder
	args := append([]any(nil), keys...)

	b.WriteString("DELETE FROM ")
	b.WriteString(q.qi(m.bridgeTable))
	b.WriteString(" WHERE ")
	b.WriteString(q.col(m.bridgeTable, m.bridgeFrom))
	if len(keys) == 1 {
		b.WriteString(" = ?")
	} else {
		b.WriteString(" IN (" + repeatPlaceholders(len(keys)) + ")")
	}

	if len(q.wheres) > 0 {
		filter, filterArgs := q.whereSQL()
		fmt.Fprintf(&b, " AND %s IN (SELECT %s FROM %s WHERE %s)",
			q.col(m.bridgeTable, m.bridgeTo),
			q.col(r.related.table, m.relatedCol),
			q.qi(r.related.table),
			filter,
		)
		args = append(args, filterArgs...)
	}

	result, err := q.db.ExecContext(ctx, q.rewrite(b.String()), args...)
	if err != nil {
		return 0, err //nolint:wrapcheck // pass through
	}
	n, _ := result.RowsAffected()
	return n, nil
}
