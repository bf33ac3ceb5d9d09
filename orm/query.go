package orm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lykmapipo/moron/expr"
	"github.com/lykmapipo/moron/scope"
)

// AfterFunc transforms the instances produced by an operation before they
// are returned to the caller.
type AfterFunc func(ctx context.Context, instances []*Instance) ([]*Instance, error)

// Query represents a pending operation against a single model's table.
// All builder methods return a new Query; the receiver is never modified.
//
// A query obtained from Instance.RelatedQuery, Model.RelatedQuery or
// Relation.Query is bound to a relation and an owner batch: its terminal
// method is shaped by the relation, and caller predicates stay in force
// next to the owner-scoping predicate.
type Query struct {
	db    Querier
	model *Model
	err   error

	rel    *Relation
	owners []*Instance

	wheres   []whereClause
	orderBys []string
	joins    []string
	selects  *string
	limit    *int
	offset   *int

	eager     *expr.Node
	fetchOpts FetchOptions
	steps     []AfterFunc // relation post-processing, runs first
	after     []AfterFunc
}

type whereClause struct {
	clause string
	args   []any
}

// clone returns a shallow copy with slices copied to avoid aliasing.
func (q *Query) clone() *Query {
	q2 := *q
	q2.owners = append([]*Instance(nil), q.owners...)
	q2.wheres = append([]whereClause(nil), q.wheres...)
	q2.orderBys = append([]string(nil), q.orderBys...)
	q2.joins = append([]string(nil), q.joins...)
	q2.steps = append([]AfterFunc(nil), q.steps...)
	q2.after = append([]AfterFunc(nil), q.after...)
	return &q2
}

// plain returns a copy detached from its relation, keeping every caller
// predicate.
func (q *Query) plain() *Query {
	q2 := q.clone()
	q2.rel = nil
	q2.owners = nil
	return q2
}

// Model returns the model the query reads and writes.
func (q *Query) Model() *Model { return q.model }

// Relation returns the bound relation, or nil for a plain query.
func (q *Query) Relation() *Relation { return q.rel }

// Owners returns the bound owner batch.
func (q *Query) Owners() []*Instance { return append([]*Instance(nil), q.owners...) }

// Err returns the error deferred by a builder method, if any.
func (q *Query) Err() error { return q.err }

// --- Builder methods ---

func (q *Query) Where(clause string, args ...any) *Query {
	q2 := q.clone()
	q2.wheres = append(q2.wheres, whereClause{clause, args})
	return q2
}

func (q *Query) OrderBy(clause string) *Query {
	q2 := q.clone()
	q2.orderBys = append(q2.orderBys, clause)
	return q2
}

func (q *Query) Limit(n int) *Query {
	q2 := q.clone()
	q2.limit = &n
	return q2
}

func (q *Query) Offset(n int) *Query {
	q2 := q.clone()
	q2.offset = &n
	return q2
}

func (q *Query) Select(columns string) *Query {
	q2 := q.clone()
	q2.selects = &columns
	return q2
}

// Join adds an INNER JOIN through the named relation of the query's model.
func (q *Query) Join(name string) *Query {
	return q.addJoin("INNER JOIN", name)
}

// LeftJoin adds a LEFT JOIN through the named relation of the query's model.
func (q *Query) LeftJoin(name string) *Query {
	return q.addJoin("LEFT JOIN", name)
}

func (q *Query) addJoin(joinType, name string) *Query {
	q2 := q.clone()
	r, err := q.model.Relation(name)
	if err != nil {
		q2.setErr(err)
		return q2
	}
	if r.m == nil {
		q2.setErr(ErrNoMapping)
		return q2
	}
	if r.related.table == r.owner.table {
		q2.setErr(fmt.Errorf("orm: cannot join self-referencing relation %s", r))
		return q2
	}

	m := r.m
	if r.kind == ManyToMany {
		q2.joins = append(q2.joins,
			fmt.Sprintf("%s %s ON %s = %s", joinType,
				q.qi(m.bridgeTable),
				q.col(m.bridgeTable, m.bridgeFrom), q.col(r.owner.table, m.ownerCol)),
			fmt.Sprintf("%s %s ON %s = %s", joinType,
				q.qi(r.related.table),
				q.col(r.related.table, m.relatedCol), q.col(m.bridgeTable, m.bridgeTo)),
		)
		return q2
	}
	q2.joins = append(q2.joins, fmt.Sprintf(
		"%s %s ON %s = %s",
		joinType,
		q.qi(r.related.table),
		q.col(r.related.table, m.relatedCol), q.col(r.owner.table, m.ownerCol),
	))
	return q2
}

// Eager schedules the relation graph described by expression to be fetched
// onto the rows returned by Find. A later call replaces the expression.
// Syntax errors surface from the terminal method before any query runs.
func (q *Query) Eager(expression string) *Query {
	q2 := q.clone()
	q2.ApplyEager(expression)
	return q2
}

// WithFetchOptions sets the options used for eager fetching.
func (q *Query) WithFetchOptions(opts FetchOptions) *Query {
	q2 := q.clone()
	q2.fetchOpts = opts
	return q2
}

// RunAfter queues fn to run on the operation's instances. Functions run in
// the order they were queued, after relation partitioning and eager
// fetching.
func (q *Query) RunAfter(fn AfterFunc) *Query {
	q2 := q.clone()
	q2.after = append(q2.after, fn)
	return q2
}

// Scopes applies the given scope.Scope values to the query.
func (q *Query) Scopes(scopes ...scope.Scope) *Query {
	q2 := q.clone()
	for _, s := range scopes {
		s.Apply(q2)
	}
	return q2
}

func (q *Query) setErr(err error) {
	if q.err == nil {
		q.err = err
	}
}

// --- scope.Applier implementation ---

func (q *Query) ApplyWhere(clause string, args []any) {
	q.wheres = append(q.wheres, whereClause{clause, args})
}

func (q *Query) ApplyOrderBy(clause string) {
	q.orderBys = append(q.orderBys, clause)
}

func (q *Query) ApplyLimit(n int)  { q.limit = &n }
func (q *Query) ApplyOffset(n int) { q.offset = &n }

func (q *Query) ApplySelect(columns string) {
	q.selects = &columns
}

func (q *Query) ApplyEager(expression string) {
	node, err := expr.Parse(expression)
	if err != nil {
		q.setErr(err)
		return
	}
	q.eager = node
}

var _ scope.Applier = (*Query)(nil)

// --- Terminal methods ---

// Find executes a SELECT and returns all matching rows as instances.
func (q *Query) Find(ctx context.Context) ([]*Instance, error) {
	res, err := q.Execute(ctx, Request{Kind: OpFind})
	if err != nil {
		return nil, err
	}
	return res.Instances, nil
}

// First executes a SELECT with LIMIT 1 and returns the first row.
// Returns ErrNotFound if no rows match.
func (q *Query) First(ctx context.Context) (*Instance, error) {
	items, err := q.Limit(1).Find(ctx)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrNotFound
	}
	return items[0], nil
}

// FindByID returns the row whose identifying field equals id.
func (q *Query) FindByID(ctx context.Context, id any) (*Instance, error) {
	return q.Where(q.col(q.model.table, q.model.IDColumn())+" = ?", id).First(ctx)
}

// Count returns the number of rows matching the current query conditions.
// On a relation-bound query only rows linked to the owners are counted.
func (q *Query) Count(ctx context.Context) (int64, error) {
	if q.err != nil {
		return 0, q.err
	}
	target := q
	if q.rel != nil {
		shaped, ok, err := q.rel.findQuery(q)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, nil
		}
		target = shaped
	}

	query, args := target.buildCount()
	query = target.rewrite(query)

	var count int64
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, err //nolint:wrapcheck // pass through
	}
	defer func() { _ = rows.Close() }()
	if !rows.Next() {
		return 0, errors.New("orm: COUNT returned no rows")
	}
	if err := rows.Scan(&count); err != nil {
		return 0, err //nolint:wrapcheck // pass through
	}
	return count, rows.Err() //nolint:wrapcheck // pass through
}

// Insert inserts one record (*Instance, Record or map) or a slice of them.
// The result has the payload's shape and carries server-assigned ids.
func (q *Query) Insert(ctx context.Context, payload any) (*Result, error) {
	if q.err != nil {
		return nil, q.err
	}
	insts, single, err := toInstances(q.model, payload)
	if err != nil {
		return nil, err
	}
	return q.Execute(ctx, Request{Kind: OpInsert, Instances: insts, Single: single})
}

// Update writes a complete record. The identifying field is never written;
// without any WHERE clause the row is addressed by the record's id.
func (q *Query) Update(ctx context.Context, payload any) (*Result, error) {
	return q.write(ctx, OpUpdate, payload)
}

// Patch is like Update but validates the record partially: missing
// required fields are not errors.
func (q *Query) Patch(ctx context.Context, payload any) (*Result, error) {
	return q.write(ctx, OpPatch, payload)
}

func (q *Query) write(ctx context.Context, kind OpKind, payload any) (*Result, error) {
	if q.err != nil {
		return nil, q.err
	}
	insts, single, err := toInstances(q.model, payload)
	if err != nil {
		return nil, err
	}
	if !single || len(insts) != 1 {
		return nil, fmt.Errorf("orm: %v takes a single record", kind)
	}
	return q.Execute(ctx, Request{Kind: kind, Instances: insts, Single: true})
}

// Delete deletes rows matching the accumulated WHERE clauses and returns
// the number of rows affected. A plain query without WHERE clauses is
// refused (safety guard).
func (q *Query) Delete(ctx context.Context) (int64, error) {
	res, err := q.Execute(ctx, Request{Kind: OpDelete})
	if err != nil {
		return 0, err
	}
	return res.RowsAffected, nil
}

// Relate links the related rows identified by ids (one id or a slice) to
// the query's single owner. The result has the shape of ids.
func (q *Query) Relate(ctx context.Context, ids any) (*Result, error) {
	list, single := toIDs(ids)
	return q.Execute(ctx, Request{Kind: OpRelate, IDs: list, Single: single})
}

// Unrelate unlinks the related rows matching the accumulated WHERE clauses
// from the query's owners and returns the number of rows affected.
func (q *Query) Unrelate(ctx context.Context) (int64, error) {
	res, err := q.Execute(ctx, Request{Kind: OpUnrelate})
	if err != nil {
		return 0, err
	}
	return res.RowsAffected, nil
}

// Execute runs exactly one operation. A relation-bound query is shaped by
// its relation; a plain query runs against the model's table.
func (q *Query) Execute(ctx context.Context, req Request) (*Result, error) {
	if q.err != nil {
		return nil, q.err
	}
	if q.rel != nil {
		return q.rel.run(ctx, q, req)
	}
	return q.run(ctx, req)
}

func (q *Query) run(ctx context.Context, req Request) (*Result, error) {
	switch req.Kind {
	case OpFind:
		return q.runFind(ctx)
	case OpInsert:
		return q.runInsert(ctx, req)
	case OpUpdate, OpPatch:
		return q.runUpdate(ctx, req)
	case OpDelete:
		return q.runDelete(ctx)
	case OpRelate, OpUnrelate:
		return nil, fmt.Errorf("%w: %v on %s", ErrNotRelational, req.Kind, q.model.name)
	}
	return nil, fmt.Errorf("orm: unknown operation %v", req.Kind)
}

func (q *Query) runFind(ctx context.Context) (*Result, error) {
	query, args := q.buildSelect()
	query = q.rewrite(query)

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err //nolint:wrapcheck // pass through
	}
	insts, err := q.scanInstances(rows)
	if err != nil {
		return nil, err
	}

	res := &Result{Kind: OpFind, Instances: insts}
	return q.finish(ctx, res)
}

func (q *Query) scanInstances(rows *sql.Rows) ([]*Instance, error) {
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err //nolint:wrapcheck // pass through
	}

	var result []*Instance
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err //nolint:wrapcheck // pass through
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = vals[i]
		}
		result = append(result, q.model.New(q.model.ToInternal(row)))
	}
	if err := rows.Err(); err != nil {
		return nil, err //nolint:wrapcheck // pass through
	}
	return result, nil
}

// finish runs relation steps, the eager fetch (find only) and the caller's
// after functions.
func (q *Query) finish(ctx context.Context, res *Result) (*Result, error) {
	var err error
	for _, fn := range q.steps {
		if res.Instances, err = fn(ctx, res.Instances); err != nil {
			return nil, err
		}
	}
	if res.Kind == OpFind && q.eager != nil && len(res.Instances) > 0 {
		f := NewFetcher(q.db, q.fetchOpts)
		if err := f.Fetch(ctx, q.model, res.Instances, q.eager); err != nil {
			return nil, err
		}
	}
	for _, fn := range q.after {
		if res.Instances, err = fn(ctx, res.Instances); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// runInsert inserts the payload in a single statement. Server-assigned ids
// are read via RETURNING (PostgreSQL, SQLite) or LastInsertId (MySQL).
func (q *Query) runInsert(ctx context.Context, req Request) (*Result, error) {
	res := &Result{Kind: OpInsert, Single: req.Single, Instances: req.Instances}
	if len(req.Instances) == 0 {
		return q.finish(ctx, res)
	}

	m := q.model
	for _, inst := range req.Instances {
		if err := m.validate(ctx, inst.rec, false); err != nil {
			return nil, err
		}
		m.prepareInsert(ctx, inst.rec)
	}

	withIDs := 0
	for _, inst := range req.Instances {
		if inst.ID() != nil {
			withIDs++
		}
	}
	if withIDs != 0 && withIDs != len(req.Instances) {
		return nil, fmt.Errorf("orm: %s insert batch mixes records with and without ids", m.name)
	}
	includesPK := withIDs > 0

	rowsData := make([]map[string]any, len(req.Instances))
	present := make(map[string]bool)
	for i, inst := range req.Instances {
		rowsData[i] = m.ToStorage(inst.rec)
		for c := range rowsData[i] {
			present[c] = true
		}
	}
	pk := m.IDColumn()
	var columns []string
	for _, f := range m.fields {
		if !present[f.Column] || (f.Column == pk && !includesPK) {
			continue
		}
		columns = append(columns, f.Column)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("orm: %s insert has no columns", m.name)
	}

	var values []any
	for _, row := range rowsData {
		for _, c := range columns {
			values = append(values, row[c])
		}
	}

	query := q.rewrite(q.buildBatchInsert(columns, len(rowsData)))

	d := q.db.dialect()
	if !includesPK && d.UseReturning() {
		query += d.ReturningClause(pk)
		rows, err := q.db.QueryContext(ctx, query, values...)
		if err != nil {
			return nil, err //nolint:wrapcheck // pass through
		}
		defer func() { _ = rows.Close() }()
		i := 0
		for ; rows.Next(); i++ {
			var id any
			if err := rows.Scan(&id); err != nil {
				return nil, err //nolint:wrapcheck // pass through
			}
			if i < len(req.Instances) {
				req.Instances[i].Set(m.id, normalizeValue(id))
			}
		}
		if err := rows.Err(); err != nil {
			return nil, err //nolint:wrapcheck // pass through
		}
		res.RowsAffected = int64(i)
		return q.finish(ctx, res)
	}

	result, err := q.db.ExecContext(ctx, query, values...)
	if err != nil {
		return nil, err //nolint:wrapcheck // pass through
	}
	res.RowsAffected, _ = result.RowsAffected()

	if !includesPK {
		firstID, err := result.LastInsertId()
		if err != nil {
			return nil, err //nolint:wrapcheck // pass through
		}
		for i, inst := range req.Instances {
			inst.Set(m.id, firstID+int64(i))
		}
	}
	return q.finish(ctx, res)
}

func (q *Query) runUpdate(ctx context.Context, req Request) (*Result, error) {
	if len(req.Instances) != 1 {
		return nil, fmt.Errorf("orm: %v takes a single record", req.Kind)
	}
	inst := req.Instances[0]
	m := q.model

	if err := m.validate(ctx, inst.rec, req.Kind == OpPatch); err != nil {
		return nil, err
	}
	m.prepareUpdate(ctx, inst.rec)

	row := m.ToStorage(inst.rec)
	pk := m.IDColumn()
	pkVal := row[pk]
	delete(row, pk)

	var setCols []string
	var setVals []any
	for _, f := range m.fields {
		if v, ok := row[f.Column]; ok {
			setCols = append(setCols, f.Column)
			setVals = append(setVals, v)
		}
	}
	if len(setCols) == 0 {
		return nil, fmt.Errorf("orm: %v on %s has no fields to write", req.Kind, m.name)
	}

	target := q
	if len(q.wheres) == 0 {
		if pkVal == nil {
			return nil, fmt.Errorf("orm: %v without WHERE clause or id is not allowed", req.Kind)
		}
		target = q.Where(q.col(m.table, pk)+" = ?", pkVal)
	}

	affected, err := target.execUpdate(ctx, setCols, setVals)
	if err != nil {
		return nil, err
	}
	res := &Result{Kind: req.Kind, Single: true, Instances: req.Instances, RowsAffected: affected}
	return q.finish(ctx, res)
}

// execUpdate issues an UPDATE of the model's table restricted by the
// accumulated WHERE clauses.
func (q *Query) execUpdate(ctx context.Context, setCols []string, setVals []any) (int64, error) {
	query, args := q.buildUpdate(setCols, setVals)
	query = q.rewrite(query)

	result, err := q.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err //nolint:wrapcheck // pass through
	}
	n, _ := result.RowsAffected()
	return n, nil
}

func (q *Query) runDelete(ctx context.Context) (*Result, error) {
	if len(q.wheres) == 0 {
		return nil, errors.New("orm: Delete without WHERE clause is not allowed")
	}
	query, args := q.buildDelete()
	query = q.rewrite(query)

	result, err := q.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, err //nolint:wrapcheck // pass through
	}
	n, _ := result.RowsAffected()
	return &Result{Kind: OpDelete, RowsAffected: n}, nil
}

// --- SQL building ---

// qi quotes an identifier (table/column name) using the dialect.
func (q *Query) qi(name string) string {
	return q.db.dialect().QuoteIdent(name)
}

// col returns the quoted, table-qualified column.
func (q *Query) col(table, column string) string {
	return q.qi(table) + "." + q.qi(column)
}

// quoteColumns joins column names with dialect-aware quoting.
func (q *Query) quoteColumns(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = q.qi(c)
	}
	return strings.Join(quoted, ", ")
}

func (q *Query) buildSelect() (string, []any) {
	var b strings.Builder
	b.WriteString("SELECT ")

	if q.selects != nil {
		b.WriteString(*q.selects)
	} else {
		b.WriteString(q.qi(q.model.table) + ".*")
	}

	b.WriteString(" FROM ")
	b.WriteString(q.qi(q.model.table))

	for _, j := range q.joins {
		b.WriteByte(' ')
		b.WriteString(j)
	}

	args := q.appendWhere(&b)

	if len(q.orderBys) > 0 {
		b.WriteString(" ORDER BY ")
		b.WriteString(strings.Join(q.orderBys, ", "))
	}

	if q.limit != nil {
		fmt.Fprintf(&b, " LIMIT %d", *q.limit)
	}
	if q.offset != nil {
		fmt.Fprintf(&b, " OFFSET %d", *q.offset)
	}

	return b.String(), args
}

func (q *Query) buildCount() (string, []any) {
	var b strings.Builder
	b.WriteString("SELECT COUNT(*) FROM ")
	b.WriteString(q.qi(q.model.table))

	for _, j := range q.joins {
		b.WriteByte(' ')
		b.WriteString(j)
	}

	args := q.appendWhere(&b)
	return b.String(), args
}

func (q *Query) buildBatchInsert(columns []string, rowCount int) string {
	return buildInsert(q.qi, q.model.table, columns, rowCount)
}

func buildInsert(qi func(string) string, table string, columns []string, rowCount int) string {
	ph := make([]string, len(columns))
	for i := range ph {
		ph[i] = "?"
	}
	oneRow := "(" + strings.Join(ph, ", ") + ")"

	rows := make([]string, rowCount)
	for i := range rows {
		rows[i] = oneRow
	}

	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = qi(c)
	}

	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES %s",
		qi(table),
		strings.Join(quoted, ", "),
		strings.Join(rows, ", "),
	)
}

// buildUpdate renders nil values as NULL literals rather than binding them.
func (q *Query) buildUpdate(setCols []string, setVals []any) (string, []any) {
	var b strings.Builder
	b.WriteString("UPDATE ")
	b.WriteString(q.qi(q.model.table))
	b.WriteString(" SET ")

	var args []any
	for i, col := range setCols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(q.qi(col))
		if setVals[i] == nil {
			b.WriteString(" = NULL")
			continue
		}
		b.WriteString(" = ?")
		args = append(args, setVals[i])
	}

	args = append(args, q.appendWhere(&b)...)
	return b.String(), args
}

func (q *Query) buildDelete() (string, []any) {
	var b strings.Builder
	b.WriteString("DELETE FROM ")
	b.WriteString(q.qi(q.model.table))
	args := q.appendWhere(&b)
	return b.String(), args
}

func (q *Query) appendWhere(b *strings.Builder) []any {
	if len(q.wheres) == 0 {
		return nil
	}

	var args []any
	b.WriteString(" WHERE ")
	for i, w := range q.wheres {
		if i > 0 {
			b.WriteString(" AND ")
		}
		b.WriteString(w.clause)
		args = append(args, w.args...)
	}
	return args
}

// whereSQL renders the accumulated WHERE clauses joined by AND, without the
// WHERE keyword.
func (q *Query) whereSQL() (string, []any) {
	var b strings.Builder
	args := q.appendWhere(&b)
	return strings.TrimPrefix(b.String(), " WHERE "), args
}

// rewrite converts ? placeholders to dialect-specific placeholders.
func (q *Query) rewrite(query string) string {
	return rewritePlaceholders(q.db.dialect(), query)
}

func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
