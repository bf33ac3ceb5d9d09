package orm

import (
	"context"
	"database/sql"
	"errors"
	"sync"
)

var errMockNotImplemented = errors.New("mock: not implemented")

// TestQuerier is a mock Querier that records executed queries.
// Exported for use in orm_test package.
type TestQuerier struct {
	D        Dialect
	LastID   int64 // returned by LastInsertId
	Affected int64 // returned by RowsAffected

	mu      sync.Mutex
	Queries []TestQuery
}

// TestQuery holds a captured query string and its args.
type TestQuery struct {
	SQL  string
	Args []any
}

// NewTestQuerier creates a TestQuerier with the given Dialect.
func NewTestQuerier(d Dialect) *TestQuerier {
	return &TestQuerier{D: d}
}

func (tq *TestQuerier) QueryContext(_ context.Context, query string, args ...any) (*sql.Rows, error) {
	tq.record(query, args)
	return nil, errMockNotImplemented
}

func (tq *TestQuerier) ExecContext(_ context.Context, query string, args ...any) (sql.Result, error) {
	tq.record(query, args)
	return testResult{lastID: tq.LastID, affected: tq.Affected}, nil
}

func (tq *TestQuerier) record(query string, args []any) {
	tq.mu.Lock()
	defer tq.mu.Unlock()
	tq.Queries = append(tq.Queries, TestQuery{query, args})
}

var _ Querier = (*TestQuerier)(nil)

// LastQuery returns the most recently captured query, or panics if empty.
func (tq *TestQuerier) LastQuery() TestQuery {
	tq.mu.Lock()
	defer tq.mu.Unlock()
	return tq.Queries[len(tq.Queries)-1]
}

func (tq *TestQuerier) dialect() Dialect { return tq.D }

type testResult struct {
	lastID   int64
	affected int64
}

func (r testResult) LastInsertId() (int64, error) { return r.lastID, nil }
func (r testResult) RowsAffected() (int64, error) { return r.affected, nil }

// SetMapping exposes setMapping to tests.
func (r *Relation) SetMapping() error { return r.setMapping() }

// Options exposes the effective fetch options to tests.
func (f *Fetcher) Options() FetchOptions { return f.opts }
