// Package scope provides immutable, reusable query fragments that can be
// applied to any orm.Query, plain or relation-bound.
//
//	adults := scope.Where("age >= ?", 18)
//	people, err := persons.Query(db).Scopes(adults, scope.Eager("pets")).Find(ctx)
package scope

import "strings"

// Applier is implemented by query builders to receive scope fragments.
// This interface lives in the scope package so that orm can import scope
// without creating circular dependencies.
type Applier interface {
	ApplyWhere(clause string, args []any)
	ApplyOrderBy(clause string)
	ApplyLimit(n int)
	ApplyOffset(n int)
	ApplySelect(columns string)
	ApplyEager(expression string)
}

type scopeKind int

const (
	kindWhere scopeKind = iota
	kindOrderBy
	kindLimit
	kindOffset
	kindSelect
	kindEager
)

// Scope represents a single query condition fragment.
// Scopes are immutable and safe to reuse across queries.
type Scope struct {
	kind   scopeKind
	clause string
	args   []any
	n      int
}

// Apply dispatches this Scope to the given Applier.
func (s Scope) Apply(a Applier) {
	switch s.kind {
	case kindWhere:
		a.ApplyWhere(s.clause, s.args)
	case kindOrderBy:
		a.ApplyOrderBy(s.clause)
	case kindLimit:
		a.ApplyLimit(s.n)
	case kindOffset:
		a.ApplyOffset(s.n)
	case kindSelect:
		a.ApplySelect(s.clause)
	case kindEager:
		a.ApplyEager(s.clause)
	}
}

// Where returns a Scope that adds a WHERE clause fragment. Fragments are
// combined with AND.
//
//	scope.Where("age > ?", 18)
//	scope.Where("name = ? AND role = ?", "alice", "admin")
func Where(clause string, args ...any) Scope {
	return Scope{kind: kindWhere, clause: clause, args: args}
}

// OrderBy returns a Scope that adds an ORDER BY term.
//
//	scope.OrderBy("created_at DESC")
func OrderBy(clause string) Scope {
	return Scope{kind: kindOrderBy, clause: clause}
}

// Limit returns a Scope that sets the LIMIT.
func Limit(n int) Scope {
	return Scope{kind: kindLimit, n: n}
}

// Offset returns a Scope that sets the OFFSET.
func Offset(n int) Scope {
	return Scope{kind: kindOffset, n: n}
}

// Select returns a Scope that overrides the SELECT column list.
//
//	scope.Select("id", "name")
func Select(columns ...string) Scope {
	return Scope{kind: kindSelect, clause: strings.Join(columns, ", ")}
}

// Eager returns a Scope that sets the eager expression fetched after a
// find. Malformed expressions fail the query's terminal method.
//
//	scope.Eager("[pets, children.^]")
func Eager(expression string) Scope {
	return Scope{kind: kindEager, clause: expression}
}

// In returns a WHERE scope with an IN clause, expanding the slice into
// individual placeholders. Duplicate values are dropped, keeping the
// first occurrence, so the list order is stable.
//
//	scope.In("id", []int{1, 2, 2, 3})  // → WHERE id IN (?, ?, ?)
func In[T comparable](column string, values []T) Scope {
	seen := make(map[T]struct{}, len(values))
	args := make([]any, 0, len(values))
	for _, v := range values {
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		args = append(args, v)
	}
	if len(args) == 0 {
		return Where("1 = 0")
	}
	return Where(column+" IN ("+repeatJoin("?", len(args))+")", args...)
}

// Paginate returns LIMIT/OFFSET scopes for a 1-based page number.
//
//	q.Scopes(scope.Paginate(3, 20)...) // LIMIT 20 OFFSET 40
func Paginate(page, perPage int) Scopes {
	if page < 1 {
		page = 1
	}
	return Combine(Limit(perPage), Offset((page-1)*perPage))
}

// Scopes is a named slice of Scope, useful for conditionally building
// up a set of scopes.
//
//	var s scope.Scopes
//	if onlyAdults {
//	    s = s.Append(Adults)
//	}
//	s = s.Append(scope.Paginate(page, perPage)...)
//	persons.Query(db).Scopes(s...).Find(ctx)
type Scopes []Scope

// Append adds scopes and returns a new Scopes. The receiver is not modified.
func (ss Scopes) Append(scopes ...Scope) Scopes {
	return append(append(Scopes(nil), ss...), scopes...)
}

// Merge concatenates two Scopes and returns a new Scopes.
// Neither receiver nor argument is modified.
func (ss Scopes) Merge(other Scopes) Scopes {
	return append(append(Scopes(nil), ss...), other...)
}

// Combine creates a Scopes from the given scopes.
//
//	scope.Combine(scope.Limit(10), scope.Offset(20))
func Combine(scopes ...Scope) Scopes {
	return Scopes(scopes)
}

func repeatJoin(s string, count int) string {
	if count <= 0 {
		return ""
	}
	parts := make([]string, count)
	for i := range parts {
		parts[i] = s
	}
	return strings.Join(parts, ", ")
}
