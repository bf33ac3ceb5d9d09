package orm

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNotFound is returned when a query expects exactly one row but finds none.
	ErrNotFound = errors.New("orm: not found")

	// ErrNoMapping is returned by relation operations invoked before the
	// relation's join columns were resolved.
	ErrNoMapping = errors.New("orm: relation mapping not resolved")

	// ErrNotRelational is returned when relate or unrelate runs on a query
	// that is not bound to a relation.
	ErrNotRelational = errors.New("orm: operation requires a relation-bound query")

	// ErrMultipleOwners is returned when insert or relate is bound to zero or
	// several owners instead of exactly one.
	ErrMultipleOwners = errors.New("orm: operation requires exactly one owner")

	// ErrMaxDepth is returned when an eager fetch needs more levels than
	// FetchOptions.MaxDepth allows.
	ErrMaxDepth = errors.New("orm: eager depth limit exceeded")

	// ErrRegistryBuilt is returned by Define after Build.
	ErrRegistryBuilt = errors.New("orm: registry already built")

	// ErrUnknownModel is returned when a registry lookup names an undefined model.
	ErrUnknownModel = errors.New("orm: unknown model")

	// ErrUnknownRelation matches every *RelationError.
	ErrUnknownRelation = errors.New("orm: unknown relation")

	// ErrValidation matches every *ValidationError.
	ErrValidation = errors.New("orm: validation failed")
)

// MappingError reports a relation whose declared join column does not exist
// on the model it points at.
type MappingError struct {
	Model    string
	Relation string
	Column   string
	Reason   string
}

func (e *MappingError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("orm: relation %s.%s: %s", e.Model, e.Relation, e.Reason)
	}
	return fmt.Sprintf("orm: relation %s.%s: column %q cannot be resolved to a field", e.Model, e.Relation, e.Column)
}

// RelationError reports a relation name that is not declared on a model.
type RelationError struct {
	Model    string
	Relation string
}

func (e *RelationError) Error() string {
	return fmt.Sprintf("orm: model %s has no relation %q", e.Model, e.Relation)
}

// Is reports whether target is ErrUnknownRelation.
func (e *RelationError) Is(target error) bool { return target == ErrUnknownRelation }

// ValidationError carries the offending field → message pairs produced by a
// Validator.
type ValidationError struct {
	Model  string
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + ": " + e.Fields[k]
	}
	return fmt.Sprintf("orm: %s validation failed: %s", e.Model, strings.Join(parts, "; "))
}

// Is reports whether target is ErrValidation.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }
