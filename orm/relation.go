package orm

import (
	"fmt"
	"strings"
)

// RelationKind is the variant of a Relation.
type RelationKind int

const (
	HasOne RelationKind = iota + 1
	HasMany
	ManyToMany
)

func (k RelationKind) String() string {
	switch k {
	case HasOne:
		return "has_one"
	case HasMany:
		return "has_many"
	case ManyToMany:
		return "many_to_many"
	}
	return fmt.Sprintf("RelationKind(%d)", int(k))
}

// ParseRelationKind parses "has_one", "has_many" or "many_to_many". The
// CamelCase spellings are accepted too.
func ParseRelationKind(s string) (RelationKind, error) {
	switch strings.ToLower(strings.ReplaceAll(s, "_", "")) {
	case "hasone":
		return HasOne, nil
	case "hasmany":
		return HasMany, nil
	case "manytomany":
		return ManyToMany, nil
	}
	return 0, fmt.Errorf("orm: unknown relation kind %q", s)
}

// Join links an owner column to a related column, each written as
// "table.column".
type Join struct {
	From string
	To   string
}

// Through names the bridge table of a ManyToMany relation. From is the
// bridge column pointing at the owner, To the one pointing at the related
// row, both written as "bridge.column".
type Through struct {
	From string
	To   string
}

// RelationDef declares a relation on a model.
type RelationDef struct {
	Name    string
	Kind    RelationKind
	Model   string // related model name
	Join    Join
	Through *Through
}

// Relation is one named association between an owner model and a related
// model. It is immutable once its mapping is resolved.
type Relation struct {
	name    string
	kind    RelationKind
	owner   *Model
	related *Model
	join    Join
	through *Through

	m *mapping
}

// mapping is the resolved form of the declared join.
type mapping struct {
	ownerCol    string
	ownerProp   string
	relatedCol  string
	relatedProp string

	bridgeTable string
	bridgeFrom  string
	bridgeTo    string
}

// NewRelation returns an unresolved relation. Registry.Build creates and
// resolves relations for defined models; operations on a relation that was
// never resolved fail with ErrNoMapping.
func NewRelation(def RelationDef, owner, related *Model) *Relation {
	r := &Relation{
		name:    def.Name,
		kind:    def.Kind,
		owner:   owner,
		related: related,
		join:    def.Join,
	}
	if def.Through != nil {
		t := *def.Through
		r.through = &t
	}
	return r
}

func (r *Relation) Name() string       { return r.name }
func (r *Relation) Kind() RelationKind { return r.kind }
func (r *Relation) Owner() *Model      { return r.owner }
func (r *Relation) Related() *Model    { return r.related }
func (r *Relation) Join() Join         { return r.join }
func (r *Relation) Through() *Through  { return r.through }
func (r *Relation) String() string     { return r.owner.name + "." + r.name }

// Mapped reports whether the join columns were resolved.
func (r *Relation) Mapped() bool { return r.m != nil }

// OwnerProp returns the owner field linked by the relation, or "" before
// the mapping is resolved.
func (r *Relation) OwnerProp() string {
	if r.m == nil {
		return ""
	}
	return r.m.ownerProp
}

// RelatedProp returns the related field linked by the relation, or ""
// before the mapping is resolved.
func (r *Relation) RelatedProp() string {
	if r.m == nil {
		return ""
	}
	return r.m.relatedProp
}

// Query returns a query over the related model bound to this relation and
// the given owner batch.
func (r *Relation) Query(db Querier, owners ...*Instance) *Query {
	return &Query{
		db:     db,
		model:  r.related,
		rel:    r,
		owners: append([]*Instance(nil), owners...),
	}
}

// setMapping resolves the declared join columns to instance fields. It may
// succeed only once.
func (r *Relation) setMapping() error {
	if r.m != nil {
		return fmt.Errorf("orm: relation %s is already mapped", r)
	}
	switch r.kind {
	case HasOne, HasMany, ManyToMany:
	default:
		return r.mappingErr("", fmt.Sprintf("invalid relation kind %v", r.kind))
	}

	m := &mapping{}
	var err error
	if m.ownerCol, m.ownerProp, err = r.resolve(r.owner, r.join.From); err != nil {
		return err
	}
	if m.relatedCol, m.relatedProp, err = r.resolve(r.related, r.join.To); err != nil {
		return err
	}

	switch {
	case r.kind == ManyToMany && r.through == nil:
		return r.mappingErr("", "many_to_many relation requires a through table")
	case r.kind != ManyToMany && r.through != nil:
		return r.mappingErr("", fmt.Sprintf("%v relation cannot have a through table", r.kind))
	case r.kind == ManyToMany:
		fromTable, fromCol := splitRef(r.through.From)
		toTable, toCol := splitRef(r.through.To)
		if fromTable == "" || fromCol == "" || toCol == "" {
			return r.mappingErr(r.through.From, "through columns must be written as bridge.column")
		}
		if toTable != "" && toTable != fromTable {
			return r.mappingErr(r.through.To, fmt.Sprintf("through columns reference different tables %q and %q", fromTable, toTable))
		}
		m.bridgeTable, m.bridgeFrom, m.bridgeTo = fromTable, fromCol, toCol
	}

	r.m = m
	return nil
}

// resolve maps a "table.column" reference onto a field of model.
func (r *Relation) resolve(model *Model, ref string) (column, field string, err error) {
	table, col := splitRef(ref)
	if col == "" {
		return "", "", r.mappingErr(ref, "join column is empty")
	}
	if table != "" && table != model.table {
		return "", "", r.mappingErr(ref, fmt.Sprintf("%q does not reference table %q", ref, model.table))
	}
	f, ok := model.Field(col)
	if !ok {
		return "", "", &MappingError{Model: r.owner.name, Relation: r.name, Column: ref}
	}
	return col, f, nil
}

func (r *Relation) mappingErr(col, reason string) error {
	return &MappingError{Model: r.owner.name, Relation: r.name, Column: col, Reason: reason}
}

// splitRef splits "table.column" at the last dot.
func splitRef(ref string) (table, column string) {
	ref = strings.TrimSpace(ref)
	if i := strings.LastIndexByte(ref, '.'); i >= 0 {
		return ref[:i], ref[i+1:]
	}
	return "", ref
}
