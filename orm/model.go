package orm

import (
	"context"

	"github.com/google/uuid"

	"github.com/lykmapipo/moron/internal/naming"
)

// Record is a plain data record keyed by field name.
type Record map[string]any

// Field maps an instance field to its storage column.
type Field struct {
	Name   string
	Column string
}

// IDStrategy selects how ids are assigned to inserted rows.
type IDStrategy int

const (
	// IDStrategyAuto leaves id assignment to the database.
	IDStrategyAuto IDStrategy = iota
	// IDStrategyUUID generates a random UUID before insert when the record
	// has no id.
	IDStrategyUUID
)

// Validator validates a record before it is written. partial is true for
// patch operations, where missing required fields are not errors.
// Implementations report field failures as *ValidationError.
type Validator interface {
	Validate(ctx context.Context, model string, rec Record, partial bool) error
}

// ModelDef declares a model for Registry.Define.
type ModelDef struct {
	Name string
	// Table defaults to the plural snake_case form of Name.
	Table string
	// ID is the identifying field, "id" when empty.
	ID string
	// Fields lists the persisted fields. A field without a Column uses the
	// snake_case form of its name.
	Fields     []Field
	IDStrategy IDStrategy
	// CreatedAt and UpdatedAt name optional timestamp fields.
	CreatedAt string
	UpdatedAt string
	Validator Validator
	Relations []RelationDef
}

// Model is a model class: table identity, field ↔ column translation and
// the relations declared on it. Models are created by a Registry and are
// read-only once the registry is built.
type Model struct {
	name      string
	table     string
	id        string
	fields    []Field
	toColumn  map[string]string
	toField   map[string]string
	strategy  IDStrategy
	createdAt string
	updatedAt string
	validator Validator

	defs      []RelationDef
	relations []*Relation
	byName    map[string]*Relation
}

func newModel(def ModelDef) *Model {
	m := &Model{
		name:      def.Name,
		table:     def.Table,
		id:        def.ID,
		strategy:  def.IDStrategy,
		createdAt: def.CreatedAt,
		updatedAt: def.UpdatedAt,
		validator: def.Validator,
		defs:      append([]RelationDef(nil), def.Relations...),
		toColumn:  make(map[string]string),
		toField:   make(map[string]string),
		byName:    make(map[string]*Relation),
	}
	if m.table == "" {
		m.table = naming.TableName(def.Name)
	}
	if m.id == "" {
		m.id = "id"
	}

	idField := Field{Name: m.id}
	for _, f := range def.Fields {
		if f.Name == m.id {
			idField = f
		}
	}
	m.addField(idField)
	for _, f := range def.Fields {
		m.addField(f)
	}
	if m.createdAt != "" {
		m.addField(Field{Name: m.createdAt})
	}
	if m.updatedAt != "" {
		m.addField(Field{Name: m.updatedAt})
	}
	return m
}

func (m *Model) addField(f Field) {
	if _, ok := m.toColumn[f.Name]; ok {
		return
	}
	if f.Column == "" {
		f.Column = naming.CamelToSnake(f.Name)
	}
	m.fields = append(m.fields, f)
	m.toColumn[f.Name] = f.Column
	m.toField[f.Column] = f.Name
}

func (m *Model) Name() string  { return m.name }
func (m *Model) Table() string { return m.table }

// IDField returns the name of the identifying field.
func (m *Model) IDField() string { return m.id }

// IDColumn returns the storage column of the identifying field.
func (m *Model) IDColumn() string { return m.toColumn[m.id] }

// Fields returns the persisted fields in declaration order, id first.
func (m *Model) Fields() []Field {
	return append([]Field(nil), m.fields...)
}

// Column returns the storage column for a field.
func (m *Model) Column(field string) (string, bool) {
	c, ok := m.toColumn[field]
	return c, ok
}

// Field returns the field stored in a column.
func (m *Model) Field(column string) (string, bool) {
	f, ok := m.toField[column]
	return f, ok
}

// ToInternal converts a raw row keyed by column into a Record keyed by field.
// Columns the model does not know are kept under their column name; byte
// slices are converted to strings.
func (m *Model) ToInternal(row map[string]any) Record {
	rec := make(Record, len(row))
	for col, v := range row {
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		if f, ok := m.toField[col]; ok {
			rec[f] = v
		} else {
			rec[col] = v
		}
	}
	return rec
}

// ToStorage converts a Record into a row keyed by column. Only persisted
// fields are written; relation names and other unknown keys are dropped.
func (m *Model) ToStorage(rec Record) map[string]any {
	row := make(map[string]any, len(rec))
	for _, f := range m.fields {
		if v, ok := rec[f.Name]; ok {
			row[f.Column] = v
		}
	}
	return row
}

// Relations returns the declared relations in declaration order.
func (m *Model) Relations() []*Relation {
	return append([]*Relation(nil), m.relations...)
}

// Relation returns the named relation or a *RelationError.
func (m *Model) Relation(name string) (*Relation, error) {
	if r, ok := m.byName[name]; ok {
		return r, nil
	}
	return nil, &RelationError{Model: m.name, Relation: name}
}

// New wraps rec in an Instance of m. rec is used as is, not copied.
func (m *Model) New(rec Record) *Instance {
	if rec == nil {
		rec = Record{}
	}
	return &Instance{model: m, rec: rec}
}

// Query returns a plain query over the model's table.
func (m *Model) Query(db Querier) *Query {
	return &Query{db: db, model: m}
}

// RelatedQuery returns a query bound to the named relation and the given
// owner batch. Unknown relation names surface from the terminal method.
func (m *Model) RelatedQuery(name string, db Querier, owners ...*Instance) *Query {
	r, err := m.Relation(name)
	if err != nil {
		return &Query{db: db, model: m, err: err}
	}
	return r.Query(db, owners...)
}

// prepareInsert assigns generated ids and creation timestamps.
func (m *Model) prepareInsert(ctx context.Context, rec Record) {
	if m.strategy == IDStrategyUUID && rec[m.id] == nil {
		rec[m.id] = uuid.NewString()
	}
	t := now(ctx)
	if m.createdAt != "" && rec[m.createdAt] == nil {
		rec[m.createdAt] = t
	}
	if m.updatedAt != "" && rec[m.updatedAt] == nil {
		rec[m.updatedAt] = t
	}
}

// prepareUpdate refreshes the update timestamp.
func (m *Model) prepareUpdate(ctx context.Context, rec Record) {
	if m.updatedAt != "" {
		rec[m.updatedAt] = now(ctx)
	}
}

func (m *Model) validate(ctx context.Context, rec Record, partial bool) error {
	if m.validator == nil {
		return nil
	}
	return m.validator.Validate(ctx, m.name, rec, partial)
}
