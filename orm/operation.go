package orm

import (
	"fmt"
	"reflect"
)

// OpKind is the single operation a Request carries.
type OpKind int

const (
	OpFind OpKind = iota + 1
	OpInsert
	OpUpdate
	OpPatch
	OpDelete
	OpRelate
	OpUnrelate
)

func (k OpKind) String() string {
	switch k {
	case OpFind:
		return "find"
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpPatch:
		return "patch"
	case OpDelete:
		return "delete"
	case OpRelate:
		return "relate"
	case OpUnrelate:
		return "unrelate"
	}
	return fmt.Sprintf("OpKind(%d)", int(k))
}

// Request is one pending operation and its payload. It is built once by a
// terminal method of Query and matched exhaustively by the executor or by
// the bound relation.
type Request struct {
	Kind OpKind
	// Instances is the insert, update or patch payload.
	Instances []*Instance
	// IDs is the relate payload.
	IDs []any
	// Single records whether the caller passed a scalar rather than a slice,
	// so the result can be returned in the same shape.
	Single bool
}

// Result is the outcome of one executed Request.
type Result struct {
	Kind         OpKind
	Single       bool
	Instances    []*Instance
	IDs          []any
	RowsAffected int64
}

// Instance returns the first instance of the result, or nil.
func (r *Result) Instance() *Instance {
	if r == nil || len(r.Instances) == 0 {
		return nil
	}
	return r.Instances[0]
}

// Value returns the result in the shape of the request payload: a scalar
// (*Instance or id) when Single is set, a slice otherwise.
func (r *Result) Value() any {
	if r.Kind == OpRelate {
		if r.Single {
			if len(r.IDs) == 0 {
				return nil
			}
			return r.IDs[0]
		}
		return r.IDs
	}
	if r.Single {
		return r.Instance()
	}
	return r.Instances
}

// toInstances normalizes an insert/update/patch payload. Accepted payloads
// are *Instance, Record, map[string]any and slices of those.
func toInstances(m *Model, payload any) ([]*Instance, bool, error) {
	switch v := payload.(type) {
	case *Instance:
		if err := checkOwnModel(m, v); err != nil {
			return nil, false, err
		}
		return []*Instance{v}, true, nil
	case Record:
		return []*Instance{m.New(v)}, true, nil
	case map[string]any:
		return []*Instance{m.New(v)}, true, nil
	case []*Instance:
		for _, inst := range v {
			if err := checkOwnModel(m, inst); err != nil {
				return nil, false, err
			}
		}
		return append([]*Instance(nil), v...), false, nil
	case []Record:
		out := make([]*Instance, len(v))
		for i, rec := range v {
			out[i] = m.New(rec)
		}
		return out, false, nil
	case []map[string]any:
		out := make([]*Instance, len(v))
		for i, rec := range v {
			out[i] = m.New(rec)
		}
		return out, false, nil
	}
	return nil, false, fmt.Errorf("orm: unsupported payload type %T", payload)
}

func checkOwnModel(m *Model, inst *Instance) error {
	if inst == nil {
		return fmt.Errorf("orm: nil instance in %s payload", m.name)
	}
	if inst.model != m {
		return fmt.Errorf("orm: %s instance passed to a %s query", inst.model.name, m.name)
	}
	return nil
}

// toIDs normalizes a relate payload: one id or a slice of ids.
func toIDs(ids any) ([]any, bool) {
	if ids == nil {
		return nil, true
	}
	if v, ok := ids.([]any); ok {
		return append([]any(nil), v...), false
	}
	rv := reflect.ValueOf(ids)
	if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() != reflect.Uint8 {
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out, false
	}
	return []any{ids}, true
}
