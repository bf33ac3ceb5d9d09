// Package schema validates records against CUE definitions.
//
// Each model gets one definition, written as plain CUE:
//
//	#Person: {
//		id?:       int
//		firstName: string & !=""
//		parentId?: int | null
//	}
//
// A Validator implements orm.Validator. Inserts and updates are validated
// in complete mode, where every required field must be present and
// concrete; patches are validated in partial mode, where only the fields
// present are checked.
package schema

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"

	"github.com/lykmapipo/moron/orm"
)

// Validator holds the compiled definitions of registered models. Models
// without a definition always validate.
type Validator struct {
	// a cue.Context and its values are not safe for concurrent use
	mu   sync.Mutex
	ctx  *cue.Context
	defs map[string]cue.Value
}

var _ orm.Validator = (*Validator)(nil)

// New returns an empty Validator.
func New() *Validator {
	return &Validator{ctx: cuecontext.New(), defs: make(map[string]cue.Value)}
}

// Register compiles source and uses its #<model> definition for model. If
// source declares no such definition the whole value is used.
func (v *Validator) Register(model, source string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	val := v.ctx.CompileString(source, cue.Filename(model+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("schema: compile %s: %w", model, err)
	}
	def := val.LookupPath(cue.ParsePath("#" + model))
	if !def.Exists() {
		def = val
	}
	if err := def.Validate(); err != nil {
		return fmt.Errorf("schema: %s: %w", model, err)
	}
	v.defs[model] = def
	return nil
}

// Models returns the names of the models with a definition, sorted.
func (v *Validator) Models() []string {
	v.mu.Lock()
	defer v.mu.Unlock()

	names := make([]string, 0, len(v.defs))
	for name := range v.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate unifies rec with the definition of model. Failures are reported
// as *orm.ValidationError keyed by field path.
func (v *Validator) Validate(_ context.Context, model string, rec orm.Record, partial bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	def, ok := v.defs[model]
	if !ok {
		return nil
	}

	data := v.ctx.Encode(map[string]any(rec))
	if err := data.Err(); err != nil {
		return fmt.Errorf("schema: encode %s record: %w", model, err)
	}

	var opts []cue.Option
	if !partial {
		opts = append(opts, cue.Concrete(true))
	}
	if err := def.Unify(data).Validate(opts...); err != nil {
		return toValidationError(model, err)
	}
	return nil
}

func toValidationError(model string, err error) *orm.ValidationError {
	fields := make(map[string]string)
	for _, e := range errors.Errors(err) {
		field := fieldPath(e.Path())
		format, args := e.Msg()
		msg := fmt.Sprintf(format, args...)
		if prev, dup := fields[field]; dup {
			if strings.Contains(prev, msg) {
				continue
			}
			msg = prev + "; " + msg
		}
		fields[field] = msg
	}
	return &orm.ValidationError{Model: model, Fields: fields}
}

// fieldPath drops the definition label CUE puts in front of field paths.
func fieldPath(path []string) string {
	if len(path) > 0 && strings.HasPrefix(path[0], "#") {
		path = path[1:]
	}
	if len(path) == 0 {
		return "."
	}
	return strings.Join(path, ".")
}
