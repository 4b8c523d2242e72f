package schema

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"
)

//go:embed civic.cue
var civicCUE string

// CompileError is a schema error with its CUE source position, if known.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Default compiles the embedded civic graph schema.
func Default() (*Schema, error) {
	return CompileString(civicCUE, "civic.cue")
}

// MustDefault is like Default but panics on error.
// The embedded schema is covered by tests, so this only fails on a broken build.
func MustDefault() *Schema {
	s, err := Default()
	if err != nil {
		panic(err)
	}
	return s
}

// CompileString compiles CUE source text into a validated Schema.
func CompileString(src, filename string) (*Schema, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(src, cue.Filename(filename))
	return Compile(v)
}

// LoadDir loads every CUE file of the package in dir and compiles it.
func LoadDir(dir string) (*Schema, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("schema directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("schema directory: not a directory: %s", dir)
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, fmt.Errorf("no CUE instances in %s", dir)
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, formatCUEError(inst.Err)
	}

	ctx := cuecontext.New()
	return Compile(ctx.BuildInstance(inst))
}

// Compile extracts kinds, relations and actions from a CUE value and
// validates the result. All validation errors are returned joined.
func Compile(v cue.Value) (*Schema, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	s := &Schema{}
	var err error

	if s.Kinds, err = compileKinds(v.LookupPath(cue.ParsePath("kind"))); err != nil {
		return nil, err
	}
	if s.Relations, err = compileRelations(v.LookupPath(cue.ParsePath("relation"))); err != nil {
		return nil, err
	}
	if s.Actions, err = compileActions(v.LookupPath(cue.ParsePath("action"))); err != nil {
		return nil, err
	}

	if verrs := Validate(s); len(verrs) > 0 {
		msgs := make([]string, len(verrs))
		for i, ve := range verrs {
			msgs[i] = ve.Error()
		}
		return nil, fmt.Errorf("invalid schema: %s", strings.Join(msgs, "; "))
	}

	return s, nil
}

func compileKinds(v cue.Value) ([]KindSpec, error) {
	if !v.Exists() {
		return nil, &CompileError{Field: "kind", Message: "at least one kind is required"}
	}
	iter, err := v.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var kinds []KindSpec
	for iter.Next() {
		kv := iter.Value()
		k := KindSpec{Name: Kind(iter.Label())}

		if k.Endpoint, err = requiredString(kv, "endpoint"); err != nil {
			return nil, err
		}
		if k.OrderBy, err = optionalString(kv, "order_by"); err != nil {
			return nil, err
		}
		if k.Transient, err = optionalBool(kv, "transient"); err != nil {
			return nil, err
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

func compileRelations(v cue.Value) ([]Relation, error) {
	if !v.Exists() {
		return nil, nil
	}
	iter, err := v.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var rels []Relation
	for iter.Next() {
		rv := iter.Value()
		r := Relation{Name: iter.Label()}

		var owner, related, mult string
		if owner, err = requiredString(rv, "owner"); err != nil {
			return nil, err
		}
		if r.Key, err = requiredString(rv, "key"); err != nil {
			return nil, err
		}
		if related, err = requiredString(rv, "related"); err != nil {
			return nil, err
		}
		if r.ReverseKey, err = optionalString(rv, "reverse"); err != nil {
			return nil, err
		}
		if r.ForeignKey, err = optionalString(rv, "foreign_key"); err != nil {
			return nil, err
		}
		if r.IncludeInPayload, err = optionalBool(rv, "in_payload"); err != nil {
			return nil, err
		}
		if mult, err = requiredString(rv, "multiplicity"); err != nil {
			return nil, err
		}
		r.Owner = Kind(owner)
		r.Related = Kind(related)
		r.Multiplicity = Multiplicity(mult)
		rels = append(rels, r)
	}
	return rels, nil
}

func compileActions(v cue.Value) ([]Action, error) {
	if !v.Exists() {
		return nil, nil
	}
	iter, err := v.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var actions []Action
	for iter.Next() {
		av := iter.Value()
		a := Action{Name: iter.Label()}

		var subject, op string
		if a.Method, err = requiredString(av, "method"); err != nil {
			return nil, err
		}
		if a.Path, err = requiredString(av, "path"); err != nil {
			return nil, err
		}
		if subject, err = requiredString(av, "subject"); err != nil {
			return nil, err
		}
		if a.Relation, err = requiredString(av, "relation"); err != nil {
			return nil, err
		}
		if op, err = requiredString(av, "op"); err != nil {
			return nil, err
		}
		a.Subject = Kind(subject)
		a.Op = Op(op)
		actions = append(actions, a)
	}
	return actions, nil
}

func requiredString(v cue.Value, field string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return "", &CompileError{Field: field, Message: "is required", Pos: v.Pos()}
	}
	if d, ok := fv.Default(); ok {
		fv = d
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func optionalString(v cue.Value, field string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return "", nil
	}
	if d, ok := fv.Default(); ok {
		fv = d
	}
	if !fv.IsConcrete() {
		return "", nil
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func optionalBool(v cue.Value, field string) (bool, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return false, nil
	}
	if d, ok := fv.Default(); ok {
		fv = d
	}
	if !fv.IsConcrete() {
		return false, nil
	}
	b, err := fv.Bool()
	if err != nil {
		return false, formatCUEError(err)
	}
	return b, nil
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
