package shape

import (
	"fmt"

	"github.com/arbiterhq/arbiter/pkg/ast"
	"github.com/arbiterhq/arbiter/pkg/domain"
	"github.com/arbiterhq/arbiter/pkg/value"
)

// Primitive type names usable in fact and field declarations.
const (
	TypeTrinary  = "trinary"
	TypeNumber   = "number"
	TypeString   = "string"
	TypeDocument = "document"
)

// Validate checks a value against a type reference within this registry's
// scope. It distinguishes type mismatches, null-where-disallowed, and
// constraint violations per the error taxonomy.
func (r *Registry) Validate(v value.Value, t ast.TypeRef) error {
	return r.validate(v, t, "")
}

func (r *Registry) validate(v value.Value, t ast.TypeRef, path string) error {
	switch t.Kind {
	case ast.TypeNamed:
		return r.validateNamed(v, t.Name, path)
	case ast.TypeList:
		if v.Kind() != value.KindList {
			return mismatch(path, "list", v)
		}
		for i, e := range v.Elems() {
			if err := r.validate(e, t.Elems[0], fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
		return nil
	case ast.TypeMap:
		if v.Kind() != value.KindMap {
			return mismatch(path, "map", v)
		}
		for k, e := range v.Fields() {
			if err := r.validate(e, t.Elems[0], path+"."+k); err != nil {
				return err
			}
		}
		return nil
	case ast.TypeRecord:
		if v.Kind() != value.KindRecord {
			return mismatch(path, "record", v)
		}
		if len(v.Elems()) != len(t.Elems) {
			return fmt.Errorf("%s: record arity %d, want %d: %w",
				orRoot(path), len(v.Elems()), len(t.Elems), domain.ErrTypeMismatch)
		}
		for i, e := range v.Elems() {
			if err := r.validate(e, t.Elems[i], fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("%s: unknown type kind: %w", orRoot(path), domain.ErrTypeMismatch)
	}
}

func (r *Registry) validateNamed(v value.Value, name, path string) error {
	switch name {
	case TypeTrinary:
		if v.Kind() != value.KindTrinary {
			return mismatch(path, TypeTrinary, v)
		}
		return nil
	case TypeNumber:
		if v.Kind() != value.KindNumber {
			return mismatch(path, TypeNumber, v)
		}
		return nil
	case TypeString:
		if v.Kind() != value.KindString {
			return mismatch(path, TypeString, v)
		}
		return nil
	case TypeDocument:
		// Documents are opaque; any non-absent value passes.
		if v.IsUndefined() {
			return mismatch(path, TypeDocument, v)
		}
		return nil
	}

	compiled, ok := r.Lookup(name)
	if !ok {
		return fmt.Errorf("%s: shape %s: %w", orRoot(path), name, domain.ErrUnresolvedReference)
	}
	return r.validateShape(v, compiled, path)
}

// validateShape walks the flat field table. Per field: absent is an error
// only for required modes; present null is an error for required-non-null and
// optional modes; present non-null recurses into the field type and then runs
// constraints in declaration order, failing fast.
func (r *Registry) validateShape(v value.Value, c *Compiled, path string) error {
	if v.Kind() != value.KindMap && v.Kind() != value.KindDocument {
		return mismatch(path, c.Name, v)
	}

	for _, f := range c.Fields {
		fieldPath := joinPath(path, f.Name)
		fv, present := fieldValue(v, f.Name)

		if !present {
			if f.Mode == ast.FieldOptional {
				continue
			}
			return fmt.Errorf("%s: required field absent: %w", fieldPath, domain.ErrTypeMismatch)
		}

		if fv.IsNull() {
			if f.Mode == ast.FieldRequired {
				continue
			}
			return fmt.Errorf("%s: %w", fieldPath, domain.ErrNullFact)
		}

		if err := r.validate(fv, f.Type, fieldPath); err != nil {
			return err
		}

		for _, cons := range f.Constraints {
			ok, err := evalConstraint(cons, fv)
			if err != nil {
				return fmt.Errorf("%s: %w", fieldPath, err)
			}
			if !ok {
				return &domain.ConstraintError{
					Constraint: cons.Name,
					Args:       constraintArgs(cons),
					Value:      value.ToJSON(fv),
					Path:       fieldPath,
				}
			}
		}
	}
	return nil
}

// fieldValue reports a field's value and whether it is present at all.
// Absence and explicit null are different outcomes.
func fieldValue(v value.Value, name string) (value.Value, bool) {
	switch v.Kind() {
	case value.KindMap:
		fv, ok := v.Fields()[name]
		return fv, ok
	case value.KindDocument:
		if m, ok := v.Doc().(map[string]any); ok {
			raw, present := m[name]
			if !present {
				return value.Undefined, false
			}
			return value.FromJSON(raw), true
		}
		return value.Undefined, false
	default:
		return value.Undefined, false
	}
}

func constraintArgs(c CompiledConstraint) []any {
	args := make([]any, len(c.Args))
	for i, a := range c.Args {
		args[i] = value.ToJSON(a)
	}
	return args
}

func mismatch(path, want string, got value.Value) error {
	return fmt.Errorf("%s: want %s, got %s: %w", orRoot(path), want, got.Kind(), domain.ErrTypeMismatch)
}

func joinPath(path, field string) string {
	if path == "" {
		return field
	}
	return path + "." + field
}

func orRoot(path string) string {
	if path == "" {
		return "value"
	}
	return path
}
