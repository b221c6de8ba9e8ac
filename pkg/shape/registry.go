// Package shape implements the structural type system: shape registration
// with with-composition flattening, the value validator, the constraint
// predicate library, and representational casts.
package shape

import (
	"fmt"

	"github.com/arbiterhq/arbiter/pkg/ast"
	"github.com/arbiterhq/arbiter/pkg/domain"
	"github.com/arbiterhq/arbiter/pkg/value"
)

// CompiledField is a shape field after composition flattening with its
// constraint arguments already materialized.
type CompiledField struct {
	Name        string
	Type        ast.TypeRef
	Mode        ast.FieldMode
	Constraints []CompiledConstraint
}

// CompiledConstraint is a constraint reference with constant arguments.
type CompiledConstraint struct {
	Name string
	Args []value.Value
}

// Compiled is a shape resolved to a flat field table. Composition is resolved
// once at registration; there is no delegation chain at validation time.
type Compiled struct {
	Name     string
	Exported bool
	Fields   []CompiledField
}

// Registry resolves shape names within one scope. A policy-level registry
// shadows its namespace registry through the parent chain. Registries are
// immutable after Build and safe for concurrent use.
type Registry struct {
	parent *Registry
	shapes map[string]*Compiled
}

// Build compiles a set of shape declarations into a registry, flattening
// with-composition, rejecting composition cycles and duplicate fields. Both
// are load-time errors; validation never sees an unflattened shape.
func Build(parent *Registry, shapes []ast.Shape) (*Registry, error) {
	reg := &Registry{parent: parent, shapes: make(map[string]*Compiled, len(shapes))}

	decls := make(map[string]ast.Shape, len(shapes))
	for _, s := range shapes {
		if _, dup := decls[s.Name]; dup {
			return nil, fmt.Errorf("shape %s declared twice: %w", s.Name, domain.ErrDuplicateField)
		}
		decls[s.Name] = s
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(decls))

	var compile func(name string) (*Compiled, error)
	compile = func(name string) (*Compiled, error) {
		if c, ok := reg.shapes[name]; ok {
			return c, nil
		}
		decl, ok := decls[name]
		if !ok {
			// Not declared in this scope; composition may reach into the
			// enclosing scope, which is already compiled and acyclic.
			if parent != nil {
				if c, ok := parent.Lookup(name); ok {
					return c, nil
				}
			}
			return nil, fmt.Errorf("shape %s: %w", name, domain.ErrUnresolvedReference)
		}

		switch state[name] {
		case visiting:
			return nil, fmt.Errorf("shape composition cycle through %s: %w", name, domain.ErrCircularDependency)
		case done:
			return reg.shapes[name], nil
		}
		state[name] = visiting

		compiled := &Compiled{Name: name, Exported: decl.Exported}
		seen := make(map[string]string)

		addField := func(origin string, f CompiledField) error {
			if prev, dup := seen[f.Name]; dup {
				return fmt.Errorf("shape %s: field %s from %s collides with %s: %w",
					name, f.Name, origin, prev, domain.ErrDuplicateField)
			}
			seen[f.Name] = origin
			compiled.Fields = append(compiled.Fields, f)
			return nil
		}

		for _, with := range decl.With {
			base, err := compile(with)
			if err != nil {
				return nil, err
			}
			for _, f := range base.Fields {
				if err := addField(with, f); err != nil {
					return nil, err
				}
			}
		}

		for _, f := range decl.Fields {
			cf, err := compileField(f)
			if err != nil {
				return nil, fmt.Errorf("shape %s: %w", name, err)
			}
			if err := addField(name, cf); err != nil {
				return nil, err
			}
		}

		state[name] = done
		reg.shapes[name] = compiled
		return compiled, nil
	}

	for _, s := range shapes {
		if _, err := compile(s.Name); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// compileField materializes constraint arguments. Constraint arguments must
// be literal constants; anything else is a load-time error.
func compileField(f ast.Field) (CompiledField, error) {
	cf := CompiledField{Name: f.Name, Type: f.Type, Mode: f.Mode}
	for _, c := range f.Constraints {
		cc := CompiledConstraint{Name: c.Name}
		if _, ok := lookupConstraint(c.Name); !ok {
			return cf, fmt.Errorf("field %s: constraint %s: %w", f.Name, c.Name, domain.ErrUnresolvedReference)
		}
		for _, arg := range c.Args {
			lit, ok := arg.(*ast.Literal)
			if !ok {
				return cf, fmt.Errorf("field %s: constraint %s: arguments must be constants", f.Name, c.Name)
			}
			cc.Args = append(cc.Args, lit.Value)
		}
		cf.Constraints = append(cf.Constraints, cc)
	}
	return cf, nil
}

// Lookup resolves a shape name through the scope chain.
func (r *Registry) Lookup(name string) (*Compiled, bool) {
	for reg := r; reg != nil; reg = reg.parent {
		if c, ok := reg.shapes[name]; ok {
			return c, true
		}
	}
	return nil, false
}

// Names lists the shapes compiled in this scope (excluding parents).
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.shapes))
	for name := range r.shapes {
		out = append(out, name)
	}
	return out
}
