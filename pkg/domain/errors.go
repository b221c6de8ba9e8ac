package domain

import (
	"errors"
	"fmt"
)

// Structural errors are raised at load/validation time and block the program
// from loading. Runtime errors abort only the current rule evaluation.
var (
	ErrMissingFact         = errors.New("missing required fact")
	ErrNullFact            = errors.New("fact bound to null")
	ErrTypeMismatch        = errors.New("type mismatch")
	ErrConstraintViolation = errors.New("constraint violation")
	ErrCast                = errors.New("cast failed")
	ErrDivisionByZero      = errors.New("division by zero")
	ErrUnresolvedReference = errors.New("unresolved reference")
	ErrCircularDependency  = errors.New("circular dependency")
	ErrSandboxViolation    = errors.New("sandbox violation")
	ErrDuplicateField      = errors.New("duplicate field")
)

// UserError is raised by the error(...) builtin and aborts the current rule.
type UserError struct {
	Message string
}

func (e *UserError) Error() string {
	return e.Message
}

// ConstraintError carries the failing constraint's name, its arguments, and
// the offending value for diagnostics.
type ConstraintError struct {
	Constraint string
	Args       []any
	Value      any
	Path       string
}

func (e *ConstraintError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("constraint %s%v violated at %s (got %v)", e.Constraint, e.Args, e.Path, e.Value)
	}
	return fmt.Sprintf("constraint %s%v violated (got %v)", e.Constraint, e.Args, e.Value)
}

func (e *ConstraintError) Unwrap() error {
	return ErrConstraintViolation
}

// LoadError decorates a structural error with the program location it was
// detected at.
type LoadError struct {
	Err       error
	Namespace string
	Policy    string
	Rule      string
}

func (e *LoadError) Error() string {
	loc := e.Namespace
	if e.Policy != "" {
		loc += "/" + e.Policy
	}
	if e.Rule != "" {
		loc += "#" + e.Rule
	}
	return fmt.Sprintf("%s: %v", loc, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}
