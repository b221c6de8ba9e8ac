package shape

import (
	"fmt"
	"regexp"
	"sync"

	"github.com/arbiterhq/arbiter/pkg/value"
)

// constraintFunc decides whether a field value satisfies a constraint. A
// returned error means the constraint itself is misapplied (wrong argument
// kinds), which surfaces as a validation error rather than a violation.
type constraintFunc func(v value.Value, args []value.Value) (bool, error)

var constraints = map[string]constraintFunc{
	"minLength": constraintMinLength,
	"maxLength": constraintMaxLength,
	"pattern":   constraintPattern,
	"min":       constraintMin,
	"max":       constraintMax,
	"oneOf":     constraintOneOf,
	"nonEmpty":  constraintNonEmpty,
}

func lookupConstraint(name string) (constraintFunc, bool) {
	fn, ok := constraints[name]
	return fn, ok
}

func evalConstraint(c CompiledConstraint, v value.Value) (bool, error) {
	fn, ok := lookupConstraint(c.Name)
	if !ok {
		return false, fmt.Errorf("unknown constraint %s", c.Name)
	}
	return fn(v, c.Args)
}

func lengthOf(v value.Value) (int, bool) {
	n := v.Len()
	return n, n >= 0
}

func oneNumberArg(name string, args []value.Value) (float64, error) {
	if len(args) != 1 || args[0].Kind() != value.KindNumber {
		return 0, fmt.Errorf("constraint %s expects one numeric argument", name)
	}
	return args[0].Num(), nil
}

func constraintMinLength(v value.Value, args []value.Value) (bool, error) {
	min, err := oneNumberArg("minLength", args)
	if err != nil {
		return false, err
	}
	n, ok := lengthOf(v)
	return ok && float64(n) >= min, nil
}

func constraintMaxLength(v value.Value, args []value.Value) (bool, error) {
	max, err := oneNumberArg("maxLength", args)
	if err != nil {
		return false, err
	}
	n, ok := lengthOf(v)
	return ok && float64(n) <= max, nil
}

// patternCache keeps compiled expressions; constraint arguments are constants
// so the cache is bounded by the program.
var patternCache sync.Map

func constraintPattern(v value.Value, args []value.Value) (bool, error) {
	if len(args) != 1 || args[0].Kind() != value.KindString {
		return false, fmt.Errorf("constraint pattern expects one string argument")
	}
	if v.Kind() != value.KindString {
		return false, nil
	}
	src := args[0].Str()
	cached, ok := patternCache.Load(src)
	if !ok {
		re, err := regexp.Compile(src)
		if err != nil {
			return false, fmt.Errorf("constraint pattern: %w", err)
		}
		cached, _ = patternCache.LoadOrStore(src, re)
	}
	return cached.(*regexp.Regexp).MatchString(v.Str()), nil
}

func constraintMin(v value.Value, args []value.Value) (bool, error) {
	min, err := oneNumberArg("min", args)
	if err != nil {
		return false, err
	}
	return v.Kind() == value.KindNumber && v.Num() >= min, nil
}

func constraintMax(v value.Value, args []value.Value) (bool, error) {
	max, err := oneNumberArg("max", args)
	if err != nil {
		return false, err
	}
	return v.Kind() == value.KindNumber && v.Num() <= max, nil
}

func constraintOneOf(v value.Value, args []value.Value) (bool, error) {
	for _, a := range args {
		if value.Equal(v, a) {
			return true, nil
		}
	}
	return false, nil
}

func constraintNonEmpty(v value.Value, args []value.Value) (bool, error) {
	if len(args) != 0 {
		return false, fmt.Errorf("constraint nonEmpty takes no arguments")
	}
	n, ok := lengthOf(v)
	return ok && n > 0, nil
}
