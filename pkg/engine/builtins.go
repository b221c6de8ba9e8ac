package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/arbiterhq/arbiter/pkg/ast"
	"github.com/arbiterhq/arbiter/pkg/domain"
	"github.com/arbiterhq/arbiter/pkg/engine/memo"
	"github.com/arbiterhq/arbiter/pkg/value"
)

// builtinNames gates dispatch: a call with an empty module is a builtin, and
// unknown builtins are unresolved references. Collection operators take their
// lambda arguments unevaluated and are dispatched before argument evaluation.
var collectionBuiltins = map[string]struct{}{
	"filter":   {},
	"map":      {},
	"reduce":   {},
	"distinct": {},
	"any":      {},
	"all":      {},
	"first":    {},
}

func (ec *Context) evalCall(ctx context.Context, n *ast.Call, sc *scope) (value.Value, error) {
	if n.Module == "" {
		if _, ok := collectionBuiltins[n.Name]; ok {
			return ec.evalCollectionOp(ctx, n, sc)
		}
		switch n.Name {
		case "count":
			return ec.evalCount(ctx, n, sc)
		case "error":
			return ec.evalErrorBuiltin(ctx, n, sc)
		default:
			return value.Undefined, fmt.Errorf("function %s: %w", n.Name, domain.ErrUnresolvedReference)
		}
	}

	fn, ok := ec.binder.Resolve(n.Module, n.Name)
	if !ok {
		return value.Undefined, fmt.Errorf("function %s.%s: %w", n.Module, n.Name, domain.ErrUnresolvedReference)
	}

	args := make([]value.Value, len(n.Args))
	for i, a := range n.Args {
		v, err := ec.evalExpr(ctx, a, sc)
		if err != nil {
			return value.Undefined, err
		}
		args[i] = v
	}

	// Only host calls are worth caching; builtins accept the memo annotation
	// as a no-op.
	if n.Memo != nil && ec.cache != nil {
		key := memo.Key(n.Module, n.Name, args)
		if cached, hit := ec.cache.Get(key); hit {
			return cached, nil
		}
		out, err := fn(ctx, args)
		if err != nil {
			return value.Undefined, err
		}
		ec.cache.Set(key, out, time.Duration(n.Memo.TTLSeconds)*time.Second)
		return out, nil
	}

	return fn(ctx, args)
}

// evalCount returns element count for lists, maps and records, and character
// count for strings. Other kinds yield Undefined rather than failing.
func (ec *Context) evalCount(ctx context.Context, n *ast.Call, sc *scope) (value.Value, error) {
	if len(n.Args) != 1 {
		return value.Undefined, fmt.Errorf("count expects one argument, got %d", len(n.Args))
	}
	v, err := ec.evalExpr(ctx, n.Args[0], sc)
	if err != nil {
		return value.Undefined, err
	}
	if l := v.Len(); l >= 0 {
		return value.Number(float64(l)), nil
	}
	return value.Undefined, nil
}

// evalErrorBuiltin aborts the current rule with a UserError. The first
// argument is a format string; remaining arguments interpolate as %v.
func (ec *Context) evalErrorBuiltin(ctx context.Context, n *ast.Call, sc *scope) (value.Value, error) {
	if len(n.Args) == 0 {
		return value.Undefined, &domain.UserError{Message: "error"}
	}
	first, err := ec.evalExpr(ctx, n.Args[0], sc)
	if err != nil {
		return value.Undefined, err
	}
	format := first.Str()
	if first.Kind() != value.KindString {
		format = first.String()
	}
	rest := make([]any, 0, len(n.Args)-1)
	for _, a := range n.Args[1:] {
		v, err := ec.evalExpr(ctx, a, sc)
		if err != nil {
			return value.Undefined, err
		}
		rest = append(rest, value.ToJSON(v))
	}
	if len(rest) > 0 {
		format = fmt.Sprintf(format, rest...)
	}
	return value.Undefined, &domain.UserError{Message: format}
}
