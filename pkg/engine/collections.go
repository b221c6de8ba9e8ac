package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/arbiterhq/arbiter/pkg/ast"
	"github.com/arbiterhq/arbiter/pkg/value"
)

// Collection operators are pure: predicates and transforms receive
// (element, index), or (value, key) over maps, and may not mutate anything.
// Map iteration is in sorted key order so results are deterministic.

type item struct {
	elem value.Value
	idx  value.Value
}

func collectionItems(v value.Value) ([]item, bool) {
	switch v.Kind() {
	case value.KindList, value.KindRecord:
		items := make([]item, len(v.Elems()))
		for i, e := range v.Elems() {
			items[i] = item{elem: e, idx: value.Number(float64(i))}
		}
		return items, true
	case value.KindMap:
		fields := v.Fields()
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		items := make([]item, len(keys))
		for i, k := range keys {
			items[i] = item{elem: fields[k], idx: value.String(k)}
		}
		return items, true
	default:
		return nil, false
	}
}

// applyLambda invokes a block with positional arguments, binding only as many
// parameters as the block declares.
func (ec *Context) applyLambda(ctx context.Context, fn *ast.Lambda, sc *scope, args ...value.Value) (value.Value, error) {
	frame := sc.childOrRoot()
	for i, p := range fn.Params {
		if i < len(args) {
			frame.bind(p, args[i])
		} else {
			frame.bind(p, value.Undefined)
		}
	}
	return ec.evalExpr(ctx, fn.Body, frame)
}

func lambdaArg(n *ast.Call, pos int) (*ast.Lambda, error) {
	if pos >= len(n.Args) {
		return nil, fmt.Errorf("%s expects a block argument", n.Name)
	}
	fn, ok := n.Args[pos].(*ast.Lambda)
	if !ok {
		return nil, fmt.Errorf("%s expects a block argument, got %T", n.Name, n.Args[pos])
	}
	return fn, nil
}

func (ec *Context) evalCollectionOp(ctx context.Context, n *ast.Call, sc *scope) (value.Value, error) {
	if len(n.Args) == 0 {
		return value.Undefined, fmt.Errorf("%s expects a collection argument", n.Name)
	}
	input, err := ec.evalExpr(ctx, n.Args[0], sc)
	if err != nil {
		return value.Undefined, err
	}

	switch n.Name {
	case "filter":
		return ec.opFilter(ctx, n, sc, input)
	case "map":
		return ec.opMap(ctx, n, sc, input)
	case "reduce":
		return ec.opReduce(ctx, n, sc, input)
	case "distinct":
		return ec.opDistinct(ctx, n, sc, input)
	case "any", "all":
		return ec.opAnyAll(ctx, n, sc, input)
	case "first":
		return ec.opFirst(ctx, n, sc, input)
	default:
		return value.Undefined, fmt.Errorf("unknown collection operator %s", n.Name)
	}
}

// opFilter keeps elements whose predicate coerces truthy, preserving order.
// Filtering a map keeps the surviving keys.
func (ec *Context) opFilter(ctx context.Context, n *ast.Call, sc *scope, input value.Value) (value.Value, error) {
	pred, err := lambdaArg(n, 1)
	if err != nil {
		return value.Undefined, err
	}
	items, ok := collectionItems(input)
	if !ok {
		return value.Undefined, nil
	}

	if input.Kind() == value.KindMap {
		kept := map[string]value.Value{}
		for _, it := range items {
			if err := checkContext(ctx); err != nil {
				return value.Undefined, err
			}
			keep, err := ec.applyLambda(ctx, pred, sc, it.elem, it.idx)
			if err != nil {
				return value.Undefined, err
			}
			if value.Truthy(keep) == value.True {
				kept[it.idx.Str()] = it.elem
			}
		}
		return value.Map(kept), nil
	}

	kept := make([]value.Value, 0, len(items))
	for _, it := range items {
		if err := checkContext(ctx); err != nil {
			return value.Undefined, err
		}
		keep, err := ec.applyLambda(ctx, pred, sc, it.elem, it.idx)
		if err != nil {
			return value.Undefined, err
		}
		if value.Truthy(keep) == value.True {
			kept = append(kept, it.elem)
		}
	}
	return value.List(kept...), nil
}

// opMap transforms each element 1:1. Mapping over a map keeps keys.
func (ec *Context) opMap(ctx context.Context, n *ast.Call, sc *scope, input value.Value) (value.Value, error) {
	fn, err := lambdaArg(n, 1)
	if err != nil {
		return value.Undefined, err
	}
	items, ok := collectionItems(input)
	if !ok {
		return value.Undefined, nil
	}

	if input.Kind() == value.KindMap {
		out := make(map[string]value.Value, len(items))
		for _, it := range items {
			mapped, err := ec.applyLambda(ctx, fn, sc, it.elem, it.idx)
			if err != nil {
				return value.Undefined, err
			}
			out[it.idx.Str()] = mapped
		}
		return value.Map(out), nil
	}

	out := make([]value.Value, len(items))
	for i, it := range items {
		mapped, err := ec.applyLambda(ctx, fn, sc, it.elem, it.idx)
		if err != nil {
			return value.Undefined, err
		}
		out[i] = mapped
	}
	return value.List(out...), nil
}

// opReduce threads an accumulator left to right from an explicit initial
// value. The block receives (accumulator, element, index).
func (ec *Context) opReduce(ctx context.Context, n *ast.Call, sc *scope, input value.Value) (value.Value, error) {
	if len(n.Args) != 3 {
		return value.Undefined, fmt.Errorf("reduce expects (collection, initial, block)")
	}
	acc, err := ec.evalExpr(ctx, n.Args[1], sc)
	if err != nil {
		return value.Undefined, err
	}
	fn, err := lambdaArg(n, 2)
	if err != nil {
		return value.Undefined, err
	}
	items, ok := collectionItems(input)
	if !ok {
		return value.Undefined, nil
	}
	for _, it := range items {
		if err := checkContext(ctx); err != nil {
			return value.Undefined, err
		}
		acc, err = ec.applyLambda(ctx, fn, sc, acc, it.elem, it.idx)
		if err != nil {
			return value.Undefined, err
		}
	}
	return acc, nil
}

// opDistinct drops a later element when the equality block holds against any
// earlier survivor. Pairwise, not hash-based: the predicate is arbitrary.
func (ec *Context) opDistinct(ctx context.Context, n *ast.Call, sc *scope, input value.Value) (value.Value, error) {
	eq, err := lambdaArg(n, 1)
	if err != nil {
		return value.Undefined, err
	}
	items, ok := collectionItems(input)
	if !ok || input.Kind() == value.KindMap {
		// Map keys are unique already.
		return input, nil
	}

	var survivors []value.Value
	for _, it := range items {
		dup := false
		for _, s := range survivors {
			if err := checkContext(ctx); err != nil {
				return value.Undefined, err
			}
			same, err := ec.applyLambda(ctx, eq, sc, s, it.elem)
			if err != nil {
				return value.Undefined, err
			}
			if value.Truthy(same) == value.True {
				dup = true
				break
			}
		}
		if !dup {
			survivors = append(survivors, it.elem)
		}
	}
	return value.List(survivors...), nil
}

// opAnyAll folds the predicate through the Kleene tables, stopping at the
// first determining element: a True for any, a False for all.
func (ec *Context) opAnyAll(ctx context.Context, n *ast.Call, sc *scope, input value.Value) (value.Value, error) {
	pred, err := lambdaArg(n, 1)
	if err != nil {
		return value.Undefined, err
	}
	items, ok := collectionItems(input)
	if !ok {
		return value.Undefined, nil
	}

	if n.Name == "any" {
		acc := value.False
		for _, it := range items {
			got, err := ec.applyLambda(ctx, pred, sc, it.elem, it.idx)
			if err != nil {
				return value.Undefined, err
			}
			t := value.Truthy(got)
			if t == value.True {
				return value.TrueValue, nil
			}
			acc = acc.Or(t)
		}
		return value.Of(acc), nil
	}

	acc := value.True
	for _, it := range items {
		got, err := ec.applyLambda(ctx, pred, sc, it.elem, it.idx)
		if err != nil {
			return value.Undefined, err
		}
		t := value.Truthy(got)
		if t == value.False {
			return value.FalseValue, nil
		}
		acc = acc.And(t)
	}
	return value.Of(acc), nil
}

// opFirst returns the first element whose predicate coerces truthy, or the
// Undefined absence marker when nothing matches. The sentinel is not the
// Unknown trinary; downstream truthiness treats it as Unknown but equality
// and member access see plain absence.
func (ec *Context) opFirst(ctx context.Context, n *ast.Call, sc *scope, input value.Value) (value.Value, error) {
	pred, err := lambdaArg(n, 1)
	if err != nil {
		return value.Undefined, err
	}
	items, ok := collectionItems(input)
	if !ok {
		return value.Undefined, nil
	}
	for _, it := range items {
		if err := checkContext(ctx); err != nil {
			return value.Undefined, err
		}
		got, err := ec.applyLambda(ctx, pred, sc, it.elem, it.idx)
		if err != nil {
			return value.Undefined, err
		}
		if value.Truthy(got) == value.True {
			return it.elem, nil
		}
	}
	return value.Undefined, nil
}
