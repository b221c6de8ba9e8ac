package engine

import (
	"context"
	"fmt"
	"math"

	"github.com/arbiterhq/arbiter/pkg/ast"
	"github.com/arbiterhq/arbiter/pkg/domain"
	"github.com/arbiterhq/arbiter/pkg/value"
)

// checkContext aborts evaluation when the request is cancelled. Checked on
// every node so a runaway expression cannot outlive its request.
func checkContext(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// evalExpr walks an expression tree with exhaustive dispatch on node kind.
// Operators are total over the value union; the only runtime errors are the
// documented ones (division by zero, cast failure, error(), unresolved
// identifiers and functions).
func (ec *Context) evalExpr(ctx context.Context, e ast.Expr, sc *scope) (value.Value, error) {
	if err := checkContext(ctx); err != nil {
		return value.Undefined, err
	}

	switch n := e.(type) {
	case *ast.Literal:
		return n.Value, nil

	case *ast.Ident:
		return ec.resolveIdent(ctx, n.Name, sc)

	case *ast.Member:
		base, err := ec.evalExpr(ctx, n.Base, sc)
		if err != nil {
			return value.Undefined, err
		}
		// Absence propagates through member chains.
		if base.IsUndefined() {
			return value.Undefined, nil
		}
		return base.Field(n.Name)

	case *ast.Index:
		return ec.evalIndex(ctx, n, sc)

	case *ast.Unary:
		x, err := ec.evalExpr(ctx, n.X, sc)
		if err != nil {
			return value.Undefined, err
		}
		switch n.Op {
		case ast.OpNot:
			return value.Of(value.Truthy(x).Not()), nil
		case ast.OpNeg:
			if x.Kind() != value.KindNumber {
				return value.Undefined, nil
			}
			return value.Number(-x.Num()), nil
		default:
			return value.Undefined, fmt.Errorf("unknown unary operator %d", n.Op)
		}

	case *ast.Binary:
		return ec.evalBinary(ctx, n, sc)

	case *ast.Ternary:
		cond, err := ec.evalExpr(ctx, n.Cond, sc)
		if err != nil {
			return value.Undefined, err
		}
		switch value.Truthy(cond) {
		case value.True:
			return ec.evalExpr(ctx, n.Then, sc)
		case value.False:
			return ec.evalExpr(ctx, n.Else, sc)
		default:
			// An indeterminate condition selects neither branch.
			return value.UnknownValue, nil
		}

	case *ast.Elvis:
		left, err := ec.evalExpr(ctx, n.Left, sc)
		if err != nil {
			return value.Undefined, err
		}
		if value.Truthy(left) == value.True {
			return left, nil
		}
		return ec.evalExpr(ctx, n.Right, sc)

	case *ast.Cast:
		x, err := ec.evalExpr(ctx, n.X, sc)
		if err != nil {
			return value.Undefined, err
		}
		return ec.policy.shapes.Cast(x, n.Type)

	case *ast.Call:
		return ec.evalCall(ctx, n, sc)

	case *ast.Lambda:
		return value.Undefined, fmt.Errorf("lambda outside a collection operator")

	case *ast.Block:
		inner := sc.childOrRoot()
		for _, l := range n.Lets {
			lv, err := ec.evalExpr(ctx, l.Expr, inner)
			if err != nil {
				return value.Undefined, err
			}
			inner.bind(l.Name, lv)
		}
		return ec.evalExpr(ctx, n.Result, inner)

	default:
		return value.Undefined, fmt.Errorf("unknown expression node %T", e)
	}
}

// childOrRoot opens a fresh frame, tolerating a nil receiver at the root.
func (s *scope) childOrRoot() *scope {
	if s == nil {
		return &scope{vars: map[string]value.Value{}}
	}
	return s.child()
}

func (ec *Context) evalIndex(ctx context.Context, n *ast.Index, sc *scope) (value.Value, error) {
	base, err := ec.evalExpr(ctx, n.Base, sc)
	if err != nil {
		return value.Undefined, err
	}
	key, err := ec.evalExpr(ctx, n.Key, sc)
	if err != nil {
		return value.Undefined, err
	}

	switch base.Kind() {
	case value.KindMap, value.KindDocument, value.KindDecision:
		if key.Kind() != value.KindString {
			return value.Undefined, nil
		}
		return base.Field(key.Str())
	case value.KindList, value.KindRecord:
		if key.Kind() != value.KindNumber {
			return value.Undefined, nil
		}
		idx := int(key.Num())
		elems := base.Elems()
		if float64(idx) != key.Num() || idx < 0 || idx >= len(elems) {
			return value.Undefined, nil
		}
		return elems[idx], nil
	case value.KindString:
		if key.Kind() != value.KindNumber {
			return value.Undefined, nil
		}
		runes := []rune(base.Str())
		idx := int(key.Num())
		if float64(idx) != key.Num() || idx < 0 || idx >= len(runes) {
			return value.Undefined, nil
		}
		return value.String(string(runes[idx])), nil
	default:
		return value.Undefined, nil
	}
}

func (ec *Context) evalBinary(ctx context.Context, n *ast.Binary, sc *scope) (value.Value, error) {
	// Boolean operators short-circuit: the right operand may call error() or
	// an expensive host function and must not run when the left already
	// determines the result.
	switch n.Op {
	case ast.OpAnd:
		left, err := ec.evalExpr(ctx, n.Left, sc)
		if err != nil {
			return value.Undefined, err
		}
		lt := value.Truthy(left)
		if lt == value.False {
			return value.FalseValue, nil
		}
		right, err := ec.evalExpr(ctx, n.Right, sc)
		if err != nil {
			return value.Undefined, err
		}
		return value.Of(lt.And(value.Truthy(right))), nil
	case ast.OpOr:
		left, err := ec.evalExpr(ctx, n.Left, sc)
		if err != nil {
			return value.Undefined, err
		}
		lt := value.Truthy(left)
		if lt == value.True {
			return value.TrueValue, nil
		}
		right, err := ec.evalExpr(ctx, n.Right, sc)
		if err != nil {
			return value.Undefined, err
		}
		return value.Of(lt.Or(value.Truthy(right))), nil
	}

	left, err := ec.evalExpr(ctx, n.Left, sc)
	if err != nil {
		return value.Undefined, err
	}
	right, err := ec.evalExpr(ctx, n.Right, sc)
	if err != nil {
		return value.Undefined, err
	}

	switch n.Op {
	case ast.OpEq:
		return value.Bool(value.Equal(left, right)), nil
	case ast.OpNeq:
		return value.Bool(!value.Equal(left, right)), nil
	case ast.OpLt, ast.OpLte, ast.OpGt, ast.OpGte:
		ord := value.Compare(left, right)
		if ord == value.Unordered {
			return value.UnknownValue, nil
		}
		switch n.Op {
		case ast.OpLt:
			return value.Bool(ord == value.OrderedLess), nil
		case ast.OpLte:
			return value.Bool(ord != value.OrderedGreater), nil
		case ast.OpGt:
			return value.Bool(ord == value.OrderedGreater), nil
		default:
			return value.Bool(ord != value.OrderedLess), nil
		}
	case ast.OpAdd:
		if left.Kind() == value.KindString && right.Kind() == value.KindString {
			return value.String(left.Str() + right.Str()), nil
		}
		return arith(left, right, func(a, b float64) float64 { return a + b })
	case ast.OpSub:
		return arith(left, right, func(a, b float64) float64 { return a - b })
	case ast.OpMul:
		return arith(left, right, func(a, b float64) float64 { return a * b })
	case ast.OpDiv:
		if bothNumbers(left, right) && right.Num() == 0 {
			return value.Undefined, domain.ErrDivisionByZero
		}
		return arith(left, right, func(a, b float64) float64 { return a / b })
	case ast.OpMod:
		if bothNumbers(left, right) && right.Num() == 0 {
			return value.Undefined, domain.ErrDivisionByZero
		}
		return arith(left, right, math.Mod)
	default:
		return value.Undefined, fmt.Errorf("unknown binary operator %d", n.Op)
	}
}

func bothNumbers(a, b value.Value) bool {
	return a.Kind() == value.KindNumber && b.Kind() == value.KindNumber
}

// arith applies a numeric operator. Non-numeric operands yield Undefined,
// keeping arithmetic total; absence then propagates as Unknown in boolean
// position.
func arith(a, b value.Value, op func(a, b float64) float64) (value.Value, error) {
	if !bothNumbers(a, b) {
		return value.Undefined, nil
	}
	return value.Number(op(a.Num(), b.Num())), nil
}
