package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbiterhq/arbiter/pkg/ast"
	"github.com/arbiterhq/arbiter/pkg/domain"
	"github.com/arbiterhq/arbiter/pkg/host"
	"github.com/arbiterhq/arbiter/pkg/value"
)

func TestEvalArithmetic(t *testing.T) {
	cases := []struct {
		name string
		expr ast.Expr
		want value.Value
	}{
		{"add", bin(ast.OpAdd, num(2), num(3)), value.Number(5)},
		{"sub", bin(ast.OpSub, num(2), num(3)), value.Number(-1)},
		{"mul", bin(ast.OpMul, num(4), num(2.5)), value.Number(10)},
		{"div", bin(ast.OpDiv, num(9), num(3)), value.Number(3)},
		{"mod", bin(ast.OpMod, num(7), num(3)), value.Number(1)},
		{"concat", bin(ast.OpAdd, str("foo"), str("bar")), value.String("foobar")},
		{"mismatch yields undefined", bin(ast.OpAdd, num(1), str("x")), value.Undefined},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.True(t, value.Equal(mustEval(t, tc.expr), tc.want))
		})
	}
}

func TestEvalDivisionByZero(t *testing.T) {
	_, err := evalIn(t, bin(ast.OpDiv, num(1), num(0)))
	assert.ErrorIs(t, err, domain.ErrDivisionByZero)

	_, err = evalIn(t, bin(ast.OpMod, num(1), num(0)))
	assert.ErrorIs(t, err, domain.ErrDivisionByZero)
}

func TestEvalComparison(t *testing.T) {
	assert.True(t, value.Equal(mustEval(t, bin(ast.OpEq, num(2), num(2))), value.TrueValue))
	assert.True(t, value.Equal(mustEval(t, bin(ast.OpNeq, num(2), num(3))), value.TrueValue))
	assert.True(t, value.Equal(mustEval(t, bin(ast.OpLt, num(2), num(3))), value.TrueValue))
	assert.True(t, value.Equal(mustEval(t, bin(ast.OpGte, str("b"), str("a"))), value.TrueValue))
	// Incomparable kinds are Unknown, not an error.
	assert.True(t, value.Equal(mustEval(t, bin(ast.OpLt, num(2), str("a"))), value.UnknownValue))
}

func TestEvalBooleanShortCircuit(t *testing.T) {
	calls := 0
	binder := host.NewRegistry()
	binder.Register("probe", "boom", func(_ context.Context, _ []value.Value) (value.Value, error) {
		calls++
		return value.TrueValue, nil
	})

	ec := scratchContext(t, emptyPolicy("sc"), nil, Options{Binder: binder})
	probe := hostCall("probe", "boom", -1)

	// False && probe(): right side never runs.
	got, err := ec.evalExpr(context.Background(), bin(ast.OpAnd, lit(value.FalseValue), probe), nil)
	require.NoError(t, err)
	assert.Equal(t, value.False, got.Tri())
	assert.Equal(t, 0, calls)

	// True || probe(): right side never runs.
	got, err = ec.evalExpr(context.Background(), bin(ast.OpOr, lit(value.TrueValue), probe), nil)
	require.NoError(t, err)
	assert.Equal(t, value.True, got.Tri())
	assert.Equal(t, 0, calls)

	// Unknown left cannot short-circuit.
	_, err = ec.evalExpr(context.Background(), bin(ast.OpAnd, lit(value.UnknownValue), probe), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestEvalKleeneThroughOperators(t *testing.T) {
	// Unknown && False is False, Unknown || False is Unknown.
	got := mustEval(t, bin(ast.OpAnd, lit(value.UnknownValue), lit(value.FalseValue)))
	assert.Equal(t, value.False, got.Tri())

	got = mustEval(t, bin(ast.OpOr, lit(value.UnknownValue), lit(value.FalseValue)))
	assert.Equal(t, value.Unknown, got.Tri())

	got = mustEval(t, &ast.Unary{Op: ast.OpNot, X: lit(value.UnknownValue)})
	assert.Equal(t, value.Unknown, got.Tri())
}

func TestEvalTernaryAndElvis(t *testing.T) {
	tern := func(c ast.Expr) ast.Expr {
		return &ast.Ternary{Cond: c, Then: str("yes"), Else: str("no")}
	}
	assert.True(t, value.Equal(mustEval(t, tern(lit(value.TrueValue))), value.String("yes")))
	assert.True(t, value.Equal(mustEval(t, tern(lit(value.FalseValue))), value.String("no")))
	assert.True(t, value.Equal(mustEval(t, tern(lit(value.UnknownValue))), value.UnknownValue))

	elvis := func(l ast.Expr) ast.Expr { return &ast.Elvis{Left: l, Right: str("fallback")} }
	assert.True(t, value.Equal(mustEval(t, elvis(str("set"))), value.String("set")))
	assert.True(t, value.Equal(mustEval(t, elvis(str(""))), value.String("fallback")))
	// Unknown is not truthy, so Elvis falls through.
	assert.True(t, value.Equal(mustEval(t, elvis(lit(value.UnknownValue))), value.String("fallback")))
}

func TestEvalMemberAndIndex(t *testing.T) {
	obj := lit(value.Map(map[string]value.Value{
		"user": value.Map(map[string]value.Value{"role": value.String("admin")}),
	}))

	got := mustEval(t, member(member(obj, "user"), "role"))
	assert.True(t, value.Equal(got, value.String("admin")))

	// Missing member chains propagate absence instead of failing.
	got = mustEval(t, member(member(obj, "ghost"), "role"))
	assert.True(t, got.IsUndefined())

	list := listLit(10, 20, 30)
	got = mustEval(t, &ast.Index{Base: list, Key: num(1)})
	assert.True(t, value.Equal(got, value.Number(20)))

	got = mustEval(t, &ast.Index{Base: list, Key: num(9)})
	assert.True(t, got.IsUndefined())

	got = mustEval(t, &ast.Index{Base: obj, Key: str("user")})
	assert.Equal(t, value.KindMap, got.Kind())
}

func TestEvalUnresolvedIdentifier(t *testing.T) {
	_, err := evalIn(t, id("nonsense"))
	assert.ErrorIs(t, err, domain.ErrUnresolvedReference)
}

func TestEvalBlockScoping(t *testing.T) {
	// Inner block lets are invisible outside; the block result sees them.
	block := &ast.Block{
		Lets:   []ast.Let{{Name: "x", Expr: num(2)}, {Name: "y", Expr: bin(ast.OpMul, id("x"), num(3))}},
		Result: id("y"),
	}
	got := mustEval(t, block)
	assert.True(t, value.Equal(got, value.Number(6)))

	outer := bin(ast.OpAdd, block, id("x"))
	_, err := evalIn(t, outer)
	assert.ErrorIs(t, err, domain.ErrUnresolvedReference)
}

func TestEvalCast(t *testing.T) {
	got := mustEval(t, &ast.Cast{X: str("42"), Type: ast.Named("number")})
	assert.True(t, value.Equal(got, value.Number(42)))

	_, err := evalIn(t, &ast.Cast{X: str("nope"), Type: ast.Named("number")})
	assert.ErrorIs(t, err, domain.ErrCast)
}

func TestEvalErrorBuiltin(t *testing.T) {
	_, err := evalIn(t, call("error", str("limit %v exceeded for %v"), num(3), str("ada")))
	require.Error(t, err)
	var uerr *domain.UserError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, "limit 3 exceeded for ada", uerr.Message)
}

func TestEvalCount(t *testing.T) {
	assert.True(t, value.Equal(mustEval(t, call("count", listLit(1, 2, 3))), value.Number(3)))
	assert.True(t, value.Equal(mustEval(t, call("count", str("hello"))), value.Number(5)))
	assert.True(t, value.Equal(
		mustEval(t, call("count", lit(value.Map(map[string]value.Value{"a": value.Number(1)})))),
		value.Number(1),
	))
	assert.True(t, mustEval(t, call("count", num(7))).IsUndefined())
}

func TestEvalCancellation(t *testing.T) {
	ec := scratchContext(t, emptyPolicy("sc"), nil, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ec.evalExpr(ctx, bin(ast.OpAdd, num(1), num(2)), nil)
	assert.ErrorIs(t, err, context.Canceled)
}
