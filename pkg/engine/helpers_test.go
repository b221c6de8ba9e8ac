package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arbiterhq/arbiter/pkg/ast"
	"github.com/arbiterhq/arbiter/pkg/host"
	"github.com/arbiterhq/arbiter/pkg/value"
)

// Expression builders keeping test policies readable.

func lit(v value.Value) ast.Expr        { return &ast.Literal{Value: v} }
func num(f float64) ast.Expr            { return lit(value.Number(f)) }
func str(s string) ast.Expr             { return lit(value.String(s)) }
func id(name string) ast.Expr           { return &ast.Ident{Name: name} }
func member(b ast.Expr, n string) ast.Expr { return &ast.Member{Base: b, Name: n} }

func bin(op ast.BinaryOp, l, r ast.Expr) ast.Expr {
	return &ast.Binary{Op: op, Left: l, Right: r}
}

func call(name string, args ...ast.Expr) ast.Expr {
	return &ast.Call{Name: name, Args: args}
}

func hostCall(module, name string, memoTTL int, args ...ast.Expr) ast.Expr {
	c := &ast.Call{Module: module, Name: name, Args: args}
	if memoTTL >= 0 {
		c.Memo = &ast.Memo{TTLSeconds: memoTTL}
	}
	return c
}

func lam(params []string, body ast.Expr) ast.Expr {
	return &ast.Lambda{Params: params, Body: body}
}

func listLit(elems ...float64) ast.Expr {
	vals := make([]value.Value, len(elems))
	for i, e := range elems {
		vals[i] = value.Number(e)
	}
	return lit(value.List(vals...))
}

func yieldRule(name string, yield ast.Expr) ast.Rule {
	return ast.Rule{Name: name, Yield: yield}
}

func exportAll(rules ...string) []ast.Export {
	out := make([]ast.Export, len(rules))
	for i, r := range rules {
		out[i] = ast.Export{Rule: r}
	}
	return out
}

// scratchContext builds a Context over a single throwaway policy so
// expression-level tests can run without ceremony.
func scratchContext(t *testing.T, pol ast.Policy, facts map[string]value.Value, opts Options) *Context {
	t.Helper()
	prog, err := Load([]ast.Namespace{{Path: "test", Policies: []ast.Policy{pol}}})
	require.NoError(t, err)

	cp, ok := prog.Policy("test", pol.Name)
	require.True(t, ok)

	binder := opts.Binder
	if binder == nil {
		binder = host.NewRegistry()
	}
	ec, err := newContext(context.Background(), prog, cp, facts, opts.Cache, binder)
	require.NoError(t, err)
	return ec
}

func emptyPolicy(name string) ast.Policy {
	return ast.Policy{
		Name:    name,
		Rules:   []ast.Rule{yieldRule("ok", lit(value.TrueValue))},
		Exports: exportAll("ok"),
	}
}

// evalIn evaluates a standalone expression in a fresh scratch Context.
func evalIn(t *testing.T, e ast.Expr) (value.Value, error) {
	t.Helper()
	ec := scratchContext(t, emptyPolicy("scratch"), nil, Options{})
	return ec.evalExpr(context.Background(), e, nil)
}

func mustEval(t *testing.T, e ast.Expr) value.Value {
	t.Helper()
	v, err := evalIn(t, e)
	require.NoError(t, err)
	return v
}
