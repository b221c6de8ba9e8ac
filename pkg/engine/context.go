package engine

import (
	"context"
	"fmt"

	"github.com/arbiterhq/arbiter/pkg/domain"
	"github.com/arbiterhq/arbiter/pkg/engine/memo"
	"github.com/arbiterhq/arbiter/pkg/host"
	"github.com/arbiterhq/arbiter/pkg/value"
)

// Context is the immutable evaluation environment of one request against one
// policy: bound facts, eagerly evaluated policy lets, and the per-request
// rule decision memo. It holds no reference to any caller state, which is
// what makes evaluations safely parallel and what makes imported evaluations
// sandboxed, since a child Context is always built fresh.
type Context struct {
	program *Program
	policy  *compiledPolicy
	facts   map[string]value.Value
	lets    map[string]value.Value
	cache   memo.Cache
	binder  host.Binder

	// Per-request memo so a rule referenced twice is evaluated once. The
	// inflight set is a defensive guard; load-time analysis already rejects
	// reference cycles.
	outcomes map[string]*ruleOutcome
	inflight map[string]struct{}
}

// newContext binds supplied facts (keyed by exposed name) against the
// policy's declarations and evaluates policy-level lets eagerly, left to
// right.
func newContext(ctx context.Context, prog *Program, cp *compiledPolicy, supplied map[string]value.Value, cache memo.Cache, binder host.Binder) (*Context, error) {
	ec := &Context{
		program:  prog,
		policy:   cp,
		facts:    make(map[string]value.Value, len(cp.facts)),
		lets:     make(map[string]value.Value, len(cp.lets)),
		cache:    cache,
		binder:   binder,
		outcomes: make(map[string]*ruleOutcome),
		inflight: make(map[string]struct{}),
	}

	for _, f := range cp.facts {
		key := f.ExposedName()
		v, ok := supplied[key]

		switch {
		case ok && v.IsNull():
			// Bound facts are never null, required or not.
			return nil, fmt.Errorf("fact %s: %w", key, domain.ErrNullFact)
		case ok:
			if err := cp.shapes.Validate(v, f.Type); err != nil {
				return nil, fmt.Errorf("fact %s: %w", key, err)
			}
			ec.facts[key] = v
		case f.Optional && f.Default != nil:
			dv, err := ec.evalExpr(ctx, f.Default, nil)
			if err != nil {
				return nil, fmt.Errorf("fact %s default: %w", key, err)
			}
			if err := cp.shapes.Validate(dv, f.Type); err != nil {
				return nil, fmt.Errorf("fact %s default: %w", key, err)
			}
			ec.facts[key] = dv
		case f.Optional:
			// Unbound, distinct from bound-to-null. Identifier resolution
			// yields Undefined.
		default:
			return nil, fmt.Errorf("fact %s: %w", key, domain.ErrMissingFact)
		}
	}

	for _, l := range cp.lets {
		lv, err := ec.evalExpr(ctx, l.Expr, nil)
		if err != nil {
			return nil, fmt.Errorf("let %s: %w", l.Name, err)
		}
		ec.lets[l.Name] = lv
	}

	return ec, nil
}

// scope is a lexical frame over the Context: lambda parameters and block or
// rule-body lets. Frames chain outward; the Context itself is the root.
type scope struct {
	vars   map[string]value.Value
	parent *scope
}

func (s *scope) child() *scope {
	return &scope{vars: map[string]value.Value{}, parent: s}
}

func (s *scope) bind(name string, v value.Value) {
	s.vars[name] = v
}

func (s *scope) lookup(name string) (value.Value, bool) {
	for f := s; f != nil; f = f.parent {
		if v, ok := f.vars[name]; ok {
			return v, true
		}
	}
	return value.Undefined, false
}

// resolveIdent implements the identifier resolution order: lexical scope,
// policy lets, facts (unbound optional facts read as Undefined), then sibling
// rules. Anything else is an unresolved reference.
func (ec *Context) resolveIdent(ctx context.Context, name string, sc *scope) (value.Value, error) {
	if sc != nil {
		if v, ok := sc.lookup(name); ok {
			return v, nil
		}
	}
	if v, ok := ec.lets[name]; ok {
		return v, nil
	}
	if _, ok := ec.policy.factByKey[name]; ok {
		if v, ok := ec.facts[name]; ok {
			return v, nil
		}
		return value.Undefined, nil
	}
	if _, ok := ec.policy.rules[name]; ok {
		out, err := ec.evaluateRule(ctx, name)
		if err != nil {
			return value.Undefined, err
		}
		return out.decisionValue(), nil
	}
	return value.Undefined, fmt.Errorf("identifier %s: %w", name, domain.ErrUnresolvedReference)
}
