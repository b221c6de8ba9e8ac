package engine

import (
	"context"
	"fmt"

	"github.com/arbiterhq/arbiter/pkg/domain"
	"github.com/arbiterhq/arbiter/pkg/value"
)

// ruleOutcome is a decided rule: the coerced state, the raw yielded value,
// and a lazy attachments resolver.
type ruleOutcome struct {
	state  value.Trinary
	raw    value.Value
	attach value.AttachmentsFunc
}

// decisionValue exposes the outcome as a first-class value for rule-to-rule
// references: truthy as its state, dot-access for attachments.
func (o *ruleOutcome) decisionValue() value.Value {
	return value.Decision(o.state, o.raw, o.attach)
}

// evaluateRule runs one rule to a decision, memoized per Context so a rule
// referenced twice is evaluated once. Load-time analysis guarantees the
// reference graph is acyclic; the inflight check only guards against that
// analysis being wrong.
func (ec *Context) evaluateRule(ctx context.Context, name string) (*ruleOutcome, error) {
	if out, ok := ec.outcomes[name]; ok {
		return out, nil
	}
	if _, busy := ec.inflight[name]; busy {
		return nil, fmt.Errorf("rule %s re-entered during its own evaluation: %w", name, domain.ErrCircularDependency)
	}
	cr, ok := ec.policy.rules[name]
	if !ok {
		return nil, fmt.Errorf("rule %s: %w", name, domain.ErrUnresolvedReference)
	}

	ec.inflight[name] = struct{}{}
	defer delete(ec.inflight, name)

	var (
		out *ruleOutcome
		err error
	)
	if cr.imp != nil {
		out, err = ec.evaluateImport(ctx, cr)
	} else {
		out, err = ec.evaluateBody(ctx, cr)
	}
	if err != nil {
		return nil, fmt.Errorf("rule %s: %w", name, err)
	}

	out.attach = ec.attachmentsFor(ctx, name, out.attach)
	ec.outcomes[name] = out
	return out, nil
}

// evaluateBody drives the rule lifecycle: the when check, then either the
// body or the default, then the decision. A missing when clause defaults to
// True, a missing default clause to Unknown.
func (ec *Context) evaluateBody(ctx context.Context, cr *compiledRule) (*ruleOutcome, error) {
	when := value.True
	if cr.decl.When != nil {
		cond, err := ec.evalExpr(ctx, cr.decl.When, nil)
		if err != nil {
			return nil, err
		}
		when = value.Truthy(cond)
	}

	var raw value.Value
	if when == value.True {
		body := (*scope)(nil).childOrRoot()
		for _, l := range cr.decl.Lets {
			lv, err := ec.evalExpr(ctx, l.Expr, body)
			if err != nil {
				return nil, err
			}
			body.bind(l.Name, lv)
		}
		yielded, err := ec.evalExpr(ctx, cr.decl.Yield, body)
		if err != nil {
			return nil, err
		}
		raw = yielded
	} else {
		raw = value.UnknownValue
		if cr.decl.Default != nil {
			dv, err := ec.evalExpr(ctx, cr.decl.Default, nil)
			if err != nil {
				return nil, err
			}
			raw = dv
		}
	}

	return &ruleOutcome{state: value.Truthy(raw), raw: raw}, nil
}

// attachmentsFor wraps a rule's export attachments in a lazily resolved,
// once-only thunk evaluated against this same Context. Import rules pass
// through the imported decision's own attachments.
func (ec *Context) attachmentsFor(ctx context.Context, name string, inherited value.AttachmentsFunc) value.AttachmentsFunc {
	exp, exported := ec.policy.exports[name]
	if !exported || len(exp.Attachments) == 0 {
		return inherited
	}
	decls := exp.Attachments

	var (
		resolved  map[string]value.Value
		failed    error
		resolving bool
	)
	return func() (map[string]value.Value, error) {
		if resolved != nil || failed != nil {
			return resolved, failed
		}
		// Attachment expressions are outside the static rule-reference graph,
		// so mutually recursive attachments surface here instead of at load.
		if resolving {
			return nil, fmt.Errorf("attachments of rule %s re-entered during their own resolution: %w", name, domain.ErrCircularDependency)
		}
		resolving = true
		defer func() { resolving = false }()

		out := make(map[string]value.Value, len(decls))
		if inherited != nil {
			base, err := inherited()
			if err != nil {
				failed = err
				return nil, err
			}
			for k, v := range base {
				out[k] = v
			}
		}
		for _, a := range decls {
			v, err := ec.evalExpr(ctx, a.Expr, nil)
			if err != nil {
				failed = fmt.Errorf("attachment %s: %w", a.Name, err)
				return nil, failed
			}
			out[a.Name] = v
		}
		resolved = out
		return resolved, nil
	}
}

// exportedAttachments resolves the attachments of an already decided rule,
// used when a decision is actually consumed.
func (o *ruleOutcome) exportedAttachments() (map[string]value.Value, error) {
	if o.attach == nil {
		return map[string]value.Value{}, nil
	}
	return o.attach()
}
