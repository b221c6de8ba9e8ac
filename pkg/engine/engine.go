package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/arbiterhq/arbiter/pkg/domain"
	"github.com/arbiterhq/arbiter/pkg/engine/memo"
	"github.com/arbiterhq/arbiter/pkg/host"
	"github.com/arbiterhq/arbiter/pkg/value"
)

// Engine evaluates decisions against a loaded Program. The Program is
// read-only, so one Engine serves any number of concurrent requests; the
// memoization cache is the only shared mutable resource.
type Engine struct {
	program *Program
	cache   memo.Cache
	binder  host.Binder
	logger  *slog.Logger
	tracer  trace.Tracer
}

// Options configure an Engine.
type Options struct {
	// Cache memoizes host function calls. Nil disables memoization.
	Cache memo.Cache
	// Binder resolves host-bound functions. Nil means no host functions.
	Binder host.Binder
	// Logger receives evaluation logs; defaults to slog.Default().
	Logger *slog.Logger
}

type noBinder struct{}

func (noBinder) Resolve(string, string) (host.Func, bool) { return nil, false }

// New constructs an Engine over a loaded Program.
func New(program *Program, opts Options) *Engine {
	binder := opts.Binder
	if binder == nil {
		binder = noBinder{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		program: program,
		cache:   opts.Cache,
		binder:  binder,
		logger:  logger,
		tracer:  otel.Tracer("arbiter.engine"),
	}
}

// Program exposes the loaded program index.
func (e *Engine) Program() *Program { return e.program }

// Report is the outcome of one evaluation request: successful decisions plus
// per-rule failures. A failing rule aborts only itself; the batch carries on.
type Report struct {
	Decisions  []domain.Decision
	RuleErrors map[string]string
}

// Err folds per-rule failures into the single wire error string, empty on
// full success.
func (r *Report) Err() string {
	if len(r.RuleErrors) == 0 {
		return ""
	}
	rules := make([]string, 0, len(r.RuleErrors))
	for name := range r.RuleErrors {
		rules = append(rules, name)
	}
	sort.Strings(rules)
	parts := make([]string, len(rules))
	for i, name := range rules {
		parts[i] = fmt.Sprintf("rule %s: %s", name, r.RuleErrors[name])
	}
	return strings.Join(parts, "; ")
}

// Evaluate runs one exported rule, or every exported rule when rule is
// empty, against the supplied facts. Fact binding failures and unresolved
// targets fail the whole request; runtime failures inside a rule body are
// per-rule.
func (e *Engine) Evaluate(ctx context.Context, namespace, policy, rule string, facts map[string]value.Value) (*Report, error) {
	ctx, span := e.tracer.Start(ctx, "engine.evaluate", trace.WithAttributes(
		attribute.String("policy.namespace", namespace),
		attribute.String("policy.name", policy),
	))
	defer span.End()

	cp, ok := e.program.Policy(namespace, policy)
	if !ok {
		return nil, fmt.Errorf("policy %s/%s: %w", namespace, policy, domain.ErrUnresolvedReference)
	}

	var targets []string
	if rule != "" {
		if _, exported := cp.exports[rule]; !exported {
			return nil, fmt.Errorf("rule %s not exported by %s: %w", rule, cp.fqn, domain.ErrUnresolvedReference)
		}
		targets = []string{rule}
	} else {
		targets = cp.exportOrd
	}

	ec, err := newContext(ctx, e.program, cp, facts, e.cache, e.binder)
	if err != nil {
		return nil, err
	}

	report := &Report{RuleErrors: map[string]string{}}
	for _, name := range targets {
		out, err := ec.evaluateRule(ctx, name)
		if err != nil {
			// Cancellation is a request-level failure, not a rule outcome.
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			e.logger.Warn("rule evaluation failed",
				"namespace", namespace, "policy", policy, "rule", name, "error", err)
			report.RuleErrors[name] = err.Error()
			continue
		}
		dec, err := wireDecision(namespace, policy, name, out)
		if err != nil {
			report.RuleErrors[name] = err.Error()
			continue
		}
		report.Decisions = append(report.Decisions, dec)
	}
	return report, nil
}

// wireDecision converts a decided rule into the wire shape. Returning the
// decision is what consumes it, so attachments resolve here.
func wireDecision(namespace, policy, rule string, out *ruleOutcome) (domain.Decision, error) {
	attach, err := out.exportedAttachments()
	if err != nil {
		return domain.Decision{}, err
	}
	wireAttach := make(map[string]any, len(attach))
	for k, v := range attach {
		wireAttach[k] = value.ToJSON(v)
	}
	return domain.Decision{
		Policy:    policy,
		Namespace: namespace,
		Rule:      rule,
		Decision: domain.DecisionPayload{
			State: out.state.String(),
			Value: value.ToJSON(out.raw),
		},
		Attachments: wireAttach,
	}, nil
}
