package engine

import (
	"context"
	"fmt"

	"github.com/arbiterhq/arbiter/pkg/value"
)

// evaluateImport runs an import rule: injection expressions are evaluated in
// the importer's Context, then a brand-new Context is built for the target
// policy holding only those injected facts. The child never receives a
// reference to the parent Context, so isolation is structural: the imported
// evaluation cannot see the importer's other facts or lets even in principle.
func (ec *Context) evaluateImport(ctx context.Context, cr *compiledRule) (*ruleOutcome, error) {
	imp := cr.imp
	target := imp.target

	injected := make(map[string]value.Value, len(imp.with))
	declared := make(map[string]string, len(target.facts))
	for _, f := range target.facts {
		declared[f.Name] = f.ExposedName()
	}

	for _, inj := range imp.with {
		v, err := ec.evalExpr(ctx, inj.Expr, nil)
		if err != nil {
			return nil, fmt.Errorf("with %s: %w", inj.Fact, err)
		}
		// Injection names were resolved against declared fact names at load
		// time; fact binding keys off exposed names.
		injected[declared[inj.Fact]] = v
	}

	// Facts the importer did not supply follow the target's normal
	// optional/required rules inside newContext.
	child, err := newContext(ctx, ec.program, target, injected, ec.cache, ec.binder)
	if err != nil {
		return nil, fmt.Errorf("import %s: %w", target.fqn, err)
	}

	out, err := child.evaluateRule(ctx, imp.rule)
	if err != nil {
		return nil, fmt.Errorf("import %s#%s: %w", target.fqn, imp.rule, err)
	}

	// The importing rule's decision mirrors the imported one. Carrying the
	// child's attachment resolver gives the importer dot-access to the
	// target's attachments; importer-side export attachments merge over it in
	// evaluateRule.
	return &ruleOutcome{
		state:  out.state,
		raw:    out.raw,
		attach: out.attach,
	}, nil
}
