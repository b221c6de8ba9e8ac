// Package engine implements the deterministic policy decision engine: program
// loading with static analysis, fact binding, the expression evaluator, the
// rule state machine, and sandboxed cross-policy imports.
package engine

import (
	"fmt"
	"strings"

	"github.com/arbiterhq/arbiter/pkg/ast"
	"github.com/arbiterhq/arbiter/pkg/domain"
	"github.com/arbiterhq/arbiter/pkg/shape"
)

// Program is the immutable, fully analyzed form of a set of namespaces. It is
// built once at load time and shared read-only across all concurrent
// evaluations.
type Program struct {
	policies map[string]*compiledPolicy
}

type compiledNamespace struct {
	path   string
	shapes *shape.Registry
}

type compiledPolicy struct {
	ns        *compiledNamespace
	name      string
	fqn       string
	shapes    *shape.Registry
	facts     []ast.Fact
	factByKey map[string]ast.Fact // keyed by exposed name
	lets      []ast.Let
	letNames  map[string]struct{}
	rules     map[string]*compiledRule
	ruleOrder []string
	exports   map[string]*ast.Export
	exportOrd []string
}

type compiledRule struct {
	decl ast.Rule
	// refs lists sibling rules this rule's expressions reference, computed
	// statically for the load-time cycle check.
	refs []string
	// imp is non-nil for import rules, resolved against the program index.
	imp *resolvedImport
}

type resolvedImport struct {
	target *compiledPolicy
	rule   string
	with   []ast.Injection
}

// Policy looks up a compiled policy by namespace path and name.
func (p *Program) Policy(namespace, name string) (*compiledPolicy, bool) {
	cp, ok := p.policies[namespace+"/"+name]
	return cp, ok
}

// Policies lists the loaded policy FQNs.
func (p *Program) Policies() []string {
	out := make([]string, 0, len(p.policies))
	for fqn := range p.policies {
		out = append(out, fqn)
	}
	return out
}

// Exports lists the exported rule names of a policy in declaration order.
func (cp *compiledPolicy) Exports() []string {
	return cp.exportOrd
}

// FQN returns the policy's namespace-qualified name.
func (cp *compiledPolicy) FQN() string { return cp.fqn }

// Load analyzes namespaces into a Program. All structural errors (shape
// composition cycles, duplicate fields, illegal fact defaults, empty export
// sets, unresolved or unexported import targets, rule-reference cycles,
// import-chain cycles) are detected here and block loading entirely.
func Load(namespaces []ast.Namespace) (*Program, error) {
	prog := &Program{policies: make(map[string]*compiledPolicy)}

	compiledNS := make([]*compiledNamespace, 0, len(namespaces))
	for _, ns := range namespaces {
		reg, err := shape.Build(nil, ns.Shapes)
		if err != nil {
			return nil, &domain.LoadError{Err: err, Namespace: ns.Path}
		}
		cn := &compiledNamespace{path: ns.Path, shapes: reg}
		compiledNS = append(compiledNS, cn)

		for _, pol := range ns.Policies {
			cp, err := compilePolicy(cn, pol)
			if err != nil {
				return nil, err
			}
			if _, dup := prog.policies[cp.fqn]; dup {
				return nil, &domain.LoadError{
					Err:       fmt.Errorf("policy declared twice: %w", domain.ErrDuplicateField),
					Namespace: ns.Path, Policy: pol.Name,
				}
			}
			prog.policies[cp.fqn] = cp
		}
	}

	// Imports resolve against the complete index, so this is a second pass.
	for _, cp := range prog.policies {
		if err := resolveImports(prog, cp); err != nil {
			return nil, err
		}
	}

	if err := checkImportCycles(prog); err != nil {
		return nil, err
	}

	return prog, nil
}

func compilePolicy(ns *compiledNamespace, pol ast.Policy) (*compiledPolicy, error) {
	fail := func(rule string, err error) error {
		return &domain.LoadError{Err: err, Namespace: ns.path, Policy: pol.Name, Rule: rule}
	}

	reg, err := shape.Build(ns.shapes, pol.Shapes)
	if err != nil {
		return nil, fail("", err)
	}

	cp := &compiledPolicy{
		ns:        ns,
		name:      pol.Name,
		fqn:       ns.path + "/" + pol.Name,
		shapes:    reg,
		facts:     pol.Facts,
		factByKey: make(map[string]ast.Fact, len(pol.Facts)),
		lets:      pol.Lets,
		letNames:  make(map[string]struct{}, len(pol.Lets)),
		rules:     make(map[string]*compiledRule, len(pol.Rules)),
		exports:   make(map[string]*ast.Export, len(pol.Exports)),
	}

	for _, f := range pol.Facts {
		key := f.ExposedName()
		if _, dup := cp.factByKey[key]; dup {
			return nil, fail("", fmt.Errorf("fact %s: %w", key, domain.ErrDuplicateField))
		}
		if !f.Optional && f.Default != nil {
			return nil, fail("", fmt.Errorf("fact %s: required facts cannot declare defaults", f.Name))
		}
		cp.factByKey[key] = f
	}

	for _, l := range pol.Lets {
		cp.letNames[l.Name] = struct{}{}
	}

	ruleNames := make(map[string]struct{}, len(pol.Rules))
	for _, r := range pol.Rules {
		ruleNames[r.Name] = struct{}{}
	}

	for i := range pol.Rules {
		r := pol.Rules[i]
		if _, dup := cp.rules[r.Name]; dup {
			return nil, fail(r.Name, fmt.Errorf("rule declared twice: %w", domain.ErrDuplicateField))
		}
		if r.Import != nil && (r.Yield != nil || len(r.Lets) > 0) {
			return nil, fail(r.Name, fmt.Errorf("rule has both a body and an import clause"))
		}
		if r.Import != nil && (r.When != nil || r.Default != nil) {
			return nil, fail(r.Name, fmt.Errorf("import rules cannot carry when or default clauses"))
		}
		if r.Import == nil && r.Yield == nil {
			return nil, fail(r.Name, fmt.Errorf("rule has neither a body nor an import clause"))
		}
		cr := &compiledRule{decl: r}
		cr.refs = collectRuleRefs(cp, r, ruleNames)
		cp.rules[r.Name] = cr
		cp.ruleOrder = append(cp.ruleOrder, r.Name)
	}

	// Exactly one non-empty export set per policy.
	if len(pol.Exports) == 0 {
		return nil, fail("", fmt.Errorf("policy exports no rules"))
	}
	for i := range pol.Exports {
		exp := pol.Exports[i]
		if _, ok := cp.rules[exp.Rule]; !ok {
			return nil, fail(exp.Rule, fmt.Errorf("exported rule not declared: %w", domain.ErrUnresolvedReference))
		}
		if _, dup := cp.exports[exp.Rule]; dup {
			return nil, fail(exp.Rule, fmt.Errorf("rule exported twice: %w", domain.ErrDuplicateField))
		}
		cp.exports[exp.Rule] = &pol.Exports[i]
		cp.exportOrd = append(cp.exportOrd, exp.Rule)
	}

	if err := checkRuleCycles(cp); err != nil {
		return nil, fail("", err)
	}

	return cp, nil
}

// collectRuleRefs walks every expression of a rule and records identifiers
// that resolve to sibling rules. Facts, policy lets, rule-local lets, block
// lets, and lambda parameters shadow rule names, mirroring the runtime
// resolution order, so the static graph matches what evaluation will do.
func collectRuleRefs(cp *compiledPolicy, r ast.Rule, ruleNames map[string]struct{}) []string {
	shadowed := make(map[string]struct{}, len(cp.factByKey)+len(cp.letNames))
	for name := range cp.factByKey {
		shadowed[name] = struct{}{}
	}
	for name := range cp.letNames {
		shadowed[name] = struct{}{}
	}

	found := map[string]struct{}{}
	var scan func(e ast.Expr, bound map[string]struct{})
	scan = func(e ast.Expr, bound map[string]struct{}) {
		switch n := e.(type) {
		case nil:
		case *ast.Ident:
			if _, isRule := ruleNames[n.Name]; !isRule {
				return
			}
			if _, s := shadowed[n.Name]; s {
				return
			}
			if _, s := bound[n.Name]; s {
				return
			}
			found[n.Name] = struct{}{}
		case *ast.Lambda:
			inner := extend(bound, n.Params...)
			scan(n.Body, inner)
		case *ast.Block:
			inner := extend(bound)
			for _, l := range n.Lets {
				scan(l.Expr, inner)
				inner[l.Name] = struct{}{}
			}
			scan(n.Result, inner)
		default:
			ast.Walk(e, func(child ast.Expr) bool {
				if child == e {
					return true
				}
				scan(child, bound)
				return false
			})
		}
	}

	ruleScope := extend(nil)
	scan(r.When, ruleScope)
	scan(r.Default, ruleScope)
	bodyScope := extend(nil)
	for _, l := range r.Lets {
		scan(l.Expr, bodyScope)
		bodyScope[l.Name] = struct{}{}
	}
	scan(r.Yield, bodyScope)
	if r.Import != nil {
		for _, inj := range r.Import.With {
			scan(inj.Expr, ruleScope)
		}
	}

	refs := make([]string, 0, len(found))
	for name := range found {
		refs = append(refs, name)
	}
	return refs
}

func extend(base map[string]struct{}, names ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(base)+len(names))
	for k := range base {
		out[k] = struct{}{}
	}
	for _, n := range names {
		out[n] = struct{}{}
	}
	return out
}

// checkRuleCycles rejects circular rule-to-rule references within a policy.
// The runtime memo path then needs no re-check.
func checkRuleCycles(cp *compiledPolicy) error {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(cp.rules))

	var visit func(name string, trail []string) error
	visit = func(name string, trail []string) error {
		switch state[name] {
		case visiting:
			return fmt.Errorf("rule reference cycle %s -> %s: %w",
				strings.Join(trail, " -> "), name, domain.ErrCircularDependency)
		case done:
			return nil
		}
		state[name] = visiting
		for _, ref := range cp.rules[name].refs {
			if err := visit(ref, append(trail, name)); err != nil {
				return err
			}
		}
		state[name] = done
		return nil
	}

	for _, name := range cp.ruleOrder {
		if err := visit(name, nil); err != nil {
			return err
		}
	}
	return nil
}

// resolveImports binds import clauses to target policies, failing closed on
// anything unresolved, unexported, or injecting unknown facts.
func resolveImports(prog *Program, cp *compiledPolicy) error {
	fail := func(rule string, err error) error {
		return &domain.LoadError{Err: err, Namespace: cp.ns.path, Policy: cp.name, Rule: rule}
	}

	for _, name := range cp.ruleOrder {
		cr := cp.rules[name]
		imp := cr.decl.Import
		if imp == nil {
			continue
		}

		targetFQN := imp.Policy
		if !strings.Contains(targetFQN, "/") {
			// Bare name resolves in the importer's namespace.
			targetFQN = cp.ns.path + "/" + targetFQN
		}
		target, ok := prog.policies[targetFQN]
		if !ok {
			return fail(name, fmt.Errorf("import target %s: %w", targetFQN, domain.ErrUnresolvedReference))
		}
		if _, exported := target.exports[imp.Rule]; !exported {
			return fail(name, fmt.Errorf("import target %s does not export rule %s: %w",
				targetFQN, imp.Rule, domain.ErrUnresolvedReference))
		}

		declared := make(map[string]struct{}, len(target.facts))
		for _, f := range target.facts {
			declared[f.Name] = struct{}{}
		}
		seen := make(map[string]struct{}, len(imp.With))
		for _, inj := range imp.With {
			if _, ok := declared[inj.Fact]; !ok {
				return fail(name, fmt.Errorf("import injects unknown fact %s of %s: %w",
					inj.Fact, targetFQN, domain.ErrUnresolvedReference))
			}
			if _, dup := seen[inj.Fact]; dup {
				return fail(name, fmt.Errorf("import injects fact %s twice: %w", inj.Fact, domain.ErrDuplicateField))
			}
			seen[inj.Fact] = struct{}{}
		}

		cr.imp = &resolvedImport{target: target, rule: imp.Rule, with: imp.With}
	}
	return nil
}

// checkImportCycles rejects import chains that loop between policies. The
// graph is over policy FQNs; any rule-level import contributes an edge.
func checkImportCycles(prog *Program) error {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(prog.policies))

	var visit func(cp *compiledPolicy, trail []string) error
	visit = func(cp *compiledPolicy, trail []string) error {
		switch state[cp.fqn] {
		case visiting:
			return &domain.LoadError{
				Err: fmt.Errorf("import cycle %s -> %s: %w",
					strings.Join(trail, " -> "), cp.fqn, domain.ErrCircularDependency),
				Namespace: cp.ns.path, Policy: cp.name,
			}
		case done:
			return nil
		}
		state[cp.fqn] = visiting
		for _, name := range cp.ruleOrder {
			if imp := cp.rules[name].imp; imp != nil {
				if err := visit(imp.target, append(trail, cp.fqn)); err != nil {
					return err
				}
			}
		}
		state[cp.fqn] = done
		return nil
	}

	for _, cp := range prog.policies {
		if err := visit(cp, nil); err != nil {
			return err
		}
	}
	return nil
}
