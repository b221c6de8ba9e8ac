package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbiterhq/arbiter/pkg/ast"
	"github.com/arbiterhq/arbiter/pkg/domain"
	"github.com/arbiterhq/arbiter/pkg/value"
)

func loadOne(t *testing.T, pol ast.Policy) (*Program, error) {
	t.Helper()
	return Load([]ast.Namespace{{Path: "test", Policies: []ast.Policy{pol}}})
}

func TestLoadRejectsRuleCycle(t *testing.T) {
	_, err := loadOne(t, ast.Policy{
		Name: "cyclic",
		Rules: []ast.Rule{
			yieldRule("a", id("b")),
			yieldRule("b", id("c")),
			yieldRule("c", id("a")),
		},
		Exports: exportAll("a"),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrCircularDependency)

	var lerr *domain.LoadError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, "test", lerr.Namespace)
	assert.Equal(t, "cyclic", lerr.Policy)
}

func TestLoadRejectsSelfReference(t *testing.T) {
	_, err := loadOne(t, ast.Policy{
		Name:    "selfref",
		Rules:   []ast.Rule{yieldRule("a", id("a"))},
		Exports: exportAll("a"),
	})
	assert.ErrorIs(t, err, domain.ErrCircularDependency)
}

func TestLoadShadowingBreaksApparentCycle(t *testing.T) {
	// A fact named like a rule shadows it, so a -> b -> "a" is no cycle when
	// "a" inside b is actually the fact.
	prog, err := Load([]ast.Namespace{{Path: "test", Policies: []ast.Policy{{
		Name:  "shadowed",
		Facts: []ast.Fact{{Name: "a", Type: ast.Named("number"), Optional: true}},
		Rules: []ast.Rule{
			yieldRule("a", num(1)),
			yieldRule("b", id("a")),
		},
		Exports: exportAll("b"),
	}}}})
	require.NoError(t, err)
	_, ok := prog.Policy("test", "shadowed")
	assert.True(t, ok)
}

func TestLoadLambdaParamShadowsRule(t *testing.T) {
	// The lambda parameter r shadows the rule r inside the body, so no cycle.
	_, err := loadOne(t, ast.Policy{
		Name: "lambdas",
		Rules: []ast.Rule{
			{Name: "r", Yield: call("map", listLit(1), lam([]string{"r"}, id("r")))},
		},
		Exports: exportAll("r"),
	})
	assert.NoError(t, err)
}

func TestLoadRejectsEmptyExports(t *testing.T) {
	_, err := loadOne(t, ast.Policy{
		Name:  "mute",
		Rules: []ast.Rule{yieldRule("a", num(1))},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exports no rules")
}

func TestLoadRejectsUnknownExport(t *testing.T) {
	_, err := loadOne(t, ast.Policy{
		Name:    "phantom",
		Rules:   []ast.Rule{yieldRule("a", num(1))},
		Exports: exportAll("ghost"),
	})
	assert.ErrorIs(t, err, domain.ErrUnresolvedReference)
}

func TestLoadRejectsDuplicateExport(t *testing.T) {
	_, err := loadOne(t, ast.Policy{
		Name:    "twice",
		Rules:   []ast.Rule{yieldRule("a", num(1))},
		Exports: exportAll("a", "a"),
	})
	assert.ErrorIs(t, err, domain.ErrDuplicateField)
}

func TestLoadRejectsDuplicateRule(t *testing.T) {
	_, err := loadOne(t, ast.Policy{
		Name:    "dup",
		Rules:   []ast.Rule{yieldRule("a", num(1)), yieldRule("a", num(2))},
		Exports: exportAll("a"),
	})
	assert.ErrorIs(t, err, domain.ErrDuplicateField)
}

func TestLoadRejectsDuplicateFactAlias(t *testing.T) {
	_, err := loadOne(t, ast.Policy{
		Name: "aliased",
		Facts: []ast.Fact{
			{Name: "user", Type: ast.Named("string")},
			{Name: "other", Alias: "user", Type: ast.Named("string")},
		},
		Rules:   []ast.Rule{yieldRule("a", num(1))},
		Exports: exportAll("a"),
	})
	assert.ErrorIs(t, err, domain.ErrDuplicateField)
}

func TestLoadRejectsDefaultOnRequiredFact(t *testing.T) {
	_, err := loadOne(t, ast.Policy{
		Name: "defaulted",
		Facts: []ast.Fact{
			{Name: "n", Type: ast.Named("number"), Default: num(1)},
		},
		Rules:   []ast.Rule{yieldRule("a", num(1))},
		Exports: exportAll("a"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required facts cannot declare defaults")
}

func TestLoadRejectsBodyAndImport(t *testing.T) {
	_, err := loadOne(t, ast.Policy{
		Name: "both",
		Rules: []ast.Rule{{
			Name:   "a",
			Yield:  num(1),
			Import: &ast.Import{Rule: "ok", Policy: "other"},
		}},
		Exports: exportAll("a"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "both a body and an import")
}

func TestLoadRejectsWhenOnImportRule(t *testing.T) {
	// Import rules relay another policy's decision; a when or default clause
	// would be silently ignored, so loading rejects it outright.
	_, err := loadOne(t, ast.Policy{
		Name: "guarded",
		Rules: []ast.Rule{{
			Name:   "a",
			When:   lit(value.TrueValue),
			Import: &ast.Import{Rule: "ok", Policy: "other"},
		}},
		Exports: exportAll("a"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "import rules cannot carry when or default clauses")

	_, err = loadOne(t, ast.Policy{
		Name: "fallback",
		Rules: []ast.Rule{{
			Name:    "a",
			Default: num(0),
			Import:  &ast.Import{Rule: "ok", Policy: "other"},
		}},
		Exports: exportAll("a"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "import rules cannot carry when or default clauses")
}

func TestLoadRejectsEmptyRule(t *testing.T) {
	_, err := loadOne(t, ast.Policy{
		Name:    "hollow",
		Rules:   []ast.Rule{{Name: "a"}},
		Exports: exportAll("a"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "neither a body nor an import")
}

func TestLoadRejectsUnresolvedImportTarget(t *testing.T) {
	_, err := loadOne(t, ast.Policy{
		Name: "importer",
		Rules: []ast.Rule{{
			Name:   "a",
			Import: &ast.Import{Rule: "ok", Policy: "nowhere"},
		}},
		Exports: exportAll("a"),
	})
	assert.ErrorIs(t, err, domain.ErrUnresolvedReference)
}

func TestLoadRejectsUnexportedImportRule(t *testing.T) {
	_, err := Load([]ast.Namespace{{Path: "test", Policies: []ast.Policy{
		{
			Name:    "target",
			Rules:   []ast.Rule{yieldRule("public", num(1)), yieldRule("hidden", num(2))},
			Exports: exportAll("public"),
		},
		{
			Name: "importer",
			Rules: []ast.Rule{{
				Name:   "a",
				Import: &ast.Import{Rule: "hidden", Policy: "target"},
			}},
			Exports: exportAll("a"),
		},
	}}})
	assert.ErrorIs(t, err, domain.ErrUnresolvedReference)
}

func TestLoadRejectsUnknownInjectedFact(t *testing.T) {
	_, err := Load([]ast.Namespace{{Path: "test", Policies: []ast.Policy{
		{
			Name:    "target",
			Facts:   []ast.Fact{{Name: "u", Type: ast.Named("string"), Optional: true}},
			Rules:   []ast.Rule{yieldRule("public", num(1))},
			Exports: exportAll("public"),
		},
		{
			Name: "importer",
			Rules: []ast.Rule{{
				Name: "a",
				Import: &ast.Import{Rule: "public", Policy: "target", With: []ast.Injection{
					{Fact: "nosuch", Expr: num(1)},
				}},
			}},
			Exports: exportAll("a"),
		},
	}}})
	assert.ErrorIs(t, err, domain.ErrUnresolvedReference)
}

func TestLoadRejectsImportCycle(t *testing.T) {
	importRule := func(name, policy, rule string) ast.Rule {
		return ast.Rule{Name: name, Import: &ast.Import{Rule: rule, Policy: policy}}
	}
	_, err := Load([]ast.Namespace{{Path: "test", Policies: []ast.Policy{
		{Name: "p1", Rules: []ast.Rule{importRule("a", "p2", "b")}, Exports: exportAll("a")},
		{Name: "p2", Rules: []ast.Rule{importRule("b", "p3", "c")}, Exports: exportAll("b")},
		{Name: "p3", Rules: []ast.Rule{importRule("c", "p1", "a")}, Exports: exportAll("c")},
	}}})
	assert.ErrorIs(t, err, domain.ErrCircularDependency)
}

func TestLoadRejectsShapeCycle(t *testing.T) {
	_, err := Load([]ast.Namespace{{Path: "test",
		Shapes: []ast.Shape{
			{Name: "A", With: []string{"B"}},
			{Name: "B", With: []string{"A"}},
		},
	}})
	assert.ErrorIs(t, err, domain.ErrCircularDependency)
}

func TestLoadCrossNamespaceImportByFQN(t *testing.T) {
	prog, err := Load([]ast.Namespace{
		{Path: "acme/auth", Policies: []ast.Policy{{
			Name:    "roles",
			Facts:   []ast.Fact{{Name: "role", Type: ast.Named("string"), Optional: true}},
			Rules:   []ast.Rule{yieldRule("isAdmin", bin(ast.OpEq, id("role"), str("admin")))},
			Exports: exportAll("isAdmin"),
		}}},
		{Path: "acme/billing", Policies: []ast.Policy{{
			Name: "gate",
			Rules: []ast.Rule{{
				Name: "allowed",
				Import: &ast.Import{Rule: "isAdmin", Policy: "acme/auth/roles", With: []ast.Injection{
					{Fact: "role", Expr: str("admin")},
				}},
			}},
			Exports: exportAll("allowed"),
		}}},
	})
	require.NoError(t, err)

	cp, ok := prog.Policy("acme/billing", "gate")
	require.True(t, ok)
	assert.Equal(t, []string{"allowed"}, cp.Exports())
	assert.Equal(t, "acme/billing/gate", cp.FQN())
}

func TestLoadDuplicatePolicy(t *testing.T) {
	_, err := Load([]ast.Namespace{{Path: "test", Policies: []ast.Policy{
		emptyPolicy("p"), emptyPolicy("p"),
	}}})
	assert.ErrorIs(t, err, domain.ErrDuplicateField)
}

func TestConstraintArgsMustBeLiterals(t *testing.T) {
	_, err := Load([]ast.Namespace{{Path: "test", Shapes: []ast.Shape{{
		Name: "S",
		Fields: []ast.Field{{
			Name: "n",
			Type: ast.Named("number"),
			Constraints: []ast.Constraint{{
				Name: "min",
				Args: []ast.Expr{bin(ast.OpAdd, num(1), num(1))},
			}},
		}},
	}}}})
	require.Error(t, err)
}

func TestAttachmentSelfReferenceLoads(t *testing.T) {
	// An attachment reading its own rule's decision is legal: the decision is
	// memoized before attachments resolve, so no cycle exists at runtime.
	_, err := loadOne(t, ast.Policy{
		Name:  "attached",
		Rules: []ast.Rule{yieldRule("score", num(42))},
		Exports: []ast.Export{{Rule: "score", Attachments: []ast.Attachment{
			{Name: "echo", Expr: member(id("score"), "value")},
		}}},
	})
	assert.NoError(t, err)
}

func TestLoadedProgramIsQueryable(t *testing.T) {
	prog, err := loadOne(t, emptyPolicy("q"))
	require.NoError(t, err)
	assert.Equal(t, []string{"test/q"}, prog.Policies())

	_, ok := prog.Policy("test", "missing")
	assert.False(t, ok)
}
