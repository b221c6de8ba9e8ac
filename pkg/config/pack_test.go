package config

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbiterhq/arbiter/pkg/ast"
	"github.com/arbiterhq/arbiter/pkg/engine"
	"github.com/arbiterhq/arbiter/pkg/value"
)

const samplePack = `{
  "namespaces": [
    {
      "path": "acme/auth",
      "shapes": [
        {
          "name": "User",
          "export": true,
          "fields": [
            {"name": "role", "type": "string", "mode": "required_non_null",
             "constraints": [{"name": "nonEmpty", "args": []}]},
            {"name": "team", "type": "string", "mode": "optional"}
          ]
        }
      ],
      "policies": [
        {
          "name": "roles",
          "facts": [
            {"name": "u", "as": "user", "type": "User"}
          ],
          "lets": [
            {"name": "adminRole", "expr": {"node": "lit", "value": "admin"}}
          ],
          "rules": [
            {
              "name": "isAdmin",
              "yield": {
                "node": "binary", "op": "eq",
                "left": {"node": "member", "base": {"node": "ident", "name": "user"}, "name": "role"},
                "right": {"node": "ident", "name": "adminRole"}
              }
            }
          ],
          "exports": [
            {"rule": "isAdmin", "attachments": [
              {"name": "checked", "expr": {"node": "lit", "tri": "TRUE"}}
            ]}
          ]
        }
      ]
    }
  ]
}`

func TestParsePack(t *testing.T) {
	namespaces, err := ParsePack([]byte(samplePack))
	require.NoError(t, err)
	require.Len(t, namespaces, 1)

	ns := namespaces[0]
	assert.Equal(t, "acme/auth", ns.Path)
	require.Len(t, ns.Shapes, 1)
	assert.Equal(t, "User", ns.Shapes[0].Name)
	assert.True(t, ns.Shapes[0].Exported)
	require.Len(t, ns.Shapes[0].Fields, 2)
	assert.Equal(t, ast.FieldRequiredNonNull, ns.Shapes[0].Fields[0].Mode)
	assert.Equal(t, ast.FieldOptional, ns.Shapes[0].Fields[1].Mode)

	require.Len(t, ns.Policies, 1)
	pol := ns.Policies[0]
	require.Len(t, pol.Facts, 1)
	assert.Equal(t, "user", pol.Facts[0].ExposedName())
	require.Len(t, pol.Exports, 1)
	require.Len(t, pol.Exports[0].Attachments, 1)
}

func TestParsedPackLoadsAndEvaluates(t *testing.T) {
	namespaces, err := ParsePack([]byte(samplePack))
	require.NoError(t, err)

	prog, err := engine.Load(namespaces)
	require.NoError(t, err)
	e := engine.New(prog, engine.Options{})

	rep, err := e.Evaluate(context.Background(), "acme/auth", "roles", "isAdmin",
		map[string]value.Value{"user": value.Map(map[string]value.Value{
			"role": value.String("admin"),
		})})
	require.NoError(t, err)
	require.Len(t, rep.Decisions, 1)
	assert.Equal(t, "TRUE", rep.Decisions[0].Decision.State)
	assert.Equal(t, "TRUE", rep.Decisions[0].Attachments["checked"])
}

func TestParsePackExpressionNodes(t *testing.T) {
	raw := `{
	  "namespaces": [{
	    "path": "t",
	    "policies": [{
	      "name": "p",
	      "rules": [{
	        "name": "r",
	        "when": {"node": "unary", "op": "not", "x": {"node": "lit", "value": false}},
	        "default": {"node": "lit", "tri": "UNKNOWN"},
	        "lets": [{"name": "xs", "expr": {"node": "lit", "value": [1, 2, 3, 4]}}],
	        "yield": {
	          "node": "call", "name": "filter",
	          "args": [
	            {"node": "ident", "name": "xs"},
	            {"node": "lambda", "params": ["x"],
	             "body": {"node": "binary", "op": "eq",
	               "left": {"node": "binary", "op": "mod",
	                 "left": {"node": "ident", "name": "x"},
	                 "right": {"node": "lit", "value": 2}},
	               "right": {"node": "lit", "value": 0}}}
	          ]
	        }
	      }],
	      "exports": [{"rule": "r"}]
	    }]
	  }]
	}`

	namespaces, err := ParsePack([]byte(raw))
	require.NoError(t, err)

	prog, err := engine.Load(namespaces)
	require.NoError(t, err)
	e := engine.New(prog, engine.Options{})

	rep, err := e.Evaluate(context.Background(), "t", "p", "r", nil)
	require.NoError(t, err)
	require.Len(t, rep.Decisions, 1)
	assert.Equal(t, []any{float64(2), float64(4)}, rep.Decisions[0].Decision.Value)
}

func TestParsePackMemoizedHostCall(t *testing.T) {
	raw := `{
	  "namespaces": [{
	    "path": "t",
	    "policies": [{
	      "name": "p",
	      "rules": [{
	        "name": "r",
	        "yield": {"node": "call", "module": "geo", "name": "lookup",
	          "memo": {"ttl_seconds": 60},
	          "args": [{"node": "lit", "value": "1.2.3.4"}]}
	      }],
	      "exports": [{"rule": "r"}]
	    }]
	  }]
	}`

	namespaces, err := ParsePack([]byte(raw))
	require.NoError(t, err)
	pol := namespaces[0].Policies[0]
	call, ok := pol.Rules[0].Yield.(*ast.Call)
	require.True(t, ok)
	assert.Equal(t, "geo", call.Module)
	require.NotNil(t, call.Memo)
	assert.Equal(t, 60, call.Memo.TTLSeconds)
}

func TestParsePackRejectsUnknownNode(t *testing.T) {
	_, err := ParsePack([]byte(`{
	  "namespaces": [{
	    "path": "t",
	    "policies": [{
	      "name": "p",
	      "rules": [{"name": "r", "yield": {"node": "teleport"}}],
	      "exports": [{"rule": "r"}]
	    }]
	  }]
	}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "teleport")
}

func TestParsePackRejectsEmptyNamespacePath(t *testing.T) {
	_, err := ParsePack([]byte(`{"namespaces": [{"path": ""}]}`))
	require.Error(t, err)
}

func TestParseTypeRef(t *testing.T) {
	cases := []struct {
		in   string
		want ast.TypeRef
	}{
		{"number", ast.Named("number")},
		{"User", ast.Named("User")},
		{"list<number>", ast.ListOf(ast.Named("number"))},
		{"map<string>", ast.MapOf(ast.Named("string"))},
		{"list<map<string>>", ast.ListOf(ast.MapOf(ast.Named("string")))},
		{"record<string, number>", ast.RecordOf(ast.Named("string"), ast.Named("number"))},
	}
	for _, tc := range cases {
		got, err := parseTypeRef(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}

	for _, bad := range []string{"", "list<>", "list<a,b>", "set<a>", "list<a", "a>b", "record<>"} {
		_, err := parseTypeRef(bad)
		assert.Error(t, err, bad)
	}
}
