package value

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEqual(t *testing.T) {
	cases := []struct {
		name string
		a, b Value
		want bool
	}{
		{"numbers", Number(3), Number(3), true},
		{"numbers differ", Number(3), Number(4), false},
		{"strings", String("a"), String("a"), true},
		{"kind mismatch", Number(1), String("1"), false},
		{"undefined", Undefined, Undefined, true},
		{"undefined vs null", Undefined, Null, false},
		{"lists", List(Number(1), Number(2)), List(Number(1), Number(2)), true},
		{"lists differ", List(Number(1)), List(Number(2)), false},
		{"lists length", List(Number(1)), List(Number(1), Number(2)), false},
		{"records", Record(Number(1), String("x")), Record(Number(1), String("x")), true},
		{
			"maps key order irrelevant",
			Map(map[string]Value{"a": Number(1), "b": Number(2)}),
			Map(map[string]Value{"b": Number(2), "a": Number(1)}),
			true,
		},
		{
			"maps differ",
			Map(map[string]Value{"a": Number(1)}),
			Map(map[string]Value{"a": Number(2)}),
			false,
		},
		{
			"documents",
			Document(map[string]any{"role": "admin", "n": 1.0}),
			Document(map[string]any{"n": 1.0, "role": "admin"}),
			true,
		},
		{"nil documents", Document(nil), Document(nil), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Equal(tc.a, tc.b))
		})
	}
}

func TestCompare(t *testing.T) {
	assert.Equal(t, OrderedLess, Compare(Number(1), Number(2)))
	assert.Equal(t, OrderedGreater, Compare(Number(2), Number(1)))
	assert.Equal(t, OrderedEqual, Compare(Number(2), Number(2)))
	assert.Equal(t, OrderedLess, Compare(String("a"), String("b")))
	assert.Equal(t, Unordered, Compare(Number(1), String("a")))
	assert.Equal(t, Unordered, Compare(TrueValue, FalseValue))
}

func TestFieldAccess(t *testing.T) {
	m := Map(map[string]Value{"role": String("admin")})

	got, err := m.Field("role")
	require.NoError(t, err)
	assert.True(t, Equal(got, String("admin")))

	missing, err := m.Field("nope")
	require.NoError(t, err)
	assert.True(t, missing.IsUndefined())

	doc := Document(map[string]any{"status": "active"})
	got, err = doc.Field("status")
	require.NoError(t, err)
	assert.True(t, Equal(got, String("active")))
}

func TestDecisionValue(t *testing.T) {
	resolved := 0
	dec := Decision(True, String("ok"), func() (map[string]Value, error) {
		resolved++
		return map[string]Value{"note": String("hi")}, nil
	})

	// Attachments stay unresolved until asked for.
	assert.Equal(t, 0, resolved)
	assert.Equal(t, True, Truthy(dec))

	state, err := dec.Field("state")
	require.NoError(t, err)
	assert.True(t, Equal(state, TrueValue))
	assert.Equal(t, 0, resolved)

	note, err := dec.Field("note")
	require.NoError(t, err)
	assert.True(t, Equal(note, String("hi")))
	assert.Equal(t, 1, resolved)
}

func TestJSONRoundTrip(t *testing.T) {
	raw := map[string]any{
		"name":   "ada",
		"age":    36.0,
		"active": true,
		"tags":   []any{"a", "b"},
		"extra":  nil,
	}
	v := FromJSON(raw)
	require.Equal(t, KindMap, v.Kind())

	fields := v.Fields()
	assert.True(t, Equal(fields["name"], String("ada")))
	assert.True(t, Equal(fields["age"], Number(36)))
	assert.True(t, Equal(fields["active"], TrueValue))
	assert.True(t, Equal(fields["extra"], Null))
	assert.Equal(t, KindList, fields["tags"].Kind())

	out := ToJSON(v).(map[string]any)
	assert.Equal(t, "ada", out["name"])
	assert.Equal(t, 36.0, out["age"])
	assert.Equal(t, "TRUE", out["active"])
	assert.Nil(t, out["extra"])
}

func TestLen(t *testing.T) {
	assert.Equal(t, 3, List(Number(1), Number(2), Number(3)).Len())
	assert.Equal(t, 1, Map(map[string]Value{"a": Number(1)}).Len())
	assert.Equal(t, 5, String("hello").Len())
	assert.Equal(t, -1, Number(1).Len())
}
