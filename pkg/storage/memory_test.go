package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbiterhq/arbiter/pkg/ast"
	"github.com/arbiterhq/arbiter/pkg/engine"
	"github.com/arbiterhq/arbiter/pkg/value"
)

func testRevision(t *testing.T, id string) *Revision {
	t.Helper()
	prog, err := engine.Load([]ast.Namespace{{Path: "test", Policies: []ast.Policy{{
		Name:    "p",
		Rules:   []ast.Rule{{Name: "ok", Yield: &ast.Literal{Value: value.TrueValue}}},
		Exports: []ast.Export{{Rule: "ok"}},
	}}}})
	require.NoError(t, err)
	return &Revision{ID: id, Program: prog, LoadedAt: time.Now()}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	s := NewMemoryStore(0)
	ctx := context.Background()

	_, err := s.Latest(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	rev := testRevision(t, "r1")
	require.NoError(t, s.Save(ctx, rev))

	got, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Same(t, rev.Program, got.Program)

	latest, err := s.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "r1", latest.ID)

	_, err = s.Get(ctx, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreRejectsDuplicateID(t *testing.T) {
	s := NewMemoryStore(0)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, testRevision(t, "r1")))
	assert.Error(t, s.Save(ctx, testRevision(t, "r1")))
}

func TestMemoryStoreEvictsPastCap(t *testing.T) {
	s := NewMemoryStore(2)
	ctx := context.Background()
	for _, id := range []string{"r1", "r2", "r3"} {
		require.NoError(t, s.Save(ctx, testRevision(t, id)))
	}

	ids, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"r2", "r3"}, ids)

	_, err = s.Get(ctx, "r1")
	assert.ErrorIs(t, err, ErrNotFound)

	latest, err := s.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "r3", latest.ID)
}
