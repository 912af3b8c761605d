package graph

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/memflow/types"
)

func newTestRedisGraph(t *testing.T) *RedisGraph {
	t.Helper()
	mr := miniredis.RunT(t)
	g := NewRedisGraph(RedisGraphConfig{Addr: mr.Addr()}, nil)
	require.NoError(t, g.Initialize(context.Background()))
	t.Cleanup(func() { _ = g.Shutdown(context.Background()) })
	return g
}

func TestRedisGraph_GetRelatedFiltering(t *testing.T) {
	t.Parallel()

	g := newTestRedisGraph(t)
	ctx := context.Background()

	addRel(t, g, "source", "target", "semantic", 0.9)
	addRel(t, g, "source", "alt", "causal", 0.4)

	got, err := g.GetRelated(ctx, "source", RelatedOptions{Type: "semantic", MinStrength: 0.5})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "target", got[0].TargetID)
	assert.Equal(t, 0.9, got[0].Strength)
}

func TestRedisGraph_GetRelatedOrderAndLimit(t *testing.T) {
	t.Parallel()

	g := newTestRedisGraph(t)
	ctx := context.Background()

	addRel(t, g, "n", "weak", "ref", 0.2)
	addRel(t, g, "n", "strong", "ref", 0.9)
	addRel(t, g, "n", "mid", "ref", 0.5)

	got, err := g.GetRelated(ctx, "n", RelatedOptions{MinStrength: 0.3})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "strong", got[0].TargetID)
	assert.Equal(t, "mid", got[1].TargetID)

	got, err = g.GetRelated(ctx, "n", RelatedOptions{Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "strong", got[0].TargetID)
}

func TestRedisGraph_UpsertSemantics(t *testing.T) {
	t.Parallel()

	g := newTestRedisGraph(t)
	ctx := context.Background()

	addRel(t, g, "a", "b", "semantic", 0.3)
	addRel(t, g, "a", "b", "semantic", 0.8)

	got, err := g.GetRelated(ctx, "a", RelatedOptions{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 0.8, got[0].Strength)
	assert.False(t, got[0].CreatedAt.IsZero())
}

func TestRedisGraph_RemoveRelationship(t *testing.T) {
	t.Parallel()

	g := newTestRedisGraph(t)
	ctx := context.Background()

	addRel(t, g, "a", "b", "semantic", 0.5)
	addRel(t, g, "a", "b", "causal", 0.5)

	removed, err := g.RemoveRelationship(ctx, "a", "b", "semantic")
	require.NoError(t, err)
	assert.True(t, removed)

	got, err := g.GetRelated(ctx, "a", RelatedOptions{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "causal", got[0].Type)

	removed, err = g.RemoveRelationship(ctx, "a", "b", "")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = g.RemoveRelationship(ctx, "a", "b", "semantic")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestRedisGraph_RemoveNodeCascades(t *testing.T) {
	t.Parallel()

	g := newTestRedisGraph(t)
	ctx := context.Background()

	addRel(t, g, "n", "out1", "ref", 0.5)
	addRel(t, g, "in1", "n", "ref", 0.5)
	addRel(t, g, "in1", "other", "ref", 0.5)

	require.NoError(t, g.RemoveNode(ctx, "n"))

	got, err := g.GetRelated(ctx, "n", RelatedOptions{})
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = g.GetRelated(ctx, "in1", RelatedOptions{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "other", got[0].TargetID)

	require.NoError(t, g.RemoveNode(ctx, "never-existed"))
}

func TestRedisGraph_Counts(t *testing.T) {
	t.Parallel()

	g := newTestRedisGraph(t)
	ctx := context.Background()

	require.NoError(t, g.UpsertNode(ctx, "lonely"))
	addRel(t, g, "a", "b", "ref", 0.5)
	addRel(t, g, "a", "c", "ref", 0.5)

	counts, err := g.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), counts.Nodes)
	assert.Equal(t, int64(2), counts.Edges)
}

func TestRedisGraph_ShutdownRejectsOperations(t *testing.T) {
	t.Parallel()

	g := newTestRedisGraph(t)
	require.NoError(t, g.Shutdown(context.Background()))

	err := g.UpsertNode(context.Background(), "n")
	require.Error(t, err)
	assert.Equal(t, types.ErrShutdown, types.GetErrorCode(err))
}
