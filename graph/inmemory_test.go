package graph

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/memflow/types"
)

func newTestGraph(t *testing.T) *InMemoryGraph {
	t.Helper()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	g := NewInMemoryGraph(InMemoryGraphConfig{
		Now: func() time.Time {
			now = now.Add(time.Second)
			return now
		},
	}, nil)
	require.NoError(t, g.Initialize(context.Background()))
	return g
}

func addRel(t *testing.T, g Backend, source, target, relType string, strength float64) {
	t.Helper()
	require.NoError(t, g.AddRelationship(context.Background(), &Relationship{
		SourceID: source,
		TargetID: target,
		Type:     relType,
		Strength: strength,
	}))
}

func TestInMemoryGraph_GetRelatedFiltering(t *testing.T) {
	t.Parallel()

	g := newTestGraph(t)
	ctx := context.Background()

	addRel(t, g, "source", "target", "semantic", 0.9)
	addRel(t, g, "source", "alt", "causal", 0.4)

	got, err := g.GetRelated(ctx, "source", RelatedOptions{Type: "semantic", MinStrength: 0.5})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "target", got[0].TargetID)
	assert.Equal(t, 0.9, got[0].Strength)
}

func TestInMemoryGraph_GetRelatedOrderAndLimit(t *testing.T) {
	t.Parallel()

	g := newTestGraph(t)
	ctx := context.Background()

	addRel(t, g, "n", "weak", "ref", 0.2)
	addRel(t, g, "n", "strong", "ref", 0.9)
	addRel(t, g, "n", "mid", "ref", 0.5)

	got, err := g.GetRelated(ctx, "n", RelatedOptions{})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "strong", got[0].TargetID)
	assert.Equal(t, "mid", got[1].TargetID)
	assert.Equal(t, "weak", got[2].TargetID)

	got, err = g.GetRelated(ctx, "n", RelatedOptions{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestInMemoryGraph_UpsertSemantics(t *testing.T) {
	t.Parallel()

	g := newTestGraph(t)
	ctx := context.Background()

	addRel(t, g, "a", "b", "semantic", 0.3)
	addRel(t, g, "a", "b", "causal", 0.6)
	// Re-adding the same (source, target, type) overwrites, never duplicates.
	addRel(t, g, "a", "b", "semantic", 0.8)

	got, err := g.GetRelated(ctx, "a", RelatedOptions{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "semantic", got[0].Type)
	assert.Equal(t, 0.8, got[0].Strength)
	assert.True(t, got[0].UpdatedAt.After(got[0].CreatedAt), "upsert keeps creation time")
}

func TestInMemoryGraph_RemoveRelationship(t *testing.T) {
	t.Parallel()

	g := newTestGraph(t)
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

	// Untyped removal drops everything between the pair.
	removed, err = g.RemoveRelationship(ctx, "a", "b", "")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = g.RemoveRelationship(ctx, "a", "b", "")
	require.NoError(t, err)
	assert.False(t, removed, "nothing left to remove")
}

func TestInMemoryGraph_RemoveNodeCascades(t *testing.T) {
	t.Parallel()

	g := newTestGraph(t)
	ctx := context.Background()

	addRel(t, g, "n", "out1", "ref", 0.5)
	addRel(t, g, "in1", "n", "ref", 0.5)
	addRel(t, g, "in1", "other", "ref", 0.5)

	require.NoError(t, g.RemoveNode(ctx, "n"))

	got, err := g.GetRelated(ctx, "n", RelatedOptions{})
	require.NoError(t, err)
	assert.Empty(t, got)

	// No edge referencing n survives from any other node.
	got, err = g.GetRelated(ctx, "in1", RelatedOptions{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "other", got[0].TargetID)

	// Absent-node removal is a no-op, not an error.
	require.NoError(t, g.RemoveNode(ctx, "never-existed"))
}

func TestInMemoryGraph_Validation(t *testing.T) {
	t.Parallel()

	g := newTestGraph(t)
	ctx := context.Background()

	err := g.AddRelationship(ctx, &Relationship{SourceID: "a", TargetID: "b", Type: "ref", Strength: 1.5})
	require.Error(t, err)
	assert.True(t, types.IsValidation(err))

	err = g.AddRelationship(ctx, &Relationship{SourceID: "a", TargetID: "b", Strength: 0.5})
	require.Error(t, err)
	assert.True(t, types.IsValidation(err))

	err = g.UpsertNode(ctx, "")
	require.Error(t, err)
	assert.True(t, types.IsValidation(err))
}

func TestInMemoryGraph_Counts(t *testing.T) {
	t.Parallel()

	g := newTestGraph(t)
	ctx := context.Background()

	require.NoError(t, g.UpsertNode(ctx, "lonely"))
	addRel(t, g, "a", "b", "ref", 0.5)
	addRel(t, g, "a", "b", "other", 0.5)

	counts, err := g.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), counts.Nodes)
	assert.Equal(t, int64(2), counts.Edges)
}
