package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/memflow/types"
)

// failingStatsBackend fails every stats call; everything else is unused.
type failingStatsBackend struct {
	Backend
}

func (failingStatsBackend) Stats(context.Context) (Stats, error) {
	return Stats{}, errors.New("backend unreachable")
}

func TestCollectStats_DegradesFailure(t *testing.T) {
	t.Parallel()

	st := CollectStats(context.Background(), failingStatsBackend{})
	assert.Equal(t, int64(0), st.ItemCount)
	assert.Equal(t, "storage.failingStatsBackend", st.BackendType)
	assert.Equal(t, "backend unreachable", st.AdditionalInfo["error"])
}

func TestCollectStats_PassesThrough(t *testing.T) {
	t.Parallel()

	b := NewInMemoryBackend(InMemoryConfig{}, nil)
	require.NoError(t, b.Initialize(context.Background()))

	_, err := b.Store(context.Background(), &types.MemoryItem{Content: "x"})
	require.NoError(t, err)

	st := CollectStats(context.Background(), b)
	assert.Equal(t, "inmemory", st.BackendType)
	assert.Equal(t, int64(1), st.ItemCount)
}

func TestMatchesFilters(t *testing.T) {
	t.Parallel()

	item := &types.MemoryItem{
		ID:      "m1",
		Content: "note",
		Fields:  map[string]any{"source": "chat"},
		Metadata: types.Metadata{
			Tier:       types.TierMTM,
			Tags:       []string{"project", "urgent"},
			Importance: 0.7,
		},
	}

	assert.True(t, MatchesFilters(item, nil))
	assert.True(t, MatchesFilters(item, map[string]any{"tier": "mtm"}))
	assert.False(t, MatchesFilters(item, map[string]any{"tier": "stm"}))
	assert.True(t, MatchesFilters(item, map[string]any{"tag": "urgent"}))
	assert.False(t, MatchesFilters(item, map[string]any{"tag": "casual"}))
	assert.True(t, MatchesFilters(item, map[string]any{"min_importance": 0.5}))
	assert.False(t, MatchesFilters(item, map[string]any{"min_importance": 0.9}))
	assert.True(t, MatchesFilters(item, map[string]any{"source": "chat"}))
	assert.False(t, MatchesFilters(item, map[string]any{"source": "email"}))
	assert.True(t, MatchesFilters(item, map[string]any{"tier": "mtm", "tag": "project", "min_importance": 0.7}))
}

func TestCosineSimilarity(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 0}, []float32{2, 0}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, CosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Equal(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{1}), "length mismatch")
	assert.Equal(t, 0.0, CosineSimilarity(nil, nil))
	assert.Equal(t, 0.0, CosineSimilarity([]float32{0, 0}, []float32{1, 1}), "zero norm")
}

func TestLexicalScore(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1.0, LexicalScore("The quick brown fox", "quick fox"))
	assert.Equal(t, 0.5, LexicalScore("The quick brown fox", "quick wolf"))
	assert.Equal(t, 0.0, LexicalScore("The quick brown fox", "lazy dog"))
	assert.Equal(t, 0.0, LexicalScore("anything", ""))
	assert.Equal(t, 1.0, LexicalScore("CASE insensitive", "case INSENSITIVE"))
}

func TestSortScored_OrderAndTieBreak(t *testing.T) {
	t.Parallel()

	results := []ScoredItem{
		{Item: &types.MemoryItem{ID: "b"}, Score: 0.5},
		{Item: &types.MemoryItem{ID: "a"}, Score: 0.5},
		{Item: &types.MemoryItem{ID: "c"}, Score: 0.9},
	}

	sorted := SortScored(results, 10)
	require.Len(t, sorted, 3)
	assert.Equal(t, "c", sorted[0].Item.ID)
	assert.Equal(t, "a", sorted[1].Item.ID, "ties break by ascending id")
	assert.Equal(t, "b", sorted[2].Item.ID)

	truncated := SortScored(results, 2)
	assert.Len(t, truncated, 2)
}
