package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/BaSui01/memflow/types"
)

func TestMongoDocument_RoundTrip(t *testing.T) {
	t.Parallel()

	item := &types.MemoryItem{
		ID:        "m1",
		Content:   "document memory",
		Fields:    map[string]any{"source": "api"},
		Embedding: []float32{0.1, 0.2},
		Metadata: types.Metadata{
			Tier:           types.TierLTM,
			Tags:           []string{"doc"},
			Importance:     0.7,
			Strength:       0.7,
			AccessCount:    3,
			CreatedAt:      time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			LastAccessedAt: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
		},
	}

	assert.Equal(t, item, fromDocument(toDocument(item)))
}

func TestMongoDocumentFilter(t *testing.T) {
	t.Parallel()

	out := documentFilter(map[string]any{
		"tier":           "mtm",
		"tag":            "work",
		"min_importance": 0.5,
	})
	assert.Equal(t, "mtm", out["tier"])
	assert.Equal(t, "work", out["tags"])
	assert.Equal(t, bson.M{"$gte": 0.5}, out["importance"])

	assert.Empty(t, documentFilter(nil))
}

// TestMongoBackend_Integration exercises a real server; set
// MEMFLOW_TEST_MONGO_URI to run it.
func TestMongoBackend_Integration(t *testing.T) {
	uri := os.Getenv("MEMFLOW_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("MEMFLOW_TEST_MONGO_URI not set")
	}

	ctx := context.Background()
	b := NewMongoBackend(MongoConfig{
		URI:        uri,
		Database:   "memflow_test",
		Collection: "memories_test",
	}, nil)
	require.NoError(t, b.Initialize(ctx))
	t.Cleanup(func() { _ = b.Shutdown(ctx) })

	id, err := b.Store(ctx, &types.MemoryItem{Content: "integration"})
	require.NoError(t, err)
	t.Cleanup(func() { _, _ = b.Delete(ctx, id) })

	got, err := b.Retrieve(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "integration", got.Content)
}
