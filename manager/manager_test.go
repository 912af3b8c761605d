package manager

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/memflow/config"
	"github.com/BaSui01/memflow/graph"
	"github.com/BaSui01/memflow/types"
)

func testConfig() config.Config {
	cfg := *config.DefaultConfig()
	cfg.MaintenanceInterval = 0 // no background loop in tests
	cfg.MetricsNamespace = ""
	// Map-backed LTM keeps tests self-contained and enumerable.
	cfg.Tiers.LTM.Backend = config.BackendConfig{Type: config.BackendMemory}
	return cfg
}

func newTestManager(t *testing.T, cfg config.Config) *Manager {
	t.Helper()
	m, err := New(cfg, Options{})
	require.NoError(t, err)
	require.NoError(t, m.Initialize(context.Background()))
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	return m
}

func TestNew_InvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Tiers.STM.Backend.Type = "cassandra"

	_, err := New(cfg, Options{})
	require.Error(t, err)
	assert.True(t, types.IsConfiguration(err))
}

func TestNew_ConflictingDimensions(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.EmbeddingDimension = 768
	cfg.Tiers.LTM.Backend.Dimension = 384

	_, err := New(cfg, Options{})
	require.Error(t, err)
	assert.True(t, types.IsConfiguration(err))
}

func TestManager_AddAndRetrieve(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, testConfig())
	ctx := context.Background()

	id, err := m.AddMemory(ctx, AddRequest{
		Content:    "remember the milk",
		Importance: 0.6,
		Tags:       []string{"todo"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := m.RetrieveMemory(ctx, id, "")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "remember the milk", got.Content)
	assert.Equal(t, types.TierSTM, got.Metadata.Tier, "empty tier defaults to STM")
	assert.Equal(t, 0.6, got.Metadata.Strength, "strength seeds from importance")
	assert.Equal(t, 1, got.Metadata.AccessCount, "retrieval bumps access count")

	got, err = m.RetrieveMemory(ctx, id, "")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Metadata.AccessCount)
}

func TestManager_AddValidation(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, testConfig())
	ctx := context.Background()

	_, err := m.AddMemory(ctx, AddRequest{Content: "x", Tier: "episodic"})
	require.Error(t, err)
	assert.True(t, types.IsValidation(err))

	_, err = m.AddMemory(ctx, AddRequest{Content: "x", Importance: 1.5})
	require.Error(t, err)
	assert.True(t, types.IsValidation(err))
}

func TestManager_RetrieveProbeOrder(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, testConfig())
	ctx := context.Background()

	id, err := m.AddMemory(ctx, AddRequest{Content: "episodic", Tier: types.TierMTM, Importance: 0.5})
	require.NoError(t, err)

	// Probing without a tier hint finds it in MTM.
	got, err := m.RetrieveMemory(ctx, id, "")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, types.TierMTM, got.Metadata.Tier)

	// An explicit wrong tier is absence, not an error.
	got, err = m.RetrieveMemory(ctx, id, types.TierSTM)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = m.RetrieveMemory(ctx, "unknown-id", "")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestManager_TransferMemory(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, testConfig())
	ctx := context.Background()

	id, err := m.AddMemory(ctx, AddRequest{Content: "transfer me", Importance: 0.6, Tier: types.TierSTM})
	require.NoError(t, err)

	moved, err := m.TransferMemory(ctx, id, types.TierMTM)
	require.NoError(t, err)
	require.NotNil(t, moved)
	assert.Equal(t, types.TierMTM, moved.Metadata.Tier)

	// The source no longer holds it; the destination does.
	got, err := m.RetrieveMemory(ctx, id, types.TierSTM)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = m.RetrieveMemory(ctx, id, types.TierMTM)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "transfer me", got.Content)
	assert.Equal(t, types.TierMTM, got.Metadata.Tier)
}

func TestManager_TransferNoOpAndAbsent(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, testConfig())
	ctx := context.Background()

	id, err := m.AddMemory(ctx, AddRequest{Content: "stay", Tier: types.TierMTM, Importance: 0.5})
	require.NoError(t, err)

	same, err := m.TransferMemory(ctx, id, types.TierMTM)
	require.NoError(t, err)
	require.NotNil(t, same, "transfer to the current tier is a no-op")

	got, err := m.TransferMemory(ctx, "missing", types.TierLTM)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = m.TransferMemory(ctx, id, "episodic")
	require.Error(t, err)
	assert.True(t, types.IsValidation(err))
}

func TestManager_SearchMergesAcrossTiers(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.EmbeddingDimension = 2
	m := newTestManager(t, cfg)
	ctx := context.Background()

	add := func(content string, tierName types.Tier, emb []float32) {
		_, err := m.AddMemory(ctx, AddRequest{Content: content, Tier: tierName, Importance: 0.5, Embedding: emb})
		require.NoError(t, err)
	}
	add("stm close", types.TierSTM, []float32{1, 0.2})
	add("mtm exact", types.TierMTM, []float32{1, 0})
	add("ltm far", types.TierLTM, []float32{0, 1})

	hits, err := m.SearchMemories(ctx, SearchRequest{Embedding: []float32{1, 0}, Limit: 2})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "mtm exact", hits[0].Item.Content)
	assert.Equal(t, "stm close", hits[1].Item.Content)
	assert.GreaterOrEqual(t, hits[0].Score, hits[1].Score)

	// Restricting tiers drops the best hit.
	hits, err = m.SearchMemories(ctx, SearchRequest{
		Embedding: []float32{1, 0},
		Tiers:     []types.Tier{types.TierSTM, types.TierLTM},
		Limit:     10,
	})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "stm close", hits[0].Item.Content)

	_, err = m.SearchMemories(ctx, SearchRequest{Tiers: []types.Tier{"bogus"}, Limit: 5})
	require.Error(t, err)
	assert.True(t, types.IsValidation(err))
}

func TestManager_ForgetCascadesGraph(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, testConfig())
	ctx := context.Background()

	id, err := m.AddMemory(ctx, AddRequest{Content: "doomed", Importance: 0.5})
	require.NoError(t, err)
	other, err := m.AddMemory(ctx, AddRequest{Content: "survivor", Importance: 0.5})
	require.NoError(t, err)

	g := m.Graph()
	require.NotNil(t, g)
	require.NoError(t, g.AddRelationship(ctx, &graph.Relationship{
		SourceID: other, TargetID: id, Type: "semantic", Strength: 0.8,
	}))

	removed, err := m.ForgetMemory(ctx, id)
	require.NoError(t, err)
	assert.True(t, removed)

	got, err := m.RetrieveMemory(ctx, id, "")
	require.NoError(t, err)
	assert.Nil(t, got)

	related, err := g.GetRelated(ctx, other, graph.RelatedOptions{})
	require.NoError(t, err)
	assert.Empty(t, related, "node removal cascades through the graph")

	removed, err = m.ForgetMemory(ctx, id)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestManager_DecayAndStrengthen(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, testConfig())
	ctx := context.Background()

	id, err := m.AddMemory(ctx, AddRequest{Content: "x", Importance: 0.5})
	require.NoError(t, err)

	require.NoError(t, m.DecayMemory(ctx, id, 0.2))
	strength, err := m.MemoryStrength(ctx, id)
	require.NoError(t, err)
	assert.InDelta(t, 0.3, strength, 1e-9)

	require.NoError(t, m.StrengthenMemory(ctx, id, 0.4))
	strength, err = m.MemoryStrength(ctx, id)
	require.NoError(t, err)
	assert.InDelta(t, 0.7, strength, 1e-9)

	err = m.DecayMemory(ctx, id, -0.1)
	require.Error(t, err)
	assert.True(t, types.IsValidation(err))

	err = m.DecayMemory(ctx, "missing", 0.1)
	require.Error(t, err)
	assert.True(t, types.IsNotFound(err))

	err = m.StrengthenMemory(ctx, "missing", 0.1)
	require.Error(t, err)
	assert.True(t, types.IsNotFound(err))
}

func TestManager_Maintenance(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Tiers.STM.DecayRate = 0.1
	cfg.Tiers.STM.PromotionThreshold = 0.8
	cfg.Tiers.STM.RetentionFloor = 0.2
	cfg.Tiers.MTM.DecayRate = 0.05
	cfg.Tiers.MTM.PromotionThreshold = 0.9
	cfg.Tiers.MTM.RetentionFloor = 0.1
	m := newTestManager(t, cfg)
	ctx := context.Background()

	promoteID, err := m.AddMemory(ctx, AddRequest{Content: "promote", Tier: types.TierSTM, Importance: 0.9})
	require.NoError(t, err)
	stayID, err := m.AddMemory(ctx, AddRequest{Content: "stay", Tier: types.TierSTM, Importance: 0.5})
	require.NoError(t, err)
	forgetID, err := m.AddMemory(ctx, AddRequest{Content: "fade", Tier: types.TierSTM, Importance: 0.25})
	require.NoError(t, err)
	demoteID, err := m.AddMemory(ctx, AddRequest{Content: "demote", Tier: types.TierMTM, Importance: 0.12})
	require.NoError(t, err)

	result := m.RunMaintenance(ctx)
	require.NoError(t, result.Err())
	assert.Equal(t, 4, result.Decayed)
	assert.Equal(t, 1, result.Promoted)
	assert.Equal(t, 1, result.Demoted)
	assert.Equal(t, 1, result.Forgotten)

	got, err := m.RetrieveMemory(ctx, promoteID, types.TierMTM)
	require.NoError(t, err)
	require.NotNil(t, got, "0.9 - 0.1 crosses the 0.8 promotion threshold")
	assert.Equal(t, types.TierMTM, got.Metadata.Tier)

	got, err = m.RetrieveMemory(ctx, stayID, types.TierSTM)
	require.NoError(t, err)
	assert.NotNil(t, got)

	got, err = m.RetrieveMemory(ctx, forgetID, "")
	require.NoError(t, err)
	assert.Nil(t, got, "STM items under the retention floor are forgotten")

	got, err = m.RetrieveMemory(ctx, demoteID, types.TierSTM)
	require.NoError(t, err)
	require.NotNil(t, got, "MTM items under the retention floor demote to STM")
	assert.Equal(t, types.TierSTM, got.Metadata.Tier)
}

func TestManager_MaintenanceEvictsOverflow(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Tiers.STM.Capacity = 2
	cfg.Tiers.STM.DecayRate = 0
	cfg.Tiers.STM.PromotionThreshold = 1.01
	cfg.Tiers.STM.RetentionFloor = 0
	m := newTestManager(t, cfg)
	ctx := context.Background()

	weakID, err := m.AddMemory(ctx, AddRequest{Content: "weak", Importance: 0.1})
	require.NoError(t, err)
	for _, imp := range []float64{0.5, 0.9} {
		_, err := m.AddMemory(ctx, AddRequest{Content: "keeper", Importance: imp})
		require.NoError(t, err)
	}

	result := m.RunMaintenance(ctx)
	require.NoError(t, result.Err())
	assert.Equal(t, 1, result.Evicted)

	got, err := m.RetrieveMemory(ctx, weakID, "")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestManager_Stats(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.MetricsNamespace = "memflow_test"
	m, err := New(cfg, Options{Registerer: prometheus.NewRegistry()})
	require.NoError(t, err)
	require.NoError(t, m.Initialize(context.Background()))
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })

	ctx := context.Background()
	_, err = m.AddMemory(ctx, AddRequest{Content: "a", Importance: 0.5})
	require.NoError(t, err)
	_, err = m.AddMemory(ctx, AddRequest{Content: "b", Tier: types.TierMTM, Importance: 0.5})
	require.NoError(t, err)

	stats := m.Stats(ctx)
	require.Len(t, stats, 3)
	assert.Equal(t, int64(1), stats[types.TierSTM].ItemCount)
	assert.Equal(t, int64(1), stats[types.TierMTM].ItemCount)
	assert.Equal(t, int64(0), stats[types.TierLTM].ItemCount)
	assert.Equal(t, "inmemory", stats[types.TierSTM].BackendType)
}

func TestManager_LifecycleGuards(t *testing.T) {
	t.Parallel()

	m, err := New(testConfig(), Options{})
	require.NoError(t, err)

	// Operations before Initialize are rejected.
	_, err = m.AddMemory(context.Background(), AddRequest{Content: "x"})
	require.Error(t, err)
	assert.Equal(t, types.ErrShutdown, types.GetErrorCode(err))

	require.NoError(t, m.Initialize(context.Background()))
	require.NoError(t, m.Initialize(context.Background()), "initialize is idempotent")

	require.NoError(t, m.Shutdown(context.Background()))
	require.NoError(t, m.Shutdown(context.Background()), "shutdown is idempotent")

	_, err = m.RetrieveMemory(context.Background(), "any", "")
	require.Error(t, err)
	assert.Equal(t, types.ErrShutdown, types.GetErrorCode(err))

	err = m.Initialize(context.Background())
	require.Error(t, err, "a shut-down manager does not come back")
}

func TestManager_TransferPreservesZeroStrength(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, testConfig())
	ctx := context.Background()

	id, err := m.AddMemory(ctx, AddRequest{Content: "faded", Importance: 0.6})
	require.NoError(t, err)

	require.NoError(t, m.DecayMemory(ctx, id, 0.6))
	strength, err := m.MemoryStrength(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 0.0, strength)

	moved, err := m.TransferMemory(ctx, id, types.TierMTM)
	require.NoError(t, err)
	require.NotNil(t, moved)
	assert.Equal(t, types.TierMTM, moved.Metadata.Tier)

	strength, err = m.MemoryStrength(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 0.0, strength, "a transfer relocates the item without touching strength")
}

func TestManager_StatsAfterShutdown(t *testing.T) {
	t.Parallel()

	m, err := New(testConfig(), Options{})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, m.Initialize(ctx))
	require.NoError(t, m.Shutdown(ctx))

	stats := m.Stats(ctx)
	assert.Empty(t, stats, "a closed manager reports no snapshots instead of probing closed backends")
}
