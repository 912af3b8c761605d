package manager

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/memflow/config"
	"github.com/BaSui01/memflow/graph"
	"github.com/BaSui01/memflow/internal/metrics"
	"github.com/BaSui01/memflow/storage"
	"github.com/BaSui01/memflow/tier"
	"github.com/BaSui01/memflow/types"
)

// Options carries construction-time dependencies; zero values select
// production behavior.
type Options struct {
	Logger *zap.Logger

	// Registerer receives the Prometheus metrics when the configuration
	// names a metrics namespace. Nil uses the default registerer.
	Registerer prometheus.Registerer

	// Now is used for tests. Defaults to time.Now.
	Now func() time.Time
}

// Manager is the orchestration core. All methods are safe for concurrent
// use; shutdown may be called concurrently with in-flight operations.
type Manager struct {
	cfg     config.Config
	tiers   map[types.Tier]*tier.Tier
	graph   graph.Backend
	metrics *metrics.Collector
	logger  *zap.Logger
	now     func() time.Time

	mu          sync.Mutex
	initialized bool
	closed      bool

	maintStop chan struct{}
	maintDone chan struct{}
	maintBusy sync.Mutex // TryLock gate: a still-running pass drops the next tick
}

// New validates the configuration and constructs the manager with all three
// tiers and the optional knowledge graph. Nothing is initialized yet;
// configuration problems surface here, never at first use.
func New(cfg config.Config, opts Options) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	dimension, err := cfg.ResolveEmbeddingDimension()
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	tiers := make(map[types.Tier]*tier.Tier, 3)
	for _, name := range types.Tiers() {
		tc := cfg.Tiers.Tier(name)
		backend, err := storage.New(tc.Backend, dimension, logger)
		if err != nil {
			return nil, err
		}
		t, err := tier.New(name, *tc, backend, tier.Options{Now: now}, logger)
		if err != nil {
			return nil, err
		}
		tiers[name] = t
	}

	g, err := graph.New(cfg.Graph, logger)
	if err != nil {
		return nil, err
	}

	var collector *metrics.Collector
	if cfg.MetricsNamespace != "" {
		collector = metrics.NewCollector(cfg.MetricsNamespace, opts.Registerer)
	}

	return &Manager{
		cfg:     cfg,
		tiers:   tiers,
		graph:   g,
		metrics: collector,
		logger:  logger.With(zap.String("component", "memory_manager")),
		now:     now,
	}, nil
}

// Tier exposes one tier for callers that need tier-level accessors.
func (m *Manager) Tier(name types.Tier) *tier.Tier { return m.tiers[name] }

// Graph exposes the shared knowledge graph backend, nil when disabled.
func (m *Manager) Graph() graph.Backend { return m.graph }

// Initialize brings up all three tiers in promotion order, then the graph,
// and starts the maintenance loop when an interval is configured.
// Idempotent.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return types.NewError(types.ErrShutdown, "manager already shut down")
	}
	if m.initialized {
		return nil
	}

	for _, name := range types.Tiers() {
		if err := m.tiers[name].Initialize(ctx); err != nil {
			return err
		}
	}
	if m.graph != nil {
		if err := m.graph.Initialize(ctx); err != nil {
			return err
		}
	}

	m.initialized = true
	if m.cfg.MaintenanceInterval > 0 {
		m.maintStop = make(chan struct{})
		m.maintDone = make(chan struct{})
		go m.maintenanceLoop()
	}

	m.logger.Info("memory manager initialized",
		zap.Duration("maintenance_interval", m.cfg.MaintenanceInterval))
	return nil
}

// shutdownWait bounds how long Shutdown waits for an in-flight maintenance
// pass before forcing teardown.
const shutdownWait = 5 * time.Second

// Shutdown stops maintenance and tears down every tier and the graph.
// Best-effort, all-components-attempted: one tier's failure never prevents
// the others from shutting down; failures are aggregated. Idempotent.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	stop, done := m.maintStop, m.maintDone
	m.mu.Unlock()

	if stop != nil {
		close(stop)
		select {
		case <-done:
		case <-time.After(shutdownWait):
			m.logger.Warn("maintenance loop did not stop in time, forcing teardown")
		case <-ctx.Done():
		}
	}

	var errs []error
	for _, name := range types.Tiers() {
		if err := m.tiers[name].Shutdown(ctx); err != nil {
			errs = append(errs, err)
			m.logger.Error("tier shutdown failed", zap.String("tier", string(name)), zap.Error(err))
		}
	}
	if m.graph != nil {
		if err := m.graph.Shutdown(ctx); err != nil {
			errs = append(errs, err)
			m.logger.Error("graph shutdown failed", zap.Error(err))
		}
	}

	m.logger.Info("memory manager shut down")
	return errors.Join(errs...)
}

// opContext bounds a backend-facing operation with the configured timeout.
func (m *Manager) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.cfg.OperationTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, m.cfg.OperationTimeout)
}

func (m *Manager) checkOpen() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return types.NewError(types.ErrShutdown, "manager already shut down")
	}
	if !m.initialized {
		return types.NewError(types.ErrShutdown, "manager not initialized")
	}
	return nil
}

// AddRequest carries the caller-supplied parts of a new memory.
type AddRequest struct {
	Content   string
	Fields    map[string]any
	Embedding []float32
	Tags      []string

	// Importance in [0, 1]; zero takes the tier default. Initial strength
	// is seeded from it.
	Importance float64

	// Tier is the initial tier; empty means STM.
	Tier types.Tier
}

// AddMemory stores a new memory into the requested tier and registers a
// knowledge-graph node for it. Returns the generated id.
func (m *Manager) AddMemory(ctx context.Context, req AddRequest) (string, error) {
	if err := m.checkOpen(); err != nil {
		return "", err
	}
	initial := req.Tier
	if initial == "" {
		initial = types.TierSTM
	}
	if !initial.Valid() {
		return "", types.ValidationError("unknown tier name: %s", req.Tier)
	}
	if req.Importance < 0 || req.Importance > 1 {
		return "", types.ValidationError("importance must be in [0, 1]: got %v", req.Importance)
	}

	start := m.now()
	opCtx, cancel := m.opContext(ctx)
	defer cancel()

	item := &types.MemoryItem{
		Content:   req.Content,
		Fields:    req.Fields,
		Embedding: req.Embedding,
		Metadata: types.Metadata{
			Tags:       req.Tags,
			Importance: req.Importance,
		},
	}
	id, err := m.tiers[initial].Store(opCtx, item)
	m.metrics.RecordOperation("add", string(initial), err, m.now().Sub(start))
	if err != nil {
		return "", err
	}

	if m.graph != nil {
		if err := m.graph.UpsertNode(opCtx, id); err != nil {
			// The graph node is associative garnish; the memory is stored.
			m.logger.Warn("graph node registration failed", zap.String("id", id), zap.Error(err))
		}
	}
	return id, nil
}

// RetrieveMemory returns the item, or (nil, nil) when no tier holds it.
// With an explicit tierName only that tier is consulted; otherwise tiers
// are probed STM → MTM → LTM and the first hit wins. A hit increments the
// item's access metadata.
func (m *Manager) RetrieveMemory(ctx context.Context, id string, tierName types.Tier) (*types.MemoryItem, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, types.ValidationError("id is required")
	}

	probe := types.Tiers()
	if tierName != "" {
		if !tierName.Valid() {
			return nil, types.ValidationError("unknown tier name: %s", tierName)
		}
		probe = []types.Tier{tierName}
	}

	start := m.now()
	opCtx, cancel := m.opContext(ctx)
	defer cancel()

	for _, name := range probe {
		t := m.tiers[name]
		item, err := t.Retrieve(opCtx, id)
		if err != nil {
			m.metrics.RecordOperation("retrieve", string(name), err, m.now().Sub(start))
			return nil, err
		}
		if item == nil {
			continue
		}
		if err := t.RecordAccess(opCtx, item); err != nil {
			// Access bookkeeping is best-effort; the read succeeded.
			m.logger.Warn("access metadata update failed", zap.String("id", id), zap.Error(err))
		}
		m.metrics.RecordOperation("retrieve", string(name), nil, m.now().Sub(start))
		return item, nil
	}
	m.metrics.RecordOperation("retrieve", "", nil, m.now().Sub(start))
	return nil, nil
}

// TransferMemory moves the item to the destination tier: read from the
// current tier, store into the destination, delete from the source. A
// failed source delete rolls the destination copy back so the item is
// never left in both tiers. Returns (nil, nil) when no tier holds the id.
func (m *Manager) TransferMemory(ctx context.Context, id string, destination types.Tier) (*types.MemoryItem, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, types.ValidationError("id is required")
	}
	if !destination.Valid() {
		return nil, types.ValidationError("unknown tier name: %s", destination)
	}

	opCtx, cancel := m.opContext(ctx)
	defer cancel()

	for _, name := range types.Tiers() {
		item, err := m.tiers[name].Retrieve(opCtx, id)
		if err != nil {
			return nil, err
		}
		if item == nil {
			continue
		}
		if name == destination {
			return item, nil
		}
		moved, err := m.transferBetween(opCtx, item, name, destination)
		m.metrics.RecordTransfer(string(name), string(destination), err)
		return moved, err
	}
	return nil, nil
}

// transferBetween performs the store-then-delete half of a transfer for an
// item already read from the source tier.
func (m *Manager) transferBetween(ctx context.Context, item *types.MemoryItem, source, destination types.Tier) (*types.MemoryItem, error) {
	copied := item.Clone()
	if _, err := m.tiers[destination].Accept(ctx, copied); err != nil {
		return nil, err
	}
	if _, err := m.tiers[source].Delete(ctx, item.ID); err != nil {
		// Roll the destination copy back rather than leave the item in
		// both tiers.
		if _, rbErr := m.tiers[destination].Delete(ctx, item.ID); rbErr != nil {
			m.logger.Error("transfer rollback failed",
				zap.String("id", item.ID),
				zap.String("destination", string(destination)),
				zap.Error(rbErr))
		}
		return nil, err
	}
	m.logger.Debug("memory transferred",
		zap.String("id", item.ID),
		zap.String("source", string(source)),
		zap.String("destination", string(destination)))
	return copied, nil
}

// SearchRequest selects tiers and narrows a search.
type SearchRequest struct {
	// Query is matched lexically by non-vector backends.
	Query string

	// Embedding drives similarity search on vector-capable backends. Its
	// length must equal the resolved embedding dimension.
	Embedding []float32

	// Tiers to fan out to; empty means all three.
	Tiers []types.Tier

	// Filters narrow candidates (tier, tag, min_importance).
	Filters map[string]any

	// Limit caps the merged result length.
	Limit int
}

// SearchMemories fans out to each requested tier concurrently and merges
// the results by descending score, capped to the limit. Tier inclusion
// order never affects ranking, only scores do.
func (m *Manager) SearchMemories(ctx context.Context, req SearchRequest) ([]storage.ScoredItem, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	if req.Limit <= 0 {
		return []storage.ScoredItem{}, nil
	}

	selected := req.Tiers
	if len(selected) == 0 {
		selected = types.Tiers()
	}
	for _, name := range selected {
		if !name.Valid() {
			return nil, types.ValidationError("unknown tier name: %s", name)
		}
	}

	start := m.now()
	opCtx, cancel := m.opContext(ctx)
	defer cancel()

	q := storage.Query{
		Text:      req.Query,
		Embedding: req.Embedding,
		Filters:   req.Filters,
		Limit:     req.Limit,
	}

	var (
		resultMu sync.Mutex
		merged   []storage.ScoredItem
	)
	g, gctx := errgroup.WithContext(opCtx)
	for _, name := range selected {
		t := m.tiers[name]
		g.Go(func() error {
			hits, err := t.Search(gctx, q)
			if err != nil {
				return err
			}
			resultMu.Lock()
			merged = append(merged, hits...)
			resultMu.Unlock()
			return nil
		})
	}
	err := g.Wait()
	m.metrics.RecordOperation("search", "", err, m.now().Sub(start))
	if err != nil {
		return nil, err
	}
	return storage.SortScored(merged, req.Limit), nil
}

// ForgetMemory removes the item from whichever tier holds it and cascades
// the removal through the knowledge graph. Reports whether anything was
// removed.
func (m *Manager) ForgetMemory(ctx context.Context, id string) (bool, error) {
	if err := m.checkOpen(); err != nil {
		return false, err
	}
	if id == "" {
		return false, types.ValidationError("id is required")
	}

	start := m.now()
	opCtx, cancel := m.opContext(ctx)
	defer cancel()

	removed := false
	for _, name := range types.Tiers() {
		ok, err := m.tiers[name].Delete(opCtx, id)
		if err != nil {
			m.metrics.RecordOperation("forget", string(name), err, m.now().Sub(start))
			return removed, err
		}
		if ok {
			removed = true
			break
		}
	}
	m.metrics.RecordOperation("forget", "", nil, m.now().Sub(start))

	if removed && m.graph != nil {
		if err := m.graph.RemoveNode(opCtx, id); err != nil {
			return true, err
		}
	}
	return removed, nil
}

// DecayMemory reduces the item's strength wherever it lives. A negative
// amount fails validation; an id no tier holds is NOT_FOUND.
func (m *Manager) DecayMemory(ctx context.Context, id string, amount float64) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	if amount < 0 {
		return types.ValidationError("decay amount must be non-negative: got %v", amount)
	}

	opCtx, cancel := m.opContext(ctx)
	defer cancel()

	for _, name := range types.Tiers() {
		ok, err := m.tiers[name].Decay(opCtx, id, amount)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return types.NotFoundError(id)
}

// StrengthenMemory raises the item's strength wherever it lives, the
// explicit reinforcement counterpart to decay.
func (m *Manager) StrengthenMemory(ctx context.Context, id string, amount float64) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	if amount < 0 {
		return types.ValidationError("strengthen amount must be non-negative: got %v", amount)
	}

	opCtx, cancel := m.opContext(ctx)
	defer cancel()

	for _, name := range types.Tiers() {
		ok, err := m.tiers[name].Strengthen(opCtx, id, amount)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return types.NotFoundError(id)
}

// MemoryStrength returns the item's current strength from whichever tier
// holds it.
func (m *Manager) MemoryStrength(ctx context.Context, id string) (float64, error) {
	if err := m.checkOpen(); err != nil {
		return 0, err
	}

	opCtx, cancel := m.opContext(ctx)
	defer cancel()

	for _, name := range types.Tiers() {
		item, err := m.tiers[name].Retrieve(opCtx, id)
		if err != nil {
			return 0, err
		}
		if item != nil {
			return item.Metadata.Strength, nil
		}
	}
	return 0, types.NotFoundError(id)
}

// Stats returns a best-effort per-tier snapshot and refreshes the item
// gauges. Failing backends yield placeholder entries, never errors.
func (m *Manager) Stats(ctx context.Context) map[types.Tier]storage.Stats {
	if err := m.checkOpen(); err != nil {
		return map[types.Tier]storage.Stats{}
	}

	opCtx, cancel := m.opContext(ctx)
	defer cancel()

	out := make(map[types.Tier]storage.Stats, len(m.tiers))
	for _, name := range types.Tiers() {
		st := m.tiers[name].Stats(opCtx)
		out[name] = st
		m.metrics.SetTierItems(string(name), st.ItemCount)
	}
	return out
}

// collectLTMMemories bulk-reads long-term memories for consolidation. A
// backend without bulk enumeration yields an empty sequence, not an error.
func (m *Manager) collectLTMMemories(ctx context.Context, limit int) ([]*types.MemoryItem, error) {
	t := m.tiers[types.TierLTM]
	if !t.CanEnumerate() {
		return nil, nil
	}
	return t.RetrieveAll(ctx, limit)
}
