package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/BaSui01/memflow/types"
)

type ChromemConfig struct {
	// Collection names the chromem collection. Defaults to "memflow".
	Collection string

	// Dimension validates stored/search vectors when > 0.
	Dimension int

	// Now is used for tests. Defaults to time.Now.
	Now func() time.Time
}

// ChromemBackend is the vector-index backend, built on chromem-go, a pure
// Go embedded vector database. Item records are kept in a sidecar map
// (chromem has no get-by-id); the collection only serves similarity search,
// so items without embeddings are still fully retrievable.
type ChromemBackend struct {
	mu    sync.RWMutex
	db    *chromem.DB
	col   *chromem.Collection
	items map[string]*types.MemoryItem

	collection string
	dimension  int
	now        func() time.Time
	logger     *zap.Logger
}

func NewChromemBackend(config ChromemConfig, logger *zap.Logger) (*ChromemBackend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Collection == "" {
		config.Collection = "memflow"
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}
	return &ChromemBackend{
		items:      make(map[string]*types.MemoryItem),
		collection: config.Collection,
		dimension:  config.Dimension,
		now:        now,
		logger:     logger.With(zap.String("component", "backend_chromem")),
	}, nil
}

func (s *ChromemBackend) Initialize(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.col != nil {
		return nil
	}
	s.db = chromem.NewDB()

	// No embedding func: callers supply vectors. Default distance is cosine.
	col, err := s.db.CreateCollection(s.collection, nil, nil)
	if err != nil {
		return types.StorageError("create chromem collection", err)
	}
	s.col = col
	return nil
}

func (s *ChromemBackend) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// chromem keeps everything in memory; dropping references is teardown.
	s.db = nil
	s.col = nil
	s.items = make(map[string]*types.MemoryItem)
	return nil
}

func (s *ChromemBackend) Store(ctx context.Context, item *types.MemoryItem) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if item == nil {
		return "", types.ValidationError("item is required")
	}
	if s.dimension > 0 && len(item.Embedding) > 0 && len(item.Embedding) != s.dimension {
		return "", types.ValidationError("embedding dimension mismatch: got %d want %d", len(item.Embedding), s.dimension)
	}
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.Metadata.CreatedAt.IsZero() {
		item.Metadata.CreatedAt = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.col == nil {
		return "", types.NewError(types.ErrShutdown, "chromem backend not initialized")
	}

	_, existed := s.items[item.ID]
	s.items[item.ID] = item.Clone()

	if len(item.Embedding) == 0 {
		return item.ID, nil
	}
	if existed {
		// Upsert: chromem AddDocument rejects duplicate ids.
		if err := s.col.Delete(ctx, nil, nil, item.ID); err != nil {
			return "", types.StorageError("replace chromem document", err)
		}
	}
	doc := chromem.Document{
		ID:        item.ID,
		Content:   item.Content,
		Embedding: append([]float32(nil), item.Embedding...),
		Metadata:  map[string]string{"tier": string(item.Metadata.Tier)},
	}
	if err := s.col.AddDocument(ctx, doc); err != nil {
		return "", types.StorageError("add chromem document", err)
	}
	return item.ID, nil
}

func (s *ChromemBackend) Retrieve(ctx context.Context, id string) (*types.MemoryItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, types.ValidationError("id is required")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.items[id].Clone(), nil
}

func (s *ChromemBackend) Search(ctx context.Context, q Query) ([]ScoredItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if q.Limit <= 0 {
		return []ScoredItem{}, nil
	}
	if len(q.Embedding) == 0 {
		// Lexical fallback over the sidecar map.
		return s.scanSearch(ctx, q)
	}
	if s.dimension > 0 && len(q.Embedding) != s.dimension {
		return nil, types.ValidationError("query dimension mismatch: got %d want %d", len(q.Embedding), s.dimension)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.col == nil {
		return nil, types.NewError(types.ErrShutdown, "chromem backend not initialized")
	}

	// chromem requires nResults <= collection size.
	n := q.Limit
	count := s.col.Count()
	if len(q.Filters) > 0 {
		// Filters are applied after the index query and can discard
		// neighbors, so fetch the whole collection; SortScored
		// re-applies the limit.
		n = count
	}
	if n > count {
		n = count
	}
	if n == 0 {
		return []ScoredItem{}, nil
	}

	hits, err := s.col.QueryEmbedding(ctx, q.Embedding, n, nil, nil)
	if err != nil {
		return nil, types.StorageError("chromem query", err)
	}

	results := make([]ScoredItem, 0, len(hits))
	for _, hit := range hits {
		item, ok := s.items[hit.ID]
		if !ok {
			continue
		}
		if !MatchesFilters(item, q.Filters) {
			continue
		}
		results = append(results, ScoredItem{Item: item.Clone(), Score: float64(hit.Similarity)})
	}
	return SortScored(results, q.Limit), nil
}

func (s *ChromemBackend) scanSearch(ctx context.Context, q Query) ([]ScoredItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]ScoredItem, 0, len(s.items))
	for _, item := range s.items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !MatchesFilters(item, q.Filters) {
			continue
		}
		results = append(results, ScoredItem{Item: item.Clone(), Score: ScoreItem(item, q)})
	}
	return SortScored(results, q.Limit), nil
}

func (s *ChromemBackend) Delete(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return false, nil
	}
	delete(s.items, id)

	if s.col != nil && len(item.Embedding) > 0 {
		if err := s.col.Delete(ctx, nil, nil, id); err != nil {
			return true, types.StorageError("delete chromem document", err)
		}
	}
	return true, nil
}

func (s *ChromemBackend) Count(ctx context.Context, filters map[string]any) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, item := range s.items {
		if MatchesFilters(item, filters) {
			n++
		}
	}
	return n, nil
}

func (s *ChromemBackend) Stats(ctx context.Context) (Stats, error) {
	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	info := map[string]any{
		"collection": s.collection,
		"dimension":  s.dimension,
	}
	if s.col != nil {
		info["indexed_vectors"] = s.col.Count()
	}
	return Stats{
		BackendType:    "chromem",
		ItemCount:      int64(len(s.items)),
		AdditionalInfo: info,
	}, nil
}

// RetrieveAll implements BulkReader over the sidecar map, oldest first.
func (s *ChromemBackend) RetrieveAll(ctx context.Context, limit int) ([]*types.MemoryItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	items := make([]*types.MemoryItem, 0, len(s.items))
	for _, item := range s.items {
		items = append(items, item.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool {
		if !items[i].Metadata.CreatedAt.Equal(items[j].Metadata.CreatedAt) {
			return items[i].Metadata.CreatedAt.Before(items[j].Metadata.CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

var (
	_ Backend    = (*ChromemBackend)(nil)
	_ BulkReader = (*ChromemBackend)(nil)
)
