package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/memflow/types"
)

type InMemoryConfig struct {
	// Dimension validates stored/search vectors when > 0.
	Dimension int

	// Now is used for tests. Defaults to time.Now.
	Now func() time.Time
}

// InMemoryBackend is a plain map implementation of Backend. It is used for
// local development, tests, and small deployments.
type InMemoryBackend struct {
	mu    sync.RWMutex
	items map[string]*types.MemoryItem

	dimension int
	now       func() time.Time
	logger    *zap.Logger
}

func NewInMemoryBackend(config InMemoryConfig, logger *zap.Logger) *InMemoryBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}
	return &InMemoryBackend{
		items:     make(map[string]*types.MemoryItem),
		dimension: config.Dimension,
		now:       now,
		logger:    logger.With(zap.String("component", "backend_inmemory")),
	}
}

func (s *InMemoryBackend) Initialize(ctx context.Context) error {
	return ctx.Err()
}

func (s *InMemoryBackend) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]*types.MemoryItem)
	return nil
}

func (s *InMemoryBackend) Store(ctx context.Context, item *types.MemoryItem) (string, error) {
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

	s.items[item.ID] = item.Clone()
	return item.ID, nil
}

func (s *InMemoryBackend) Retrieve(ctx context.Context, id string) (*types.MemoryItem, error) {
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

func (s *InMemoryBackend) Search(ctx context.Context, q Query) ([]ScoredItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.dimension > 0 && len(q.Embedding) > 0 && len(q.Embedding) != s.dimension {
		return nil, types.ValidationError("query dimension mismatch: got %d want %d", len(q.Embedding), s.dimension)
	}
	if q.Limit <= 0 {
		return []ScoredItem{}, nil
	}

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

func (s *InMemoryBackend) Delete(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.items[id]
	delete(s.items, id)
	return ok, nil
}

func (s *InMemoryBackend) Count(ctx context.Context, filters map[string]any) (int64, error) {
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

func (s *InMemoryBackend) Stats(ctx context.Context) (Stats, error) {
	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		BackendType: "inmemory",
		ItemCount:   int64(len(s.items)),
		AdditionalInfo: map[string]any{
			"dimension": s.dimension,
		},
	}, nil
}

// RetrieveAll implements BulkReader, oldest first.
func (s *InMemoryBackend) RetrieveAll(ctx context.Context, limit int) ([]*types.MemoryItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*types.MemoryItem, 0, len(s.items))
	for _, item := range s.items {
		out = append(out, item.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Metadata.CreatedAt.Equal(out[j].Metadata.CreatedAt) {
			return out[i].Metadata.CreatedAt.Before(out[j].Metadata.CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var (
	_ Backend    = (*InMemoryBackend)(nil)
	_ BulkReader = (*InMemoryBackend)(nil)
)
