package storage

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/memflow/types"
)

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	PoolSize  int
	KeyPrefix string

	// DefaultTTL expires items after the given duration when > 0. Used by
	// short-lived tiers so the store self-cleans.
	DefaultTTL time.Duration

	// Dimension validates stored/search vectors when > 0.
	Dimension int
}

// RedisBackend is the external key-value implementation of Backend.
// Items are stored as JSON values with a sorted-set index keyed by
// creation time for enumeration, the same indexing scheme the rest of the
// codebase uses for Redis-backed stores.
type RedisBackend struct {
	mu     sync.Mutex
	client *redis.Client
	closed bool

	config RedisConfig
	logger *zap.Logger
}

func NewRedisBackend(config RedisConfig, logger *zap.Logger) *RedisBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Addr == "" {
		config.Addr = "localhost:6379"
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "memflow:"
	}
	return &RedisBackend{
		config: config,
		logger: logger.With(zap.String("component", "backend_redis")),
	}
}

func (s *RedisBackend) itemKey(id string) string { return s.config.KeyPrefix + "item:" + id }
func (s *RedisBackend) indexKey() string         { return s.config.KeyPrefix + "index" }

func (s *RedisBackend) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil && !s.closed {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     s.config.Addr,
		Password: s.config.Password,
		DB:       s.config.DB,
		PoolSize: s.config.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return types.StorageError("connect to redis", err)
	}

	s.client = client
	s.closed = false
	s.logger.Info("redis backend initialized", zap.String("addr", s.config.Addr))
	return nil
}

func (s *RedisBackend) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil || s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}

func (s *RedisBackend) conn() (*redis.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil || s.closed {
		return nil, types.NewError(types.ErrShutdown, "redis backend not initialized")
	}
	return s.client, nil
}

func (s *RedisBackend) Store(ctx context.Context, item *types.MemoryItem) (string, error) {
	client, err := s.conn()
	if err != nil {
		return "", err
	}
	if item == nil {
		return "", types.ValidationError("item is required")
	}
	if s.config.Dimension > 0 && len(item.Embedding) > 0 && len(item.Embedding) != s.config.Dimension {
		return "", types.ValidationError("embedding dimension mismatch: got %d want %d", len(item.Embedding), s.config.Dimension)
	}
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.Metadata.CreatedAt.IsZero() {
		item.Metadata.CreatedAt = time.Now()
	}

	data, err := json.Marshal(item)
	if err != nil {
		return "", types.StorageError("marshal item", err)
	}

	pipe := client.Pipeline()
	pipe.Set(ctx, s.itemKey(item.ID), data, s.config.DefaultTTL)
	pipe.ZAdd(ctx, s.indexKey(), redis.Z{
		Score:  float64(item.Metadata.CreatedAt.UnixNano()),
		Member: item.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return "", types.StorageError("redis store", err)
	}
	return item.ID, nil
}

func (s *RedisBackend) Retrieve(ctx context.Context, id string) (*types.MemoryItem, error) {
	client, err := s.conn()
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, types.ValidationError("id is required")
	}

	data, err := client.Get(ctx, s.itemKey(id)).Bytes()
	if err == redis.Nil {
		// Expired or never stored; drop a stale index entry either way.
		_ = client.ZRem(ctx, s.indexKey(), id).Err()
		return nil, nil
	}
	if err != nil {
		return nil, types.StorageError("redis get", err)
	}

	var item types.MemoryItem
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, types.StorageError("unmarshal item", err)
	}
	return &item, nil
}

func (s *RedisBackend) Search(ctx context.Context, q Query) ([]ScoredItem, error) {
	if q.Limit <= 0 {
		return []ScoredItem{}, nil
	}
	if s.config.Dimension > 0 && len(q.Embedding) > 0 && len(q.Embedding) != s.config.Dimension {
		return nil, types.ValidationError("query dimension mismatch: got %d want %d", len(q.Embedding), s.config.Dimension)
	}

	items, err := s.RetrieveAll(ctx, 0)
	if err != nil {
		return nil, err
	}

	results := make([]ScoredItem, 0, len(items))
	for _, item := range items {
		if !MatchesFilters(item, q.Filters) {
			continue
		}
		results = append(results, ScoredItem{Item: item, Score: ScoreItem(item, q)})
	}
	return SortScored(results, q.Limit), nil
}

func (s *RedisBackend) Delete(ctx context.Context, id string) (bool, error) {
	client, err := s.conn()
	if err != nil {
		return false, err
	}

	pipe := client.Pipeline()
	del := pipe.Del(ctx, s.itemKey(id))
	pipe.ZRem(ctx, s.indexKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, types.StorageError("redis delete", err)
	}
	return del.Val() > 0, nil
}

func (s *RedisBackend) Count(ctx context.Context, filters map[string]any) (int64, error) {
	client, err := s.conn()
	if err != nil {
		return 0, err
	}

	if len(filters) == 0 {
		n, err := client.ZCard(ctx, s.indexKey()).Result()
		if err != nil {
			return 0, types.StorageError("redis zcard", err)
		}
		return n, nil
	}

	items, err := s.RetrieveAll(ctx, 0)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, item := range items {
		if MatchesFilters(item, filters) {
			n++
		}
	}
	return n, nil
}

func (s *RedisBackend) Stats(ctx context.Context) (Stats, error) {
	client, err := s.conn()
	if err != nil {
		return Stats{}, err
	}

	n, err := client.ZCard(ctx, s.indexKey()).Result()
	if err != nil {
		return Stats{}, types.StorageError("redis zcard", err)
	}
	return Stats{
		BackendType: "redis",
		ItemCount:   n,
		AdditionalInfo: map[string]any{
			"addr":       s.config.Addr,
			"key_prefix": s.config.KeyPrefix,
		},
	}, nil
}

// RetrieveAll implements BulkReader, oldest first per the creation-time
// index. Stale index entries for expired items are skipped.
func (s *RedisBackend) RetrieveAll(ctx context.Context, limit int) ([]*types.MemoryItem, error) {
	client, err := s.conn()
	if err != nil {
		return nil, err
	}

	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	ids, err := client.ZRange(ctx, s.indexKey(), 0, stop).Result()
	if err != nil {
		return nil, types.StorageError("redis zrange", err)
	}

	out := make([]*types.MemoryItem, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		item, err := s.Retrieve(ctx, id)
		if err != nil {
			return nil, err
		}
		if item != nil {
			out = append(out, item)
		}
	}
	return out, nil
}

var (
	_ Backend    = (*RedisBackend)(nil)
	_ BulkReader = (*RedisBackend)(nil)
)
