package graph

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/memflow/types"
)

type RedisGraphConfig struct {
	Addr      string
	Password  string
	DB        int
	PoolSize  int
	KeyPrefix string
}

// RedisGraph is the external-service implementation of Backend. Each node
// gets a sorted set of outgoing edges scored by strength (so ranked related
// lookups come straight off the index), a reverse set of incoming edge
// members for cascade removal, and a hash of edge payloads.
type RedisGraph struct {
	mu     sync.Mutex
	client *redis.Client
	closed bool

	config RedisGraphConfig
	logger *zap.Logger
}

func NewRedisGraph(config RedisGraphConfig, logger *zap.Logger) *RedisGraph {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Addr == "" {
		config.Addr = "localhost:6379"
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "memflow:graph:"
	}
	return &RedisGraph{
		config: config,
		logger: logger.With(zap.String("component", "graph_redis")),
	}
}

func (g *RedisGraph) nodesKey() string           { return g.config.KeyPrefix + "nodes" }
func (g *RedisGraph) outKey(source string) string { return g.config.KeyPrefix + "out:" + source }
func (g *RedisGraph) inKey(target string) string  { return g.config.KeyPrefix + "in:" + target }
func (g *RedisGraph) edgesKey(source string) string {
	return g.config.KeyPrefix + "edges:" + source
}

// edgeMember encodes the zset/hash member for a (target, type) pair. Node
// ids never contain the separator; the type may, so decoding splits on the
// first occurrence only.
func edgeMember(targetID, relType string) string { return targetID + "|" + relType }

func splitEdgeMember(member string) (id, relType string) {
	parts := strings.SplitN(member, "|", 2)
	if len(parts) != 2 {
		return member, ""
	}
	return parts[0], parts[1]
}

func (g *RedisGraph) Initialize(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.client != nil && !g.closed {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     g.config.Addr,
		Password: g.config.Password,
		DB:       g.config.DB,
		PoolSize: g.config.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return types.StorageError("connect to redis", err)
	}

	g.client = client
	g.closed = false
	g.logger.Info("redis graph initialized", zap.String("addr", g.config.Addr))
	return nil
}

func (g *RedisGraph) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.client == nil || g.closed {
		return nil
	}
	g.closed = true
	return g.client.Close()
}

func (g *RedisGraph) conn() (*redis.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client == nil || g.closed {
		return nil, types.NewError(types.ErrShutdown, "redis graph not initialized")
	}
	return g.client, nil
}

func (g *RedisGraph) UpsertNode(ctx context.Context, id string) error {
	client, err := g.conn()
	if err != nil {
		return err
	}
	if id == "" {
		return types.ValidationError("node id is required")
	}

	if err := client.SAdd(ctx, g.nodesKey(), id).Err(); err != nil {
		return types.StorageError("redis sadd node", err)
	}
	return nil
}

func (g *RedisGraph) RemoveNode(ctx context.Context, id string) error {
	client, err := g.conn()
	if err != nil {
		return err
	}

	// Outgoing edges: unlink from each target's incoming set.
	outMembers, err := client.ZRange(ctx, g.outKey(id), 0, -1).Result()
	if err != nil {
		return types.StorageError("redis zrange out", err)
	}
	// Incoming edges: remove from each source's outgoing index and payload.
	inMembers, err := client.SMembers(ctx, g.inKey(id)).Result()
	if err != nil {
		return types.StorageError("redis smembers in", err)
	}

	pipe := client.Pipeline()
	for _, member := range outMembers {
		target, relType := splitEdgeMember(member)
		pipe.SRem(ctx, g.inKey(target), edgeMember(id, relType))
	}
	for _, member := range inMembers {
		source, relType := splitEdgeMember(member)
		pipe.ZRem(ctx, g.outKey(source), edgeMember(id, relType))
		pipe.HDel(ctx, g.edgesKey(source), edgeMember(id, relType))
	}
	pipe.Del(ctx, g.outKey(id), g.edgesKey(id), g.inKey(id))
	pipe.SRem(ctx, g.nodesKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return types.StorageError("redis remove node", err)
	}
	return nil
}

func (g *RedisGraph) AddRelationship(ctx context.Context, rel *Relationship) error {
	client, err := g.conn()
	if err != nil {
		return err
	}
	if rel == nil {
		return types.ValidationError("relationship is required")
	}
	if rel.SourceID == "" || rel.TargetID == "" {
		return types.ValidationError("relationship source_id and target_id are required")
	}
	if rel.Type == "" {
		return types.ValidationError("relationship type is required")
	}
	if rel.Strength < 0 || rel.Strength > 1 {
		return types.ValidationError("relationship strength must be in [0, 1]: got %v", rel.Strength)
	}

	member := edgeMember(rel.TargetID, rel.Type)

	stored := rel.clone()
	now := time.Now()
	prev, err := client.HGet(ctx, g.edgesKey(rel.SourceID), member).Bytes()
	switch {
	case err == redis.Nil:
		if stored.CreatedAt.IsZero() {
			stored.CreatedAt = now
		}
	case err != nil:
		return types.StorageError("redis hget edge", err)
	default:
		var existing Relationship
		if jsonErr := json.Unmarshal(prev, &existing); jsonErr == nil {
			stored.CreatedAt = existing.CreatedAt
		}
	}
	stored.UpdatedAt = now

	data, err := json.Marshal(stored)
	if err != nil {
		return types.StorageError("marshal relationship", err)
	}

	pipe := client.Pipeline()
	pipe.SAdd(ctx, g.nodesKey(), rel.SourceID, rel.TargetID)
	pipe.ZAdd(ctx, g.outKey(rel.SourceID), redis.Z{Score: rel.Strength, Member: member})
	pipe.HSet(ctx, g.edgesKey(rel.SourceID), member, data)
	pipe.SAdd(ctx, g.inKey(rel.TargetID), edgeMember(rel.SourceID, rel.Type))
	if _, err := pipe.Exec(ctx); err != nil {
		return types.StorageError("redis add relationship", err)
	}
	return nil
}

func (g *RedisGraph) RemoveRelationship(ctx context.Context, sourceID, targetID, relType string) (bool, error) {
	client, err := g.conn()
	if err != nil {
		return false, err
	}
	if sourceID == "" || targetID == "" {
		return false, types.ValidationError("source_id and target_id are required")
	}

	var members []string
	if relType != "" {
		members = []string{edgeMember(targetID, relType)}
	} else {
		all, err := client.ZRange(ctx, g.outKey(sourceID), 0, -1).Result()
		if err != nil {
			return false, types.StorageError("redis zrange out", err)
		}
		for _, member := range all {
			target, _ := splitEdgeMember(member)
			if target == targetID {
				members = append(members, member)
			}
		}
	}
	if len(members) == 0 {
		return false, nil
	}

	pipe := client.Pipeline()
	zrem := pipe.ZRem(ctx, g.outKey(sourceID), toAnySlice(members)...)
	pipe.HDel(ctx, g.edgesKey(sourceID), members...)
	for _, member := range members {
		_, typ := splitEdgeMember(member)
		pipe.SRem(ctx, g.inKey(targetID), edgeMember(sourceID, typ))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return false, types.StorageError("redis remove relationship", err)
	}
	return zrem.Val() > 0, nil
}

func (g *RedisGraph) GetRelated(ctx context.Context, id string, opts RelatedOptions) ([]*Relationship, error) {
	client, err := g.conn()
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, types.ValidationError("node id is required")
	}

	// Strength is the zset score, so the min-strength cut happens on the
	// index; type filtering and deterministic tie-breaks happen here.
	members, err := client.ZRevRangeByScore(ctx, g.outKey(id), &redis.ZRangeBy{
		Min: strconv.FormatFloat(opts.MinStrength, 'f', -1, 64),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, types.StorageError("redis zrevrangebyscore", err)
	}
	if len(members) == 0 {
		return []*Relationship{}, nil
	}

	payloads, err := client.HMGet(ctx, g.edgesKey(id), members...).Result()
	if err != nil {
		return nil, types.StorageError("redis hmget edges", err)
	}

	results := make([]*Relationship, 0, len(members))
	for _, payload := range payloads {
		raw, ok := payload.(string)
		if !ok {
			continue
		}
		var rel Relationship
		if err := json.Unmarshal([]byte(raw), &rel); err != nil {
			return nil, types.StorageError("unmarshal relationship", err)
		}
		if matchesRelated(&rel, opts) {
			results = append(results, &rel)
		}
	}
	return sortRelated(results, opts.Limit), nil
}

func (g *RedisGraph) Counts(ctx context.Context) (Counts, error) {
	client, err := g.conn()
	if err != nil {
		return Counts{}, err
	}

	nodes, err := client.SMembers(ctx, g.nodesKey()).Result()
	if err != nil {
		return Counts{}, types.StorageError("redis smembers nodes", err)
	}

	var edges int64
	for _, node := range nodes {
		if err := ctx.Err(); err != nil {
			return Counts{}, err
		}
		n, err := client.ZCard(ctx, g.outKey(node)).Result()
		if err != nil {
			return Counts{}, types.StorageError("redis zcard out", err)
		}
		edges += n
	}
	return Counts{Nodes: int64(len(nodes)), Edges: edges}, nil
}

func toAnySlice(in []string) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}

var _ Backend = (*RedisGraph)(nil)
