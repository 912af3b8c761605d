package graph

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/memflow/types"
)

// InMemoryGraph is an adjacency-map implementation of Backend. It is used
// for local development, tests, and small deployments.
type InMemoryGraph struct {
	mu    sync.RWMutex
	nodes map[string]struct{}
	// out maps source -> target -> type -> edge.
	out map[string]map[string]map[string]*Relationship
	// in records incoming sources per target so node removal can cascade
	// without a full scan.
	in map[string]map[string]struct{}

	now    func() time.Time
	logger *zap.Logger
}

type InMemoryGraphConfig struct {
	// Now is used for tests. Defaults to time.Now.
	Now func() time.Time
}

func NewInMemoryGraph(config InMemoryGraphConfig, logger *zap.Logger) *InMemoryGraph {
	if logger == nil {
		logger = zap.NewNop()
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}
	return &InMemoryGraph{
		nodes:  make(map[string]struct{}),
		out:    make(map[string]map[string]map[string]*Relationship),
		in:     make(map[string]map[string]struct{}),
		now:    now,
		logger: logger.With(zap.String("component", "graph_inmemory")),
	}
}

func (g *InMemoryGraph) Initialize(ctx context.Context) error {
	return ctx.Err()
}

func (g *InMemoryGraph) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nodes = make(map[string]struct{})
	g.out = make(map[string]map[string]map[string]*Relationship)
	g.in = make(map[string]map[string]struct{})
	return nil
}

func (g *InMemoryGraph) UpsertNode(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if id == "" {
		return types.ValidationError("node id is required")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.nodes[id] = struct{}{}
	return nil
}

func (g *InMemoryGraph) RemoveNode(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.nodes, id)

	// Outgoing edges: unlink from each target's incoming index.
	for target := range g.out[id] {
		if sources, ok := g.in[target]; ok {
			delete(sources, id)
			if len(sources) == 0 {
				delete(g.in, target)
			}
		}
	}
	delete(g.out, id)

	// Incoming edges: remove from each source's outgoing map.
	for source := range g.in[id] {
		if targets, ok := g.out[source]; ok {
			delete(targets, id)
			if len(targets) == 0 {
				delete(g.out, source)
			}
		}
	}
	delete(g.in, id)
	return nil
}

func (g *InMemoryGraph) AddRelationship(ctx context.Context, rel *Relationship) error {
	if err := ctx.Err(); err != nil {
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

	g.mu.Lock()
	defer g.mu.Unlock()

	g.nodes[rel.SourceID] = struct{}{}
	g.nodes[rel.TargetID] = struct{}{}

	targets, ok := g.out[rel.SourceID]
	if !ok {
		targets = make(map[string]map[string]*Relationship)
		g.out[rel.SourceID] = targets
	}
	edges, ok := targets[rel.TargetID]
	if !ok {
		edges = make(map[string]*Relationship)
		targets[rel.TargetID] = edges
	}

	stored := rel.clone()
	now := g.now()
	if prev, exists := edges[rel.Type]; exists {
		stored.CreatedAt = prev.CreatedAt
	} else if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	edges[rel.Type] = stored

	sources, ok := g.in[rel.TargetID]
	if !ok {
		sources = make(map[string]struct{})
		g.in[rel.TargetID] = sources
	}
	sources[rel.SourceID] = struct{}{}

	g.logger.Debug("relationship upserted",
		zap.String("source", rel.SourceID),
		zap.String("target", rel.TargetID),
		zap.String("type", rel.Type))
	return nil
}

func (g *InMemoryGraph) RemoveRelationship(ctx context.Context, sourceID, targetID, relType string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if sourceID == "" || targetID == "" {
		return false, types.ValidationError("source_id and target_id are required")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	targets, ok := g.out[sourceID]
	if !ok {
		return false, nil
	}
	edges, ok := targets[targetID]
	if !ok {
		return false, nil
	}

	removed := false
	if relType == "" {
		removed = len(edges) > 0
		delete(targets, targetID)
	} else if _, ok := edges[relType]; ok {
		removed = true
		delete(edges, relType)
		if len(edges) == 0 {
			delete(targets, targetID)
		}
	}
	if !removed {
		return false, nil
	}

	if len(targets) == 0 {
		delete(g.out, sourceID)
	}
	if _, still := g.out[sourceID][targetID]; !still {
		if sources, ok := g.in[targetID]; ok {
			delete(sources, sourceID)
			if len(sources) == 0 {
				delete(g.in, targetID)
			}
		}
	}
	return true, nil
}

func (g *InMemoryGraph) GetRelated(ctx context.Context, id string, opts RelatedOptions) ([]*Relationship, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, types.ValidationError("node id is required")
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	results := make([]*Relationship, 0)
	for _, edges := range g.out[id] {
		for _, rel := range edges {
			if matchesRelated(rel, opts) {
				results = append(results, rel.clone())
			}
		}
	}
	return sortRelated(results, opts.Limit), nil
}

func (g *InMemoryGraph) Counts(ctx context.Context) (Counts, error) {
	if err := ctx.Err(); err != nil {
		return Counts{}, err
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	var edges int64
	for _, targets := range g.out {
		for _, typed := range targets {
			edges += int64(len(typed))
		}
	}
	return Counts{Nodes: int64(len(g.nodes)), Edges: edges}, nil
}

// sortRelated orders edges by descending strength with a deterministic
// tie-break on (target, type), then applies the limit.
func sortRelated(rels []*Relationship, limit int) []*Relationship {
	sort.Slice(rels, func(i, j int) bool {
		if rels[i].Strength != rels[j].Strength {
			return rels[i].Strength > rels[j].Strength
		}
		if rels[i].TargetID != rels[j].TargetID {
			return rels[i].TargetID < rels[j].TargetID
		}
		return rels[i].Type < rels[j].Type
	})
	if limit > 0 && len(rels) > limit {
		rels = rels[:limit]
	}
	return rels
}

var _ Backend = (*InMemoryGraph)(nil)
