package storage

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/BaSui01/memflow/types"
)

// Query describes a search against one backend. Exactly one of Text or
// Embedding is typically set; filters narrow candidates before scoring.
type Query struct {
	// Text is a lexical query scored by term overlap on non-vector paths.
	Text string

	// Embedding is a query vector scored by cosine similarity.
	Embedding []float32

	// Filters narrow candidates by metadata equality. Recognized keys:
	// "tier" (string), "tag" (string, set containment),
	// "min_importance" (float64).
	Filters map[string]any

	// Limit caps the number of results. Zero or negative means no results.
	Limit int
}

// ScoredItem pairs an item with its search score. Higher is more similar.
type ScoredItem struct {
	Item  *types.MemoryItem
	Score float64
}

// Stats is a best-effort per-backend snapshot.
type Stats struct {
	BackendType    string         `json:"backend_type"`
	ItemCount      int64          `json:"item_count"`
	AdditionalInfo map[string]any `json:"additional_info,omitempty"`
}

// Backend is the uniform async storage contract every tier builds on.
// Every operation may suspend on I/O; implementations bound external calls
// with the caller's context deadline.
type Backend interface {
	// Initialize sets up resources. Idempotent.
	Initialize(ctx context.Context) error

	// Shutdown releases resources, even after a partial Initialize. Idempotent.
	Shutdown(ctx context.Context) error

	// Store persists the item, assigning an id when empty, and returns the id.
	// Storing an existing id overwrites (upsert).
	Store(ctx context.Context, item *types.MemoryItem) (string, error)

	// Retrieve returns the item, or (nil, nil) when the id is unknown.
	Retrieve(ctx context.Context, id string) (*types.MemoryItem, error)

	// Search returns up to q.Limit items ordered by descending score,
	// ties broken by ascending id.
	Search(ctx context.Context, q Query) ([]ScoredItem, error)

	// Delete removes the item, reporting whether anything was removed.
	Delete(ctx context.Context, id string) (bool, error)

	// Count returns the number of items matching the filters.
	Count(ctx context.Context, filters map[string]any) (int64, error)

	// Stats returns a diagnostic snapshot. Callers go through
	// CollectStats, which degrades failures to a placeholder.
	Stats(ctx context.Context) (Stats, error)
}

// BulkReader is the optional bulk-enumeration capability used by
// consolidation. Backends that cannot enumerate efficiently simply do not
// implement it; tiers probe once at construction.
type BulkReader interface {
	// RetrieveAll returns up to limit items, oldest first. limit <= 0
	// means no cap.
	RetrieveAll(ctx context.Context, limit int) ([]*types.MemoryItem, error)
}

// CollectStats gathers stats from a backend, degrading any failure to a
// placeholder snapshot instead of propagating it.
func CollectStats(ctx context.Context, b Backend) Stats {
	st, err := b.Stats(ctx)
	if err != nil {
		return Stats{
			BackendType:    backendTypeName(b),
			ItemCount:      0,
			AdditionalInfo: map[string]any{"error": err.Error()},
		}
	}
	if st.BackendType == "" {
		st.BackendType = backendTypeName(b)
	}
	return st
}

func backendTypeName(b Backend) string {
	return strings.TrimPrefix(fmt.Sprintf("%T", b), "*")
}

// MatchesFilters applies the recognized filter keys to an item.
func MatchesFilters(item *types.MemoryItem, filters map[string]any) bool {
	if len(filters) == 0 {
		return true
	}
	for k, v := range filters {
		switch k {
		case "tier":
			want, ok := v.(string)
			if !ok || string(item.Metadata.Tier) != want {
				return false
			}
		case "tag":
			want, ok := v.(string)
			if !ok || !item.HasTag(want) {
				return false
			}
		case "min_importance":
			want, ok := toFloat(v)
			if !ok || item.Metadata.Importance < want {
				return false
			}
		default:
			if item.Fields == nil || item.Fields[k] != v {
				return false
			}
		}
	}
	return true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	}
	return 0, false
}

// CosineSimilarity computes cosine similarity of two vectors, 0 on any
// mismatch or zero norm.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// LexicalScore scores content against a text query by term overlap:
// the fraction of query terms present in the content, case-insensitive.
func LexicalScore(content, query string) float64 {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return 0
	}
	haystack := strings.ToLower(content)
	hits := 0
	for _, term := range terms {
		if strings.Contains(haystack, term) {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}

// ScoreItem scores one item against a query: cosine similarity when the
// query carries an embedding, lexical overlap otherwise. A filter-only
// query scores every surviving candidate 1.
func ScoreItem(item *types.MemoryItem, q Query) float64 {
	if len(q.Embedding) > 0 {
		return CosineSimilarity(q.Embedding, item.Embedding)
	}
	if q.Text != "" {
		return LexicalScore(item.Content, q.Text)
	}
	return 1
}

// SortScored orders results by descending score, ties broken by ascending
// id, and truncates to limit.
func SortScored(results []ScoredItem, limit int) []ScoredItem {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Item.ID < results[j].Item.ID
	})
	if limit < 0 {
		limit = 0
	}
	if limit > len(results) {
		limit = len(results)
	}
	return results[:limit]
}
