// Package graph implements the knowledge-graph layer: directed, typed,
// weighted relationships between memory identifiers, independent of which
// tier physically holds the items. A single graph backend is shared
// read/write across all tiers.
package graph

import (
	"context"
	"time"
)

// Relationship is a directed edge between two memory nodes. Uniqueness is
// per (source, target, type); re-adding the same triple overwrites strength
// and metadata.
type Relationship struct {
	SourceID  string         `json:"source_id"`
	TargetID  string         `json:"target_id"`
	Type      string         `json:"type"`
	Strength  float64        `json:"strength"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func (r *Relationship) clone() *Relationship {
	if r == nil {
		return nil
	}
	out := *r
	if r.Metadata != nil {
		out.Metadata = make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// RelatedOptions narrows a GetRelated lookup.
type RelatedOptions struct {
	// Type restricts results to a single relationship type when non-empty.
	Type string

	// MinStrength drops edges with strength below the threshold.
	MinStrength float64

	// Limit caps the number of returned edges when > 0.
	Limit int
}

// Counts is a diagnostic snapshot of graph size.
type Counts struct {
	Nodes int64 `json:"nodes"`
	Edges int64 `json:"edges"`
}

// Backend is the knowledge-graph capability surface. Implementations are
// selected by the factory from configuration and must be safe for
// concurrent use.
type Backend interface {
	// Initialize sets up resources. Idempotent.
	Initialize(ctx context.Context) error

	// Shutdown releases resources. Idempotent, safe after a failed Initialize.
	Shutdown(ctx context.Context) error

	// UpsertNode registers a node id so edges may attach to it. Re-adding
	// an existing node is a no-op.
	UpsertNode(ctx context.Context, id string) error

	// RemoveNode removes the node and every edge touching it, in both
	// directions. Removing an absent node is a no-op, not an error.
	RemoveNode(ctx context.Context, id string) error

	// AddRelationship upserts the (source, target, type) edge.
	AddRelationship(ctx context.Context, rel *Relationship) error

	// RemoveRelationship removes the single typed edge when relType is
	// non-empty, otherwise all edges between the pair. Reports whether
	// anything was removed.
	RemoveRelationship(ctx context.Context, sourceID, targetID, relType string) (bool, error)

	// GetRelated returns the node's outgoing edges sorted by descending
	// strength, filtered per opts.
	GetRelated(ctx context.Context, id string, opts RelatedOptions) ([]*Relationship, error)

	// Counts returns a best-effort size snapshot.
	Counts(ctx context.Context) (Counts, error)
}

// matchesRelated applies the option filters to a single edge.
func matchesRelated(rel *Relationship, opts RelatedOptions) bool {
	if opts.Type != "" && rel.Type != opts.Type {
		return false
	}
	return rel.Strength >= opts.MinStrength
}
