package types

import "time"

// Tier identifies one of the three ordered memory stages.
type Tier string

const (
	// TierSTM is short-term working memory for the current task context.
	TierSTM Tier = "stm"

	// TierMTM is medium-term episodic memory.
	TierMTM Tier = "mtm"

	// TierLTM is long-term semantic memory.
	TierLTM Tier = "ltm"
)

// Tiers returns all tiers in promotion order (STM first).
func Tiers() []Tier {
	return []Tier{TierSTM, TierMTM, TierLTM}
}

// Valid reports whether t is one of the three known tiers.
func (t Tier) Valid() bool {
	switch t {
	case TierSTM, TierMTM, TierLTM:
		return true
	}
	return false
}

// Next returns the tier above t, or t itself when already at the top.
func (t Tier) Next() Tier {
	switch t {
	case TierSTM:
		return TierMTM
	case TierMTM:
		return TierLTM
	}
	return t
}

// Prev returns the tier below t, or t itself when already at the bottom.
func (t Tier) Prev() Tier {
	switch t {
	case TierLTM:
		return TierMTM
	case TierMTM:
		return TierSTM
	}
	return t
}

// Metadata carries the per-item bookkeeping that drives decay, promotion,
// and eviction. Only the manager and the owning tier mutate Tier and Strength.
type Metadata struct {
	Tier           Tier      `json:"tier"`
	Tags           []string  `json:"tags,omitempty"`
	Importance     float64   `json:"importance"`
	Strength       float64   `json:"strength"`
	AccessCount    int       `json:"access_count"`
	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
}

// MemoryItem is the unit of storage. Content and Fields are opaque to the
// core beyond being stored and returned verbatim. Embedding, when present,
// must match the manager's resolved embedding dimension.
type MemoryItem struct {
	ID        string         `json:"id"`
	Content   string         `json:"content"`
	Fields    map[string]any `json:"fields,omitempty"`
	Embedding []float32      `json:"embedding,omitempty"`
	Metadata  Metadata       `json:"metadata"`
}

// Clone returns a deep copy so backends can hand out items without
// exposing their internal state to caller mutation.
func (m *MemoryItem) Clone() *MemoryItem {
	if m == nil {
		return nil
	}
	out := *m
	if m.Embedding != nil {
		out.Embedding = append([]float32(nil), m.Embedding...)
	}
	if m.Metadata.Tags != nil {
		out.Metadata.Tags = append([]string(nil), m.Metadata.Tags...)
	}
	if m.Fields != nil {
		out.Fields = make(map[string]any, len(m.Fields))
		for k, v := range m.Fields {
			out.Fields[k] = v
		}
	}
	return &out
}

// HasTag reports whether the item carries the given tag.
func (m *MemoryItem) HasTag(tag string) bool {
	for _, t := range m.Metadata.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// ClampUnit clamps v into [0, 1]. Strength and importance always live in
// that interval.
func ClampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
