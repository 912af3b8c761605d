// Package tier wraps one storage backend with tier-specific policy:
// capacity, decay, strength bookkeeping, and promotion eligibility. Tiers
// differ only in configured policy, never in interface surface.
package tier

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/memflow/config"
	"github.com/BaSui01/memflow/storage"
	"github.com/BaSui01/memflow/types"
)

// defaultImportance seeds items stored without an explicit importance.
const defaultImportance = 0.5

// Tier binds a named memory stage to exactly one backend instance. The
// bulk-enumeration capability is probed once at construction; callers use
// CanEnumerate instead of re-probing per call.
type Tier struct {
	name    types.Tier
	backend storage.Backend
	bulk    storage.BulkReader

	capacity           int
	decayRate          float64
	promotionThreshold float64
	retentionFloor     float64

	now    func() time.Time
	logger *zap.Logger
}

// Options carries test seams; zero values select production behavior.
type Options struct {
	// Now is used for tests. Defaults to time.Now.
	Now func() time.Time
}

// New builds a tier around a constructed, not-yet-initialized backend.
func New(name types.Tier, cfg config.TierConfig, backend storage.Backend, opts Options, logger *zap.Logger) (*Tier, error) {
	if !name.Valid() {
		return nil, types.ConfigurationError("unknown tier name: %s", name)
	}
	if backend == nil {
		return nil, types.ConfigurationError("tier %s: backend is required", name)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	bulk, _ := backend.(storage.BulkReader)
	return &Tier{
		name:               name,
		backend:            backend,
		bulk:               bulk,
		capacity:           cfg.Capacity,
		decayRate:          cfg.DecayRate,
		promotionThreshold: cfg.PromotionThreshold,
		retentionFloor:     cfg.RetentionFloor,
		now:                now,
		logger:             logger.With(zap.String("component", "tier"), zap.String("tier", string(name))),
	}, nil
}

func (t *Tier) Name() types.Tier            { return t.name }
func (t *Tier) Capacity() int               { return t.capacity }
func (t *Tier) DecayRate() float64          { return t.decayRate }
func (t *Tier) PromotionThreshold() float64 { return t.promotionThreshold }
func (t *Tier) RetentionFloor() float64     { return t.retentionFloor }

// CanEnumerate reports whether the backend supports bulk reads. Decided at
// construction time, never re-probed.
func (t *Tier) CanEnumerate() bool { return t.bulk != nil }

func (t *Tier) Initialize(ctx context.Context) error {
	return t.backend.Initialize(ctx)
}

func (t *Tier) Shutdown(ctx context.Context) error {
	return t.backend.Shutdown(ctx)
}

// Store applies tier defaults then delegates. The item's tier field is
// forced to this tier; strength is seeded from importance when unset.
func (t *Tier) Store(ctx context.Context, item *types.MemoryItem) (string, error) {
	if item == nil {
		return "", types.ValidationError("item is required")
	}

	item.Metadata.Tier = t.name
	if item.Metadata.Importance == 0 {
		item.Metadata.Importance = defaultImportance
	}
	item.Metadata.Importance = types.ClampUnit(item.Metadata.Importance)
	if item.Metadata.Strength == 0 {
		item.Metadata.Strength = item.Metadata.Importance
	}
	item.Metadata.Strength = types.ClampUnit(item.Metadata.Strength)
	if item.Metadata.LastAccessedAt.IsZero() {
		item.Metadata.LastAccessedAt = t.now()
	}

	return t.backend.Store(ctx, item)
}

// Accept stores an item relocating from another tier. Unlike Store it seeds
// nothing: strength, importance, and access bookkeeping carry over verbatim,
// only the tier field is rewritten. A transfer never changes strength, so a
// fully-decayed item stays at zero instead of re-seeding from importance.
func (t *Tier) Accept(ctx context.Context, item *types.MemoryItem) (string, error) {
	if item == nil {
		return "", types.ValidationError("item is required")
	}
	item.Metadata.Tier = t.name
	return t.backend.Store(ctx, item)
}

// Retrieve returns the item or (nil, nil) when this tier does not hold it.
func (t *Tier) Retrieve(ctx context.Context, id string) (*types.MemoryItem, error) {
	return t.backend.Retrieve(ctx, id)
}

func (t *Tier) Search(ctx context.Context, q storage.Query) ([]storage.ScoredItem, error) {
	return t.backend.Search(ctx, q)
}

func (t *Tier) Delete(ctx context.Context, id string) (bool, error) {
	return t.backend.Delete(ctx, id)
}

func (t *Tier) Count(ctx context.Context, filters map[string]any) (int64, error) {
	return t.backend.Count(ctx, filters)
}

// Stats is best-effort: backend failures degrade to a placeholder snapshot.
func (t *Tier) Stats(ctx context.Context) storage.Stats {
	return storage.CollectStats(ctx, t.backend)
}

// Decay reduces the item's strength by amount, floored at zero. Reports
// false when this tier does not hold the id. Negative amounts are rejected
// before any I/O: decay is monotonically non-increasing, reinforcement goes
// through Strengthen.
func (t *Tier) Decay(ctx context.Context, id string, amount float64) (bool, error) {
	if amount < 0 {
		return false, types.ValidationError("decay amount must be non-negative: got %v", amount)
	}
	return t.adjustStrength(ctx, id, -amount)
}

// Strengthen raises the item's strength by amount, capped at one.
func (t *Tier) Strengthen(ctx context.Context, id string, amount float64) (bool, error) {
	if amount < 0 {
		return false, types.ValidationError("strengthen amount must be non-negative: got %v", amount)
	}
	return t.adjustStrength(ctx, id, amount)
}

// adjustStrength reads the current strength immediately before mutating so
// a concurrent writer loses at most one tick (last-writer-wins).
func (t *Tier) adjustStrength(ctx context.Context, id string, delta float64) (bool, error) {
	item, err := t.backend.Retrieve(ctx, id)
	if err != nil {
		return false, err
	}
	if item == nil {
		return false, nil
	}

	item.Metadata.Strength = types.ClampUnit(item.Metadata.Strength + delta)
	if _, err := t.backend.Store(ctx, item); err != nil {
		return false, err
	}
	return true, nil
}

// MemoryStrength returns the item's current strength, independent of
// importance. A missing id is NOT_FOUND: unlike Retrieve there is no
// in-band way to express absence.
func (t *Tier) MemoryStrength(ctx context.Context, id string) (float64, error) {
	item, err := t.backend.Retrieve(ctx, id)
	if err != nil {
		return 0, err
	}
	if item == nil {
		return 0, types.NotFoundError(id)
	}
	return item.Metadata.Strength, nil
}

// RecordAccess bumps access bookkeeping after a successful retrieval.
func (t *Tier) RecordAccess(ctx context.Context, item *types.MemoryItem) error {
	item.Metadata.AccessCount++
	item.Metadata.LastAccessedAt = t.now()
	_, err := t.backend.Store(ctx, item)
	return err
}

// RetrieveAll bulk-reads up to limit items, oldest first. Returns
// (nil, nil) when the backend cannot enumerate; callers treat that as "no
// items available".
func (t *Tier) RetrieveAll(ctx context.Context, limit int) ([]*types.MemoryItem, error) {
	if t.bulk == nil {
		return nil, nil
	}
	return t.bulk.RetrieveAll(ctx, limit)
}

// DecayAll applies one decay tick to every enumerable item and returns how
// many were decayed. A backend without bulk reads decays lazily via
// explicit Decay calls instead.
func (t *Tier) DecayAll(ctx context.Context) (int, error) {
	if t.bulk == nil || t.decayRate == 0 {
		return 0, nil
	}

	items, err := t.bulk.RetrieveAll(ctx, 0)
	if err != nil {
		return 0, err
	}

	decayed := 0
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return decayed, err
		}
		ok, err := t.Decay(ctx, item.ID, t.decayRate)
		if err != nil {
			return decayed, err
		}
		if ok {
			decayed++
		}
	}
	return decayed, nil
}

// EnforceCapacity evicts the weakest items until the tier is back under
// its configured capacity. Returns how many were evicted. A tier without
// a capacity, or without bulk reads, never evicts here.
func (t *Tier) EnforceCapacity(ctx context.Context) (int, error) {
	if t.capacity <= 0 || t.bulk == nil {
		return 0, nil
	}

	items, err := t.bulk.RetrieveAll(ctx, 0)
	if err != nil {
		return 0, err
	}
	overflow := len(items) - t.capacity
	if overflow <= 0 {
		return 0, nil
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].Metadata.Strength != items[j].Metadata.Strength {
			return items[i].Metadata.Strength < items[j].Metadata.Strength
		}
		return items[i].ID < items[j].ID
	})

	evicted := 0
	for _, item := range items[:overflow] {
		if err := ctx.Err(); err != nil {
			return evicted, err
		}
		ok, err := t.backend.Delete(ctx, item.ID)
		if err != nil {
			return evicted, err
		}
		if ok {
			evicted++
			t.logger.Debug("evicted over-capacity item",
				zap.String("id", item.ID),
				zap.Float64("strength", item.Metadata.Strength))
		}
	}
	return evicted, nil
}
