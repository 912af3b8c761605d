package manager

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/memflow/types"
)

// MaintenanceResult reports one maintenance pass. Per-tier failures are
// collected here, never raised mid-loop: one tier's failure must not abort
// maintenance for the others.
type MaintenanceResult struct {
	Decayed   int
	Promoted  int
	Demoted   int
	Forgotten int
	Evicted   int
	Errors    []error
}

// Err folds the collected failures into one error, nil when the pass was
// clean.
func (r *MaintenanceResult) Err() error {
	return errors.Join(r.Errors...)
}

func (m *Manager) maintenanceLoop() {
	defer close(m.maintDone)

	ticker := time.NewTicker(m.cfg.MaintenanceInterval)
	defer ticker.Stop()

	// Bound each pass so a slow backend cannot stall the loop forever.
	passTimeout := m.cfg.MaintenanceInterval / 2
	if passTimeout <= 0 {
		passTimeout = time.Minute
	}

	for {
		select {
		case <-ticker.C:
			// A pass still running from the previous tick means this tick
			// is dropped, not queued.
			if !m.maintBusy.TryLock() {
				m.logger.Debug("maintenance pass still running, skipping tick")
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), passTimeout)
			result := m.RunMaintenance(ctx)
			cancel()
			m.maintBusy.Unlock()

			if err := result.Err(); err != nil {
				m.logger.Error("maintenance pass finished with errors", zap.Error(err))
			}
		case <-m.maintStop:
			return
		}
	}
}

// RunMaintenance performs one decay-then-consolidate pass over all tiers:
// every enumerable item loses one decay tick, items whose strength crossed
// their tier's promotion threshold move up, items below the retention floor
// move down (or are forgotten from STM), and over-capacity tiers evict
// weakest-first. Idempotent and safe to invoke manually between scheduled
// ticks.
func (m *Manager) RunMaintenance(ctx context.Context) *MaintenanceResult {
	result := &MaintenanceResult{}

	for _, name := range types.Tiers() {
		n, err := m.tiers[name].DecayAll(ctx)
		result.Decayed += n
		if err != nil {
			result.Errors = append(result.Errors, err)
		}
	}

	// Snapshot every tier before moving anything so an item promoted out of
	// STM is not re-consolidated by the MTM loop within the same pass.
	snapshots := make(map[types.Tier][]*types.MemoryItem, len(m.tiers))
	for _, name := range types.Tiers() {
		var items []*types.MemoryItem
		var err error
		if name == types.TierLTM {
			items, err = m.collectLTMMemories(ctx, 0)
		} else {
			items, err = m.tiers[name].RetrieveAll(ctx, 0)
		}
		if err != nil {
			result.Errors = append(result.Errors, err)
			continue
		}
		snapshots[name] = items
	}
	for _, name := range types.Tiers() {
		if err := m.consolidateTier(ctx, name, snapshots[name], result); err != nil {
			result.Errors = append(result.Errors, err)
		}
	}

	for _, name := range types.Tiers() {
		n, err := m.tiers[name].EnforceCapacity(ctx)
		result.Evicted += n
		if err != nil {
			result.Errors = append(result.Errors, err)
		}
	}

	m.metrics.RecordMaintenance(result.Err())
	m.logger.Debug("maintenance pass complete",
		zap.Int("decayed", result.Decayed),
		zap.Int("promoted", result.Promoted),
		zap.Int("demoted", result.Demoted),
		zap.Int("forgotten", result.Forgotten),
		zap.Int("evicted", result.Evicted),
		zap.Int("errors", len(result.Errors)))
	return result
}

// consolidateTier moves one tier's items across the promotion threshold and
// retention floor. A tier whose backend cannot enumerate is skipped: its
// items consolidate lazily through explicit decay/strengthen calls.
func (m *Manager) consolidateTier(ctx context.Context, name types.Tier, items []*types.MemoryItem, result *MaintenanceResult) error {
	t := m.tiers[name]

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return err
		}

		strength := item.Metadata.Strength
		switch {
		case strength >= t.PromotionThreshold() && name != types.TierLTM:
			if _, err := m.transferBetween(ctx, item, name, name.Next()); err != nil {
				result.Errors = append(result.Errors, err)
				continue
			}
			result.Promoted++

		case strength < t.RetentionFloor() && name == types.TierSTM:
			ok, err := t.Delete(ctx, item.ID)
			if err != nil {
				result.Errors = append(result.Errors, err)
				continue
			}
			if ok {
				result.Forgotten++
				if m.graph != nil {
					if err := m.graph.RemoveNode(ctx, item.ID); err != nil {
						result.Errors = append(result.Errors, err)
					}
				}
			}

		case strength < t.RetentionFloor():
			if _, err := m.transferBetween(ctx, item, name, name.Prev()); err != nil {
				result.Errors = append(result.Errors, err)
				continue
			}
			result.Demoted++
		}
	}
	return nil
}
