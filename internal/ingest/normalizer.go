// Package ingest turns the upstream order feed into lifecycle state: it
// normalizes status observations, resolves bundle compositions, prunes
// expired records, and orchestrates the whole pipeline under the scheduled
// tick's gating.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"leadtime-engine/internal/domain"
	"leadtime-engine/internal/observability"
	"leadtime-engine/internal/storage"
	"leadtime-engine/internal/supply"
)

// Normalizer applies order detail snapshots to the lifecycle store. Each
// status is stamped with the observation time the first time it is seen;
// later observations of the same status never move the stamp, which makes
// re-fetching the same orders idempotent.
type Normalizer struct {
	lifecycles storage.LifecycleStore
	bundles    BundleResolver
	log        *slog.Logger
	now        func() time.Time
}

// NewNormalizer creates a Normalizer.
func NewNormalizer(lifecycles storage.LifecycleStore, bundles BundleResolver, logger *slog.Logger) *Normalizer {
	return &Normalizer{
		lifecycles: lifecycles,
		bundles:    bundles,
		log:        logger.With("component", "normalizer"),
		now:        time.Now,
	}
}

// WithNow swaps the clock, for tests.
func (n *Normalizer) WithNow(now func() time.Time) *Normalizer {
	n.now = now
	return n
}

// Apply folds one batch of order details into the lifecycle store. Unknown
// orders are admitted only when observed in the canonical start status;
// anything already past the start when first seen has an unknowable start
// time and would only pollute the statistics.
func (n *Normalizer) Apply(ctx context.Context, orders []supply.Order) error {
	observedAt := n.now()
	for i := range orders {
		o := &orders[i]
		id := o.ID()
		if id == 0 {
			continue
		}
		status := domain.NormalizeStatus(o.State)
		if status == "" {
			continue
		}

		lc, err := n.lifecycles.Get(ctx, id)
		switch {
		case err == nil:
		case errors.Is(err, storage.ErrNotFound):
			if status != domain.StatusAccepted {
				continue
			}
			lc = domain.NewOrderLifecycle(id, observedAt)
		default:
			return fmt.Errorf("load lifecycle %d: %w", id, err)
		}

		if lc.OrderNumber == "" {
			lc.OrderNumber = o.Number()
		}
		if lc.DropoffWarehouseID == 0 {
			lc.DropoffWarehouseID = o.DropoffID()
		}
		for _, s := range o.Supplies {
			if wid := s.StorageID(); wid != 0 {
				lc.AddStorageWarehouse(wid)
			}
			if s.BundleID != "" {
				lc.AddBundle(s.BundleID)
			}
		}

		lc.MarkStatus(status, observedAt)
		n.maybeSnapshot(ctx, lc)

		if err := n.lifecycles.Upsert(ctx, lc); err != nil {
			return fmt.Errorf("store lifecycle %d: %w", id, err)
		}
	}
	return nil
}

// maybeSnapshot resolves bundle references into a composition snapshot once
// the order has a recorded start. A failed or budget-limited lookup is
// retried on a later run: the snapshot stays absent until a lookup succeeds,
// and is never overwritten after it lands.
func (n *Normalizer) maybeSnapshot(ctx context.Context, lc *domain.OrderLifecycle) {
	if len(lc.Composition) > 0 || len(lc.BundleIDs) == 0 {
		return
	}
	if _, started := lc.StartAt(); !started {
		return
	}
	items, err := n.bundles.Resolve(ctx, lc.BundleIDs)
	if err != nil {
		if !errors.Is(err, ErrBundleBudget) {
			n.log.Warn("bundle resolution failed", "order_id", lc.OrderID, "err", err)
		}
		return
	}
	if len(items) > 0 {
		lc.SnapshotComposition(items)
	}
}

// PurgeInvalid removes lifecycles that show an end status without a start.
// That shape is an upstream data-integrity violation: the start can never be
// observed retroactively, so the record is dropped rather than retried.
func (n *Normalizer) PurgeInvalid(ctx context.Context) (int, error) {
	all, err := n.lifecycles.All(ctx)
	if err != nil {
		return 0, fmt.Errorf("load lifecycles: %w", err)
	}
	purged := 0
	for _, lc := range all {
		if _, started := lc.StartAt(); started {
			continue
		}
		if !lc.HasEnd() {
			continue
		}
		if err := n.lifecycles.Delete(ctx, lc.OrderID); err != nil {
			return purged, fmt.Errorf("purge lifecycle %d: %w", lc.OrderID, err)
		}
		purged++
	}
	if purged > 0 {
		observability.RecordPurged(purged)
		n.log.Info("purged lifecycles with end but no start", "count", purged)
	}
	return purged, nil
}
