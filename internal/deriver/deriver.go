// Package deriver converts completed order lifecycles into duration events.
package deriver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"leadtime-engine/internal/directory"
	"leadtime-engine/internal/domain"
	"leadtime-engine/internal/observability"
	"leadtime-engine/internal/storage"
)

// Bounds configures which computed durations count as signal.
type Bounds struct {
	// MinDays and MaxDays bound acceptable durations; outside is noise and
	// is discarded, not stored.
	MinDays float64
	MaxDays float64
	// RetentionDays keeps the deriver from resurrecting events older than
	// the retention horizon.
	RetentionDays int
}

// Deriver emits duration events from the lifecycle store.
type Deriver struct {
	lifecycles storage.LifecycleStore
	events     storage.EventStore
	prefs      storage.PrefsStore
	cache      storage.StatsCache
	dir        directory.Directory
	bounds     Bounds
	log        *slog.Logger

	now func() time.Time
}

// New creates a Deriver.
func New(
	lifecycles storage.LifecycleStore,
	events storage.EventStore,
	prefs storage.PrefsStore,
	cache storage.StatsCache,
	dir directory.Directory,
	bounds Bounds,
	logger *slog.Logger,
) *Deriver {
	return &Deriver{
		lifecycles: lifecycles,
		events:     events,
		prefs:      prefs,
		cache:      cache,
		dir:        dir,
		bounds:     bounds,
		log:        logger.With("component", "deriver"),
		now:        time.Now,
	}
}

// WithNow swaps the clock, for tests.
func (d *Deriver) WithNow(now func() time.Time) *Deriver {
	d.now = now
	return d
}

// Derive walks every lifecycle with a start and a resolved end and emits:
// one aggregate event per (order, storage warehouse), always; one per-SKU
// event per composition item when a snapshot exists. Insertion is
// dedup-keyed, so re-deriving the same lifecycles adds nothing. Returns the
// number of events actually added; a positive count invalidates the
// statistics cache.
func (d *Deriver) Derive(ctx context.Context) (int, error) {
	lifecycles, err := d.lifecycles.All(ctx)
	if err != nil {
		return 0, fmt.Errorf("load lifecycles: %w", err)
	}

	prefs, err := d.prefs.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("load prefs: %w", err)
	}

	retentionCutoff := d.now().AddDate(0, 0, -d.bounds.RetentionDays)

	var batch []*domain.DurationEvent
	for _, lc := range lifecycles {
		batch = append(batch, d.eventsFor(lc, prefs.AllocateByQuantity, retentionCutoff)...)
	}
	if len(batch) == 0 {
		return 0, nil
	}

	added, err := d.events.InsertBulk(ctx, batch)
	if err != nil {
		return added, fmt.Errorf("insert events: %w", err)
	}
	if added > 0 {
		observability.RecordEventsAdded(added)
		if cerr := d.cache.Invalidate(ctx); cerr != nil {
			d.log.Warn("stats cache invalidation failed", "err", cerr)
		}
	}
	return added, nil
}

// eventsFor builds the candidate events for one lifecycle. Returns nil when
// the lifecycle does not qualify.
func (d *Deriver) eventsFor(lc *domain.OrderLifecycle, allocateByQty bool, retentionCutoff time.Time) []*domain.DurationEvent {
	start, ok := lc.StartAt()
	if !ok {
		return nil
	}
	end, ok := lc.EndAt()
	if !ok {
		return nil
	}
	if !end.After(start) {
		observability.RecordEventDiscarded("non_positive")
		return nil
	}
	durationDays := end.Sub(start).Hours() / 24
	if durationDays < d.bounds.MinDays || durationDays > d.bounds.MaxDays {
		observability.RecordEventDiscarded("out_of_bound")
		return nil
	}
	if end.Before(retentionCutoff) {
		observability.RecordEventDiscarded("beyond_retention")
		return nil
	}
	if len(lc.StorageWarehouseIDs) == 0 {
		return nil
	}

	totalQty := lc.TotalQuantity()
	if totalQty <= 0 {
		totalQty = 1
	}

	var out []*domain.DurationEvent
	for _, warehouseID := range lc.StorageWarehouseIDs {
		clusterID, _ := d.dir.ClusterFor(warehouseID)

		base := domain.DurationEvent{
			OrderID:            lc.OrderID,
			OrderNumber:        lc.OrderNumber,
			StartAt:            start,
			EndAt:              end,
			DurationDays:       durationDays,
			DropoffWarehouseID: lc.DropoffWarehouseID,
			StorageWarehouseID: warehouseID,
			ClusterID:          clusterID,
		}

		// Aggregate granule: one per (order, storage warehouse), always.
		agg := base
		out = append(out, &agg)

		// Per-SKU granules only when a composition snapshot was captured.
		for _, item := range lc.Composition {
			e := base
			e.SKU = item.SKU
			e.Quantity = item.Quantity
			if allocateByQty {
				e.DurationDays = durationDays * (item.Quantity / totalQty)
			}
			out = append(out, &e)
		}
	}
	return out
}

// Rebuild clears the event store and re-derives everything from the
// lifecycle store under the current allocation policy. Required after
// toggling the policy: existing durations were computed under the old rule.
func (d *Deriver) Rebuild(ctx context.Context) (int, error) {
	if err := d.events.Clear(ctx); err != nil {
		return 0, fmt.Errorf("clear events: %w", err)
	}
	added, err := d.Derive(ctx)
	if err != nil {
		return added, err
	}
	// Derive only invalidates on added>0; a rebuild that produced nothing
	// still changed the world.
	if err := d.cache.Invalidate(ctx); err != nil {
		d.log.Warn("stats cache invalidation failed", "err", err)
	}
	return added, nil
}
