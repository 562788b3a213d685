package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"leadtime-engine/internal/observability"
	"leadtime-engine/internal/storage"
)

// Retainer prunes lifecycle and event records past the retention horizon and
// invalidates the statistics cache whenever pruning removed data. Events
// older than the horizon are also filtered at read time, so a missed pruning
// run never leaks stale rows into results.
type Retainer struct {
	lifecycles    storage.LifecycleStore
	events        storage.EventStore
	cache         storage.StatsCache
	retentionDays int
	log           *slog.Logger
	now           func() time.Time
}

// NewRetainer creates a Retainer with the given horizon in days.
func NewRetainer(
	lifecycles storage.LifecycleStore,
	events storage.EventStore,
	cache storage.StatsCache,
	retentionDays int,
	logger *slog.Logger,
) *Retainer {
	if retentionDays < 1 {
		retentionDays = 1
	}
	return &Retainer{
		lifecycles:    lifecycles,
		events:        events,
		cache:         cache,
		retentionDays: retentionDays,
		log:           logger.With("component", "retention"),
		now:           time.Now,
	}
}

// WithNow swaps the clock, for tests.
func (r *Retainer) WithNow(now func() time.Time) *Retainer {
	r.now = now
	return r
}

// Retain prunes everything past the horizon and returns the total number of
// records removed. Idempotent and safe to call on every tick. Lifecycles go
// when their resolved end predates the cutoff, or when they never resolved
// an end and their first observation predates it (permanently incomplete
// orders age out instead of accumulating forever).
func (r *Retainer) Retain(ctx context.Context) (int, error) {
	cutoff := r.now().AddDate(0, 0, -r.retentionDays)

	eventsPruned, err := r.events.DeleteEndedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}

	all, err := r.lifecycles.All(ctx)
	if err != nil {
		return eventsPruned, fmt.Errorf("load lifecycles: %w", err)
	}
	lifecyclesPruned := 0
	for _, lc := range all {
		expired := false
		if end, ok := lc.EndAt(); ok {
			expired = end.Before(cutoff)
		} else {
			expired = lc.FirstSeen.Before(cutoff)
		}
		if !expired {
			continue
		}
		if err := r.lifecycles.Delete(ctx, lc.OrderID); err != nil {
			return eventsPruned + lifecyclesPruned, fmt.Errorf("prune lifecycle %d: %w", lc.OrderID, err)
		}
		lifecyclesPruned++
	}

	pruned := eventsPruned + lifecyclesPruned
	if pruned > 0 {
		observability.RecordRetention(eventsPruned, lifecyclesPruned)
		if err := r.cache.Invalidate(ctx); err != nil {
			r.log.Warn("stats cache invalidation failed", "err", err)
		}
		r.log.Info("retention pruned records",
			"events", eventsPruned, "lifecycles", lifecyclesPruned, "cutoff", cutoff)
	}
	return pruned, nil
}
