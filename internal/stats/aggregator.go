package stats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"leadtime-engine/internal/directory"
	"leadtime-engine/internal/domain"
	"leadtime-engine/internal/storage"
)

// Options are the read-side knobs of the aggregator.
type Options struct {
	// TTL bounds cache entry age. A cached entry is served only when it is
	// both within the TTL and not older than the event store's last save,
	// so new events always invalidate stale aggregates independent of TTL.
	TTL time.Duration

	// MinDays and MaxDays bound durations at read time; rows outside never
	// reach a result even if an older derivation stored them.
	MinDays float64
	MaxDays float64

	// RetentionDays is read-time authoritative: events past the horizon
	// never appear in results even before physical pruning runs.
	RetentionDays int

	// WatchOrder filters and orders the per-SKU views when non-empty;
	// SKUAlias supplies display labels.
	WatchOrder []int64
	SKUAlias   map[int64]string
}

// Aggregator computes lead-time statistics over the event store. Grouped
// views are cached per (period, grouping, allocation flag); the drill-down
// views are cheap enough to recompute every call.
type Aggregator struct {
	events storage.EventStore
	cache  storage.StatsCache
	prefs  storage.PrefsStore
	dir    directory.Directory
	opts   Options
	log    *slog.Logger
	now    func() time.Time
}

// New creates an Aggregator.
func New(
	events storage.EventStore,
	cache storage.StatsCache,
	prefs storage.PrefsStore,
	dir directory.Directory,
	opts Options,
	logger *slog.Logger,
) *Aggregator {
	return &Aggregator{
		events: events,
		cache:  cache,
		prefs:  prefs,
		dir:    dir,
		opts:   opts,
		log:    logger.With("component", "stats"),
		now:    time.Now,
	}
}

// WithNow swaps the clock, for tests.
func (a *Aggregator) WithNow(now func() time.Time) *Aggregator {
	a.now = now
	return a
}

// Summary returns the grouping-free view: plain statistics over aggregate
// (no-SKU) events only, deliberately excluding per-SKU rows to avoid double
// counting.
func (a *Aggregator) Summary(ctx context.Context, periodDays int) (domain.Summary, error) {
	var out domain.Summary
	key := a.cacheKey(ctx, periodDays, "summary")
	if a.fromCache(ctx, key, &out) {
		return out, nil
	}

	events, err := a.window(ctx, periodDays)
	if err != nil {
		return out, err
	}
	var vals []float64
	for _, e := range events {
		if e.IsAggregate() {
			vals = append(vals, e.DurationDays)
		}
	}
	m := computeMetrics(vals)
	out = domain.Summary{Avg: m.Avg, P50: m.P50, P90: m.P90, Count: m.Count}
	a.toCache(ctx, key, out)
	return out, nil
}

// ByWarehouse returns aggregate-event statistics bucketed by storage
// warehouse.
func (a *Aggregator) ByWarehouse(ctx context.Context, periodDays int) ([]domain.StatRow, error) {
	key := a.cacheKey(ctx, periodDays, "warehouse")
	var rows []domain.StatRow
	if a.fromCache(ctx, key, &rows) {
		return rows, nil
	}

	events, err := a.window(ctx, periodDays)
	if err != nil {
		return nil, err
	}
	buckets := make(map[int64][]float64)
	for _, e := range events {
		if !e.IsAggregate() || e.StorageWarehouseID == 0 {
			continue
		}
		buckets[e.StorageWarehouseID] = append(buckets[e.StorageWarehouseID], e.DurationDays)
	}
	rows = rows[:0]
	for wid, vals := range buckets {
		label := a.dir.WarehouseName(wid)
		if label == "" {
			label = directory.FallbackWarehouseLabel(wid)
		}
		rows = append(rows, domain.StatRow{Key: wid, Label: label, Metrics: computeMetrics(vals)})
	}
	sortRows(rows)
	a.toCache(ctx, key, rows)
	return rows, nil
}

// ByCluster returns aggregate-event statistics bucketed by logistic cluster.
// Warehouses without a canonical cluster mapping fall back to a synthetic id
// derived from the cluster name; warehouses the directory cannot place in
// any cluster are left out.
func (a *Aggregator) ByCluster(ctx context.Context, periodDays int) ([]domain.StatRow, error) {
	key := a.cacheKey(ctx, periodDays, "cluster")
	var rows []domain.StatRow
	if a.fromCache(ctx, key, &rows) {
		return rows, nil
	}

	events, err := a.window(ctx, periodDays)
	if err != nil {
		return nil, err
	}
	buckets := make(map[int64][]float64)
	labels := make(map[int64]string)
	for _, e := range events {
		if !e.IsAggregate() {
			continue
		}
		cid, label, ok := a.resolveCluster(e)
		if !ok {
			continue
		}
		buckets[cid] = append(buckets[cid], e.DurationDays)
		if labels[cid] == "" {
			labels[cid] = label
		}
	}
	rows = rows[:0]
	for cid, vals := range buckets {
		label := labels[cid]
		if label == "" {
			label = directory.FallbackClusterLabel(cid)
		}
		rows = append(rows, domain.StatRow{Key: cid, Label: label, Metrics: computeMetrics(vals)})
	}
	sortRows(rows)
	a.toCache(ctx, key, rows)
	return rows, nil
}

// BySKU returns per-SKU statistics, filtered and ordered by the watch list
// when one is configured.
func (a *Aggregator) BySKU(ctx context.Context, periodDays int) ([]domain.StatRow, error) {
	key := a.cacheKey(ctx, periodDays, "sku")
	var rows []domain.StatRow
	if a.fromCache(ctx, key, &rows) {
		return rows, nil
	}

	events, err := a.window(ctx, periodDays)
	if err != nil {
		return nil, err
	}
	rows = a.skuRows(events, nil)
	a.toCache(ctx, key, rows)
	return rows, nil
}

// SKUForWarehouse is the per-SKU drill-down for one storage warehouse.
func (a *Aggregator) SKUForWarehouse(ctx context.Context, warehouseID int64, periodDays int) ([]domain.StatRow, error) {
	events, err := a.window(ctx, periodDays)
	if err != nil {
		return nil, err
	}
	return a.skuRows(events, func(e *domain.DurationEvent) bool {
		return e.StorageWarehouseID == warehouseID
	}), nil
}

// SKUForCluster is the per-SKU drill-down for one logistic cluster.
func (a *Aggregator) SKUForCluster(ctx context.Context, clusterID int64, periodDays int) ([]domain.StatRow, error) {
	events, err := a.window(ctx, periodDays)
	if err != nil {
		return nil, err
	}
	return a.skuRows(events, func(e *domain.DurationEvent) bool {
		cid, _, ok := a.resolveCluster(e)
		return ok && cid == clusterID
	}), nil
}

// skuRows buckets per-SKU events, optionally filtered, into ordered rows.
func (a *Aggregator) skuRows(events []*domain.DurationEvent, keep func(*domain.DurationEvent) bool) []domain.StatRow {
	buckets := make(map[int64][]float64)
	for _, e := range events {
		if e.IsAggregate() {
			continue
		}
		if keep != nil && !keep(e) {
			continue
		}
		buckets[e.SKU] = append(buckets[e.SKU], e.DurationDays)
	}

	build := func(sku int64) domain.StatRow {
		label := a.opts.SKUAlias[sku]
		if label == "" {
			label = strconv.FormatInt(sku, 10)
		}
		return domain.StatRow{Key: sku, Label: label, Metrics: computeMetrics(buckets[sku])}
	}

	if len(a.opts.WatchOrder) > 0 {
		rows := make([]domain.StatRow, 0, len(a.opts.WatchOrder))
		for _, sku := range a.opts.WatchOrder {
			if _, ok := buckets[sku]; ok {
				rows = append(rows, build(sku))
			}
		}
		// A watch list with zero hits falls back to the actual data rather
		// than rendering an empty view.
		if len(rows) > 0 {
			return rows
		}
	}

	rows := make([]domain.StatRow, 0, len(buckets))
	for sku := range buckets {
		rows = append(rows, build(sku))
	}
	sortRows(rows)
	return rows
}

// resolveCluster maps an event to its cluster: the id stamped at derivation,
// else the directory's canonical mapping, else a synthetic id from the
// cluster name.
func (a *Aggregator) resolveCluster(e *domain.DurationEvent) (int64, string, bool) {
	if e.ClusterID != 0 {
		return e.ClusterID, a.dir.ClusterName(e.ClusterID), true
	}
	if cid, ok := a.dir.ClusterFor(e.StorageWarehouseID); ok {
		return cid, a.dir.ClusterName(cid), true
	}
	if name := a.dir.ClusterNameForWarehouse(e.StorageWarehouseID); name != "" {
		return directory.SyntheticClusterID(name), name, true
	}
	return 0, "", false
}

// window returns events ending within the lookback period, bounded by the
// retention horizon and the duration filter.
func (a *Aggregator) window(ctx context.Context, periodDays int) ([]*domain.DurationEvent, error) {
	if periodDays < 1 {
		periodDays = 1
	}
	now := a.now()
	cutoff := now.AddDate(0, 0, -periodDays)
	if r := now.AddDate(0, 0, -a.opts.RetentionDays); r.After(cutoff) {
		cutoff = r
	}
	events, err := a.events.EndedSince(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	out := events[:0]
	for _, e := range events {
		if e.DurationDays < a.opts.MinDays || e.DurationDays > a.opts.MaxDays {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// cacheKey builds the cache key for a grouped view. The allocation flag
// participates only for the sku view: it changes per-SKU durations and
// nothing else.
func (a *Aggregator) cacheKey(ctx context.Context, periodDays int, view string) string {
	alloc := "-"
	if view == "sku" {
		alloc = "0"
		if p, err := a.prefs.Load(ctx); err == nil && p.AllocateByQuantity {
			alloc = "1"
		}
	}
	return fmt.Sprintf("P%d:%s:alloc=%s", periodDays, view, alloc)
}

// fromCache loads a cached payload into out when the entry is fresh: within
// the TTL and not older than the event store's last save.
func (a *Aggregator) fromCache(ctx context.Context, key string, out any) bool {
	payload, savedAt, err := a.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			a.log.Warn("stats cache read failed", "key", key, "err", err)
		}
		return false
	}
	if a.now().Sub(savedAt) > a.opts.TTL {
		return false
	}
	eventsSaved, err := a.events.SavedAt(ctx)
	if err != nil || savedAt.Before(eventsSaved) {
		return false
	}
	if err := json.Unmarshal(payload, out); err != nil {
		a.log.Warn("stats cache entry unreadable", "key", key, "err", err)
		return false
	}
	return true
}

func (a *Aggregator) toCache(ctx context.Context, key string, payload any) {
	if err := a.cache.Put(ctx, key, payload); err != nil {
		a.log.Warn("stats cache write failed", "key", key, "err", err)
	}
}
