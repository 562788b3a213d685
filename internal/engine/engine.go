// Package engine is the public surface of the lead-time engine: statistics
// reads, policy toggles, maintenance actions, and the ingestion entry point.
// Reads never fail outward; they degrade to empty results and log the cause.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"leadtime-engine/internal/deriver"
	"leadtime-engine/internal/domain"
	"leadtime-engine/internal/ingest"
	"leadtime-engine/internal/leads"
	"leadtime-engine/internal/stats"
	"leadtime-engine/internal/storage"
)

// Options wires the engine's collaborators.
type Options struct {
	Lifecycles storage.LifecycleStore
	Events     storage.EventStore
	Cache      storage.StatsCache
	Prefs      storage.PrefsStore
	State      storage.IngestStateStore
	Leads      storage.LeadStore

	Aggregator *stats.Aggregator
	Deriver    *deriver.Deriver
	Ticker     *ingest.Ticker
	Retainer   *ingest.Retainer
	Sync       *leads.Synchronizer

	Logger *slog.Logger
}

// Engine exposes the lead-time statistics and their maintenance operations.
type Engine struct {
	opts Options
	log  *slog.Logger
}

// New creates an Engine.
func New(opts Options) *Engine {
	return &Engine{
		opts: opts,
		log:  opts.Logger.With("component", "engine"),
	}
}

// GetSummary returns the grouping-free statistics for the period (0 means
// the configured default).
func (e *Engine) GetSummary(ctx context.Context, periodDays int) domain.Summary {
	out, err := e.opts.Aggregator.Summary(ctx, e.resolvePeriod(ctx, periodDays))
	if err != nil {
		e.log.Warn("summary unavailable", "err", err)
		return domain.Summary{}
	}
	return out
}

// GetByWarehouse returns per-warehouse statistics.
func (e *Engine) GetByWarehouse(ctx context.Context, periodDays int) []domain.StatRow {
	return e.rows(ctx, "warehouse", func(p int) ([]domain.StatRow, error) {
		return e.opts.Aggregator.ByWarehouse(ctx, p)
	}, periodDays)
}

// GetByCluster returns per-cluster statistics.
func (e *Engine) GetByCluster(ctx context.Context, periodDays int) []domain.StatRow {
	return e.rows(ctx, "cluster", func(p int) ([]domain.StatRow, error) {
		return e.opts.Aggregator.ByCluster(ctx, p)
	}, periodDays)
}

// GetBySKU returns per-SKU statistics.
func (e *Engine) GetBySKU(ctx context.Context, periodDays int) []domain.StatRow {
	return e.rows(ctx, "sku", func(p int) ([]domain.StatRow, error) {
		return e.opts.Aggregator.BySKU(ctx, p)
	}, periodDays)
}

// GetSKUForWarehouse returns the per-SKU drill-down for one warehouse.
func (e *Engine) GetSKUForWarehouse(ctx context.Context, warehouseID int64, periodDays int) []domain.StatRow {
	return e.rows(ctx, "sku_for_warehouse", func(p int) ([]domain.StatRow, error) {
		return e.opts.Aggregator.SKUForWarehouse(ctx, warehouseID, p)
	}, periodDays)
}

// GetSKUForCluster returns the per-SKU drill-down for one cluster.
func (e *Engine) GetSKUForCluster(ctx context.Context, clusterID int64, periodDays int) []domain.StatRow {
	return e.rows(ctx, "sku_for_cluster", func(p int) ([]domain.StatRow, error) {
		return e.opts.Aggregator.SKUForCluster(ctx, clusterID, p)
	}, periodDays)
}

func (e *Engine) rows(ctx context.Context, view string, fetch func(int) ([]domain.StatRow, error), periodDays int) []domain.StatRow {
	out, err := fetch(e.resolvePeriod(ctx, periodDays))
	if err != nil {
		e.log.Warn("stats unavailable", "view", view, "err", err)
		return nil
	}
	return out
}

// SetAllocationFlag switches the per-SKU duration weighting and rebuilds
// derived events: existing durations were computed under the other rule, so
// appending is not enough.
func (e *Engine) SetAllocationFlag(ctx context.Context, on bool) error {
	p, err := e.opts.Prefs.Load(ctx)
	if err != nil {
		return fmt.Errorf("load prefs: %w", err)
	}
	if p.AllocateByQuantity == on {
		return nil
	}
	p.AllocateByQuantity = on
	if err := e.opts.Prefs.Save(ctx, p); err != nil {
		return fmt.Errorf("save prefs: %w", err)
	}
	if _, err := e.opts.Deriver.Rebuild(ctx); err != nil {
		return fmt.Errorf("rebuild events: %w", err)
	}
	return nil
}

// SetPeriod changes the default statistics lookback. Values outside the
// allowed set are rejected.
func (e *Engine) SetPeriod(ctx context.Context, periodDays int) error {
	if !domain.ValidPeriod(periodDays) {
		return fmt.Errorf("period %d: %w", periodDays, storage.ErrInvalidInput)
	}
	p, err := e.opts.Prefs.Load(ctx)
	if err != nil {
		return fmt.Errorf("load prefs: %w", err)
	}
	p.PeriodDays = periodDays
	if err := e.opts.Prefs.Save(ctx, p); err != nil {
		return fmt.Errorf("save prefs: %w", err)
	}
	return nil
}

// InvalidateCache drops every cached statistic.
func (e *Engine) InvalidateCache(ctx context.Context) error {
	return e.opts.Cache.Invalidate(ctx)
}

// RebuildFromLifecycles clears derived events, re-derives them from the
// lifecycle store under the current policy, and refreshes follow
// subscriptions. Returns the number of events derived.
func (e *Engine) RebuildFromLifecycles(ctx context.Context) (int, error) {
	added, err := e.opts.Deriver.Rebuild(ctx)
	if err != nil {
		return added, err
	}
	if e.opts.Sync != nil {
		period := e.resolvePeriod(ctx, 0)
		if _, serr := e.opts.Sync.AutoEnroll(ctx, period); serr != nil {
			e.log.Warn("auto-enroll failed", "err", serr)
		}
		if _, serr := e.opts.Sync.SyncFollowers(ctx); serr != nil {
			e.log.Warn("follower sync failed", "err", serr)
		}
	}
	return added, nil
}

// IngestTick runs one gated ingestion tick. pages and days are optional
// overrides (0 uses configuration).
func (e *Engine) IngestTick(ctx context.Context, pages, days int) (int, error) {
	return e.opts.Ticker.Run(ctx, pages, days)
}

// Retain prunes records past the retention horizon.
func (e *Engine) Retain(ctx context.Context) (int, error) {
	return e.opts.Retainer.Retain(ctx)
}

// SyncFollowers pushes current averages to subscribed warehouses.
func (e *Engine) SyncFollowers(ctx context.Context) (int, error) {
	return e.opts.Sync.SyncFollowers(ctx)
}

// SetLead pins a manual lead-time value for a warehouse.
func (e *Engine) SetLead(ctx context.Context, warehouseID int64, days float64) error {
	return e.opts.Leads.SetLead(ctx, warehouseID, days, "manual")
}

// GetLead returns the override record for a warehouse.
func (e *Engine) GetLead(ctx context.Context, warehouseID int64) (*domain.LeadRecord, error) {
	return e.opts.Leads.Get(ctx, warehouseID)
}

// EnableFollow subscribes a warehouse to computed statistics.
func (e *Engine) EnableFollow(ctx context.Context, warehouseID int64, periodDays int) error {
	if !domain.ValidPeriod(periodDays) {
		periodDays = e.resolvePeriod(ctx, 0)
	}
	return e.opts.Leads.EnableFollow(ctx, warehouseID, periodDays, leads.MetricAvg)
}

// DisableFollow turns a warehouse's subscription off.
func (e *Engine) DisableFollow(ctx context.Context, warehouseID int64) error {
	return e.opts.Leads.DisableFollow(ctx, warehouseID)
}

// IngestStatus reports the engine's diagnostic snapshot.
func (e *Engine) IngestStatus(ctx context.Context) domain.IngestStatus {
	var out domain.IngestStatus

	if st, err := e.opts.State.Load(ctx); err == nil {
		out.LastRunAt = st.LastRunAt
		out.LastAdded = st.LastAdded
		out.LastPages = st.LastPages
	}
	// Last activity is whichever moved last: the tick scheduler or the
	// event store itself (rebuilds write events without a tick).
	if savedAt, err := e.opts.Events.SavedAt(ctx); err == nil && savedAt.After(out.LastRunAt) {
		out.LastRunAt = savedAt
	}

	if events, err := e.opts.Events.All(ctx); err == nil {
		out.TotalCached = len(events)
		for _, ev := range events {
			if ev.IsAggregate() {
				out.BaseRows++
			} else {
				out.SKURows++
			}
		}
	}
	if lifecycles, err := e.opts.Lifecycles.All(ctx); err == nil {
		out.Tracked = len(lifecycles)
		for _, lc := range lifecycles {
			if lc.Complete() {
				out.Completed++
			}
		}
		out.InProgress = out.Tracked - out.Completed
	}
	return out
}
// resolvePeriod maps a requested period to an allowed one, falling back to
// the configured default.
func (e *Engine) resolvePeriod(ctx context.Context, periodDays int) int {
	if domain.ValidPeriod(periodDays) {
		return periodDays
	}
	if p, err := e.opts.Prefs.Load(ctx); err == nil && p.PeriodDays > 0 {
		return p.PeriodDays
	}
	return 180
}
