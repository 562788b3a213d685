// Package leads keeps the manual-override store in step with computed
// statistics: it pushes aggregated averages to subscribed warehouses and
// enrolls newly seen warehouses that carry no subscription decision yet.
package leads

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"leadtime-engine/internal/directory"
	"leadtime-engine/internal/domain"
	"leadtime-engine/internal/storage"
)

// Follow subscription defaults.
const (
	DefaultFollowPeriod = 90
	MetricAvg           = "avg"
)

// StatsSource supplies per-warehouse aggregates for a lookback period.
type StatsSource interface {
	ByWarehouse(ctx context.Context, periodDays int) ([]domain.StatRow, error)
}

// Synchronizer pushes computed averages into the manual-override store.
type Synchronizer struct {
	leads  storage.LeadStore
	events storage.EventStore
	stats  StatsSource
	dir    directory.Directory
	log    *slog.Logger
}

// NewSynchronizer creates a Synchronizer.
func NewSynchronizer(
	leads storage.LeadStore,
	events storage.EventStore,
	stats StatsSource,
	dir directory.Directory,
	logger *slog.Logger,
) *Synchronizer {
	return &Synchronizer{
		leads:  leads,
		events: events,
		stats:  stats,
		dir:    dir,
		log:    logger.With("component", "leads_sync"),
	}
}

// SyncFollowers pushes the average for each enabled subscription into the
// override store, tagged with its synchronization origin. Only the "avg"
// metric is supported; zero and negative averages are never pushed, so a
// warehouse with no recent data keeps its last known value. Idempotent and
// safe to call on every tick.
func (s *Synchronizer) SyncFollowers(ctx context.Context) (int, error) {
	followers, err := s.leads.Followers(ctx)
	if err != nil {
		return 0, fmt.Errorf("load followers: %w", err)
	}
	if len(followers) == 0 {
		return 0, nil
	}

	// One aggregation per distinct period, shared across its followers.
	avgByPeriod := make(map[int]map[int64]float64)
	for _, rec := range followers {
		p := followPeriod(rec)
		if _, done := avgByPeriod[p]; done {
			continue
		}
		rows, err := s.stats.ByWarehouse(ctx, p)
		if err != nil {
			s.log.Warn("warehouse stats unavailable", "period", p, "err", err)
			avgByPeriod[p] = map[int64]float64{}
			continue
		}
		m := make(map[int64]float64, len(rows))
		for _, r := range rows {
			m[r.Key] = r.Metrics.Avg
		}
		avgByPeriod[p] = m
	}

	synced := 0
	for _, wid := range sortedKeys(followers) {
		rec := followers[wid]
		if rec.FollowMetric != "" && rec.FollowMetric != MetricAvg {
			continue
		}
		p := followPeriod(rec)
		avg := avgByPeriod[p][wid]
		if avg <= 0 {
			continue
		}
		rounded := math.Round(avg*100) / 100
		if err := s.leads.SetLead(ctx, wid, rounded, fmt.Sprintf("stats_sync:P%d", p)); err != nil {
			s.log.Warn("lead update failed", "warehouse_id", wid, "err", err)
			continue
		}
		s.rememberName(ctx, wid)
		synced++
	}
	return synced, nil
}

// AutoEnroll subscribes every storage warehouse seen in aggregate events
// that has no record in the override store yet. A record with follow
// disabled counts as an explicit operator decision and is left alone.
func (s *Synchronizer) AutoEnroll(ctx context.Context, periodDays int) (int, error) {
	if !domain.ValidPeriod(periodDays) {
		periodDays = DefaultFollowPeriod
	}
	existing, err := s.leads.All(ctx)
	if err != nil {
		return 0, fmt.Errorf("load leads: %w", err)
	}
	events, err := s.events.All(ctx)
	if err != nil {
		return 0, fmt.Errorf("load events: %w", err)
	}

	seen := make(map[int64]bool)
	for _, e := range events {
		if e.IsAggregate() && e.StorageWarehouseID > 0 {
			seen[e.StorageWarehouseID] = true
		}
	}

	todo := make([]int64, 0, len(seen))
	for wid := range seen {
		if _, decided := existing[wid]; !decided {
			todo = append(todo, wid)
		}
	}
	sort.Slice(todo, func(i, j int) bool { return todo[i] < todo[j] })

	enrolled := 0
	for _, wid := range todo {
		if err := s.leads.EnableFollow(ctx, wid, periodDays, MetricAvg); err != nil {
			s.log.Warn("auto-enroll failed", "warehouse_id", wid, "err", err)
			continue
		}
		s.rememberName(ctx, wid)
		enrolled++
	}
	return enrolled, nil
}

// rememberName stamps the directory's display label onto the record so
// reports stay readable even when the directory is briefly unavailable.
func (s *Synchronizer) rememberName(ctx context.Context, warehouseID int64) {
	name := s.dir.WarehouseName(warehouseID)
	if name == "" {
		return
	}
	if err := s.leads.SetName(ctx, warehouseID, name); err != nil {
		s.log.Warn("lead name update failed", "warehouse_id", warehouseID, "err", err)
	}
}

func followPeriod(rec *domain.LeadRecord) int {
	if rec.FollowPeriod > 0 {
		return rec.FollowPeriod
	}
	return DefaultFollowPeriod
}

func sortedKeys(m map[int64]*domain.LeadRecord) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
