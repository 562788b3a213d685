package stats

import (
	"context"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"leadtime-engine/internal/directory"
	"leadtime-engine/internal/domain"
	filestore "leadtime-engine/internal/storage/file"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type harness struct {
	events *filestore.EventStore
	cache  *filestore.StatsCache
	prefs  *filestore.PrefsStore
	agg    *Aggregator
	now    time.Time
}

func newHarness(t *testing.T, dir directory.Directory, opts Options) *harness {
	t.Helper()
	tmp := t.TempDir()
	logger := testLogger()
	h := &harness{
		events: filestore.NewEventStore(filepath.Join(tmp, "events.json"), logger),
		cache:  filestore.NewStatsCache(filepath.Join(tmp, "stats.json"), logger),
		prefs:  filestore.NewPrefsStore(filepath.Join(tmp, "prefs.json"), 180, logger),
		now:    time.Now().UTC(),
	}
	if opts.TTL == 0 {
		opts.TTL = 12 * time.Hour
	}
	if opts.MaxDays == 0 {
		opts.MaxDays = 90
	}
	if opts.RetentionDays == 0 {
		opts.RetentionDays = 360
	}
	h.agg = New(h.events, h.cache, h.prefs, dir, opts, logger)
	h.agg.WithNow(func() time.Time { return h.now })
	return h
}

// addEvent stores one aggregate event plus an optional per-SKU twin.
func (h *harness) addEvent(t *testing.T, orderID, wid int64, days float64, endedAgo time.Duration, sku int64) {
	t.Helper()
	end := h.now.Add(-endedAgo)
	err := h.events.Insert(context.Background(), &domain.DurationEvent{
		OrderID:            orderID,
		StartAt:            end.Add(-time.Duration(days*24) * time.Hour),
		EndAt:              end,
		DurationDays:       days,
		StorageWarehouseID: wid,
		SKU:                sku,
		Quantity:           1,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestSummary_AggregateEventsOnly(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, directory.Empty{}, Options{})
	h.addEvent(t, 1, 700, 2, 24*time.Hour, 0)
	h.addEvent(t, 2, 700, 4, 24*time.Hour, 0)
	h.addEvent(t, 2, 700, 4, 24*time.Hour, 11) // per-SKU twin, must not count

	sum, err := h.agg.Summary(ctx, 90)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.Count != 2 {
		t.Fatalf("count = %d, want 2 (per-SKU rows excluded)", sum.Count)
	}
	if math.Abs(sum.Avg-3.0) > 1e-9 {
		t.Errorf("avg = %v, want 3.0", sum.Avg)
	}
	if math.Abs(sum.P50-3.0) > 1e-9 {
		t.Errorf("p50 = %v, want interpolated 3.0", sum.P50)
	}
}

func TestByWarehouse_OrderingAndLabels(t *testing.T) {
	ctx := context.Background()
	dir := &directory.Static{WarehouseNames: map[int64]string{700: "Moscow"}}
	h := newHarness(t, dir, Options{})
	h.addEvent(t, 1, 700, 2, 24*time.Hour, 0)
	h.addEvent(t, 2, 700, 4, 24*time.Hour, 0)
	h.addEvent(t, 3, 701, 9, 24*time.Hour, 0)

	rows, err := h.agg.ByWarehouse(ctx, 90)
	if err != nil {
		t.Fatalf("ByWarehouse: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	// More samples first, directory label where known, fallback otherwise.
	if rows[0].Key != 700 || rows[0].Label != "Moscow" || rows[0].Metrics.Count != 2 {
		t.Errorf("rows[0] = %+v", rows[0])
	}
	if rows[1].Key != 701 || rows[1].Label != "wh:701" {
		t.Errorf("rows[1] = %+v", rows[1])
	}
}

func TestByCluster_UnmappedWarehouseDropped(t *testing.T) {
	ctx := context.Background()
	dir := &directory.Static{
		WarehouseClusters: map[int64]int64{700: 50},
		ClusterNames:      map[int64]string{50: "Center"},
	}
	h := newHarness(t, dir, Options{})
	h.addEvent(t, 1, 700, 3, 24*time.Hour, 0)
	// 701 has no canonical mapping and no name: dropped from the view.
	h.addEvent(t, 2, 701, 5, 24*time.Hour, 0)

	rows, err := h.agg.ByCluster(ctx, 90)
	if err != nil {
		t.Fatalf("ByCluster: %v", err)
	}
	if len(rows) != 1 || rows[0].Key != 50 || rows[0].Label != "Center" {
		t.Fatalf("rows = %+v", rows)
	}
}

func TestBySKU_WatchListOrderAndFallback(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, directory.Empty{}, Options{
		WatchOrder: []int64{22, 11},
		SKUAlias:   map[int64]string{22: "widget"},
	})
	h.addEvent(t, 1, 700, 3, 24*time.Hour, 11)
	h.addEvent(t, 2, 700, 4, 25*time.Hour, 11)
	h.addEvent(t, 3, 700, 5, 26*time.Hour, 22)

	rows, err := h.agg.BySKU(ctx, 90)
	if err != nil {
		t.Fatalf("BySKU: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	// Watch order wins over sample count.
	if rows[0].Key != 22 || rows[0].Label != "widget" || rows[1].Key != 11 {
		t.Errorf("watch ordering violated: %+v", rows)
	}

	// A watch list with zero hits falls back to actual data.
	h2 := newHarness(t, directory.Empty{}, Options{WatchOrder: []int64{999}})
	h2.addEvent(t, 1, 700, 3, 24*time.Hour, 11)
	rows, err = h2.agg.BySKU(ctx, 90)
	if err != nil || len(rows) != 1 || rows[0].Key != 11 {
		t.Errorf("fallback rows = %+v, err %v", rows, err)
	}
}

func TestSKUDrilldowns(t *testing.T) {
	ctx := context.Background()
	dir := &directory.Static{WarehouseClusters: map[int64]int64{700: 50, 701: 60}}
	h := newHarness(t, dir, Options{})
	h.addEvent(t, 1, 700, 3, 24*time.Hour, 11)
	h.addEvent(t, 2, 701, 7, 24*time.Hour, 11)

	rows, err := h.agg.SKUForWarehouse(ctx, 700, 90)
	if err != nil || len(rows) != 1 || rows[0].Metrics.Count != 1 {
		t.Fatalf("SKUForWarehouse rows = %+v, err %v", rows, err)
	}
	if math.Abs(rows[0].Metrics.Avg-3.0) > 1e-9 {
		t.Errorf("avg = %v, want 3.0", rows[0].Metrics.Avg)
	}

	rows, err = h.agg.SKUForCluster(ctx, 60, 90)
	if err != nil || len(rows) != 1 {
		t.Fatalf("SKUForCluster rows = %+v, err %v", rows, err)
	}
	if math.Abs(rows[0].Metrics.Avg-7.0) > 1e-9 {
		t.Errorf("avg = %v, want 7.0", rows[0].Metrics.Avg)
	}
}

func TestDurationBoundAppliedAtRead(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, directory.Empty{}, Options{})
	h.addEvent(t, 1, 700, 95, 24*time.Hour, 0) // out of bound, must never surface
	h.addEvent(t, 2, 700, 5, 24*time.Hour, 0)

	sum, err := h.agg.Summary(ctx, 90)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Count != 1 || math.Abs(sum.Avg-5.0) > 1e-9 {
		t.Errorf("out-of-bound duration reached results: %+v", sum)
	}
}

func TestRetentionAuthoritativeAtRead(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, directory.Empty{}, Options{RetentionDays: 100})
	h.addEvent(t, 1, 700, 5, 200*24*time.Hour, 0) // beyond retention, still on disk
	h.addEvent(t, 2, 700, 3, 24*time.Hour, 0)

	sum, err := h.agg.Summary(ctx, 360)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Count != 1 || math.Abs(sum.Avg-3.0) > 1e-9 {
		t.Errorf("expired event reached results before pruning: %+v", sum)
	}
}

func TestCache_ServedWhileFreshRecomputedAfterNewEvents(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, directory.Empty{}, Options{})
	h.addEvent(t, 1, 700, 2, 24*time.Hour, 0)

	first, err := h.agg.Summary(ctx, 90)
	if err != nil {
		t.Fatal(err)
	}

	// New events move the store's saved-at past the cache entry: the entry
	// no longer satisfies the freshness check regardless of TTL.
	h.addEvent(t, 2, 700, 8, 24*time.Hour, 0)
	second, err := h.agg.Summary(ctx, 90)
	if err != nil {
		t.Fatal(err)
	}
	if second.Count != first.Count+1 {
		t.Errorf("stale cache served after new events: %+v then %+v", first, second)
	}

	// No new events: the cached value is served as-is.
	third, err := h.agg.Summary(ctx, 90)
	if err != nil {
		t.Fatal(err)
	}
	if third != second {
		t.Errorf("fresh cache not served: %+v vs %+v", third, second)
	}
}

func TestCache_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, directory.Empty{}, Options{TTL: 12 * time.Hour})
	h.addEvent(t, 1, 700, 2, 24*time.Hour, 0)

	if _, err := h.agg.Summary(ctx, 90); err != nil {
		t.Fatal(err)
	}
	if _, _, err := h.cache.Get(ctx, "P90:summary:alloc=-"); err != nil {
		t.Fatalf("summary not cached: %v", err)
	}

	// Past the TTL the entry is recomputed even with no new events.
	h.now = h.now.Add(13 * time.Hour)
	sum, err := h.agg.Summary(ctx, 90)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Count != 1 {
		t.Errorf("recompute after TTL lost data: %+v", sum)
	}
}

func TestCacheKey_AllocFlagOnlyForSKU(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, directory.Empty{}, Options{})
	h.addEvent(t, 1, 700, 3, 24*time.Hour, 11)

	if _, err := h.agg.BySKU(ctx, 90); err != nil {
		t.Fatal(err)
	}
	if _, err := h.agg.ByWarehouse(ctx, 90); err != nil {
		t.Fatal(err)
	}
	// Default prefs have allocation on.
	if _, _, err := h.cache.Get(ctx, "P90:sku:alloc=1"); err != nil {
		t.Errorf("sku cache key missing alloc flag: %v", err)
	}
	if _, _, err := h.cache.Get(ctx, "P90:warehouse:alloc=-"); err != nil {
		t.Errorf("warehouse cache key carries alloc flag: %v", err)
	}
}

func TestComputePercentile(t *testing.T) {
	sorted := []float64{1, 2, 3, 4}
	cases := []struct {
		p    float64
		want float64
	}{
		{0, 1},
		{0.5, 2.5},
		{0.9, 3.7},
		{1, 4},
	}
	for _, c := range cases {
		if got := computePercentile(sorted, c.p); math.Abs(got-c.want) > 1e-9 {
			t.Errorf("p%.0f = %v, want %v", c.p*100, got, c.want)
		}
	}
	if got := computePercentile(nil, 0.5); got != 0 {
		t.Errorf("empty percentile = %v", got)
	}
	if got := computePercentile([]float64{7}, 0.9); got != 7 {
		t.Errorf("single percentile = %v", got)
	}
}
