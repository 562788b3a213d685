package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"leadtime-engine/internal/deriver"
	"leadtime-engine/internal/directory"
	"leadtime-engine/internal/ingest"
	"leadtime-engine/internal/leads"
	"leadtime-engine/internal/stats"
	"leadtime-engine/internal/storage"
	filestore "leadtime-engine/internal/storage/file"
	"leadtime-engine/internal/supply"
)

// fakeUpstream serves one supply order whose reported state the test moves
// through the lifecycle.
type fakeUpstream struct {
	mu    sync.Mutex
	state string
}

func (f *fakeUpstream) setState(s string) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
}

func (f *fakeUpstream) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v3/supply-order/list", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"order_ids":            []int64{101},
			"last_supply_order_id": 0,
		})
	})
	mux.HandleFunc("/v3/supply-order/get", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		state := f.state
		f.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{
			"orders": []map[string]any{{
				"order_id":             int64(101),
				"order_number":         "SO-101",
				"state":                state,
				"dropoff_warehouse_id": int64(10),
				"supplies": []map[string]any{
					{"storage_warehouse_id": int64(700), "bundle_id": "b1"},
				},
			}},
		})
	})
	mux.HandleFunc("/v1/supply-order/bundle", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]any{
				{"sku": int64(11), "quantity": 2.0},
				{"sku": int64(22), "quantity": 1.0},
			},
			"has_next": false,
		})
	})
	return mux
}

type engineHarness struct {
	engine *Engine
	leads  *filestore.LeadStore
	prefs  *filestore.PrefsStore
	now    time.Time
}

func newEngineHarness(t *testing.T, baseURL string) *engineHarness {
	t.Helper()
	tmp := t.TempDir()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	h := &engineHarness{now: time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return h.now }

	lifecycles := filestore.NewLifecycleStore(filepath.Join(tmp, "states.json"), logger)
	events := filestore.NewEventStore(filepath.Join(tmp, "events.json"), logger)
	cache := filestore.NewStatsCache(filepath.Join(tmp, "stats.json"), logger)
	state := filestore.NewIngestStateStore(filepath.Join(tmp, "ingest_state.json"), logger)
	h.prefs = filestore.NewPrefsStore(filepath.Join(tmp, "prefs.json"), 180, logger)
	h.leads = filestore.NewLeadStore(filepath.Join(tmp, "leads.json"), logger)
	dir := &directory.Static{WarehouseNames: map[int64]string{700: "Moscow"}}

	client := supply.NewClient(baseURL, "cid", "key")
	resolver := ingest.NewBundleResolver(client, 15, logger)
	normalizer := ingest.NewNormalizer(lifecycles, resolver, logger).WithNow(clock)
	der := deriver.New(lifecycles, events, h.prefs, cache, dir,
		deriver.Bounds{MinDays: 0, MaxDays: 90, RetentionDays: 360}, logger).WithNow(clock)
	retainer := ingest.NewRetainer(lifecycles, events, cache, 360, logger).WithNow(clock)
	agg := stats.New(events, cache, h.prefs, dir, stats.Options{
		TTL:           12 * time.Hour,
		MaxDays:       90,
		RetentionDays: 360,
	}, logger)
	agg.WithNow(clock)
	syncer := leads.NewSynchronizer(h.leads, events, agg, dir, logger)

	ticker := ingest.NewTicker(ingest.TickerConfig{
		Source:     client,
		Normalizer: normalizer,
		Resolver:   resolver,
		Deriver:    der,
		Retainer:   retainer,
		Sync:       syncer,
		State:      state,
		Prefs:      h.prefs,
		Events:     events,
		Lifecycles: lifecycles,
		Options: ingest.TickOptions{
			Pages:          3,
			BootstrapPages: 5,
			MaxPages:       50,
			ListBatch:      100,
			GetBatch:       50,
			Interval:       15 * time.Minute,
			StaleRunAfter:  30 * time.Minute,
		},
		Logger: logger,
	}).WithNow(clock)

	h.engine = New(Options{
		Lifecycles: lifecycles,
		Events:     events,
		Cache:      cache,
		Prefs:      h.prefs,
		State:      state,
		Leads:      h.leads,
		Aggregator: agg,
		Deriver:    der,
		Ticker:     ticker,
		Retainer:   retainer,
		Sync:       syncer,
		Logger:     logger,
	})
	return h
}

func TestEngine_IngestThroughToStats(t *testing.T) {
	ctx := context.Background()
	upstream := &fakeUpstream{state: "ORDER_STATE_ACCEPTED_AT_SUPPLY_WAREHOUSE"}
	srv := httptest.NewServer(upstream.handler())
	defer srv.Close()

	h := newEngineHarness(t, srv.URL)
	start := h.now

	added, err := h.engine.IngestTick(ctx, 0, 0)
	require.NoError(t, err)
	require.Equal(t, 0, added)

	upstream.setState("ORDER_STATE_ACCEPTANCE_AT_STORAGE_WAREHOUSE")
	h.now = start.AddDate(0, 0, 3)
	added, err = h.engine.IngestTick(ctx, 0, 0)
	require.NoError(t, err)
	require.Equal(t, 3, added, "one aggregate plus two per-SKU events")

	// ingest_tick twice with no new upstream data adds zero the second time
	h.now = h.now.Add(time.Hour)
	added, err = h.engine.IngestTick(ctx, 0, 0)
	require.NoError(t, err)
	require.Zero(t, added)

	sum := h.engine.GetSummary(ctx, 90)
	require.Equal(t, 1, sum.Count)
	require.InDelta(t, 3.0, sum.Avg, 1e-9)

	rows := h.engine.GetByWarehouse(ctx, 90)
	require.Len(t, rows, 1)
	require.Equal(t, "Moscow", rows[0].Label)

	skuRows := h.engine.GetBySKU(ctx, 90)
	require.Len(t, skuRows, 2)
	for _, r := range skuRows {
		require.GreaterOrEqual(t, r.Metrics.Avg, 0.0)
		require.LessOrEqual(t, r.Metrics.Avg, 90.0)
	}

	status := h.engine.IngestStatus(ctx)
	require.Equal(t, 3, status.TotalCached)
	require.Equal(t, 1, status.BaseRows)
	require.Equal(t, 2, status.SKURows)
	require.Equal(t, 1, status.Tracked)
	require.Equal(t, 1, status.Completed)
	require.Zero(t, status.InProgress)
	require.False(t, status.LastRunAt.IsZero())
}

func TestEngine_AllocationToggleRebuilds(t *testing.T) {
	ctx := context.Background()
	upstream := &fakeUpstream{state: "ORDER_STATE_ACCEPTED_AT_SUPPLY_WAREHOUSE"}
	srv := httptest.NewServer(upstream.handler())
	defer srv.Close()

	h := newEngineHarness(t, srv.URL)
	start := h.now

	_, err := h.engine.IngestTick(ctx, 0, 0)
	require.NoError(t, err)
	upstream.setState("ORDER_STATE_ACCEPTANCE_AT_STORAGE_WAREHOUSE")
	h.now = start.AddDate(0, 0, 3)
	_, err = h.engine.IngestTick(ctx, 0, 0)
	require.NoError(t, err)

	// Allocation on (default): sku 11 carries 2/3 of the 3-day duration.
	rows := h.engine.GetBySKU(ctx, 90)
	require.Len(t, rows, 2)
	bySKU := map[int64]float64{}
	for _, r := range rows {
		bySKU[r.Key] = r.Metrics.Avg
	}
	require.InDelta(t, 2.0, bySKU[11], 1e-9)
	require.InDelta(t, 1.0, bySKU[22], 1e-9)

	require.NoError(t, h.engine.SetAllocationFlag(ctx, false))

	rows = h.engine.GetBySKU(ctx, 90)
	require.Len(t, rows, 2)
	for _, r := range rows {
		require.InDelta(t, 3.0, r.Metrics.Avg, 1e-9, "allocation off reports full order duration")
	}
}

func TestEngine_SetPeriodValidation(t *testing.T) {
	ctx := context.Background()
	srv := httptest.NewServer((&fakeUpstream{}).handler())
	defer srv.Close()
	h := newEngineHarness(t, srv.URL)

	err := h.engine.SetPeriod(ctx, 45)
	require.ErrorIs(t, err, storage.ErrInvalidInput)

	require.NoError(t, h.engine.SetPeriod(ctx, 90))
	p, err := h.prefs.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, 90, p.PeriodDays)
}

func TestEngine_FollowSurface(t *testing.T) {
	ctx := context.Background()
	upstream := &fakeUpstream{state: "ORDER_STATE_ACCEPTED_AT_SUPPLY_WAREHOUSE"}
	srv := httptest.NewServer(upstream.handler())
	defer srv.Close()

	h := newEngineHarness(t, srv.URL)
	start := h.now

	_, err := h.engine.IngestTick(ctx, 0, 0)
	require.NoError(t, err)
	upstream.setState("ORDER_STATE_ACCEPTANCE_AT_STORAGE_WAREHOUSE")
	h.now = start.AddDate(0, 0, 3)
	_, err = h.engine.IngestTick(ctx, 0, 0)
	require.NoError(t, err)

	// The tick auto-enrolled warehouse 700 and synchronized its value.
	rec, err := h.engine.GetLead(ctx, 700)
	require.NoError(t, err)
	require.True(t, rec.FollowStats)
	require.InDelta(t, 3.0, rec.Days, 1e-9)
	require.Equal(t, "stats_sync:P180", rec.UpdatedBy)
	require.Equal(t, "Moscow", rec.Name)

	require.NoError(t, h.engine.DisableFollow(ctx, 700))
	require.NoError(t, h.engine.SetLead(ctx, 700, 12.5))

	synced, err := h.engine.SyncFollowers(ctx)
	require.NoError(t, err)
	require.Zero(t, synced, "disabled subscription must not be synced")
	rec, err = h.engine.GetLead(ctx, 700)
	require.NoError(t, err)
	require.InDelta(t, 12.5, rec.Days, 1e-9)
	require.Equal(t, "manual", rec.UpdatedBy)

	_, err = h.engine.GetLead(ctx, 999)
	require.True(t, errors.Is(err, storage.ErrNotFound))
}
