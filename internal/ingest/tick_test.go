package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"leadtime-engine/internal/deriver"
	"leadtime-engine/internal/directory"
	"leadtime-engine/internal/domain"
	filestore "leadtime-engine/internal/storage/file"
	"leadtime-engine/internal/supply"
)

// fakeUpstream is a minimal fulfillment API: one order whose reported state
// is controlled by the test.
type fakeUpstream struct {
	mu             sync.Mutex
	listCalls      int
	rateLimitFirst bool
	state          string
}

func (f *fakeUpstream) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v3/supply-order/list", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.listCalls++
		limited := f.rateLimitFirst && f.listCalls == 1
		f.mu.Unlock()
		if limited {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
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
			"items":    []map[string]any{{"sku": int64(11), "quantity": 2.0}},
			"has_next": false,
		})
	})
	return mux
}

type tickHarness struct {
	ticker     *Ticker
	normalizer *Normalizer
	deriver    *deriver.Deriver
	retainer   *Retainer
	state      *filestore.IngestStateStore
	events     *filestore.EventStore
	lifecycles *filestore.LifecycleStore
	now        time.Time
}

func (h *tickHarness) setNow(at time.Time) {
	h.now = at
}

func newTickHarness(t *testing.T, baseURL string) *tickHarness {
	t.Helper()
	tmp := t.TempDir()
	logger := testLogger()

	h := &tickHarness{
		now:        time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC),
		state:      filestore.NewIngestStateStore(filepath.Join(tmp, "ingest_state.json"), logger),
		events:     filestore.NewEventStore(filepath.Join(tmp, "events.json"), logger),
		lifecycles: filestore.NewLifecycleStore(filepath.Join(tmp, "states.json"), logger),
	}
	prefs := filestore.NewPrefsStore(filepath.Join(tmp, "prefs.json"), 180, logger)
	cache := filestore.NewStatsCache(filepath.Join(tmp, "stats.json"), logger)
	clock := func() time.Time { return h.now }

	client := supply.NewClient(baseURL, "cid", "key", supply.WithRetryAfterCap(time.Millisecond))
	resolver := NewBundleResolver(client, 15, logger)
	h.normalizer = NewNormalizer(h.lifecycles, resolver, logger).WithNow(clock)
	h.deriver = deriver.New(h.lifecycles, h.events, prefs, cache, directory.Empty{},
		deriver.Bounds{MinDays: 0, MaxDays: 90, RetentionDays: 360}, logger).WithNow(clock)
	h.retainer = NewRetainer(h.lifecycles, h.events, cache, 360, logger).WithNow(clock)

	h.ticker = NewTicker(TickerConfig{
		Source:     client,
		Normalizer: h.normalizer,
		Resolver:   resolver,
		Deriver:    h.deriver,
		Retainer:   h.retainer,
		State:      h.state,
		Prefs:      prefs,
		Events:     h.events,
		Lifecycles: h.lifecycles,
		Options: TickOptions{
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
	return h
}

func TestTick_RateLimitedPageRetriedOnce(t *testing.T) {
	ctx := context.Background()
	upstream := &fakeUpstream{rateLimitFirst: true, state: "ORDER_STATE_ACCEPTED_AT_SUPPLY_WAREHOUSE"}
	srv := httptest.NewServer(upstream.handler())
	defer srv.Close()

	h := newTickHarness(t, srv.URL)
	added, err := h.ticker.Run(ctx, 0, 0)
	require.NoError(t, err)
	require.Equal(t, 0, added, "accepted-only order has no end yet")

	upstream.mu.Lock()
	calls := upstream.listCalls
	upstream.mu.Unlock()
	require.GreaterOrEqual(t, calls, 2, "rate-limited page must be retried")

	st, err := h.state.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, h.now, st.LastRunAt, "last_run_at must advance despite the rate limit")
	require.False(t, st.IsRunning)
	require.Equal(t, h.now.Add(15*time.Minute), st.NextAllowed)

	lc, err := h.lifecycles.Get(ctx, 101)
	require.NoError(t, err)
	require.Len(t, lc.Composition, 1, "bundle snapshot must resolve on first accepted")
}

func TestTick_CompletionDerivesOnceThenZero(t *testing.T) {
	ctx := context.Background()
	upstream := &fakeUpstream{state: "ORDER_STATE_ACCEPTED_AT_SUPPLY_WAREHOUSE"}
	srv := httptest.NewServer(upstream.handler())
	defer srv.Close()

	h := newTickHarness(t, srv.URL)
	start := h.now

	_, err := h.ticker.Run(ctx, 0, 0)
	require.NoError(t, err)

	upstream.mu.Lock()
	upstream.state = "ORDER_STATE_ACCEPTANCE_AT_STORAGE_WAREHOUSE"
	upstream.mu.Unlock()
	h.setNow(start.AddDate(0, 0, 3))

	added, err := h.ticker.Run(ctx, 0, 0)
	require.NoError(t, err)
	require.Equal(t, 2, added, "aggregate plus one per-SKU event")

	// Same upstream data again: dedupe keeps re-ingestion at zero.
	h.setNow(start.AddDate(0, 0, 3).Add(20 * time.Minute))
	added, err = h.ticker.Run(ctx, 0, 0)
	require.NoError(t, err)
	require.Equal(t, 0, added)
}

func TestTick_GatedByNextAllowed(t *testing.T) {
	ctx := context.Background()
	upstream := &fakeUpstream{state: "ORDER_STATE_ACCEPTED_AT_SUPPLY_WAREHOUSE"}
	srv := httptest.NewServer(upstream.handler())
	defer srv.Close()

	h := newTickHarness(t, srv.URL)

	// Non-empty event store, so gating is not bypassed by bootstrap.
	require.NoError(t, h.events.Insert(ctx, &domain.DurationEvent{
		OrderID: 1, StorageWarehouseID: 700,
		StartAt: h.now.AddDate(0, 0, -5), EndAt: h.now.AddDate(0, 0, -2), DurationDays: 3,
	}))
	require.NoError(t, h.state.Save(ctx, &domain.IngestState{NextAllowed: h.now.Add(time.Hour)}))

	added, err := h.ticker.Run(ctx, 0, 0)
	require.NoError(t, err)
	require.Equal(t, 0, added)
	upstream.mu.Lock()
	defer upstream.mu.Unlock()
	require.Zero(t, upstream.listCalls, "gated tick must not touch upstream")
}

func TestTick_StaleRunningFlagCleared(t *testing.T) {
	ctx := context.Background()
	upstream := &fakeUpstream{state: "ORDER_STATE_ACCEPTED_AT_SUPPLY_WAREHOUSE"}
	srv := httptest.NewServer(upstream.handler())
	defer srv.Close()

	h := newTickHarness(t, srv.URL)
	require.NoError(t, h.events.Insert(ctx, &domain.DurationEvent{
		OrderID: 1, StorageWarehouseID: 700,
		StartAt: h.now.AddDate(0, 0, -5), EndAt: h.now.AddDate(0, 0, -2), DurationDays: 3,
	}))
	require.NoError(t, h.state.Save(ctx, &domain.IngestState{
		IsRunning:    true,
		RunStartedAt: h.now.Add(-2 * time.Hour),
	}))

	_, err := h.ticker.Run(ctx, 0, 0)
	require.NoError(t, err)

	upstream.mu.Lock()
	calls := upstream.listCalls
	upstream.mu.Unlock()
	require.Positive(t, calls, "a stale running flag must not block ingestion")

	st, err := h.state.Load(ctx)
	require.NoError(t, err)
	require.False(t, st.IsRunning)
}

func TestTick_FreshRunningFlagSkips(t *testing.T) {
	ctx := context.Background()
	upstream := &fakeUpstream{state: "ORDER_STATE_ACCEPTED_AT_SUPPLY_WAREHOUSE"}
	srv := httptest.NewServer(upstream.handler())
	defer srv.Close()

	h := newTickHarness(t, srv.URL)
	require.NoError(t, h.events.Insert(ctx, &domain.DurationEvent{
		OrderID: 1, StorageWarehouseID: 700,
		StartAt: h.now.AddDate(0, 0, -5), EndAt: h.now.AddDate(0, 0, -2), DurationDays: 3,
	}))
	require.NoError(t, h.state.Save(ctx, &domain.IngestState{
		IsRunning:    true,
		RunStartedAt: h.now.Add(-time.Minute),
	}))

	added, err := h.ticker.Run(ctx, 0, 0)
	require.NoError(t, err)
	require.Equal(t, 0, added)
	upstream.mu.Lock()
	defer upstream.mu.Unlock()
	require.Zero(t, upstream.listCalls)
}
