package ingest

import (
	"context"
	"log/slog"
	"time"

	"leadtime-engine/internal/domain"
	"leadtime-engine/internal/observability"
	"leadtime-engine/internal/storage"
	"leadtime-engine/internal/supply"
)

// OrderSource is the slice of the fulfillment client the tick needs.
type OrderSource interface {
	ListOrderIDs(ctx context.Context, statuses []string, fromID int64, limit int) ([]int64, int64, error)
	GetOrders(ctx context.Context, ids []int64) ([]supply.Order, error)
}

// Deriver turns completed lifecycles into duration events.
type Deriver interface {
	Derive(ctx context.Context) (int, error)
}

// FollowSyncer maintains follow subscriptions after each ingestion run.
type FollowSyncer interface {
	AutoEnroll(ctx context.Context, periodDays int) (int, error)
	SyncFollowers(ctx context.Context) (int, error)
}

// budgetResetter restores a per-run resource budget before a tick runs.
type budgetResetter interface {
	ResetBudget()
}

// TickOptions are the scheduling and paging knobs of the ingestion tick.
type TickOptions struct {
	// Pages is the page depth per run; BootstrapPages raises it when the
	// event store is empty so a cold start front-loads useful history.
	// MaxPages caps both.
	Pages          int
	BootstrapPages int
	MaxPages       int

	// ListBatch bounds ids per list page, GetBatch ids per detail call.
	ListBatch int
	GetBatch  int

	// Interval is the minimum gap between runs. StaleRunAfter bounds how
	// long a persisted running flag is honored after a crash. Force
	// bypasses gating entirely.
	Interval      time.Duration
	StaleRunAfter time.Duration
	Force         bool
}

// TickerConfig wires the tick's collaborators.
type TickerConfig struct {
	Source     OrderSource
	Normalizer *Normalizer
	Resolver   budgetResetter

	Deriver  Deriver
	Retainer *Retainer
	Sync     FollowSyncer

	State      storage.IngestStateStore
	Prefs      storage.PrefsStore
	Events     storage.EventStore
	Lifecycles storage.LifecycleStore

	Options TickOptions
	Logger  *slog.Logger
}

// Ticker is the scheduled ingestion entry point. One run: retention, the
// paged fetch/normalize loop, integrity purge, event derivation, then follow
// maintenance. Gating is persisted so restarts keep the schedule, and every
// sub-step degrades on failure instead of aborting the run.
type Ticker struct {
	cfg TickerConfig
	log *slog.Logger
	now func() time.Time
}

// NewTicker creates a Ticker.
func NewTicker(cfg TickerConfig) *Ticker {
	if cfg.Options.Pages < 1 {
		cfg.Options.Pages = 1
	}
	if cfg.Options.MaxPages < 1 {
		cfg.Options.MaxPages = 1
	}
	if cfg.Options.GetBatch < 1 {
		cfg.Options.GetBatch = 1
	}
	return &Ticker{
		cfg: cfg,
		log: cfg.Logger.With("component", "tick"),
		now: time.Now,
	}
}

// WithNow swaps the clock, for tests.
func (t *Ticker) WithNow(now func() time.Time) *Ticker {
	t.now = now
	return t
}

// Run executes one gated ingestion tick and returns the number of duration
// events added. pages, when positive, overrides the configured page depth;
// days, when a valid period, selects the enrollment period for newly seen
// warehouses. No upstream or persistence failure escapes: the run degrades
// to "no new data" and the returned error is reserved for cancellation.
func (t *Ticker) Run(ctx context.Context, pages, days int) (int, error) {
	now := t.now()
	st := t.loadState(ctx)

	// A running flag from a crashed process would block ingestion forever;
	// past the staleness threshold it is ignored and cleared.
	if st.IsRunning && t.cfg.Options.StaleRunAfter > 0 &&
		!st.RunStartedAt.IsZero() && now.Sub(st.RunStartedAt) > t.cfg.Options.StaleRunAfter {
		t.log.Warn("clearing stale running flag", "run_started_at", st.RunStartedAt)
		st.IsRunning = false
	}

	bootstrap := t.eventsEmpty(ctx)
	if !bootstrap && !t.cfg.Options.Force {
		if st.IsRunning {
			observability.RecordTickSkipped("running")
			return 0, nil
		}
		if now.Before(st.NextAllowed) {
			observability.RecordTickSkipped("backoff")
			return 0, nil
		}
	}

	st.IsRunning = true
	st.RunStartedAt = now
	t.saveState(ctx, st)

	pageDepth := t.cfg.Options.Pages
	if pages > 0 {
		pageDepth = pages
	}
	if bootstrap && t.cfg.Options.BootstrapPages > pageDepth {
		pageDepth = t.cfg.Options.BootstrapPages
	}
	if pageDepth > t.cfg.Options.MaxPages {
		pageDepth = t.cfg.Options.MaxPages
	}

	observability.RecordTickRun()
	added := t.runOnce(ctx, pageDepth, days)

	st.LastRunAt = t.now()
	st.LastAdded = added
	st.LastPages = pageDepth
	st.NextAllowed = now.Add(t.cfg.Options.Interval)
	st.IsRunning = false
	st.RunStartedAt = time.Time{}
	t.saveState(ctx, st)

	observability.DefaultMetrics.LastSuccessfulTick.Set(float64(t.now().Unix()))
	return added, ctx.Err()
}

// runOnce is the body of a tick once gating has passed.
func (t *Ticker) runOnce(ctx context.Context, pageDepth, days int) int {
	if _, err := t.cfg.Retainer.Retain(ctx); err != nil {
		t.log.Warn("retention failed", "err", err)
	}
	if t.cfg.Resolver != nil {
		t.cfg.Resolver.ResetBudget()
	}

	t.fetchPages(ctx, pageDepth)

	if _, err := t.cfg.Normalizer.PurgeInvalid(ctx); err != nil {
		t.log.Warn("integrity purge failed", "err", err)
	}

	added, err := t.cfg.Deriver.Derive(ctx)
	if err != nil {
		t.log.Warn("event derivation failed", "err", err)
		added = 0
	}

	t.syncFollowers(ctx, days)
	t.updateGauges(ctx)

	t.log.Info("tick complete", "pages", pageDepth, "events_added", added)
	return added
}

// fetchPages walks the order list page by page and folds the fetched details
// into the lifecycle store. A stagnant cursor ends the loop: the client has
// already tried the alternate paging key by then.
func (t *Ticker) fetchPages(ctx context.Context, pageDepth int) {
	statuses := domain.TrackedStatuses()
	var fromID int64
	for page := 0; page < pageDepth; page++ {
		if ctx.Err() != nil {
			return
		}
		ids, next, err := t.cfg.Source.ListOrderIDs(ctx, statuses, fromID, t.cfg.Options.ListBatch)
		if err != nil {
			t.log.Warn("order list failed", "page", page, "err", err)
			return
		}
		if len(ids) == 0 {
			if page == 0 {
				t.log.Info("no orders in tracked statuses")
			}
			return
		}
		observability.RecordPage(len(ids))

		for start := 0; start < len(ids); start += t.cfg.Options.GetBatch {
			end := start + t.cfg.Options.GetBatch
			if end > len(ids) {
				end = len(ids)
			}
			orders, err := t.cfg.Source.GetOrders(ctx, ids[start:end])
			if err != nil {
				t.log.Warn("order details failed", "err", err)
				continue
			}
			if err := t.cfg.Normalizer.Apply(ctx, orders); err != nil {
				t.log.Warn("lifecycle update failed", "err", err)
			}
		}

		if next == 0 || next <= fromID {
			return
		}
		fromID = next
	}
}

func (t *Ticker) syncFollowers(ctx context.Context, days int) {
	if t.cfg.Sync == nil {
		return
	}
	period := days
	if !domain.ValidPeriod(period) {
		if p, err := t.cfg.Prefs.Load(ctx); err == nil {
			period = p.PeriodDays
		}
	}
	enrolled, err := t.cfg.Sync.AutoEnroll(ctx, period)
	if err != nil {
		t.log.Warn("auto-enroll failed", "err", err)
	}
	synced, err := t.cfg.Sync.SyncFollowers(ctx)
	if err != nil {
		t.log.Warn("follower sync failed", "err", err)
	}
	if synced > 0 || enrolled > 0 {
		observability.RecordFollowSync(synced, enrolled)
		t.log.Info("follow maintenance done", "synced", synced, "enrolled", enrolled)
	}
}

func (t *Ticker) updateGauges(ctx context.Context) {
	if all, err := t.cfg.Lifecycles.All(ctx); err == nil {
		observability.DefaultMetrics.TrackedLifecycles.Set(float64(len(all)))
	}
}

func (t *Ticker) eventsEmpty(ctx context.Context) bool {
	savedAt, err := t.cfg.Events.SavedAt(ctx)
	return err == nil && savedAt.IsZero()
}

func (t *Ticker) loadState(ctx context.Context) *domain.IngestState {
	st, err := t.cfg.State.Load(ctx)
	if err != nil || st == nil {
		if err != nil {
			t.log.Warn("ingest state load failed, starting fresh", "err", err)
		}
		return &domain.IngestState{}
	}
	return st
}

func (t *Ticker) saveState(ctx context.Context, st *domain.IngestState) {
	if err := t.cfg.State.Save(ctx, st); err != nil {
		t.log.Warn("ingest state save failed", "err", err)
	}
}
