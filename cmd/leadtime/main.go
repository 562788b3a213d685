package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"leadtime-engine/internal/config"
	"leadtime-engine/internal/deriver"
	"leadtime-engine/internal/directory"
	"leadtime-engine/internal/engine"
	"leadtime-engine/internal/ingest"
	"leadtime-engine/internal/leads"
	"leadtime-engine/internal/obs"
	"leadtime-engine/internal/observability"
	"leadtime-engine/internal/stats"
	filestore "leadtime-engine/internal/storage/file"
	"leadtime-engine/internal/supply"
)

func main() {
	mode := flag.String("mode", "run", "Mode: run (tick loop), tick (one tick), rebuild, status")
	pages := flag.Int("pages", 0, "Page depth override for ingestion (0 = configured default)")
	days := flag.Int("days", 0, "Enrollment period override for ingestion (0 = configured default)")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	flag.Parse()

	logger := obs.NewLogger(*verbose)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("configuration invalid", "err", err)
		os.Exit(1)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Error("data dir unavailable", "dir", cfg.DataDir, "err", err)
		os.Exit(1)
	}

	eng := buildEngine(cfg, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("shutting down", "signal", sig.String())
		cancel()
	}()

	switch *mode {
	case "run":
		err = runLoop(ctx, cfg, eng, logger)
	case "tick":
		var added int
		added, err = eng.IngestTick(ctx, *pages, *days)
		logger.Info("tick finished", "events_added", added)
	case "rebuild":
		var added int
		added, err = eng.RebuildFromLifecycles(ctx)
		logger.Info("rebuild finished", "events_derived", added)
	case "status":
		err = printStatus(ctx, eng)
	default:
		logger.Error("unknown mode", "mode", *mode)
		os.Exit(2)
	}
	if err != nil && err != context.Canceled {
		logger.Error("run failed", "mode", *mode, "err", err)
		os.Exit(1)
	}
}

// runLoop serves metrics and runs the ingestion tick on the configured
// interval until the context is cancelled. The tick carries its own
// persisted gating, so a shorter loop interval only means earlier retries
// after downtime.
func runLoop(ctx context.Context, cfg *config.Config, eng *engine.Engine, logger *slog.Logger) error {
	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, logger)
	}

	ticker := time.NewTicker(cfg.IngestInterval)
	defer ticker.Stop()

	for {
		added, err := eng.IngestTick(ctx, 0, 0)
		if err != nil {
			return err
		}
		if added > 0 {
			logger.Info("ingested new events", "count", added)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func serveMetrics(addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	logger.Info("metrics server listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		logger.Warn("metrics server stopped", "err", err)
	}
}

func printStatus(ctx context.Context, eng *engine.Engine) error {
	status := eng.IngestStatus(ctx)
	out, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// buildEngine wires the full stack from configuration: file stores under
// the data dir, the fulfillment client, and every engine component.
func buildEngine(cfg *config.Config, logger *slog.Logger) *engine.Engine {
	dataFile := func(name string) string { return filepath.Join(cfg.DataDir, name) }

	lifecycles := filestore.NewLifecycleStore(dataFile("leadtime_states.json"), logger)
	events := filestore.NewEventStore(dataFile("leadtime_events.json"), logger)
	cache := filestore.NewStatsCache(dataFile("leadtime_stats.json"), logger)
	state := filestore.NewIngestStateStore(dataFile("leadtime_ingest_state.json"), logger)
	prefs := filestore.NewPrefsStore(dataFile("lead_stats_prefs.json"), cfg.StatPeriodDays, logger)
	leadStore := filestore.NewLeadStore(dataFile("manual_leads.json"), logger)

	dir := directory.Empty{}

	client := supply.NewClient(cfg.BaseURL, cfg.ClientID, cfg.APIKey,
		supply.WithTimeout(cfg.HTTPTimeout),
		supply.WithRetryAfterCap(cfg.RetryAfterCap),
		supply.WithGetBatch(cfg.GetBatch),
	)

	resolver := ingest.NewBundleResolver(client, cfg.BundleMaxPerRun, logger)
	normalizer := ingest.NewNormalizer(lifecycles, resolver, logger)
	der := deriver.New(lifecycles, events, prefs, cache, dir,
		deriver.Bounds{MinDays: cfg.MinDays, MaxDays: cfg.MaxDays, RetentionDays: cfg.RetentionDays},
		logger)
	retainer := ingest.NewRetainer(lifecycles, events, cache, cfg.RetentionDays, logger)
	agg := stats.New(events, cache, prefs, dir, stats.Options{
		TTL:           cfg.StatTTL,
		MinDays:       cfg.MinDays,
		MaxDays:       cfg.MaxDays,
		RetentionDays: cfg.RetentionDays,
		WatchOrder:    cfg.WatchList(),
		SKUAlias:      cfg.WatchAliases(),
	}, logger)
	syncer := leads.NewSynchronizer(leadStore, events, agg, dir, logger)

	ticker := ingest.NewTicker(ingest.TickerConfig{
		Source:     client,
		Normalizer: normalizer,
		Resolver:   resolver,
		Deriver:    der,
		Retainer:   retainer,
		Sync:       syncer,
		State:      state,
		Prefs:      prefs,
		Events:     events,
		Lifecycles: lifecycles,
		Options: ingest.TickOptions{
			Pages:          cfg.IngestPages,
			BootstrapPages: cfg.BootstrapPages,
			MaxPages:       cfg.MaxPages,
			ListBatch:      cfg.FetchBatch,
			GetBatch:       cfg.GetBatch,
			Interval:       cfg.IngestInterval,
			StaleRunAfter:  cfg.StaleRunAfter,
			Force:          cfg.TickForce,
		},
		Logger: logger,
	})

	return engine.New(engine.Options{
		Lifecycles: lifecycles,
		Events:     events,
		Cache:      cache,
		Prefs:      prefs,
		State:      state,
		Leads:      leadStore,
		Aggregator: agg,
		Deriver:    der,
		Ticker:     ticker,
		Retainer:   retainer,
		Sync:       syncer,
		Logger:     logger,
	})
}
