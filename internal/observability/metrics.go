// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the engine.
type Metrics struct {
	// Ingestion metrics
	TicksRun        prometheus.Counter
	TicksSkipped    *prometheus.CounterVec
	PagesFetched    prometheus.Counter
	OrdersFetched   prometheus.Counter
	RateLimitHits   prometheus.Counter
	BundlesResolved prometheus.Counter

	// Derivation metrics
	EventsAdded      prometheus.Counter
	EventsDiscarded  *prometheus.CounterVec
	LifecyclesPurged prometheus.Counter

	// Retention metrics
	EventsPruned     prometheus.Counter
	LifecyclesPruned prometheus.Counter

	// Follow-sync metrics
	FollowersSynced   prometheus.Counter
	FollowersEnrolled prometheus.Counter

	// Health metrics
	LastSuccessfulTick prometheus.Gauge
	TrackedLifecycles  prometheus.Gauge
}

// NewMetrics creates a Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "leadtime_engine"
	}

	return &Metrics{
		TicksRun: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "ticks_run_total",
			Help:      "Total number of ingestion ticks executed",
		}),
		TicksSkipped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "ticks_skipped_total",
			Help:      "Total number of ingestion ticks skipped by reason",
		}, []string{"reason"}),
		PagesFetched: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "pages_fetched_total",
			Help:      "Total number of order list pages fetched",
		}),
		OrdersFetched: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "orders_fetched_total",
			Help:      "Total number of order detail records fetched",
		}),
		RateLimitHits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "rate_limit_hits_total",
			Help:      "Total number of upstream rate-limit responses",
		}),
		BundlesResolved: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "bundles_resolved_total",
			Help:      "Total number of bundle compositions resolved",
		}),
		EventsAdded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "derive",
			Name:      "events_added_total",
			Help:      "Total number of duration events added",
		}),
		EventsDiscarded: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "derive",
			Name:      "events_discarded_total",
			Help:      "Total number of candidate events discarded by reason",
		}, []string{"reason"}),
		LifecyclesPurged: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "lifecycles_purged_total",
			Help:      "Total number of lifecycles purged for integrity violations",
		}),
		EventsPruned: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retention",
			Name:      "events_pruned_total",
			Help:      "Total number of duration events pruned by retention",
		}),
		LifecyclesPruned: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retention",
			Name:      "lifecycles_pruned_total",
			Help:      "Total number of lifecycles pruned by retention",
		}),
		FollowersSynced: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "follow",
			Name:      "followers_synced_total",
			Help:      "Total number of follower lead values pushed",
		}),
		FollowersEnrolled: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "follow",
			Name:      "followers_enrolled_total",
			Help:      "Total number of warehouses auto-enrolled into follow",
		}),
		LastSuccessfulTick: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_tick_timestamp",
			Help:      "Unix timestamp of the last successful ingestion tick",
		}),
		TrackedLifecycles: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "tracked_lifecycles",
			Help:      "Number of lifecycles currently tracked",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordTickRun marks a completed tick.
func RecordTickRun() {
	DefaultMetrics.TicksRun.Inc()
}

// RecordTickSkipped marks a skipped tick with the gating reason.
func RecordTickSkipped(reason string) {
	DefaultMetrics.TicksSkipped.WithLabelValues(reason).Inc()
}

// RecordPage marks one fetched list page and its order count.
func RecordPage(orders int) {
	DefaultMetrics.PagesFetched.Inc()
	DefaultMetrics.OrdersFetched.Add(float64(orders))
}

// RecordEventsAdded adds to the derived-event counter.
func RecordEventsAdded(n int) {
	DefaultMetrics.EventsAdded.Add(float64(n))
}

// RecordEventDiscarded marks a candidate event discarded by reason.
func RecordEventDiscarded(reason string) {
	DefaultMetrics.EventsDiscarded.WithLabelValues(reason).Inc()
}

// RecordPurged adds to the integrity-purge counter.
func RecordPurged(n int) {
	DefaultMetrics.LifecyclesPurged.Add(float64(n))
}

// RecordRetention adds to the retention counters.
func RecordRetention(events, lifecycles int) {
	DefaultMetrics.EventsPruned.Add(float64(events))
	DefaultMetrics.LifecyclesPruned.Add(float64(lifecycles))
}

// RecordFollowSync adds to the follow counters.
func RecordFollowSync(synced, enrolled int) {
	DefaultMetrics.FollowersSynced.Add(float64(synced))
	DefaultMetrics.FollowersEnrolled.Add(float64(enrolled))
}
