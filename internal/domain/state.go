package domain

import "time"

// IngestState tracks the scheduler-facing state of the ingestion tick.
// Persisted so that gating survives process restarts.
type IngestState struct {
	LastRunAt   time.Time `json:"last_run_at"`
	LastAdded   int       `json:"last_added"`
	LastPages   int       `json:"last_pages"`
	NextAllowed time.Time `json:"next_allowed"`

	// IsRunning prevents re-entrant ticks. RunStartedAt guards against a
	// crash leaving the flag permanently set: a running flag older than the
	// staleness threshold is ignored and cleared.
	IsRunning    bool      `json:"is_running"`
	RunStartedAt time.Time `json:"run_started_at,omitempty"`
}

// Prefs are the operator-controlled engine preferences.
type Prefs struct {
	// PeriodDays is the default statistics lookback window.
	PeriodDays int `json:"period"`
	// AllocateByQuantity selects the per-SKU duration weighting: full order
	// duration when off, duration × qty/total_qty when on.
	AllocateByQuantity bool `json:"allocate_by_qty"`
}

// Allowed statistics lookback periods, in days.
var StatPeriods = []int{90, 180, 360}

// ValidPeriod reports whether days is an allowed lookback period.
func ValidPeriod(days int) bool {
	for _, p := range StatPeriods {
		if p == days {
			return true
		}
	}
	return false
}

// LeadRecord is one warehouse's entry in the manual-override store: the
// pinned lead-time value plus the follow-stats subscription that keeps it
// synchronized with computed averages.
type LeadRecord struct {
	WarehouseID int64   `json:"warehouse_id"`
	Days        float64 `json:"days"`
	// Name is the remembered display label from the directory.
	Name string `json:"name,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
	UpdatedBy string    `json:"updated_by"`

	FollowStats  bool   `json:"follow_stats"`
	FollowPeriod int    `json:"follow_period,omitempty"`
	FollowMetric string `json:"follow_metric,omitempty"`
}

// IngestStatus is the diagnostic snapshot returned by the engine.
type IngestStatus struct {
	LastRunAt time.Time `json:"last_run_at"`
	LastAdded int       `json:"last_added"`
	LastPages int       `json:"last_pages"`

	// Cached event counts.
	TotalCached int `json:"total_cached"`
	BaseRows    int `json:"base_rows"`
	SKURows     int `json:"sku_rows"`

	// Lifecycle progress.
	Tracked    int `json:"tracked"`
	Completed  int `json:"completed"`
	InProgress int `json:"in_progress"`
}
