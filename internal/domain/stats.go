package domain

// Grouping selects the aggregation key for lead-time statistics.
type Grouping string

// Supported groupings.
const (
	GroupWarehouse Grouping = "warehouse"
	GroupCluster   Grouping = "cluster"
	GroupSKU       Grouping = "sku"
)

// StatMetrics holds the per-bucket aggregates over duration observations.
type StatMetrics struct {
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P90   float64 `json:"p90"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Count int     `json:"n"`
}

// StatRow is one aggregated bucket: grouping key, display label, metrics.
type StatRow struct {
	Key     int64       `json:"key"`
	Label   string      `json:"label"`
	Metrics StatMetrics `json:"metrics"`
}

// Summary is the grouping-free view over aggregate (no-SKU) events only.
type Summary struct {
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P90   float64 `json:"p90"`
	Count int     `json:"n"`
}
