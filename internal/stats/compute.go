// Package stats aggregates duration events into lead-time statistics per
// warehouse, logistic cluster, and SKU, behind a freshness-checked cache.
package stats

import (
	"math"
	"sort"
	"strings"

	"leadtime-engine/internal/domain"
)

// computeMetrics aggregates one bucket of duration observations.
func computeMetrics(vals []float64) domain.StatMetrics {
	n := len(vals)
	if n == 0 {
		return domain.StatMetrics{}
	}
	sorted := make([]float64, n)
	copy(sorted, vals)
	sort.Float64s(sorted)

	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	return domain.StatMetrics{
		Avg:   sum / float64(n),
		P50:   computePercentile(sorted, 0.50),
		P90:   computePercentile(sorted, 0.90),
		Min:   sorted[0],
		Max:   sorted[n-1],
		Count: n,
	}
}

// computePercentile calculates the interpolated percentile of sorted values.
// p is a fraction (0.50 for median). Uses linear interpolation between the
// two nearest ranks.
func computePercentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 || p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[n-1]
	}
	k := float64(n-1) * p
	f := math.Floor(k)
	lo := int(f)
	hi := lo + 1
	if hi >= n {
		return sorted[n-1]
	}
	d := k - f
	return sorted[lo]*(1-d) + sorted[hi]*d
}

// sortRows orders statistics rows by descending sample count, then
// descending average, then label.
func sortRows(rows []domain.StatRow) {
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Metrics.Count != b.Metrics.Count {
			return a.Metrics.Count > b.Metrics.Count
		}
		if a.Metrics.Avg != b.Metrics.Avg {
			return a.Metrics.Avg > b.Metrics.Avg
		}
		return strings.ToLower(a.Label) < strings.ToLower(b.Label)
	})
}
