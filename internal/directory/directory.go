// Package directory resolves warehouse and cluster display data. The real
// resolver lives in the surrounding system; this engine consumes it for
// labels and for the warehouse→cluster mapping only, and tolerates an empty
// one.
package directory

import (
	"crypto/md5"
	"encoding/binary"
	"fmt"
)

// Directory resolves warehouse and cluster identity for display.
type Directory interface {
	// WarehouseName returns a display label for the warehouse; "" if unknown.
	WarehouseName(warehouseID int64) string

	// ClusterFor returns the canonical cluster id for the warehouse.
	ClusterFor(warehouseID int64) (int64, bool)

	// ClusterName returns a display label for the cluster; "" if unknown.
	ClusterName(clusterID int64) string

	// ClusterNameForWarehouse returns the warehouse's cluster label; "" if
	// unknown. Used to derive a synthetic cluster id when no canonical
	// mapping exists.
	ClusterNameForWarehouse(warehouseID int64) string
}

// SyntheticClusterID derives a stable positive id from a cluster name, for
// aggregation when the directory has names but no canonical cluster ids.
func SyntheticClusterID(name string) int64 {
	sum := md5.Sum([]byte(name))
	// First 8 hex digits of the checksum, masked positive.
	return int64(binary.BigEndian.Uint32(sum[:4]) & 0x7FFFFFFF)
}

// Static is a map-backed Directory.
type Static struct {
	WarehouseNames    map[int64]string
	WarehouseClusters map[int64]int64
	ClusterNames      map[int64]string
}

// WarehouseName implements Directory.
func (s *Static) WarehouseName(warehouseID int64) string {
	return s.WarehouseNames[warehouseID]
}

// ClusterFor implements Directory.
func (s *Static) ClusterFor(warehouseID int64) (int64, bool) {
	id, ok := s.WarehouseClusters[warehouseID]
	return id, ok
}

// ClusterName implements Directory.
func (s *Static) ClusterName(clusterID int64) string {
	return s.ClusterNames[clusterID]
}

// ClusterNameForWarehouse implements Directory.
func (s *Static) ClusterNameForWarehouse(warehouseID int64) string {
	if id, ok := s.WarehouseClusters[warehouseID]; ok {
		return s.ClusterNames[id]
	}
	return ""
}

// Empty is a Directory that knows nothing. Aggregation falls back to raw ids.
type Empty struct{}

// WarehouseName implements Directory.
func (Empty) WarehouseName(int64) string { return "" }

// ClusterFor implements Directory.
func (Empty) ClusterFor(int64) (int64, bool) { return 0, false }

// ClusterName implements Directory.
func (Empty) ClusterName(int64) string { return "" }

// ClusterNameForWarehouse implements Directory.
func (Empty) ClusterNameForWarehouse(int64) string { return "" }

// FallbackWarehouseLabel is the display label for a warehouse the directory
// cannot name.
func FallbackWarehouseLabel(warehouseID int64) string {
	return fmt.Sprintf("wh:%d", warehouseID)
}

// FallbackClusterLabel is the display label for a cluster the directory
// cannot name.
func FallbackClusterLabel(clusterID int64) string {
	return fmt.Sprintf("cluster:%d", clusterID)
}
