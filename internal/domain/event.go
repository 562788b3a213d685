package domain

import "time"

// DurationEvent is one lead-time observation: how long a fulfilled order took
// from drop-off acceptance to its resolved end, attributed to one storage
// warehouse and optionally to one SKU. Events are append-only and never
// mutated; retention is the only thing that removes them.
type DurationEvent struct {
	OrderID     int64  `json:"order_id"`
	OrderNumber string `json:"order_number,omitempty"`

	StartAt      time.Time `json:"ts_start"`
	EndAt        time.Time `json:"ts_end"`
	DurationDays float64   `json:"duration_days"`

	DropoffWarehouseID int64 `json:"dropoff_wid,omitempty"`
	StorageWarehouseID int64 `json:"storage_wid"`
	// ClusterID is 0 when no warehouse→cluster mapping was available at
	// derivation time.
	ClusterID int64 `json:"cluster_id,omitempty"`

	// SKU 0 marks the order-level aggregate event; per-SKU events carry the
	// shipped quantity from the composition snapshot.
	SKU      int64   `json:"sku,omitempty"`
	Quantity float64 `json:"qty,omitempty"`
}

// IsAggregate reports whether the event is the order-level granule (no SKU).
func (e *DurationEvent) IsAggregate() bool {
	return e.SKU == 0
}

// EventKey is the deduplication key for duration events.
type EventKey struct {
	OrderID            int64
	StorageWarehouseID int64
	EndUnix            int64
	SKU                int64
}

// Key returns the event's deduplication key.
func (e *DurationEvent) Key() EventKey {
	return EventKey{
		OrderID:            e.OrderID,
		StorageWarehouseID: e.StorageWarehouseID,
		EndUnix:            e.EndAt.Unix(),
		SKU:                e.SKU,
	}
}
