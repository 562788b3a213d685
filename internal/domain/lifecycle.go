package domain

import "time"

// CompositionItem is one (sku, quantity) pair of an order's composition
// snapshot.
type CompositionItem struct {
	SKU      int64   `json:"sku"`
	Quantity float64 `json:"qty"`
}

// OrderLifecycle accumulates everything observed about one supply order:
// warehouse and bundle associations, the composition snapshot, and the first
// time each canonical status was seen. It is mutated only by the ingest
// normalizer and persisted in the lifecycle store.
type OrderLifecycle struct {
	OrderID     int64  `json:"order_id"`
	OrderNumber string `json:"order_number,omitempty"`

	// DropoffWarehouseID is the courier drop-off point; 0 when unknown.
	DropoffWarehouseID  int64   `json:"dropoff_wid,omitempty"`
	StorageWarehouseIDs []int64 `json:"storage_wids,omitempty"`

	BundleIDs []string `json:"bundle_ids,omitempty"`

	// Composition is captured exactly once, at the first observation of the
	// canonical start status, and never overwritten.
	Composition []CompositionItem `json:"sku_items,omitempty"`

	// Statuses maps canonical status name to the first time it was observed.
	Statuses map[string]time.Time `json:"states"`

	FirstSeen time.Time `json:"first_seen"`
}

// NewOrderLifecycle creates an empty lifecycle record for orderID.
func NewOrderLifecycle(orderID int64, firstSeen time.Time) *OrderLifecycle {
	return &OrderLifecycle{
		OrderID:   orderID,
		Statuses:  make(map[string]time.Time),
		FirstSeen: firstSeen,
	}
}

// MarkStatus stamps the first-observed time for a canonical status.
// First observation wins: later observations of the same status are ignored.
// Reports whether the stamp was written.
func (lc *OrderLifecycle) MarkStatus(status string, at time.Time) bool {
	if status == "" {
		return false
	}
	if lc.Statuses == nil {
		lc.Statuses = make(map[string]time.Time)
	}
	return SetIfAbsent(lc.Statuses, status, at)
}

// StartAt returns the first-observed time of the canonical start status.
func (lc *OrderLifecycle) StartAt() (time.Time, bool) {
	ts, ok := lc.Statuses[StatusAccepted]
	return ts, ok
}

// EndAt resolves the lifecycle's logical end with the required fallback
// chain: storage intake, else reports awaiting, else completed. All "is this
// lifecycle over" decisions go through here, never a single status.
func (lc *OrderLifecycle) EndAt() (time.Time, bool) {
	for _, status := range []string{StatusStorageIntake, StatusReportsAwaiting, StatusCompleted} {
		if ts, ok := lc.Statuses[status]; ok {
			return ts, true
		}
	}
	return time.Time{}, false
}

// HasEnd reports whether any end status has been observed.
func (lc *OrderLifecycle) HasEnd() bool {
	_, ok := lc.EndAt()
	return ok
}

// Complete reports whether both a start and a resolved end exist.
func (lc *OrderLifecycle) Complete() bool {
	if _, ok := lc.StartAt(); !ok {
		return false
	}
	return lc.HasEnd()
}

// AddStorageWarehouse records a storage warehouse association, keeping the
// list unique and in first-seen order.
func (lc *OrderLifecycle) AddStorageWarehouse(id int64) {
	if id == 0 {
		return
	}
	for _, existing := range lc.StorageWarehouseIDs {
		if existing == id {
			return
		}
	}
	lc.StorageWarehouseIDs = append(lc.StorageWarehouseIDs, id)
}

// AddBundle records a bundle reference, keeping the list unique.
func (lc *OrderLifecycle) AddBundle(bundleID string) {
	if bundleID == "" {
		return
	}
	for _, existing := range lc.BundleIDs {
		if existing == bundleID {
			return
		}
	}
	lc.BundleIDs = append(lc.BundleIDs, bundleID)
}

// SnapshotComposition writes the composition snapshot if none exists yet.
// Reports whether the snapshot was written.
func (lc *OrderLifecycle) SnapshotComposition(items []CompositionItem) bool {
	if len(lc.Composition) > 0 || len(items) == 0 {
		return false
	}
	lc.Composition = make([]CompositionItem, len(items))
	copy(lc.Composition, items)
	return true
}

// TotalQuantity sums the snapshot quantities. Returns 0 with no snapshot.
func (lc *OrderLifecycle) TotalQuantity() float64 {
	var total float64
	for _, item := range lc.Composition {
		total += item.Quantity
	}
	return total
}

// Clone returns a deep copy.
func (lc *OrderLifecycle) Clone() *OrderLifecycle {
	cp := *lc
	cp.StorageWarehouseIDs = append([]int64(nil), lc.StorageWarehouseIDs...)
	cp.BundleIDs = append([]string(nil), lc.BundleIDs...)
	cp.Composition = append([]CompositionItem(nil), lc.Composition...)
	cp.Statuses = make(map[string]time.Time, len(lc.Statuses))
	for k, v := range lc.Statuses {
		cp.Statuses[k] = v
	}
	return &cp
}
