package supply

import (
	"encoding/json"
	"strconv"
)

// warehouseRef is the nested warehouse reference used by the current API
// generation.
type warehouseRef struct {
	WarehouseID int64 `json:"warehouse_id"`
}

// Supply is one storage-warehouse leg of an order.
type Supply struct {
	StorageWarehouseID int64         `json:"storage_warehouse_id"`
	StorageWarehouse   *warehouseRef `json:"storage_warehouse"`
	BundleID           string        `json:"bundle_id"`
}

// StorageID resolves the storage warehouse id across both payload shapes.
func (s *Supply) StorageID() int64 {
	if s.StorageWarehouseID != 0 {
		return s.StorageWarehouseID
	}
	if s.StorageWarehouse != nil {
		return s.StorageWarehouse.WarehouseID
	}
	return 0
}

// Order is one supply order as returned by the details call. Field pairs
// cover both upstream schema generations; use the accessor methods instead
// of reading fields directly.
type Order struct {
	OrderID           int64  `json:"order_id"`
	SupplyOrderID     int64  `json:"supply_order_id"`
	State             string `json:"state"`
	OrderNumber       string `json:"order_number"`
	SupplyOrderNumber string `json:"supply_order_number"`

	DropoffWarehouseID int64         `json:"dropoff_warehouse_id"`
	DropoffWarehouse   *warehouseRef `json:"dropoff_warehouse"`
	DropOffWarehouse   *warehouseRef `json:"drop_off_warehouse"`

	Supplies []Supply `json:"supplies"`
}

// ID resolves the order id across schema generations. Returns 0 when absent.
func (o *Order) ID() int64 {
	if o.OrderID != 0 {
		return o.OrderID
	}
	return o.SupplyOrderID
}

// Number resolves the human-facing order number across schema generations.
func (o *Order) Number() string {
	if o.OrderNumber != "" {
		return o.OrderNumber
	}
	return o.SupplyOrderNumber
}

// DropoffID resolves the drop-off warehouse id across schema generations.
func (o *Order) DropoffID() int64 {
	if o.DropoffWarehouseID != 0 {
		return o.DropoffWarehouseID
	}
	if o.DropoffWarehouse != nil && o.DropoffWarehouse.WarehouseID != 0 {
		return o.DropoffWarehouse.WarehouseID
	}
	if o.DropOffWarehouse != nil {
		return o.DropOffWarehouse.WarehouseID
	}
	return 0
}

// envelope is a permissively decoded response body.
type envelope map[string]json.RawMessage

// pick returns the value for the first present key, also looking one level
// down inside the known "result" and "data" wrappers. Defends against
// upstream envelope drift.
func (e envelope) pick(keys ...string) (json.RawMessage, bool) {
	for _, k := range keys {
		if v, ok := e[k]; ok {
			return v, true
		}
	}
	for _, wrap := range []string{"result", "data"} {
		raw, ok := e[wrap]
		if !ok {
			continue
		}
		var sub envelope
		if err := json.Unmarshal(raw, &sub); err != nil {
			continue
		}
		for _, k := range keys {
			if v, ok := sub[k]; ok {
				return v, true
			}
		}
	}
	return nil, false
}

// pickInt64 decodes an int64 that may arrive as a number or a string.
func (e envelope) pickInt64(keys ...string) int64 {
	raw, ok := e.pick(keys...)
	if !ok {
		return 0
	}
	return flexInt64(raw)
}

func flexInt64(raw json.RawMessage) int64 {
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, perr := strconv.ParseInt(s, 10, 64); perr == nil {
			return v
		}
	}
	return 0
}

// pickIDList decodes a list of ids that may be numbers or strings.
func (e envelope) pickIDList(keys ...string) []int64 {
	raw, ok := e.pick(keys...)
	if !ok {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	out := make([]int64, 0, len(items))
	for _, item := range items {
		if v := flexInt64(item); v != 0 {
			out = append(out, v)
		}
	}
	return out
}

// bundleItem is one (sku, quantity) row of a bundle page.
type bundleItem struct {
	SKU      int64    `json:"sku"`
	Quantity *float64 `json:"quantity"`
}

// bundlePage is one page of the bundle composition call.
type bundlePage struct {
	Items   []bundleItem `json:"items"`
	HasNext bool         `json:"has_next"`
	LastID  string       `json:"last_id"`
}
