package storage

import (
	"context"
	"encoding/json"
	"time"

	"leadtime-engine/internal/domain"
)

// LifecycleStore persists raw order lifecycle state: order id → lifecycle.
// Single-writer discipline: only the ingestion tick mutates it.
type LifecycleStore interface {
	// Get retrieves a lifecycle by order id. Returns ErrNotFound if absent.
	Get(ctx context.Context, orderID int64) (*domain.OrderLifecycle, error)

	// Upsert stores a lifecycle, replacing any previous record for the order.
	Upsert(ctx context.Context, lc *domain.OrderLifecycle) error

	// All returns every stored lifecycle.
	All(ctx context.Context) ([]*domain.OrderLifecycle, error)

	// Delete removes a lifecycle. Deleting an absent order is a no-op.
	Delete(ctx context.Context, orderID int64) error
}

// EventStore persists derived duration events. Append-only, deduplicated by
// (order id, storage warehouse id, end timestamp, sku).
type EventStore interface {
	// Insert adds one event. Returns ErrDuplicateKey if its key exists.
	Insert(ctx context.Context, e *domain.DurationEvent) error

	// InsertBulk adds events, silently skipping duplicates, and returns the
	// number actually added. Re-deriving the same lifecycles is idempotent.
	InsertBulk(ctx context.Context, events []*domain.DurationEvent) (int, error)

	// All returns every stored event.
	All(ctx context.Context) ([]*domain.DurationEvent, error)

	// EndedSince returns events whose end timestamp is at or after cutoff.
	EndedSince(ctx context.Context, cutoff time.Time) ([]*domain.DurationEvent, error)

	// SavedAt returns the time of the last successful save. Zero when the
	// store has never been written.
	SavedAt(ctx context.Context) (time.Time, error)

	// DeleteEndedBefore removes events whose end timestamp predates cutoff
	// and returns the number removed.
	DeleteEndedBefore(ctx context.Context, cutoff time.Time) (int, error)

	// Clear removes all events. Used only by explicit rebuilds.
	Clear(ctx context.Context) error
}

// StatsCache persists computed statistics keyed by (period, grouping,
// allocation flag). Entries carry their own save time for freshness checks.
type StatsCache interface {
	// Get returns the cached payload and its save time.
	// Returns ErrNotFound for a missing key.
	Get(ctx context.Context, key string) (json.RawMessage, time.Time, error)

	// Put stores payload under key, stamped with the current time.
	Put(ctx context.Context, key string, payload any) error

	// Invalidate drops every cached entry.
	Invalidate(ctx context.Context) error
}

// IngestStateStore persists the tick scheduler state.
type IngestStateStore interface {
	Load(ctx context.Context) (*domain.IngestState, error)
	Save(ctx context.Context, st *domain.IngestState) error
}

// PrefsStore persists operator preferences.
type PrefsStore interface {
	Load(ctx context.Context) (*domain.Prefs, error)
	Save(ctx context.Context, p *domain.Prefs) error
}

// LeadStore is the manual-override store: pinned lead-time values per
// warehouse plus follow-stats subscriptions. Owned by the override subsystem;
// the engine reads subscriptions and writes synchronized values.
type LeadStore interface {
	// Get retrieves one record. Returns ErrNotFound if absent.
	Get(ctx context.Context, warehouseID int64) (*domain.LeadRecord, error)

	// SetLead pins a lead-time value, tagged with its origin.
	SetLead(ctx context.Context, warehouseID int64, days float64, updatedBy string) error

	// SetName remembers the warehouse display label. No-op on empty names.
	SetName(ctx context.Context, warehouseID int64, name string) error

	// All returns every record keyed by warehouse id.
	All(ctx context.Context) (map[int64]*domain.LeadRecord, error)

	// EnableFollow subscribes a warehouse to computed statistics.
	EnableFollow(ctx context.Context, warehouseID int64, periodDays int, metric string) error

	// DisableFollow turns the subscription off, keeping the record.
	DisableFollow(ctx context.Context, warehouseID int64) error

	// Followers returns records with an enabled subscription.
	Followers(ctx context.Context) (map[int64]*domain.LeadRecord, error)
}
