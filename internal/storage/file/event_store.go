package file

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"leadtime-engine/internal/domain"
	"leadtime-engine/internal/storage"
)

const eventSchemaVersion = 2

// eventFile is the on-disk shape of the event store.
type eventFile struct {
	Version int                     `json:"version"`
	SavedAt time.Time               `json:"saved_at"`
	Rows    []*domain.DurationEvent `json:"rows"`
}

// EventStore is the file-backed implementation of storage.EventStore.
type EventStore struct {
	mu      sync.RWMutex
	path    string
	log     *slog.Logger
	rows    []*domain.DurationEvent
	keys    map[domain.EventKey]bool
	savedAt time.Time
}

// NewEventStore opens (or initializes) the event store at path.
func NewEventStore(path string, logger *slog.Logger) *EventStore {
	s := &EventStore{
		path: path,
		log:  logger.With("component", "event_store"),
		keys: make(map[domain.EventKey]bool),
	}
	var f eventFile
	switch err := readJSON(path, &f); {
	case err == nil:
		s.savedAt = f.SavedAt
		for _, e := range f.Rows {
			if e == nil {
				continue
			}
			key := e.Key()
			if s.keys[key] {
				continue
			}
			s.keys[key] = true
			s.rows = append(s.rows, e)
		}
	case os.IsNotExist(err):
		// first run
	default:
		s.log.Warn("event cache unreadable, starting empty", "path", path, "err", err)
	}
	return s
}

// Insert implements storage.EventStore.
func (s *EventStore) Insert(_ context.Context, e *domain.DurationEvent) error {
	if e == nil || e.OrderID == 0 || e.StorageWarehouseID == 0 {
		return storage.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := e.Key()
	if s.keys[key] {
		return storage.ErrDuplicateKey
	}
	cp := *e
	s.rows = append(s.rows, &cp)
	s.keys[key] = true
	return s.saveLocked()
}

// InsertBulk implements storage.EventStore: duplicates are skipped, not
// errors, so re-deriving the same lifecycles adds nothing.
func (s *EventStore) InsertBulk(_ context.Context, events []*domain.DurationEvent) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	added := 0
	for _, e := range events {
		if e == nil || e.OrderID == 0 || e.StorageWarehouseID == 0 {
			return added, storage.ErrInvalidInput
		}
		key := e.Key()
		if s.keys[key] {
			continue
		}
		cp := *e
		s.rows = append(s.rows, &cp)
		s.keys[key] = true
		added++
	}
	if added == 0 {
		return 0, nil
	}
	return added, s.saveLocked()
}

// All implements storage.EventStore.
func (s *EventStore) All(_ context.Context) ([]*domain.DurationEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.DurationEvent, 0, len(s.rows))
	for _, e := range s.rows {
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

// EndedSince implements storage.EventStore.
func (s *EventStore) EndedSince(_ context.Context, cutoff time.Time) ([]*domain.DurationEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.DurationEvent
	for _, e := range s.rows {
		if e.EndAt.Before(cutoff) {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

// SavedAt implements storage.EventStore.
func (s *EventStore) SavedAt(_ context.Context) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.savedAt, nil
}

// DeleteEndedBefore implements storage.EventStore.
func (s *EventStore) DeleteEndedBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.rows[:0]
	removed := 0
	for _, e := range s.rows {
		if e.EndAt.Before(cutoff) {
			delete(s.keys, e.Key())
			removed++
			continue
		}
		kept = append(kept, e)
	}
	s.rows = kept
	if removed == 0 {
		return 0, nil
	}
	return removed, s.saveLocked()
}

// Clear implements storage.EventStore.
func (s *EventStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = nil
	s.keys = make(map[domain.EventKey]bool)
	return s.saveLocked()
}

func (s *EventStore) saveLocked() error {
	s.savedAt = time.Now().UTC()
	f := eventFile{
		Version: eventSchemaVersion,
		SavedAt: s.savedAt,
		Rows:    s.rows,
	}
	return writeJSON(s.path, &f)
}
