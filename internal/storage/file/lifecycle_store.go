package file

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"leadtime-engine/internal/domain"
	"leadtime-engine/internal/storage"
)

const lifecycleSchemaVersion = 1

// lifecycleFile is the on-disk shape of the lifecycle store.
type lifecycleFile struct {
	Version int                               `json:"version"`
	SavedAt time.Time                         `json:"saved_at"`
	Orders  map[string]*domain.OrderLifecycle `json:"orders"`
}

// LifecycleStore is the file-backed implementation of storage.LifecycleStore.
type LifecycleStore struct {
	mu   sync.RWMutex
	path string
	log  *slog.Logger
	data map[int64]*domain.OrderLifecycle
}

// NewLifecycleStore opens (or initializes) the lifecycle store at path.
// A corrupt or missing file starts the store empty rather than failing:
// lifecycle state is a cache the fetcher repopulates.
func NewLifecycleStore(path string, logger *slog.Logger) *LifecycleStore {
	s := &LifecycleStore{
		path: path,
		log:  logger.With("component", "lifecycle_store"),
		data: make(map[int64]*domain.OrderLifecycle),
	}
	var f lifecycleFile
	switch err := readJSON(path, &f); {
	case err == nil:
		for key, lc := range f.Orders {
			id, perr := strconv.ParseInt(key, 10, 64)
			if perr != nil || lc == nil {
				continue
			}
			lc.OrderID = id
			s.data[id] = lc
		}
	case os.IsNotExist(err):
		// first run
	default:
		s.log.Warn("lifecycle cache unreadable, starting empty", "path", path, "err", err)
	}
	return s
}

// Get implements storage.LifecycleStore.
func (s *LifecycleStore) Get(_ context.Context, orderID int64) (*domain.OrderLifecycle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lc, ok := s.data[orderID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return lc.Clone(), nil
}

// Upsert implements storage.LifecycleStore.
func (s *LifecycleStore) Upsert(_ context.Context, lc *domain.OrderLifecycle) error {
	if lc == nil || lc.OrderID == 0 {
		return storage.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[lc.OrderID] = lc.Clone()
	return s.saveLocked()
}

// All implements storage.LifecycleStore.
func (s *LifecycleStore) All(_ context.Context) ([]*domain.OrderLifecycle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.OrderLifecycle, 0, len(s.data))
	for _, lc := range s.data {
		out = append(out, lc.Clone())
	}
	return out, nil
}

// Delete implements storage.LifecycleStore.
func (s *LifecycleStore) Delete(_ context.Context, orderID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[orderID]; !ok {
		return nil
	}
	delete(s.data, orderID)
	return s.saveLocked()
}

func (s *LifecycleStore) saveLocked() error {
	f := lifecycleFile{
		Version: lifecycleSchemaVersion,
		SavedAt: time.Now().UTC(),
		Orders:  make(map[string]*domain.OrderLifecycle, len(s.data)),
	}
	for id, lc := range s.data {
		f.Orders[strconv.FormatInt(id, 10)] = lc
	}
	return writeJSON(s.path, &f)
}
