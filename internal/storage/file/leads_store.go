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

const leadsSchemaVersion = 1

type leadsFile struct {
	Version int                           `json:"version"`
	SavedAt time.Time                     `json:"saved_at"`
	Leads   map[string]*domain.LeadRecord `json:"leads"`
}

// LeadStore is the file-backed implementation of storage.LeadStore.
type LeadStore struct {
	mu   sync.RWMutex
	path string
	log  *slog.Logger
	data map[int64]*domain.LeadRecord
}

// NewLeadStore opens (or initializes) the manual-override store at path.
func NewLeadStore(path string, logger *slog.Logger) *LeadStore {
	s := &LeadStore{
		path: path,
		log:  logger.With("component", "lead_store"),
		data: make(map[int64]*domain.LeadRecord),
	}
	var f leadsFile
	switch err := readJSON(path, &f); {
	case err == nil:
		for key, rec := range f.Leads {
			id, perr := strconv.ParseInt(key, 10, 64)
			if perr != nil || rec == nil {
				continue
			}
			rec.WarehouseID = id
			s.data[id] = rec
		}
	case os.IsNotExist(err):
		// first run
	default:
		s.log.Warn("leads store unreadable, starting empty", "path", path, "err", err)
	}
	return s
}

// Get implements storage.LeadStore.
func (s *LeadStore) Get(_ context.Context, warehouseID int64) (*domain.LeadRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.data[warehouseID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

// SetLead implements storage.LeadStore.
func (s *LeadStore) SetLead(_ context.Context, warehouseID int64, days float64, updatedBy string) error {
	if warehouseID == 0 || days < 0 {
		return storage.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.data[warehouseID]
	if rec == nil {
		rec = &domain.LeadRecord{WarehouseID: warehouseID}
		s.data[warehouseID] = rec
	}
	rec.Days = days
	rec.UpdatedAt = time.Now().UTC()
	rec.UpdatedBy = updatedBy
	return s.saveLocked()
}

// SetName implements storage.LeadStore.
func (s *LeadStore) SetName(_ context.Context, warehouseID int64, name string) error {
	if warehouseID == 0 || name == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.data[warehouseID]
	if rec == nil {
		rec = &domain.LeadRecord{WarehouseID: warehouseID}
		s.data[warehouseID] = rec
	}
	if rec.Name == name {
		return nil
	}
	rec.Name = name
	return s.saveLocked()
}

// All implements storage.LeadStore.
func (s *LeadStore) All(_ context.Context) (map[int64]*domain.LeadRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int64]*domain.LeadRecord, len(s.data))
	for id, rec := range s.data {
		cp := *rec
		out[id] = &cp
	}
	return out, nil
}

// EnableFollow implements storage.LeadStore.
func (s *LeadStore) EnableFollow(_ context.Context, warehouseID int64, periodDays int, metric string) error {
	if warehouseID == 0 {
		return storage.ErrInvalidInput
	}
	if metric == "" {
		metric = "avg"
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.data[warehouseID]
	if rec == nil {
		rec = &domain.LeadRecord{WarehouseID: warehouseID}
		s.data[warehouseID] = rec
	}
	rec.FollowStats = true
	rec.FollowPeriod = periodDays
	rec.FollowMetric = metric
	rec.UpdatedAt = time.Now().UTC()
	rec.UpdatedBy = "follow_stats:on"
	return s.saveLocked()
}

// DisableFollow implements storage.LeadStore.
func (s *LeadStore) DisableFollow(_ context.Context, warehouseID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.data[warehouseID]
	if !ok {
		return storage.ErrNotFound
	}
	rec.FollowStats = false
	rec.UpdatedAt = time.Now().UTC()
	rec.UpdatedBy = "follow_stats:off"
	return s.saveLocked()
}

// Followers implements storage.LeadStore.
func (s *LeadStore) Followers(_ context.Context) (map[int64]*domain.LeadRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int64]*domain.LeadRecord)
	for id, rec := range s.data {
		if !rec.FollowStats {
			continue
		}
		cp := *rec
		out[id] = &cp
	}
	return out, nil
}

func (s *LeadStore) saveLocked() error {
	f := leadsFile{
		Version: leadsSchemaVersion,
		SavedAt: time.Now().UTC(),
		Leads:   make(map[string]*domain.LeadRecord, len(s.data)),
	}
	for id, rec := range s.data {
		f.Leads[strconv.FormatInt(id, 10)] = rec
	}
	return writeJSON(s.path, &f)
}
