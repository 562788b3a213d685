package file

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"leadtime-engine/internal/domain"
)

const prefsSchemaVersion = 1

type prefsFile struct {
	Version int          `json:"version"`
	SavedAt time.Time    `json:"saved_at"`
	Prefs   domain.Prefs `json:"prefs"`
}

// PrefsStore is the file-backed implementation of storage.PrefsStore.
type PrefsStore struct {
	mu            sync.Mutex
	path          string
	log           *slog.Logger
	prefs         domain.Prefs
	defaultPeriod int
}

// NewPrefsStore opens (or initializes) operator preferences at path.
// Allocation by quantity defaults to on; an out-of-range stored period falls
// back to defaultPeriod.
func NewPrefsStore(path string, defaultPeriod int, logger *slog.Logger) *PrefsStore {
	s := &PrefsStore{
		path:          path,
		log:           logger.With("component", "prefs_store"),
		defaultPeriod: defaultPeriod,
		prefs: domain.Prefs{
			PeriodDays:         defaultPeriod,
			AllocateByQuantity: true,
		},
	}
	var f prefsFile
	switch err := readJSON(path, &f); {
	case err == nil:
		s.prefs = f.Prefs
		if !domain.ValidPeriod(s.prefs.PeriodDays) {
			s.prefs.PeriodDays = defaultPeriod
		}
	case os.IsNotExist(err):
		// defaults
	default:
		s.log.Warn("prefs unreadable, using defaults", "path", path, "err", err)
	}
	return s
}

// Load implements storage.PrefsStore.
func (s *PrefsStore) Load(_ context.Context) (*domain.Prefs, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.prefs
	return &p, nil
}

// Save implements storage.PrefsStore.
func (s *PrefsStore) Save(_ context.Context, p *domain.Prefs) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs = *p
	if !domain.ValidPeriod(s.prefs.PeriodDays) {
		s.prefs.PeriodDays = s.defaultPeriod
	}
	return writeJSON(s.path, &prefsFile{
		Version: prefsSchemaVersion,
		SavedAt: time.Now().UTC(),
		Prefs:   s.prefs,
	})
}
