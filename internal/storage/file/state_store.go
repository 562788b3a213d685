package file

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"leadtime-engine/internal/domain"
)

const ingestStateSchemaVersion = 1

type ingestStateFile struct {
	Version int                `json:"version"`
	SavedAt time.Time          `json:"saved_at"`
	State   domain.IngestState `json:"state"`
}

// IngestStateStore is the file-backed implementation of
// storage.IngestStateStore.
type IngestStateStore struct {
	mu    sync.Mutex
	path  string
	log   *slog.Logger
	state domain.IngestState
}

// NewIngestStateStore opens (or initializes) the ingest state at path.
func NewIngestStateStore(path string, logger *slog.Logger) *IngestStateStore {
	s := &IngestStateStore{
		path: path,
		log:  logger.With("component", "ingest_state"),
	}
	var f ingestStateFile
	switch err := readJSON(path, &f); {
	case err == nil:
		s.state = f.State
	case os.IsNotExist(err):
		// first run
	default:
		s.log.Warn("ingest state unreadable, starting fresh", "path", path, "err", err)
	}
	return s
}

// Load implements storage.IngestStateStore.
func (s *IngestStateStore) Load(_ context.Context) (*domain.IngestState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state
	return &st, nil
}

// Save implements storage.IngestStateStore.
func (s *IngestStateStore) Save(_ context.Context, st *domain.IngestState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = *st
	return writeJSON(s.path, &ingestStateFile{
		Version: ingestStateSchemaVersion,
		SavedAt: time.Now().UTC(),
		State:   s.state,
	})
}
