package file

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"time"

	"leadtime-engine/internal/storage"
)

const statsCacheSchemaVersion = 1

type cacheEntry struct {
	SavedAt time.Time       `json:"saved_at"`
	Payload json.RawMessage `json:"payload"`
}

type statsCacheFile struct {
	Version int                   `json:"version"`
	Entries map[string]cacheEntry `json:"entries"`
}

// StatsCache is the file-backed implementation of storage.StatsCache.
type StatsCache struct {
	mu      sync.RWMutex
	path    string
	log     *slog.Logger
	entries map[string]cacheEntry
}

// NewStatsCache opens (or initializes) the statistics cache at path.
func NewStatsCache(path string, logger *slog.Logger) *StatsCache {
	s := &StatsCache{
		path:    path,
		log:     logger.With("component", "stats_cache"),
		entries: make(map[string]cacheEntry),
	}
	var f statsCacheFile
	switch err := readJSON(path, &f); {
	case err == nil:
		if f.Entries != nil {
			s.entries = f.Entries
		}
	case os.IsNotExist(err):
		// first run
	default:
		s.log.Warn("stats cache unreadable, starting empty", "path", path, "err", err)
	}
	return s
}

// Get implements storage.StatsCache.
func (s *StatsCache) Get(_ context.Context, key string) (json.RawMessage, time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[key]
	if !ok {
		return nil, time.Time{}, storage.ErrNotFound
	}
	return entry.Payload, entry.SavedAt, nil
}

// Put implements storage.StatsCache.
func (s *StatsCache) Put(_ context.Context, key string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = cacheEntry{SavedAt: time.Now().UTC(), Payload: raw}
	return s.saveLocked()
}

// Invalidate implements storage.StatsCache.
func (s *StatsCache) Invalidate(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]cacheEntry)
	return s.saveLocked()
}

func (s *StatsCache) saveLocked() error {
	return writeJSON(s.path, &statsCacheFile{
		Version: statsCacheSchemaVersion,
		Entries: s.entries,
	})
}
