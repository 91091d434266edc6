package store

import (
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/i474232898/meteogram-sources/internal/weather"
)

var (
	// ErrNotFound is returned when no meteogram is stored for a given location.
	ErrNotFound = errors.New("no meteogram for location")
)

// MemoryStore is a concurrency-safe in-memory implementation of weather.Store.
// Each location keeps its snapshots ordered by fetch time.
type MemoryStore struct {
	mu sync.RWMutex

	// key: location key
	data map[string][]weather.Snapshot

	maxHistory int           // max snapshots per location, <= 0 for unlimited
	maxAge     time.Duration // snapshots older than this are dropped, <= 0 to keep all
	clock      clockwork.Clock
}

// NewMemoryStore creates a new MemoryStore with optional limits.
func NewMemoryStore(maxHistory int, maxAge time.Duration) *MemoryStore {
	return NewMemoryStoreWithClock(maxHistory, maxAge, clockwork.NewRealClock())
}

// NewMemoryStoreWithClock is NewMemoryStore with an explicit clock for age retention.
func NewMemoryStoreWithClock(maxHistory int, maxAge time.Duration, clock clockwork.Clock) *MemoryStore {
	return &MemoryStore{
		data:       make(map[string][]weather.Snapshot),
		maxHistory: maxHistory,
		maxAge:     maxAge,
		clock:      clock,
	}
}

// SaveSnapshot appends a snapshot for a location and enforces retention.
func (s *MemoryStore) SaveSnapshot(loc weather.Location, snap weather.Snapshot) {
	key := loc.Key()
	if snap.FetchedAt.IsZero() {
		snap.FetchedAt = s.clock.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	history := append(s.data[key], snap)

	if s.maxHistory > 0 && len(history) > s.maxHistory {
		history = history[len(history)-s.maxHistory:]
	}

	if s.maxAge > 0 {
		cutoff := s.clock.Now().Add(-s.maxAge)
		i := 0
		for i < len(history)-1 && history[i].FetchedAt.Before(cutoff) {
			i++
		}
		history = history[i:]
	}

	s.data[key] = history
}

// GetLatest returns the most recent snapshot for a location.
func (s *MemoryStore) GetLatest(loc weather.Location) (weather.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.data[loc.Key()]
	if len(history) == 0 {
		return weather.Snapshot{}, ErrNotFound
	}
	return history[len(history)-1], nil
}

// GetRange returns the snapshots for a location fetched between from and to (inclusive).
func (s *MemoryStore) GetRange(loc weather.Location, from, to time.Time) ([]weather.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []weather.Snapshot
	for _, snap := range s.data[loc.Key()] {
		if !snap.FetchedAt.Before(from) && !snap.FetchedAt.After(to) {
			result = append(result, snap)
		}
	}

	if len(result) == 0 {
		return nil, ErrNotFound
	}
	return result, nil
}
