package series

import (
	"context"
	"sort"
	"sync"
)

// Store persists series snapshots. Load returns ErrSeriesNotFound for unknown ids.
type Store interface {
	Save(ctx context.Context, s *Series) error
	Load(ctx context.Context, id string) (*Series, error)
	ListByPlayer(ctx context.Context, playerID string) ([]string, error)
}

// MemoryStore keeps snapshots in process. Reads and writes copy.
type MemoryStore struct {
	mu     sync.RWMutex
	series map[string]*Series
	byUser map[string]map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		series: make(map[string]*Series),
		byUser: make(map[string]map[string]struct{}),
	}
}

func (m *MemoryStore) Save(ctx context.Context, s *Series) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.series[s.ID] = s.Clone()
	for _, p := range []string{s.Player1, s.Player2} {
		set, ok := m.byUser[p]
		if !ok {
			set = make(map[string]struct{})
			m.byUser[p] = set
		}
		set[s.ID] = struct{}{}
	}
	return nil
}

func (m *MemoryStore) Load(ctx context.Context, id string) (*Series, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.series[id]
	if !ok {
		return nil, ErrSeriesNotFound
	}
	return s.Clone(), nil
}

func (m *MemoryStore) ListByPlayer(ctx context.Context, playerID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.byUser[playerID]))
	for id := range m.byUser[playerID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
