package settings

import (
	"context"
	"errors"
	"sort"
	"sync"

	"gatehouse.dev/internal/auth"
)

func isNotFound(err error) bool { return errors.Is(err, auth.ErrNotFound) }

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu     sync.RWMutex
	nextID int64
	rows   map[string]Setting
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]Setting)}
}

func (m *MemoryStore) Get(_ context.Context, key string) (*Setting, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.rows[key]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return &s, nil
}

func (m *MemoryStore) List(_ context.Context, publicOnly bool) ([]Setting, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Setting, 0, len(m.rows))
	for _, s := range m.rows {
		if publicOnly && !s.IsPublic {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *MemoryStore) Upsert(_ context.Context, s *Setting) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.rows[s.Key]; ok {
		s.ID = existing.ID
		s.CreatedAt = existing.CreatedAt
	} else {
		m.nextID++
		s.ID = m.nextID
	}
	m.rows[s.Key] = *s
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[key]; !ok {
		return false, nil
	}
	delete(m.rows, key)
	return true, nil
}
