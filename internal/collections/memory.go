package collections

import (
	"context"
	"sort"
	"sync"

	"gatehouse.dev/internal/auth"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu     sync.RWMutex
	nextID int64
	rows   map[int64]Collection
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[int64]Collection)}
}

func (s *MemoryStore) FindByID(_ context.Context, id int64) (*Collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.rows[id]
	if !ok || c.DeletedAt != nil {
		return nil, auth.ErrNotFound
	}
	return &c, nil
}

func (s *MemoryStore) FindBySlug(_ context.Context, slug string) (*Collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.rows {
		if c.DeletedAt == nil && c.Slug == slug {
			return &c, nil
		}
	}
	return nil, auth.ErrNotFound
}

// List orders by sort_order then name.
func (s *MemoryStore) List(_ context.Context, f Filter) ([]Collection, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Collection
	for _, c := range s.rows {
		if c.DeletedAt != nil {
			continue
		}
		if f.IsActive != nil && c.IsActive != *f.IsActive {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].Name < out[j].Name
	})
	total := len(out)
	if f.Offset >= total {
		return []Collection{}, total, nil
	}
	return out[f.Offset:min(f.Offset+f.Limit, total)], total, nil
}

func (s *MemoryStore) Create(_ context.Context, c *Collection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkSlug(c); err != nil {
		return err
	}
	s.nextID++
	c.ID = s.nextID
	s.rows[c.ID] = *c
	return nil
}

func (s *MemoryStore) Update(_ context.Context, c *Collection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[c.ID]; !ok {
		return auth.ErrNotFound
	}
	if c.DeletedAt == nil {
		if err := s.checkSlug(c); err != nil {
			return err
		}
	}
	s.rows[c.ID] = *c
	return nil
}

func (s *MemoryStore) checkSlug(c *Collection) error {
	for id, other := range s.rows {
		if id != c.ID && other.DeletedAt == nil && other.Slug == c.Slug {
			return &auth.ConflictError{Field: "slug", Message: "Collection with slug '" + c.Slug + "' already exists"}
		}
	}
	return nil
}
