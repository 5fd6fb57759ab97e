package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jotion/jotion/backend/go-services/internal/document"
)

// MemoryRepo is an in-memory Repository used in tests and when MongoDB is not
// configured. Stored values are copied in and out.
type MemoryRepo struct {
	mu    sync.RWMutex
	store map[string]*document.Document
	seq   map[string]int64
	next  int64
	now   func() time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		store: make(map[string]*document.Document),
		seq:   make(map[string]int64),
		now:   time.Now,
	}
}

func (m *MemoryRepo) Insert(ctx context.Context, d *document.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if _, exists := m.store[d.ID]; exists {
		return document.ErrConflict
	}
	d.CreatedAt = m.now().UTC()
	d.UpdatedAt = d.CreatedAt
	m.next++
	m.store[d.ID] = d.Clone()
	m.seq[d.ID] = m.next
	return nil
}

func (m *MemoryRepo) Get(ctx context.Context, id string) (*document.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if d, ok := m.store[id]; ok {
		return d.Clone(), nil
	}
	return nil, ErrNotFound
}

func (m *MemoryRepo) List(ctx context.Context, f Filter) ([]*document.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*document.Document, 0)
	for _, d := range m.store {
		if f.matches(d) {
			out = append(out, d.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return m.seq[out[i].ID] > m.seq[out[j].ID] })
	return out, nil
}

func (m *MemoryRepo) Update(ctx context.Context, id string, p document.Patch) (*document.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.store[id]
	if !ok {
		return nil, ErrNotFound
	}
	p.Apply(d)
	d.UpdatedAt = m.now().UTC()
	return d.Clone(), nil
}

func (m *MemoryRepo) Delete(ctx context.Context, id string) (*document.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.store[id]
	if !ok {
		return nil, ErrNotFound
	}
	delete(m.store, id)
	delete(m.seq, id)
	return d, nil
}

// Len returns the number of stored documents.
func (m *MemoryRepo) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.store)
}
