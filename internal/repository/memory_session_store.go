package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/noah-isme/classmeet-api/internal/models"
)

// MemorySessionStore keeps sessions in process, newest first.
type MemorySessionStore struct {
	mu    sync.RWMutex
	order []string
	items map[string]*models.ClassSession
}

// NewMemorySessionStore creates an empty store, optionally pre-seeded in the given order.
func NewMemorySessionStore(seed ...models.ClassSession) *MemorySessionStore {
	store := &MemorySessionStore{items: make(map[string]*models.ClassSession, len(seed))}
	for i := range seed {
		s := seed[i].Clone()
		store.order = append(store.order, s.ID)
		store.items[s.ID] = s
	}
	return store
}

// List returns copies of every session in store order.
func (m *MemorySessionStore) List(ctx context.Context) ([]models.ClassSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.ClassSession, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, *m.items[id].Clone())
	}
	return out, nil
}

// Get returns a copy of a session or sql.ErrNoRows.
func (m *MemorySessionStore) Get(ctx context.Context, id string) (*models.ClassSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.items[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return s.Clone(), nil
}

// Create prepends a new session.
func (m *MemorySessionStore) Create(ctx context.Context, session *models.ClassSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.items[session.ID]; exists {
		return fmt.Errorf("create session %s: duplicate id", session.ID)
	}
	m.items[session.ID] = session.Clone()
	m.order = append([]string{session.ID}, m.order...)
	return nil
}

// Update replaces a stored session in place, keeping its position.
func (m *MemorySessionStore) Update(ctx context.Context, session *models.ClassSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.items[session.ID]; !exists {
		return sql.ErrNoRows
	}
	m.items[session.ID] = session.Clone()
	return nil
}
