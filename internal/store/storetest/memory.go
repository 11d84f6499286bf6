// Package storetest provides an in-memory store.EntityStore for tests.
package storetest

import (
	"context"
	"sort"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/business-search-sync/internal/store"
)

// Memory holds entities ordered by id. The error hooks receive the 1-based
// call number of the method they guard.
type Memory struct {
	mu       sync.Mutex
	entities []store.Entity

	FindCalls int
	PageCalls int

	FindErr  func(call int, id string) error
	PageErr  func(call int, offset int) error
	CountErr error
}

var _ store.EntityStore = (*Memory)(nil)

// NewMemory returns a Memory holding entities.
func NewMemory(entities ...store.Entity) *Memory {
	m := &Memory{}
	m.Put(entities...)
	return m
}

// Put inserts or replaces entities by id.
func (m *Memory) Put(entities ...store.Entity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entities {
		replaced := false
		for i := range m.entities {
			if m.entities[i].ID == e.ID {
				m.entities[i] = e
				replaced = true
				break
			}
		}
		if !replaced {
			m.entities = append(m.entities, e)
		}
	}
	sort.SliceStable(m.entities, func(i, j int) bool { return m.entities[i].ID < m.entities[j].ID })
}

func (m *Memory) FindByID(_ context.Context, id string) (*store.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FindCalls++
	if m.FindErr != nil {
		if err := m.FindErr(m.FindCalls, id); err != nil {
			return nil, err
		}
	}
	for _, e := range m.entities {
		if e.ID == id {
			found := e
			return &found, nil
		}
	}
	return nil, nil
}

func (m *Memory) FindPage(_ context.Context, scope store.Scope, offset, limit int) ([]store.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PageCalls++
	if m.PageErr != nil {
		if err := m.PageErr(m.PageCalls, offset); err != nil {
			return nil, err
		}
	}
	scoped := m.scoped(scope)
	if offset >= len(scoped) {
		return nil, nil
	}
	end := min(offset+limit, len(scoped))
	return append([]store.Entity(nil), scoped[offset:end]...), nil
}

func (m *Memory) Count(_ context.Context, scope store.Scope) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CountErr != nil {
		return 0, m.CountErr
	}
	return len(m.scoped(scope)), nil
}

func (m *Memory) scoped(scope store.Scope) []store.Entity {
	if scope.TenantID == "" {
		return m.entities
	}
	var out []store.Entity
	for _, e := range m.entities {
		if e.TenantID == scope.TenantID {
			out = append(out, e)
		}
	}
	return out
}
