package persist

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/pbaille/canvas/internal/domain"
)

// MemoryBackend is an in-process Backend, used for offline sessions and tests
type MemoryBackend struct {
	mu      sync.Mutex
	entries map[string]*domain.Entry
	calls   map[string]int
	// FailNext makes the next n calls return an error.
	failNext int
}

// NewMemoryBackend returns an empty backend
func NewMemoryBackend(seed ...*domain.Entry) *MemoryBackend {
	m := &MemoryBackend{entries: make(map[string]*domain.Entry), calls: make(map[string]int)}
	for _, e := range seed {
		m.entries[e.ID] = e.Clone()
	}
	return m
}

// FailNext makes the next n calls fail
func (m *MemoryBackend) FailNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = n
}

// Calls returns how many times method was invoked
func (m *MemoryBackend) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

// Get returns the stored copy of id
func (m *MemoryBackend) Get(id string) (*domain.Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	return e.Clone(), ok
}

// Len returns the number of stored entries
func (m *MemoryBackend) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *MemoryBackend) CreateOrUpdateEntry(ctx context.Context, e *domain.Entry) (*domain.Entry, error) {
	if err := m.enter("CreateOrUpdateEntry"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.ID] = e.Clone()
	return e.Clone(), nil
}

func (m *MemoryBackend) DeleteEntry(ctx context.Context, id string) error {
	if err := m.enter("DeleteEntry"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
	return nil
}

func (m *MemoryBackend) BatchUpsert(ctx context.Context, es []*domain.Entry) ([]*domain.Entry, error) {
	if err := m.enter("BatchUpsert"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.Entry, 0, len(es))
	for _, e := range es {
		m.entries[e.ID] = e.Clone()
		out = append(out, e.Clone())
	}
	return out, nil
}

func (m *MemoryBackend) ListEntries(ctx context.Context, owner string) ([]*domain.Entry, error) {
	if err := m.enter("ListEntries"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Entry
	for _, e := range m.entries {
		if owner == "" || e.OwnerID == owner {
			out = append(out, e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryBackend) enter(method string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[method]++
	if m.failNext > 0 {
		m.failNext--
		return fmt.Errorf("%s: backend unavailable", method)
	}
	return nil
}
