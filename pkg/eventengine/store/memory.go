package store

import (
	"context"
	"sync"

	"github.com/randalmurphal/eventengine/pkg/eventengine/event"
)

// MemoryBackend keeps events in memory. Data is lost when the process exits.
type MemoryBackend struct {
	mu     sync.RWMutex
	events map[string]*event.Event
	closed bool
}

var _ Backend = (*MemoryBackend)(nil)

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{events: make(map[string]*event.Event)}
}

// Put implements Backend.
func (m *MemoryBackend) Put(_ context.Context, evt *event.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	m.events[evt.ID] = evt.Clone()
	return nil
}

// Get implements Backend.
func (m *MemoryBackend) Get(_ context.Context, id string) (*event.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}
	evt, ok := m.events[id]
	if !ok {
		return nil, ErrNotFound
	}
	return evt.Clone(), nil
}

// Query implements Backend.
func (m *MemoryBackend) Query(_ context.Context, q Query) ([]*event.Event, error) {
	q = q.normalized()

	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil, ErrClosed
	}
	var matched []*event.Event
	for _, evt := range m.events {
		if q.Matches(evt) {
			matched = append(matched, evt)
		}
	}
	m.mu.RUnlock()

	sortNewestFirst(matched)
	result := page(matched, q)
	for i, evt := range result {
		result[i] = evt.Clone()
	}
	return result, nil
}

// Stats implements Backend.
func (m *MemoryBackend) Stats(_ context.Context) (BackendStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return BackendStats{}, ErrClosed
	}
	stats := newBackendStats()
	for _, evt := range m.events {
		stats.add(evt)
	}
	return stats, nil
}

// Trim implements Backend.
func (m *MemoryBackend) Trim(_ context.Context, keep int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrClosed
	}
	keep = max(keep, 0)
	if len(m.events) <= keep {
		return 0, nil
	}

	all := make([]*event.Event, 0, len(m.events))
	for _, evt := range m.events {
		all = append(all, evt)
	}
	sortNewestFirst(all)
	for _, evt := range all[keep:] {
		delete(m.events, evt.ID)
	}
	return len(all) - keep, nil
}

// Close implements Backend.
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.events = nil
	return nil
}
