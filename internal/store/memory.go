package store

import (
	"context"
	"sync"
)

const maxMemoryEvents = 10_000

// MemoryStore is the dev-only fallback when SWAP_DATABASE_URL is not
// configured. It is a ring buffer, not a durable log: it exists so
// /health-adjacent tooling has something to query even without Postgres.
type MemoryStore struct {
	mu     sync.Mutex
	events []Event
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Append(_ context.Context, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	if len(m.events) > maxMemoryEvents {
		m.events = m.events[len(m.events)-maxMemoryEvents:]
	}
	return nil
}

func (m *MemoryStore) Recent(_ context.Context, limit int) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit <= 0 || limit > len(m.events) {
		limit = len(m.events)
	}
	start := len(m.events) - limit
	out := make([]Event, limit)
	copy(out, m.events[start:])
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }
