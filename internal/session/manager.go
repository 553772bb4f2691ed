// Package session implements the relay's session manager (spec §4.6): an
// unordered pair registry for active peer-to-peer sessions.
package session

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Entry is one active session (spec §3 "Session entry").
type Entry struct {
	// ID is a surrogate key, handy for audit logging; the canonical
	// lookup key remains the sorted pair (spec §3).
	ID        string
	A, B      string
	CreatedAt time.Time
}

// Key returns the pair-sorted, joined lookup key for (a, b) (spec §3:
// "Key is the pair sorted lexicographically and joined").
func Key(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

// Manager tracks active sessions, keyed by the unordered pair of
// participant source_ids. It does not own endpoint transports; it only
// records the relationship (spec §4.6).
type Manager struct {
	mu       sync.RWMutex
	byKey    map[string]Entry
	byMember map[string]map[string]struct{} // source_id -> set of session keys
}

// NewManager constructs an empty session Manager.
func NewManager() *Manager {
	return &Manager{
		byKey:    make(map[string]Entry),
		byMember: make(map[string]map[string]struct{}),
	}
}

// Create records a session between a and b, idempotently by key (spec
// §4.6: "create is idempotent by key"). now is the creation timestamp
// used only for a fresh entry.
func (m *Manager) Create(a, b string, now time.Time) Entry {
	key := Key(a, b)

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.byKey[key]; ok {
		return existing
	}

	entry := Entry{ID: uuid.NewString(), A: a, B: b, CreatedAt: now}
	m.byKey[key] = entry

	m.addMember(a, key)
	m.addMember(b, key)

	return entry
}

func (m *Manager) addMember(source, key string) {
	set, ok := m.byMember[source]
	if !ok {
		set = make(map[string]struct{})
		m.byMember[source] = set
	}
	set[key] = struct{}{}
}

// Get returns the session between a and b, if any.
func (m *Manager) Get(a, b string) (Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.byKey[Key(a, b)]
	return entry, ok
}

// Remove tears down the session between a and b, if present.
func (m *Manager) Remove(a, b string) {
	key := Key(a, b)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeByKeyLocked(key)
}

func (m *Manager) removeByKeyLocked(key string) {
	entry, ok := m.byKey[key]
	if !ok {
		return
	}
	delete(m.byKey, key)
	m.removeMember(entry.A, key)
	m.removeMember(entry.B, key)
}

func (m *Manager) removeMember(source, key string) {
	set, ok := m.byMember[source]
	if !ok {
		return
	}
	delete(set, key)
	if len(set) == 0 {
		delete(m.byMember, source)
	}
}

// ListFor returns every session endpoint is currently a member of.
func (m *Manager) ListFor(endpoint string) []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := m.byMember[endpoint]
	if len(keys) == 0 {
		return nil
	}

	out := make([]Entry, 0, len(keys))
	for key := range keys {
		out = append(out, m.byKey[key])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RemoveAllFor tears down every session endpoint participates in and
// returns the surviving peer of each, so the caller can notify them
// (spec §4.7 disconnect handling: "for each surviving peer synthesize a
// close message"). This runs as one critical section, matching the
// concurrency requirement in spec §5 that session cleanup on disconnect
// is atomic with routing-table removal.
func (m *Manager) RemoveAllFor(endpoint string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := m.byMember[endpoint]
	if len(keys) == 0 {
		return nil
	}

	peers := make([]string, 0, len(keys))
	for key := range keys {
		entry, ok := m.byKey[key]
		if !ok {
			continue
		}
		peer := entry.A
		if peer == endpoint {
			peer = entry.B
		}
		peers = append(peers, peer)
		m.removeByKeyLocked(key)
	}

	sort.Strings(peers)
	return peers
}

// Count returns the number of active sessions, for /health reporting.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byKey)
}
