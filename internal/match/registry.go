// Package match implements the matching engine (spec §4.5): a registry of
// endpoint criteria sets and a subset-match query with specificity-weighted
// random tie-break.
package match

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/swap-proto/swap-relay/internal/wire"
)

// criterionKey is a criterion's identity: the pair (type, canonical_json(value)).
type criterionKey struct {
	Type  string
	Value string
}

func keyOf(c wire.Criterion) criterionKey {
	return criterionKey{Type: c.Type, Value: canonicalValue(c.Value)}
}

// canonicalValue re-serializes a JSON value with sorted object keys so two
// criteria with differently-ordered object values still compare equal.
func canonicalValue(raw json.RawMessage) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	b, err := canonicalMarshal(v)
	if err != nil {
		return string(raw)
	}
	return string(b)
}

func canonicalMarshal(v any) ([]byte, error) {
	switch x := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := "{"
		for i, k := range keys {
			if i > 0 {
				out += ","
			}
			kb, _ := json.Marshal(k)
			vb, err := canonicalMarshal(x[k])
			if err != nil {
				return nil, err
			}
			out += string(kb) + ":" + string(vb)
		}
		out += "}"
		return []byte(out), nil
	case []any:
		out := "["
		for i, e := range x {
			if i > 0 {
				out += ","
			}
			vb, err := canonicalMarshal(e)
			if err != nil {
				return nil, err
			}
			out += string(vb)
		}
		out += "]"
		return []byte(out), nil
	default:
		return json.Marshal(x)
	}
}

// entry holds one registered endpoint's criteria set.
type entry struct {
	keys map[criterionKey]struct{}
	size int
}

// Registry maps endpoint_id -> (criteria_set, criteria_count). It is the
// matcher half of spec §4.5; registration/unregistration is driven by the
// relay core alongside the routing table and registration map.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register upserts endpointID's advertised criteria set, replacing any
// prior registration (spec §3: "Unique per source_id: re-register
// replaces").
func (r *Registry) Register(endpointID string, criteria []wire.Criterion) {
	keys := make(map[criterionKey]struct{}, len(criteria))
	for _, c := range criteria {
		keys[keyOf(c)] = struct{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[endpointID] = entry{keys: keys, size: len(keys)}
}

// Unregister removes endpointID from the registry.
func (r *Registry) Unregister(endpointID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, endpointID)
}

// Match is one registry entry returned by FindMatches.
type Match struct {
	EndpointID    string
	CriteriaCount int
}

// FindMatches returns every registered endpoint whose criteria set is a
// superset of query (spec §4.5: "ALL query criteria must be present").
// An empty query matches every registered endpoint. The caller excludes
// its own endpoint id; this function does not.
func (r *Registry) FindMatches(query []wire.Criterion) []Match {
	queryKeys := make([]criterionKey, 0, len(query))
	for _, c := range query {
		queryKeys = append(queryKeys, keyOf(c))
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var matches []Match
	for id, e := range r.entries {
		if isSuperset(e.keys, queryKeys) {
			matches = append(matches, Match{EndpointID: id, CriteriaCount: e.size})
		}
	}

	// Deterministic order for callers that need stable iteration (e.g.
	// tests); random tie-break happens in Select, not here.
	sort.Slice(matches, func(i, j int) bool { return matches[i].EndpointID < matches[j].EndpointID })
	return matches
}

func isSuperset(set map[criterionKey]struct{}, query []criterionKey) bool {
	for _, k := range query {
		if _, ok := set[k]; !ok {
			return false
		}
	}
	return true
}
