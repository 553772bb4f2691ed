package ids

import "sync"

// Counter hands out strictly increasing positive message ids for a single
// source. Counters are not shared across sources (spec §4.1); callers
// keep one Counter per source_id.
type Counter struct {
	mu   sync.Mutex
	last int64
}

// Next increments the counter and returns the new value. Gaps are
// permitted by the wire invariants, but this implementation never
// produces one: it always returns last+1.
func (c *Counter) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last++
	return c.last
}

// Counters is a registry of per-source Counter instances, keyed by
// source_id. It is the module-level state spec §9 calls out as needing
// explicit init/teardown at core startup/shutdown.
type Counters struct {
	mu       sync.Mutex
	bySource map[string]*Counter
}

// NewCounters constructs an empty per-source counter registry.
func NewCounters() *Counters {
	return &Counters{bySource: make(map[string]*Counter)}
}

// For returns (creating if necessary) the Counter for sourceID.
func (c *Counters) For(sourceID string) *Counter {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ctr, ok := c.bySource[sourceID]; ok {
		return ctr
	}
	ctr := &Counter{}
	c.bySource[sourceID] = ctr
	return ctr
}

// Drop removes the counter for sourceID, e.g. on transport close, so
// module-level state does not grow unbounded across reconnects with new
// source ids.
func (c *Counters) Drop(sourceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.bySource, sourceID)
}
