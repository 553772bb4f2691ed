package client

import (
	"sync"
	"time"

	"github.com/swap-proto/swap-relay/internal/wire"
)

type pendingResult struct {
	payload wire.ResponsePayload
	err     error
}

// waiter is handed back to the caller of SendAwait; at most one result is
// ever sent on done, by resolve (directly or from the timeout timer) or by
// failAll. cancel removes the entry without sending anything.
type waiter struct {
	done chan pendingResult
}

type pendingEntry struct {
	w     *waiter
	timer *time.Timer
}

// pendingTable is the client's correlation table keyed by the outbound
// message_id awaiting a "response" (spec §3 "Client pending-response
// entry").
type pendingTable struct {
	mu      sync.Mutex
	entries map[int64]*pendingEntry
}

func newPendingTable() *pendingTable {
	return &pendingTable{entries: make(map[int64]*pendingEntry)}
}

func (t *pendingTable) register(messageID int64, timeout time.Duration) *waiter {
	w := &waiter{done: make(chan pendingResult, 1)}

	entry := &pendingEntry{w: w}
	entry.timer = time.AfterFunc(timeout, func() {
		t.resolve(messageID, wire.ResponsePayload{}, errTimeout)
	})

	t.mu.Lock()
	t.entries[messageID] = entry
	t.mu.Unlock()

	return w
}

// resolve completes the pending entry for responseTo, if one exists. A
// second call for the same id is a no-op: the channel is buffered and the
// entry is removed on first resolution.
func (t *pendingTable) resolve(responseTo int64, payload wire.ResponsePayload, err error) {
	t.mu.Lock()
	entry, ok := t.entries[responseTo]
	if ok {
		delete(t.entries, responseTo)
	}
	t.mu.Unlock()

	if !ok {
		return
	}
	entry.timer.Stop()
	entry.w.done <- pendingResult{payload: payload, err: err}
}

// cancel drops the pending entry for messageID without resolving it,
// because the caller already observed an error or context cancellation.
func (t *pendingTable) cancel(messageID int64) {
	t.mu.Lock()
	entry, ok := t.entries[messageID]
	if ok {
		delete(t.entries, messageID)
	}
	t.mu.Unlock()
	if ok {
		entry.timer.Stop()
	}
}

// failAll resolves every outstanding entry with err, used when the
// transport disconnects (spec §5: "Transport closes cancel all pending
// entries").
func (t *pendingTable) failAll(err error) {
	t.mu.Lock()
	entries := t.entries
	t.entries = make(map[int64]*pendingEntry)
	t.mu.Unlock()

	for _, entry := range entries {
		entry.timer.Stop()
		entry.w.done <- pendingResult{err: err}
	}
}

var errTimeout = &timeoutError{}

type timeoutError struct{}

func (*timeoutError) Error() string { return "client: pending response timed out" }
