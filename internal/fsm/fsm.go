// Package fsm implements the per-client JSEP-style session state machine
// (spec §4.4): idle, connecting, connected, closing.
package fsm

import (
	"fmt"
	"sync"

	"github.com/swap-proto/swap-relay/internal/wire"
)

// State is one of the four session states.
type State string

const (
	Idle       State = "idle"
	Connecting State = "connecting"
	Connected  State = "connected"
	Closing    State = "closing"
)

// Event names a state-machine transition trigger. Most share a name with
// a wire.Kind, but "accept_incoming" and "closed" are internal events not
// carried on the wire directly.
type Event string

const (
	EventConnect        Event = "connect"
	EventAcceptIncoming Event = "accept_incoming"
	EventAccept         Event = "accept"
	EventReject         Event = "reject"
	EventUpdate         Event = "update"
	EventClose          Event = "close"
	EventClosed         Event = "closed"
)

// transitions is the partial function (state, event) -> state from spec §4.4.
var transitions = map[State]map[Event]State{
	Idle: {
		EventConnect:        Connecting,
		EventAcceptIncoming: Connecting,
	},
	Connecting: {
		EventAccept: Connected,
		EventReject: Idle,
	},
	Connected: {
		EventUpdate: Connected,
		EventClose:  Closing,
	},
	Closing: {
		EventClosed: Idle,
	},
}

// sendGates lists which message kinds may be sent while in each state
// (spec §4.4 "Gating on outbound send").
var sendGates = map[State]map[wire.Kind]struct{}{
	Idle: {
		wire.KindRegister: {},
		wire.KindConnect:  {},
	},
	Connecting: {
		wire.KindAccept:      {},
		wire.KindReject:      {},
		wire.KindUpdate:      {},
		wire.KindClose:       {},
		wire.KindApplication: {},
		wire.KindResponse:    {},
	},
	Connected: {
		wire.KindUpdate:      {},
		wire.KindClose:       {},
		wire.KindApplication: {},
		wire.KindResponse:    {},
	},
	Closing: {
		wire.KindResponse: {},
	},
}

// ErrDisallowed is returned by Machine.CanSend when the current state
// does not permit sending the given kind. Per spec §4.4, this fails
// locally on the client and never touches the transport.
type ErrDisallowed struct {
	State State
	Kind  wire.Kind
}

func (e ErrDisallowed) Error() string {
	return fmt.Sprintf("fsm: sending %q is not allowed from state %q", e.Kind, e.State)
}

// Machine is a single session's state machine, safe for concurrent use.
type Machine struct {
	mu    sync.Mutex
	state State
}

// New constructs a Machine starting in the idle state.
func New() *Machine {
	return &Machine{state: Idle}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Apply attempts the transition for event from the current state. It
// returns the resulting state, or an error if the transition is not
// defined for (state, event). Callers should treat an undefined
// transition for an inbound event as a no-op rather than a hard failure,
// except where acceptance is defined regardless of prior state (see
// AcceptIncoming).
func (m *Machine) Apply(event Event) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next, ok := transitions[m.state][event]
	if !ok {
		return m.state, fmt.Errorf("fsm: no transition for event %q from state %q", event, m.state)
	}
	m.state = next
	return m.state, nil
}

// AcceptIncoming applies the accept_incoming event, which spec §8 defines
// to drive idle -> connecting "regardless of other state": from any
// state other than idle it is accepted as a no-op rather than an error,
// since an inbound connect offer does not retroactively invalidate an
// in-progress local session.
func (m *Machine) AcceptIncoming() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Idle {
		m.state = Connecting
	}
	return m.state
}

// CanSend reports whether kind may be sent from the current state
// without mutating the state machine (spec §4.4 gating table).
func (m *Machine) CanSend(kind wire.Kind) error {
	m.mu.Lock()
	state := m.state
	m.mu.Unlock()

	if _, ok := sendGates[state][kind]; !ok {
		return ErrDisallowed{State: state, Kind: kind}
	}
	return nil
}
