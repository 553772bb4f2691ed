// Package store implements the relay's optional append-only audit trail
// of registration and session lifecycle events. It never holds the live
// routing state the relay core needs to operate — that stays in memory in
// package relay per spec.md's Non-goal on persisting registrations across
// restarts. This package exists purely for operational visibility.
package store

import (
	"context"
	"time"
)

// EventKind names one of the three lifecycle events this package records.
type EventKind string

const (
	EventRegistered     EventKind = "register"
	EventSessionCreated EventKind = "session_created"
	EventSessionClosed  EventKind = "session_closed"
)

// Event is one audit record.
type Event struct {
	Kind EventKind
	A    string // source_id for register/session events
	B    string // peer source_id, empty for register events
	At   time.Time
}

// AuditStore is the append/query surface both backends satisfy.
type AuditStore interface {
	Append(ctx context.Context, ev Event) error
	Recent(ctx context.Context, limit int) ([]Event, error)
	Close() error
}

// Registered, SessionCreated, and SessionClosed adapt AuditStore to the
// narrower, synchronous, error-swallowing shape the relay core calls
// inline during dispatch (relay.AuditSink). Audit failures are passed to
// the wrapper's onErr callback (dropped when it is nil), never surfaced to
// the connection handling the message.
type Sink struct {
	store AuditStore
	onErr func(err error)
}

// NewSink wraps store so it satisfies relay.AuditSink. onErr may be nil.
func NewSink(store AuditStore, onErr func(err error)) *Sink {
	if onErr == nil {
		onErr = func(error) {}
	}
	return &Sink{store: store, onErr: onErr}
}

func (s *Sink) Registered(sourceID string) {
	s.append(Event{Kind: EventRegistered, A: sourceID, At: time.Now()})
}

func (s *Sink) SessionCreated(a, b string) {
	s.append(Event{Kind: EventSessionCreated, A: a, B: b, At: time.Now()})
}

func (s *Sink) SessionClosed(a, b string) {
	s.append(Event{Kind: EventSessionClosed, A: a, B: b, At: time.Now()})
}

func (s *Sink) append(ev Event) {
	if err := s.store.Append(context.Background(), ev); err != nil {
		s.onErr(err)
	}
}
