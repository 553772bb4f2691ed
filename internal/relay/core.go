// Package relay implements the relay core (spec §4.7): the per-connection
// message loop that validates, dispatches, matches, and forwards SWAP v1
// messages, and the disconnect cleanup that keeps the routing table, the
// matcher registry, and the session manager mutually consistent.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/swap-proto/swap-relay/internal/envelope"
	"github.com/swap-proto/swap-relay/internal/ids"
	"github.com/swap-proto/swap-relay/internal/match"
	"github.com/swap-proto/swap-relay/internal/session"
	"github.com/swap-proto/swap-relay/internal/wire"
)

// relaySourceID is the source_id the relay itself uses to author
// responses and synthesized messages that are not attributed to a peer.
// It satisfies the ≥10 character invariant (spec §3) like any endpoint id.
const relaySourceID = "swap-relay-core"

// Transport is the minimal capability the relay core needs from a
// connection: the ability to push one outbound message. Concrete
// websocket plumbing lives one layer up, in the gateway; the core only
// ever sees endpoint ids and this narrow interface (spec §9: "pass
// endpoint ids, not raw transport handles, into the matcher and session
// manager").
type Transport interface {
	Send(ctx context.Context, msg wire.Message) error
}

// MetricsSink receives gauge updates the core produces as a side effect
// of registration and session lifecycle events. Implementations must be
// safe for concurrent use. A nil sink is valid; the core no-ops.
type MetricsSink interface {
	SetRegisteredEndpoints(n int)
	SetActiveSessions(n int)
}

// AuditSink receives an append-only log of lifecycle events. A nil sink
// is valid; the core no-ops. Implementations must not block the caller
// for long: the core invokes these synchronously inside dispatch.
type AuditSink interface {
	Registered(sourceID string)
	SessionCreated(a, b string)
	SessionClosed(a, b string)
}

// Registration is the relay's record of one registered endpoint (spec §3
// "Registration entry"): its advertised criteria and capabilities. The
// transport itself lives in the routing table, keyed by the same
// source_id, so this struct never needs to hold one.
type Registration struct {
	Criteria     []wire.Criterion
	Capabilities wire.Capabilities
}

// pendingConnect is the relay's record of an in-flight connect (spec §3
// "Pending-connect entry"), keyed by the requestor's source_id. Only one
// may be in flight per requestor.
type pendingConnect struct {
	Target    string
	Offer     string
	MessageID int64
	timer     *time.Timer
}

// Config carries the knobs the core needs beyond its collaborators.
type Config struct {
	SecurityEnabled bool
	SharedSecret    string

	// ConnectTimeout bounds how long a connect attempt may sit in
	// pending-connect without an accept/reject before the relay gives up
	// on it and notifies the requestor (spec §5: "Connect attempts have a
	// transport-level timeout (default 10 s)"). Zero disables the timer.
	ConnectTimeout time.Duration
}

// Core is the relay's concurrency-guarded routing brain. It owns the
// routing table (source_id -> Transport), the registration map, and the
// set of pending connects, and drives the matcher and session manager
// (spec §5: "Routing table, registration map, session map, and matching
// registry are mutated only by the relay core").
type Core struct {
	cfg Config
	log *slog.Logger

	matcher  *match.Registry
	sessions *session.Manager
	counters *ids.Counters
	keys     *envelope.KeyRing

	metrics MetricsSink
	audit   AuditSink

	mu            sync.Mutex
	routes        map[string]Transport
	registrations map[string]Registration
	pending       map[string]pendingConnect
}

// New constructs a Core. metrics and audit may be nil.
func New(cfg Config, log *slog.Logger, metrics MetricsSink, audit AuditSink) *Core {
	var keys *envelope.KeyRing
	if cfg.SecurityEnabled {
		keys = envelope.NewKeyRing(cfg.SharedSecret)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Core{
		cfg:           cfg,
		log:           log,
		matcher:       match.NewRegistry(),
		sessions:      session.NewManager(),
		counters:      ids.NewCounters(),
		keys:          keys,
		metrics:       metrics,
		audit:         audit,
		routes:        make(map[string]Transport),
		registrations: make(map[string]Registration),
		pending:       make(map[string]pendingConnect),
	}
}

// RegisteredEndpoints returns the number of endpoints that currently hold
// a registration (the registration map, not the routing table), for
// /health reporting.
func (c *Core) RegisteredEndpoints() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.registrations)
}

// ActiveSessions returns the number of active sessions, for /health
// reporting.
func (c *Core) ActiveSessions() int {
	return c.sessions.Count()
}

func (c *Core) reportGauges() {
	if c.metrics == nil {
		return
	}
	c.metrics.SetRegisteredEndpoints(c.RegisteredEndpoints())
	c.metrics.SetActiveSessions(c.sessions.Count())
}

// HandleFrame processes one inbound frame from transport and returns the
// message (ack or error) that must be written back to the same
// transport, if any (spec §4.7). It is the relay's per-connection
// dispatch entry point; callers serialize calls per connection so that
// messages from one peer are processed in arrival order (spec §5).
func (c *Core) HandleFrame(ctx context.Context, transport Transport, raw []byte) (wire.Message, bool) {
	msg, err := wire.ParseMessage(raw)
	if err != nil {
		return c.malformed(0), true
	}

	if msg.HasSecurity() && c.keys != nil {
		opened, err := envelope.Open(c.keys, msg)
		if err != nil {
			c.log.Info("relay.envelope.open_failed", "source_id", msg.SourceID, "err", err)
			return c.malformed(msg.MessageID), true
		}
		msg = opened
	}

	// Unknown message_type is its own error kind (spec §7: "Unknown
	// message_type yields message_unknown"), distinct from the generic
	// shape-validation failures ValidateShape otherwise reports as
	// message_malformatted.
	if !wire.IsKnownKind(msg.MessageType) {
		return c.unknownKind(msg), true
	}

	if result := wire.ValidateShape(msg); !result.Valid {
		c.log.Info("relay.validate.failed", "source_id", msg.SourceID, "errors", result.Errors)
		return c.malformed(msg.MessageID), true
	}

	c.setRoute(msg.SourceID, transport)

	typed, err := wire.BuildTyped(msg)
	if err != nil {
		return c.unknownKind(msg), true
	}

	return c.dispatch(ctx, msg, typed)
}

func (c *Core) setRoute(sourceID string, transport Transport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.routes[sourceID] = transport
}

func (c *Core) dispatch(ctx context.Context, msg wire.Message, typed wire.Typed) (wire.Message, bool) {
	switch msg.MessageType {
	case wire.KindRegister:
		return c.handleRegister(msg, typed.Register)
	case wire.KindConnect:
		return c.handleConnect(ctx, msg, typed.Connect)
	case wire.KindAccept:
		return c.handleAccept(ctx, msg, typed.Accept)
	case wire.KindReject:
		return c.handleReject(ctx, msg, typed.Reject.Target)
	case wire.KindUpdate:
		return c.handleForwardToTarget(ctx, msg, typed.Update.Target)
	case wire.KindApplication:
		return c.handleForwardToTarget(ctx, msg, typed.Application.Target)
	case wire.KindClose:
		return c.handleClose(ctx, msg, typed.Close.Target)
	case wire.KindResponse:
		// No-op at the relay (spec §4.7).
		return wire.Message{}, false
	default:
		return c.unknownKind(msg), true
	}
}

func (c *Core) handleRegister(msg wire.Message, payload *wire.RegisterPayload) (wire.Message, bool) {
	reg := Registration{Criteria: payload.Criteria}
	if payload.Capabilities != nil {
		reg.Capabilities = *payload.Capabilities
	}

	c.mu.Lock()
	c.registrations[msg.SourceID] = reg
	c.mu.Unlock()

	c.matcher.Register(msg.SourceID, payload.Criteria)
	c.reportGauges()

	if c.audit != nil {
		c.audit.Registered(msg.SourceID)
	}

	c.log.Info("relay.register", "source_id", msg.SourceID, "criteria_count", len(payload.Criteria))
	return c.ack(msg)
}

func (c *Core) handleConnect(ctx context.Context, msg wire.Message, payload *wire.ConnectPayload) (wire.Message, bool) {
	candidates := c.matcher.FindMatches(payload.Criteria)
	candidates = excludeSelf(candidates, msg.SourceID)

	selected, ok := match.Select(candidates)
	if !ok {
		return c.errorResponse(msg, wire.TargetUnknown("no registered endpoint matches the requested criteria")), true
	}

	entry := pendingConnect{Target: selected.EndpointID, Offer: payload.Offer, MessageID: msg.MessageID}
	if c.cfg.ConnectTimeout > 0 {
		requestor := msg.SourceID
		entry.timer = time.AfterFunc(c.cfg.ConnectTimeout, func() { c.expirePending(requestor) })
	}

	c.mu.Lock()
	c.pending[msg.SourceID] = entry
	c.mu.Unlock()

	if err := c.forward(ctx, selected.EndpointID, msg); err != nil {
		c.log.Info("relay.connect.forward_failed", "source_id", msg.SourceID, "target", selected.EndpointID, "err", err)
		c.clearPending(msg.SourceID)
		return c.errorResponse(msg, wire.TargetUnknown("selected endpoint is no longer reachable")), true
	}

	c.log.Info("relay.connect", "source_id", msg.SourceID, "target", selected.EndpointID)
	return c.ack(msg)
}

// clearPending drops requestor's pending-connect entry, if any, stopping
// its expiry timer so it never fires after the connect has already been
// resolved by an accept or reject.
func (c *Core) clearPending(requestor string) {
	c.mu.Lock()
	entry, ok := c.pending[requestor]
	delete(c.pending, requestor)
	c.mu.Unlock()
	if ok && entry.timer != nil {
		entry.timer.Stop()
	}
}

// expirePending fires when a connect attempt has sat unresolved past
// ConnectTimeout (spec §5). It removes the pending entry and notifies the
// requestor with an unsolicited error, unless the entry was already
// cleared by an intervening accept or reject.
func (c *Core) expirePending(requestor string) {
	c.mu.Lock()
	_, ok := c.pending[requestor]
	delete(c.pending, requestor)
	c.mu.Unlock()
	if !ok {
		return
	}

	c.log.Info("relay.connect.timeout", "source_id", requestor)
	out, err := wire.NewError(relaySourceID, c.counters.For(relaySourceID).Next(), 0,
		wire.TargetUnknown("connect attempt timed out waiting for a response"))
	if err != nil {
		return
	}
	if err := c.forward(context.Background(), requestor, out); err != nil {
		c.log.Info("relay.connect.timeout_notify_failed", "source_id", requestor, "err", err)
	}
}

func (c *Core) handleAccept(ctx context.Context, msg wire.Message, payload *wire.AcceptPayload) (wire.Message, bool) {
	c.clearPending(payload.Target)

	c.mu.Lock()
	_, exists := c.routes[payload.Target]
	c.mu.Unlock()

	if !exists {
		return c.errorResponse(msg, wire.TargetUnknown("target is not connected")), true
	}

	entry := c.sessions.Create(msg.SourceID, payload.Target, time.Now())
	c.reportGauges()
	if c.audit != nil {
		c.audit.SessionCreated(entry.A, entry.B)
	}

	if err := c.forward(ctx, payload.Target, msg); err != nil {
		c.log.Info("relay.accept.forward_failed", "source_id", msg.SourceID, "target", payload.Target, "err", err)
		return c.errorResponse(msg, wire.TargetUnknown("target is not connected")), true
	}

	c.log.Info("relay.session.created", "a", entry.A, "b", entry.B)
	return c.ack(msg)
}

// handleReject forwards a reject to the original requestor and clears the
// pending-connect entry it resolves, stopping the entry's expiry timer so
// it cannot fire a redundant timeout after the reject already settled the
// attempt.
func (c *Core) handleReject(ctx context.Context, msg wire.Message, target string) (wire.Message, bool) {
	c.clearPending(target)
	return c.handleForwardToTarget(ctx, msg, target)
}

func (c *Core) handleForwardToTarget(ctx context.Context, msg wire.Message, target string) (wire.Message, bool) {
	c.mu.Lock()
	_, exists := c.routes[target]
	c.mu.Unlock()

	if !exists {
		return c.errorResponse(msg, wire.TargetUnknown("target is not connected")), true
	}

	if err := c.forward(ctx, target, msg); err != nil {
		c.log.Info("relay.forward_failed", "source_id", msg.SourceID, "target", target, "err", err)
		return c.errorResponse(msg, wire.TargetUnknown("target is not connected")), true
	}
	return c.ack(msg)
}

func (c *Core) handleClose(ctx context.Context, msg wire.Message, target string) (wire.Message, bool) {
	c.mu.Lock()
	_, exists := c.routes[target]
	c.mu.Unlock()

	if exists {
		if err := c.forward(ctx, target, msg); err != nil {
			c.log.Info("relay.close.forward_failed", "source_id", msg.SourceID, "target", target, "err", err)
		}
	}

	c.sessions.Remove(msg.SourceID, target)
	c.reportGauges()
	if c.audit != nil {
		c.audit.SessionClosed(msg.SourceID, target)
	}

	c.log.Info("relay.session.closed", "a", msg.SourceID, "b", target)
	return c.ack(msg)
}

// forward re-wraps msg (applying security toward targetID if it
// negotiated support) and writes it to targetID's transport, preserving
// source_id and message_id verbatim (spec §4.7).
func (c *Core) forward(ctx context.Context, targetID string, msg wire.Message) error {
	c.mu.Lock()
	transport, ok := c.routes[targetID]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("relay: no route to %s", targetID)
	}

	out, err := c.applySecurity(targetID, msg)
	if err != nil {
		return err
	}
	return transport.Send(ctx, out)
}

func (c *Core) applySecurity(targetID string, msg wire.Message) (wire.Message, error) {
	if c.keys == nil {
		return msg, nil
	}

	c.mu.Lock()
	reg, ok := c.registrations[targetID]
	c.mu.Unlock()
	if !ok || reg.Capabilities.Security == nil {
		return msg, nil
	}

	sec := reg.Capabilities.Security
	if !sec.Integrity && !sec.Encryption {
		return msg, nil
	}
	return envelope.Seal(c.keys, msg, sec.Encryption, sec.Integrity)
}

func excludeSelf(matches []match.Match, self string) []match.Match {
	out := matches[:0:0]
	for _, m := range matches {
		if m.EndpointID != self {
			out = append(out, m)
		}
	}
	return out
}

// Disconnect tears down everything associated with sourceID (spec §4.7
// "On transport close of any endpoint"). The route, registration, pending
// connect, matcher entry and sessions are all removed in one critical
// section, so no dispatch can observe the endpoint routable while its
// sessions are gone or the reverse. After the lock is released, each
// surviving peer is sent a close authored by sourceID; that transport I/O
// happens outside the lock (spec §5).
func (c *Core) Disconnect(ctx context.Context, sourceID string) {
	c.mu.Lock()
	delete(c.routes, sourceID)
	delete(c.registrations, sourceID)
	pending, hadPending := c.pending[sourceID]
	delete(c.pending, sourceID)
	c.matcher.Unregister(sourceID)
	peers := c.sessions.RemoveAllFor(sourceID)
	c.mu.Unlock()

	if hadPending && pending.timer != nil {
		pending.timer.Stop()
	}

	c.counters.Drop(sourceID)

	c.reportGauges()

	for _, peer := range peers {
		if c.audit != nil {
			c.audit.SessionClosed(sourceID, peer)
		}

		closeMsg, err := wire.New(sourceID, c.counters.For(sourceID).Next(), wire.KindClose, wire.ClosePayload{Target: peer})
		if err != nil {
			c.log.Info("relay.disconnect.build_close_failed", "source_id", sourceID, "peer", peer, "err", err)
			continue
		}

		if err := c.forward(ctx, peer, closeMsg); err != nil {
			c.log.Info("relay.disconnect.notify_failed", "source_id", sourceID, "peer", peer, "err", err)
		}
	}

	c.log.Info("relay.disconnect", "source_id", sourceID, "peers_notified", len(peers))
}

// ack and the error builders below all respond on the relay's own
// identity, correlated to the inbound message_id via response_to; the
// response message's own message_id is drawn from a counter scoped to
// relaySourceID so it still satisfies the positive-integer invariant
// (spec §4.2) that applies to every wire message, including ones the
// relay authors itself.
func (c *Core) ack(msg wire.Message) (wire.Message, bool) {
	out, err := wire.NewAck(relaySourceID, c.counters.For(relaySourceID).Next(), msg.MessageID, 200)
	if err != nil {
		c.log.Info("relay.ack.build_failed", "source_id", msg.SourceID, "err", err)
		return wire.Message{}, false
	}
	return out, true
}

func (c *Core) errorResponse(msg wire.Message, problem wire.Problem) (wire.Message, bool) {
	out, err := wire.NewError(relaySourceID, c.counters.For(relaySourceID).Next(), msg.MessageID, problem)
	if err != nil {
		c.log.Info("relay.error_response.build_failed", "source_id", msg.SourceID, "err", err)
		return wire.Message{}, false
	}
	return out, true
}

func (c *Core) malformed(responseTo int64) wire.Message {
	out, err := wire.NewError(relaySourceID, c.counters.For(relaySourceID).Next(), responseTo, wire.MessageMalformatted("message failed shape validation"))
	if err != nil {
		return wire.Message{}
	}
	return out
}

func (c *Core) unknownKind(msg wire.Message) wire.Message {
	out, err := wire.NewError(relaySourceID, c.counters.For(relaySourceID).Next(), msg.MessageID, wire.MessageUnknown(fmt.Sprintf("unknown message_type %q", msg.MessageType)))
	if err != nil {
		return wire.Message{}
	}
	return out
}
