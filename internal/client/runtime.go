// Package client implements the SWAP v1 client protocol runtime (spec
// §4.8): outbound send/await correlation keyed by message_id, the inbound
// demultiplexer into typed events, and the per-session state machine that
// gates what the caller may send.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/swap-proto/swap-relay/internal/envelope"
	"github.com/swap-proto/swap-relay/internal/fsm"
	"github.com/swap-proto/swap-relay/internal/ids"
	"github.com/swap-proto/swap-relay/internal/wire"
)

// DefaultPendingTimeout is the default wait for a correlated response
// (spec §4.8: "a completion and a timeout (default 5 s)").
const DefaultPendingTimeout = 5 * time.Second

// Callbacks is the fixed set of typed events the runtime emits (spec §9:
// "favor explicit typed events over dynamic dispatch"). Any nil callback
// is simply skipped.
type Callbacks struct {
	OnConnect     func(offer, sourceID string)
	OnAccept      func(answer, sourceID string)
	OnReject      func(reason, sourceID string)
	OnUpdate      func(sdp, sourceID string)
	OnClose       func(sourceID string)
	OnApplication func(typ string, value []byte, sourceID string)
	OnError       func(problem wire.Problem, sourceID string)
}

// FrameSink is the narrow capability the runtime needs to push a frame to
// the wire. A real websocket connection implements it directly; tests use
// an in-memory stand-in.
type FrameSink interface {
	Send(ctx context.Context, raw []byte) error
}

// Config carries the runtime's identity and optional security material.
type Config struct {
	SourceID        string
	SecurityEnabled bool
	SharedSecret    string
	// Capabilities advertised in register; also gates whether outbound
	// messages toward the relay are sealed.
	AdvertiseIntegrity  bool
	AdvertiseEncryption bool
}

// Runtime is one client's protocol state: the state machine, the
// message-id counter, the pending-response table, and the currently
// attached transport (nil while disconnected).
type Runtime struct {
	cfg  Config
	log  *slog.Logger
	cb   Callbacks
	keys *envelope.KeyRing

	machine  *fsm.Machine
	counter  *ids.Counter
	pendings *pendingTable

	mu        sync.Mutex
	sink      FrameSink
	peer      string
	sendQueue [][]byte
}

// New constructs a disconnected Runtime.
func New(cfg Config, log *slog.Logger, cb Callbacks) *Runtime {
	var keys *envelope.KeyRing
	if cfg.SecurityEnabled {
		keys = envelope.NewKeyRing(cfg.SharedSecret)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Runtime{
		cfg:      cfg,
		log:      log,
		cb:       cb,
		keys:     keys,
		machine:  fsm.New(),
		counter:  &ids.Counter{},
		pendings: newPendingTable(),
	}
}

// State returns the current state-machine state.
func (r *Runtime) State() fsm.State { return r.machine.State() }

// Attach binds sink as the active transport and flushes anything queued
// while disconnected, in insertion order (spec §4.8).
func (r *Runtime) Attach(ctx context.Context, sink FrameSink) error {
	r.mu.Lock()
	r.sink = sink
	queued := r.sendQueue
	r.sendQueue = nil
	r.mu.Unlock()

	for _, raw := range queued {
		if err := sink.Send(ctx, raw); err != nil {
			return fmt.Errorf("client: flush queued frame: %w", err)
		}
	}
	return nil
}

// Detach clears the active transport; subsequent sends are queued again.
func (r *Runtime) Detach() {
	r.mu.Lock()
	r.sink = nil
	r.mu.Unlock()
	r.pendings.failAll(errors.New("client: transport disconnected"))
}

// Send builds a message of kind from payload, checks the state machine's
// outbound gate, seals it if security is negotiated, and writes it to the
// active transport or enqueues it if disconnected.
func (r *Runtime) Send(ctx context.Context, kind wire.Kind, payload any) (int64, error) {
	if err := r.machine.CanSend(kind); err != nil {
		return 0, err
	}

	messageID := r.counter.Next()
	msg, err := wire.New(r.cfg.SourceID, messageID, kind, payload)
	if err != nil {
		return 0, fmt.Errorf("client: build message: %w", err)
	}

	if err := r.writeOrQueue(ctx, msg); err != nil {
		return 0, err
	}
	return messageID, nil
}

// SendAwait sends kind/payload and blocks until a correlated response
// arrives, ctx is cancelled, or timeout elapses (0 uses
// DefaultPendingTimeout).
func (r *Runtime) SendAwait(ctx context.Context, kind wire.Kind, payload any, timeout time.Duration) (wire.ResponsePayload, error) {
	if timeout <= 0 {
		timeout = DefaultPendingTimeout
	}

	if err := r.machine.CanSend(kind); err != nil {
		return wire.ResponsePayload{}, err
	}

	messageID := r.counter.Next()
	msg, err := wire.New(r.cfg.SourceID, messageID, kind, payload)
	if err != nil {
		return wire.ResponsePayload{}, fmt.Errorf("client: build message: %w", err)
	}

	waiter := r.pendings.register(messageID, timeout)
	if err := r.writeOrQueue(ctx, msg); err != nil {
		r.pendings.cancel(messageID)
		return wire.ResponsePayload{}, err
	}

	select {
	case result := <-waiter.done:
		return result.payload, result.err
	case <-ctx.Done():
		r.pendings.cancel(messageID)
		return wire.ResponsePayload{}, ctx.Err()
	}
}

func (r *Runtime) writeOrQueue(ctx context.Context, msg wire.Message) error {
	sealed, err := r.sealOutbound(msg)
	if err != nil {
		return fmt.Errorf("client: seal outbound: %w", err)
	}
	raw, err := sealed.Marshal()
	if err != nil {
		return fmt.Errorf("client: marshal outbound: %w", err)
	}

	r.mu.Lock()
	sink := r.sink
	r.mu.Unlock()

	if sink == nil {
		r.mu.Lock()
		r.sendQueue = append(r.sendQueue, raw)
		r.mu.Unlock()
		return nil
	}
	return sink.Send(ctx, raw)
}

func (r *Runtime) sealOutbound(msg wire.Message) (wire.Message, error) {
	if r.keys == nil {
		return msg, nil
	}
	if !r.cfg.AdvertiseIntegrity && !r.cfg.AdvertiseEncryption {
		return msg, nil
	}
	return envelope.Seal(r.keys, msg, r.cfg.AdvertiseEncryption, r.cfg.AdvertiseIntegrity)
}

// RegisterCriteria is a convenience wrapper over Send(register, ...) that
// also advertises this runtime's negotiated security capabilities (spec
// §4.3 "Negotiation").
func (r *Runtime) RegisterCriteria(ctx context.Context, criteria []wire.Criterion) (int64, error) {
	var caps *wire.Capabilities
	if r.cfg.AdvertiseIntegrity || r.cfg.AdvertiseEncryption {
		caps = &wire.Capabilities{Security: &wire.SecurityCapability{
			Integrity:  r.cfg.AdvertiseIntegrity,
			Encryption: r.cfg.AdvertiseEncryption,
		}}
	}
	return r.Send(ctx, wire.KindRegister, wire.RegisterPayload{Criteria: criteria, Capabilities: caps})
}

// HandleInbound parses and demultiplexes one inbound frame (spec §4.8).
func (r *Runtime) HandleInbound(raw []byte) error {
	msg, err := wire.ParseMessage(raw)
	if err != nil {
		return fmt.Errorf("client: parse inbound: %w", err)
	}

	if msg.HasSecurity() && r.keys != nil {
		opened, err := envelope.Open(r.keys, msg)
		if err != nil {
			if r.cb.OnError != nil {
				r.cb.OnError(wire.MessageMalformatted(err.Error()), msg.SourceID)
			}
			return err
		}
		msg = opened
	}

	switch msg.MessageType {
	case wire.KindResponse:
		return r.handleResponse(msg)
	case wire.KindConnect:
		return r.handleConnect(msg)
	case wire.KindAccept:
		return r.handleAccept(msg)
	case wire.KindReject:
		return r.handleReject(msg)
	case wire.KindUpdate:
		return r.handleUpdate(msg)
	case wire.KindClose:
		return r.handleClose(msg)
	case wire.KindApplication:
		return r.handleApplication(msg)
	default:
		if r.cb.OnError != nil {
			r.cb.OnError(wire.MessageUnknown(string(msg.MessageType)), msg.SourceID)
		}
		return fmt.Errorf("client: unknown message_type %q", msg.MessageType)
	}
}

func (r *Runtime) handleResponse(msg wire.Message) error {
	var p wire.ResponsePayload
	if err := msg.DecodePayload(&p); err != nil {
		return fmt.Errorf("client: decode response payload: %w", err)
	}

	if p.Status >= 200 && p.Status < 300 {
		r.pendings.resolve(p.ResponseTo, p, nil)
		return nil
	}

	var problem wire.Problem
	if p.Error != nil {
		problem = *p.Error
	}
	r.pendings.resolve(p.ResponseTo, p, fmt.Errorf("client: request failed: %s", problem.Type))
	return nil
}

func (r *Runtime) handleConnect(msg wire.Message) error {
	var p wire.ConnectPayload
	if err := msg.DecodePayload(&p); err != nil {
		return fmt.Errorf("client: decode connect payload: %w", err)
	}
	r.machine.AcceptIncoming()
	if r.cb.OnConnect != nil {
		r.cb.OnConnect(p.Offer, msg.SourceID)
	}
	return nil
}

func (r *Runtime) handleAccept(msg wire.Message) error {
	var p wire.AcceptPayload
	if err := msg.DecodePayload(&p); err != nil {
		return fmt.Errorf("client: decode accept payload: %w", err)
	}
	if _, err := r.machine.Apply(fsm.EventAccept); err != nil {
		r.log.Info("client.accept.fsm_rejected", "err", err)
	}
	r.mu.Lock()
	r.peer = msg.SourceID
	r.mu.Unlock()
	if r.cb.OnAccept != nil {
		r.cb.OnAccept(p.Answer, msg.SourceID)
	}
	return nil
}

func (r *Runtime) handleReject(msg wire.Message) error {
	var p wire.RejectPayload
	if err := msg.DecodePayload(&p); err != nil {
		return fmt.Errorf("client: decode reject payload: %w", err)
	}
	if _, err := r.machine.Apply(fsm.EventReject); err != nil {
		r.log.Info("client.reject.fsm_rejected", "err", err)
	}
	if r.cb.OnReject != nil {
		r.cb.OnReject(p.Reason, msg.SourceID)
	}
	return nil
}

func (r *Runtime) handleUpdate(msg wire.Message) error {
	var p wire.UpdatePayload
	if err := msg.DecodePayload(&p); err != nil {
		return fmt.Errorf("client: decode update payload: %w", err)
	}
	if _, err := r.machine.Apply(fsm.EventUpdate); err != nil {
		r.log.Info("client.update.fsm_rejected", "err", err)
	}
	if r.cb.OnUpdate != nil {
		r.cb.OnUpdate(p.SDP, msg.SourceID)
	}
	return nil
}

func (r *Runtime) handleClose(msg wire.Message) error {
	var p wire.ClosePayload
	if err := msg.DecodePayload(&p); err != nil {
		return fmt.Errorf("client: decode close payload: %w", err)
	}
	if _, err := r.machine.Apply(fsm.EventClose); err != nil {
		r.log.Info("client.close.fsm_rejected", "err", err)
	}
	r.mu.Lock()
	if r.peer == msg.SourceID {
		r.peer = ""
	}
	r.mu.Unlock()
	if r.cb.OnClose != nil {
		r.cb.OnClose(msg.SourceID)
	}
	// An inbound close is terminal: there is no further handshake step,
	// so closing -> idle happens immediately rather than waiting on a
	// separate local "closed" trigger.
	_, _ = r.machine.Apply(fsm.EventClosed)
	return nil
}

func (r *Runtime) handleApplication(msg wire.Message) error {
	var p wire.ApplicationPayload
	if err := msg.DecodePayload(&p); err != nil {
		return fmt.Errorf("client: decode application payload: %w", err)
	}
	if r.cb.OnApplication != nil {
		r.cb.OnApplication(p.Type, p.Value, msg.SourceID)
	}
	return nil
}
