package relay

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/swap-proto/swap-relay/internal/wire"
)

// fakeTransport records every message sent to it, standing in for a real
// websocket connection in tests.
type fakeTransport struct {
	mu  sync.Mutex
	out []wire.Message
}

func (f *fakeTransport) Send(_ context.Context, msg wire.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = append(f.out, msg)
	return nil
}

func (f *fakeTransport) last() (wire.Message, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.out) == 0 {
		return wire.Message{}, false
	}
	return f.out[len(f.out)-1], true
}

func (f *fakeTransport) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.out)
}

func registerFrame(t *testing.T, sourceID string, messageID int64, criteria ...wire.Criterion) []byte {
	t.Helper()
	msg, err := wire.New(sourceID, messageID, wire.KindRegister, wire.RegisterPayload{Criteria: criteria})
	if err != nil {
		t.Fatalf("build register: %v", err)
	}
	b, err := msg.Marshal()
	if err != nil {
		t.Fatalf("marshal register: %v", err)
	}
	return b
}

func crit(typ, value string) wire.Criterion {
	return wire.Criterion{Type: typ, Value: json.RawMessage(value)}
}

func responsePayload(t *testing.T, msg wire.Message) wire.ResponsePayload {
	t.Helper()
	var p wire.ResponsePayload
	if err := msg.DecodePayload(&p); err != nil {
		t.Fatalf("decode response payload: %v", err)
	}
	return p
}

func TestHappyPath_ConnectAcceptRelay(t *testing.T) {
	core := New(Config{}, nil, nil, nil)
	ctx := context.Background()

	bTransport := &fakeTransport{}
	bReg := registerFrame(t, "responder-0002", 1, crit("service", `"video-call"`))
	out, has := core.HandleFrame(ctx, bTransport, bReg)
	if !has {
		t.Fatalf("expected ack for register")
	}
	if p := responsePayload(t, out); p.Status != 200 {
		t.Fatalf("expected 200 ack, got %+v", p)
	}

	aTransport := &fakeTransport{}
	connectMsg, err := wire.New("caller-0001", 1, wire.KindConnect, wire.ConnectPayload{
		Offer:    "v=0..o",
		Criteria: []wire.Criterion{crit("service", `"video-call"`)},
	})
	if err != nil {
		t.Fatalf("build connect: %v", err)
	}
	connectBytes, _ := connectMsg.Marshal()

	out, has = core.HandleFrame(ctx, aTransport, connectBytes)
	if !has {
		t.Fatalf("expected ack for connect")
	}
	if p := responsePayload(t, out); p.Status != 200 {
		t.Fatalf("expected 200 ack for connect, got %+v", p)
	}

	if bTransport.count() != 1 {
		t.Fatalf("expected B to receive the forwarded connect, got %d messages", bTransport.count())
	}
	forwarded, _ := bTransport.last()
	if forwarded.SourceID != "caller-0001" || forwarded.MessageType != wire.KindConnect {
		t.Fatalf("unexpected forwarded message: %+v", forwarded)
	}
	var connectPayload wire.ConnectPayload
	if err := forwarded.DecodePayload(&connectPayload); err != nil {
		t.Fatalf("decode forwarded connect: %v", err)
	}
	if connectPayload.Offer != "v=0..o" {
		t.Fatalf("offer not preserved: %+v", connectPayload)
	}

	acceptMsg, err := wire.New("responder-0002", 2, wire.KindAccept, wire.AcceptPayload{
		Target: "caller-0001",
		Answer: "v=0..a",
	})
	if err != nil {
		t.Fatalf("build accept: %v", err)
	}
	acceptBytes, _ := acceptMsg.Marshal()

	out, has = core.HandleFrame(ctx, bTransport, acceptBytes)
	if !has {
		t.Fatalf("expected ack for accept")
	}
	if p := responsePayload(t, out); p.Status != 200 {
		t.Fatalf("expected 200 ack for accept, got %+v", p)
	}

	if aTransport.count() != 1 {
		t.Fatalf("expected A to receive the forwarded accept, got %d messages", aTransport.count())
	}
	forwardedAccept, _ := aTransport.last()
	var acceptPayload wire.AcceptPayload
	if err := forwardedAccept.DecodePayload(&acceptPayload); err != nil {
		t.Fatalf("decode forwarded accept: %v", err)
	}
	if acceptPayload.Answer != "v=0..a" {
		t.Fatalf("answer not preserved: %+v", acceptPayload)
	}

	if core.ActiveSessions() != 1 {
		t.Fatalf("expected 1 active session, got %d", core.ActiveSessions())
	}
}

func TestConnect_NoMatchesReturnsTargetUnknown(t *testing.T) {
	core := New(Config{}, nil, nil, nil)
	ctx := context.Background()

	aTransport := &fakeTransport{}
	connectMsg, _ := wire.New("caller-0001", 1, wire.KindConnect, wire.ConnectPayload{
		Offer:    "v=0..o",
		Criteria: []wire.Criterion{crit("service", `"ghost"`)},
	})
	connectBytes, _ := connectMsg.Marshal()

	out, has := core.HandleFrame(ctx, aTransport, connectBytes)
	if !has {
		t.Fatalf("expected a response")
	}
	p := responsePayload(t, out)
	if p.Status != 400 && p.Status != 404 {
		t.Fatalf("expected an error status, got %+v", p)
	}
	if p.Error == nil || p.Error.Type != wire.ProblemTargetUnknown {
		t.Fatalf("expected target_unknown problem, got %+v", p.Error)
	}
}

func TestMalformedJSON_RespondsWithResponseToZero(t *testing.T) {
	core := New(Config{}, nil, nil, nil)
	out, has := core.HandleFrame(context.Background(), &fakeTransport{}, []byte("not json"))
	if !has {
		t.Fatalf("expected a response for malformed input")
	}
	p := responsePayload(t, out)
	if p.ResponseTo != 0 {
		t.Fatalf("expected response_to=0 for unparsable input, got %d", p.ResponseTo)
	}
	if p.Error == nil || p.Error.Type != wire.ProblemMessageMalformatted {
		t.Fatalf("expected message_malformatted, got %+v", p.Error)
	}
}

func TestDisconnect_NotifiesSurvivingPeerAndClearsSession(t *testing.T) {
	core := New(Config{}, nil, nil, nil)
	ctx := context.Background()

	bTransport := &fakeTransport{}
	core.HandleFrame(ctx, bTransport, registerFrame(t, "responder-0002", 1, crit("service", `"video-call"`)))

	aTransport := &fakeTransport{}
	connectMsg, _ := wire.New("caller-0001", 1, wire.KindConnect, wire.ConnectPayload{
		Offer:    "v=0..o",
		Criteria: []wire.Criterion{crit("service", `"video-call"`)},
	})
	connectBytes, _ := connectMsg.Marshal()
	core.HandleFrame(ctx, aTransport, connectBytes)

	acceptMsg, _ := wire.New("responder-0002", 2, wire.KindAccept, wire.AcceptPayload{Target: "caller-0001", Answer: "v=0..a"})
	acceptBytes, _ := acceptMsg.Marshal()
	core.HandleFrame(ctx, bTransport, acceptBytes)

	if core.ActiveSessions() != 1 {
		t.Fatalf("expected 1 active session before disconnect")
	}

	core.Disconnect(ctx, "caller-0001")

	if core.ActiveSessions() != 0 {
		t.Fatalf("expected 0 active sessions after disconnect, got %d", core.ActiveSessions())
	}

	if bTransport.count() != 2 {
		t.Fatalf("expected B to receive the forwarded connect plus a synthesized close, got %d messages", bTransport.count())
	}
	closeMsg, _ := bTransport.last()
	if closeMsg.MessageType != wire.KindClose || closeMsg.SourceID != "caller-0001" {
		t.Fatalf("expected a close authored by caller-0001, got %+v", closeMsg)
	}
}

func TestUnknownKind_RespondsMessageUnknown(t *testing.T) {
	core := New(Config{}, nil, nil, nil)
	raw := []byte(`{"version":1,"source_id":"caller-0001","message_id":1,"message_type":"frobnicate"}`)
	out, has := core.HandleFrame(context.Background(), &fakeTransport{}, raw)
	if !has {
		t.Fatalf("expected a response")
	}
	p := responsePayload(t, out)
	if p.Error == nil {
		t.Fatalf("expected an error problem")
	}
}

func TestConnect_TimesOutAndNotifiesRequestor(t *testing.T) {
	core := New(Config{ConnectTimeout: 20 * time.Millisecond}, nil, nil, nil)
	ctx := context.Background()

	bTransport := &fakeTransport{}
	core.HandleFrame(ctx, bTransport, registerFrame(t, "responder-0002", 1, crit("service", `"video-call"`)))

	aTransport := &fakeTransport{}
	connectMsg, _ := wire.New("caller-0001", 1, wire.KindConnect, wire.ConnectPayload{
		Offer:    "v=0..o",
		Criteria: []wire.Criterion{crit("service", `"video-call"`)},
	})
	connectBytes, _ := connectMsg.Marshal()
	core.HandleFrame(ctx, aTransport, connectBytes)

	deadline := time.Now().Add(time.Second)
	for aTransport.count() < 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if aTransport.count() != 1 {
		t.Fatalf("expected requestor to receive a timeout notification, got %d messages", aTransport.count())
	}
	notice, _ := aTransport.last()
	if notice.MessageType != wire.KindResponse {
		t.Fatalf("expected a response-kind error message, got %+v", notice)
	}
	p := responsePayload(t, notice)
	if p.ResponseTo != 0 {
		t.Fatalf("expected an unsolicited notification (response_to=0), got %d", p.ResponseTo)
	}
	if p.Error == nil || p.Error.Type != wire.ProblemTargetUnknown {
		t.Fatalf("expected target_unknown problem, got %+v", p.Error)
	}
}

func TestAccept_ClearsPendingTimeoutBeforeItFires(t *testing.T) {
	core := New(Config{ConnectTimeout: 20 * time.Millisecond}, nil, nil, nil)
	ctx := context.Background()

	bTransport := &fakeTransport{}
	core.HandleFrame(ctx, bTransport, registerFrame(t, "responder-0002", 1, crit("service", `"video-call"`)))

	aTransport := &fakeTransport{}
	connectMsg, _ := wire.New("caller-0001", 1, wire.KindConnect, wire.ConnectPayload{
		Offer:    "v=0..o",
		Criteria: []wire.Criterion{crit("service", `"video-call"`)},
	})
	connectBytes, _ := connectMsg.Marshal()
	core.HandleFrame(ctx, aTransport, connectBytes)

	acceptMsg, _ := wire.New("responder-0002", 2, wire.KindAccept, wire.AcceptPayload{Target: "caller-0001", Answer: "v=0..a"})
	acceptBytes, _ := acceptMsg.Marshal()
	core.HandleFrame(ctx, bTransport, acceptBytes)

	time.Sleep(40 * time.Millisecond)

	if aTransport.count() != 1 {
		t.Fatalf("expected requestor to receive only the forwarded accept, no timeout notice; got %d messages", aTransport.count())
	}
	forwarded, _ := aTransport.last()
	if forwarded.MessageType != wire.KindAccept {
		t.Fatalf("expected the forwarded accept to be the only message, got %+v", forwarded)
	}
}

func TestReject_ClearsPendingTimeoutBeforeItFires(t *testing.T) {
	core := New(Config{ConnectTimeout: 20 * time.Millisecond}, nil, nil, nil)
	ctx := context.Background()

	bTransport := &fakeTransport{}
	core.HandleFrame(ctx, bTransport, registerFrame(t, "responder-0002", 1, crit("service", `"video-call"`)))

	aTransport := &fakeTransport{}
	connectMsg, _ := wire.New("caller-0001", 1, wire.KindConnect, wire.ConnectPayload{
		Offer:    "v=0..o",
		Criteria: []wire.Criterion{crit("service", `"video-call"`)},
	})
	connectBytes, _ := connectMsg.Marshal()
	core.HandleFrame(ctx, aTransport, connectBytes)

	rejectMsg, _ := wire.New("responder-0002", 2, wire.KindReject, wire.RejectPayload{Target: "caller-0001", Reason: "busy"})
	rejectBytes, _ := rejectMsg.Marshal()
	core.HandleFrame(ctx, bTransport, rejectBytes)

	time.Sleep(40 * time.Millisecond)

	if aTransport.count() != 1 {
		t.Fatalf("expected requestor to receive only the forwarded reject, no timeout notice; got %d messages", aTransport.count())
	}
	forwarded, _ := aTransport.last()
	if forwarded.MessageType != wire.KindReject {
		t.Fatalf("expected the forwarded reject to be the only message, got %+v", forwarded)
	}
}
