package fsm

import (
	"testing"

	"github.com/swap-proto/swap-relay/internal/wire"
)

func TestIdle_OnlyRegisterAndConnectAllowed(t *testing.T) {
	m := New()

	allowed := map[wire.Kind]bool{
		wire.KindRegister:    true,
		wire.KindConnect:     true,
		wire.KindAccept:      false,
		wire.KindReject:      false,
		wire.KindUpdate:      false,
		wire.KindClose:       false,
		wire.KindApplication: false,
		wire.KindResponse:    false,
	}

	for kind, want := range allowed {
		err := m.CanSend(kind)
		if (err == nil) != want {
			t.Fatalf("CanSend(%q) from idle: err=%v, want allowed=%v", kind, err, want)
		}
	}
}

func TestConnected_CloseMovesToClosing_ThenClosedReturnsToIdle(t *testing.T) {
	m := New()
	if _, err := m.Apply(EventConnect); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if _, err := m.Apply(EventAccept); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if got := m.State(); got != Connected {
		t.Fatalf("state=%v want connected", got)
	}

	if _, err := m.Apply(EventClose); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := m.State(); got != Closing {
		t.Fatalf("state=%v want closing", got)
	}

	if err := m.CanSend(wire.KindUpdate); err == nil {
		t.Fatalf("expected update disallowed while closing")
	}
	if err := m.CanSend(wire.KindResponse); err != nil {
		t.Fatalf("expected response allowed while closing: %v", err)
	}

	if _, err := m.Apply(EventClosed); err != nil {
		t.Fatalf("closed: %v", err)
	}
	if got := m.State(); got != Idle {
		t.Fatalf("state=%v want idle", got)
	}
}

func TestInboundConnect_DrivesIdleToConnecting_RegardlessOfOtherState(t *testing.T) {
	m := New()
	if got := m.AcceptIncoming(); got != Connecting {
		t.Fatalf("AcceptIncoming from idle = %v, want connecting", got)
	}

	m2 := New()
	m2.Apply(EventConnect)
	before := m2.State()
	got := m2.AcceptIncoming()
	if got != before {
		t.Fatalf("AcceptIncoming from non-idle state should be a no-op: got=%v before=%v", got, before)
	}
}

func TestDisallowedTransition_ReturnsError(t *testing.T) {
	m := New()
	if _, err := m.Apply(EventAccept); err == nil {
		t.Fatalf("expected error applying accept from idle")
	}
}
