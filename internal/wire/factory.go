package wire

import (
	"encoding/json"
	"fmt"
)

// New builds a Message from a kind and a typed payload, the way a caller
// constructs a typed message before validation and send.
func New(sourceID string, messageID int64, kind Kind, payload any) (Message, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("wire: marshal payload: %w", err)
	}

	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(payloadBytes, &raw); err != nil {
		return Message{}, fmt.Errorf("wire: payload must encode to a JSON object: %w", err)
	}

	versionBytes, _ := json.Marshal(Version)
	sourceBytes, _ := json.Marshal(sourceID)
	idBytes, _ := json.Marshal(messageID)
	typeBytes, _ := json.Marshal(string(kind))
	raw["version"] = versionBytes
	raw["source_id"] = sourceBytes
	raw["message_id"] = idBytes
	raw["message_type"] = typeBytes

	return messageFromRaw(raw)
}

// NewError builds an unsolicited or correlated error response. responseTo
// is 0 when no request existed (spec §3), matching an incoming message_id
// otherwise.
func NewError(sourceID string, messageID int64, responseTo int64, problem Problem) (Message, error) {
	return New(sourceID, messageID, KindResponse, ResponsePayload{
		ResponseTo: responseTo,
		Status:     problem.Status,
		Reason:     problem.Title,
		Error:      &problem,
	})
}

// NewAck builds a successful (2xx) response correlated to responseTo.
func NewAck(sourceID string, messageID int64, responseTo int64, status int) (Message, error) {
	return New(sourceID, messageID, KindResponse, ResponsePayload{
		ResponseTo: responseTo,
		Status:     status,
		Reason:     "ok",
	})
}

// ErrUnknownKind is returned by BuildTyped for a message_type this package
// does not recognize (spec §4.1: "fails with message_unknown").
type ErrUnknownKind struct{ Kind Kind }

func (e ErrUnknownKind) Error() string {
	return fmt.Sprintf("wire: unknown message kind %q", e.Kind)
}

// Typed is the sum of all possible decoded payload shapes, returned by
// BuildTyped so callers can type-switch without re-decoding.
type Typed struct {
	Register    *RegisterPayload
	Response    *ResponsePayload
	Connect     *ConnectPayload
	Accept      *AcceptPayload
	Reject      *RejectPayload
	Update      *UpdatePayload
	Close       *ClosePayload
	Application *ApplicationPayload
}

// BuildTyped switches on m.MessageType and decodes the matching payload.
// An unrecognized kind fails with ErrUnknownKind, per spec §4.1.
func BuildTyped(m Message) (Typed, error) {
	var t Typed
	switch m.MessageType {
	case KindRegister:
		var p RegisterPayload
		if err := m.DecodePayload(&p); err != nil {
			return t, err
		}
		t.Register = &p
	case KindResponse:
		var p ResponsePayload
		if err := m.DecodePayload(&p); err != nil {
			return t, err
		}
		t.Response = &p
	case KindConnect:
		var p ConnectPayload
		if err := m.DecodePayload(&p); err != nil {
			return t, err
		}
		t.Connect = &p
	case KindAccept:
		var p AcceptPayload
		if err := m.DecodePayload(&p); err != nil {
			return t, err
		}
		t.Accept = &p
	case KindReject:
		var p RejectPayload
		if err := m.DecodePayload(&p); err != nil {
			return t, err
		}
		t.Reject = &p
	case KindUpdate:
		var p UpdatePayload
		if err := m.DecodePayload(&p); err != nil {
			return t, err
		}
		t.Update = &p
	case KindClose:
		var p ClosePayload
		if err := m.DecodePayload(&p); err != nil {
			return t, err
		}
		t.Close = &p
	case KindApplication:
		var p ApplicationPayload
		if err := m.DecodePayload(&p); err != nil {
			return t, err
		}
		t.Application = &p
	default:
		return t, ErrUnknownKind{Kind: m.MessageType}
	}
	return t, nil
}
