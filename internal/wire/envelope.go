// Package wire defines the SWAP v1 wire contract: the shared message
// envelope, per-kind payloads, and shape validation.
//
// This package is intentionally stable and dependency-light. It is shared
// between the relay and the client runtime to keep the wire protocol
// authoritative in one place.
package wire

import (
	"encoding/json"
)

// Version is the only protocol version this package speaks.
const Version = 1

// Kind names the eight SWAP v1 message kinds.
type Kind string

const (
	KindRegister    Kind = "register"
	KindResponse    Kind = "response"
	KindConnect     Kind = "connect"
	KindAccept      Kind = "accept"
	KindReject      Kind = "reject"
	KindUpdate      Kind = "update"
	KindClose       Kind = "close"
	KindApplication Kind = "application"
)

var allowedKinds = map[Kind]struct{}{
	KindRegister:    {},
	KindResponse:    {},
	KindConnect:     {},
	KindAccept:      {},
	KindReject:      {},
	KindUpdate:      {},
	KindClose:       {},
	KindApplication: {},
}

// extensibleKinds carries kinds whose top-level fields may be extended by
// callers without failing shape validation (spec §4.2).
var extensibleKinds = map[Kind]struct{}{
	KindResponse:    {},
	KindApplication: {},
}

// Security carries the hop-by-hop envelope described in §4.3. It is a raw
// JSON blob at this layer; the envelope package owns its shape.
type Security = json.RawMessage

// Message is the canonical in-memory representation of a SWAP frame: the
// shared envelope fields plus an opaque payload bag. Kind-specific field
// access goes through the typed *Payload structs (RegisterPayload, ...)
// via Message.Payload.
type Message struct {
	Version     int             `json:"version"`
	SourceID    string          `json:"source_id"`
	MessageID   int64           `json:"message_id"`
	MessageType Kind            `json:"message_type"`
	Security    Security        `json:"security,omitempty"`
	Payload     json.RawMessage `json:"-"`

	// raw holds every top-level field, including unrecognized ones, as
	// decoded from the wire. validate.go walks this to catch unknown
	// fields.
	raw map[string]json.RawMessage
}

// ParseMessage decodes bytes into a Message without validating shape.
// Unparsable bytes return an error the caller should turn into a
// message_malformatted response with response_to=0 (spec §7).
func ParseMessage(data []byte) (Message, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Message{}, err
	}
	return messageFromRaw(raw)
}

func messageFromRaw(raw map[string]json.RawMessage) (Message, error) {
	m := Message{raw: raw}

	if v, ok := raw["version"]; ok {
		_ = json.Unmarshal(v, &m.Version)
	}
	if v, ok := raw["source_id"]; ok {
		_ = json.Unmarshal(v, &m.SourceID)
	}
	if v, ok := raw["message_id"]; ok {
		_ = json.Unmarshal(v, &m.MessageID)
	}
	if v, ok := raw["message_type"]; ok {
		var s string
		_ = json.Unmarshal(v, &s)
		m.MessageType = Kind(s)
	}
	if v, ok := raw["security"]; ok {
		m.Security = v
	}

	payload := make(map[string]json.RawMessage, len(raw))
	for k, v := range raw {
		switch k {
		case "version", "source_id", "message_id", "message_type", "security":
			continue
		default:
			payload[k] = v
		}
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	m.Payload = payloadBytes
	return m, nil
}

// RawFields returns the top-level field set as decoded from the wire,
// including fields not known to this package. Used by shape validation
// to reject unexpected fields on non-extensible kinds.
func (m Message) RawFields() map[string]json.RawMessage {
	return m.raw
}

// HasSecurity reports whether the message carries a (possibly empty)
// security envelope.
func (m Message) HasSecurity() bool {
	return len(m.Security) > 0 && string(m.Security) != "null"
}

// Marshal serializes the message back to wire JSON, merging base fields,
// payload fields, and the security block (if any) into one object.
func (m Message) Marshal() ([]byte, error) {
	out := map[string]json.RawMessage{}

	var payload map[string]json.RawMessage
	if len(m.Payload) > 0 {
		if err := json.Unmarshal(m.Payload, &payload); err != nil {
			return nil, err
		}
	}
	for k, v := range payload {
		out[k] = v
	}

	versionBytes, _ := json.Marshal(m.Version)
	out["version"] = versionBytes
	sourceBytes, _ := json.Marshal(m.SourceID)
	out["source_id"] = sourceBytes
	idBytes, _ := json.Marshal(m.MessageID)
	out["message_id"] = idBytes
	typeBytes, _ := json.Marshal(string(m.MessageType))
	out["message_type"] = typeBytes

	if m.HasSecurity() {
		out["security"] = m.Security
	}

	return json.Marshal(out)
}

// DecodePayload unmarshals the message's payload bag into v.
func (m Message) DecodePayload(v any) error {
	if len(m.Payload) == 0 {
		return json.Unmarshal([]byte("{}"), v)
	}
	return json.Unmarshal(m.Payload, v)
}

// IsKnownKind reports whether k is one of the eight SWAP v1 kinds.
func IsKnownKind(k Kind) bool {
	_, ok := allowedKinds[k]
	return ok
}

// IsExtensible reports whether unknown top-level fields are tolerated for
// kind k (response and application, per spec §4.2).
func IsExtensible(k Kind) bool {
	_, ok := extensibleKinds[k]
	return ok
}
