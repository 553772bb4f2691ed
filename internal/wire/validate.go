package wire

import (
	"encoding/json"
	"fmt"
)

// ValidationResult is the return shape of ValidateShape.
type ValidationResult struct {
	Valid  bool
	Errors []string
}

func ok() ValidationResult { return ValidationResult{Valid: true} }

func fail(errs ...string) ValidationResult {
	return ValidationResult{Valid: false, Errors: errs}
}

// requiredBaseFields lists the envelope fields every message must carry,
// independent of kind.
var requiredBaseFields = []string{"version", "source_id", "message_id", "message_type"}

// ValidateShape is a pure function: no side effects, no network I/O. It
// checks the envelope invariants of spec §3 and the per-kind payload
// requirements of spec §3's table, honoring the two-pass rule of §9: a
// message whose security block has absorbed the payload into ciphertext
// is not required to carry the kind's plaintext fields.
func ValidateShape(m Message) ValidationResult {
	var errs []string

	if m.Version != Version {
		errs = append(errs, fmt.Sprintf("version must be %d", Version))
	}
	if len(m.SourceID) < 10 {
		errs = append(errs, "source_id must be at least 10 characters")
	}
	if m.MessageID <= 0 {
		errs = append(errs, "message_id must be a positive integer")
	}
	if !IsKnownKind(m.MessageType) {
		errs = append(errs, fmt.Sprintf("unknown message_type %q", m.MessageType))
		return fail(errs...)
	}

	if !IsExtensible(m.MessageType) {
		if extra := unknownTopLevelFields(m); len(extra) > 0 {
			errs = append(errs, fmt.Sprintf("unknown fields: %v", extra))
		}
	}

	// Two-pass rule (§9): if the security envelope carries ciphertext, the
	// kind-specific plaintext fields are permitted to be absent.
	securedWithCiphertext := m.HasSecurity() && securityHasCiphertext(m.Security)
	if !securedWithCiphertext {
		errs = append(errs, validatePayload(m)...)
	}

	if len(errs) > 0 {
		return fail(errs...)
	}
	return ok()
}

func securityHasCiphertext(sec Security) bool {
	var s struct {
		Ciphertext string `json:"ciphertext"`
	}
	if err := json.Unmarshal(sec, &s); err != nil {
		return false
	}
	return s.Ciphertext != ""
}

// unknownTopLevelFields returns field names present on the wire that this
// package does not recognize for any kind (base fields, security, and
// every kind's known payload fields are all recognized).
func unknownTopLevelFields(m Message) []string {
	known := map[string]struct{}{
		"version": {}, "source_id": {}, "message_id": {}, "message_type": {}, "security": {},
	}
	for _, f := range payloadFieldNames(m.MessageType) {
		known[f] = struct{}{}
	}

	var extra []string
	for k := range m.RawFields() {
		if _, ok := known[k]; !ok {
			extra = append(extra, k)
		}
	}
	return extra
}

func payloadFieldNames(k Kind) []string {
	switch k {
	case KindRegister:
		return []string{"criteria", "capabilities"}
	case KindResponse:
		return []string{"response_to", "status", "reason", "error"}
	case KindConnect:
		return []string{"offer", "criteria"}
	case KindAccept:
		return []string{"target", "answer"}
	case KindReject:
		return []string{"target", "reason"}
	case KindUpdate:
		return []string{"target", "sdp"}
	case KindClose:
		return []string{"target"}
	case KindApplication:
		return []string{"target", "type", "value"}
	default:
		return nil
	}
}

func validatePayload(m Message) []string {
	var errs []string

	switch m.MessageType {
	case KindRegister:
		var p RegisterPayload
		if err := m.DecodePayload(&p); err != nil {
			return []string{"invalid register payload: " + err.Error()}
		}
		if len(p.Criteria) == 0 {
			errs = append(errs, "criteria is required")
		}
		errs = append(errs, validateCriteria(p.Criteria)...)

	case KindResponse:
		var p ResponsePayload
		if err := m.DecodePayload(&p); err != nil {
			return []string{"invalid response payload: " + err.Error()}
		}
		if p.Status == 0 {
			errs = append(errs, "status is required")
		}

	case KindConnect:
		var p ConnectPayload
		if err := m.DecodePayload(&p); err != nil {
			return []string{"invalid connect payload: " + err.Error()}
		}
		if p.Offer == "" {
			errs = append(errs, "offer is required")
		}
		if len(p.Criteria) == 0 {
			errs = append(errs, "criteria is required")
		}
		errs = append(errs, validateCriteria(p.Criteria)...)

	case KindAccept:
		var p AcceptPayload
		if err := m.DecodePayload(&p); err != nil {
			return []string{"invalid accept payload: " + err.Error()}
		}
		errs = append(errs, validateTarget(p.Target, m.SourceID)...)
		if p.Answer == "" {
			errs = append(errs, "answer is required")
		}

	case KindReject:
		var p RejectPayload
		if err := m.DecodePayload(&p); err != nil {
			return []string{"invalid reject payload: " + err.Error()}
		}
		errs = append(errs, validateTarget(p.Target, m.SourceID)...)
		if p.Reason == "" {
			errs = append(errs, "reason is required")
		}

	case KindUpdate:
		var p UpdatePayload
		if err := m.DecodePayload(&p); err != nil {
			return []string{"invalid update payload: " + err.Error()}
		}
		errs = append(errs, validateTarget(p.Target, m.SourceID)...)
		if p.SDP == "" {
			errs = append(errs, "sdp is required")
		}

	case KindClose:
		var p ClosePayload
		if err := m.DecodePayload(&p); err != nil {
			return []string{"invalid close payload: " + err.Error()}
		}
		errs = append(errs, validateTarget(p.Target, m.SourceID)...)

	case KindApplication:
		var p ApplicationPayload
		if err := m.DecodePayload(&p); err != nil {
			return []string{"invalid application payload: " + err.Error()}
		}
		errs = append(errs, validateTarget(p.Target, m.SourceID)...)
		if p.Type == "" {
			errs = append(errs, "type is required")
		}
	}

	return errs
}

func validateTarget(target, sourceID string) []string {
	var errs []string
	if len(target) < 10 {
		errs = append(errs, "target must be at least 10 characters")
	}
	if target == sourceID {
		errs = append(errs, "target must not equal source_id")
	}
	return errs
}

func validateCriteria(criteria []Criterion) []string {
	var errs []string
	for i, c := range criteria {
		if c.Type == "" {
			errs = append(errs, fmt.Sprintf("criteria[%d].type is required", i))
		}
	}
	return errs
}
