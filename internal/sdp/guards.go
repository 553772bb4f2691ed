// Package sdp implements minimal SDP well-formedness guards for
// offer/answer/update bodies (spec §4.9). Callers apply them at their own
// option; the relay core forwards SDP bodies without calling this package.
// The guards do not parse or validate session semantics; they only check a
// handful of structural invariants (spec §4.9).
package sdp

import "strings"

// Reason strings returned by Guard. This package does not import wire, so
// it stays a leaf dependency usable from tests without the rest of the
// protocol stack.
const (
	ReasonMissingMediaLine  = "missing m= line"
	ReasonTrickleDisallowed = "a=ice-options:trickle is not permitted"
	ReasonMissingCandidate  = "missing a=candidate: line"
)

// Guard checks body against the structural requirements of spec §4.9:
//   - at least one "m=" media line
//   - no "a=ice-options:trickle" attribute (trickle ICE is out of scope)
//   - at least one "a=candidate:" line (bundled candidates are required)
//
// It returns the first violated reason, or "" if body passes all guards.
func Guard(body string) string {
	lines := splitLines(body)

	hasMediaLine := false
	hasCandidate := false

	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "m="):
			hasMediaLine = true
		case strings.HasPrefix(line, "a=ice-options:trickle"):
			return ReasonTrickleDisallowed
		case strings.HasPrefix(line, "a=candidate:"):
			hasCandidate = true
		}
	}

	if !hasMediaLine {
		return ReasonMissingMediaLine
	}
	if !hasCandidate {
		return ReasonMissingCandidate
	}
	return ""
}

// Valid reports whether body passes every guard.
func Valid(body string) bool {
	return Guard(body) == ""
}

func splitLines(body string) []string {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	return strings.Split(body, "\n")
}
