// Package ids provides SWAP v1 identifier primitives: source ids for
// endpoints and the per-source monotonic message id counters.
package ids

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// minSourceIDLength is the wire invariant from spec §3: source_id and
// target must be at least this many characters.
const minSourceIDLength = 10

// NewSourceID produces "prefix-<hex>", padded if needed to guarantee
// length >= 10 and practical uniqueness (spec §4.1).
func NewSourceID(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "ep"
	}

	id := prefix + "-" + randomHex(16)
	for len(id) < minSourceIDLength {
		id += randomHex(4)
	}
	return id
}

// randomHex returns a cryptographically secure random hex string of
// length 2*nBytes.
func randomHex(nBytes int) string {
	if nBytes <= 0 {
		nBytes = 16
	}
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Errorf("ids: crypto/rand failed: %w", err))
	}
	return hex.EncodeToString(b)
}

// NewSessionKey returns a ULID suitable as a surrogate session identifier
// (in addition to the pair-sorted key spec §3 defines for session lookup).
func NewSessionKey(now time.Time) string {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		// crypto/rand failures here are as exceptional as in randomHex.
		return randomHex(16)
	}
	return id.String()
}
