// Package envelope implements the SWAP v1 hop-by-hop security envelope:
// HMAC-SHA256 integrity and AES-GCM confidentiality over the wire
// message, with a canonical serialization used as the signing input.
package envelope

import (
	"crypto/sha256"
	"sync"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// pbkdf2Iterations and aesKeyLen follow spec §4.3's key derivation rule.
	pbkdf2Iterations = 100_000
	aesKeyLen        = 32 // 256 bits

	saltPrefix = "swap-v1:"
)

// KeyRing derives and caches the AES-GCM key (per source_id, via PBKDF2)
// and the HMAC key (the shared secret's raw bytes, shared across source
// ids) for a single shared secret. Keys are derived lazily on first use,
// per spec §4.3.
type KeyRing struct {
	secret []byte

	mu      sync.Mutex
	aesKeys map[string][]byte
}

// NewKeyRing constructs a KeyRing over a shared secret string.
func NewKeyRing(sharedSecret string) *KeyRing {
	return &KeyRing{
		secret:  []byte(sharedSecret),
		aesKeys: make(map[string][]byte),
	}
}

// HMACKey returns the raw UTF-8 bytes of the shared secret, imported as
// an HMAC-SHA256 key (spec §4.3: "the raw UTF-8 bytes ... imported as an
// HMAC key").
func (k *KeyRing) HMACKey() []byte {
	return k.secret
}

// AESKey derives (or returns the cached) AES-256-GCM key for sourceID via
// PBKDF2-SHA256 with salt "swap-v1:"+sourceID and 100,000 iterations.
func (k *KeyRing) AESKey(sourceID string) []byte {
	k.mu.Lock()
	defer k.mu.Unlock()

	if key, ok := k.aesKeys[sourceID]; ok {
		return key
	}

	salt := []byte(saltPrefix + sourceID)
	key := pbkdf2.Key(k.secret, salt, pbkdf2Iterations, aesKeyLen, sha256.New)
	k.aesKeys[sourceID] = key
	return key
}
