package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"github.com/swap-proto/swap-relay/internal/wire"
)

const (
	encAESGCM = "AES-GCM"
	encNone   = "none"
	macHMAC   = "HMAC-SHA256"
	macNone   = "none"

	ivSize = 12 // 96-bit GCM nonce, per spec §4.3
)

// Seal applies the outbound half of the hop-by-hop envelope to m:
// optionally encrypting the payload with AES-GCM, then optionally signing
// the resulting object with HMAC-SHA256 (spec §4.3 "Encrypt"/"Sign").
// At least one of encryptPayload/sign should be true; calling Seal with
// both false is a no-op that still attaches a {enc:none,mac:none} block.
func Seal(keys *KeyRing, m wire.Message, encryptPayload, sign bool) (wire.Message, error) {
	working := m

	enc := encNone
	mac := macNone
	var ciphertextB64, ivB64 string

	if encryptPayload {
		payload := working.Payload
		if len(payload) == 0 {
			payload = []byte("{}")
		}

		block, err := aes.NewCipher(keys.AESKey(m.SourceID))
		if err != nil {
			return wire.Message{}, fmt.Errorf("envelope: aes cipher: %w", err)
		}
		gcm, err := cipher.NewGCM(block)
		if err != nil {
			return wire.Message{}, fmt.Errorf("envelope: gcm: %w", err)
		}

		iv := make([]byte, ivSize)
		if _, err := io.ReadFull(rand.Reader, iv); err != nil {
			return wire.Message{}, fmt.Errorf("envelope: iv: %w", err)
		}

		ciphertext := gcm.Seal(nil, iv, payload, nil)
		ciphertextB64 = base64.StdEncoding.EncodeToString(ciphertext)
		ivB64 = base64.StdEncoding.EncodeToString(iv)
		enc = encAESGCM

		// Remove plaintext payload fields now that they are sealed.
		working.Payload = []byte("{}")
	}

	if sign {
		mac = macHMAC
	}

	secBytes, err := json.Marshal(securityMap(enc, mac, ciphertextB64, ivB64, "", false))
	if err != nil {
		return wire.Message{}, err
	}
	working.Security = secBytes

	if !sign {
		return working, nil
	}

	// Placeholder: signature present but empty, per spec §4.3.
	placeholder, err := json.Marshal(securityMap(enc, mac, ciphertextB64, ivB64, "", true))
	if err != nil {
		return wire.Message{}, err
	}
	toSign := working
	toSign.Security = placeholder

	tagBytes, err := computeTag(keys, toSign)
	if err != nil {
		return wire.Message{}, err
	}
	signature := base64.StdEncoding.EncodeToString(tagBytes)

	final, err := json.Marshal(securityMap(enc, mac, ciphertextB64, ivB64, signature, true))
	if err != nil {
		return wire.Message{}, err
	}
	working.Security = final

	return working, nil
}

func computeTag(keys *KeyRing, m wire.Message) ([]byte, error) {
	canonical, err := canonicalObject(m)
	if err != nil {
		return nil, err
	}
	tag := hmac.New(sha256.New, keys.HMACKey())
	tag.Write(canonical)
	return tag.Sum(nil), nil
}

func canonicalObject(m wire.Message) ([]byte, error) {
	b, err := m.Marshal()
	if err != nil {
		return nil, err
	}
	return CanonicalizeJSON(b)
}

func securityMap(enc, mac, ciphertextB64, ivB64, signatureB64 string, includeSignature bool) map[string]any {
	sec := map[string]any{"enc": enc, "mac": mac}
	if ciphertextB64 != "" {
		sec["ciphertext"] = ciphertextB64
	}
	if ivB64 != "" {
		sec["iv"] = ivB64
	}
	if includeSignature {
		sec["signature"] = signatureB64
	}
	return sec
}
