package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/swap-proto/swap-relay/internal/wire"
)

// Errors returned by Open. The relay core maps these to a
// message_malformatted response (spec §7 "Envelope" failures).
var (
	ErrNoSecurity        = errors.New("envelope: no security block present")
	ErrIncoherentBlock   = errors.New("envelope: security block claims an algorithm it does not populate")
	ErrNotSigned         = errors.New("envelope: message is not signed")
	ErrSignatureMismatch = errors.New("envelope: signature verification failed")
	ErrUnsupportedEnc    = errors.New("envelope: unsupported encryption algorithm")
	ErrDecryptFailed     = errors.New("envelope: decryption failed")
)

type securityBlock struct {
	Enc        string `json:"enc"`
	Mac        string `json:"mac"`
	Ciphertext string `json:"ciphertext"`
	IV         string `json:"iv"`
	Signature  string `json:"signature"`
}

func parseSecurity(m wire.Message) (securityBlock, error) {
	var sec securityBlock
	if !m.HasSecurity() {
		return sec, ErrNoSecurity
	}
	if err := json.Unmarshal(m.Security, &sec); err != nil {
		return sec, fmt.Errorf("envelope: invalid security block: %w", err)
	}

	// Invariant (spec §3): never claims an algorithm it does not
	// populate, and never carries ciphertext without iv.
	if sec.Enc == encAESGCM && (sec.Ciphertext == "" || sec.IV == "") {
		return sec, ErrIncoherentBlock
	}
	if sec.Ciphertext != "" && sec.IV == "" {
		return sec, ErrIncoherentBlock
	}
	if sec.Mac == macHMAC && sec.Signature == "" {
		return sec, ErrIncoherentBlock
	}
	return sec, nil
}

// Verify recomputes the HMAC over the canonical form of m (with the
// signature replaced by the same empty placeholder Seal signs over) and
// compares it in constant time against the carried signature (spec §4.3
// "Verify").
func Verify(keys *KeyRing, m wire.Message) error {
	sec, err := parseSecurity(m)
	if err != nil {
		return err
	}
	if sec.Mac != macHMAC {
		return ErrNotSigned
	}

	placeholder, err := json.Marshal(securityMap(sec.Enc, sec.Mac, sec.Ciphertext, sec.IV, "", true))
	if err != nil {
		return err
	}
	unsigned := m
	unsigned.Security = placeholder

	expected, err := computeTag(keys, unsigned)
	if err != nil {
		return err
	}

	got, err := base64.StdEncoding.DecodeString(sec.Signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureMismatch, err)
	}
	if !hmac.Equal(got, expected) {
		return ErrSignatureMismatch
	}
	return nil
}

// Decrypt reverses Seal's encryption step: if security.ciphertext and
// security.iv are present and enc=AES-GCM, it decrypts and returns a copy
// of m with the payload restored (spec §4.3 "Decrypt").
func Decrypt(keys *KeyRing, m wire.Message) (wire.Message, error) {
	sec, err := parseSecurity(m)
	if err != nil {
		if errors.Is(err, ErrNoSecurity) {
			return m, nil
		}
		return wire.Message{}, err
	}

	if sec.Ciphertext == "" || sec.IV == "" {
		// Nothing encrypted; payload (if any) is already plaintext.
		return m, nil
	}
	if sec.Enc != encAESGCM {
		return wire.Message{}, ErrUnsupportedEnc
	}

	ciphertext, err := base64.StdEncoding.DecodeString(sec.Ciphertext)
	if err != nil {
		return wire.Message{}, fmt.Errorf("%w: bad ciphertext encoding: %v", ErrDecryptFailed, err)
	}
	iv, err := base64.StdEncoding.DecodeString(sec.IV)
	if err != nil {
		return wire.Message{}, fmt.Errorf("%w: bad iv encoding: %v", ErrDecryptFailed, err)
	}

	block, err := aes.NewCipher(keys.AESKey(m.SourceID))
	if err != nil {
		return wire.Message{}, fmt.Errorf("envelope: aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return wire.Message{}, fmt.Errorf("envelope: gcm: %w", err)
	}

	plaintext, err := gcm.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return wire.Message{}, fmt.Errorf("%w: %v", ErrDecryptFailed, err)
	}

	working := m
	working.Payload = plaintext
	return working, nil
}

// Open runs Verify then Decrypt, the combined unpack step the relay
// performs on every inbound secured message (spec §4.7). Integrity and
// encryption are independently negotiable (spec §3/§4.3
// SecurityCapability{Integrity, Encryption}), so whether Verify runs is
// decided by the message's own security block, not by a caller flag: a
// block carrying mac="HMAC-SHA256" is verified, an encrypt-only block
// (no mac) goes straight to Decrypt.
func Open(keys *KeyRing, m wire.Message) (wire.Message, error) {
	if !m.HasSecurity() {
		return m, nil
	}

	sec, err := parseSecurity(m)
	if err != nil {
		return wire.Message{}, err
	}

	if sec.Mac == macHMAC {
		if err := Verify(keys, m); err != nil {
			return wire.Message{}, err
		}
	}

	return Decrypt(keys, m)
}
