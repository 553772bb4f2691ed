package envelope

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/swap-proto/swap-relay/internal/wire"
)

func buildConnect(t *testing.T) wire.Message {
	t.Helper()
	m, err := wire.New("requestor-0001", 1, wire.KindConnect, wire.ConnectPayload{
		Offer:    "v=0..o",
		Criteria: []wire.Criterion{{Type: "service", Value: json.RawMessage(`"video-call"`)}},
	})
	if err != nil {
		t.Fatalf("wire.New: %v", err)
	}
	return m
}

func TestSeal_EncryptThenDecrypt_RoundTrip(t *testing.T) {
	keys := NewKeyRing("s")
	m := buildConnect(t)

	sealed, err := Seal(keys, m, true, true)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if !sealed.HasSecurity() {
		t.Fatalf("expected security block")
	}

	opened, err := Open(keys, sealed)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	var p wire.ConnectPayload
	if err := opened.DecodePayload(&p); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if p.Offer != "v=0..o" {
		t.Fatalf("offer mismatch after round trip: %q", p.Offer)
	}
}

func TestOpen_EncryptOnly_NoSignature_Succeeds(t *testing.T) {
	keys := NewKeyRing("s")
	m := buildConnect(t)

	sealed, err := Seal(keys, m, true, false)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	var sec securityBlock
	if err := json.Unmarshal(sealed.Security, &sec); err != nil {
		t.Fatalf("unmarshal security: %v", err)
	}
	if sec.Mac != "none" {
		t.Fatalf("expected no mac on an encrypt-only block, got %q", sec.Mac)
	}

	opened, err := Open(keys, sealed)
	if err != nil {
		t.Fatalf("Open should succeed for an encrypt-only message without running Verify: %v", err)
	}

	var p wire.ConnectPayload
	if err := opened.DecodePayload(&p); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if p.Offer != "v=0..o" {
		t.Fatalf("offer mismatch after encrypt-only open: %q", p.Offer)
	}
}

func TestOpen_SignedMessage_VerifiesAndFailsOnTamper(t *testing.T) {
	keys := NewKeyRing("s")
	sealed, err := Seal(keys, buildConnect(t), true, true)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	tampered := flipCiphertextByte(t, sealed)
	if _, err := Open(keys, tampered); err == nil {
		t.Fatalf("expected Open to reject a tampered signed message")
	}
}

func TestSeal_WireLayout(t *testing.T) {
	keys := NewKeyRing("s")
	sealed, err := Seal(keys, buildConnect(t), true, true)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	var sec securityBlock
	if err := json.Unmarshal(sealed.Security, &sec); err != nil {
		t.Fatalf("unmarshal security: %v", err)
	}
	if sec.Enc != "AES-GCM" || sec.Mac != "HMAC-SHA256" {
		t.Fatalf("unexpected alg fields: %+v", sec)
	}
	if sec.Ciphertext == "" || sec.IV == "" || sec.Signature == "" {
		t.Fatalf("expected nonempty ciphertext/iv/signature: %+v", sec)
	}
}

func TestVerify_TamperedSignatureFails(t *testing.T) {
	keys := NewKeyRing("s")
	sealed, err := Seal(keys, buildConnect(t), true, true)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	tampered := flipCiphertextByte(t, sealed)
	if err := Verify(keys, tampered); err == nil {
		t.Fatalf("expected verify failure after tamper")
	}
}

func TestVerify_WrongKeyFails(t *testing.T) {
	sealed, err := Seal(NewKeyRing("s"), buildConnect(t), true, true)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if err := Verify(NewKeyRing("not-s"), sealed); err == nil {
		t.Fatalf("expected verify failure with mismatched key")
	}
}

func TestDecrypt_WrongKeyFails(t *testing.T) {
	sealed, err := Seal(NewKeyRing("s"), buildConnect(t), true, false)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := Decrypt(NewKeyRing("not-s"), sealed); err == nil {
		t.Fatalf("expected decrypt failure with mismatched key")
	}
}

func TestSeal_SignOnly_NoEncryption(t *testing.T) {
	keys := NewKeyRing("s")
	sealed, err := Seal(keys, buildConnect(t), false, true)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	var sec securityBlock
	if err := json.Unmarshal(sealed.Security, &sec); err != nil {
		t.Fatalf("unmarshal security: %v", err)
	}
	if sec.Enc != "none" {
		t.Fatalf("expected enc=none, got %q", sec.Enc)
	}
	if err := Verify(keys, sealed); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	var p wire.ConnectPayload
	if err := sealed.DecodePayload(&p); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if p.Offer != "v=0..o" {
		t.Fatalf("plaintext payload should survive sign-only seal, got %q", p.Offer)
	}
}

func flipCiphertextByte(t *testing.T, m wire.Message) wire.Message {
	t.Helper()
	var sec securityBlock
	if err := json.Unmarshal(m.Security, &sec); err != nil {
		t.Fatalf("unmarshal security: %v", err)
	}

	raw := []byte(sec.Ciphertext)
	idx := strings.IndexFunc(string(raw), func(r rune) bool { return r != '=' })
	if idx < 0 {
		idx = 0
	}
	b := []byte(sec.Ciphertext)
	b[idx] ^= 0x01
	sec.Ciphertext = string(b)

	out, err := json.Marshal(sec)
	if err != nil {
		t.Fatalf("marshal tampered security: %v", err)
	}
	tampered := m
	tampered.Security = out
	return tampered
}
