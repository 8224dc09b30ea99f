package signature

import (
	"strings"
	"testing"
)

func TestSignVerify(t *testing.T) {
	payload := []byte(`{"event":"chat.message","id":"evt-1"}`)
	secret := "test-secret"

	sig := Sign(payload, secret)
	if !strings.HasPrefix(sig, Prefix) {
		t.Errorf("Expected signature to start with %q, got %q", Prefix, sig)
	}

	if !Verify(payload, sig, secret) {
		t.Error("Expected verification to succeed")
	}

	if Verify(payload, sig, "wrong-secret") {
		t.Error("Expected verification to fail with wrong secret")
	}

	if Verify([]byte(`tampered`), sig, secret) {
		t.Error("Expected verification to fail with tampered payload")
	}
}

func TestSignDeterministic(t *testing.T) {
	payload := []byte(`{"a":1}`)
	if Sign(payload, "s") != Sign(payload, "s") {
		t.Error("Expected identical signatures for identical inputs")
	}
}

func TestVerifyRejectsEveryBitFlip(t *testing.T) {
	payload := []byte(`{"event":"tool.executed"}`)
	secret := "secret"
	sig := Sign(payload, secret)

	// Flip one bit of the hex digest at a time; every variant must fail.
	raw := []byte(sig)
	for i := len(Prefix); i < len(raw); i++ {
		for bit := 0; bit < 8; bit++ {
			flipped := make([]byte, len(raw))
			copy(flipped, raw)
			flipped[i] ^= 1 << bit
			if string(flipped) == sig {
				continue
			}
			if Verify(payload, string(flipped), secret) {
				t.Fatalf("Expected verification to fail for flipped byte %d bit %d", i, bit)
			}
		}
	}
}

func TestVerifyEmptySignature(t *testing.T) {
	if Verify([]byte("payload"), "", "secret") {
		t.Error("Expected empty signature to fail verification")
	}
}
