// Package signature computes and verifies the HMAC-SHA256 signatures carried
// on outbound webhook deliveries.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Prefix is prepended to the hex digest in signature headers.
const Prefix = "sha256="

// Sign generates the HMAC-SHA256 signature for a canonical payload.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return Prefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches the payload under the given
// secret. The comparison is constant-time; a failed verification is a normal
// false return, never an error.
func Verify(payload []byte, signature, secret string) bool {
	expected := Sign(payload, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}
