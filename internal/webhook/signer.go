// Package webhook implements signed outbound webhook delivery with retry and
// dead-letter handling, and inbound webhook verification and dispatch.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Signer produces and verifies HMAC-SHA256 signatures over canonical JSON
// payloads. The same scheme covers both directions.
type Signer struct {
	secret []byte
}

// NewSigner creates a signer from the shared webhook secret.
func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

// Sign returns the signature header value for payload: "sha256=<hex digest>".
func (s *Signer) Sign(payload []byte) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks signature against the recomputed digest in constant time.
func (s *Signer) Verify(payload []byte, signature string) bool {
	expected := s.Sign(payload)
	return hmac.Equal([]byte(expected), []byte(signature))
}
