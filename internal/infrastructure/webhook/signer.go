// Package webhook delivers intervention directives to tenant HTTP endpoints
// with signing, retry with backoff and terminal outcome events.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Header names sent with every delivery.
const (
	HeaderSignature  = "X-Signature"
	HeaderEventType  = "X-Event-Type"
	HeaderDeliveryID = "X-Delivery-Id"
	HeaderAttempt    = "X-Delivery-Attempt"

	signaturePrefix = "sha256="
)

// Sign returns the X-Signature value for body: "sha256=" + hex HMAC-SHA256.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature header in constant time. Receivers use it; the
// tests use it to check what the dispatcher sent.
func Verify(secret string, body []byte, header string) bool {
	if !strings.HasPrefix(header, signaturePrefix) {
		return false
	}
	got, err := hex.DecodeString(strings.TrimPrefix(header, signaturePrefix))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}
