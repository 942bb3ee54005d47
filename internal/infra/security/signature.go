package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// proofSeparator joins order and payment ids in the client proof message.
const proofSeparator = "|"

// Sign returns the hex HMAC-SHA256 of the parts joined by "|".
func Sign(secret string, parts ...string) string {
	return signBytes(secret, []byte(strings.Join(parts, proofSeparator)))
}

func signBytes(secret string, msg []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(msg)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyClientProof checks the checkout signature over "orderID|paymentID".
func VerifyClientProof(orderID, paymentID, signature, secret string) bool {
	if orderID == "" || paymentID == "" {
		return false
	}
	return verify(secret, []byte(orderID+proofSeparator+paymentID), signature)
}

// VerifyWebhookSignature checks the gateway signature over the raw request body.
func VerifyWebhookSignature(rawBody []byte, signature, secret string) bool {
	return verify(secret, rawBody, signature)
}

func verify(secret string, msg []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	expected := signBytes(secret, msg)
	got := strings.ToLower(strings.TrimSpace(signature))
	if len(got) != len(expected) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(got)) == 1
}
