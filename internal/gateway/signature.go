package gateway

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
)

// VerifySignature checks a webhook body against the provider signature
// header: hex-encoded HMAC-SHA512 of the raw body under the shared secret.
// The comparison is constant-time. An empty secret rejects everything;
// webhook ingestion must be explicitly configured.
func VerifySignature(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
