package security

import (
	"crypto/rand"
	"encoding/base64"
	"strings"
)

// NewCSRFToken returns "<nonce>.<hmac(nonce)>" so the server can tell its own
// tokens apart from attacker-chosen cookie values.
func NewCSRFToken(secret []byte) (string, error) {
	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	n := base64.RawURLEncoding.EncodeToString(nonce)
	return n + "." + SignHMAC([]byte(n), secret), nil
}

func VerifyCSRFToken(token string, secret []byte) bool {
	nonce, sig, ok := strings.Cut(token, ".")
	if !ok || nonce == "" || sig == "" {
		return false
	}
	return VerifyHMACConstantTime(SignHMAC([]byte(nonce), secret), sig)
}
