package util

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint returns the first 12 hex chars of the SHA-256 of a secret,
// so it can be correlated in logs without being disclosed.
func Fingerprint(secret string) string {
	if secret == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])[:12]
}
