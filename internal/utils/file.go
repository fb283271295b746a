package utils

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint returns the hex encoded SHA-256 digest of data.
func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
