package domain

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint derives a stable, non-reversible key from token material so
// tokens can be correlated without being stored or logged.
func Fingerprint(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		_, _ = h.Write([]byte(p))
		_, _ = h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:32]
}
