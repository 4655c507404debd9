// Package sha256 derives locator identity hashes.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher implements digest.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the lowercase hex digest of data.
func (h *Hasher) Hash(data []byte) (string, error) {
	return Identity(string(data)), nil
}

// Identity is the identity hash of a locator: hex SHA-256 of its bytes.
// Every dedup call site must go through this function.
func Identity(locator string) string {
	sum := sha256.Sum256([]byte(locator))
	return hex.EncodeToString(sum[:])
}
