package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewToken returns a random 24-character hex string, used for opaque
// session tokens and request ids.
func NewToken() string {
	b := make([]byte, 12)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
