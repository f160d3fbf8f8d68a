package utils

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

// NewID returns a random identifier for connections.
func NewID() string {
	return uuid.NewString()
}

// NewToken returns n random bytes hex encoded. It falls back to a uuid when
// the system source fails.
func NewToken(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return uuid.NewString()
	}
	return hex.EncodeToString(buf)
}
