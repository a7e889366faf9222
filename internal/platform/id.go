package platform

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

func NewID() string {
	return uuid.New().String()
}

// NewAPIKey returns a raw API key with a recognizable prefix. The raw value
// is shown once; only its hash is stored.
func NewAPIKey() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand: " + err.Error())
	}
	return "rlt_" + hex.EncodeToString(b)
}
