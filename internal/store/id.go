package store

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns an 8-character random hex identifier.
// Collisions are caught by the callers' UNIQUE/PRIMARY KEY constraints at
// insert time; 32 bits of randomness is ample for single-host, CLI-scale
// cardinality.
func NewID() string {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand failing means the OS CSPRNG is unavailable; there is
		// no safe fallback that preserves the uniqueness invariant.
		panic("store: crypto/rand unavailable: " + err.Error())
	}
	return hex.EncodeToString(b[:])
}
