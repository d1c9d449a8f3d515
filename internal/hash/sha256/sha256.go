// Package sha256 names archived pages by content digest.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// Hasher implements crawler.Hasher with hex-encoded SHA-256 digests.
type Hasher struct{}

// New returns a Hasher.
func New() Hasher {
	return Hasher{}
}

// Hash returns the hex digest of data. Empty input is rejected since an empty
// page body never deserves an archive key.
func (Hasher) Hash(data []byte) (string, error) {
	if len(data) == 0 {
		return "", errors.New("hash empty payload")
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
