// Package sha256 digests snapshot bodies. The hex digest becomes part
// of the blob key, so two fetches of identical content collapse onto
// one stored object.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher is the SHA-256 watch.Hasher.
type Hasher struct{}

// New returns a Hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the lowercase hex SHA-256 digest of data.
func (Hasher) Hash(data []byte) (string, error) {
	d := sha256.New()
	_, _ = d.Write(data) // hash.Hash writes never fail
	return hex.EncodeToString(d.Sum(nil)), nil
}
