// Package types holds small, dependency-free value types shared across the
// storage and ledger layers (content hashes, raw blobs) so that packages on
// both sides of an interface boundary agree on a single representation.
package types

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hash256Size is the size in bytes of a Hash256.
const Hash256Size = 32

// Hash256 is a 256-bit content hash, typically SHA-256 over serialized data.
type Hash256 [Hash256Size]byte

// Blob is a raw, serialized payload addressed by a Hash256.
type Blob []byte

// Hash256FromData computes the SHA-256 content hash of data.
func Hash256FromData(data []byte) Hash256 {
	return Hash256(sha256.Sum256(data))
}

// Hash256FromBytes builds a Hash256 from a byte slice, zero-padding or
// truncating to Hash256Size as needed.
func Hash256FromBytes(b []byte) Hash256 {
	var h Hash256
	copy(h[:], b)
	return h
}

// Hash256FromHex parses a hex-encoded Hash256.
func Hash256FromHex(s string) (Hash256, error) {
	var h Hash256
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, err
	}
	copy(h[:], b)
	return h, nil
}

// IsZero returns true if the hash is all zeros.
func (h Hash256) IsZero() bool {
	for _, b := range h {
		if b != 0 {
			return false
		}
	}
	return true
}

// Bytes returns the hash as a byte slice.
func (h Hash256) Bytes() []byte {
	out := make([]byte, Hash256Size)
	copy(out, h[:])
	return out
}

// String returns the lowercase hex representation of the hash.
func (h Hash256) String() string {
	return hex.EncodeToString(h[:])
}
