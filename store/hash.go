// Package store implements the version/delta store: a per-artifact ring
// buffer of recent stream versions keyed by content hash, and a binary
// patch format for shipping the difference between two versions instead
// of a full stream.
package store

import "lukechampine.com/blake3"

// HashSize is the width in bytes of a version record's content hash.
const HashSize = 32

// Hash is a BLAKE3-256 content digest, used both as a version record's
// key and as the base_hash/target_hash fields of a Patch.
type Hash [HashSize]byte

// Sum returns the BLAKE3-256 digest of b.
func Sum(b []byte) Hash {
	var h Hash
	sum := blake3.Sum256(b)
	copy(h[:], sum[:])
	return h
}

func (h Hash) String() string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, 0, HashSize*2)
	for _, b := range h {
		out = append(out, hexDigits[b>>4], hexDigits[b&0x0f])
	}
	return string(out)
}
