package security

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint hashes the parts of a request so a replayed idempotency key can
// be checked against the payload it was first used with. Parts are
// length-prefixed so ("ab","c") and ("a","bc") differ.
func Fingerprint(parts ...[]byte) string {
	h := sha256.New()
	var size [8]byte
	for _, p := range parts {
		n := uint64(len(p))
		for i := range size {
			size[i] = byte(n >> (8 * i))
		}
		h.Write(size[:])
		h.Write(p)
	}
	return hex.EncodeToString(h.Sum(nil))
}
