// Package auth holds the token helpers shared by the admin middleware and
// the per-submission upload tokens.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// HashToken is the stored form of an upload token; tokens never persist in
// the clear.
func HashToken(tok string) string {
	sum := sha256.Sum256([]byte(tok))
	return hex.EncodeToString(sum[:])
}

// TokenEqual compares presented and expected tokens in constant time.
// Hashing first fixes the comparison length, so neither content nor length
// leaks through timing.
func TokenEqual(got, want string) bool {
	g := sha256.Sum256([]byte(got))
	w := sha256.Sum256([]byte(want))
	return subtle.ConstantTimeCompare(g[:], w[:]) == 1
}
