// Package token generates and hashes public-access bearer tokens.
package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Length is the hex-encoded size of every public token.
const Length = 64

// New returns a fresh 256-bit token encoded as a 64-character hex string.
func New() string {
	bytes := make([]byte, 32)
	_, _ = rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

// Hash returns the hex SHA-256 digest stored in place of the raw token.
// Only the hash ever touches the database, so a leaked backup cannot be
// replayed against live links.
func Hash(value string) string {
	sum := sha256.Sum256([]byte(value))
	return fmt.Sprintf("%x", sum)
}

// Valid reports whether value has the shape of an issued token.
func Valid(value string) bool {
	if len(value) != Length {
		return false
	}
	_, err := hex.DecodeString(value)
	return err == nil
}
