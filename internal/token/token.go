// Package token generates the opaque per-target tracking tokens.
package token

import (
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// Length is the length of every generated token.
const Length = 32

// Generate returns a new random token: a version 4 UUID drawn from
// crypto/rand, hex encoded without separators.
func Generate() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(id[:]), nil
}

// Valid reports whether s has the shape of a generated token. It says
// nothing about whether the token exists.
func Valid(s string) bool {
	if len(s) != Length {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
