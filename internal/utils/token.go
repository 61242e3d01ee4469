package utils

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// Undo tokens follow the hashed-secret-with-one-time-reveal pattern: a random
// 256-bit secret is returned to the caller exactly once, only its SHA-256 is
// persisted, and verification recomputes the hash over the presented token.

// NewUndoToken returns the plaintext token and its stored hash.
func NewUndoToken() (token string, tokenHash string, err error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return "", "", err
	}
	token = hex.EncodeToString(secret)
	return token, HashUndoToken(token), nil
}

// HashUndoToken returns the hex SHA-256 of a plaintext token.
func HashUndoToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// VerifyUndoToken compares the presented token against the stored hash in
// constant time.
func VerifyUndoToken(token, storedHash string) bool {
	computed := HashUndoToken(token)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(storedHash)) == 1
}
