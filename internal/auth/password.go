// Package auth provides salted password hashing for account registration and
// login verification.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters. Changing them invalidates persisted hashes, so they
// are fixed for the lifetime of a data directory.
const (
	saltSize   = 16
	timeCost   = 1
	memoryCost = 64 * 1024
	threads    = 4
	keyLen     = 32
)

// GenerateSalt returns a fresh random salt in hex form.
func GenerateSalt() (string, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	return hex.EncodeToString(salt), nil
}

// HashPassword derives the hex digest of password under salt.
func HashPassword(password, salt string) string {
	digest := argon2.IDKey([]byte(password), []byte(salt), timeCost, memoryCost, threads, keyLen)
	return hex.EncodeToString(digest)
}

// VerifyPassword reports whether password hashes to the expected digest in
// constant time.
func VerifyPassword(password, salt, expected string) bool {
	digest := HashPassword(password, salt)
	return subtle.ConstantTimeCompare([]byte(digest), []byte(expected)) == 1
}
