package security

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/bcrypt"
)

// serviceKeyPrefix is the prefix used for generated service keys.
const serviceKeyPrefix = "crl_"

// prefixLength is how many leading characters are stored for lookup.
const prefixLength = 12

// GenerateServiceKey creates a new random service key and its lookup prefix.
func GenerateServiceKey() (token, prefix string, err error) {
	secret := make([]byte, 32)
	if _, err = io.ReadFull(rand.Reader, secret); err != nil {
		return "", "", fmt.Errorf("generate service key: %w", err)
	}
	token = serviceKeyPrefix + hex.EncodeToString(secret)
	return token, token[:prefixLength], nil
}

// KeyPrefix returns the lookup prefix of a presented key, or "" when the key
// is too short to be valid.
func KeyPrefix(token string) string {
	if len(token) < prefixLength {
		return ""
	}
	return token[:prefixLength]
}

// HashKey returns the bcrypt hash of a service key.
func HashKey(token string) (string, error) {
	hash, errHash := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if errHash != nil {
		return "", fmt.Errorf("hash service key: %w", errHash)
	}
	return string(hash), nil
}

// VerifyKey reports whether a presented key matches the stored hash.
func VerifyKey(hash, token string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)) == nil
}

// MaskKey obscures a key for logging purposes, showing only the first and last few characters.
func MaskKey(token string) string {
	if len(token) > 8 {
		return token[:4] + "..." + token[len(token)-4:]
	} else if len(token) > 4 {
		return token[:2] + "..." + token[len(token)-2:]
	} else if len(token) > 2 {
		return token[:1] + "..." + token[len(token)-1:]
	}
	return token
}
