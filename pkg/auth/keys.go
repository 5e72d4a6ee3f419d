// Package auth authenticates requests with scoped API keys and service
// tokens, and carries the authenticated principal through the request
// context. Only SHA-256 digests of key secrets are ever stored.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// SecretPrefix marks covenant API key secrets so they are recognisable in
// config files and secret scanners.
const SecretPrefix = "cov_"

const secretBytes = 32

// GenerateSecret mints a new API key secret and its storable digest. The
// secret is shown to the caller exactly once.
func GenerateSecret() (secret, digest string, err error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("generate key material: %w", err)
	}
	secret = SecretPrefix + hex.EncodeToString(buf)
	return secret, DigestSecret(secret), nil
}

// DigestSecret returns the hex SHA-256 digest stored and compared against.
func DigestSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// ValidSecretFormat reports whether s looks like a covenant key secret.
// It is a cheap pre-check before the store lookup, not a security measure.
func ValidSecretFormat(s string) bool {
	if !strings.HasPrefix(s, SecretPrefix) {
		return false
	}
	body := strings.TrimPrefix(s, SecretPrefix)
	if len(body) != secretBytes*2 {
		return false
	}
	_, err := hex.DecodeString(body)
	return err == nil
}
