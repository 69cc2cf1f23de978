package authz

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	// bcryptCost 10 is ~60ms per hash, a deliberate MVP balance between
	// request latency and brute-force resistance.
	bcryptCost  = 10
	bcryptLimit = 72

	randomBytesSize = 32
	keyPrefix       = "triagedeck_ak_"
)

var (
	ErrKeyEmpty = errors.New("authz: api key must not be empty")
)

// GenerateAPIKey returns a new random, high-entropy API key string. The
// caller is responsible for persisting only its HashAPIKey output.
func GenerateAPIKey() (string, error) {
	raw := make([]byte, randomBytesSize)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("authz: generate key: %w", err)
	}

	return keyPrefix + hex.EncodeToString(raw), nil
}

// HashAPIKey returns the bcrypt hash to persist for apiKey. Bcrypt caps
// input at 72 bytes, so longer keys are pre-hashed with SHA-256 first.
func HashAPIKey(apiKey string) (string, error) {
	if apiKey == "" {
		return "", ErrKeyEmpty
	}

	hash, err := bcrypt.GenerateFromPassword(prepare(apiKey), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("authz: hash key: %w", err)
	}

	return string(hash), nil
}

// CompareAPIKeyHash reports whether apiKey matches the bcrypt hash
// previously produced by HashAPIKey. Comparison is constant-time via
// bcrypt itself; any malformed input simply fails to match.
func CompareAPIKeyHash(hash, apiKey string) bool {
	if hash == "" || apiKey == "" {
		return false
	}

	return bcrypt.CompareHashAndPassword([]byte(hash), prepare(apiKey)) == nil
}

func prepare(apiKey string) []byte {
	if len(apiKey) <= bcryptLimit {
		return []byte(apiKey)
	}

	sum := sha256.Sum256([]byte(apiKey))

	return sum[:]
}
