// Package util provides small helpers shared across the server packages.
package util

import (
	"crypto/rand"
	"fmt"
)

// Identifier alphabets. Secrets and pairing tokens use the RFC 4648 base32
// alphabet so they stay typable and base32-decodable for HMAC use; request
// ids swap a few ambiguous letters for digits.
const (
	Base32Alphabet    = "ABCDEFGHIJKLMNOPQRSTUVWXYZ234567"
	RequestIDAlphabet = "ABCDEFGHIJKLMOPRQSTUVWXYZ0123456789"
)

// Identifier lengths are fixed by the protocol: secrets favor brute-force
// resistance, tokens and request ids favor operator typability.
const (
	SecretLen    = 32
	TokenLen     = 8
	RequestIDLen = 5
)

// RandomString draws n symbols from alphabet using crypto/rand.
func RandomString(alphabet string, n int) (string, error) {
	entropy := make([]byte, n)
	if _, err := rand.Read(entropy); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	out := make([]byte, n)
	for i, b := range entropy {
		out[i] = alphabet[int(b)%len(alphabet)]
	}
	return string(out), nil
}

// NewSecret returns a fresh 32-symbol shared TOTP secret.
func NewSecret() (string, error) {
	return RandomString(Base32Alphabet, SecretLen)
}

// NewToken returns a fresh 8-symbol pairing token.
func NewToken() (string, error) {
	return RandomString(Base32Alphabet, TokenLen)
}

// NewRequestID returns a fresh 5-symbol notification request id.
func NewRequestID() (string, error) {
	return RandomString(RequestIDAlphabet, RequestIDLen)
}

// RandomBytes returns n bytes from crypto/rand.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("generating random bytes: %w", err)
	}
	return b, nil
}
