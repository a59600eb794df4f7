package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/text/unicode/norm"

	"github.com/mpetrov/twofad/internal/util"
)

const saltLen = 16

// PasswordHasher derives and verifies salted password digests. Both the
// digest and the salt are stored hex-encoded.
type PasswordHasher interface {
	Hash(password string) (digest, salt string, err error)
	Verify(password, digest, salt string) bool
}

// normalize puts the password into NFC so visually identical input
// composed differently verifies against the same digest.
func normalize(password string) string {
	return norm.NFC.String(password)
}

func newSalt() (string, error) {
	raw, err := util.RandomBytes(saltLen)
	if err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}
	return hex.EncodeToString(raw), nil
}

// SHA256Hasher computes hex(sha256(password || salt)) over the hex form
// of the salt.
type SHA256Hasher struct{}

func (SHA256Hasher) Hash(password string) (string, string, error) {
	salt, err := newSalt()
	if err != nil {
		return "", "", err
	}
	return sha256Digest(normalize(password), salt), salt, nil
}

func (SHA256Hasher) Verify(password, digest, salt string) bool {
	computed := sha256Digest(normalize(password), salt)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(digest)) == 1
}

func sha256Digest(password, salt string) string {
	sum := sha256.Sum256([]byte(password + salt))
	return hex.EncodeToString(sum[:])
}

// Argon2idParams tunes the memory-hard derivation.
type Argon2idParams struct {
	Time        uint32
	MemoryKiB   uint32
	Parallelism uint8
	KeyLen      uint32
}

func DefaultArgon2idParams() Argon2idParams {
	return Argon2idParams{
		Time:        1,
		MemoryKiB:   64 * 1024,
		Parallelism: 4,
		KeyLen:      32,
	}
}

// Argon2idHasher derives digests with argon2id. Zero-value params fall
// back to DefaultArgon2idParams.
type Argon2idHasher struct {
	Params Argon2idParams
}

func (h Argon2idHasher) params() Argon2idParams {
	if h.Params == (Argon2idParams{}) {
		return DefaultArgon2idParams()
	}
	return h.Params
}

func (h Argon2idHasher) Hash(password string) (string, string, error) {
	salt, err := newSalt()
	if err != nil {
		return "", "", err
	}
	return h.derive(normalize(password), salt), salt, nil
}

func (h Argon2idHasher) Verify(password, digest, salt string) bool {
	computed := h.derive(normalize(password), salt)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(digest)) == 1
}

func (h Argon2idHasher) derive(password, salt string) string {
	p := h.params()
	key := argon2.IDKey([]byte(password), []byte(salt), p.Time, p.MemoryKiB, p.Parallelism, p.KeyLen)
	return hex.EncodeToString(key)
}

// HasherByName maps a config value to a hasher. Unknown names fall back
// to sha256.
func HasherByName(name string) PasswordHasher {
	switch name {
	case "argon2id":
		return Argon2idHasher{}
	default:
		return SHA256Hasher{}
	}
}
