package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSHA256HasherRoundTrip(t *testing.T) {
	h := SHA256Hasher{}
	digest, salt, err := h.Hash("correct horse")
	require.NoError(t, err)
	assert.Len(t, digest, 64)
	assert.Len(t, salt, 32)

	assert.True(t, h.Verify("correct horse", digest, salt))
	assert.False(t, h.Verify("wrong horse", digest, salt))
	assert.False(t, h.Verify("correct horse", digest, "00000000000000000000000000000000"))
}

func TestSHA256HasherSaltsDiffer(t *testing.T) {
	h := SHA256Hasher{}
	d1, s1, err := h.Hash("pw")
	require.NoError(t, err)
	d2, s2, err := h.Hash("pw")
	require.NoError(t, err)
	assert.NotEqual(t, s1, s2)
	assert.NotEqual(t, d1, d2)
}

func TestHashersNormalizeUnicode(t *testing.T) {
	// U+00E9 composed vs e plus U+0301 combining acute.
	composed := "caf\u00e9"
	decomposed := "cafe\u0301"
	for _, h := range []PasswordHasher{SHA256Hasher{}, Argon2idHasher{Params: testArgonParams()}} {
		digest, salt, err := h.Hash(composed)
		require.NoError(t, err)
		assert.True(t, h.Verify(decomposed, digest, salt))
	}
}

func TestArgon2idHasherRoundTrip(t *testing.T) {
	h := Argon2idHasher{Params: testArgonParams()}
	digest, salt, err := h.Hash("pw")
	require.NoError(t, err)
	assert.True(t, h.Verify("pw", digest, salt))
	assert.False(t, h.Verify("other", digest, salt))
}

func TestHasherByName(t *testing.T) {
	assert.IsType(t, Argon2idHasher{}, HasherByName("argon2id"))
	assert.IsType(t, SHA256Hasher{}, HasherByName("sha256"))
	assert.IsType(t, SHA256Hasher{}, HasherByName(""))
}

// testArgonParams keeps the memory-hard derivation cheap in tests.
func testArgonParams() Argon2idParams {
	return Argon2idParams{Time: 1, MemoryKiB: 1024, Parallelism: 1, KeyLen: 32}
}
