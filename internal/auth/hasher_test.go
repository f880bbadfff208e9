package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestHasher_RoundTrip(t *testing.T) {
	hashers := map[string]*Hasher{
		"bcrypt":   NewBcryptHasher(bcrypt.MinCost),
		"argon2id": NewArgon2idHasher(),
	}

	for name, h := range hashers {
		t.Run(name, func(t *testing.T) {
			hash, err := h.Hash("correct horse")
			require.NoError(t, err)
			assert.NotContains(t, hash, "correct horse")

			ok, err := h.Verify(hash, "correct horse")
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = h.Verify(hash, "wrong horse")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestHasher_Salted(t *testing.T) {
	h := NewArgon2idHasher()
	a, err := h.Hash("same")
	require.NoError(t, err)
	b, err := h.Hash("same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestHasher_VerifiesEitherFormat(t *testing.T) {
	legacy, err := bcrypt.GenerateFromPassword([]byte("secret123"), bcrypt.MinCost)
	require.NoError(t, err)

	h := NewArgon2idHasher()
	ok, err := h.Verify(string(legacy), "secret123")
	require.NoError(t, err)
	assert.True(t, ok, "argon2id hasher still accepts bcrypt hashes")

	argonHash, err := h.Hash("secret123")
	require.NoError(t, err)
	ok, err = NewBcryptHasher(bcrypt.MinCost).Verify(argonHash, "secret123")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHasher_BcryptCost(t *testing.T) {
	hash, err := NewBcryptHasher(bcrypt.MinCost).Hash("pw")
	require.NoError(t, err)

	cost, err := bcrypt.Cost([]byte(hash))
	require.NoError(t, err)
	assert.Equal(t, bcrypt.MinCost, cost)
}

func TestHasher_UnknownFormat(t *testing.T) {
	h := NewBcryptHasher(bcrypt.MinCost)

	for _, bad := range []string{"", "plaintext", "$argon2id$v=19$broken", "$argon2id$v=18$m=1,t=1,p=1$AAAA$AAAA"} {
		ok, err := h.Verify(bad, "pw")
		assert.ErrorIs(t, err, ErrUnknownHashFormat, "hash %q", bad)
		assert.False(t, ok)
	}
}

func TestHasher_Argon2idEncoding(t *testing.T) {
	hash, err := NewArgon2idHasher().Hash("pw")
	require.NoError(t, err)

	parts := strings.Split(hash, "$")
	require.Len(t, parts, 6)
	assert.Equal(t, "argon2id", parts[1])
	assert.Equal(t, "v=19", parts[2])
	assert.Equal(t, "m=65536,t=3,p=4", parts[3])
}
