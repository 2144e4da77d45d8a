package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestHasher_HashAndVerify(t *testing.T) {
	h := NewHasher(bcrypt.MinCost)

	hash, err := h.Hash("Abcdef1!")
	require.NoError(t, err)
	assert.NotEqual(t, "Abcdef1!", hash)

	assert.True(t, h.Verify("Abcdef1!", hash))
	assert.False(t, h.Verify("Abcdef1?", hash))
	assert.False(t, h.Verify("Abcdef1!", "not-a-hash"))
}

func TestHasher_SaltsEveryHash(t *testing.T) {
	h := NewHasher(bcrypt.MinCost)

	first, err := h.Hash("Secret12")
	require.NoError(t, err)
	second, err := h.Hash("Secret12")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.True(t, h.Verify("Secret12", first))
	assert.True(t, h.Verify("Secret12", second))
}

func TestNewHasher_ClampsCost(t *testing.T) {
	assert.Equal(t, bcrypt.DefaultCost, NewHasher(0).Cost)
	assert.Equal(t, bcrypt.MinCost, NewHasher(1).Cost)
	assert.Equal(t, bcrypt.MaxCost, NewHasher(99).Cost)
}
