package hash

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestHashAndCompare(t *testing.T) {
	hasher, err := NewBcryptHasher(bcrypt.MinCost)
	require.NoError(t, err)

	hashed, err := hasher.Hash("secret-token")
	require.NoError(t, err)
	assert.NotEqual(t, "secret-token", hashed)

	assert.NoError(t, hasher.Compare(hashed, "secret-token"))
	assert.ErrorIs(t, hasher.Compare(hashed, "wrong"), ErrMismatch)
}

func TestInvalidCost(t *testing.T) {
	_, err := NewBcryptHasher(99)
	assert.Error(t, err)
}

func TestZeroCostUsesDefault(t *testing.T) {
	hasher, err := NewBcryptHasher(0)
	require.NoError(t, err)

	hashed, err := hasher.Hash("x")
	require.NoError(t, err)
	cost, err := bcrypt.Cost([]byte(hashed))
	require.NoError(t, err)
	assert.Equal(t, bcrypt.DefaultCost, cost)
}
