package command

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndVerify(t *testing.T) {
	tokens, err := NewTokenManager([]byte("unit-test-secret"), "tunneld", time.Minute)
	require.NoError(t, err)

	signed, claims, err := tokens.Issue()
	require.NoError(t, err)
	assert.NotEmpty(t, signed)
	assert.NotEmpty(t, claims.SessionID)

	verified, err := tokens.Verify(signed)
	require.NoError(t, err)
	assert.Equal(t, claims.SessionID, verified.SessionID)
}

func TestVerifyRejectsExpired(t *testing.T) {
	tokens, err := NewTokenManager([]byte("unit-test-secret"), "tunneld", time.Minute)
	require.NoError(t, err)

	tokens.ttl = -time.Minute
	signed, _, err := tokens.Issue()
	require.NoError(t, err)

	_, err = tokens.Verify(signed)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	a, err := NewTokenManager([]byte("key-a"), "tunneld", time.Minute)
	require.NoError(t, err)
	b, err := NewTokenManager([]byte("key-b"), "tunneld", time.Minute)
	require.NoError(t, err)

	signed, _, err := a.Issue()
	require.NoError(t, err)

	_, err = b.Verify(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsGarbage(t *testing.T) {
	tokens, err := NewTokenManager([]byte("unit-test-secret"), "tunneld", time.Minute)
	require.NoError(t, err)

	_, err = tokens.Verify("not.a.jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestEmptyKeyRejected(t *testing.T) {
	_, err := NewTokenManager(nil, "tunneld", time.Minute)
	assert.Error(t, err)
}
