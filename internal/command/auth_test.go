package command

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/creamcroissant/tunneld/internal/support/hash"
)

type staticHashSource struct {
	hash string
}

func (s staticHashSource) ControlTokenHash(context.Context) (string, error) { return s.hash, nil }

func authProbe(t *testing.T, auth *Authenticator, token string) int {
	t.Helper()
	handler := auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec.Code
}

func TestStaticTokenAccepted(t *testing.T) {
	hasher, err := hash.NewBcryptHasher(bcrypt.MinCost)
	require.NoError(t, err)
	hashed, err := hasher.Hash("s3cret")
	require.NoError(t, err)

	auth := NewAuthenticator(staticHashSource{hash: hashed}, hasher, nil)

	assert.Equal(t, http.StatusOK, authProbe(t, auth, "s3cret"))
	assert.Equal(t, http.StatusUnauthorized, authProbe(t, auth, "wrong"))
	assert.Equal(t, http.StatusUnauthorized, authProbe(t, auth, ""))
}

func TestSessionTokenAccepted(t *testing.T) {
	tokens, err := NewTokenManager([]byte("unit-test-secret"), "tunneld", time.Minute)
	require.NoError(t, err)
	signed, _, err := tokens.Issue()
	require.NoError(t, err)

	auth := NewAuthenticator(nil, nil, tokens)

	assert.Equal(t, http.StatusOK, authProbe(t, auth, signed))
	assert.Equal(t, http.StatusUnauthorized, authProbe(t, auth, "bogus"))
}

func TestNoCredentialSourcesRejectsEverything(t *testing.T) {
	auth := NewAuthenticator(nil, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, authProbe(t, auth, "anything"))
}

func TestLimiterBlocksAfterRepeatedFailures(t *testing.T) {
	hasher, err := hash.NewBcryptHasher(bcrypt.MinCost)
	require.NoError(t, err)
	hashed, err := hasher.Hash("s3cret")
	require.NoError(t, err)

	auth := NewAuthenticator(staticHashSource{hash: hashed}, hasher, nil).
		WithLimiter(NewAuthLimiter(3, time.Minute))

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusUnauthorized, authProbe(t, auth, "wrong"))
	}
	assert.Equal(t, http.StatusTooManyRequests, authProbe(t, auth, "wrong"))
	// Valid credentials no longer help once the host is blocked.
	assert.Equal(t, http.StatusTooManyRequests, authProbe(t, auth, "s3cret"))
}

func TestLimiterTracksHostsSeparately(t *testing.T) {
	limiter := NewAuthLimiter(2, time.Minute)

	limiter.RecordFailure("10.0.0.1:40000")
	limiter.RecordFailure("10.0.0.1:40001")
	assert.False(t, limiter.Allow("10.0.0.1:40002"))
	assert.True(t, limiter.Allow("10.0.0.2:40000"))
}
