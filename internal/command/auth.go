package command

import (
	"context"
	"net/http"
	"strings"

	"github.com/creamcroissant/tunneld/internal/support/hash"
)

// TokenHashSource yields the bcrypt hash of the configured static
// control token, or empty when none is set.
type TokenHashSource interface {
	ControlTokenHash(ctx context.Context) (string, error)
}

// Authenticator guards the TCP control listener. Requests over the
// unix socket never pass through it; socket file permissions are the
// access control there.
type Authenticator struct {
	hashes  TokenHashSource
	hasher  hash.Hasher
	tokens  *TokenManager
	limiter *AuthLimiter
}

func NewAuthenticator(hashes TokenHashSource, hasher hash.Hasher, tokens *TokenManager) *Authenticator {
	return &Authenticator{hashes: hashes, hasher: hasher, tokens: tokens}
}

// WithLimiter caps failed authentication attempts per remote host.
func (a *Authenticator) WithLimiter(limiter *AuthLimiter) *Authenticator {
	a.limiter = limiter
	return a
}

// Middleware rejects requests without a valid bearer token. Both the
// static token and issued session tokens are accepted.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.limiter != nil && !a.limiter.Allow(r.RemoteAddr) {
			writeError(w, http.StatusTooManyRequests, "too many failed attempts")
			return
		}
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if !a.authenticate(r.Context(), token) {
			if a.limiter != nil {
				a.limiter.RecordFailure(r.RemoteAddr)
			}
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *Authenticator) authenticate(ctx context.Context, token string) bool {
	if a.tokens != nil {
		if _, err := a.tokens.Verify(token); err == nil {
			return true
		}
	}
	return a.checkStatic(ctx, token)
}

func (a *Authenticator) checkStatic(ctx context.Context, token string) bool {
	if a.hashes == nil || a.hasher == nil {
		return false
	}
	stored, err := a.hashes.ControlTokenHash(ctx)
	if err != nil || stored == "" {
		return false
	}
	return a.hasher.Compare(stored, token) == nil
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, prefix))
}
