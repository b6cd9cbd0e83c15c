package command

import (
	"net"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// AuthLimiter throttles repeated failed bearer authentications per
// remote address. The unix socket path never goes through it.
type AuthLimiter struct {
	buckets *gocache.Cache
	limit   int
	window  time.Duration
}

// NewAuthLimiter allows up to limit failures per remote host within
// window. Zero or negative values fall back to 10 failures per minute.
func NewAuthLimiter(limit int, window time.Duration) *AuthLimiter {
	if limit <= 0 {
		limit = 10
	}
	if window <= 0 {
		window = time.Minute
	}
	return &AuthLimiter{
		buckets: gocache.New(window, 2*window),
		limit:   limit,
		window:  window,
	}
}

// Allow reports whether the remote host is still under its failure
// budget. Hosts at the limit stay blocked until the window expires.
func (l *AuthLimiter) Allow(remoteAddr string) bool {
	count, found := l.buckets.Get(limiterKey(remoteAddr))
	return !found || count.(int64) < int64(l.limit)
}

// RecordFailure counts one failed authentication against the remote
// host.
func (l *AuthLimiter) RecordFailure(remoteAddr string) {
	key := limiterKey(remoteAddr)
	if _, err := l.buckets.IncrementInt64(key, 1); err != nil {
		l.buckets.Set(key, int64(1), l.window)
	}
}

func limiterKey(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
