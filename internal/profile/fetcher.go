package profile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	gocache "github.com/patrickmn/go-cache"
)

// ErrNotModified reports that the remote document has not changed
// since the last fetch.
var ErrNotModified = errors.New("remote profile not modified")

const maxRemoteBody = 8 << 20

// FetchConfig controls remote fetch retry behaviour.
type FetchConfig struct {
	Timeout         time.Duration
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	CacheTTL        time.Duration
}

func DefaultFetchConfig() FetchConfig {
	return FetchConfig{
		Timeout:         30 * time.Second,
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		CacheTTL:        10 * time.Minute,
	}
}

// Fetcher downloads remote profile documents, remembering ETags so
// unchanged documents are not re-downloaded.
type Fetcher struct {
	client *http.Client
	cfg    FetchConfig
	etags  *gocache.Cache
}

func NewFetcher(cfg FetchConfig) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 500 * time.Millisecond
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 5 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 10 * time.Minute
	}
	return &Fetcher{
		client: &http.Client{Timeout: cfg.Timeout},
		cfg:    cfg,
		etags:  gocache.New(cfg.CacheTTL, cfg.CacheTTL),
	}
}

// Fetch downloads the document at url. It returns ErrNotModified when
// the server reports the cached ETag is still current.
func (f *Fetcher) Fetch(ctx context.Context, url string) (string, error) {
	var body string
	op := func() error {
		content, err := f.fetchOnce(ctx, url)
		if err != nil {
			if errors.Is(err, ErrNotModified) || errors.Is(err, context.Canceled) {
				return backoff.Permanent(err)
			}
			return err
		}
		body = content
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = f.cfg.InitialInterval
	bo.MaxInterval = f.cfg.MaxInterval
	bo.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(f.cfg.MaxRetries)), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return "", err
	}
	return body, nil
}

func (f *Fetcher) fetchOnce(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	if etag, ok := f.etags.Get(url); ok {
		req.Header.Set("If-None-Match", etag.(string))
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		return "", ErrNotModified
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("fetch %s: unexpected status %d", url, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoteBody))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if etag := resp.Header.Get("ETag"); etag != "" {
		f.etags.Set(url, etag, gocache.DefaultExpiration)
	}
	return string(data), nil
}
