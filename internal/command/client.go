package command

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/creamcroissant/tunneld/internal/logring"
	"github.com/creamcroissant/tunneld/internal/repository"
)

// Client talks to a running daemon over its control socket.
type Client struct {
	http *http.Client
	base string
}

// NewClient dials the unix socket at path.
func NewClient(path string) *Client {
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", path)
		},
	}
	return &Client{
		http: &http.Client{Transport: transport, Timeout: 30 * time.Second},
		base: "http://tunneld",
	}
}

// NewTCPClient connects over TCP with a bearer token.
func NewTCPClient(addr, token string) *Client {
	transport := &authTransport{token: token, inner: http.DefaultTransport}
	return &Client{
		http: &http.Client{Transport: transport, Timeout: 30 * time.Second},
		base: "http://" + addr,
	}
}

type authTransport struct {
	token string
	inner http.RoundTripper
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("Authorization", "Bearer "+t.token)
	return t.inner.RoundTrip(req)
}

func (c *Client) Status(ctx context.Context) (StatusResponse, error) {
	var resp StatusResponse
	if err := c.getJSON(ctx, "/api/v1/status", &resp); err != nil {
		return StatusResponse{}, err
	}
	return resp, nil
}

func (c *Client) Profiles(ctx context.Context) ([]repository.Profile, error) {
	var profiles []repository.Profile
	if err := c.getJSON(ctx, "/api/v1/profiles", &profiles); err != nil {
		return nil, err
	}
	return profiles, nil
}

func (c *Client) Reload(ctx context.Context) error {
	return c.post(ctx, "/api/v1/service/reload", nil)
}

func (c *Client) CloseService(ctx context.Context) error {
	return c.post(ctx, "/api/v1/service/close", nil)
}

func (c *Client) SelectProfile(ctx context.Context, id int64) error {
	return c.post(ctx, "/api/v1/profile/select", selectRequest{ID: id})
}

// Logs streams log entries to fn until the stream ends or ctx is done.
func (c *Client) Logs(ctx context.Context, follow bool, fn func(logring.Entry) error) error {
	url := c.base + "/api/v1/logs"
	if follow {
		url += "?follow=1"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request logs: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var entry logring.Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			return fmt.Errorf("decode log entry: %w", err)
		}
		if err := fn(entry); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func (c *Client) post(ctx context.Context, path string, body any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

func decodeError(resp *http.Response) error {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil && payload.Error != "" {
		return fmt.Errorf("daemon: %s (status %d)", payload.Error, resp.StatusCode)
	}
	return fmt.Errorf("daemon returned status %d", resp.StatusCode)
}
