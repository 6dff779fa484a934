// Package bluesky is a minimal XRPC client for the AT Protocol endpoints the bot uses.
package bluesky

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Config configures the client.
type Config struct {
	Username  string
	Password  string
	PDSURL    string // authenticated endpoint, e.g. https://bsky.social
	PublicURL string // unauthenticated AppView, e.g. https://public.api.bsky.app
	Timeout   time.Duration

	LoginAttempts int
	LoginDelay    time.Duration
	ReplyAttempts int
	ReplyDelay    time.Duration
}

// XRPCError is a non-2xx XRPC response.
type XRPCError struct {
	StatusCode int
	Name       string `json:"error"`
	Message    string `json:"message"`
	RetryAfter time.Duration
}

func (e *XRPCError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("xrpc %d %s: %s", e.StatusCode, e.Name, e.Message)
	}
	return fmt.Sprintf("xrpc %d", e.StatusCode)
}

// IsAuthError reports whether err means the session must be re-established.
func IsAuthError(err error) bool {
	var xe *XRPCError
	if !errors.As(err, &xe) {
		return false
	}
	return xe.StatusCode == http.StatusUnauthorized || xe.Name == "ExpiredToken" || xe.Name == "InvalidToken"
}

// Client talks to a PDS and a public AppView.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger

	mu      sync.Mutex
	session *Session

	// sleep waits between retries; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient creates a client. It does not log in until the first authenticated call.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.PDSURL == "" {
		cfg.PDSURL = "https://bsky.social"
	}
	if cfg.PublicURL == "" {
		cfg.PublicURL = "https://public.api.bsky.app"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.LoginAttempts <= 0 {
		cfg.LoginAttempts = 3
	}
	if cfg.LoginDelay == 0 {
		cfg.LoginDelay = 5 * time.Second
	}
	if cfg.ReplyAttempts <= 0 {
		cfg.ReplyAttempts = 3
	}
	if cfg.ReplyDelay == 0 {
		cfg.ReplyDelay = 5 * time.Second
	}
	cfg.PDSURL = strings.TrimRight(cfg.PDSURL, "/")
	cfg.PublicURL = strings.TrimRight(cfg.PublicURL, "/")

	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
		sleep:  sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// call performs one XRPC request against base. A nil body sends a GET.
func (c *Client) call(ctx context.Context, base, nsid string, query url.Values, body any, token string, out any) error {
	endpoint := base + "/xrpc/" + nsid
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	method := http.MethodGet
	var reader io.Reader
	if body != nil {
		method = http.MethodPost
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s body: %w", nsid, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", nsid, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		xe := &XRPCError{StatusCode: resp.StatusCode}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		json.Unmarshal(data, xe)
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if sec, err := strconv.Atoi(ra); err == nil {
				xe.RetryAfter = time.Duration(sec) * time.Second
			}
		}
		return fmt.Errorf("%s: %w", nsid, xe)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", nsid, err)
	}
	return nil
}

// authed performs an authenticated call on the PDS. An auth failure triggers
// one session refresh (or fresh login) and a single repeat of the call.
func (c *Client) authed(ctx context.Context, nsid string, query url.Values, body any, out any) error {
	for attempt := 0; ; attempt++ {
		sess, err := c.ensureSession(ctx)
		if err != nil {
			return err
		}
		err = c.call(ctx, c.cfg.PDSURL, nsid, query, body, sess.AccessJwt, out)
		if err == nil || !IsAuthError(err) || attempt >= 1 {
			return err
		}
		c.logger.Info("session expired, re-authenticating", "nsid", nsid)
		if err := c.renewSession(ctx, sess); err != nil {
			return err
		}
	}
}
