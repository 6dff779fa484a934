package bluesky

import (
	"context"
	"errors"
	"fmt"
)

// Session is an authenticated PDS session.
type Session struct {
	AccessJwt  string `json:"accessJwt"`
	RefreshJwt string `json:"refreshJwt"`
	DID        string `json:"did"`
	Handle     string `json:"handle"`
}

// ErrNoCredentials is returned when login is attempted without a username or password.
var ErrNoCredentials = errors.New("bluesky username and password are required")

// Login creates a new session, retrying a bounded number of times with a fixed delay.
func (c *Client) Login(ctx context.Context) error {
	_, err := c.login(ctx)
	return err
}

func (c *Client) login(ctx context.Context) (*Session, error) {
	if c.cfg.Username == "" || c.cfg.Password == "" {
		return nil, ErrNoCredentials
	}

	body := map[string]string{"identifier": c.cfg.Username, "password": c.cfg.Password}
	var lastErr error
	for attempt := 1; attempt <= c.cfg.LoginAttempts; attempt++ {
		var sess Session
		err := c.call(ctx, c.cfg.PDSURL, "com.atproto.server.createSession", nil, body, "", &sess)
		if err == nil {
			c.mu.Lock()
			c.session = &sess
			c.mu.Unlock()
			c.logger.Info("logged in", "handle", sess.Handle, "did", sess.DID)
			return &sess, nil
		}
		lastErr = err
		c.logger.Warn("login failed", "attempt", attempt, "max_attempts", c.cfg.LoginAttempts, "error", err)

		if attempt == c.cfg.LoginAttempts {
			break
		}
		if err := c.sleep(ctx, c.cfg.LoginDelay); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("login failed after %d attempts: %w", c.cfg.LoginAttempts, lastErr)
}

// Session returns the current session, or nil before login.
func (c *Client) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	s := *c.session
	return &s
}

func (c *Client) ensureSession(ctx context.Context) (*Session, error) {
	if s := c.Session(); s != nil {
		return s, nil
	}
	return c.login(ctx)
}

// renewSession replaces stale with a refreshed session, falling back to a full login.
func (c *Client) renewSession(ctx context.Context, stale *Session) error {
	c.mu.Lock()
	if c.session != nil && c.session.AccessJwt != stale.AccessJwt {
		// Another caller already renewed it.
		c.mu.Unlock()
		return nil
	}
	c.session = nil
	c.mu.Unlock()

	if stale.RefreshJwt != "" {
		var sess Session
		err := c.call(ctx, c.cfg.PDSURL, "com.atproto.server.refreshSession", nil, struct{}{}, stale.RefreshJwt, &sess)
		if err == nil {
			c.mu.Lock()
			c.session = &sess
			c.mu.Unlock()
			return nil
		}
		c.logger.Warn("session refresh failed, logging in again", "error", err)
	}
	_, err := c.login(ctx)
	return err
}
