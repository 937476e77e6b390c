package client

import (
	"context"

	"github.com/sardanioss/cloakfetch/session"
)

// Session is a persistent cookie scope with its own request defaults.
// Calls made through it use its jar unless CookieModeEphemeral is set.
type Session struct {
	c *Client
	s *session.Session
}

// ID returns the session id.
func (s *Session) ID() string { return s.s.ID() }

// Fetch performs a request in this session. opts.SessionID is ignored.
func (s *Session) Fetch(ctx context.Context, url string, opts *FetchOptions) (*Response, error) {
	return s.c.fetch(ctx, url, opts, s.s)
}

// Get performs a GET request in this session.
func (s *Session) Get(ctx context.Context, url string, opts *FetchOptions) (*Response, error) {
	return s.Fetch(ctx, url, withMethod(opts, "GET", nil))
}

// Post performs a POST request in this session.
func (s *Session) Post(ctx context.Context, url string, body any, opts *FetchOptions) (*Response, error) {
	return s.Fetch(ctx, url, withMethod(opts, "POST", body))
}

// Dial opens a WebSocket whose handshake carries the session cookies.
func (s *Session) Dial(ctx context.Context, url string, opts *DialOptions) (*WebSocket, error) {
	return s.c.dial(ctx, url, opts, s.s)
}

// ClearCookies empties the session jar.
func (s *Session) ClearCookies(ctx context.Context) error {
	return s.s.ClearCookies(ctx)
}

// Stats returns the session statistics.
func (s *Session) Stats() session.Stats { return s.s.Stats() }

// Closed reports whether the session has been closed.
func (s *Session) Closed() bool { return s.s.Closed() }

// Close closes the session after in-flight calls finish. It is idempotent.
func (s *Session) Close() error { return s.s.Close() }
