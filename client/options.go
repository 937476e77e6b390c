// Package client options - configuration for the fetch client.
//
// The client uses the functional options pattern. Everything has a default,
// so the smallest client is:
//
//	c, err := client.New(engine)
//
// Or customize with options:
//
//	c, err := client.New(engine,
//	    client.WithTimeout(60*time.Second),
//	    client.WithProfile("firefox-133"),
//	    client.WithMaxSessions(10),
//	)
package client

import (
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sardanioss/cloakfetch/headers"
)

// DefaultTimeout applies when neither the call, the session nor the client
// sets one.
const DefaultTimeout = 30 * time.Second

// Config holds the client-level defaults and session registry settings.
type Config struct {
	// Profile is the fingerprint profile used when a call or session does
	// not name one. Empty leaves the choice to the engine.
	Profile string

	// Timeout is the client default request timeout.
	// Default: 30 seconds.
	Timeout time.Duration

	// Proxy is the default proxy URL (http, https, socks5 or socks5h).
	Proxy string

	// InsecureSkipVerify disables TLS certificate verification by default.
	InsecureSkipVerify bool

	// MaxSessions caps live sessions. Default: 100.
	MaxSessions int

	// SessionIdleTimeout closes sessions idle for longer. Zero disables it.
	SessionIdleTimeout time.Duration

	// RateLimit limits each session to this many calls per second.
	// Zero disables it.
	RateLimit float64
	RateBurst int

	Logger logrus.FieldLogger

	closers []io.Closer
}

// Option configures a Client.
type Option func(*Config)

// WithProfile sets the default fingerprint profile.
func WithProfile(name string) Option {
	return func(c *Config) { c.Profile = name }
}

// WithTimeout sets the default request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// WithProxy sets the default proxy.
func WithProxy(proxyURL string) Option {
	return func(c *Config) { c.Proxy = proxyURL }
}

// WithInsecureSkipVerify disables certificate verification by default.
// Only use for testing.
func WithInsecureSkipVerify() Option {
	return func(c *Config) { c.InsecureSkipVerify = true }
}

// WithMaxSessions caps the number of live sessions.
func WithMaxSessions(n int) Option {
	return func(c *Config) { c.MaxSessions = n }
}

// WithSessionIdleTimeout closes sessions that stay idle longer than d.
func WithSessionIdleTimeout(d time.Duration) Option {
	return func(c *Config) { c.SessionIdleTimeout = d }
}

// WithRateLimit limits each session to limit calls per second.
func WithRateLimit(limit float64, burst int) Option {
	return func(c *Config) {
		c.RateLimit = limit
		c.RateBurst = burst
	}
}

// WithLogger sets the logger used by the client and its sessions.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Config) { c.Logger = l }
}

// WithCloser registers c to be closed by Client.Close after the sessions.
func WithCloser(c io.Closer) Option {
	return func(cfg *Config) { cfg.closers = append(cfg.closers, c) }
}

// WithConfig replaces the whole configuration. Registered closers are kept.
func WithConfig(cfg Config) Option {
	return func(c *Config) {
		closers := c.closers
		*c = cfg
		c.closers = append(closers, cfg.closers...)
	}
}

// CookieMode selects which jar a call uses.
type CookieMode int

const (
	// CookieModeDefault is persistent inside a session and ephemeral
	// outside one.
	CookieModeDefault CookieMode = iota
	// CookieModePersistent uses the session jar. It requires a session.
	CookieModePersistent
	// CookieModeEphemeral uses a fresh jar that is released after the call.
	CookieModeEphemeral
)

func (m CookieMode) String() string {
	switch m {
	case CookieModePersistent:
		return "persistent"
	case CookieModeEphemeral:
		return "ephemeral"
	default:
		return ""
	}
}

// ParseCookieMode parses "persistent", "ephemeral" or "".
func ParseCookieMode(s string) (CookieMode, bool) {
	switch s {
	case "":
		return CookieModeDefault, true
	case "persistent":
		return CookieModePersistent, true
	case "ephemeral":
		return CookieModeEphemeral, true
	default:
		return CookieModeDefault, false
	}
}

// FetchOptions are the per-call settings. The zero value is a plain GET with
// client or session defaults.
type FetchOptions struct {
	// Method defaults to GET.
	Method string

	// Headers is any headers.Source: headers.Pairs, headers.Mapping,
	// headers.Map or *headers.HeaderSet.
	Headers headers.Source

	// Body is nil, string, []byte, io.Reader, url.Values,
	// map[string]string, map[string][]string, Form, JSON or *FormData.
	Body any

	// Auth adds an Authorization header unless the caller already set one.
	Auth Auth

	Proxy   string
	Timeout time.Duration
	Profile string

	// DisableDefaultHeaders sends only the caller's headers.
	DisableDefaultHeaders bool

	// SessionID binds the call to a live session. Session.Fetch sets the
	// session directly.
	SessionID  string
	CookieMode CookieMode

	// FollowRedirects defaults to true.
	FollowRedirects *bool
	// MaxRedirects defaults to 10.
	MaxRedirects int

	InsecureSkipVerify bool
}

// DialOptions are the settings for a WebSocket connection.
type DialOptions struct {
	Headers headers.Source

	Proxy   string
	Timeout time.Duration // handshake timeout
	Profile string

	DisableDefaultHeaders bool

	SessionID  string
	CookieMode CookieMode

	InsecureSkipVerify bool

	// Buffer sizes the event inbox and the Events channel. Default: 64.
	Buffer int

	// When any callback is set, events are delivered to the callbacks and
	// the Events channel stays empty.
	OnMessage func(Message)
	OnError   func(error)
	OnClose   func(code int, reason string)
}

func (o *DialOptions) callbacks() bool {
	return o.OnMessage != nil || o.OnError != nil || o.OnClose != nil
}

// SessionOptions configures NewSession.
type SessionOptions struct {
	// ID is caller-chosen; a UUID is generated when empty.
	ID string

	Profile            string
	Proxy              string
	Timeout            time.Duration
	InsecureSkipVerify bool
}
