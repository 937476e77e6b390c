// Package client is the caller-facing fetch API: request normalization,
// sessions, buffered responses, cancellation and WebSockets on top of a
// protocol.Engine.
package client

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sardanioss/cloakfetch/protocol"
	"github.com/sardanioss/cloakfetch/session"
)

// Client issues requests through one engine. It is safe for concurrent use.
type Client struct {
	engine   protocol.Engine
	catalog  *ProfileCatalog
	norm     *Normalizer
	sessions *session.Registry
	bridge   *bridge
	log      logrus.FieldLogger
	config   Config
}

// New creates a client on top of engine.
func New(engine protocol.Engine, opts ...Option) (*Client, error) {
	cfg := Config{Timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		cfg.Logger = l
	}
	log := cfg.Logger.WithField("component", "client")

	catalog := NewProfileCatalog(engine)
	if err := catalog.Validate("client.new", cfg.Profile); err != nil {
		return nil, err
	}
	defaults := session.Defaults{
		Profile:            cfg.Profile,
		Proxy:              cfg.Proxy,
		Timeout:            cfg.Timeout,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}
	norm := NewNormalizer(catalog, defaults)
	if err := norm.resolve("client.new", &protocol.RequestDescriptor{}, defaults, nil); err != nil {
		return nil, err
	}

	regOpts := []session.Option{
		session.WithLogger(cfg.Logger),
		session.WithMaxSessions(cfg.MaxSessions),
	}
	if cfg.SessionIdleTimeout > 0 {
		regOpts = append(regOpts, session.WithIdleTimeout(cfg.SessionIdleTimeout))
	}
	if cfg.RateLimit > 0 {
		regOpts = append(regOpts, session.WithRateLimit(cfg.RateLimit, cfg.RateBurst))
	}

	return &Client{
		engine:   engine,
		catalog:  catalog,
		norm:     norm,
		sessions: session.NewRegistry(engine, regOpts...),
		bridge:   &bridge{engine: engine, log: log},
		log:      log,
		config:   cfg,
	}, nil
}

// Config returns the client configuration.
func (c *Client) Config() Config { return c.config }

// Profiles returns the profile names the engine supports, sorted.
func (c *Client) Profiles() []string { return c.catalog.Names() }

// Catalog returns the profile catalog.
func (c *Client) Catalog() *ProfileCatalog { return c.catalog }

// Fetch performs one request. opts may be nil.
func (c *Client) Fetch(ctx context.Context, url string, opts *FetchOptions) (*Response, error) {
	sess, err := c.sessionFor(opts)
	if err != nil {
		return nil, err
	}
	return c.fetch(ctx, url, opts, sess)
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, url string, opts *FetchOptions) (*Response, error) {
	return c.Fetch(ctx, url, withMethod(opts, "GET", nil))
}

// Post performs a POST request with body.
func (c *Client) Post(ctx context.Context, url string, body any, opts *FetchOptions) (*Response, error) {
	return c.Fetch(ctx, url, withMethod(opts, "POST", body))
}

func (c *Client) fetch(ctx context.Context, url string, opts *FetchOptions, sess *session.Session) (*Response, error) {
	d, mode, err := c.norm.Normalize(url, opts, sess)
	if err != nil {
		return nil, err
	}
	if err := checkOpen("fetch", sess); err != nil {
		return nil, err
	}
	return c.bridge.fetch(ctx, d, jarScope{sess: sess, mode: mode})
}

func (c *Client) sessionFor(opts *FetchOptions) (*session.Session, error) {
	if opts == nil || opts.SessionID == "" {
		return nil, nil
	}
	return c.sessions.Lookup(opts.SessionID)
}

// checkOpen rejects calls on a closed session, ephemeral ones included.
func checkOpen(op string, sess *session.Session) error {
	if sess != nil && sess.Closed() {
		return protocol.Errorf(protocol.KindSessionClosed, op, "session %s is closed", sess.ID())
	}
	return nil
}

func withMethod(opts *FetchOptions, method string, body any) *FetchOptions {
	o := FetchOptions{}
	if opts != nil {
		o = *opts
	}
	o.Method = method
	if body != nil {
		o.Body = body
	}
	return &o
}

// NewSession creates a session with its own cookie jar.
func (c *Client) NewSession(opts SessionOptions) (*Session, error) {
	const op = "session.create"

	defaults := session.Defaults{
		Profile:            opts.Profile,
		Proxy:              opts.Proxy,
		Timeout:            opts.Timeout,
		InsecureSkipVerify: opts.InsecureSkipVerify,
	}
	if err := c.norm.resolve(op, &protocol.RequestDescriptor{}, defaults, nil); err != nil {
		return nil, err
	}
	s, err := c.sessions.Create(session.Options{ID: opts.ID, Defaults: defaults})
	if err != nil {
		return nil, err
	}
	return &Session{c: c, s: s}, nil
}

// Session returns the live session with the given id.
func (c *Client) Session(id string) (*Session, error) {
	s, err := c.sessions.Lookup(id)
	if err != nil {
		return nil, err
	}
	return &Session{c: c, s: s}, nil
}

// CloseSession closes the live session with the given id.
func (c *Client) CloseSession(id string) error {
	return c.sessions.Close(id)
}

// Sessions returns stats for every live session, oldest first.
func (c *Client) Sessions() []session.Stats {
	return c.sessions.List()
}

// WithSession creates a session, passes it to fn and closes it when fn
// returns or panics.
func (c *Client) WithSession(ctx context.Context, opts SessionOptions, fn func(ctx context.Context, s *Session) error) (err error) {
	s, err := c.NewSession(opts)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); err == nil {
			err = cerr
		}
	}()
	return fn(ctx, s)
}

// Dial opens a WebSocket. opts may be nil.
func (c *Client) Dial(ctx context.Context, url string, opts *DialOptions) (*WebSocket, error) {
	var sess *session.Session
	if opts != nil && opts.SessionID != "" {
		s, err := c.sessions.Lookup(opts.SessionID)
		if err != nil {
			return nil, err
		}
		sess = s
	}
	return c.dial(ctx, url, opts, sess)
}

func (c *Client) dial(ctx context.Context, url string, opts *DialOptions, sess *session.Session) (*WebSocket, error) {
	const op = "dial"
	d, mode, err := c.norm.NormalizeDial(url, opts, sess)
	if err != nil {
		return nil, err
	}
	if err := checkOpen(op, sess); err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, cancelled(ctx, op, d.Timeout)
	}

	ctx, cancel := context.WithTimeoutCause(ctx, d.Timeout, errDeadline)
	defer cancel()

	jar, release, err := c.bridge.acquire(ctx, jarScope{sess: sess, mode: mode})
	if err != nil {
		if ctx.Err() != nil {
			return nil, cancelled(ctx, op, d.Timeout)
		}
		return nil, err
	}
	// The jar is only read during the handshake.
	defer release()
	d.Jar = jar

	var o DialOptions
	if opts != nil {
		o = *opts
	}
	w := newWebSocket(c.engine, o, c.log.WithField("url", d.URL))

	start := time.Now()
	id, err := c.engine.OpenWebSocket(ctx, d, w.sink)
	if err != nil {
		w.abandon()
		if ctx.Err() != nil {
			return nil, cancelled(ctx, op, d.Timeout)
		}
		return nil, engineError(op, err)
	}
	w.start(id)
	c.log.WithFields(logrus.Fields{
		"url":     d.URL,
		"conn":    id,
		"elapsed": time.Since(start).Round(time.Millisecond),
	}).Debug("websocket dialed")
	return w, nil
}

// Close closes every session, then anything registered with WithCloser.
func (c *Client) Close() error {
	errs := []error{c.sessions.Shutdown()}
	for _, closer := range c.config.closers {
		errs = append(errs, closer.Close())
	}
	return errors.Join(errs...)
}
