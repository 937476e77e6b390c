// Package cloakfetch provides a fetch-style HTTP client whose requests carry a
// browser TLS ClientHello and browser default headers.
//
// Basic usage with the process-wide default client:
//
//	resp, err := cloakfetch.Get(ctx, "https://example.com", nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	body, _ := resp.Text()
//
// With sessions (cookies persist between calls):
//
//	err := cloakfetch.WithSession(ctx, cloakfetch.SessionOptions{Profile: "firefox-133"},
//	    func(ctx context.Context, s *cloakfetch.Session) error {
//	        _, err := s.Get(ctx, "https://example.com/login", nil)
//	        return err
//	    })
//
// Independent clients with their own engine are built from a config.Config
// with New.
package cloakfetch

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/sardanioss/cloakfetch/client"
	"github.com/sardanioss/cloakfetch/config"
	"github.com/sardanioss/cloakfetch/dns"
	"github.com/sardanioss/cloakfetch/keylog"
	"github.com/sardanioss/cloakfetch/metrics"
	"github.com/sardanioss/cloakfetch/transport"
)

type (
	Client         = client.Client
	Session        = client.Session
	Response       = client.Response
	WebSocket      = client.WebSocket
	FetchOptions   = client.FetchOptions
	DialOptions    = client.DialOptions
	SessionOptions = client.SessionOptions
	Form           = client.Form
	JSON           = client.JSON
)

// New builds a transport engine and a client from cfg, logging to stderr.
// Closing the client closes the engine.
func New(cfg config.Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log, err := cfg.NewLogger(os.Stderr)
	if err != nil {
		return nil, err
	}
	return NewWithLogger(cfg, log)
}

// NewWithLogger is New with an explicit logger.
func NewWithLogger(cfg config.Config, log logrus.FieldLogger) (*Client, error) {
	engine, closer, err := NewEngine(cfg, log)
	if err != nil {
		return nil, err
	}
	c, err := client.New(engine,
		client.WithConfig(ClientConfig(cfg, log)),
		client.WithCloser(closer),
	)
	if err != nil {
		_ = closer.Close()
		return nil, err
	}
	return c, nil
}

// NewEngine builds the transport engine described by cfg. The returned
// closer releases the engine and the key log file.
func NewEngine(cfg config.Config, log logrus.FieldLogger) (*transport.Engine, io.Closer, error) {
	dnsOpts := []dns.Option{dns.WithObserver(metrics.DNSObserver{})}
	if cfg.DNSServer != "" {
		dnsOpts = append(dnsOpts, dns.WithResolver(dns.NewNameserverResolver(cfg.DNSServer, 0)))
	}
	if cfg.DNSMinTTL > 0 {
		dnsOpts = append(dnsOpts, dns.WithMinTTL(cfg.DNSMinTTL.Std()))
	}

	var (
		kl  *keylog.Writer
		err error
	)
	if cfg.KeyLogFile != "" {
		kl, err = keylog.Open(cfg.KeyLogFile)
	} else {
		kl, err = keylog.FromEnv()
	}
	if err != nil {
		return nil, nil, err
	}

	opts := transport.Options{
		Logger:    log,
		DNS:       dns.NewCache(dnsOpts...),
		CacheSize: cfg.TransportCacheSize,
	}
	if kl != nil {
		opts.KeyLog = kl
	}
	engine, err := transport.New(opts)
	if err != nil {
		if kl != nil {
			_ = kl.Close()
		}
		return nil, nil, err
	}
	return engine, engineCloser{engine: engine, keyLog: kl}, nil
}

// ClientConfig maps cfg onto the client settings.
func ClientConfig(cfg config.Config, log logrus.FieldLogger) client.Config {
	return client.Config{
		Profile:            cfg.Profile,
		Timeout:            cfg.Timeout.Std(),
		Proxy:              cfg.Proxy,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
		MaxSessions:        cfg.MaxSessions,
		SessionIdleTimeout: cfg.SessionIdleTimeout.Std(),
		RateLimit:          cfg.RateLimit,
		RateBurst:          cfg.RateBurst,
		Logger:             log,
	}
}

type engineCloser struct {
	engine *transport.Engine
	keyLog *keylog.Writer
}

func (c engineCloser) Close() error {
	err := c.engine.Close()
	if c.keyLog != nil {
		err = errors.Join(err, c.keyLog.Close())
	}
	return err
}

// defaultClient is built on first use from CLOAKFETCH_* environment
// variables and lives for the rest of the process.
var defaultClient = sync.OnceValues(func() (*Client, error) {
	cfg, err := config.Load("", nil)
	if err != nil {
		return nil, err
	}
	return New(cfg)
})

// Default returns the process-wide client.
func Default() (*Client, error) {
	return defaultClient()
}

// Fetch performs a request with the default client.
func Fetch(ctx context.Context, url string, opts *FetchOptions) (*Response, error) {
	c, err := Default()
	if err != nil {
		return nil, err
	}
	return c.Fetch(ctx, url, opts)
}

// Get performs a GET request with the default client.
func Get(ctx context.Context, url string, opts *FetchOptions) (*Response, error) {
	c, err := Default()
	if err != nil {
		return nil, err
	}
	return c.Get(ctx, url, opts)
}

// Post performs a POST request with the default client.
func Post(ctx context.Context, url string, body any, opts *FetchOptions) (*Response, error) {
	c, err := Default()
	if err != nil {
		return nil, err
	}
	return c.Post(ctx, url, body, opts)
}

// NewSession creates a session on the default client.
func NewSession(opts SessionOptions) (*Session, error) {
	c, err := Default()
	if err != nil {
		return nil, err
	}
	return c.NewSession(opts)
}

// WithSession runs fn with a session on the default client and closes the
// session afterwards.
func WithSession(ctx context.Context, opts SessionOptions, fn func(ctx context.Context, s *Session) error) error {
	c, err := Default()
	if err != nil {
		return err
	}
	return c.WithSession(ctx, opts, fn)
}

// Dial opens a WebSocket with the default client.
func Dial(ctx context.Context, url string, opts *DialOptions) (*WebSocket, error) {
	c, err := Default()
	if err != nil {
		return nil, err
	}
	return c.Dial(ctx, url, opts)
}

// Profiles lists the profiles of the default client.
func Profiles() ([]string, error) {
	c, err := Default()
	if err != nil {
		return nil, err
	}
	return c.Profiles(), nil
}
