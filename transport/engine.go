// Package transport is the impersonation engine behind cloakfetch. It drives
// HTTP/1.1 and WebSocket traffic over uTLS connections whose ClientHello
// matches a browser profile, and owns the cookie jars and connection pools
// those requests use.
package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	http "github.com/sardanioss/http"
	tls "github.com/sardanioss/utls"
	"github.com/sirupsen/logrus"

	"github.com/sardanioss/cloakfetch/dns"
	"github.com/sardanioss/cloakfetch/fingerprint"
	"github.com/sardanioss/cloakfetch/metrics"
	"github.com/sardanioss/cloakfetch/protocol"
	"github.com/sardanioss/cloakfetch/proxy"
)

// Options configures an Engine. The zero value is usable.
type Options struct {
	Logger logrus.FieldLogger
	// DNS is shared by every dial. A fresh cache is created when nil.
	DNS *dns.Cache
	// KeyLog receives TLS secrets in NSS key log format.
	KeyLog io.Writer
	// CacheSize bounds the transport cache. Defaults to DefaultCacheSize.
	CacheSize int
	// DialTimeout bounds TCP connects. Defaults to 30s.
	DialTimeout time.Duration
}

// dnsCleanupInterval paces the sweep of expired DNS answers.
const dnsCleanupInterval = time.Minute

// Engine implements protocol.Engine.
type Engine struct {
	log     logrus.FieldLogger
	resolve *resolvingDialer
	keyLog  io.Writer
	cache   *transportCache

	jarsMu sync.RWMutex
	jars   map[protocol.JarID]*CookieJar

	connsMu sync.Mutex
	conns   map[protocol.ConnID]*wsConn

	stopDNS   context.CancelFunc
	closeOnce sync.Once
}

var _ protocol.Engine = (*Engine)(nil)

// New creates an Engine.
func New(opts Options) (*Engine, error) {
	if opts.Logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		opts.Logger = l
	}
	if opts.DNS == nil {
		opts.DNS = dns.NewCache(dns.WithObserver(metrics.DNSObserver{}))
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 30 * time.Second
	}

	e := &Engine{
		log: opts.Logger.WithField("component", "engine"),
		resolve: &resolvingDialer{
			cache:  opts.DNS,
			dialer: &net.Dialer{Timeout: opts.DialTimeout, KeepAlive: 30 * time.Second},
		},
		keyLog: opts.KeyLog,
		jars:   make(map[protocol.JarID]*CookieJar),
		conns:  make(map[protocol.ConnID]*wsConn),
	}
	cache, err := newTransportCache(opts.CacheSize, e.buildTransport, func(n int) {
		metrics.TransportCacheEntries.Set(float64(n))
	})
	if err != nil {
		return nil, err
	}
	e.cache = cache

	ctx, cancel := context.WithCancel(context.Background())
	e.stopDNS = cancel
	go opts.DNS.RunCleanup(ctx, dnsCleanupInterval)
	return e, nil
}

// ListProfiles implements protocol.ProfileSource.
func (e *Engine) ListProfiles() []string {
	return fingerprint.Available()
}

// AllocateJar implements protocol.JarEngine.
func (e *Engine) AllocateJar() (protocol.JarID, error) {
	id := protocol.JarID(uuid.NewString())
	e.jarsMu.Lock()
	e.jars[id] = NewCookieJar()
	e.jarsMu.Unlock()
	return id, nil
}

// ClearJar implements protocol.JarEngine.
func (e *Engine) ClearJar(id protocol.JarID) error {
	jar, err := e.jar(id)
	if err != nil {
		return err
	}
	jar.Clear()
	return nil
}

// ReleaseJar implements protocol.JarEngine.
func (e *Engine) ReleaseJar(id protocol.JarID) error {
	e.jarsMu.Lock()
	defer e.jarsMu.Unlock()
	if _, ok := e.jars[id]; !ok {
		return protocol.Errorf(protocol.KindValidation, "release jar", "%w: %s", protocol.ErrUnknownJar, id)
	}
	delete(e.jars, id)
	return nil
}

func (e *Engine) jar(id protocol.JarID) (*CookieJar, error) {
	e.jarsMu.RLock()
	jar, ok := e.jars[id]
	e.jarsMu.RUnlock()
	if !ok {
		return nil, protocol.Errorf(protocol.KindValidation, "jar", "%w: %q", protocol.ErrUnknownJar, id)
	}
	return jar, nil
}

// Jars returns the number of live jars.
func (e *Engine) Jars() int {
	e.jarsMu.RLock()
	defer e.jarsMu.RUnlock()
	return len(e.jars)
}

// Close drops pooled connections and closes open WebSockets. Jars survive.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.stopDNS()
		e.cache.purge()

		e.connsMu.Lock()
		conns := make([]*wsConn, 0, len(e.conns))
		for _, c := range e.conns {
			conns = append(conns, c)
		}
		e.connsMu.Unlock()
		for _, c := range conns {
			c.conn.Close()
		}
	})
	return nil
}

// entryFor resolves the profile and returns the matching cache entry.
func (e *Engine) entryFor(op string, d *protocol.RequestDescriptor) (*fingerprint.Preset, *cacheEntry, error) {
	preset, ok := fingerprint.Get(d.Profile)
	if !ok {
		return nil, nil, protocol.Errorf(protocol.KindValidation, op, "%w: %q", protocol.ErrInvalidProfile, d.Profile)
	}
	key := transportKey{
		profile:  preset.Name,
		proxy:    d.Proxy,
		bucket:   bucketTimeout(d.Timeout),
		insecure: d.InsecureSkipVerify,
	}
	entry, err := e.cache.get(key)
	if err != nil {
		var perr *protocol.Error
		if errors.As(err, &perr) {
			return nil, nil, perr
		}
		return nil, nil, protocol.NewError(protocol.KindTransport, op, err)
	}
	return preset, entry, nil
}

func (e *Engine) buildTransport(key transportKey) (*cacheEntry, error) {
	preset, ok := fingerprint.Get(key.profile)
	if !ok {
		return nil, protocol.ErrInvalidProfile
	}

	var base proxy.ContextDialer = e.resolve
	if key.proxy != "" {
		u, err := proxy.Parse(key.proxy)
		if err != nil {
			return nil, protocol.Errorf(protocol.KindValidation, "proxy", "%w: %w", protocol.ErrInvalidProxy, err)
		}
		if base, err = proxy.NewDialer(u, e.resolve); err != nil {
			return nil, protocol.Errorf(protocol.KindValidation, "proxy", "%w: %w", protocol.ErrInvalidProxy, err)
		}
	}

	d := &connDialer{
		base:     base,
		hello:    preset.ClientHelloID,
		insecure: key.insecure,
		keyLog:   e.keyLog,
		sessions: tls.NewLRUClientSessionCache(64),
		log:      e.log,
	}
	t := &http.Transport{
		DialContext:           d.DialContext,
		DialTLSContext:        d.DialTLSContext,
		DisableCompression:    true,
		ForceAttemptHTTP2:     false,
		MaxIdleConnsPerHost:   6,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   key.bucket,
		ResponseHeaderTimeout: key.bucket,
	}
	e.log.WithFields(logrus.Fields{
		"profile": key.profile,
		"proxy":   redactProxy(key.proxy),
		"bucket":  key.bucket,
	}).Debug("transport built")
	return &cacheEntry{transport: t, dialer: d}, nil
}

// redactProxy strips credentials from a proxy URL for logging.
func redactProxy(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "invalid"
	}
	return u.Redacted()
}

// classify maps a failed engine call to the error taxonomy. Context errors
// are returned as-is so the caller can tell abort from timeout.
func classify(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return protocol.NewError(protocol.KindTimeout, op, err)
	}
	return protocol.NewError(protocol.KindTransport, op, err)
}
