package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	tls "github.com/sardanioss/utls"
	"github.com/sirupsen/logrus"

	"github.com/sardanioss/cloakfetch/dns"
	"github.com/sardanioss/cloakfetch/proxy"
)

// resolvingDialer dials the addresses the DNS cache returns, in Happy
// Eyeballs order, until one connects.
type resolvingDialer struct {
	cache  *dns.Cache
	dialer *net.Dialer
}

func (r *resolvingDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	ips, err := r.cache.ResolveAllSorted(ctx, host)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for _, ip := range ips {
		conn, err := r.dialer.DialContext(ctx, network, net.JoinHostPort(ip.String(), port))
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, lastErr
		}
	}
	// Every cached address refused; the record may be stale.
	r.cache.Invalidate(host)
	return nil, lastErr
}

// connDialer opens connections for one transport cache entry. Plain
// connections go through the proxy, if any. TLS connections are wrapped in
// a uTLS client whose ClientHello matches the profile.
type connDialer struct {
	base     proxy.ContextDialer
	hello    tls.ClientHelloID
	insecure bool
	keyLog   io.Writer
	sessions tls.ClientSessionCache
	log      logrus.FieldLogger
}

func (d *connDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	return d.base.DialContext(ctx, network, addr)
}

func (d *connDialer) DialTLSContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	raw, err := d.base.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	conn, err := d.handshake(ctx, raw, host)
	if err != nil {
		raw.Close()
		return nil, fmt.Errorf("tls handshake with %s: %w", addr, err)
	}
	d.log.WithFields(logrus.Fields{
		"addr":     addr,
		"resumed":  conn.ConnectionState().DidResume,
		"duration": time.Since(start),
	}).Debug("TLS handshake complete")
	return conn, nil
}

func (d *connDialer) handshake(ctx context.Context, raw net.Conn, serverName string) (*tls.UConn, error) {
	cfg := &tls.Config{
		ServerName:         serverName,
		InsecureSkipVerify: d.insecure,
		NextProtos:         []string{"http/1.1"},
		ClientSessionCache: d.sessions,
		MinVersion:         tls.VersionTLS12,
	}
	if d.keyLog != nil {
		cfg.KeyLogWriter = d.keyLog
	}

	uconn := tls.UClient(raw, cfg, tls.HelloCustom)
	spec, err := tls.UTLSIdToSpec(d.hello)
	if err != nil {
		return nil, err
	}
	forceHTTP1(&spec)
	if err := uconn.ApplyPreset(&spec); err != nil {
		return nil, err
	}
	if err := uconn.HandshakeContext(ctx); err != nil {
		return nil, err
	}
	if proto := uconn.ConnectionState().NegotiatedProtocol; proto != "" && proto != "http/1.1" {
		return nil, errors.New("server negotiated unsupported protocol " + proto)
	}
	return uconn, nil
}

// forceHTTP1 rewrites the ALPN offer of a browser spec to HTTP/1.1 only.
// The rest of the ClientHello is left as the browser sends it.
func forceHTTP1(spec *tls.ClientHelloSpec) {
	for _, ext := range spec.Extensions {
		if alpn, ok := ext.(*tls.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
		}
	}
}
