// Package proxy dials TCP connections through HTTP CONNECT and SOCKS5
// proxies. TLS to the origin is layered on top by the caller, so the
// fingerprint of the origin handshake is unaffected by the proxy.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

var (
	ErrUnsupportedScheme = errors.New("unsupported proxy scheme")
	ErrMissingHost       = errors.New("proxy url has no host")
)

// ContextDialer is the dialing capability shared by net.Dialer and the
// dialers in this package.
type ContextDialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

// Parse validates a proxy URL. Accepted schemes are http, https, socks5 and
// socks5h.
func Parse(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https", "socks5", "socks5h":
	default:
		return nil, fmt.Errorf("%w: %q (need http, https, socks5 or socks5h)", ErrUnsupportedScheme, u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, ErrMissingHost
	}
	return u, nil
}

// NewDialer returns a dialer that tunnels through the proxy at u. forward is
// used to reach the proxy itself.
func NewDialer(u *url.URL, forward ContextDialer) (ContextDialer, error) {
	switch strings.ToLower(u.Scheme) {
	case "socks5", "socks5h":
		return newSOCKS5Dialer(u, forward), nil
	case "http", "https":
		return newConnectDialer(u, forward), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
}

// hostPort returns u's host with the scheme default port filled in.
func hostPort(u *url.URL) string {
	port := u.Port()
	if port == "" {
		switch strings.ToLower(u.Scheme) {
		case "https":
			port = "443"
		case "socks5", "socks5h":
			port = "1080"
		default:
			port = "8080"
		}
	}
	return net.JoinHostPort(u.Hostname(), port)
}
