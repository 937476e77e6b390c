package client

import (
	"net/url"
	"slices"
	"strings"

	"github.com/sardanioss/cloakfetch/headers"
	"github.com/sardanioss/cloakfetch/protocol"
	"github.com/sardanioss/cloakfetch/proxy"
	"github.com/sardanioss/cloakfetch/session"
)

const defaultMaxRedirects = 10

var allowedMethods = []string{"GET", "POST", "PUT", "DELETE", "PATCH", "HEAD", "OPTIONS"}

var (
	httpSchemes = []string{"http", "https"}
	wsSchemes   = []string{"ws", "wss"}
)

// Normalizer validates caller input and turns it into request descriptors.
// It performs no I/O.
type Normalizer struct {
	catalog  *ProfileCatalog
	defaults session.Defaults
}

// NewNormalizer creates a normalizer with the client-level defaults.
func NewNormalizer(catalog *ProfileCatalog, defaults session.Defaults) *Normalizer {
	return &Normalizer{catalog: catalog, defaults: defaults}
}

// Normalize builds the descriptor for one fetch. sess is nil for calls
// outside a session. The returned mode is never CookieModeDefault.
func (n *Normalizer) Normalize(rawURL string, opts *FetchOptions, sess *session.Session) (*protocol.RequestDescriptor, CookieMode, error) {
	const op = "fetch"
	if opts == nil {
		opts = &FetchOptions{}
	}

	method := strings.ToUpper(opts.Method)
	if method == "" {
		method = "GET"
	}
	if !slices.Contains(allowedMethods, method) {
		return nil, 0, protocol.Errorf(protocol.KindValidation, op, "%w: %q", protocol.ErrInvalidMethod, opts.Method)
	}

	target, err := checkURL(op, rawURL, httpSchemes)
	if err != nil {
		return nil, 0, err
	}

	hs, err := headers.From(opts.Headers)
	if err != nil {
		return nil, 0, protocol.NewError(protocol.KindValidation, op, err)
	}
	if opts.Auth != nil {
		if err := opts.Auth.Apply(hs); err != nil {
			return nil, 0, protocol.NewError(protocol.KindValidation, op, err)
		}
	}

	body, hint, err := collapseBody(op, opts.Body)
	if err != nil {
		return nil, 0, err
	}
	if hint != "" && !hs.Has("Content-Type") {
		hs.Append("Content-Type", hint)
	}

	mode, err := cookieMode(op, opts.CookieMode, sess)
	if err != nil {
		return nil, 0, err
	}

	if opts.MaxRedirects < 0 {
		return nil, 0, protocol.Errorf(protocol.KindValidation, op, "max redirects must not be negative")
	}
	follow := true
	if opts.FollowRedirects != nil {
		follow = *opts.FollowRedirects
	}
	maxRedirects := opts.MaxRedirects
	if maxRedirects == 0 {
		maxRedirects = defaultMaxRedirects
	}

	d := &protocol.RequestDescriptor{
		Method:                method,
		URL:                   target,
		Headers:               hs,
		Body:                  body,
		ContentType:           hint,
		DisableDefaultHeaders: opts.DisableDefaultHeaders,
		FollowRedirects:       follow,
		MaxRedirects:          maxRedirects,
	}
	call := session.Defaults{
		Profile:            opts.Profile,
		Proxy:              opts.Proxy,
		Timeout:            opts.Timeout,
		InsecureSkipVerify: opts.InsecureSkipVerify,
	}
	if err := n.resolve(op, d, call, sess); err != nil {
		return nil, 0, err
	}
	return d, mode, nil
}

// NormalizeDial builds the handshake descriptor for a WebSocket.
func (n *Normalizer) NormalizeDial(rawURL string, opts *DialOptions, sess *session.Session) (*protocol.RequestDescriptor, CookieMode, error) {
	const op = "dial"
	if opts == nil {
		opts = &DialOptions{}
	}

	target, err := checkURL(op, rawURL, wsSchemes)
	if err != nil {
		return nil, 0, err
	}
	hs, err := headers.From(opts.Headers)
	if err != nil {
		return nil, 0, protocol.NewError(protocol.KindValidation, op, err)
	}
	mode, err := cookieMode(op, opts.CookieMode, sess)
	if err != nil {
		return nil, 0, err
	}

	d := &protocol.RequestDescriptor{
		Method:                "GET",
		URL:                   target,
		Headers:               hs,
		DisableDefaultHeaders: opts.DisableDefaultHeaders,
	}
	call := session.Defaults{
		Profile:            opts.Profile,
		Proxy:              opts.Proxy,
		Timeout:            opts.Timeout,
		InsecureSkipVerify: opts.InsecureSkipVerify,
	}
	if err := n.resolve(op, d, call, sess); err != nil {
		return nil, 0, err
	}
	return d, mode, nil
}

// resolve fills profile, proxy, timeout and TLS settings. The call value
// wins over the session default, which wins over the client default.
func (n *Normalizer) resolve(op string, d *protocol.RequestDescriptor, call session.Defaults, sess *session.Session) error {
	layers := []session.Defaults{call}
	if sess != nil {
		layers = append(layers, sess.Defaults())
	}
	layers = append(layers, n.defaults)

	for _, l := range layers {
		if d.Profile == "" {
			d.Profile = l.Profile
		}
		if d.Proxy == "" {
			d.Proxy = l.Proxy
		}
		if d.Timeout <= 0 {
			d.Timeout = l.Timeout
		}
		d.InsecureSkipVerify = d.InsecureSkipVerify || l.InsecureSkipVerify
	}
	if d.Timeout <= 0 {
		d.Timeout = DefaultTimeout
	}

	if err := n.catalog.Validate(op, d.Profile); err != nil {
		return err
	}
	if d.Proxy != "" {
		if _, err := proxy.Parse(d.Proxy); err != nil {
			return protocol.Errorf(protocol.KindValidation, op, "%w: %w", protocol.ErrInvalidProxy, err)
		}
	}
	return nil
}

func checkURL(op, raw string, schemes []string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", protocol.Errorf(protocol.KindValidation, op, "%w: %w", protocol.ErrInvalidURL, err)
	}
	if !slices.Contains(schemes, strings.ToLower(u.Scheme)) {
		return "", protocol.Errorf(protocol.KindValidation, op, "%w: scheme %q (need %s)",
			protocol.ErrInvalidURL, u.Scheme, strings.Join(schemes, " or "))
	}
	if u.Host == "" {
		return "", protocol.Errorf(protocol.KindValidation, op, "%w: missing host in %q", protocol.ErrInvalidURL, raw)
	}
	return u.String(), nil
}

func cookieMode(op string, mode CookieMode, sess *session.Session) (CookieMode, error) {
	switch mode {
	case CookieModeDefault:
		if sess != nil {
			return CookieModePersistent, nil
		}
		return CookieModeEphemeral, nil
	case CookieModePersistent:
		if sess == nil {
			return 0, protocol.Errorf(protocol.KindValidation, op, "persistent cookies require a session")
		}
		return mode, nil
	case CookieModeEphemeral:
		return mode, nil
	default:
		return 0, protocol.Errorf(protocol.KindValidation, op, "unknown cookie mode %d", mode)
	}
}
