package transport

import (
	"net"
	"net/url"
	"strings"
	"time"

	http "github.com/sardanioss/http"
	"golang.org/x/net/publicsuffix"

	"github.com/sardanioss/cloakfetch/protocol"
)

// Cookie is a stored cookie. Domain is the bare host for host-only cookies
// and carries a leading dot for domain cookies.
type Cookie struct {
	Name     string
	Value    string
	Domain   string
	Path     string
	Expires  time.Time
	Secure   bool
	HttpOnly bool
}

// IsExpired reports whether the cookie is past its expiry.
func (c *Cookie) IsExpired(now time.Time) bool {
	return !c.Expires.IsZero() && !now.Before(c.Expires)
}

// String returns the cookie in "name=value" form for the Cookie header.
func (c *Cookie) String() string {
	return c.Name + "=" + c.Value
}

// Matches returns true if this cookie should be sent for u.
func (c *Cookie) Matches(u *url.URL) bool {
	if !c.matchesDomain(u.Hostname()) {
		return false
	}
	if !c.matchesPath(u.EscapedPath()) {
		return false
	}
	if c.Secure && u.Scheme != "https" && u.Scheme != "wss" {
		return false
	}
	return true
}

func (c *Cookie) matchesDomain(host string) bool {
	host = strings.ToLower(host)
	domain := c.Domain

	if host == domain {
		return true
	}
	if strings.HasPrefix(domain, ".") {
		return host == domain[1:] || strings.HasSuffix(host, domain)
	}
	return false
}

func (c *Cookie) matchesPath(path string) bool {
	if c.Path == "" || c.Path == "/" {
		return true
	}
	if path == "" {
		path = "/"
	}
	if !strings.HasPrefix(path, c.Path) {
		return false
	}
	return len(path) == len(c.Path) || c.Path[len(c.Path)-1] == '/' || path[len(c.Path)] == '/'
}

func (c *Cookie) public() protocol.Cookie {
	return protocol.Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   strings.TrimPrefix(c.Domain, "."),
		Path:     c.Path,
		Expires:  c.Expires,
		Secure:   c.Secure,
		HTTPOnly: c.HttpOnly,
	}
}

// fromHTTPCookie converts a parsed Set-Cookie received from u. It returns
// false when the cookie must be rejected: a Domain attribute that does not
// cover the request host, or one naming a public suffix.
func fromHTTPCookie(u *url.URL, hc *http.Cookie, now time.Time) (*Cookie, bool) {
	if hc == nil || hc.Name == "" {
		return nil, false
	}
	host := strings.ToLower(u.Hostname())

	c := &Cookie{
		Name:     hc.Name,
		Value:    hc.Value,
		Path:     hc.Path,
		Secure:   hc.Secure,
		HttpOnly: hc.HttpOnly,
		Expires:  hc.Expires,
	}

	switch {
	case hc.MaxAge < 0:
		c.Expires = now.Add(-time.Second)
	case hc.MaxAge > 0:
		c.Expires = now.Add(time.Duration(hc.MaxAge) * time.Second)
	}

	if c.Path == "" || c.Path[0] != '/' {
		c.Path = defaultPath(u.EscapedPath())
	}

	domain := strings.TrimPrefix(strings.ToLower(hc.Domain), ".")
	if domain == "" {
		c.Domain = host
		return c, true
	}
	if net.ParseIP(host) != nil {
		// IP hosts only accept host-only cookies.
		if domain != host {
			return nil, false
		}
		c.Domain = host
		return c, true
	}
	if ps, _ := publicsuffix.PublicSuffix(domain); ps == domain {
		if domain != host {
			return nil, false
		}
		c.Domain = host
		return c, true
	}
	if host != domain && !strings.HasSuffix(host, "."+domain) {
		return nil, false
	}
	c.Domain = "." + domain
	return c, true
}

// defaultPath is the directory of the request path, as browsers compute it.
func defaultPath(path string) string {
	if path == "" || path[0] != '/' {
		return "/"
	}
	i := strings.LastIndex(path, "/")
	if i == 0 {
		return "/"
	}
	return path[:i]
}
