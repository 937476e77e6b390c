package transport

import (
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	http "github.com/sardanioss/http"

	"github.com/sardanioss/cloakfetch/protocol"
)

// CookieJar stores cookies and provides thread-safe access.
type CookieJar struct {
	mu      sync.RWMutex
	cookies map[string][]*Cookie // domain -> cookies
	now     func() time.Time
}

// NewCookieJar creates a new empty cookie jar.
func NewCookieJar() *CookieJar {
	return &CookieJar{
		cookies: make(map[string][]*Cookie),
		now:     time.Now,
	}
}

// SetCookies stores the cookies a response from u set. It returns the
// cookies that were accepted.
func (j *CookieJar) SetCookies(u *url.URL, cookies []*http.Cookie) []*Cookie {
	if len(cookies) == 0 {
		return nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	now := j.now()
	accepted := make([]*Cookie, 0, len(cookies))
	for _, hc := range cookies {
		cookie, ok := fromHTTPCookie(u, hc, now)
		if !ok {
			continue
		}

		key := domainKey(cookie.Domain)

		// Remove existing cookie with same name, domain, and path
		existing := j.cookies[key]
		filtered := make([]*Cookie, 0, len(existing)+1)
		for _, c := range existing {
			if c.Name != cookie.Name || c.Path != cookie.Path || c.Domain != cookie.Domain {
				filtered = append(filtered, c)
			}
		}

		if !cookie.IsExpired(now) {
			filtered = append(filtered, cookie)
		}
		accepted = append(accepted, cookie)

		if len(filtered) == 0 {
			delete(j.cookies, key)
		} else {
			j.cookies[key] = filtered
		}
	}
	return accepted
}

// Cookies returns the cookies to send for u, longest path first.
func (j *CookieJar) Cookies(u *url.URL) []*Cookie {
	j.mu.RLock()
	defer j.mu.RUnlock()

	now := j.now()
	host := strings.ToLower(u.Hostname())

	var result []*Cookie
	for _, domain := range j.matchingDomains(host) {
		for _, cookie := range j.cookies[domain] {
			if cookie.IsExpired(now) {
				continue
			}
			if cookie.Matches(u) {
				result = append(result, cookie)
			}
		}
	}

	sort.SliceStable(result, func(a, b int) bool {
		return len(result[a].Path) > len(result[b].Path)
	})
	return result
}

// CookieHeader returns the Cookie header value for u.
func (j *CookieJar) CookieHeader(u *url.URL) string {
	cookies := j.Cookies(u)
	if len(cookies) == 0 {
		return ""
	}

	parts := make([]string, len(cookies))
	for i, c := range cookies {
		parts[i] = c.String()
	}
	return strings.Join(parts, "; ")
}

// Clear removes all cookies from the jar.
func (j *CookieJar) Clear() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cookies = make(map[string][]*Cookie)
}

// ClearExpired removes all expired cookies.
func (j *CookieJar) ClearExpired() {
	j.mu.Lock()
	defer j.mu.Unlock()

	now := j.now()
	for domain, cookies := range j.cookies {
		filtered := cookies[:0]
		for _, c := range cookies {
			if !c.IsExpired(now) {
				filtered = append(filtered, c)
			}
		}
		if len(filtered) > 0 {
			j.cookies[domain] = filtered
		} else {
			delete(j.cookies, domain)
		}
	}
}

// Count returns the total number of cookies in the jar.
func (j *CookieJar) Count() int {
	j.mu.RLock()
	defer j.mu.RUnlock()

	count := 0
	for _, cookies := range j.cookies {
		count += len(cookies)
	}
	return count
}

// domainKey normalizes domain for map key.
func domainKey(domain string) string {
	return strings.TrimPrefix(strings.ToLower(domain), ".")
}

// matchingDomains returns all domain keys that could have matching cookies.
func (j *CookieJar) matchingDomains(host string) []string {
	var domains []string
	if _, ok := j.cookies[host]; ok {
		domains = append(domains, host)
	}

	parts := strings.Split(host, ".")
	for i := 1; i < len(parts); i++ {
		parent := strings.Join(parts[i:], ".")
		if _, ok := j.cookies[parent]; ok {
			domains = append(domains, parent)
		}
	}
	return domains
}

// recordingJar adapts a CookieJar to http.CookieJar for one call and keeps
// every cookie set across the redirect chain.
type recordingJar struct {
	jar *CookieJar

	mu   sync.Mutex
	seen []protocol.Cookie
}

func (r *recordingJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	accepted := r.jar.SetCookies(u, cookies)
	if len(accepted) == 0 {
		return
	}
	r.mu.Lock()
	for _, c := range accepted {
		r.seen = append(r.seen, c.public())
	}
	r.mu.Unlock()
}

func (r *recordingJar) Cookies(u *url.URL) []*http.Cookie {
	stored := r.jar.Cookies(u)
	if len(stored) == 0 {
		return nil
	}
	out := make([]*http.Cookie, len(stored))
	for i, c := range stored {
		out[i] = &http.Cookie{Name: c.Name, Value: c.Value}
	}
	return out
}

func (r *recordingJar) observed() []protocol.Cookie {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seen
}
