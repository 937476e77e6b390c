package transport

import (
	"slices"
	"strings"

	http "github.com/sardanioss/http"

	"github.com/sardanioss/cloakfetch/fingerprint"
	"github.com/sardanioss/cloakfetch/headers"
)

// additive headers gain the profile value next to a differing caller value
// instead of being skipped.
var additive = map[string]bool{
	"accept":          true,
	"accept-encoding": true,
	"accept-language": true,
}

// wsEmulated are the only profile headers sent on a WebSocket handshake.
var wsEmulated = map[string]bool{
	"user-agent":      true,
	"accept-language": true,
}

// withEmulation returns the caller's headers followed by the profile's.
// Caller entries are never removed or reordered.
func withEmulation(caller *headers.HeaderSet, p *fingerprint.Preset, keep func(name string) bool) *headers.HeaderSet {
	out := caller.Clone()
	for _, h := range p.Headers {
		lower := strings.ToLower(h.Name)
		if keep != nil && !keep(lower) {
			continue
		}
		existing := caller.Values(h.Name)
		switch {
		case len(existing) == 0:
			out.Append(h.Name, h.Value)
		case additive[lower] && !slices.Contains(existing, h.Value):
			out.Append(h.Name, h.Value)
		}
	}
	return out
}

// wireHeader converts hs into the fork's http.Header with an explicit write
// order. A Host entry is returned separately since it travels in req.Host.
// Content-Length is dropped as the transport derives it from the body.
func wireHeader(hs *headers.HeaderSet) (http.Header, string) {
	h := make(http.Header, hs.Len()+2)
	order := make([]string, 0, hs.Len()+1)
	var host string

	for _, e := range hs.Entries() {
		key := http.CanonicalHeaderKey(e.Name)
		switch key {
		case "Host":
			if host == "" {
				host = e.Value
			}
			continue
		case "Content-Length":
			continue
		}
		if _, seen := h[key]; !seen {
			order = append(order, strings.ToLower(e.Name))
		}
		h[key] = append(h[key], e.Value)
	}

	if _, ok := h["User-Agent"]; !ok {
		// Present but empty keeps the fork from adding its own default.
		h["User-Agent"] = nil
	}
	if !slices.Contains(order, "cookie") {
		order = append(order, "cookie")
	}
	h[http.HeaderOrderKey] = order
	return h, host
}
