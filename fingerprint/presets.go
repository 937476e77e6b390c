// Package fingerprint holds the browser profiles the transport engine can
// emulate: a TLS ClientHello and an ordered list of default request headers.
package fingerprint

import (
	"runtime"
	"sort"
	"strings"

	tls "github.com/sardanioss/utls"
)

// DefaultPreset is used when a request names no profile.
const DefaultPreset = "chrome-143"

// PlatformInfo contains platform-specific header values
type PlatformInfo struct {
	UserAgentOS        string // e.g., "(Windows NT 10.0; Win64; x64)" or "(X11; Linux x86_64)"
	Platform           string // e.g., "Windows", "Linux", "macOS"
	FirefoxUserAgentOS string // Firefox has slightly different format
}

// GetPlatformInfo returns platform-specific info based on runtime OS
func GetPlatformInfo() PlatformInfo {
	return platformInfo(runtime.GOOS)
}

func platformInfo(goos string) PlatformInfo {
	switch goos {
	case "windows":
		return PlatformInfo{
			UserAgentOS:        "(Windows NT 10.0; Win64; x64)",
			Platform:           "Windows",
			FirefoxUserAgentOS: "(Windows NT 10.0; Win64; x64; rv:133.0)",
		}
	case "darwin":
		return PlatformInfo{
			UserAgentOS:        "(Macintosh; Intel Mac OS X 10_15_7)",
			Platform:           "macOS",
			FirefoxUserAgentOS: "(Macintosh; Intel Mac OS X 10.15; rv:133.0)",
		}
	default: // linux and others
		return PlatformInfo{
			UserAgentOS:        "(X11; Linux x86_64)",
			Platform:           "Linux",
			FirefoxUserAgentOS: "(X11; Linux x86_64; rv:133.0)",
		}
	}
}

// Header is one default header of a preset.
type Header struct {
	Name  string
	Value string
}

// Preset represents a browser fingerprint configuration
type Preset struct {
	Name          string
	ClientHelloID tls.ClientHelloID
	UserAgent     string
	// Headers are the navigation headers the browser sends, in wire order.
	// User-Agent is included at its browser position.
	Headers []Header
}

// Header returns the preset's default value for name.
func (p *Preset) Header(name string) (string, bool) {
	for _, h := range p.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}

const chromeAccept = "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8,application/signed-exchange;v=b3;q=0.7"

// chromeHeaders builds Chrome's navigation header list. Only low-entropy
// client hints are sent; high-entropy hints require an Accept-CH opt-in.
func chromeHeaders(secChUA, platform, userAgent string) []Header {
	return []Header{
		{"sec-ch-ua", secChUA},
		{"sec-ch-ua-mobile", "?0"},
		{"sec-ch-ua-platform", `"` + platform + `"`},
		{"Upgrade-Insecure-Requests", "1"},
		{"User-Agent", userAgent},
		{"Accept", chromeAccept},
		{"Sec-Fetch-Site", "none"},
		{"Sec-Fetch-Mode", "navigate"},
		{"Sec-Fetch-User", "?1"},
		{"Sec-Fetch-Dest", "document"},
		{"Accept-Encoding", "gzip, deflate, br, zstd"},
		{"Accept-Language", "en-US,en;q=0.9"},
		{"Priority", "u=0, i"},
	}
}

func chrome(name string, hello tls.ClientHelloID, major, secChUA string, p PlatformInfo) *Preset {
	ua := "Mozilla/5.0 " + p.UserAgentOS + " AppleWebKit/537.36 (KHTML, like Gecko) Chrome/" + major + ".0.0.0 Safari/537.36"
	return &Preset{
		Name:          name,
		ClientHelloID: hello,
		UserAgent:     ua,
		Headers:       chromeHeaders(secChUA, p.Platform, ua),
	}
}

// Chrome131 returns the Chrome 131 fingerprint preset
func Chrome131() *Preset {
	return chrome("chrome-131", tls.HelloChrome_131, "131",
		`"Google Chrome";v="131", "Chromium";v="131", "Not_A Brand";v="24"`, GetPlatformInfo())
}

// Chrome133 returns the Chrome 133 fingerprint preset
func Chrome133() *Preset {
	return chrome("chrome-133", tls.HelloChrome_133, "133",
		`"Google Chrome";v="133", "Chromium";v="133", "Not_A Brand";v="24"`, GetPlatformInfo())
}

// Chrome141 reuses the Chrome 133 ClientHello; the TLS layer did not change.
func Chrome141() *Preset {
	return chrome("chrome-141", tls.HelloChrome_133, "141",
		`"Google Chrome";v="141", "Not?A_Brand";v="8", "Chromium";v="141"`, GetPlatformInfo())
}

const chrome143UA = `"Google Chrome";v="143", "Chromium";v="143", "Not A(Brand";v="24"`

// Chrome143 picks the platform-specific 143 ClientHello for the running OS.
func Chrome143() *Preset {
	p := GetPlatformInfo()
	var hello tls.ClientHelloID
	switch p.Platform {
	case "Windows":
		hello = tls.HelloChrome_143_Windows
	case "macOS":
		hello = tls.HelloChrome_143_macOS
	default:
		hello = tls.HelloChrome_143_Linux
	}
	return chrome("chrome-143", hello, "143", chrome143UA, p)
}

// Chrome143Windows returns Chrome 143 with Windows platform and fixed TLS extension order
func Chrome143Windows() *Preset {
	return chrome("chrome-143-windows", tls.HelloChrome_143_Windows, "143", chrome143UA, platformInfo("windows"))
}

// Chrome143Linux returns Chrome 143 with Linux platform and fixed TLS extension order
func Chrome143Linux() *Preset {
	return chrome("chrome-143-linux", tls.HelloChrome_143_Linux, "143", chrome143UA, platformInfo("linux"))
}

// Chrome143macOS returns Chrome 143 with macOS platform and fixed TLS extension order
func Chrome143macOS() *Preset {
	return chrome("chrome-143-macos", tls.HelloChrome_143_macOS, "143", chrome143UA, platformInfo("darwin"))
}

// Firefox133 returns the Firefox 133 fingerprint preset
func Firefox133() *Preset {
	ua := "Mozilla/5.0 " + GetPlatformInfo().FirefoxUserAgentOS + " Gecko/20100101 Firefox/133.0"
	return &Preset{
		Name:          "firefox-133",
		ClientHelloID: tls.HelloFirefox_120,
		UserAgent:     ua,
		Headers: []Header{
			{"User-Agent", ua},
			{"Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8"},
			{"Accept-Language", "en-US,en;q=0.5"},
			{"Accept-Encoding", "gzip, deflate, br"},
			{"Upgrade-Insecure-Requests", "1"},
			{"Sec-Fetch-Dest", "document"},
			{"Sec-Fetch-Mode", "navigate"},
			{"Sec-Fetch-Site", "none"},
			{"Sec-Fetch-User", "?1"},
			{"Priority", "u=0, i"},
		},
	}
}

// Safari18 returns the Safari 18 fingerprint preset
// Note: Safari is macOS-only, so no platform detection needed
func Safari18() *Preset {
	ua := "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/18.0 Safari/605.1.15"
	return &Preset{
		Name:          "safari-18",
		ClientHelloID: tls.HelloSafari_16_0,
		UserAgent:     ua,
		Headers: []Header{
			{"Sec-Fetch-Dest", "document"},
			{"User-Agent", ua},
			{"Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"},
			{"Sec-Fetch-Site", "none"},
			{"Sec-Fetch-Mode", "navigate"},
			{"Accept-Language", "en-US,en;q=0.9"},
			{"Priority", "u=0, i"},
			{"Accept-Encoding", "gzip, deflate, br"},
		},
	}
}

// presets is a map of all available presets
var presets = map[string]func() *Preset{
	"chrome-131":         Chrome131,
	"chrome-133":         Chrome133,
	"chrome-141":         Chrome141,
	"chrome-143":         Chrome143,
	"chrome-143-windows": Chrome143Windows,
	"chrome-143-linux":   Chrome143Linux,
	"chrome-143-macos":   Chrome143macOS,
	"firefox-133":        Firefox133,
	"safari-18":          Safari18,
}

// Get returns a fresh copy of the named preset. An empty name selects
// DefaultPreset.
func Get(name string) (*Preset, bool) {
	if name == "" {
		name = DefaultPreset
	}
	fn, ok := presets[name]
	if !ok {
		return nil, false
	}
	return fn(), true
}

// Available returns the preset names in sorted order.
func Available() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
