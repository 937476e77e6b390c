package fingerprint

import (
	"strings"
	"testing"
)

func TestAvailableSortedAndResolvable(t *testing.T) {
	names := Available()
	if len(names) != len(presets) {
		t.Fatalf("Available returned %d names, want %d", len(names), len(presets))
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] > names[i] {
			t.Errorf("Available not sorted: %q before %q", names[i-1], names[i])
		}
	}
	for _, name := range names {
		p, ok := Get(name)
		if !ok {
			t.Errorf("Get(%q) not found", name)
			continue
		}
		if p.Name != name {
			t.Errorf("Get(%q).Name = %q", name, p.Name)
		}
	}
}

func TestGetDefault(t *testing.T) {
	p, ok := Get("")
	if !ok || p.Name != DefaultPreset {
		t.Fatalf("Get(\"\") = %v, %v; want %s", p, ok, DefaultPreset)
	}
	if _, ok := Get("netscape-4"); ok {
		t.Error("Get(netscape-4) should not resolve")
	}
}

func TestPresetsCarryUserAgentHeader(t *testing.T) {
	for _, name := range Available() {
		p, _ := Get(name)
		ua, ok := p.Header("user-agent")
		if !ok {
			t.Errorf("preset %q has no User-Agent header", name)
			continue
		}
		if ua != p.UserAgent {
			t.Errorf("preset %q User-Agent header %q != UserAgent %q", name, ua, p.UserAgent)
		}
		if _, ok := p.Header("Accept"); !ok {
			t.Errorf("preset %q has no Accept header", name)
		}
	}
}

func TestPlatformSpecificChrome(t *testing.T) {
	tests := []struct {
		name     string
		platform string
		uaToken  string
	}{
		{"chrome-143-windows", `"Windows"`, "Windows NT 10.0"},
		{"chrome-143-linux", `"Linux"`, "X11; Linux"},
		{"chrome-143-macos", `"macOS"`, "Macintosh"},
	}
	for _, tt := range tests {
		p, _ := Get(tt.name)
		if got, _ := p.Header("sec-ch-ua-platform"); got != tt.platform {
			t.Errorf("%s sec-ch-ua-platform = %s, want %s", tt.name, got, tt.platform)
		}
		if !strings.Contains(p.UserAgent, tt.uaToken) {
			t.Errorf("%s UserAgent %q missing %q", tt.name, p.UserAgent, tt.uaToken)
		}
	}
}

func TestGetReturnsFreshCopy(t *testing.T) {
	a, _ := Get("chrome-133")
	a.Headers[0].Value = "mutated"
	b, _ := Get("chrome-133")
	if b.Headers[0].Value == "mutated" {
		t.Error("Get should return an independent preset")
	}
}
