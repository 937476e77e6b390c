package transport

import (
	"testing"

	http "github.com/sardanioss/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sardanioss/cloakfetch/fingerprint"
	"github.com/sardanioss/cloakfetch/headers"
)

func TestWithEmulationAppendsAfterCaller(t *testing.T) {
	p := fingerprint.Chrome143Linux()
	caller := headers.New()
	caller.Append("X-Trace", "1")
	caller.Append("Accept", "*/*")

	out := withEmulation(caller, p, nil)

	names := out.Names()
	require.GreaterOrEqual(t, len(names), 3)
	assert.Equal(t, "X-Trace", names[0])
	assert.Equal(t, "Accept", names[1])

	accept := out.Values("accept")
	require.Len(t, accept, 2)
	assert.Equal(t, "*/*", accept[0])

	ua, ok := out.Get("User-Agent")
	require.True(t, ok)
	assert.Equal(t, p.UserAgent, ua)

	// caller untouched
	assert.Equal(t, 2, caller.Len())
}

func TestWithEmulationKeepsCallerSingletons(t *testing.T) {
	p := fingerprint.Chrome143Linux()
	caller := headers.New()
	caller.Append("User-Agent", "custom/1.0")

	out := withEmulation(caller, p, nil)
	assert.Equal(t, []string{"custom/1.0"}, out.Values("user-agent"))
}

func TestWithEmulationSameAcceptNotDuplicated(t *testing.T) {
	p := fingerprint.Chrome143Linux()
	want, ok := p.Header("Accept")
	require.True(t, ok)

	caller := headers.New()
	caller.Append("accept", want)
	out := withEmulation(caller, p, nil)
	assert.Len(t, out.Values("Accept"), 1)
}

func TestWithEmulationFilter(t *testing.T) {
	out := withEmulation(headers.New(), fingerprint.Chrome143Linux(), func(name string) bool {
		return wsEmulated[name]
	})
	assert.ElementsMatch(t, []string{"User-Agent", "Accept-Language"}, out.Names())
}

func TestWireHeader(t *testing.T) {
	hs := headers.New()
	hs.Append("x-second", "b")
	hs.Append("Host", "virtual.test")
	hs.Append("X-First", "a")
	hs.Append("x-second", "c")
	hs.Append("Content-Length", "99")

	h, host := wireHeader(hs)
	assert.Equal(t, "virtual.test", host)
	assert.Equal(t, []string{"x-second", "x-first", "cookie"}, h[http.HeaderOrderKey])
	assert.Equal(t, []string{"b", "c"}, h["X-Second"])
	assert.NotContains(t, h, "Content-Length")

	ua, ok := h["User-Agent"]
	assert.True(t, ok)
	assert.Nil(t, ua)
}
