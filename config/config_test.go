package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cloakfetch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 30*time.Second, cfg.Timeout.Std())
	assert.Equal(t, 100, cfg.MaxSessions)
	assert.Equal(t, 1024, cfg.TransportCacheSize)
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := Load("", map[string]string{})
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := writeFile(t, `
profile: firefox-133
timeout: 5s
proxy: socks5://127.0.0.1:1080
maxSessions: 7
sessionIdleTimeout: 10m
logFormat: json
`)
	cfg, err := Load(path, map[string]string{
		"CLOAKFETCH_TIMEOUT":      "1500",
		"CLOAKFETCH_MAX_SESSIONS": "9",
		"CLOAKFETCH_RATE_LIMIT":   "2.5",
		"CLOAKFETCH_DNS_SERVER":   "1.1.1.1:53",
	})
	require.NoError(t, err)

	assert.Equal(t, "firefox-133", cfg.Profile)
	assert.Equal(t, 1500*time.Millisecond, cfg.Timeout.Std())
	assert.Equal(t, "socks5://127.0.0.1:1080", cfg.Proxy)
	assert.Equal(t, 9, cfg.MaxSessions)
	assert.Equal(t, 10*time.Minute, cfg.SessionIdleTimeout.Std())
	assert.InDelta(t, 2.5, cfg.RateLimit, 0)
	assert.Equal(t, "1.1.1.1:53", cfg.DNSServer)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), map[string]string{})
	assert.Error(t, err)

	_, err = Load(writeFile(t, "timeout: [nope"), map[string]string{})
	assert.Error(t, err)

	_, err = Load("", map[string]string{"CLOAKFETCH_MAX_SESSIONS": "many"})
	assert.Error(t, err)

	_, err = Load("", map[string]string{"CLOAKFETCH_TIMEOUT": "soon"})
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"profile", func(c *Config) { c.Profile = "netscape-4" }, "profile"},
		{"timeout", func(c *Config) { c.Timeout = 0 }, "timeout"},
		{"proxy", func(c *Config) { c.Proxy = "ftp://proxy" }, "proxy"},
		{"sessions", func(c *Config) { c.MaxSessions = -1 }, "maxSessions"},
		{"rate", func(c *Config) { c.RateLimit = -1 }, "rateLimit"},
		{"cache", func(c *Config) { c.TransportCacheSize = -5 }, "transportCacheSize"},
		{"level", func(c *Config) { c.LogLevel = "loud" }, "logLevel"},
		{"format", func(c *Config) { c.LogFormat = "xml" }, "logFormat"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}

	cfg := Default()
	cfg.Timeout = 0
	cfg.LogFormat = "xml"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
	assert.Contains(t, err.Error(), "logFormat")
}

func TestDurationText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("250")))
	assert.Equal(t, 250*time.Millisecond, d.Std())
	require.NoError(t, d.UnmarshalText([]byte("2m")))
	assert.Equal(t, 2*time.Minute, d.Std())
	assert.Error(t, d.UnmarshalText([]byte("later")))

	text, err := Duration(1500 * time.Millisecond).MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1.5s", string(text))
}

func TestNewLogger(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "debug"
	cfg.LogFormat = "json"

	var buf bytes.Buffer
	l, err := cfg.NewLogger(&buf)
	require.NoError(t, err)
	l.WithField("k", "v").Debug("hello")
	assert.Contains(t, buf.String(), `"msg":"hello"`)
	assert.Contains(t, buf.String(), `"k":"v"`)
}
