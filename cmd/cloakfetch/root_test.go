package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sardanioss/cloakfetch/headers"
)

func newTestState(stdin string) (*globalState, *bytes.Buffer) {
	stdout := new(bytes.Buffer)
	return &globalState{
		ctx:    context.Background(),
		stdin:  strings.NewReader(stdin),
		stdout: stdout,
		stderr: io.Discard,
		env:    map[string]string{},
	}, stdout
}

func run(t *testing.T, gs *globalState, args ...string) error {
	t.Helper()
	cmd := newRootCmd(gs)
	cmd.SetArgs(args)
	return cmd.ExecuteContext(gs.ctx)
}

func TestProfilesCommand(t *testing.T) {
	gs, out := newTestState("")
	require.NoError(t, run(t, gs, "profiles"))
	assert.Contains(t, out.String(), "* chrome-143\n")
}

func TestFetchCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Method", r.Method)
		body, _ := io.ReadAll(r.Body)
		_, _ = io.WriteString(w, r.Header.Get("X-Custom")+"|"+string(body))
	}))
	defer srv.Close()

	gs, out := newTestState("")
	require.NoError(t, run(t, gs, "fetch", "-H", "X-Custom: one", srv.URL))
	assert.Equal(t, "one|", out.String())

	gs, out = newTestState("from stdin")
	require.NoError(t, run(t, gs, "fetch", "--include", "-d", "@-", srv.URL))
	assert.Contains(t, out.String(), " 200 OK\n")
	assert.Contains(t, out.String(), "x-method: POST\n")
	assert.True(t, strings.HasSuffix(out.String(), "\n\n|from stdin"), out.String())
}

func TestFetchCommandErrors(t *testing.T) {
	gs, _ := newTestState("")
	assert.Error(t, run(t, gs, "fetch", "-H", "no-colon", "https://example.com"))

	gs, _ = newTestState("")
	assert.Error(t, run(t, gs, "fetch", "--profile", "netscape-4", "https://example.com"))
}

func TestConfigFileAndFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cloakfetch.yaml")
	require.NoError(t, os.WriteFile(path, []byte("profile: firefox-133\ntimeout: 5s\n"), 0o600))

	gs, _ := newTestState("")
	gs.flags.configPath = path
	cfg, err := gs.loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "firefox-133", cfg.Profile)

	gs.flags.profile = "chrome-143"
	gs.flags.insecure = true
	cfg, err = gs.loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "chrome-143", cfg.Profile)
	assert.True(t, cfg.InsecureSkipVerify)
}

func TestParseHeaderFlags(t *testing.T) {
	pairs, err := parseHeaderFlags([]string{"Accept: */*", "X-A:1", "X-A: 2", "X-Empty:"})
	require.NoError(t, err)
	assert.Equal(t, headers.Pairs{
		{Name: "Accept", Value: "*/*"},
		{Name: "X-A", Value: "1"},
		{Name: "X-A", Value: "2"},
		{Name: "X-Empty", Value: ""},
	}, pairs)

	_, err = parseHeaderFlags([]string{": v"})
	assert.Error(t, err)
}
