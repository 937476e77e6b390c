package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sardanioss/cloakfetch/protocol"
)

func TestNewValidatesDefaults(t *testing.T) {
	_, err := New(newFakeEngine(nil), WithProfile("netscape-4"))
	assert.ErrorIs(t, err, protocol.ErrInvalidProfile)

	_, err = New(newFakeEngine(nil), WithProxy("gopher://proxy"))
	assert.ErrorIs(t, err, protocol.ErrInvalidProxy)

	c := newTestClient(t, newFakeEngine(nil), WithProfile("firefox-133"))
	assert.Equal(t, []string{"chrome-131", "chrome-143", "firefox-133"}, c.Profiles())
	assert.Equal(t, "firefox-133", c.Config().Profile)
}

func TestFetchEphemeralJarPerCall(t *testing.T) {
	e := newFakeEngine(nil)
	c := newTestClient(t, e)

	for i := 0; i < 3; i++ {
		resp, err := c.Get(context.Background(), "https://example.com/", nil)
		require.NoError(t, err)
		text, err := resp.Text()
		require.NoError(t, err)
		assert.Equal(t, "ok", text)
	}

	require.Equal(t, 3, e.requestCount())
	jars := map[protocol.JarID]bool{}
	for _, d := range e.requests {
		jars[d.Jar] = true
	}
	assert.Len(t, jars, 3)
	require.Eventually(t, func() bool { return e.liveJars() == 0 }, time.Second, time.Millisecond)
}

func TestPostSendsBody(t *testing.T) {
	e := newFakeEngine(nil)
	c := newTestClient(t, e)

	_, err := c.Post(context.Background(), "https://example.com/", JSON{map[string]string{"k": "v"}}, nil)
	require.NoError(t, err)
	d := e.lastRequest(t)
	assert.Equal(t, "POST", d.Method)
	assert.Equal(t, `{"k":"v"}`, string(d.Body))
	assert.Equal(t, DefaultTimeout, d.Timeout)
}

func TestValidationHappensBeforeEngine(t *testing.T) {
	e := newFakeEngine(nil)
	c := newTestClient(t, e)

	_, err := c.Fetch(context.Background(), "https://example.com/", &FetchOptions{Profile: "netscape-4"})
	assert.ErrorIs(t, err, protocol.ErrInvalidProfile)
	assert.Zero(t, e.requestCount())
	assert.Zero(t, e.next)
}

func TestFetchPreCancelled(t *testing.T) {
	e := newFakeEngine(nil)
	c := newTestClient(t, e)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Get(ctx, "https://example.com/", nil)
	assert.ErrorIs(t, err, protocol.ErrAborted)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, e.requestCount())
	assert.Zero(t, e.next, "no jar may be allocated")

	expired, cancel2 := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel2()
	_, err = c.Get(expired, "https://example.com/", nil)
	assert.ErrorIs(t, err, protocol.ErrTimeout)
	assert.Zero(t, e.next)
}

func TestFetchTimeout(t *testing.T) {
	e := newFakeEngine(blockingHandler)
	c := newTestClient(t, e)

	start := time.Now()
	_, err := c.Get(context.Background(), "https://example.com/", &FetchOptions{Timeout: 50 * time.Millisecond})
	assert.ErrorIs(t, err, protocol.ErrTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)
	require.Eventually(t, func() bool { return e.liveJars() == 0 }, time.Second, time.Millisecond)
}

func TestFetchAbortInFlight(t *testing.T) {
	started := make(chan struct{})
	e := newFakeEngine(func(ctx context.Context, d *protocol.RequestDescriptor) (*protocol.RawResponse, error) {
		close(started)
		return blockingHandler(ctx, d)
	})
	c := newTestClient(t, e)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()
	_, err := c.Get(ctx, "https://example.com/", nil)
	assert.ErrorIs(t, err, protocol.ErrAborted)
	assert.False(t, protocol.IsTimeout(err))
}

func TestLateResultIsDiscarded(t *testing.T) {
	release := make(chan struct{})
	e := newFakeEngine(func(ctx context.Context, d *protocol.RequestDescriptor) (*protocol.RawResponse, error) {
		<-release
		return okHandler("late")(ctx, d)
	})
	c := newTestClient(t, e)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Get(ctx, "https://example.com/", nil)
	assert.ErrorIs(t, err, protocol.ErrTimeout)

	// The engine still holds the jar until it returns.
	assert.Equal(t, 1, e.liveJars())
	close(release)
	require.Eventually(t, func() bool { return e.liveJars() == 0 }, time.Second, time.Millisecond)
}

func TestEngineErrorsAreClassified(t *testing.T) {
	plain := newFakeEngine(func(context.Context, *protocol.RequestDescriptor) (*protocol.RawResponse, error) {
		return nil, errors.New("connection reset by peer")
	})
	_, err := newTestClient(t, plain).Get(context.Background(), "https://example.com/", nil)
	assert.ErrorIs(t, err, protocol.ErrTransport)
	assert.Contains(t, err.Error(), "connection reset")

	typed := newFakeEngine(func(context.Context, *protocol.RequestDescriptor) (*protocol.RawResponse, error) {
		return nil, protocol.Errorf(protocol.KindTimeout, "transport", "response header timeout")
	})
	_, err = newTestClient(t, typed).Get(context.Background(), "https://example.com/", nil)
	assert.ErrorIs(t, err, protocol.ErrTimeout)
}

func TestSessionUsesOneJar(t *testing.T) {
	e := newFakeEngine(nil)
	c := newTestClient(t, e)

	s, err := c.NewSession(SessionOptions{ID: "s1", Profile: "firefox-133", Timeout: 5 * time.Second})
	require.NoError(t, err)

	_, err = s.Get(context.Background(), "https://example.com/a", nil)
	require.NoError(t, err)
	first := e.lastRequest(t)
	assert.Equal(t, "firefox-133", first.Profile)
	assert.Equal(t, 5*time.Second, first.Timeout)

	_, err = c.Fetch(context.Background(), "https://example.com/b", &FetchOptions{SessionID: "s1", Profile: "chrome-131"})
	require.NoError(t, err)
	second := e.lastRequest(t)
	assert.Equal(t, first.Jar, second.Jar)
	assert.Equal(t, "chrome-131", second.Profile)

	_, err = s.Get(context.Background(), "https://example.com/c", &FetchOptions{CookieMode: CookieModeEphemeral})
	require.NoError(t, err)
	assert.NotEqual(t, first.Jar, e.lastRequest(t).Jar)

	assert.Equal(t, int64(2), s.Stats().Requests)
}

func TestSessionsAreIsolated(t *testing.T) {
	e := newFakeEngine(nil)
	c := newTestClient(t, e)

	a, err := c.NewSession(SessionOptions{})
	require.NoError(t, err)
	b, err := c.NewSession(SessionOptions{})
	require.NoError(t, err)
	assert.NotEqual(t, a.ID(), b.ID())

	_, err = a.Get(context.Background(), "https://example.com/", nil)
	require.NoError(t, err)
	jarA := e.lastRequest(t).Jar
	_, err = b.Get(context.Background(), "https://example.com/", nil)
	require.NoError(t, err)
	assert.NotEqual(t, jarA, e.lastRequest(t).Jar)
}

func TestSessionLifecycle(t *testing.T) {
	e := newFakeEngine(nil)
	c := newTestClient(t, e)

	_, err := c.NewSession(SessionOptions{Profile: "netscape-4"})
	assert.ErrorIs(t, err, protocol.ErrInvalidProfile)

	s, err := c.NewSession(SessionOptions{ID: "dup"})
	require.NoError(t, err)
	_, err = c.NewSession(SessionOptions{ID: "dup"})
	assert.ErrorIs(t, err, protocol.ErrDuplicateSession)

	require.NoError(t, s.ClearCookies(context.Background()))
	assert.Len(t, e.cleared, 1)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.True(t, s.Closed())

	_, err = s.Get(context.Background(), "https://example.com/", nil)
	assert.ErrorIs(t, err, protocol.ErrSessionClosed)
	_, err = s.Get(context.Background(), "https://example.com/", &FetchOptions{CookieMode: CookieModeEphemeral})
	assert.ErrorIs(t, err, protocol.ErrSessionClosed)
	_, err = c.Fetch(context.Background(), "https://example.com/", &FetchOptions{SessionID: "dup"})
	assert.ErrorIs(t, err, protocol.ErrSessionClosed)
	_, err = c.Fetch(context.Background(), "https://example.com/", &FetchOptions{SessionID: "never"})
	assert.ErrorIs(t, err, protocol.ErrSessionNotFound)

	assert.NoError(t, c.CloseSession("dup"))
	assert.ErrorIs(t, c.CloseSession("never"), protocol.ErrSessionNotFound)
	assert.Zero(t, e.liveJars())
}

func TestCloseSessionTwice(t *testing.T) {
	e := newFakeEngine(nil)
	c := newTestClient(t, e)
	_, err := c.NewSession(SessionOptions{ID: "a"})
	require.NoError(t, err)

	require.NoError(t, c.CloseSession("a"))
	require.NoError(t, c.CloseSession("a"))
	assert.Len(t, e.released, 1)
}

func TestSessionCloseWaitsForInflight(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	e := newFakeEngine(func(ctx context.Context, d *protocol.RequestDescriptor) (*protocol.RawResponse, error) {
		close(started)
		<-release
		return okHandler("done")(ctx, d)
	})
	c := newTestClient(t, e)
	s, err := c.NewSession(SessionOptions{})
	require.NoError(t, err)

	var resp *Response
	var fetchErr error
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		resp, fetchErr = s.Get(context.Background(), "https://example.com/", nil)
	}()
	<-started

	closed := make(chan struct{})
	go func() {
		_ = s.Close()
		close(closed)
	}()
	select {
	case <-closed:
		t.Fatal("Close returned with a request in flight")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	wg.Wait()
	<-closed
	require.NoError(t, fetchErr)
	assert.Equal(t, 200, resp.Status)
	assert.Zero(t, e.liveJars())
}

func TestWithSessionClosesOnEveryPath(t *testing.T) {
	e := newFakeEngine(nil)
	c := newTestClient(t, e)

	var kept *Session
	err := c.WithSession(context.Background(), SessionOptions{}, func(ctx context.Context, s *Session) error {
		kept = s
		_, err := s.Get(ctx, "https://example.com/", nil)
		return err
	})
	require.NoError(t, err)
	assert.True(t, kept.Closed())

	boom := errors.New("boom")
	err = c.WithSession(context.Background(), SessionOptions{}, func(ctx context.Context, s *Session) error {
		kept = s
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.True(t, kept.Closed())

	assert.PanicsWithValue(t, "kaboom", func() {
		_ = c.WithSession(context.Background(), SessionOptions{}, func(ctx context.Context, s *Session) error {
			kept = s
			panic("kaboom")
		})
	})
	assert.True(t, kept.Closed())
	assert.Empty(t, c.Sessions())
	assert.Zero(t, e.liveJars())
}

func TestClientCloseClosesSessions(t *testing.T) {
	e := newFakeEngine(nil)
	c, err := New(e)
	require.NoError(t, err)
	s, err := c.NewSession(SessionOptions{})
	require.NoError(t, err)
	require.Len(t, c.Sessions(), 1)

	require.NoError(t, c.Close())
	assert.True(t, s.Closed())
	assert.Zero(t, e.liveJars())
}

func TestConcurrentFetches(t *testing.T) {
	e := newFakeEngine(nil)
	c := newTestClient(t, e)
	s, err := c.NewSession(SessionOptions{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Get(context.Background(), "https://example.com/", nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(20), s.Stats().Requests)
}
