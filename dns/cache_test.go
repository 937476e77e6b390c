package dns

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	mdns "github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResolver struct {
	calls atomic.Int32
	ips   []net.IP
	ttl   time.Duration
	err   error
}

func (f *fakeResolver) LookupIP(context.Context, string) ([]net.IP, time.Duration, error) {
	f.calls.Add(1)
	return f.ips, f.ttl, f.err
}

type countingObserver struct{ hits, misses atomic.Int32 }

func (o *countingObserver) Hit()  { o.hits.Add(1) }
func (o *countingObserver) Miss() { o.misses.Add(1) }

func TestCacheServesFromCache(t *testing.T) {
	r := &fakeResolver{ips: []net.IP{net.ParseIP("192.0.2.1")}, ttl: time.Minute}
	obs := &countingObserver{}
	c := NewCache(WithResolver(r), WithObserver(obs))

	for i := 0; i < 3; i++ {
		ips, err := c.Resolve(context.Background(), "example.test")
		require.NoError(t, err)
		assert.Equal(t, "192.0.2.1", ips[0].String())
	}
	assert.Equal(t, int32(1), r.calls.Load())
	assert.Equal(t, int32(2), obs.hits.Load())
	assert.Equal(t, int32(1), obs.misses.Load())
}

func TestCacheIPLiteralBypassesResolver(t *testing.T) {
	r := &fakeResolver{}
	c := NewCache(WithResolver(r))

	ips, err := c.Resolve(context.Background(), "::1")
	require.NoError(t, err)
	assert.Equal(t, "::1", ips[0].String())
	assert.Zero(t, r.calls.Load())
}

func TestCacheMinTTLFloor(t *testing.T) {
	r := &fakeResolver{ips: []net.IP{net.ParseIP("192.0.2.1")}, ttl: time.Second}
	c := NewCache(WithResolver(r), WithMinTTL(time.Hour))

	_, err := c.Resolve(context.Background(), "example.test")
	require.NoError(t, err)

	c.mu.RLock()
	entry := c.entries["example.test"]
	c.mu.RUnlock()
	assert.True(t, entry.ExpiresAt.After(time.Now().Add(59*time.Minute)))
}

func TestCacheStaleOnFailure(t *testing.T) {
	r := &fakeResolver{ips: []net.IP{net.ParseIP("192.0.2.1")}}
	c := NewCache(WithResolver(r))
	_, err := c.Resolve(context.Background(), "example.test")
	require.NoError(t, err)

	c.mu.Lock()
	c.entries["example.test"].ExpiresAt = time.Now().Add(-time.Second)
	c.mu.Unlock()

	r.err = errors.New("network down")
	ips, err := c.Resolve(context.Background(), "example.test")
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.1", ips[0].String())

	total, expired := c.Stats()
	assert.Equal(t, 1, total)
	assert.Equal(t, 1, expired)
	assert.Equal(t, 1, c.Cleanup())
	total, _ = c.Stats()
	assert.Zero(t, total)
}

func TestCacheInvalidate(t *testing.T) {
	r := &fakeResolver{ips: []net.IP{net.ParseIP("192.0.2.1")}}
	c := NewCache(WithResolver(r))
	_, err := c.Resolve(context.Background(), "example.test")
	require.NoError(t, err)

	c.Invalidate("example.test")
	total, _ := c.Stats()
	assert.Zero(t, total)

	r.err = errors.New("network down")
	_, err = c.Resolve(context.Background(), "example.test")
	assert.Error(t, err)
}

func TestCacheRunCleanupStops(t *testing.T) {
	c := NewCache(WithResolver(&fakeResolver{ips: []net.IP{net.ParseIP("192.0.2.1")}}))
	_, err := c.Resolve(context.Background(), "example.test")
	require.NoError(t, err)
	c.mu.Lock()
	c.entries["example.test"].ExpiresAt = time.Now().Add(-time.Second)
	c.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.RunCleanup(ctx, 10*time.Millisecond)
		close(done)
	}()
	assert.Eventually(t, func() bool {
		total, _ := c.Stats()
		return total == 0
	}, time.Second, 10*time.Millisecond)
	cancel()
	<-done
}

func TestCacheEmptyAnswer(t *testing.T) {
	c := NewCache(WithResolver(&fakeResolver{}))
	_, err := c.Resolve(context.Background(), "example.test")

	var dnsErr *net.DNSError
	require.ErrorAs(t, err, &dnsErr)
	assert.True(t, dnsErr.IsNotFound)
}

func TestInterleave(t *testing.T) {
	in := []net.IP{
		net.ParseIP("192.0.2.1"),
		net.ParseIP("192.0.2.2"),
		net.ParseIP("2001:db8::1"),
	}
	got := interleave(in)
	want := []string{"2001:db8::1", "192.0.2.1", "192.0.2.2"}
	for i, ip := range got {
		assert.Equal(t, want[i], ip.String())
	}
}

func startNameserver(t *testing.T, handler mdns.HandlerFunc) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	started := make(chan struct{})
	srv := &mdns.Server{PacketConn: pc, Handler: handler, NotifyStartedFunc: func() { close(started) }}
	go func() {
		_ = srv.ActivateAndServe()
	}()
	<-started
	t.Cleanup(func() { _ = srv.Shutdown() })
	return pc.LocalAddr().String()
}

func TestNameserverResolver(t *testing.T) {
	addr := startNameserver(t, func(w mdns.ResponseWriter, r *mdns.Msg) {
		m := new(mdns.Msg)
		m.SetReply(r)
		switch r.Question[0].Qtype {
		case mdns.TypeA:
			rr, _ := mdns.NewRR("example.test. 120 IN A 192.0.2.10")
			m.Answer = append(m.Answer, rr)
		case mdns.TypeAAAA:
			rr, _ := mdns.NewRR("example.test. 60 IN AAAA 2001:db8::10")
			m.Answer = append(m.Answer, rr)
		}
		_ = w.WriteMsg(m)
	})

	r := NewNameserverResolver(addr, time.Second)
	ips, ttl, err := r.LookupIP(context.Background(), "example.test")
	require.NoError(t, err)
	require.Len(t, ips, 2)
	assert.Equal(t, "2001:db8::10", ips[0].String())
	assert.Equal(t, "192.0.2.10", ips[1].String())
	assert.Equal(t, 60*time.Second, ttl)
}

func TestNameserverResolverNXDomain(t *testing.T) {
	addr := startNameserver(t, func(w mdns.ResponseWriter, r *mdns.Msg) {
		m := new(mdns.Msg)
		m.SetRcode(r, mdns.RcodeNameError)
		_ = w.WriteMsg(m)
	})

	r := NewNameserverResolver(addr, time.Second)
	_, _, err := r.LookupIP(context.Background(), "missing.test")

	var dnsErr *net.DNSError
	require.ErrorAs(t, err, &dnsErr)
	assert.True(t, dnsErr.IsNotFound)
}
