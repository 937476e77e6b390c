// Package dns resolves hostnames for the transport dialer and caches answers
// for their TTL.
package dns

import (
	"context"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Resolver looks up the addresses of a host. A zero TTL means the resolver
// does not know the record lifetime.
type Resolver interface {
	LookupIP(ctx context.Context, host string) ([]net.IP, time.Duration, error)
}

// Entry represents a cached DNS entry
type Entry struct {
	IPs       []net.IP
	ExpiresAt time.Time
	LookupAt  time.Time
}

func (e *Entry) expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// Observer is notified of cache hits and misses.
type Observer interface {
	Hit()
	Miss()
}

// Cache provides TTL-aware DNS caching
type Cache struct {
	entries    map[string]*Entry
	mu         sync.RWMutex
	resolver   Resolver
	lookups    singleflight.Group
	observer   Observer
	defaultTTL time.Duration
	minTTL     time.Duration
}

// Option configures a Cache.
type Option func(*Cache)

// WithResolver replaces the system resolver.
func WithResolver(r Resolver) Option {
	return func(c *Cache) { c.resolver = r }
}

// WithMinTTL sets the floor applied to every answer TTL.
func WithMinTTL(d time.Duration) Option {
	return func(c *Cache) { c.minTTL = d }
}

// WithObserver reports hits and misses to o.
func WithObserver(o Observer) Option {
	return func(c *Cache) { c.observer = o }
}

// NewCache creates a new DNS cache
func NewCache(opts ...Option) *Cache {
	c := &Cache{
		entries:    make(map[string]*Entry),
		resolver:   SystemResolver{Resolver: net.DefaultResolver},
		defaultTTL: 5 * time.Minute,
		minTTL:     30 * time.Second, // prevents hammering the upstream
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Resolve looks up the IP addresses for a hostname
// Returns cached result if available and not expired
func (c *Cache) Resolve(ctx context.Context, host string) ([]net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []net.IP{ip}, nil
	}

	c.mu.RLock()
	entry, exists := c.entries[host]
	c.mu.RUnlock()

	if exists && !entry.expired(time.Now()) {
		if c.observer != nil {
			c.observer.Hit()
		}
		return entry.IPs, nil
	}
	if c.observer != nil {
		c.observer.Miss()
	}

	v, err, _ := c.lookups.Do(host, func() (any, error) {
		ips, ttl, err := c.resolver.LookupIP(ctx, host)
		if err != nil {
			return nil, err
		}
		if len(ips) == 0 {
			return nil, &net.DNSError{Err: "no addresses found", Name: host, IsNotFound: true}
		}
		c.store(host, ips, ttl)
		return ips, nil
	})
	if err != nil {
		// A stale answer beats a failed lookup
		if exists {
			return entry.IPs, nil
		}
		return nil, err
	}
	return v.([]net.IP), nil
}

func (c *Cache) store(host string, ips []net.IP, ttl time.Duration) {
	if ttl == 0 {
		ttl = c.defaultTTL
	}
	if ttl < c.minTTL {
		ttl = c.minTTL
	}
	now := time.Now()
	c.mu.Lock()
	c.entries[host] = &Entry{IPs: ips, ExpiresAt: now.Add(ttl), LookupAt: now}
	c.mu.Unlock()
}

// ResolveAllSorted returns all IPs sorted for Happy Eyeballs (RFC 8305)
// IPv6 addresses first, interleaved with IPv4
func (c *Cache) ResolveAllSorted(ctx context.Context, host string) ([]net.IP, error) {
	ips, err := c.Resolve(ctx, host)
	if err != nil {
		return nil, err
	}
	return interleave(ips), nil
}

func interleave(ips []net.IP) []net.IP {
	var ipv4, ipv6 []net.IP
	for _, ip := range ips {
		if ip.To4() != nil {
			ipv4 = append(ipv4, ip)
		} else {
			ipv6 = append(ipv6, ip)
		}
	}

	result := make([]net.IP, 0, len(ips))
	i, j := 0, 0
	for i < len(ipv6) || j < len(ipv4) {
		if i < len(ipv6) {
			result = append(result, ipv6[i])
			i++
		}
		if j < len(ipv4) {
			result = append(result, ipv4[j])
			j++
		}
	}
	return result
}

// Invalidate drops host so the next Resolve asks the resolver again. The
// dialer calls it when no cached address accepts a connection.
func (c *Cache) Invalidate(host string) {
	c.mu.Lock()
	delete(c.entries, host)
	c.mu.Unlock()
}

// Stats returns cache statistics
func (c *Cache) Stats() (total int, expired int) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := time.Now()
	for _, entry := range c.entries {
		total++
		if entry.expired(now) {
			expired++
		}
	}
	return
}

// Cleanup removes expired entries and reports how many it removed.
func (c *Cache) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	for host, entry := range c.entries {
		if entry.expired(now) {
			delete(c.entries, host)
			removed++
		}
	}
	return removed
}

// RunCleanup calls Cleanup every interval until ctx is done.
func (c *Cache) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Cleanup()
		}
	}
}
