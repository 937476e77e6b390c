package transport

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	http "github.com/sardanioss/http"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultCacheSize bounds the number of live transports.
	DefaultCacheSize = 1024

	// timeoutBucket groups request timeouts so calls with nearby deadlines
	// share connections.
	timeoutBucket = 5 * time.Second
)

// bucketTimeout rounds d up to the next whole bucket, with one bucket as
// the floor.
func bucketTimeout(d time.Duration) time.Duration {
	n := (d + timeoutBucket - 1) / timeoutBucket
	if n < 1 {
		n = 1
	}
	return n * timeoutBucket
}

// transportKey identifies the connection pool a request may reuse.
type transportKey struct {
	profile  string
	proxy    string
	bucket   time.Duration
	insecure bool
}

func (k transportKey) String() string {
	return fmt.Sprintf("%s|%s|%s|%t", k.profile, k.proxy, k.bucket, k.insecure)
}

type cacheEntry struct {
	transport *http.Transport
	dialer    *connDialer
}

// transportCache is an LRU of transports. Evicted transports drop their
// idle connections; requests already using one finish normally.
type transportCache struct {
	entries *lru.Cache[transportKey, *cacheEntry]
	group   singleflight.Group
	build   func(transportKey) (*cacheEntry, error)
	onSize  func(int)
}

func newTransportCache(size int, build func(transportKey) (*cacheEntry, error), onSize func(int)) (*transportCache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	c := &transportCache{build: build, onSize: onSize}
	entries, err := lru.NewWithEvict(size, func(_ transportKey, e *cacheEntry) {
		e.transport.CloseIdleConnections()
	})
	if err != nil {
		return nil, err
	}
	c.entries = entries
	return c, nil
}

func (c *transportCache) get(key transportKey) (*cacheEntry, error) {
	if e, ok := c.entries.Get(key); ok {
		return e, nil
	}
	v, err, _ := c.group.Do(key.String(), func() (any, error) {
		if e, ok := c.entries.Get(key); ok {
			return e, nil
		}
		e, err := c.build(key)
		if err != nil {
			return nil, err
		}
		c.entries.Add(key, e)
		c.report()
		return e, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*cacheEntry), nil
}

func (c *transportCache) len() int {
	return c.entries.Len()
}

func (c *transportCache) purge() {
	c.entries.Purge()
	c.report()
}

func (c *transportCache) report() {
	if c.onSize != nil {
		c.onSize(c.entries.Len())
	}
}
