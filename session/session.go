// Package session tracks persistent sessions: named bindings to one engine
// cookie jar plus request defaults. Sessions are safe for concurrent use and
// are never closed underneath an in-flight request.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/sardanioss/cloakfetch/protocol"
)

// Defaults are the request settings a session applies when a call does not
// override them.
type Defaults struct {
	Profile            string
	Proxy              string
	Timeout            time.Duration
	InsecureSkipVerify bool
}

// Options configures Registry.Create.
type Options struct {
	// ID is the caller-chosen session id. A UUID is generated when empty.
	ID string
	Defaults
}

// Session represents a persistent cookie scope
type Session struct {
	id        string
	jar       protocol.JarID
	defaults  Defaults
	createdAt time.Time

	registry *Registry
	limiter  *rate.Limiter

	mu       sync.Mutex
	closed   bool
	lastUsed time.Time
	requests int64

	inflight  sync.WaitGroup
	active    atomic.Int32
	closeOnce sync.Once
	closeErr  error
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Defaults returns the session's request defaults.
func (s *Session) Defaults() Defaults { return s.defaults }

// Lease pins the session's jar for the duration of one call.
type Lease struct {
	s    *Session
	once sync.Once
}

// Jar returns the jar the leased call must use.
func (l *Lease) Jar() protocol.JarID { return l.s.jar }

// Release ends the lease. Calling it more than once is harmless.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.s.active.Add(-1)
		l.s.inflight.Done()
	})
}

// Acquire leases the session's jar. It waits on the session's rate limit, if
// any, and fails with ErrSessionClosed once Close has started.
func (s *Session) Acquire(ctx context.Context) (*Lease, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// The limiter refuses waits that would outlast the deadline.
			return nil, protocol.NewError(protocol.KindTimeout, "session.acquire", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, protocol.Errorf(protocol.KindSessionClosed, "session.acquire", "session %s is closed", s.id)
	}
	s.inflight.Add(1)
	s.active.Add(1)
	s.lastUsed = time.Now()
	s.requests++
	return &Lease{s: s}, nil
}

// ClearCookies empties the session jar. The session stays usable.
func (s *Session) ClearCookies(ctx context.Context) error {
	lease, err := s.Acquire(ctx)
	if err != nil {
		return err
	}
	defer lease.Release()
	return s.registry.jars.ClearJar(s.jar)
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close ends the session. New calls fail immediately; Close returns after
// in-flight calls finish and the jar is released. It is idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.closeOnce.Do(func() {
		s.registry.forget(s)
		s.inflight.Wait()
		s.closeErr = s.registry.jars.ReleaseJar(s.jar)
		s.registry.log.WithField("session", s.id).Debug("session closed")
	})
	return s.closeErr
}

// idleSince reports whether the session has had no traffic since cutoff
// and has nothing in flight.
func (s *Session) idleSince(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && s.active.Load() == 0 && s.lastUsed.Before(cutoff)
}

// Stats contains session statistics
type Stats struct {
	ID        string        `json:"id"`
	Profile   string        `json:"profile"`
	Proxy     string        `json:"proxy,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
	LastUsed  time.Time     `json:"lastUsed"`
	Requests  int64         `json:"requests"`
	InFlight  int           `json:"inFlight"`
	Closed    bool          `json:"closed"`
	IdleTime  time.Duration `json:"idleTime"`
}

// Stats returns session statistics
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		ID:        s.id,
		Profile:   s.defaults.Profile,
		Proxy:     s.defaults.Proxy,
		CreatedAt: s.createdAt,
		LastUsed:  s.lastUsed,
		Requests:  s.requests,
		InFlight:  int(s.active.Load()),
		Closed:    s.closed,
		IdleTime:  time.Since(s.lastUsed),
	}
}
