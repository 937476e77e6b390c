package session

import (
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/sardanioss/cloakfetch/metrics"
	"github.com/sardanioss/cloakfetch/protocol"
)

const (
	DefaultMaxSessions = 100

	// tombstoneLimit bounds how many closed ids are remembered.
	tombstoneLimit = 4096
)

// Registry manages all live sessions
type Registry struct {
	jars protocol.JarEngine
	log  logrus.FieldLogger

	mu         sync.RWMutex
	live       map[string]*Session
	tombstones *lru.Cache[string, struct{}]

	maxSessions     int
	idleTimeout     time.Duration
	cleanupInterval time.Duration
	rateLimit       rate.Limit
	rateBurst       int

	stop     chan struct{}
	stopOnce sync.Once
	loop     sync.WaitGroup
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(r *Registry) { r.log = l }
}

// WithMaxSessions caps live sessions. Zero or less means DefaultMaxSessions.
func WithMaxSessions(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.maxSessions = n
		}
	}
}

// WithIdleTimeout closes sessions that have been idle longer than d. The
// sweep runs every d/4, at least once a second.
func WithIdleTimeout(d time.Duration) Option {
	return func(r *Registry) {
		r.idleTimeout = d
		r.cleanupInterval = max(d/4, time.Second)
	}
}

// WithRateLimit limits each session to limit calls per second with the
// given burst.
func WithRateLimit(limit float64, burst int) Option {
	return func(r *Registry) {
		r.rateLimit = rate.Limit(limit)
		r.rateBurst = max(burst, 1)
	}
}

// NewRegistry creates a registry whose sessions allocate jars from jars.
// Call Shutdown to close every session and stop the idle sweep.
func NewRegistry(jars protocol.JarEngine, opts ...Option) *Registry {
	tombstones, _ := lru.New[string, struct{}](tombstoneLimit)
	r := &Registry{
		jars:        jars,
		live:        make(map[string]*Session),
		tombstones:  tombstones,
		maxSessions: DefaultMaxSessions,
		stop:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		r.log = l
	}
	r.log = r.log.WithField("component", "sessions")

	if r.idleTimeout > 0 {
		r.loop.Add(1)
		go r.cleanupLoop()
	}
	return r
}

// Create registers a new session and allocates its jar.
func (r *Registry) Create(opts Options) (*Session, error) {
	const op = "session.create"

	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	if err := r.admit(op, id); err != nil {
		return nil, err
	}

	jar, err := r.jars.AllocateJar()
	if err != nil {
		return nil, protocol.NewError(protocol.KindTransport, op, err)
	}

	now := time.Now()
	s := &Session{
		id:        id,
		jar:       jar,
		defaults:  opts.Defaults,
		createdAt: now,
		lastUsed:  now,
		registry:  r,
	}
	if r.rateLimit > 0 {
		s.limiter = rate.NewLimiter(r.rateLimit, r.rateBurst)
	}

	r.mu.Lock()
	if err := r.admitLocked(op, id); err != nil {
		r.mu.Unlock()
		_ = r.jars.ReleaseJar(jar)
		return nil, err
	}
	r.live[id] = s
	r.tombstones.Remove(id)
	metrics.ActiveSessions.Set(float64(len(r.live)))
	r.mu.Unlock()

	r.log.WithFields(logrus.Fields{
		"session": id,
		"profile": opts.Profile,
	}).Debug("session created")
	return s, nil
}

func (r *Registry) admit(op, id string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.admitLocked(op, id)
}

func (r *Registry) admitLocked(op, id string) error {
	if _, exists := r.live[id]; exists {
		return protocol.Errorf(protocol.KindDuplicateSession, op, "session id %q is already in use", id)
	}
	if len(r.live) >= r.maxSessions {
		return protocol.Errorf(protocol.KindValidation, op, "%w (%d)", protocol.ErrSessionLimit, r.maxSessions)
	}
	return nil
}

// Lookup returns the live session with the given id.
func (r *Registry) Lookup(id string) (*Session, error) {
	const op = "session.lookup"

	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.live[id]; ok {
		return s, nil
	}
	if r.tombstones.Contains(id) {
		return nil, protocol.Errorf(protocol.KindSessionClosed, op, "session %s is closed", id)
	}
	return nil, protocol.Errorf(protocol.KindValidation, op, "%w: %s", protocol.ErrSessionNotFound, id)
}

// Close closes the live session with the given id. Closing an id that was
// already closed is a no-op.
func (r *Registry) Close(id string) error {
	s, err := r.Lookup(id)
	if protocol.KindOf(err) == protocol.KindSessionClosed {
		return nil
	}
	if err != nil {
		return err
	}
	return s.Close()
}

// forget moves s from the live table to the tombstones.
func (r *Registry) forget(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.live[s.id] == s {
		delete(r.live, s.id)
		r.tombstones.Add(s.id, struct{}{})
	}
	metrics.ActiveSessions.Set(float64(len(r.live)))
}

// List returns stats for all live sessions, oldest first.
func (r *Registry) List() []Stats {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.live))
	for _, s := range r.live {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	stats := make([]Stats, len(sessions))
	for i, s := range sessions {
		stats[i] = s.Stats()
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].CreatedAt.Equal(stats[j].CreatedAt) {
			return stats[i].ID < stats[j].ID
		}
		return stats[i].CreatedAt.Before(stats[j].CreatedAt)
	})
	return stats
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.live)
}

// cleanupLoop periodically closes idle sessions
func (r *Registry) cleanupLoop() {
	defer r.loop.Done()
	ticker := time.NewTicker(r.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.closeIdle(time.Now().Add(-r.idleTimeout))
		case <-r.stop:
			return
		}
	}
}

// closeIdle closes sessions with no traffic since cutoff.
func (r *Registry) closeIdle(cutoff time.Time) int {
	r.mu.RLock()
	var idle []*Session
	for _, s := range r.live {
		if s.idleSince(cutoff) {
			idle = append(idle, s)
		}
	}
	r.mu.RUnlock()

	for _, s := range idle {
		r.log.WithField("session", s.id).Debug("closing idle session")
		_ = s.Close()
	}
	return len(idle)
}

// Shutdown stops the idle sweep and closes every live session.
func (r *Registry) Shutdown() error {
	r.stopOnce.Do(func() { close(r.stop) })
	r.loop.Wait()

	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.live))
	for _, s := range r.live {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	var errs []error
	for _, s := range sessions {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
