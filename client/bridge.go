package client

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sardanioss/cloakfetch/metrics"
	"github.com/sardanioss/cloakfetch/protocol"
	"github.com/sardanioss/cloakfetch/session"
)

// errDeadline is the cancellation cause of the per-call timeout. Any other
// cause means the caller gave up.
var errDeadline = errors.New("cloakfetch: call deadline")

// bridge runs engine calls under the caller's context and the call timeout.
type bridge struct {
	engine protocol.Engine
	log    logrus.FieldLogger
}

// jarScope decides which jar a call uses and how it is given back.
type jarScope struct {
	sess *session.Session
	mode CookieMode
}

// acquire returns the jar and the matching release. The release must run
// only after the engine is done with the jar.
func (b *bridge) acquire(ctx context.Context, scope jarScope) (protocol.JarID, func(), error) {
	if scope.mode == CookieModePersistent {
		lease, err := scope.sess.Acquire(ctx)
		if err != nil {
			return "", nil, err
		}
		return lease.Jar(), lease.Release, nil
	}
	jar, err := b.engine.AllocateJar()
	if err != nil {
		return "", nil, protocol.NewError(protocol.KindTransport, "jar.allocate", err)
	}
	return jar, func() {
		if err := b.engine.ReleaseJar(jar); err != nil {
			b.log.WithError(err).WithField("jar", jar).Warn("release ephemeral jar")
		}
	}, nil
}

type fetchResult struct {
	raw *protocol.RawResponse
	err error
}

// fetch submits d. The caller returns as soon as ctx or the timeout fires;
// the engine call finishes in the background and its result is dropped.
func (b *bridge) fetch(ctx context.Context, d *protocol.RequestDescriptor, scope jarScope) (*Response, error) {
	const op = "fetch"
	start := time.Now()
	resp, err := b.doFetch(ctx, op, d, scope)
	metrics.ObserveRequest(string(protocol.KindOf(err)), time.Since(start))

	log := b.log.WithFields(logrus.Fields{
		"method":  d.Method,
		"url":     d.URL,
		"profile": d.Profile,
		"elapsed": time.Since(start).Round(time.Millisecond),
	})
	if err != nil {
		log.WithError(err).Debug("fetch failed")
	} else {
		log.WithField("status", resp.Status).Debug("fetch done")
	}
	return resp, err
}

func (b *bridge) doFetch(ctx context.Context, op string, d *protocol.RequestDescriptor, scope jarScope) (*Response, error) {
	if ctx.Err() != nil {
		return nil, cancelled(ctx, op, d.Timeout)
	}

	ctx, cancel := context.WithTimeoutCause(ctx, d.Timeout, errDeadline)
	defer cancel()

	jar, release, err := b.acquire(ctx, scope)
	if err != nil {
		if ctx.Err() != nil {
			return nil, cancelled(ctx, op, d.Timeout)
		}
		return nil, err
	}
	d.Jar = jar

	results := make(chan fetchResult, 1)
	go func() {
		defer release()
		raw, err := b.engine.SubmitRequest(ctx, d)
		results <- fetchResult{raw, err}
	}()

	select {
	case <-ctx.Done():
		return nil, cancelled(ctx, op, d.Timeout)
	case res := <-results:
		if ctx.Err() != nil {
			return nil, cancelled(ctx, op, d.Timeout)
		}
		if res.err != nil {
			return nil, engineError(op, res.err)
		}
		return newResponse(res.raw), nil
	}
}

// cancelled classifies a done context. The call timeout and the caller's
// own deadline are timeouts; everything else is an abort.
func cancelled(ctx context.Context, op string, timeout time.Duration) error {
	cause := context.Cause(ctx)
	switch {
	case errors.Is(cause, errDeadline):
		return protocol.Errorf(protocol.KindTimeout, op, "timed out after %s", timeout)
	case errors.Is(cause, context.DeadlineExceeded):
		return protocol.NewError(protocol.KindTimeout, op, cause)
	default:
		return protocol.NewError(protocol.KindAborted, op, cause)
	}
}

// engineError keeps classified engine errors and treats the rest as
// transport failures.
func engineError(op string, err error) error {
	var classified *protocol.Error
	if errors.As(err, &classified) {
		return err
	}
	return protocol.NewError(protocol.KindTransport, op, err)
}
