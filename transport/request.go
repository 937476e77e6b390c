package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"time"

	http "github.com/sardanioss/http"
	"github.com/sirupsen/logrus"

	"github.com/sardanioss/cloakfetch/headers"
	"github.com/sardanioss/cloakfetch/protocol"
)

// DefaultMaxRedirects applies when a descriptor follows redirects without a
// limit of its own.
const DefaultMaxRedirects = 10

// SubmitRequest implements protocol.RequestEngine.
func (e *Engine) SubmitRequest(ctx context.Context, d *protocol.RequestDescriptor) (*protocol.RawResponse, error) {
	const op = "submit"

	preset, entry, err := e.entryFor(op, d)
	if err != nil {
		return nil, err
	}
	jar, err := e.jar(d.Jar)
	if err != nil {
		return nil, err
	}

	hs := d.Headers.Clone()
	if d.ContentType != "" && !hs.Has("Content-Type") {
		hs.Append("Content-Type", d.ContentType)
	}
	if !d.DisableDefaultHeaders {
		hs = withEmulation(hs, preset, nil)
	}

	var body io.Reader
	if d.Body != nil {
		body = bytes.NewReader(d.Body)
	}
	req, err := http.NewRequestWithContext(ctx, d.Method, d.URL, body)
	if err != nil {
		return nil, protocol.Errorf(protocol.KindValidation, op, "%w: %w", protocol.ErrInvalidURL, err)
	}
	wire, host := wireHeader(hs)
	req.Header = wire
	if host != "" {
		req.Host = host
	}

	redirects := 0
	rec := &recordingJar{jar: jar}
	hc := &http.Client{
		Transport: entry.transport,
		Jar:       rec,
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if !d.FollowRedirects {
				return http.ErrUseLastResponse
			}
			limit := d.MaxRedirects
			if limit <= 0 {
				limit = DefaultMaxRedirects
			}
			if len(via) >= limit {
				return fmt.Errorf("stopped after %d redirects", limit)
			}
			redirects = len(via)
			return nil
		},
	}

	log := e.log.WithFields(logrus.Fields{
		"method":  d.Method,
		"url":     d.URL,
		"profile": preset.Name,
	})
	start := time.Now()
	log.Debug("request start")

	resp, err := hc.Do(req)
	if err != nil {
		log.WithError(err).Debug("request failed")
		return nil, classify(ctx, op, err)
	}
	defer resp.Body.Close()

	data, err := readBody(resp.Body, resp.Header.Get("Content-Encoding"))
	if err != nil {
		return nil, classify(ctx, op, err)
	}

	log.WithFields(logrus.Fields{
		"status":    resp.StatusCode,
		"redirects": redirects,
		"duration":  time.Since(start),
	}).Debug("request done")

	return &protocol.RawResponse{
		Status:     resp.StatusCode,
		StatusText: statusText(resp),
		Headers:    responseHeaders(resp.Header),
		Body:       data,
		Cookies:    rec.observed(),
		URL:        resp.Request.URL.String(),
		Redirected: redirects > 0,
		Protocol:   resp.Proto,
	}, nil
}

// statusText is the reason phrase the server sent, falling back to the
// registered one.
func statusText(resp *http.Response) string {
	if _, reason, ok := strings.Cut(resp.Status, " "); ok && reason != "" {
		return reason
	}
	return http.StatusText(resp.StatusCode)
}

// responseHeaders flattens h into lowercase entries sorted by name. Values of
// one name keep their received order.
func responseHeaders(h http.Header) []headers.Entry {
	out := make([]headers.Entry, 0, len(h))
	for _, name := range slices.Sorted(maps.Keys(h)) {
		lower := strings.ToLower(name)
		for _, v := range h[name] {
			out = append(out, headers.Entry{Name: lower, Value: v})
		}
	}
	return out
}
