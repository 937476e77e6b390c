package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/bytedance/sonic"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sardanioss/cloakfetch/client"
	"github.com/sardanioss/cloakfetch/headers"
	"github.com/sardanioss/cloakfetch/metrics"
	"github.com/sardanioss/cloakfetch/protocol"
)

func getCmdDaemon(gs *globalState) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Serve line-delimited JSON requests on stdin and stdout",
		Long: `Serve line-delimited JSON requests on stdin and stdout.

Each input line is one message with an "id" and a "type". Replies echo the
id. Requests run concurrently, so replies may arrive out of order. The daemon
exits on EOF or after a "shutdown" message, once in-flight requests finish.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, cfg, log, err := gs.newClient()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			if cfg.MetricsAddr != "" {
				stop, err := serveMetrics(cfg.MetricsAddr, log)
				if err != nil {
					return err
				}
				defer stop()
			}
			return newDaemon(c, gs.stdin, gs.stdout, log).Run(cmd.Context())
		},
	}
}

func serveMetrics(addr string, log logrus.FieldLogger) (stop func(), err error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Warn("metrics server stopped")
		}
	}()
	log.WithField("addr", ln.Addr().String()).Info("serving metrics")
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

// daemon handles IPC messages from stdin.
type daemon struct {
	c   *client.Client
	log logrus.FieldLogger

	in *bufio.Reader

	outputMu sync.Mutex
	out      io.Writer

	inflight sync.WaitGroup
}

func newDaemon(c *client.Client, in io.Reader, out io.Writer, log logrus.FieldLogger) *daemon {
	return &daemon{
		c:   c,
		log: log,
		in:  bufio.NewReader(in),
		out: out,
	}
}

// Run reads messages until EOF, a shutdown message or ctx cancellation, then
// waits for in-flight requests.
func (d *daemon) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		for {
			line, err := d.in.ReadBytes('\n')
			if len(line) > 0 {
				select {
				case lines <- line:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				readErr <- err
				return
			}
		}
	}()

	defer d.inflight.Wait()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		case line := <-lines:
			if id, stop := d.handleLine(ctx, line); stop {
				d.inflight.Wait()
				d.send(protocol.Envelope{ID: id, Type: protocol.TypeShutdown})
				return nil
			}
		}
	}
}

// handleLine routes one message. It reports whether the daemon should stop,
// along with the shutdown message ID.
func (d *daemon) handleLine(ctx context.Context, line []byte) (string, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return "", false
	}
	var env protocol.Envelope
	if err := sonic.Unmarshal(line, &env); err != nil {
		d.sendError("", protocol.ErrCodeInvalidRequest, "invalid JSON: "+err.Error())
		return "", false
	}

	switch env.Type {
	case protocol.TypePing:
		d.send(protocol.PingResponse{ID: env.ID, Type: protocol.TypePong, Version: version})
	case protocol.TypeShutdown:
		return env.ID, true
	case protocol.TypePresetList:
		d.send(protocol.PresetListResponse{ID: env.ID, Type: protocol.TypePresetList, Presets: d.c.Profiles()})
	case protocol.TypeSessionCreate:
		d.handleSessionCreate(env.ID, line)
	case protocol.TypeSessionClose:
		d.handleSessionClose(env.ID, line)
	case protocol.TypeSessionList:
		d.handleSessionList(env.ID)
	case protocol.TypeCookieClear:
		d.handleCookieClear(ctx, env.ID, line)
	case protocol.TypeRequest:
		d.inflight.Add(1)
		go func() {
			defer d.inflight.Done()
			d.handleRequest(ctx, env.ID, line)
		}()
	default:
		d.sendError(env.ID, protocol.ErrCodeInvalidRequest, "unknown message type: "+string(env.Type))
	}
	return "", false
}

func (d *daemon) handleSessionCreate(id string, data []byte) {
	var req protocol.SessionCreateRequest
	if err := sonic.Unmarshal(data, &req); err != nil {
		d.sendError(id, protocol.ErrCodeInvalidRequest, "invalid session.create: "+err.Error())
		return
	}
	var opts client.SessionOptions
	if o := req.Options; o != nil {
		opts = client.SessionOptions{
			ID:                 o.ID,
			Profile:            o.Profile,
			Proxy:              o.Proxy,
			Timeout:            millis(o.Timeout),
			InsecureSkipVerify: o.InsecureSkipVerify,
		}
	}
	s, err := d.c.NewSession(opts)
	if err != nil {
		d.sendErr(id, err)
		return
	}
	d.log.WithField("session", s.ID()).Debug("session created")
	d.send(protocol.SessionCreateResponse{ID: id, Type: protocol.TypeSessionCreate, Session: s.ID()})
}

func (d *daemon) handleSessionClose(id string, data []byte) {
	var req protocol.SessionRequest
	if err := sonic.Unmarshal(data, &req); err != nil {
		d.sendError(id, protocol.ErrCodeInvalidRequest, "invalid session.close: "+err.Error())
		return
	}
	// Close blocks until the session's in-flight requests finish.
	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		if err := d.c.CloseSession(req.Session); err != nil {
			d.sendErr(id, err)
			return
		}
		d.send(protocol.SessionRequest{ID: id, Type: protocol.TypeSessionClose, Session: req.Session})
	}()
}

func (d *daemon) handleSessionList(id string) {
	stats := d.c.Sessions()
	infos := make([]protocol.SessionInfo, 0, len(stats))
	for _, st := range stats {
		infos = append(infos, protocol.SessionInfo{
			ID:           st.ID,
			Profile:      st.Profile,
			RequestCount: st.Requests,
			CreatedAt:    st.CreatedAt.UnixMilli(),
			LastUsed:     st.LastUsed.UnixMilli(),
		})
	}
	d.send(protocol.SessionListResponse{ID: id, Type: protocol.TypeSessionList, Sessions: infos})
}

func (d *daemon) handleCookieClear(ctx context.Context, id string, data []byte) {
	var req protocol.SessionRequest
	if err := sonic.Unmarshal(data, &req); err != nil {
		d.sendError(id, protocol.ErrCodeInvalidRequest, "invalid cookie.clear: "+err.Error())
		return
	}
	s, err := d.c.Session(req.Session)
	if err != nil {
		d.sendErr(id, err)
		return
	}
	if err := s.ClearCookies(ctx); err != nil {
		d.sendErr(id, err)
		return
	}
	d.send(protocol.SessionRequest{ID: id, Type: protocol.TypeCookieClear, Session: req.Session})
}

func (d *daemon) handleRequest(ctx context.Context, id string, data []byte) {
	var req protocol.Request
	if err := sonic.Unmarshal(data, &req); err != nil {
		d.sendError(id, protocol.ErrCodeInvalidRequest, "invalid request: "+err.Error())
		return
	}
	opts, err := fetchOptions(&req)
	if err != nil {
		d.sendError(id, protocol.ErrCodeInvalidRequest, err.Error())
		return
	}

	resp, err := d.c.Fetch(ctx, req.URL, opts)
	if err != nil {
		d.sendErr(id, err)
		return
	}
	body, err := resp.Bytes()
	if err != nil {
		d.sendErr(id, err)
		return
	}

	out := protocol.Response{
		ID:         id,
		Type:       protocol.TypeResponse,
		Session:    req.Session,
		Status:     resp.Status,
		StatusText: resp.StatusText,
		Cookies:    resp.Cookies,
		URL:        resp.URL,
		Redirected: resp.Redirected,
		BodySize:   len(body),
	}
	for _, e := range resp.Headers.Entries() {
		out.Headers = append(out.Headers, [2]string{e.Name, e.Value})
	}
	contentType, _ := resp.Headers.Get("Content-Type")
	out.Body, out.BodyEncoding = encodeBody(contentType, body)
	d.send(out)
}

// encodeBody returns the body as text when the content type says so and the
// bytes are valid UTF-8, and as base64 otherwise.
func encodeBody(contentType string, body []byte) (string, string) {
	if isTextContent(contentType) && utf8.Valid(body) {
		return string(body), "text"
	}
	return base64.StdEncoding.EncodeToString(body), "base64"
}

// fetchOptions maps a wire request onto client options.
func fetchOptions(req *protocol.Request) (*client.FetchOptions, error) {
	opts := &client.FetchOptions{
		Method:    req.Method,
		SessionID: req.Session,
	}
	if len(req.Headers) > 0 {
		pairs := make(headers.Pairs, 0, len(req.Headers))
		for _, h := range req.Headers {
			pairs = append(pairs, headers.Pair{Name: h[0], Value: h[1]})
		}
		opts.Headers = pairs
	}

	encoding := ""
	if o := req.Options; o != nil {
		mode, ok := client.ParseCookieMode(o.CookieMode)
		if !ok {
			return nil, errors.New("invalid cookieMode: " + o.CookieMode)
		}
		opts.CookieMode = mode
		opts.Timeout = millis(o.Timeout)
		opts.Profile = o.Profile
		opts.Proxy = o.Proxy
		opts.DisableDefaultHeaders = o.DisableDefaultHeaders
		opts.FollowRedirects = o.FollowRedirects
		opts.MaxRedirects = o.MaxRedirects
		encoding = o.BodyEncoding
	}

	switch encoding {
	case "", "text":
		if req.Body != "" {
			opts.Body = req.Body
		}
	case "base64":
		body, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			return nil, errors.New("invalid base64 body: " + err.Error())
		}
		opts.Body = body
	default:
		return nil, errors.New("invalid bodyEncoding: " + encoding)
	}
	return opts, nil
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func (d *daemon) send(msg any) {
	data, err := sonic.Marshal(msg)
	if err != nil {
		d.log.WithError(err).Error("encoding reply")
		return
	}
	data = append(data, '\n')

	d.outputMu.Lock()
	defer d.outputMu.Unlock()
	if _, err := d.out.Write(data); err != nil {
		d.log.WithError(err).Error("writing reply")
	}
}

func (d *daemon) sendError(id, code, message string) {
	d.send(protocol.NewErrorResponse(id, code, message))
}

func (d *daemon) sendErr(id string, err error) {
	d.sendError(id, protocol.ErrorCode(err), err.Error())
}

var textTypes = []string{
	"text/",
	"application/json",
	"application/xml",
	"application/javascript",
	"application/x-www-form-urlencoded",
	"+json",
	"+xml",
}

// isTextContent reports whether a body with this content type travels as
// text. A missing content type counts as text; encodeBody still checks the
// bytes.
func isTextContent(contentType string) bool {
	if contentType == "" {
		return true
	}
	contentType = strings.ToLower(contentType)
	for _, t := range textTypes {
		if strings.Contains(contentType, t) {
			return true
		}
	}
	return false
}
