package transport

import (
	"context"
	"errors"
	stdhttp "net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/sardanioss/cloakfetch/metrics"
	"github.com/sardanioss/cloakfetch/protocol"
)

// closeEchoTimeout bounds how long a local close waits for the peer's close
// frame before the connection is dropped.
const closeEchoTimeout = 5 * time.Second

type wsConn struct {
	id   protocol.ConnID
	conn *websocket.Conn
	log  logrus.FieldLogger

	writeMu sync.Mutex

	closing     atomic.Bool
	closeCode   int
	closeReason string
}

// OpenWebSocket implements protocol.WebSocketEngine. The handshake carries
// the profile's User-Agent and Accept-Language plus the jar's cookies.
func (e *Engine) OpenWebSocket(ctx context.Context, d *protocol.RequestDescriptor, sink protocol.EventSink) (protocol.ConnID, error) {
	const op = "websocket.open"

	preset, entry, err := e.entryFor(op, d)
	if err != nil {
		return "", err
	}
	u, err := url.Parse(d.URL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		return "", protocol.Errorf(protocol.KindValidation, op, "%w: %q", protocol.ErrInvalidURL, d.URL)
	}

	hs := d.Headers.Clone()
	if !d.DisableDefaultHeaders {
		hs = withEmulation(hs, preset, func(name string) bool { return wsEmulated[name] })
	}
	hdr := make(stdhttp.Header, hs.Len()+1)
	for _, h := range hs.Entries() {
		if handshakeManaged(h.Name) {
			continue
		}
		hdr.Add(h.Name, h.Value)
	}
	if d.Jar != "" {
		jar, err := e.jar(d.Jar)
		if err != nil {
			return "", err
		}
		if cookie := jar.CookieHeader(u); cookie != "" {
			hdr.Set("Cookie", cookie)
		}
	}

	dialer := &websocket.Dialer{
		NetDialContext:    entry.dialer.DialContext,
		NetDialTLSContext: entry.dialer.DialTLSContext,
		HandshakeTimeout:  bucketTimeout(d.Timeout),
	}
	conn, resp, err := dialer.DialContext(ctx, d.URL, hdr)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			return "", protocol.Errorf(protocol.KindTransport, op, "handshake rejected with status %d: %w", resp.StatusCode, err)
		}
		return "", classify(ctx, op, err)
	}

	wc := &wsConn{
		id:   protocol.ConnID(uuid.NewString()),
		conn: conn,
	}
	wc.log = e.log.WithFields(logrus.Fields{"conn": wc.id, "url": d.URL})

	e.connsMu.Lock()
	e.conns[wc.id] = wc
	e.connsMu.Unlock()
	metrics.WebSocketsOpen.Inc()
	wc.log.Debug("websocket open")

	go e.readLoop(wc, sink)
	return wc.id, nil
}

// handshakeManaged reports headers the WebSocket dialer sets itself.
func handshakeManaged(name string) bool {
	switch lower := strings.ToLower(name); lower {
	case "upgrade", "connection", "host":
		return true
	default:
		return strings.HasPrefix(lower, "sec-websocket-")
	}
}

// readLoop delivers every frame to sink and ends with exactly one Close or
// Error event.
func (e *Engine) readLoop(wc *wsConn, sink protocol.EventSink) {
	defer func() {
		e.connsMu.Lock()
		delete(e.conns, wc.id)
		e.connsMu.Unlock()
		wc.conn.Close()
		metrics.WebSocketsOpen.Dec()
	}()

	for {
		mt, data, err := wc.conn.ReadMessage()
		if err == nil {
			sink(protocol.Event{
				Kind:    protocol.EventMessage,
				Message: protocol.Message{Binary: mt == websocket.BinaryMessage, Data: data},
			})
			continue
		}

		var ce *websocket.CloseError
		switch {
		case errors.As(err, &ce):
			wc.log.WithField("code", ce.Code).Debug("websocket closed")
			sink(protocol.Event{Kind: protocol.EventClose, Code: ce.Code, Reason: ce.Text})
		case wc.closing.Load():
			wc.log.Debug("websocket closed without echo")
			sink(protocol.Event{Kind: protocol.EventClose, Code: wc.closeCode, Reason: wc.closeReason})
		default:
			wc.log.WithError(err).Debug("websocket failed")
			sink(protocol.Event{Kind: protocol.EventError, Err: protocol.NewError(protocol.KindTransport, "websocket.read", err)})
		}
		return
	}
}

func (e *Engine) conn(op string, id protocol.ConnID) (*wsConn, error) {
	e.connsMu.Lock()
	wc, ok := e.conns[id]
	e.connsMu.Unlock()
	if !ok {
		return nil, protocol.Errorf(protocol.KindConnectionClosed, op, "%w: %s", protocol.ErrUnknownConn, id)
	}
	return wc, nil
}

// WSSend implements protocol.WebSocketEngine.
func (e *Engine) WSSend(ctx context.Context, id protocol.ConnID, msg protocol.Message) error {
	const op = "websocket.send"
	wc, err := e.conn(op, id)
	if err != nil {
		return err
	}
	if wc.closing.Load() {
		return protocol.NewError(protocol.KindConnectionClosed, op, nil)
	}

	mt := websocket.TextMessage
	if msg.Binary {
		mt = websocket.BinaryMessage
	}

	wc.writeMu.Lock()
	defer wc.writeMu.Unlock()
	deadline, _ := ctx.Deadline()
	if err := wc.conn.SetWriteDeadline(deadline); err != nil {
		return classify(ctx, op, err)
	}
	if err := wc.conn.WriteMessage(mt, msg.Data); err != nil {
		return classify(ctx, op, err)
	}
	return nil
}

// WSClose implements protocol.WebSocketEngine. It sends a close frame and
// lets the read loop finish once the peer answers or closeEchoTimeout
// passes.
func (e *Engine) WSClose(ctx context.Context, id protocol.ConnID, code int, reason string) error {
	const op = "websocket.close"
	wc, err := e.conn(op, id)
	if err != nil {
		return err
	}

	wc.writeMu.Lock()
	defer wc.writeMu.Unlock()
	if wc.closing.Load() {
		return protocol.NewError(protocol.KindConnectionClosed, op, nil)
	}
	wc.closeCode, wc.closeReason = code, reason
	wc.closing.Store(true)

	deadline := time.Now().Add(closeEchoTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	payload := websocket.FormatCloseMessage(code, reason)
	if err := wc.conn.WriteControl(websocket.CloseMessage, payload, deadline); err != nil {
		wc.conn.Close()
		return classify(ctx, op, err)
	}
	return wc.conn.SetReadDeadline(time.Now().Add(closeEchoTimeout))
}
