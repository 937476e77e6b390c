package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	fhttp "github.com/sardanioss/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sardanioss/cloakfetch/fingerprint"
	"github.com/sardanioss/cloakfetch/protocol"
)

type handshake struct {
	userAgent string
	cookie    string
}

// wsServer echoes frames until the client closes. Receiving "bye" makes
// the server close with 4000.
func wsServer(t *testing.T, seen chan<- handshake) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if seen != nil {
			seen <- handshake{userAgent: r.UserAgent(), cookie: r.Header.Get("Cookie")}
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if string(data) == "bye" {
				conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(4000, "server done"), time.Now().Add(time.Second))
				continue
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func collect() (protocol.EventSink, <-chan protocol.Event) {
	ch := make(chan protocol.Event, 16)
	return func(ev protocol.Event) { ch <- ev }, ch
}

func next(t *testing.T, ch <-chan protocol.Event) protocol.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("no event")
		return protocol.Event{}
	}
}

func TestWebSocketEchoAndLocalClose(t *testing.T) {
	seen := make(chan handshake, 1)
	srv := wsServer(t, seen)
	e := newTestEngine(t, Options{})

	sink, events := collect()
	id, err := e.OpenWebSocket(context.Background(), get(wsURL(srv), ""), sink)
	require.NoError(t, err)

	hs := <-seen
	assert.Equal(t, fingerprint.Chrome143Linux().UserAgent, hs.userAgent)

	require.NoError(t, e.WSSend(context.Background(), id, protocol.Message{Data: []byte("hello")}))
	ev := next(t, events)
	assert.Equal(t, protocol.EventMessage, ev.Kind)
	assert.Equal(t, "hello", string(ev.Message.Data))
	assert.False(t, ev.Message.Binary)

	require.NoError(t, e.WSSend(context.Background(), id, protocol.Message{Binary: true, Data: []byte{1, 2}}))
	ev = next(t, events)
	assert.True(t, ev.Message.Binary)

	require.NoError(t, e.WSClose(context.Background(), id, websocket.CloseNormalClosure, "done"))
	ev = next(t, events)
	assert.Equal(t, protocol.EventClose, ev.Kind)
	assert.Equal(t, websocket.CloseNormalClosure, ev.Code)

	assert.ErrorIs(t, e.WSClose(context.Background(), id, 1000, ""), protocol.ErrConnectionClosed)
}

func TestWebSocketRemoteClose(t *testing.T) {
	srv := wsServer(t, nil)
	e := newTestEngine(t, Options{})

	sink, events := collect()
	id, err := e.OpenWebSocket(context.Background(), get(wsURL(srv), ""), sink)
	require.NoError(t, err)

	require.NoError(t, e.WSSend(context.Background(), id, protocol.Message{Data: []byte("bye")}))
	ev := next(t, events)
	assert.Equal(t, protocol.EventClose, ev.Kind)
	assert.Equal(t, 4000, ev.Code)
	assert.Equal(t, "server done", ev.Reason)

	require.Eventually(t, func() bool {
		return e.WSSend(context.Background(), id, protocol.Message{Data: []byte("x")}) != nil
	}, time.Second, 10*time.Millisecond)
}

func TestWebSocketSendsJarCookies(t *testing.T) {
	seen := make(chan handshake, 1)
	srv := wsServer(t, seen)
	e := newTestEngine(t, Options{})

	jar := newJar(t, e)
	stored, err := e.jar(jar)
	require.NoError(t, err)
	stored.SetCookies(mustURL(t, srv.URL), []*fhttp.Cookie{{Name: "sid", Value: "abc"}})

	sink, _ := collect()
	_, err = e.OpenWebSocket(context.Background(), get(wsURL(srv), jar), sink)
	require.NoError(t, err)
	assert.Equal(t, "sid=abc", (<-seen).cookie)
}

func TestWebSocketRejectsHTTPURL(t *testing.T) {
	e := newTestEngine(t, Options{})
	sink, _ := collect()
	_, err := e.OpenWebSocket(context.Background(), get("http://127.0.0.1:1/", ""), sink)
	assert.ErrorIs(t, err, protocol.ErrInvalidURL)
}

func TestWebSocketHandshakeRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	e := newTestEngine(t, Options{})
	sink, _ := collect()
	_, err := e.OpenWebSocket(context.Background(), get(wsURL(srv), ""), sink)
	require.Error(t, err)
	assert.Equal(t, protocol.KindTransport, protocol.KindOf(err))
	assert.Contains(t, err.Error(), "403")
}

func TestWSSendUnknownConn(t *testing.T) {
	e := newTestEngine(t, Options{})
	err := e.WSSend(context.Background(), "nope", protocol.Message{})
	assert.ErrorIs(t, err, protocol.ErrConnectionClosed)
	assert.ErrorIs(t, err, protocol.ErrUnknownConn)
}
