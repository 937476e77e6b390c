package client

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/sardanioss/cloakfetch/protocol"
)

// Message is one WebSocket data frame.
type Message = protocol.Message

// Event is one WebSocket event. The last event on a connection is always
// an EventClose.
type Event = protocol.Event

const (
	defaultWSBuffer = 64

	// CloseAbnormal is reported when the connection fails without a
	// close frame.
	CloseAbnormal = 1006
)

const (
	wsOpen int32 = iota
	wsClosing
	wsClosed
)

type wsOp struct {
	ctx    context.Context
	close  bool
	msg    Message
	code   int
	reason string
	result chan error
}

// WebSocket is a client connection. Writes are serialized by one writer
// goroutine; events are delivered in order by one forwarder goroutine.
type WebSocket struct {
	engine protocol.WebSocketEngine
	id     protocol.ConnID
	log    logrus.FieldLogger
	opts   DialOptions

	inbox  chan Event
	events chan Event
	ops    chan wsOp

	state atomic.Int32
	quit  chan struct{} // closed when the handshake fails
	done  chan struct{} // closed after the terminal event is delivered

	quitOnce sync.Once
}

func newWebSocket(engine protocol.WebSocketEngine, opts DialOptions, log logrus.FieldLogger) *WebSocket {
	size := opts.Buffer
	if size <= 0 {
		size = defaultWSBuffer
	}
	w := &WebSocket{
		engine: engine,
		log:    log,
		opts:   opts,
		inbox:  make(chan Event, size),
		events: make(chan Event, size),
		ops:    make(chan wsOp),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go w.forward()
	return w
}

// sink is handed to the engine. It blocks while the inbox is full.
func (w *WebSocket) sink(ev Event) {
	select {
	case w.inbox <- ev:
	case <-w.done:
	}
}

// start runs once the engine has accepted the connection.
func (w *WebSocket) start(id protocol.ConnID) {
	w.id = id
	go w.writeLoop(w.log.WithField("conn", id))
}

// abandon tears the handle down after a failed handshake.
func (w *WebSocket) abandon() {
	w.quitOnce.Do(func() { close(w.quit) })
	<-w.done
}

func (w *WebSocket) forward() {
	defer w.finish()
	for {
		select {
		case ev := <-w.inbox:
			switch ev.Kind {
			case protocol.EventMessage:
				w.deliver(ev)
			case protocol.EventError:
				w.deliver(ev)
				w.deliver(Event{Kind: protocol.EventClose, Code: CloseAbnormal, Reason: "abnormal closure"})
				return
			case protocol.EventClose:
				w.deliver(ev)
				return
			}
		case <-w.quit:
			return
		}
	}
}

func (w *WebSocket) deliver(ev Event) {
	if !w.opts.callbacks() {
		w.events <- ev
		return
	}
	switch ev.Kind {
	case protocol.EventMessage:
		if w.opts.OnMessage != nil {
			w.opts.OnMessage(ev.Message)
		}
	case protocol.EventError:
		if w.opts.OnError != nil {
			w.opts.OnError(ev.Err)
		}
	case protocol.EventClose:
		if w.opts.OnClose != nil {
			w.opts.OnClose(ev.Code, ev.Reason)
		}
	}
}

func (w *WebSocket) finish() {
	w.state.Store(wsClosed)
	close(w.done)
	close(w.events)
}

func (w *WebSocket) writeLoop(log logrus.FieldLogger) {
	log.Debug("websocket open")
	defer log.Debug("websocket closed")
	for {
		select {
		case op := <-w.ops:
			var err error
			if op.close {
				err = w.engine.WSClose(op.ctx, w.id, op.code, op.reason)
			} else {
				err = w.engine.WSSend(op.ctx, w.id, op.msg)
			}
			op.result <- err
		case <-w.done:
			return
		}
	}
}

func (w *WebSocket) submit(ctx context.Context, name string, op wsOp) error {
	result, err := w.enqueue(ctx, name, op)
	if err != nil {
		return err
	}
	return w.await(ctx, name, result)
}

// enqueue hands op to the write loop. An error means the loop never saw it.
func (w *WebSocket) enqueue(ctx context.Context, name string, op wsOp) (<-chan error, error) {
	if ctx.Err() != nil {
		return nil, cancelled(ctx, name, 0)
	}
	op.ctx = ctx
	op.result = make(chan error, 1)

	select {
	case w.ops <- op:
		return op.result, nil
	case <-w.done:
		return nil, protocol.NewError(protocol.KindConnectionClosed, name, nil)
	case <-ctx.Done():
		return nil, cancelled(ctx, name, 0)
	}
}

func (w *WebSocket) await(ctx context.Context, name string, result <-chan error) error {
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return cancelled(ctx, name, 0)
	}
}

func (w *WebSocket) send(ctx context.Context, name string, msg Message) error {
	if w.state.Load() != wsOpen {
		return protocol.NewError(protocol.KindConnectionClosed, name, nil)
	}
	return w.submit(ctx, name, wsOp{msg: msg})
}

// SendText sends a text frame.
func (w *WebSocket) SendText(ctx context.Context, text string) error {
	return w.send(ctx, "ws.send", Message{Data: []byte(text)})
}

// SendBinary sends a binary frame.
func (w *WebSocket) SendBinary(ctx context.Context, data []byte) error {
	return w.send(ctx, "ws.send", Message{Binary: true, Data: data})
}

// Close starts the closing handshake. The terminal close event follows on
// Events or OnClose. Only the first Close succeeds. A Close that fails
// before the engine sees it leaves the socket open, so it can be retried.
func (w *WebSocket) Close(ctx context.Context, code int, reason string) error {
	const op = "ws.close"
	if ctx.Err() != nil {
		return cancelled(ctx, op, 0)
	}
	if !w.state.CompareAndSwap(wsOpen, wsClosing) {
		return protocol.NewError(protocol.KindConnectionClosed, op, nil)
	}
	result, err := w.enqueue(ctx, op, wsOp{close: true, code: code, reason: reason})
	if err != nil {
		w.state.CompareAndSwap(wsClosing, wsOpen)
		return err
	}
	return w.await(ctx, op, result)
}

// Events returns the event channel. It is closed after the terminal close
// event. It receives nothing when callbacks are configured, and must be
// drained otherwise.
func (w *WebSocket) Events() <-chan Event {
	return w.events
}

// Done is closed once the connection has terminated and every event has
// been delivered.
func (w *WebSocket) Done() <-chan struct{} {
	return w.done
}
