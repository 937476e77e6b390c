// Package protocol defines the contract between the orchestration layer and
// the impersonation engine, the error taxonomy shared by every layer, and the
// IPC message types spoken by the cloakfetch daemon.
package protocol

import (
	"context"
	"time"

	"github.com/sardanioss/cloakfetch/headers"
)

// JarID identifies a cookie jar owned by the engine.
type JarID string

// ConnID identifies an open WebSocket connection owned by the engine.
type ConnID string

// RequestDescriptor is the canonical request shape handed to the engine.
// The body is already collapsed to a single encoding.
type RequestDescriptor struct {
	Method  string
	URL     string
	Headers *headers.HeaderSet

	// Body is nil when the request carries no body.
	Body []byte
	// ContentType is the content type derived from the body shape, if any.
	ContentType string

	Proxy   string
	Timeout time.Duration
	Profile string
	Jar     JarID

	// DisableDefaultHeaders suppresses the profile's emulation headers.
	DisableDefaultHeaders bool

	FollowRedirects    bool
	MaxRedirects       int
	InsecureSkipVerify bool
}

// Cookie is a cookie observed in a response.
type Cookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Domain   string    `json:"domain,omitempty"`
	Path     string    `json:"path,omitempty"`
	Expires  time.Time `json:"expires,omitempty"`
	Secure   bool      `json:"secure,omitempty"`
	HTTPOnly bool      `json:"httpOnly,omitempty"`
}

// RawResponse is what the engine returns for a completed request.
type RawResponse struct {
	Status     int
	StatusText string
	Headers    []headers.Entry
	Body       []byte
	Cookies    []Cookie
	URL        string
	Redirected bool
	Protocol   string
}

// RequestEngine executes HTTP requests.
type RequestEngine interface {
	// SubmitRequest runs d to completion. Implementations must return
	// promptly once ctx is done.
	SubmitRequest(ctx context.Context, d *RequestDescriptor) (*RawResponse, error)
}

// JarEngine owns cookie jars.
type JarEngine interface {
	AllocateJar() (JarID, error)
	ClearJar(id JarID) error
	ReleaseJar(id JarID) error
}

// ProfileSource lists the fingerprint profiles the engine can emulate.
type ProfileSource interface {
	ListProfiles() []string
}

// EventKind tags a WebSocket event.
type EventKind int

const (
	EventMessage EventKind = iota + 1
	EventClose
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventMessage:
		return "message"
	case EventClose:
		return "close"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Message is a single WebSocket data frame.
type Message struct {
	Binary bool
	Data   []byte
}

// Event is delivered by the engine for an open connection. Close and Error
// events are terminal for the connection.
type Event struct {
	Kind    EventKind
	Message Message
	Code    int
	Reason  string
	Err     error
}

// EventSink receives events for one connection. The engine calls it from a
// single goroutine per connection, in receive order.
type EventSink func(Event)

// WebSocketEngine opens and drives WebSocket connections.
type WebSocketEngine interface {
	OpenWebSocket(ctx context.Context, d *RequestDescriptor, sink EventSink) (ConnID, error)
	WSSend(ctx context.Context, id ConnID, msg Message) error
	WSClose(ctx context.Context, id ConnID, code int, reason string) error
}

// Engine is the full capability handle consumed by the client.
type Engine interface {
	RequestEngine
	JarEngine
	ProfileSource
	WebSocketEngine
}
