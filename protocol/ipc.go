package protocol

import "errors"

// The daemon reads one JSON message per line from stdin and writes one JSON
// message per line to stdout. Every reply echoes the request ID.

// MessageType represents the type of IPC message
type MessageType string

const (
	TypeRequest  MessageType = "request"
	TypeResponse MessageType = "response"

	TypeSessionCreate MessageType = "session.create"
	TypeSessionClose  MessageType = "session.close"
	TypeSessionList   MessageType = "session.list"

	TypeCookieClear MessageType = "cookie.clear"

	TypePing     MessageType = "ping"
	TypePong     MessageType = "pong"
	TypeError    MessageType = "error"
	TypeShutdown MessageType = "shutdown"

	TypePresetList MessageType = "preset.list"
)

// Envelope carries the fields every message shares. The daemon decodes it
// first to route the full message.
type Envelope struct {
	ID   string      `json:"id"`
	Type MessageType `json:"type"`
}

// Request asks the daemon to perform an HTTP request.
type Request struct {
	ID      string      `json:"id"`
	Type    MessageType `json:"type"`
	Session string      `json:"session,omitempty"` // empty for ephemeral requests
	Method  string      `json:"method,omitempty"`
	URL     string      `json:"url"`
	// Headers is an ordered list of [name, value] pairs.
	Headers [][2]string     `json:"headers,omitempty"`
	Body    string          `json:"body,omitempty"`
	Options *RequestOptions `json:"options,omitempty"`
}

// RequestOptions contains optional request configuration
type RequestOptions struct {
	Timeout               int    `json:"timeout,omitempty"` // milliseconds
	Profile               string `json:"profile,omitempty"`
	Proxy                 string `json:"proxy,omitempty"`
	DisableDefaultHeaders bool   `json:"disableDefaultHeaders,omitempty"`
	CookieMode            string `json:"cookieMode,omitempty"` // "persistent" or "ephemeral"
	FollowRedirects       *bool  `json:"followRedirects,omitempty"`
	MaxRedirects          int    `json:"maxRedirects,omitempty"`

	// BodyEncoding is "text" (default) or "base64"
	BodyEncoding string `json:"bodyEncoding,omitempty"`
}

// Response is the reply to a Request.
type Response struct {
	ID         string      `json:"id"`
	Type       MessageType `json:"type"`
	Session    string      `json:"session,omitempty"`
	Status     int         `json:"status,omitempty"`
	StatusText string      `json:"statusText,omitempty"`
	Headers    [][2]string `json:"headers,omitempty"`
	Cookies    []Cookie    `json:"cookies,omitempty"`
	Body       string      `json:"body,omitempty"`
	URL        string      `json:"url,omitempty"`
	Redirected bool        `json:"redirected,omitempty"`
	Error      *ErrorInfo  `json:"error,omitempty"`

	BodyEncoding string `json:"bodyEncoding,omitempty"` // "text" or "base64"
	BodySize     int    `json:"bodySize,omitempty"`
}

// ErrorInfo contains error details
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SessionConfig contains session configuration
type SessionConfig struct {
	ID                 string `json:"id,omitempty"` // caller-chosen session id
	Profile            string `json:"profile,omitempty"`
	Proxy              string `json:"proxy,omitempty"`
	Timeout            int    `json:"timeout,omitempty"` // milliseconds
	InsecureSkipVerify bool   `json:"insecureSkipVerify,omitempty"`
}

// SessionCreateRequest creates a new session with optional configuration
type SessionCreateRequest struct {
	ID      string         `json:"id"`
	Type    MessageType    `json:"type"`
	Options *SessionConfig `json:"options,omitempty"`
}

// SessionCreateResponse contains the created session info
type SessionCreateResponse struct {
	ID      string      `json:"id"`
	Type    MessageType `json:"type"`
	Session string      `json:"session"`
}

// SessionRequest targets an existing session (close, cookie.clear).
type SessionRequest struct {
	ID      string      `json:"id"`
	Type    MessageType `json:"type"`
	Session string      `json:"session"`
}

// SessionInfo describes one live session.
type SessionInfo struct {
	ID           string `json:"id"`
	Profile      string `json:"profile"`
	RequestCount int64  `json:"requestCount"`
	CreatedAt    int64  `json:"createdAt"` // unix millis
	LastUsed     int64  `json:"lastUsed"`  // unix millis
}

// SessionListResponse lists all active sessions
type SessionListResponse struct {
	ID       string        `json:"id"`
	Type     MessageType   `json:"type"`
	Sessions []SessionInfo `json:"sessions"`
}

// PresetListResponse lists available presets
type PresetListResponse struct {
	ID      string      `json:"id"`
	Type    MessageType `json:"type"`
	Presets []string    `json:"presets"`
}

// PingResponse responds to ping
type PingResponse struct {
	ID      string      `json:"id"`
	Type    MessageType `json:"type"`
	Version string      `json:"version"`
}

// Wire error codes. Classified errors use their Kind as the code.
const (
	ErrCodeInvalidRequest = "INVALID_REQUEST"
	ErrCodeInvalidSession = "INVALID_SESSION"
	ErrCodeInternal       = "INTERNAL_ERROR"
)

// NewErrorResponse creates an error response
func NewErrorResponse(reqID string, code string, message string) *Response {
	return &Response{
		ID:   reqID,
		Type: TypeError,
		Error: &ErrorInfo{
			Code:    code,
			Message: message,
		},
	}
}

// ErrorCode maps err to a wire error code.
func ErrorCode(err error) string {
	kind := KindOf(err)
	switch {
	case kind == "":
		return ErrCodeInternal
	case kind == KindSessionClosed, errors.Is(err, ErrSessionNotFound):
		return ErrCodeInvalidSession
	default:
		return string(kind)
	}
}
