package protocol

import (
	"errors"
	"fmt"
)

// Kind is a stable error classification tag.
type Kind string

const (
	KindValidation       Kind = "VALIDATION"
	KindTransport        Kind = "TRANSPORT"
	KindTimeout          Kind = "TIMEOUT"
	KindAborted          Kind = "ABORTED"
	KindBodyUsed         Kind = "BODY_USED"
	KindSessionClosed    Kind = "SESSION_CLOSED"
	KindConnectionClosed Kind = "CONNECTION_CLOSED"
	KindParse            Kind = "PARSE"
	KindDuplicateSession Kind = "DUPLICATE_SESSION"
)

// Sentinel errors, one per kind. errors.Is(err, ErrTimeout) holds for every
// *Error of KindTimeout.
var (
	ErrValidation       = errors.New("validation error")
	ErrTransport        = errors.New("transport error")
	ErrTimeout          = errors.New("request timed out")
	ErrAborted          = errors.New("request aborted")
	ErrBodyUsed         = errors.New("body already used")
	ErrSessionClosed    = errors.New("session is closed")
	ErrConnectionClosed = errors.New("connection is closed")
	ErrParse            = errors.New("parse error")
	ErrDuplicateSession = errors.New("duplicate session id")
)

// Narrower validation errors.
var (
	ErrInvalidProfile  = errors.New("invalid profile")
	ErrInvalidURL      = errors.New("invalid url")
	ErrInvalidMethod   = errors.New("unsupported method")
	ErrInvalidProxy    = errors.New("invalid proxy")
	ErrInvalidBody     = errors.New("unsupported body")
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionLimit    = errors.New("maximum sessions limit reached")
	ErrUnknownJar      = errors.New("unknown cookie jar")
	ErrUnknownConn     = errors.New("unknown connection")
)

var sentinels = map[Kind]error{
	KindValidation:       ErrValidation,
	KindTransport:        ErrTransport,
	KindTimeout:          ErrTimeout,
	KindAborted:          ErrAborted,
	KindBodyUsed:         ErrBodyUsed,
	KindSessionClosed:    ErrSessionClosed,
	KindConnectionClosed: ErrConnectionClosed,
	KindParse:            ErrParse,
	KindDuplicateSession: ErrDuplicateSession,
}

// Error is the error type returned across the library.
type Error struct {
	Kind Kind
	// Op names the failing operation, e.g. "fetch" or "session.create".
	Op  string
	Msg string
	Err error
}

// NewError returns an *Error of the given kind wrapping err.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf returns an *Error of the given kind with a formatted message.
// Errors wrapped with %w in format stay visible to errors.Is.
func Errorf(kind Kind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		msg = sentinels[e.Kind].Error()
	}
	if e.Op == "" {
		return msg
	}
	return e.Op + ": " + msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel of e's kind.
func (e *Error) Is(target error) bool {
	s, ok := sentinels[e.Kind]
	return ok && s == target
}

// KindOf returns the classification of err, or "" when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	for kind, s := range sentinels {
		if errors.Is(err, s) {
			return kind
		}
	}
	return ""
}

// IsTimeout reports whether err is classified as a timeout.
func IsTimeout(err error) bool { return errors.Is(err, ErrTimeout) }

// IsAborted reports whether err is classified as a caller abort.
func IsAborted(err error) bool { return errors.Is(err, ErrAborted) }

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }
