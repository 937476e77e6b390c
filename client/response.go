package client

import (
	"slices"
	"sync/atomic"

	"github.com/bytedance/sonic"

	"github.com/sardanioss/cloakfetch/headers"
	"github.com/sardanioss/cloakfetch/protocol"
)

// Response is a fully buffered HTTP response. Its body can be read once.
type Response struct {
	Status     int
	StatusText string
	OK         bool // status in 200-299
	Headers    *headers.HeaderSet
	Cookies    []protocol.Cookie
	URL        string
	Redirected bool
	Protocol   string

	body []byte
	used atomic.Bool
}

func newResponse(raw *protocol.RawResponse) *Response {
	h := headers.New()
	for _, e := range raw.Headers {
		h.Append(e.Name, e.Value)
	}
	return &Response{
		Status:     raw.Status,
		StatusText: raw.StatusText,
		OK:         raw.Status >= 200 && raw.Status < 300,
		Headers:    h,
		Cookies:    raw.Cookies,
		URL:        raw.URL,
		Redirected: raw.Redirected,
		Protocol:   raw.Protocol,
		body:       raw.Body,
	}
}

// consume flips the body flag. Only the first caller gets the bytes.
func (r *Response) consume(op string) ([]byte, error) {
	if !r.used.CompareAndSwap(false, true) {
		return nil, protocol.NewError(protocol.KindBodyUsed, op, nil)
	}
	return r.body, nil
}

// BodyUsed reports whether the body has been read.
func (r *Response) BodyUsed() bool {
	return r.used.Load()
}

// Text returns the body as a string.
func (r *Response) Text() (string, error) {
	b, err := r.consume("response.text")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Bytes returns a copy of the body.
func (r *Response) Bytes() ([]byte, error) {
	b, err := r.consume("response.bytes")
	if err != nil {
		return nil, err
	}
	return slices.Clone(b), nil
}

// JSON decodes the body into v. A body that fails to parse is still
// consumed.
func (r *Response) JSON(v any) error {
	b, err := r.consume("response.json")
	if err != nil {
		return err
	}
	if err := sonic.Unmarshal(b, v); err != nil {
		return protocol.NewError(protocol.KindParse, "response.json", err)
	}
	return nil
}

// DecodeJSON decodes the body of r into a new T.
func DecodeJSON[T any](r *Response) (T, error) {
	var v T
	err := r.JSON(&v)
	return v, err
}

// Clone returns an independent copy with its own body and headers. It fails
// once the body has been read.
func (r *Response) Clone() (*Response, error) {
	if r.used.Load() {
		return nil, protocol.NewError(protocol.KindBodyUsed, "response.clone", nil)
	}
	return &Response{
		Status:     r.Status,
		StatusText: r.StatusText,
		OK:         r.OK,
		Headers:    r.Headers.Clone(),
		Cookies:    slices.Clone(r.Cookies),
		URL:        r.URL,
		Redirected: r.Redirected,
		Protocol:   r.Protocol,
		body:       slices.Clone(r.body),
	}, nil
}
