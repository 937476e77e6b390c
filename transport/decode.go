package transport

import (
	"bufio"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/valyala/bytebufferpool"
)

// maxBodySize caps how much decoded body is buffered for one response.
const maxBodySize = 256 << 20

// readBody drains r, undoing every coding listed in contentEncoding in
// reverse order. Unknown codings are passed through untouched.
func readBody(r io.Reader, contentEncoding string) ([]byte, error) {
	var closers []io.Closer
	defer func() {
		for _, c := range closers {
			c.Close()
		}
	}()

	codings := strings.Split(contentEncoding, ",")
	for _, coding := range slices.Backward(codings) {
		dec, err := decoder(r, strings.ToLower(strings.TrimSpace(coding)))
		if err != nil {
			return nil, err
		}
		if dec == nil {
			continue
		}
		if c, ok := dec.(io.Closer); ok {
			closers = append(closers, c)
		}
		r = dec
	}

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	n, err := buf.ReadFrom(io.LimitReader(r, maxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if n > maxBodySize {
		return nil, fmt.Errorf("read body: exceeds %d bytes", maxBodySize)
	}
	return slices.Clone(buf.Bytes()), nil
}

// decoder returns nil for identity and unknown codings.
func decoder(r io.Reader, coding string) (io.Reader, error) {
	switch coding {
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		return zr, nil
	case "br":
		return brotli.NewReader(r), nil
	case "zstd":
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		return zr.IOReadCloser(), nil
	case "deflate":
		return deflateReader(r)
	default:
		return nil, nil
	}
}

// deflateReader accepts both the zlib-wrapped stream RFC 9110 specifies and
// the raw deflate some servers send instead.
func deflateReader(r io.Reader) (io.Reader, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(2)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("deflate: %w", err)
	}
	if len(head) == 2 && head[0]&0x0f == 8 && (uint16(head[0])<<8|uint16(head[1]))%31 == 0 {
		zr, err := zlib.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("deflate: %w", err)
		}
		return zr, nil
	}
	return flate.NewReader(br), nil
}
