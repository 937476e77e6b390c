// Package keylog writes TLS session secrets in the NSS key log format
// (SSLKEYLOGFILE) so captured traffic can be decrypted with Wireshark.
//
// A Writer is handed to the TLS config of every connection the transport
// engine opens. Lines from concurrent handshakes never interleave.
package keylog

import (
	"io"
	"os"
	"sync"
)

// EnvVar is the conventional environment variable naming the key log file.
const EnvVar = "SSLKEYLOGFILE"

// Writer serializes key log lines onto an underlying writer.
type Writer struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
}

// Open appends to the key log file at path, creating it with 0600.
func Open(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		return nil, err
	}
	return &Writer{w: f, closer: f}, nil
}

// FromEnv opens the file named by SSLKEYLOGFILE. It returns nil, nil when the
// variable is unset.
func FromEnv() (*Writer, error) {
	path := os.Getenv(EnvVar)
	if path == "" {
		return nil, nil
	}
	return Open(path)
}

// New wraps w. Close does not close w.
func New(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Write implements io.Writer. Each call carries one complete line from the
// TLS stack.
func (k *Writer) Write(p []byte) (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.w == nil {
		return len(p), nil
	}
	return k.w.Write(p)
}

// Close releases the file opened by Open. Later writes are discarded.
func (k *Writer) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.w = nil
	if k.closer == nil {
		return nil
	}
	err := k.closer.Close()
	k.closer = nil
	return err
}
