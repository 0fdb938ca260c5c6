// Package transport defines the duplex byte-stream contract Fast's codec and
// multiplexers consume, and supplies two concrete providers: a net.Conn-backed
// stream transport and an in-memory pair for tests. The core never assumes a
// message boundary — framing is entirely the wire package's job.
package transport

// file: internal/transport/transport.go

import (
	"net"
	"sync"

	"github.com/fastrpc/fast/internal/logging"
)

// Transport is the duplex byte stream the Fast codec reads from and writes
// to: reliable, in-order delivery; a flow-control signal realized as an
// ordinary blocking Write; close/error notification via the returned errors.
// No message boundaries are assumed or enforced here.
type Transport interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
	LocalAddr() string
	RemoteAddr() string
}

// StreamTransport adapts a net.Conn (TCP or any dialed/accepted stream) to
// the Transport interface, the reference "transport provider" the core
// itself does not define.
type StreamTransport struct {
	conn      net.Conn
	logger    logging.Logger
	closeLock sync.RWMutex
	closed    bool
}

// NewStreamTransport wraps conn as a Transport. A nil logger is replaced
// with a no-op logger.
func NewStreamTransport(conn net.Conn, logger logging.Logger) *StreamTransport {
	if logger == nil {
		logger = logging.GetNoopLogger()
	}
	return &StreamTransport{
		conn:   conn,
		logger: logger.WithField("component", "stream_transport"),
	}
}

// Read implements Transport.
func (t *StreamTransport) Read(p []byte) (int, error) {
	t.closeLock.RLock()
	if t.closed {
		t.closeLock.RUnlock()
		return 0, NewClosedError("read")
	}
	t.closeLock.RUnlock()

	n, err := t.conn.Read(p)
	if err != nil && !IsClosedError(err) {
		t.logger.Debug("read error", "error", err.Error())
	}
	return n, err
}

// Write implements Transport. A blocking Write is the Go-idiomatic
// realization of Fast's backpressure signal: a slow or full peer simply
// blocks this call until the kernel send buffer drains.
func (t *StreamTransport) Write(p []byte) (int, error) {
	t.closeLock.RLock()
	if t.closed {
		t.closeLock.RUnlock()
		return 0, NewClosedError("write")
	}
	t.closeLock.RUnlock()

	n, err := t.conn.Write(p)
	if err != nil {
		t.logger.Debug("write error", "error", err.Error())
	}
	return n, err
}

// Close implements Transport.
func (t *StreamTransport) Close() error {
	t.closeLock.Lock()
	defer t.closeLock.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.conn.Close()
}

// LocalAddr returns the local network address, for logging.
func (t *StreamTransport) LocalAddr() string {
	if t.conn == nil || t.conn.LocalAddr() == nil {
		return ""
	}
	return t.conn.LocalAddr().String()
}

// RemoteAddr returns the peer's network address, for logging.
func (t *StreamTransport) RemoteAddr() string {
	if t.conn == nil || t.conn.RemoteAddr() == nil {
		return ""
	}
	return t.conn.RemoteAddr().String()
}
