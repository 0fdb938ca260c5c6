// file: internal/transport/in_memory_transport.go
package transport

import (
	"io"
	"sync"
)

// inMemoryTransport implements Transport over a pair of io.Pipe halves, for
// tests; a Transport implementation never has to touch a real socket to be
// exercised. A Write blocks until the peer has read all of it.
type inMemoryTransport struct {
	reader *io.PipeReader
	writer *io.PipeWriter
	name   string

	closeLock sync.Mutex
	closed    bool
}

// InMemoryTransportPair contains two linked Transport instances: bytes
// written to one are read from the other, and vice versa.
type InMemoryTransportPair struct {
	ClientTransport Transport
	ServerTransport Transport
}

// NewInMemoryTransportPair creates a connected, in-process Transport pair.
func NewInMemoryTransportPair() *InMemoryTransportPair {
	clientToServerR, clientToServerW := io.Pipe()
	serverToClientR, serverToClientW := io.Pipe()

	client := &inMemoryTransport{reader: serverToClientR, writer: clientToServerW, name: "client"}
	server := &inMemoryTransport{reader: clientToServerR, writer: serverToClientW, name: "server"}

	return &InMemoryTransportPair{
		ClientTransport: client,
		ServerTransport: server,
	}
}

func (t *inMemoryTransport) Read(p []byte) (int, error) {
	return t.reader.Read(p)
}

func (t *inMemoryTransport) Write(p []byte) (int, error) {
	t.closeLock.Lock()
	closed := t.closed
	t.closeLock.Unlock()
	if closed {
		return 0, NewClosedError("write")
	}
	return t.writer.Write(p)
}

// Close closes both pipe halves owned by this end. The peer's pending Read
// observes io.EOF and its next Write io.ErrClosedPipe, both of which
// IsClosedError recognizes.
func (t *inMemoryTransport) Close() error {
	t.closeLock.Lock()
	defer t.closeLock.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	werr := t.writer.Close()
	rerr := t.reader.Close()
	if werr != nil {
		return werr
	}
	return rerr
}

func (t *inMemoryTransport) LocalAddr() string  { return "inmem:" + t.name }
func (t *inMemoryTransport) RemoteAddr() string { return "inmem:peer-of-" + t.name }
