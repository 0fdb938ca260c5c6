package server

// file: internal/server/server_test.go

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fastrpc/fast/internal/client"
	"github.com/fastrpc/fast/internal/fasterror"
	"github.com/fastrpc/fast/internal/transport"
	"github.com/fastrpc/fast/internal/wire"
)

// chanSource is a ConnectionSource backed by a channel of pre-built
// transports, standing in for a real listener in these tests.
type chanSource struct {
	ch chan transport.Transport
}

func newChanSource() *chanSource {
	return &chanSource{ch: make(chan transport.Transport, 8)}
}

func (s *chanSource) Accept(ctx context.Context) (transport.Transport, error) {
	select {
	case t, ok := <-s.ch:
		if !ok {
			return nil, fasterror.New(fasterror.CategoryTransport, "", "connection source closed", nil)
		}
		return t, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func newTestServer(t *testing.T, crcMode wire.CRCMode) (*Server, *chanSource) {
	t.Helper()
	srv, err := New(Options{CRCMode: crcMode})
	require.NoError(t, err)
	src := newChanSource()
	return srv, src
}

func startServing(srv *Server, src *chanSource) (stop func()) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = srv.Serve(ctx, src)
		close(done)
	}()
	return func() {
		cancel()
		_ = srv.Close()
		<-done
	}
}

func newConnectedClient(t *testing.T, srv *Server, src *chanSource, crcMode wire.CRCMode) *client.Client {
	t.Helper()
	pair := transport.NewInMemoryTransportPair()
	src.ch <- pair.ServerTransport
	c, err := client.New(client.Options{Transport: pair.ClientTransport, CRCMode: crcMode})
	require.NoError(t, err)
	return c
}

func TestEchoRoundTrip(t *testing.T) {
	srv, src := newTestServer(t, wire.CRCModeV1)
	srv.RegisterMethod("echo", func(ctx context.Context, w ResponseWriter, args []any) {
		_ = w.End(args...)
	})
	stop := startServing(srv, src)
	defer stop()

	c := newConnectedClient(t, srv, src, wire.CRCModeV1)
	handle, err := c.RPC("echo", []any{"hello"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	items, err := handle.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, []any{"hello"}, items)
}

func TestMultiMessageStream(t *testing.T) {
	srv, src := newTestServer(t, wire.CRCModeV1)
	srv.RegisterMethod("count", func(ctx context.Context, w ResponseWriter, args []any) {
		for i := 1; i <= 3; i++ {
			require.NoError(t, w.Write(float64(i)))
		}
		require.NoError(t, w.End())
	})
	stop := startServing(srv, src)
	defer stop()

	c := newConnectedClient(t, srv, src, wire.CRCModeV1)
	handle, err := c.RPC("count", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	items, err := handle.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, []any{float64(1), float64(2), float64(3)}, items)
}

func TestServerErrorAfterPartialData(t *testing.T) {
	srv, src := newTestServer(t, wire.CRCModeV1)
	srv.RegisterMethod("flaky", func(ctx context.Context, w ResponseWriter, args []any) {
		require.NoError(t, w.Write("partial"))
		_ = w.Fail(&fasterror.HandlerError{Name: "BoomError", Message: "exploded mid-stream"})
	})
	stop := startServing(srv, src)
	defer stop()

	c := newConnectedClient(t, srv, src, wire.CRCModeV1)
	handle, err := c.RPC("flaky", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = handle.Drain(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BoomError")
}

func TestUnknownMethodProducesErrorWithoutTerminatingConnection(t *testing.T) {
	srv, src := newTestServer(t, wire.CRCModeV1)
	srv.RegisterMethod("echo", func(ctx context.Context, w ResponseWriter, args []any) {
		_ = w.End(args...)
	})
	stop := startServing(srv, src)
	defer stop()

	c := newConnectedClient(t, srv, src, wire.CRCModeV1)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	bad, err := c.RPC("no_such_method", nil)
	require.NoError(t, err)
	_, badErr := bad.Drain(ctx)
	require.Error(t, badErr)
	assert.Contains(t, badErr.Error(), "no handler registered")

	// The connection must still be usable afterward.
	good, err := c.RPC("echo", []any{"still alive"})
	require.NoError(t, err)
	items, err := good.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, []any{"still alive"}, items)
}

func TestDuplicateMsgidTerminatesConnection(t *testing.T) {
	srv, src := newTestServer(t, wire.CRCModeV1)
	block := make(chan struct{})
	srv.RegisterMethod("slow", func(ctx context.Context, w ResponseWriter, args []any) {
		<-block
		_ = w.End()
	})
	stop := startServing(srv, src)
	defer stop()
	defer close(block)

	pair := transport.NewInMemoryTransportPair()
	src.ch <- pair.ServerTransport

	enc, err := wire.NewEncoder(wire.CRCModeV1)
	require.NoError(t, err)
	dec, err := wire.NewDecoder(wire.CRCModeV1)
	require.NoError(t, err)

	send := func(msgid uint32, status wire.Status, data map[string]any) {
		buf, encErr := enc.Encode(wire.Message{MsgID: msgid, Status: status, Data: data})
		require.NoError(t, encErr)
		_, werr := pair.ClientTransport.Write(buf)
		require.NoError(t, werr)
	}
	requestEnvelope := func(method string) map[string]any {
		return map[string]any{"m": map[string]any{"name": method, "uts": time.Now().UnixMicro()}, "d": []any{}}
	}

	send(1, wire.StatusData, requestEnvelope("slow"))
	send(1, wire.StatusData, requestEnvelope("slow")) // duplicate in-flight msgid: protocol violation

	buf := make([]byte, 4096)
	for {
		n, rerr := pair.ClientTransport.Read(buf)
		if n > 0 {
			decoded, derr := dec.Feed(buf[:n])
			_ = derr
			if len(decoded) > 0 {
				break
			}
		}
		if rerr != nil {
			break
		}
	}
	// The connection should now be closed from the server's side; a further
	// write eventually observes a closed transport.
	assert.Eventually(t, func() bool {
		_, werr := pair.ClientTransport.Write([]byte{0})
		return werr != nil || transport.IsClosedError(werr)
	}, time.Second, 10*time.Millisecond)
}

func TestV1V2ServerMirrorsClientCRCVariant(t *testing.T) {
	srv, src := newTestServer(t, wire.CRCModeV1V2)
	srv.RegisterMethod("echo", func(ctx context.Context, w ResponseWriter, args []any) {
		_ = w.End(args...)
	})
	stop := startServing(srv, src)
	defer stop()

	cv1 := newConnectedClient(t, srv, src, wire.CRCModeV1)
	cv2 := newConnectedClient(t, srv, src, wire.CRCModeV2)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	h1, err := cv1.RPC("echo", []any{"v1"})
	require.NoError(t, err)
	items, err := h1.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, []any{"v1"}, items)

	h2, err := cv2.RPC("echo", []any{"v2"})
	require.NoError(t, err)
	items, err = h2.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, []any{"v2"}, items)
}

func TestOnConnsDestroyedFiresWhenActiveCountReachesZero(t *testing.T) {
	srv, src := newTestServer(t, wire.CRCModeV1)
	srv.RegisterMethod("echo", func(ctx context.Context, w ResponseWriter, args []any) {
		_ = w.End(args...)
	})
	stop := startServing(srv, src)
	defer stop()

	var mu sync.Mutex
	fired := 0
	srv.OnConnsDestroyed(func() {
		mu.Lock()
		fired++
		mu.Unlock()
	})

	// Registered while already empty: fires once, asynchronously, immediately.
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return fired == 1
	}, time.Second, 5*time.Millisecond)

	pair := transport.NewInMemoryTransportPair()
	src.ch <- pair.ServerTransport
	c, err := client.New(client.Options{Transport: pair.ClientTransport, CRCMode: wire.CRCModeV1})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	handle, err := c.RPC("echo", []any{"x"})
	require.NoError(t, err)
	_, err = handle.Drain(ctx)
	require.NoError(t, err)

	require.NoError(t, pair.ClientTransport.Close())

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return fired == 2
	}, time.Second, 5*time.Millisecond)
}

func TestCloseStopsNewAcceptsButNotExistingConnections(t *testing.T) {
	srv, src := newTestServer(t, wire.CRCModeV1)
	release := make(chan struct{})
	srv.RegisterMethod("hold", func(ctx context.Context, w ResponseWriter, args []any) {
		<-release
		_ = w.End()
	})

	ctx := context.Background()
	done := make(chan struct{})
	go func() {
		_ = srv.Serve(ctx, src)
		close(done)
	}()

	pair := transport.NewInMemoryTransportPair()
	src.ch <- pair.ServerTransport
	c, err := client.New(client.Options{Transport: pair.ClientTransport, CRCMode: wire.CRCModeV1})
	require.NoError(t, err)

	dctx, dcancel := context.WithTimeout(context.Background(), time.Second)
	defer dcancel()
	handle, err := c.RPC("hold", nil)
	require.NoError(t, err)

	require.NoError(t, srv.Close())

	// Serve must not return yet: the in-flight "hold" connection is still
	// being served.
	select {
	case <-done:
		t.Fatal("Serve returned while a connection was still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	_, err = handle.Drain(dctx)
	require.NoError(t, err)

	require.NoError(t, pair.ClientTransport.Close())

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after its in-flight connection finished")
	}
}
