package transport

// file: internal/transport/in_memory_transport_test.go

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryTransportPairRoundTrip(t *testing.T) {
	pair := NewInMemoryTransportPair()

	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 5)
		n, err := pair.ServerTransport.Read(buf)
		require.NoError(t, err)
		assert.Equal(t, "hello", string(buf[:n]))
	}()

	n, err := pair.ClientTransport.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for server read")
	}
}

func TestInMemoryTransportCloseUnblocksPeer(t *testing.T) {
	pair := NewInMemoryTransportPair()

	errCh := make(chan error, 1)
	go func() {
		buf := make([]byte, 1)
		_, err := pair.ServerTransport.Read(buf)
		errCh <- err
	}()

	require.NoError(t, pair.ClientTransport.Close())

	select {
	case err := <-errCh:
		assert.True(t, IsClosedError(err))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for closed read to unblock")
	}
}

func TestInMemoryTransportWriteAfterCloseFails(t *testing.T) {
	pair := NewInMemoryTransportPair()
	require.NoError(t, pair.ClientTransport.Close())

	_, err := pair.ClientTransport.Write([]byte("x"))
	require.Error(t, err)
	assert.True(t, IsClosedError(err))
}
