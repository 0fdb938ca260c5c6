package metrics

// file: internal/metrics/server_metrics_test.go

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInMemoryCollectorTracksMethodStats(t *testing.T) {
	c := NewInMemoryCollector(4)
	c.ObserveRequestCompleted("echo", nil, 10*time.Millisecond)
	c.ObserveRequestCompleted("echo", nil, 20*time.Millisecond)
	c.ObserveRequestCompleted("echo", errors.New("boom"), 30*time.Millisecond)

	snap := c.Snapshot()
	stats := snap.Methods["echo"]
	assert.Equal(t, 2, stats.Completed)
	assert.Equal(t, 1, stats.Failed)
	assert.Len(t, snap.LastErrors, 1)
}

func TestInMemoryCollectorConnectionGauges(t *testing.T) {
	c := NewInMemoryCollector(1)
	c.ConnectionOpened()
	c.ConnectionOpened()
	c.ConnectionClosed()

	snap := c.Snapshot()
	assert.Equal(t, 1, snap.ActiveConnections)
	assert.Equal(t, 2, snap.TotalConnections)
}

func TestInMemoryCollectorErrorBufferBounded(t *testing.T) {
	c := NewInMemoryCollector(2)
	for i := 0; i < 5; i++ {
		c.ObserveRequestCompleted("m", errors.New("x"), time.Millisecond)
	}
	snap := c.Snapshot()
	assert.Len(t, snap.LastErrors, 2)
}

func TestNoopCollectorDoesNothing(t *testing.T) {
	assert.NotPanics(t, func() {
		NoopCollector.ObserveRequestCompleted("m", nil, 0)
		NoopCollector.ConnectionOpened()
		NoopCollector.ConnectionClosed()
	})
}
