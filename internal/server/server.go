// Package server implements the Fast Server Multiplexer: method dispatch,
// the handler registry, response writers, and per-connection lifecycle
// management.
package server

// file: internal/server/server.go

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/fastrpc/fast/internal/fasterror"
	"github.com/fastrpc/fast/internal/logging"
	"github.com/fastrpc/fast/internal/metrics"
	"github.com/fastrpc/fast/internal/transport"
	"github.com/fastrpc/fast/internal/wire"
)

// Handler is the signature every registered RPC method implements. args is
// the decoded `d` array from the opening DATA message. A handler may call
// w.Write any number of times before exactly one terminal call to w.End or
// w.Fail; it may continue doing so from goroutines it spawns after
// returning, since nothing here force-completes a request when the handler
// function itself returns.
type Handler func(ctx context.Context, w ResponseWriter, args []any)

// ConnectionSource is the minimal abstraction Serve consumes to obtain new
// connections: actual listening (TCP, Unix socket, in-memory) is out of
// scope here, mirroring how internal/transport keeps the core ignorant of
// any particular network provider.
type ConnectionSource interface {
	Accept(ctx context.Context) (transport.Transport, error)
}

// Options configures a new Server.
type Options struct {
	// CRCMode is the server's construction CRC mode: V1, V2, or the
	// server-only dual-accept V1_V2.
	CRCMode wire.CRCMode
	// Logger receives connection and dispatch diagnostics. A nil Logger is
	// replaced with a no-op logger.
	Logger logging.Logger
	// Collector receives per-request completion and connection-lifecycle
	// observations. A nil Collector is replaced with metrics.NoopCollector.
	Collector metrics.Collector
}

// Server is the Fast Server Multiplexer: a method registry plus the set of
// connections currently being served.
type Server struct {
	crcMode   wire.CRCMode
	logger    logging.Logger
	collector metrics.Collector

	methodsMu sync.RWMutex
	methods   map[string]Handler

	mu          sync.Mutex
	nextConnID  uint64
	conns       map[uint64]*connection
	callbacks   []func()
	closeCtx    context.Context
	closeCancel context.CancelFunc
}

// New constructs a Server. opts.CRCMode must be V1, V2, or V1_V2.
func New(opts Options) (*Server, error) {
	if !opts.CRCMode.LegalAsServerMode() {
		return nil, fasterror.New(fasterror.CategoryInvalidArgument, fasterror.ReasonInvalidArgument, "server crc_mode must be V1, V2, or V1_V2", map[string]any{
			"crc_mode": opts.CRCMode.String(),
		})
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.GetNoopLogger()
	}
	collector := opts.Collector
	if collector == nil {
		collector = metrics.NoopCollector
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		crcMode:     opts.CRCMode,
		logger:      logger.WithField("component", "server"),
		collector:   collector,
		methods:     make(map[string]Handler),
		conns:       make(map[uint64]*connection),
		closeCtx:    ctx,
		closeCancel: cancel,
	}, nil
}

// RegisterMethod installs handler under method, replacing any handler
// previously registered for it. Registration is expected at setup time but
// is safe to call concurrently with Serve.
func (s *Server) RegisterMethod(method string, handler Handler) {
	s.methodsMu.Lock()
	defer s.methodsMu.Unlock()
	s.methods[method] = handler
}

func (s *Server) lookup(method string) (Handler, bool) {
	s.methodsMu.RLock()
	defer s.methodsMu.RUnlock()
	h, ok := s.methods[method]
	return h, ok
}

// Serve accepts connections from source until ctx is canceled or Close is
// called, running each on its own goroutine, and blocks until every
// in-flight connection has finished — Close stops new accepts but never
// forcibly terminates a connection's in-flight work.
func (s *Server) Serve(ctx context.Context, source ConnectionSource) error {
	acceptCtx, acceptCancel := context.WithCancel(ctx)
	defer acceptCancel()
	go func() {
		<-s.closeCtx.Done()
		acceptCancel()
	}()

	// g is deliberately not built from errgroup.WithContext: canceling the
	// accept loop's context must never cancel in-flight connection
	// handlers, so Serve uses a plain errgroup and cancels only the
	// accept side via acceptCancel.
	var g errgroup.Group
	for {
		t, err := source.Accept(acceptCtx)
		if err != nil {
			if acceptCtx.Err() != nil {
				break
			}
			s.logger.Warn("accept failed", "error", err.Error())
			break
		}
		conn, handleErr := s.handleAccepted(t)
		if handleErr != nil {
			s.logger.Warn("failed to initialize accepted connection", "error", handleErr.Error())
			_ = t.Close()
			continue
		}
		g.Go(func() error {
			conn.run()
			return nil
		})
	}
	return g.Wait()
}

// Close stops Serve from accepting further connections. It does not affect
// connections already being served; Serve returns once those finish on
// their own.
func (s *Server) Close() error {
	s.closeCancel()
	return nil
}

// OnConnsDestroyed registers callback to fire every time the server's
// active-connection count transitions to zero. If the server has no active
// connections at registration time, callback fires once, asynchronously,
// immediately.
func (s *Server) OnConnsDestroyed(callback func()) {
	s.mu.Lock()
	s.callbacks = append(s.callbacks, callback)
	empty := len(s.conns) == 0
	s.mu.Unlock()

	if empty {
		go callback()
	}
}

func (s *Server) handleAccepted(t transport.Transport) (*connection, error) {
	s.mu.Lock()
	id := s.nextConnID
	s.nextConnID++
	s.mu.Unlock()

	conn, err := newConnection(id, t, s.crcMode, s.logger, s.collector, s.lookup, s.connectionClosed)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.conns[id] = conn
	s.mu.Unlock()
	s.collector.ConnectionOpened()
	return conn, nil
}

func (s *Server) connectionClosed(id uint64) {
	s.mu.Lock()
	delete(s.conns, id)
	empty := len(s.conns) == 0
	callbacks := s.callbacks
	s.mu.Unlock()

	if empty {
		for _, cb := range callbacks {
			go cb()
		}
	}
}
