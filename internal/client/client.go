// Package client implements the Fast Client Multiplexer: msgid allocation,
// per-request streaming handles, and the single read loop that dispatches
// inbound DATA/END/ERROR frames to their owning request.
package client

// file: internal/client/client.go

import (
	"context"
	"sync"
	"time"

	lfsm "github.com/looplab/fsm"

	"github.com/fastrpc/fast/internal/fasterror"
	"github.com/fastrpc/fast/internal/logging"
	"github.com/fastrpc/fast/internal/metrics"
	"github.com/fastrpc/fast/internal/transport"
	"github.com/fastrpc/fast/internal/wire"
)

// Connection lifecycle states, guarded by a single FSM instance per Client:
// one state machine per connection, reduced to the two states a client
// connection actually has, with no intermediate connecting/negotiating
// phase.
const (
	stateActive = "active"
	stateClosed = "closed"

	eventClose = "close"
)

// readBufferSize is the chunk size read from the transport per Read call.
const readBufferSize = 32 * 1024

// Options configures a new Client.
type Options struct {
	// Transport is the duplex byte stream to a single server connection.
	// Required.
	Transport transport.Transport
	// CRCMode is the client's construction CRC mode: must be V1 or V2;
	// V1_V2 is server-only.
	CRCMode wire.CRCMode
	// NRecentRequests bounds the completed-request diagnostic ring.
	// Zero disables it.
	NRecentRequests int
	// Logger receives connection and dispatch diagnostics. A nil Logger is
	// replaced with a no-op logger.
	Logger logging.Logger
	// Collector receives per-request completion and connection-lifecycle
	// observations. A nil Collector is replaced with metrics.NoopCollector.
	Collector metrics.Collector
	// OnConnectionError, if set, is invoked exactly once when the
	// connection fails or is detached, with the cause.
	OnConnectionError func(error)
}

// Client is the Fast Client Multiplexer. One Client owns exactly one
// Transport; a host application wanting several server connections
// constructs several Clients.
type Client struct {
	transport transport.Transport
	encoder   *wire.Encoder
	decoder   *wire.Decoder
	logger    logging.Logger
	collector metrics.Collector
	onError   func(error)

	lifecycle *lfsm.FSM

	writeMu sync.Mutex

	mu       sync.Mutex
	cursor   uint32
	inFlight map[uint32]*request

	recent *recentRing

	readDone chan struct{}
}

// New constructs a Client and starts its read loop. The read loop runs
// until the transport errors, the decoder latches a terminal error, or
// Detach is called; after Detach, a Read already in progress still returns
// first, and the bytes it delivers are discarded.
func New(opts Options) (*Client, error) {
	if opts.Transport == nil {
		return nil, fasterror.New(fasterror.CategoryInvalidArgument, fasterror.ReasonInvalidArgument, "client transport is required", nil)
	}
	if !opts.CRCMode.LegalAsClientMode() {
		return nil, fasterror.New(fasterror.CategoryInvalidArgument, fasterror.ReasonInvalidArgument, "client crc_mode must be V1 or V2", map[string]any{
			"crc_mode": opts.CRCMode.String(),
		})
	}
	encoder, err := wire.NewEncoder(opts.CRCMode)
	if err != nil {
		return nil, err
	}
	decoder, err := wire.NewDecoder(opts.CRCMode)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.GetNoopLogger()
	}
	logger = logger.WithField("component", "client")

	collector := opts.Collector
	if collector == nil {
		collector = metrics.NoopCollector
	}

	lifecycle := lfsm.NewFSM(stateActive, lfsm.Events{
		{Name: eventClose, Src: []string{stateActive}, Dst: stateClosed},
	}, lfsm.Callbacks{})

	c := &Client{
		transport: opts.Transport,
		encoder:   encoder,
		decoder:   decoder,
		logger:    logger,
		collector: collector,
		onError:   opts.OnConnectionError,
		lifecycle: lifecycle,
		inFlight:  make(map[uint32]*request),
		recent:    newRecentRing(opts.NRecentRequests),
		readDone:  make(chan struct{}),
	}
	collector.ConnectionOpened()
	go c.readLoop()
	return c, nil
}

// RPC sends a request and returns a handle to its streaming response. The
// call itself only blocks on encoding and the transport Write; the response
// arrives asynchronously through the returned handle.
func (c *Client) RPC(method string, args []any) (*RequestHandle, error) {
	c.mu.Lock()
	if c.lifecycle.Current() != stateActive {
		c.mu.Unlock()
		return nil, fasterror.New(fasterror.CategoryRequest, "", "client connection is no longer active", map[string]any{
			"rpcMethod": method,
		})
	}
	msgid := c.allocMsgIDLocked()
	req := newRequest(msgid, method)
	c.inFlight[msgid] = req
	c.mu.Unlock()

	if args == nil {
		// encoding/json renders a nil slice as `null`, not `[]`; the wire
		// format requires `d` to be an array on every DATA/END message.
		args = []any{}
	}
	buf, err := c.encoder.Encode(wire.Message{
		MsgID:  msgid,
		Status: wire.StatusData,
		Data: map[string]any{
			"m": map[string]any{"name": method, "uts": time.Now().UnixMicro()},
			"d": args,
		},
	})
	if err != nil {
		c.abandon(msgid)
		return nil, err
	}

	c.writeMu.Lock()
	_, werr := c.transport.Write(buf)
	c.writeMu.Unlock()
	if werr != nil {
		c.abandon(msgid)
		wrapped := transport.WrapIOError("write", werr)
		go c.failConnection(wrapped)
		return nil, wrapped
	}

	return &RequestHandle{req: req}, nil
}

// RPCBufferAndCallback runs method asynchronously, buffering up to
// maxObjectsToBuffer DATA items before invoking callback once with the
// complete result (or the error, including a buffer-exceeded failure).
// It is the callback-style convenience offered alongside the streaming
// RPC primitive, for callers that just want the whole response at once.
func (c *Client) RPCBufferAndCallback(ctx context.Context, method string, args []any, maxObjectsToBuffer int, callback func(err error, data []any, count int)) {
	handle, err := c.RPC(method, args)
	if err != nil {
		go callback(err, nil, 0)
		return
	}
	go func() {
		buffered := make([]any, 0, min(maxObjectsToBuffer, 64))
		for {
			v, ok := handle.Next(ctx)
			if !ok {
				break
			}
			if len(buffered) >= maxObjectsToBuffer {
				callback(fasterror.New(fasterror.CategoryRequest, "", "response exceeded maxObjectsToBuffer", map[string]any{
					"rpcMethod": method,
					"limit":     maxObjectsToBuffer,
				}), nil, len(buffered))
				return
			}
			buffered = append(buffered, v)
		}
		if err := handle.Err(); err != nil {
			callback(err, nil, len(buffered))
			return
		}
		callback(nil, buffered, len(buffered))
	}()
}

// Detach disconnects the client from its transport without closing the
// transport itself, failing every outstanding request with a detach error.
// The caller retains ownership of the transport.
func (c *Client) Detach() {
	c.failConnection(fasterror.New(fasterror.CategoryMisc, fasterror.ReasonDetached, "client detached", nil))
}

// RecentRequests returns the most recently completed requests, most recent
// last, for diagnostics.
func (c *Client) RecentRequests() []recentEntry {
	return c.recent.Snapshot()
}

func (c *Client) allocMsgIDLocked() uint32 {
	for {
		c.cursor = (c.cursor + 1) & wire.MaxMsgID
		if _, inUse := c.inFlight[c.cursor]; !inUse {
			return c.cursor
		}
	}
}

func (c *Client) abandon(msgid uint32) {
	c.mu.Lock()
	delete(c.inFlight, msgid)
	c.mu.Unlock()
}

func (c *Client) readLoop() {
	defer close(c.readDone)
	buf := make([]byte, readBufferSize)
	for {
		n, err := c.transport.Read(buf)
		if c.lifecycle.Current() != stateActive {
			return
		}
		if n > 0 {
			decoded, decErr := c.decoder.Feed(buf[:n])
			for _, msg := range decoded {
				c.dispatch(msg)
			}
			if decErr != nil {
				c.failConnection(decErr)
				return
			}
		}
		if err != nil {
			if transport.IsClosedError(err) {
				c.failConnection(transport.NewClosedError("read"))
			} else {
				c.failConnection(transport.WrapIOError("read", err))
			}
			return
		}
	}
}

// dispatch routes one decoded message to its owning request. An unknown
// msgid is a connection-level protocol violation: the server is either
// buggy or the connection's framing has desynchronized, so it fails the
// whole connection rather than just logging it.
func (c *Client) dispatch(msg wire.Decoded) {
	c.mu.Lock()
	req, ok := c.inFlight[msg.MsgID]
	if ok && (msg.Status == wire.StatusEnd || msg.Status == wire.StatusError) {
		delete(c.inFlight, msg.MsgID)
	}
	c.mu.Unlock()

	if !ok {
		c.failConnection(fasterror.New(fasterror.CategoryProtocol, fasterror.ReasonUnknownMsgid, "response for unknown msgid", map[string]any{
			"msgid": msg.MsgID,
		}))
		return
	}

	items, _ := msg.Data["d"].([]any)

	switch msg.Status {
	case wire.StatusData:
		for _, item := range items {
			req.emit(item)
		}
	case wire.StatusEnd:
		for _, item := range items {
			req.emit(item)
		}
		c.finish(req, nil)
	case wire.StatusError:
		payload := fasterror.ServerErrorPayload{}
		if d, ok := msg.Data["d"].(map[string]any); ok {
			payload.Name, _ = d["name"].(string)
			payload.Message, _ = d["message"].(string)
			payload.Info, _ = d["info"].(map[string]any)
			payload.Context, _ = d["context"].(map[string]any)
			if ase, ok := d["ase_errors"].([]any); ok {
				payload.ASEErrors = ase
			}
		}
		c.finish(req, fasterror.WrapServerError(msg.MsgID, req.method, payload))
	}
}

func (c *Client) finish(req *request, err error) {
	req.complete(err)
	c.recent.add(recentEntry{MsgID: req.msgid, Method: req.method, CompletedAt: time.Now(), Err: err})
	c.collector.ObserveRequestCompleted(req.method, err, time.Since(req.start))
}

// failConnection fails every outstanding request with cause and fires
// onError exactly once. The lifecycle FSM's guard against re-firing
// eventClose from a non-active state is what makes this idempotent: a
// decoder error racing a transport error only runs the fan-out once.
func (c *Client) failConnection(cause error) {
	if err := c.lifecycle.Event(context.Background(), eventClose); err != nil {
		return
	}

	c.mu.Lock()
	reqs := make([]*request, 0, len(c.inFlight))
	for _, r := range c.inFlight {
		reqs = append(reqs, r)
	}
	c.inFlight = make(map[uint32]*request)
	c.mu.Unlock()

	for _, r := range reqs {
		c.finish(r, fasterror.WrapConnectionFailure(r.msgid, r.method, cause))
	}

	c.collector.ConnectionClosed()
	if c.onError != nil {
		c.onError(cause)
	}
}
