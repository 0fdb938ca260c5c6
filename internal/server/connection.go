package server

// file: internal/server/connection.go

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

const readBufferSize = 32 * 1024

// connection is one accepted transport, its encoder/decoder pair, the
// requests currently in flight on it, and the lifecycle FSM that makes
// "already closed" idempotent against a protocol violation racing a
// transport read error.
type connection struct {
	id        uint64
	crcMode   wire.CRCMode
	transport transport.Transport
	encoder   *wire.Encoder
	decoder   *wire.Decoder
	logger    logging.Logger
	collector metrics.Collector
	lookup    func(method string) (Handler, bool)
	onClosed  func(id uint64)

	lifecycle *lfsm.FSM
	writeMu   sync.Mutex

	mu       sync.Mutex
	requests map[uint32]*serverRequest

	ctx    context.Context
	cancel context.CancelFunc
}

func newConnection(id uint64, t transport.Transport, crcMode wire.CRCMode, logger logging.Logger, collector metrics.Collector, lookup func(string) (Handler, bool), onClosed func(uint64)) (*connection, error) {
	decoder, err := wire.NewDecoder(crcMode)
	if err != nil {
		return nil, err
	}
	encoderMode := crcMode
	if crcMode == wire.CRCModeV1V2 {
		// The Encoder itself never resolves an effective mode of V1_V2
		// (see DESIGN.md); V1_V2 mirroring is realized per-message via
		// mirrorOverride instead.
		encoderMode = wire.CRCModeUnset
	}
	encoder, err := wire.NewEncoder(encoderMode)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	connLogger := logger.WithField("connectionId", id)
	return &connection{
		id:        id,
		crcMode:   crcMode,
		transport: t,
		encoder:   encoder,
		decoder:   decoder,
		logger:    connLogger,
		collector: collector,
		lookup:    lookup,
		onClosed:  onClosed,
		lifecycle: newConnectionLifecycle(),
		requests:  make(map[uint32]*serverRequest),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// run drives the connection's read loop until the transport closes, errors,
// or a protocol violation terminates it. It blocks the calling goroutine
// for the connection's entire lifetime.
func (c *connection) run() {
	buf := make([]byte, readBufferSize)
	for {
		n, err := c.transport.Read(buf)
		if n > 0 {
			decoded, decErr := c.decoder.Feed(buf[:n])
			for _, msg := range decoded {
				if dispatchErr := c.dispatch(msg); dispatchErr != nil {
					c.close(dispatchErr)
					return
				}
			}
			if decErr != nil {
				c.close(decErr)
				return
			}
		}
		if err != nil {
			c.close(nil)
			return
		}
	}
}

// dispatch routes one decoded inbound message: a duplicate or out-of-order
// msgid fails the connection, a DATA message for an unknown method gets a
// per-request bad_method error, and a DATA message for a known method spawns
// its handler.
func (c *connection) dispatch(msg wire.Decoded) error {
	c.mu.Lock()
	_, inFlight := c.requests[msg.MsgID]
	c.mu.Unlock()

	if inFlight {
		return fasterror.New(fasterror.CategoryProtocol, fasterror.ReasonDuplicateMsgid, "client sent a further message on an in-flight msgid", map[string]any{
			"msgid": msg.MsgID,
		})
	}
	if msg.Status != wire.StatusData {
		return fasterror.New(fasterror.CategoryProtocol, fasterror.ReasonInvalidMsgid, "first message for a msgid must be DATA", map[string]any{
			"msgid":  msg.MsgID,
			"status": msg.Status.String(),
		})
	}

	m, _ := msg.Data["m"].(map[string]any)
	method, _ := m["name"].(string)
	args, _ := msg.Data["d"].([]any)

	handler, ok := c.lookup(method)
	if !ok {
		c.sendBadMethod(msg.MsgID, method, msg.DecodedCRCMode)
		return nil
	}

	req := newServerRequest(c.id, msg.MsgID, method, msg.DecodedCRCMode)
	c.mu.Lock()
	c.requests[msg.MsgID] = req
	c.mu.Unlock()

	go c.invokeHandler(handler, req, args)
	return nil
}

func (c *connection) invokeHandler(handler Handler, req *serverRequest, args []any) {
	w := &responseWriter{conn: c, req: req}
	handler(c.ctx, w, args)
}

func (c *connection) finishRequest(req *serverRequest, err error) {
	c.mu.Lock()
	delete(c.requests, req.msgid)
	c.mu.Unlock()
	c.collector.ObserveRequestCompleted(req.method, err, time.Since(req.startedAt))
}

func (c *connection) sendBadMethod(msgid uint32, method string, decodedCRCMode wire.CRCMode) {
	payload := fasterror.ServerErrorPayload{
		Name:    "FastError",
		Message: "no handler registered for method",
		Info: map[string]any{
			"fastReason": string(fasterror.ReasonBadMethod),
			"rpcMethod":  method,
		},
	}
	if err := c.writeError(msgid, c.mirrorOverride(decodedCRCMode), payload); err != nil {
		c.logger.Debug("failed to send bad_method error", "error", err.Error())
	}
}

// mirrorOverride computes the per-message CRC override a response to a
// request decoded under decoded should use. Single-variant servers always
// use the encoder's fixed default (Unset override); a V1_V2 server mirrors
// the variant that validated the request, collapsing a V1_V2 decode (both
// variants agreed) to V1 since V1_V2 is never a legal effective encode mode.
func (c *connection) mirrorOverride(decoded wire.CRCMode) wire.CRCMode {
	if c.crcMode != wire.CRCModeV1V2 {
		return wire.CRCModeUnset
	}
	if decoded == wire.CRCModeV1V2 {
		return wire.CRCModeV1
	}
	return decoded
}

func envelope(items []any) map[string]any {
	if items == nil {
		items = []any{}
	}
	return map[string]any{"m": map[string]any{}, "d": items}
}

func (c *connection) writeData(req *serverRequest, items []any) error {
	return c.encodeAndWrite(wire.Message{
		MsgID:   req.msgid,
		Status:  wire.StatusData,
		Data:    envelope(items),
		CRCMode: c.mirrorOverride(req.decodedCRCMode),
	})
}

func (c *connection) writeEnd(req *serverRequest, items []any) error {
	return c.encodeAndWrite(wire.Message{
		MsgID:   req.msgid,
		Status:  wire.StatusEnd,
		Data:    envelope(items),
		CRCMode: c.mirrorOverride(req.decodedCRCMode),
	})
}

func (c *connection) writeError(msgid uint32, override wire.CRCMode, payload fasterror.ServerErrorPayload) error {
	d := map[string]any{"name": payload.Name, "message": payload.Message}
	if payload.Info != nil {
		d["info"] = payload.Info
	}
	if payload.Context != nil {
		d["context"] = payload.Context
	}
	if payload.ASEErrors != nil {
		d["ase_errors"] = payload.ASEErrors
	}
	return c.encodeAndWrite(wire.Message{
		MsgID:   msgid,
		Status:  wire.StatusError,
		Data:    map[string]any{"m": map[string]any{}, "d": d},
		CRCMode: override,
	})
}

// encodeAndWrite silently discards output for an already-closed connection
// rather than erroring, for handler goroutines that outlive their
// connection's close.
func (c *connection) encodeAndWrite(msg wire.Message) error {
	if c.lifecycle.Current() != connStateActive {
		return nil
	}
	buf, err := c.encoder.Encode(msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	_, werr := c.transport.Write(buf)
	c.writeMu.Unlock()
	if werr != nil {
		return transport.WrapIOError("write", werr)
	}
	return nil
}

// close terminates the connection exactly once, regardless of whether the
// cause was a protocol violation dispatch detected or a read loop exit
// after the transport itself closed or errored.
func (c *connection) close(cause error) {
	if err := c.lifecycle.Event(context.Background(), connEventClose); err != nil {
		return
	}
	c.cancel()
	_ = c.transport.Close()
	if cause != nil {
		c.logger.Warn("connection terminated", "cause", cause.Error())
	} else {
		c.logger.Info("connection closed")
	}
	c.mu.Lock()
	c.requests = nil
	c.mu.Unlock()
	c.collector.ConnectionClosed()
	c.onClosed(c.id)
}
