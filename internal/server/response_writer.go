package server

// file: internal/server/response_writer.go

import (
	"context"

	"github.com/fastrpc/fast/internal/fasterror"
)

// ResponseWriter is the handler contract: a handler may call Write any
// number of times before exactly one call to End or Fail.
type ResponseWriter interface {
	// Write appends a DATA message carrying a single value.
	Write(value any) error
	// End sends the terminal END message. At most one value may be given;
	// it is packed into the message the same way Write packs its argument.
	End(value ...any) error
	// Fail sends the terminal ERROR message. A *fasterror.HandlerError
	// carries the full name/message/info/context/ase_errors shape; any
	// other error produces a FastError ERROR with err.Error() as message.
	Fail(err error) error
	// ConnectionID identifies the connection this request arrived on.
	ConnectionID() uint64
	// RequestID is the request's msgid.
	RequestID() uint32
}

type responseWriter struct {
	conn *connection
	req  *serverRequest
}

func (w *responseWriter) Write(value any) error {
	if err := w.req.lifecycle.Event(context.Background(), reqEventWrite); err != nil {
		w.conn.logger.Debug("write after request termination dropped", "method", w.req.method, "msgid", w.req.msgid)
		return nil
	}
	return w.conn.writeData(w.req, []any{value})
}

func (w *responseWriter) End(value ...any) error {
	if len(value) > 1 {
		return fasterror.New(fasterror.CategoryInvalidArgument, fasterror.ReasonInvalidArgument, "end accepts at most one value", nil)
	}
	if err := w.req.lifecycle.Event(context.Background(), reqEventEnd); err != nil {
		return nil
	}
	defer w.conn.finishRequest(w.req, nil)
	return w.conn.writeEnd(w.req, value)
}

func (w *responseWriter) Fail(err error) error {
	if transErr := w.req.lifecycle.Event(context.Background(), reqEventEnd); transErr != nil {
		return nil
	}
	defer w.conn.finishRequest(w.req, err)
	return w.conn.writeError(w.req.msgid, w.conn.mirrorOverride(w.req.decodedCRCMode), fasterror.Payload(err))
}

func (w *responseWriter) ConnectionID() uint64 { return w.conn.id }
func (w *responseWriter) RequestID() uint32    { return w.req.msgid }
