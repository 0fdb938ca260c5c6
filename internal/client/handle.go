package client

// file: internal/client/handle.go

import "context"

// RequestHandle is the lazy, finite sequence of values an RPC call returns:
// zero or more DATA items followed by either a clean end or a terminal
// error.
type RequestHandle struct {
	req *request
}

// Next blocks until the next DATA item arrives, the request ends, or ctx is
// done. ok is false once the sequence is finished; call Err to distinguish a
// clean end from a failure.
func (h *RequestHandle) Next(ctx context.Context) (value any, ok bool) {
	select {
	case v, ok := <-h.req.dataCh:
		return v, ok
	case <-ctx.Done():
		return nil, false
	}
}

// Err reports the request's terminal error, if any. Valid only after Next
// has returned ok == false because the sequence ended (not because ctx was
// done).
func (h *RequestHandle) Err() error {
	return h.req.Err()
}

// MsgID returns the wire message id this request was assigned, for logging
// and diagnostics.
func (h *RequestHandle) MsgID() uint32 {
	return h.req.msgid
}

// Drain consumes every remaining item on the handle and returns them along
// with the terminal error, for callers that want the whole response instead
// of streaming it. It is the one-shot equivalent of rpcBufferAndCallback
// without the max-objects bound.
func (h *RequestHandle) Drain(ctx context.Context) ([]any, error) {
	var items []any
	for {
		v, ok := h.Next(ctx)
		if !ok {
			break
		}
		items = append(items, v)
	}
	if err := ctx.Err(); err != nil && h.Err() == nil {
		return items, err
	}
	return items, h.Err()
}
