package client

// file: internal/client/request.go

import (
	"context"
	"sync"
	"time"

	lfsm "github.com/looplab/fsm"
)

// request is a single outstanding RPC's bookkeeping: its wire identity, the
// channel its DATA items are delivered on, its lifecycle state machine, and
// the terminal outcome once the server sends END or ERROR, minus the args
// the caller already holds via the RequestHandle it received.
type request struct {
	msgid  uint32
	method string
	start  time.Time

	lifecycle *lfsm.FSM

	// dataCh delivers DATA items in order. A bounded capacity makes a slow
	// consumer's blocked receive into backpressure: the connection's single
	// read loop stalls on the send, which stalls further Feed/dispatch calls,
	// which stalls further transport.Read calls.
	dataCh chan any

	mu  sync.Mutex
	err error
}

const requestBufferSize = 16

func newRequest(msgid uint32, method string) *request {
	return &request{
		msgid:     msgid,
		method:    method,
		start:     time.Now(),
		lifecycle: newRequestLifecycle(),
		dataCh:    make(chan any, requestBufferSize),
	}
}

// emit delivers one DATA item, blocking if the consumer hasn't drained the
// buffer yet. Emitting after the request has already reached a terminal
// state is a no-op: the lifecycle transition fails and the item is dropped,
// mirroring the handler-side "write after termination is silently dropped"
// rule for the symmetric client-side race against a connection-wide fan-out.
func (r *request) emit(item any) {
	if err := r.lifecycle.Event(context.Background(), reqEventData); err != nil {
		return
	}
	r.dataCh <- item
}

// complete records the terminal outcome and closes dataCh so Next observes
// end-of-stream. Idempotent: the lifecycle transition to a terminal state
// only succeeds once, since a request can be completed either by its own
// END/ERROR or by a connection-wide failure fan-out racing it.
func (r *request) complete(err error) {
	event := reqEventEnd
	if err != nil {
		event = reqEventFail
	}
	if transErr := r.lifecycle.Event(context.Background(), event); transErr != nil {
		return
	}
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
	close(r.dataCh)
}

func (r *request) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}
