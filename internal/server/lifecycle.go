package server

// file: internal/server/lifecycle.go

import (
	lfsm "github.com/looplab/fsm"
)

// Per-request lifecycle: pending -> streaming -> ended. The server
// collapses its two terminal causes (handler called End, handler called
// Fail) into a single ended state: once a request is ended, the router only
// needs to know that further writes on its msgid are dropped, not which
// terminal call produced that state.
const (
	reqStatePending   = "pending"
	reqStateStreaming = "streaming"
	reqStateEnded     = "ended"

	reqEventWrite = "write"
	reqEventEnd   = "end"
)

func newRequestLifecycle() *lfsm.FSM {
	return lfsm.NewFSM(reqStatePending, lfsm.Events{
		{Name: reqEventWrite, Src: []string{reqStatePending, reqStateStreaming}, Dst: reqStateStreaming},
		{Name: reqEventEnd, Src: []string{reqStatePending, reqStateStreaming}, Dst: reqStateEnded},
	}, lfsm.Callbacks{})
}

// Per-connection lifecycle: active -> closed.
const (
	connStateActive = "active"
	connStateClosed = "closed"

	connEventClose = "close"
)

func newConnectionLifecycle() *lfsm.FSM {
	return lfsm.NewFSM(connStateActive, lfsm.Events{
		{Name: connEventClose, Src: []string{connStateActive}, Dst: connStateClosed},
	}, lfsm.Callbacks{})
}
