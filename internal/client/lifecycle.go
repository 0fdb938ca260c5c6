package client

// file: internal/client/lifecycle.go

import (
	lfsm "github.com/looplab/fsm"
)

// Per-request lifecycle: pending -> streaming -> completed|failed. Each
// request owns its own machine instance so concurrent requests sharing one
// connection never contend over FSM state.
const (
	reqStatePending   = "pending"
	reqStateStreaming = "streaming"
	reqStateCompleted = "completed"
	reqStateFailed    = "failed"

	reqEventData = "data"
	reqEventEnd  = "end"
	reqEventFail = "fail"
)

func newRequestLifecycle() *lfsm.FSM {
	return lfsm.NewFSM(reqStatePending, lfsm.Events{
		{Name: reqEventData, Src: []string{reqStatePending, reqStateStreaming}, Dst: reqStateStreaming},
		{Name: reqEventEnd, Src: []string{reqStatePending, reqStateStreaming}, Dst: reqStateCompleted},
		{Name: reqEventFail, Src: []string{reqStatePending, reqStateStreaming}, Dst: reqStateFailed},
	}, lfsm.Callbacks{})
}
