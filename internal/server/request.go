package server

// file: internal/server/request.go

import (
	"time"

	lfsm "github.com/looplab/fsm"

	"github.com/fastrpc/fast/internal/wire"
)

// serverRequest is one in-flight request on one connection: its wire
// identity, the CRC variant its opening DATA message decoded under (so
// replies can mirror it in V1_V2 mode), and its lifecycle state machine.
type serverRequest struct {
	connID         uint64
	msgid          uint32
	method         string
	decodedCRCMode wire.CRCMode
	startedAt      time.Time

	lifecycle *lfsm.FSM
}

func newServerRequest(connID uint64, msgid uint32, method string, decodedCRCMode wire.CRCMode) *serverRequest {
	return &serverRequest{
		connID:         connID,
		msgid:          msgid,
		method:         method,
		decodedCRCMode: decodedCRCMode,
		startedAt:      time.Now(),
		lifecycle:      newRequestLifecycle(),
	}
}
