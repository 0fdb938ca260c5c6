// Package transport — error construction.
package transport

// file: internal/transport/transport_errors.go

import (
	"fmt"
	"io"

	cockroacherrors "github.com/cockroachdb/errors"

	"github.com/fastrpc/fast/internal/fasterror"
)

// closedMarker is a sentinel cause attached via cockroachdb/errors.Mark so
// IsClosedError/errors.Is can test membership without string comparison.
type closedMarker struct{ operation string }

func (c *closedMarker) Error() string {
	return fmt.Sprintf("cannot perform %s on a closed transport", c.operation)
}

// NewClosedError reports that operation was attempted on an already-closed
// transport.
func NewClosedError(operation string) error {
	err := cockroacherrors.Mark(&closedMarker{operation: operation}, errClosed)
	return fasterror.WithDetails(err, fasterror.CategoryTransport, "", map[string]any{
		"operation": operation,
	})
}

var errClosed = cockroacherrors.New("fast transport closed")

// IsClosedError reports whether err (or its cause chain) signifies the
// transport was already closed, including the standard io.EOF case.
func IsClosedError(err error) bool {
	if cockroacherrors.Is(err, errClosed) {
		return true
	}
	return cockroacherrors.Is(err, io.EOF) || cockroacherrors.Is(err, io.ErrClosedPipe)
}

// WrapIOError categorizes an arbitrary I/O failure as a FastTransportError.
func WrapIOError(op string, cause error) error {
	wrapped := cockroacherrors.Wrapf(cause, "transport %s failed", op)
	return fasterror.WithDetails(wrapped, fasterror.CategoryTransport, "", map[string]any{
		"operation": op,
	})
}
