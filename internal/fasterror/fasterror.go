// Package fasterror defines Fast's error taxonomy and the structured-detail
// helpers used to build and inspect it, built on the
// errors.WithDetail("key:value") convention for attaching structured fields
// to a cockroachdb/errors chain.
package fasterror

// file: internal/fasterror/fasterror.go

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// Category names the five error taxonomy members.
type Category string

// The five Fast error categories.
const (
	// CategoryProtocol marks wire/format/CRC faults; terminal per connection.
	CategoryProtocol Category = "FastProtocolError"
	// CategoryTransport marks underlying transport failures; terminal per connection.
	CategoryTransport Category = "FastTransportError"
	// CategoryServer marks a handler-reported failure; terminal per request only.
	CategoryServer Category = "FastServerError"
	// CategoryRequest marks the client-facing wrapper for any per-request failure.
	CategoryRequest Category = "FastRequestError"
	// CategoryMisc marks miscellaneous core errors such as an unknown method.
	CategoryMisc Category = "FastError"
	// CategoryInvalidArgument marks programmer errors raised synchronously
	// by the encoder/decoder's structural validation.
	// It sits outside the five taxonomy categories proper: callers are not
	// expected to catch it, only to fix the call site.
	CategoryInvalidArgument Category = "InvalidArgument"
)

// Reason enumerates the wire-level `fastReason` values.
type Reason string

// The ten decoder-level fastReason values; unknown_msgid and duplicate_msgid,
// the connection-level violations the client and server routers detect;
// bad_method for an unregistered method; detached for the client's failure
// fan-out on Detach; and invalid_argument for programmer errors.
const (
	ReasonUnsupportedVersion Reason = "unsupported_version"
	ReasonUnsupportedType    Reason = "unsupported_type"
	ReasonUnsupportedStatus  Reason = "unsupported_status"
	ReasonInvalidMsgid       Reason = "invalid_msgid"
	ReasonBadCrc             Reason = "bad_crc"
	ReasonInvalidJSON        Reason = "invalid_json"
	ReasonBadData            Reason = "bad_data"
	ReasonBadDataD           Reason = "bad_data_d"
	ReasonBadError           Reason = "bad_error"
	ReasonIncompleteMessage  Reason = "incomplete_message"
	ReasonUnknownMsgid       Reason = "unknown_msgid"
	ReasonBadMethod          Reason = "bad_method"
	ReasonDuplicateMsgid     Reason = "duplicate_msgid"
	ReasonDetached           Reason = "detached"
	ReasonInvalidArgument    Reason = "invalid_argument"
)

// Sentinel base errors, one per category, used with errors.Is/errors.Mark so
// callers can test category membership without string comparison.
var (
	ErrProtocol  = errors.New("fast protocol error")
	ErrTransport = errors.New("fast transport error")
	ErrServer    = errors.New("fast server error")
	ErrRequest   = errors.New("fast request error")
	ErrMisc      = errors.New("fast error")
	ErrInvalidArgument = errors.New("fast invalid argument")
)

func sentinelFor(category Category) error {
	switch category {
	case CategoryProtocol:
		return ErrProtocol
	case CategoryTransport:
		return ErrTransport
	case CategoryServer:
		return ErrServer
	case CategoryRequest:
		return ErrRequest
	case CategoryInvalidArgument:
		return ErrInvalidArgument
	default:
		return ErrMisc
	}
}

// WithDetails marks err with its category sentinel and attaches category,
// fastReason, and arbitrary key/value detail strings, mirroring
// mcperror.ErrorWithDetails.
func WithDetails(err error, category Category, reason Reason, details map[string]any) error {
	err = errors.Mark(err, sentinelFor(category))
	err = errors.WithDetail(err, fmt.Sprintf("category:%s", category))
	if reason != "" {
		err = errors.WithDetail(err, fmt.Sprintf("fastReason:%s", reason))
	}
	for key, value := range details {
		err = errors.WithDetail(err, fmt.Sprintf("%s:%v", key, value))
	}
	return err
}

// New creates a new categorized error.
func New(category Category, reason Reason, message string, details map[string]any) error {
	return WithDetails(errors.Newf("%s", message), category, reason, details)
}

// Wrap wraps cause with message and categorizes the result.
func Wrap(cause error, category Category, reason Reason, message string, details map[string]any) error {
	return WithDetails(errors.Wrapf(cause, "%s", message), category, reason, details)
}

// IsCategory reports whether err belongs to the given category.
func IsCategory(err error, category Category) bool {
	return errors.Is(err, sentinelFor(category))
}

// GetCategory extracts the category detail, if present.
func GetCategory(err error) Category {
	for _, d := range errors.GetAllDetails(err) {
		if v, ok := strings.CutPrefix(d, "category:"); ok {
			return Category(v)
		}
	}
	return ""
}

// GetReason extracts the fastReason detail, if present.
func GetReason(err error) Reason {
	for _, d := range errors.GetAllDetails(err) {
		if v, ok := strings.CutPrefix(d, "fastReason:"); ok {
			return Reason(v)
		}
	}
	return ""
}

// GetDetails returns every "key:value" detail attached to err (excluding the
// internal category/fastReason bookkeeping keys) as a map, attempting int and
// bool conversion the same way mcperror.GetErrorProperties does.
func GetDetails(err error) map[string]any {
	out := make(map[string]any)
	for _, d := range errors.GetAllDetails(err) {
		key, value, ok := strings.Cut(d, ":")
		if !ok || key == "category" || key == "fastReason" {
			continue
		}
		if i, convErr := strconv.Atoi(value); convErr == nil {
			out[key] = i
			continue
		}
		if b, convErr := strconv.ParseBool(value); convErr == nil {
			out[key] = b
			continue
		}
		out[key] = value
	}
	return out
}

// ServerErrorPayload is the wire shape of an ERROR message's `d` object.
type ServerErrorPayload struct {
	Name      string         `json:"name"`
	Message   string         `json:"message"`
	Info      map[string]any `json:"info,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
	ASEErrors []any          `json:"ase_errors,omitempty"`
}

// WrapServerError builds a three-layer chain: FastRequestError <-
// FastServerError <- original server-supplied error. The innermost error
// carries name/message exactly as reported by the handler so
// GetCategory/GetReason/GetDetails on the outer error reflect the request
// layer while errors.Is can still unwrap to inspect the server layer.
func WrapServerError(msgid uint32, method string, payload ServerErrorPayload) error {
	inner := errors.Newf("%s: %s", payload.Name, payload.Message)
	inner = WithDetails(inner, CategoryServer, "", map[string]any{
		"name": payload.Name,
	})
	serverLayer := errors.Wrapf(inner, "server reported %s", payload.Name)
	serverLayer = WithDetails(serverLayer, CategoryServer, "", mergeDetails(payload.Info, payload.Context))

	details := map[string]any{
		"rpcMsgid":  msgid,
		"rpcMethod": method,
	}
	requestLayer := errors.Wrapf(serverLayer, "rpc %s failed", method)
	return WithDetails(requestLayer, CategoryRequest, "", details)
}

// HandlerError is the structured failure type a server handler constructs
// to call its response-writer's Fail with more than a bare message: it maps
// onto an ERROR message's name, message, info, context, and ase_errors
// fields one-to-one, every other property being stripped. A handler that
// fails with a plain error still produces a valid ERROR message (name
// defaults to "FastError", message to err.Error()); HandlerError exists for
// handlers that want the richer shape.
type HandlerError struct {
	Name      string
	Message   string
	Info      map[string]any
	Context   map[string]any
	ASEErrors []any
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("%s: %s", e.Name, e.Message)
}

// Payload converts err into the wire ERROR shape, reading a *HandlerError's
// structured fields when present and falling back to a bare FastError
// otherwise.
func Payload(err error) ServerErrorPayload {
	var h *HandlerError
	if errors.As(err, &h) {
		return ServerErrorPayload{
			Name:      h.Name,
			Message:   h.Message,
			Info:      h.Info,
			Context:   h.Context,
			ASEErrors: h.ASEErrors,
		}
	}
	return ServerErrorPayload{Name: "FastError", Message: err.Error()}
}

func mergeDetails(info, context map[string]any) map[string]any {
	out := make(map[string]any, len(info)+len(context))
	for k, v := range info {
		out["info_"+k] = v
	}
	for k, v := range context {
		out["context_"+k] = v
	}
	return out
}

// WrapConnectionFailure produces the per-request FastRequestError whose
// cause is the connection-level protocol or transport error, for
// distributing one connection failure to every request pending on it.
func WrapConnectionFailure(msgid uint32, method string, cause error) error {
	err := errors.Wrapf(cause, "rpc %s failed: connection error", method)
	return WithDetails(err, CategoryRequest, "", map[string]any{
		"rpcMsgid":  msgid,
		"rpcMethod": method,
	})
}
