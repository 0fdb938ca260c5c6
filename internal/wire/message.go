package wire

// file: internal/wire/message.go

import (
	"github.com/fastrpc/fast/internal/fasterror"
)

// Header layout constants.
const (
	HeaderSize      = 15
	ProtocolVersion = 1
	PayloadTypeJSON = 1

	// MaxMsgID is the largest legal msgid: the high bit of the 32-bit field
	// must be zero, so the legal range is [0, 2^31-1].
	MaxMsgID = 1<<31 - 1
)

// Status is the wire STATUS field.
type Status uint8

// The three legal STATUS values.
const (
	StatusData  Status = 1
	StatusEnd   Status = 2
	StatusError Status = 3
)

// Valid reports whether s is one of the three legal statuses.
func (s Status) Valid() bool {
	return s == StatusData || s == StatusEnd || s == StatusError
}

func (s Status) String() string {
	switch s {
	case StatusData:
		return "DATA"
	case StatusEnd:
		return "END"
	case StatusError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// CRCMode is the CRC mode enumeration.
type CRCMode uint8

const (
	// CRCModeUnset means "no explicit mode given"; callers resolve a
	// concrete mode before encoding or decoding.
	CRCModeUnset CRCMode = 0
	// CRCModeV1 selects the legacy CRC16 variant only.
	CRCModeV1 CRCMode = 1
	// CRCModeV2 selects the correct CRC16 variant only.
	CRCModeV2 CRCMode = 2
	// CRCModeV1V2 is the dual-accept, server-only mode.
	CRCModeV1V2 CRCMode = 3
)

func (m CRCMode) String() string {
	switch m {
	case CRCModeV1:
		return "V1"
	case CRCModeV2:
		return "V2"
	case CRCModeV1V2:
		return "V1_V2"
	default:
		return "UNSET"
	}
}

// ParseCRCMode parses the configuration-file spelling of a CRC mode.
func ParseCRCMode(s string) (CRCMode, error) {
	switch s {
	case "", "UNSET":
		return CRCModeUnset, nil
	case "V1":
		return CRCModeV1, nil
	case "V2":
		return CRCModeV2, nil
	case "V1_V2":
		return CRCModeV1V2, nil
	default:
		return CRCModeUnset, invalidArgument(fasterror.ReasonInvalidArgument, "unrecognized crc_mode", map[string]any{
			"crc_mode": s,
		})
	}
}

// UnmarshalYAML implements yaml.Unmarshaler so CRCMode can be written as a
// plain string (`V1`, `V2`, `V1_V2`) in a Settings file.
func (m *CRCMode) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := ParseCRCMode(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (m CRCMode) MarshalYAML() (any, error) {
	return m.String(), nil
}

// legalAsOverride reports whether m is legal as a per-message encoding
// override or as a client's construction mode: only a concrete variant,
// never the dual-accept mode.
func (m CRCMode) legalAsOverride() bool {
	return m == CRCModeV1 || m == CRCModeV2
}

// LegalAsClientMode reports whether m is legal as a client's construction
// or per-message encoding mode: only a concrete variant, never V1_V2.
func (m CRCMode) LegalAsClientMode() bool {
	return m.legalAsOverride()
}

// legalAsServerMode reports whether m is legal as a server/decoder
// construction mode: any of the three concrete-or-dual values.
func (m CRCMode) legalAsServerMode() bool {
	return m == CRCModeV1 || m == CRCModeV2 || m == CRCModeV1V2
}

// LegalAsServerMode reports whether m is legal as a server's construction
// mode: any of the three concrete-or-dual values.
func (m CRCMode) LegalAsServerMode() bool {
	return m.legalAsServerMode()
}

// Message is the logical message shape exchanged between the codec and the
// client/server multiplexers: `{msgid, status, data, crc_mode?}`.
type Message struct {
	MsgID   uint32
	Status  Status
	Data    map[string]any
	// CRCMode is a per-message encoding override; CRCModeUnset means "use
	// the encoder's default". Only meaningful for Encode.
	CRCMode CRCMode
}

// Decoded wraps a successfully decoded Message with the CRC variant that
// validated it, the "decoded CRC mode" consumers use to mirror replies.
type Decoded struct {
	Message
	DecodedCRCMode CRCMode
}

func invalidArgument(reason fasterror.Reason, msg string, details map[string]any) error {
	return fasterror.New(fasterror.CategoryInvalidArgument, reason, msg, details)
}

// validateForEncode applies the encoder's structural validation: msgid
// range, status membership, non-nil data, and a concrete-only per-message
// CRC override.
func validateForEncode(msg Message) error {
	if msg.MsgID > MaxMsgID {
		return invalidArgument(fasterror.ReasonInvalidArgument, "msgid out of range", map[string]any{
			"msgid": msg.MsgID,
		})
	}
	if !msg.Status.Valid() {
		return invalidArgument(fasterror.ReasonInvalidArgument, "invalid status", map[string]any{
			"status": uint8(msg.Status),
		})
	}
	if msg.Data == nil {
		return invalidArgument(fasterror.ReasonInvalidArgument, "data must be a non-nil object", nil)
	}
	if msg.CRCMode != CRCModeUnset && !msg.CRCMode.legalAsOverride() {
		return invalidArgument(fasterror.ReasonInvalidArgument, "per-message crc_mode override must be V1 or V2", map[string]any{
			"crc_mode": msg.CRCMode.String(),
		})
	}
	return nil
}

// validateShape applies the decoder's per-status `d` shape check: DATA and
// END require an array `d`; ERROR requires a non-null object `d` with
// non-empty string `name` and `message`. `m` must be present as an object on
// every message, whatever its status.
func validateShape(status Status, data map[string]any) error {
	if _, ok := data["m"].(map[string]any); !ok {
		return fasterror.New(fasterror.CategoryProtocol, fasterror.ReasonBadData, "data.m must be an object", nil)
	}
	d, hasD := data["d"]
	if !hasD {
		return fasterror.New(fasterror.CategoryProtocol, fasterror.ReasonBadDataD, "data.d is required", nil)
	}
	switch status {
	case StatusData, StatusEnd:
		if _, ok := d.([]any); !ok {
			return fasterror.New(fasterror.CategoryProtocol, fasterror.ReasonBadDataD, "data.d must be an array for DATA/END", map[string]any{
				"status": status.String(),
			})
		}
	case StatusError:
		obj, ok := d.(map[string]any)
		if !ok || obj == nil {
			return fasterror.New(fasterror.CategoryProtocol, fasterror.ReasonBadError, "data.d must be a non-null object for ERROR", nil)
		}
		name, okName := obj["name"].(string)
		message, okMessage := obj["message"].(string)
		if !okName || name == "" || !okMessage || message == "" {
			return fasterror.New(fasterror.CategoryProtocol, fasterror.ReasonBadError, "ERROR data.d requires string name and message", nil)
		}
	}
	return nil
}
