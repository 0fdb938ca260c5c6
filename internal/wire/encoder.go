package wire

// file: internal/wire/encoder.go

import (
	"encoding/binary"
	"encoding/json"

	"github.com/fastrpc/fast/internal/fasterror"
)

// matchingCRCSearchCap is the hard, non-configurable iteration cap on the
// Matching-CRC Search.
const matchingCRCSearchCap = 500_000

// Encoder turns logical messages into framed byte buffers.
type Encoder struct {
	// defaultMode is used when a message carries no per-message override.
	// CRCModeUnset falls back to CRCModeV1. Only V1 or V2 are legal here;
	// a server's default of V1_V2 is realized by always supplying a
	// per-message override (the mirrored decoded mode) rather than by
	// setting this field to V1_V2 — see DESIGN.md for why V1_V2 is kept
	// out of the encoder's resolved effective mode entirely.
	defaultMode CRCMode
}

// NewEncoder constructs an Encoder with the given default CRC mode.
// CRCModeUnset is accepted and resolves to V1 at encode time.
func NewEncoder(defaultMode CRCMode) (*Encoder, error) {
	if defaultMode != CRCModeUnset && !defaultMode.legalAsOverride() {
		return nil, invalidArgument(fasterror.ReasonInvalidArgument, "encoder default crc_mode must be V1 or V2", map[string]any{
			"crc_mode": defaultMode.String(),
		})
	}
	return &Encoder{defaultMode: defaultMode}, nil
}

// Encode validates msg, resolves its effective CRC mode, computes the CRC
// (running the Matching-CRC Search for V1), and returns the complete framed
// buffer: 15-byte header followed by the JSON payload.
func (e *Encoder) Encode(msg Message) ([]byte, error) {
	if err := validateForEncode(msg); err != nil {
		return nil, err
	}

	effective := msg.CRCMode
	if effective == CRCModeUnset {
		effective = e.defaultMode
	}
	if effective == CRCModeUnset {
		effective = CRCModeV1
	}
	if effective == CRCModeV1V2 {
		return nil, invalidArgument(fasterror.ReasonInvalidArgument, "V1_V2 is not a legal effective encoding mode", nil)
	}

	payload, crcVal, err := e.computeCRC(effective, msg.Data)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, HeaderSize+len(payload))
	buf[0] = ProtocolVersion
	buf[1] = PayloadTypeJSON
	buf[2] = byte(msg.Status)
	binary.BigEndian.PutUint32(buf[3:7], msg.MsgID)
	binary.BigEndian.PutUint32(buf[7:11], uint32(crcVal))
	binary.BigEndian.PutUint32(buf[11:15], uint32(len(payload)))
	copy(buf[HeaderSize:], payload)
	return buf, nil
}

func (e *Encoder) computeCRC(mode CRCMode, data map[string]any) ([]byte, uint16, error) {
	switch mode {
	case CRCModeV2:
		payload, err := marshalData(data)
		if err != nil {
			return nil, 0, err
		}
		return payload, Correct(payload), nil
	default: // CRCModeV1
		return matchingCRCSearch(data)
	}
}

// matchingCRCSearch mutates a shallow copy of data["m"]["uts"], re-serializing
// after each mutation, looking for a payload whose Legacy and Correct CRC16
// agree, so a V1 client's buggy decoder and a V2 peer's correct decoder both
// accept the same bytes. encoding/json already serializes Go map keys in
// sorted order, giving identical logical content identical bytes between
// attempts regardless of the map's iteration order.
func matchingCRCSearch(data map[string]any) ([]byte, uint16, error) {
	m, _ := data["m"].(map[string]any)
	uts, hasUTS := numericUTS(m)
	if !hasUTS {
		payload, err := marshalData(data)
		if err != nil {
			return nil, 0, err
		}
		return payload, Legacy(payload), nil
	}

	mCopy := make(map[string]any, len(m))
	for k, v := range m {
		mCopy[k] = v
	}
	dataCopy := make(map[string]any, len(data))
	for k, v := range data {
		dataCopy[k] = v
	}
	dataCopy["m"] = mCopy

	for i := 0; i < matchingCRCSearchCap; i++ {
		mCopy["uts"] = uts + int64(i)
		payload, err := marshalData(dataCopy)
		if err != nil {
			return nil, 0, err
		}
		legacy := Legacy(payload)
		correct := Correct(payload)
		if legacy == correct {
			return payload, legacy, nil
		}
	}

	mCopy["uts"] = uts
	payload, err := marshalData(dataCopy)
	if err != nil {
		return nil, 0, err
	}
	return payload, Legacy(payload), nil
}

func numericUTS(m map[string]any) (int64, bool) {
	if m == nil {
		return 0, false
	}
	switch v := m["uts"].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}

// marshalData serializes data to JSON, reporting cyclic references (spec
// §9, "Cyclic references in user data") as an InvalidArgument error rather
// than panicking or hanging.
func marshalData(data map[string]any) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, invalidArgument(fasterror.ReasonInvalidArgument, "data is not serializable to JSON", map[string]any{
			"cause": err.Error(),
		})
	}
	return payload, nil
}
