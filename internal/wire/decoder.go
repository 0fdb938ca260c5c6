package wire

// file: internal/wire/decoder.go

import (
	"encoding/binary"
	"encoding/json"

	"github.com/fastrpc/fast/internal/fasterror"
)

// Decoder accumulates incoming bytes and emits fully-validated logical
// messages, or a single latched terminal error.
type Decoder struct {
	mode CRCMode
	buf  []byte
	err  error
}

// NewDecoder constructs a Decoder configured for the given CRC mode (V1,
// V2, or V1_V2).
func NewDecoder(mode CRCMode) (*Decoder, error) {
	if !mode.legalAsServerMode() {
		return nil, invalidArgument(fasterror.ReasonInvalidArgument, "decoder crc_mode must be V1, V2, or V1_V2", map[string]any{
			"crc_mode": mode.String(),
		})
	}
	return &Decoder{mode: mode}, nil
}

// Feed appends chunk to the decoder's buffer and returns every logical
// message that became fully parseable as a result. Once a terminal error
// has been latched (by this call or a previous one), Feed returns it
// immediately without consuming chunk.
func (d *Decoder) Feed(chunk []byte) ([]Decoded, error) {
	if d.err != nil {
		return nil, d.err
	}
	d.buf = append(d.buf, chunk...)

	var out []Decoded
	for {
		msg, consumed, err := d.tryParseOne()
		if err != nil {
			d.err = err
			return out, err
		}
		if consumed == 0 {
			break
		}
		if msg != nil {
			out = append(out, *msg)
		}
		d.buf = d.buf[consumed:]
	}
	return out, nil
}

// Close signals end-of-input. Unconsumed buffered bytes at this point
// indicate a message that never completed.
func (d *Decoder) Close() error {
	if d.err != nil {
		return d.err
	}
	if len(d.buf) > 0 {
		d.err = fasterror.New(fasterror.CategoryProtocol, fasterror.ReasonIncompleteMessage, "stream ended with an incomplete message", map[string]any{
			"bufferedBytes": len(d.buf),
		})
		return d.err
	}
	return nil
}

// tryParseOne attempts to parse a single framed message from the front of
// d.buf. It returns (nil, 0, nil) when more bytes are needed, (msg,
// consumed, nil) on success, or (nil, 0, err) on a terminal violation. The
// header is re-parsed from scratch on every call rather than cached across
// Feed invocations: simpler, and the cost is negligible against the cost of
// the JSON unmarshal that follows.
func (d *Decoder) tryParseOne() (*Decoded, int, error) {
	if len(d.buf) < HeaderSize {
		return nil, 0, nil
	}

	version := d.buf[0]
	typ := d.buf[1]
	statusByte := d.buf[2]
	msgid := binary.BigEndian.Uint32(d.buf[3:7])
	crcField := binary.BigEndian.Uint32(d.buf[7:11])
	dlen := binary.BigEndian.Uint32(d.buf[11:15])

	if version != ProtocolVersion {
		return nil, 0, fasterror.New(fasterror.CategoryProtocol, fasterror.ReasonUnsupportedVersion, "unsupported wire version", map[string]any{
			"version": version,
		})
	}
	if typ != PayloadTypeJSON {
		return nil, 0, fasterror.New(fasterror.CategoryProtocol, fasterror.ReasonUnsupportedType, "unsupported payload type", map[string]any{
			"type": typ,
		})
	}
	status := Status(statusByte)
	if !status.Valid() {
		return nil, 0, fasterror.New(fasterror.CategoryProtocol, fasterror.ReasonUnsupportedStatus, "unsupported status", map[string]any{
			"status": statusByte,
		})
	}
	if msgid > MaxMsgID {
		return nil, 0, fasterror.New(fasterror.CategoryProtocol, fasterror.ReasonInvalidMsgid, "msgid out of range", map[string]any{
			"msgid": msgid,
		})
	}

	total := HeaderSize + int(dlen)
	if len(d.buf) < total {
		return nil, 0, nil
	}
	payload := d.buf[HeaderSize:total]

	decodedMode, ok, calc := validateCRC(d.mode, payload, crcField)
	if !ok {
		return nil, 0, fasterror.New(fasterror.CategoryProtocol, fasterror.ReasonBadCrc, "CRC mismatch", map[string]any{
			"expectedCrc":   crcField,
			"calculatedCrc": calc,
		})
	}

	var generic any
	if err := json.Unmarshal(payload, &generic); err != nil {
		return nil, 0, fasterror.New(fasterror.CategoryProtocol, fasterror.ReasonInvalidJSON, "payload is not valid JSON", map[string]any{
			"cause": err.Error(),
		})
	}
	obj, isObj := generic.(map[string]any)
	if !isObj {
		return nil, 0, fasterror.New(fasterror.CategoryProtocol, fasterror.ReasonBadData, "payload must be a non-null JSON object", nil)
	}
	if err := validateShape(status, obj); err != nil {
		return nil, 0, err
	}

	msg := &Decoded{
		Message: Message{
			MsgID:  msgid,
			Status: status,
			Data:   obj,
		},
		DecodedCRCMode: decodedMode,
	}
	return msg, total, nil
}

// validateCRC checks payload's CRC16 against crcField under the decoder's
// configured mode, returning the variant that validated it.
func validateCRC(mode CRCMode, payload []byte, crcField uint32) (decodedMode CRCMode, ok bool, calculated uint32) {
	legacy := uint32(Legacy(payload))
	correct := uint32(Correct(payload))

	switch mode {
	case CRCModeV1:
		return CRCModeV1, legacy == crcField, legacy
	case CRCModeV2:
		return CRCModeV2, correct == crcField, correct
	case CRCModeV1V2:
		v1ok := legacy == crcField
		v2ok := correct == crcField
		switch {
		case v1ok && v2ok:
			return CRCModeV1V2, true, legacy
		case v1ok:
			return CRCModeV1, true, legacy
		case v2ok:
			return CRCModeV2, true, correct
		default:
			return 0, false, legacy
		}
	default:
		return 0, false, legacy
	}
}
