// Package wire implements the Fast framing codec: the 15-byte header plus
// JSON payload wire format, the dual-variant CRC16 engine, and the
// MessageEncoder/MessageDecoder stream transformers that convert between
// raw bytes and logical messages.
package wire

// file: internal/wire/crc.go

const crc16Poly = 0x1021

// crc16 computes a CRC-16/CCITT-family checksum over data, processing each
// byte MSB-first with no input/output reflection and no final XOR. Only
// Legacy uses it; Correct is a separate, reflected CRC-16/ARC loop.
func crc16(data []byte, init uint16) uint16 {
	crc := init
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ crc16Poly
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// Legacy reproduces the historically-shipped, buggy Fast v1 CRC16: an
// MSB-first CRC-16/CCITT-family computation (poly 0x1021) with its register
// starting at 0x0000, i.e. the CRC-16/XMODEM parameters. It is a different
// algorithm from Correct, not a reseeded copy of it, which is why the two
// disagree on most payloads. Reference vector: Legacy([]byte(`["hello","world"]`)) == 10980.
func Legacy(data []byte) uint16 {
	return crc16(data, 0x0000)
}

// crc16ARCPoly is the bit-reversed form of the CRC-16/ARC polynomial 0x8005,
// used when processing the register LSB-first.
const crc16ARCPoly = 0xA001

// Correct computes the standard CRC-16/ARC checksum that Fast v2 peers use:
// poly 0x8005, register initialized to 0x0000, both input and output
// reflected, no final XOR. It shares nothing with Legacy's CCITT-family
// computation beyond the zero initial register. Reference vector:
// Correct([]byte(`["hello","world"]`)) == 7500.
func Correct(data []byte) uint16 {
	crc := uint16(0)
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ crc16ARCPoly
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}
