package wire

// file: internal/wire/crc_test.go

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCRC16ReferenceVectors(t *testing.T) {
	payload := []byte(`["hello","world"]`)
	assert.Equal(t, uint16(10980), Legacy(payload), "legacy CRC16 must match the pinned v1 reference vector")
	assert.Equal(t, uint16(7500), Correct(payload), "correct CRC16 must match the pinned v2 reference vector")
}

func TestCRC16VariantsDisagreeOnMostPayloads(t *testing.T) {
	payload := []byte(`["hello","world"]`)
	assert.NotEqual(t, Legacy(payload), Correct(payload), "the historical bug is that the two variants usually disagree")
}

func TestCRC16Deterministic(t *testing.T) {
	payload := []byte(`{"m":{"name":"echo","uts":1},"d":["x"]}`)
	assert.Equal(t, Legacy(payload), Legacy(payload))
	assert.Equal(t, Correct(payload), Correct(payload))
}
