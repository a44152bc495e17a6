package ber

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeIntegerRoundTrip(t *testing.T) {
	for _, n := range []int64{0, 1, -1, 127, 128, -128, 255, 256, -256, 1000000, -1000000} {
		enc := EncodeInteger(TagInteger, n)
		tag, value, consumed, err := ReadTLV(enc)
		require.NoError(t, err)
		assert.Equal(t, byte(TagInteger), tag)
		assert.Equal(t, len(enc), consumed)
		got, err := DecodeInteger(value)
		require.NoError(t, err)
		assert.Equal(t, n, got, "round trip for %d", n)
	}
}

func TestEncodeDecodeOIDRoundTrip(t *testing.T) {
	arcs := []uint32{1, 3, 6, 1, 2, 1, 1, 1, 0}
	enc, err := EncodeOID(arcs)
	require.NoError(t, err)

	tag, value, _, err := ReadTLV(enc)
	require.NoError(t, err)
	assert.Equal(t, byte(TagOID), tag)

	decoded, err := DecodeOID(value)
	require.NoError(t, err)
	assert.Equal(t, arcs, decoded)
}

func TestEncodeOIDRejectsShortArcs(t *testing.T) {
	_, err := EncodeOID([]uint32{1})
	assert.Error(t, err)
}

func TestReadTLVTruncated(t *testing.T) {
	_, _, _, err := ReadTLV([]byte{0x04, 0x05, 1, 2})
	assert.ErrorIs(t, err, ErrTruncated)
}
