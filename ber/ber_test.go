package ber

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadHeaderShortForm(t *testing.T) {
	h, err := ReadHeader([]byte{0x30, 0x10, 0xAA})
	require.NoError(t, err)
	assert.Equal(t, byte(TagSequence), h.Tag)
	assert.Equal(t, 0x10, h.Length)
	assert.Equal(t, 2, h.HeaderLen)
}

func TestReadHeaderLongForm(t *testing.T) {
	// length 300 = 0x012C, encoded as 0x82 0x01 0x2C
	h, err := ReadHeader([]byte{0x30, 0x82, 0x01, 0x2C})
	require.NoError(t, err)
	assert.Equal(t, 300, h.Length)
	assert.Equal(t, 4, h.HeaderLen)
}

func TestReadHeaderTruncated(t *testing.T) {
	_, err := ReadHeader([]byte{0x30})
	assert.ErrorIs(t, err, ErrTruncated)

	_, err = ReadHeader([]byte{0x30, 0x82, 0x01})
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestMessageLength(t *testing.T) {
	buf := []byte{0x30, 0x05, 1, 2, 3, 4, 5}
	total, hdr, err := MessageLength(buf)
	require.NoError(t, err)
	assert.Equal(t, 7, total)
	assert.Equal(t, 2, hdr)
}

func TestPeekVersionV2c(t *testing.T) {
	// SEQUENCE { INTEGER version(1) = 1 (v2c) }
	buf := []byte{0x30, 0x03, 0x02, 0x01, 0x01}
	v, err := PeekVersion(buf)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestPeekVersionV3(t *testing.T) {
	buf := []byte{0x30, 0x03, 0x02, 0x01, 0x03}
	v, err := PeekVersion(buf)
	require.NoError(t, err)
	assert.Equal(t, 3, v)
}

func TestEncodeLengthRoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 0x7f, 0x80, 300, 70000} {
		enc := EncodeLength(n)
		buf := append([]byte{0x30}, enc...)
		h, err := ReadHeader(buf)
		require.NoError(t, err)
		assert.Equal(t, n, h.Length, "length %d", n)
	}
}
