package xz

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	data := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog "), 200)

	encoded, err := Encode(data, nil)
	require.NoError(t, err)

	decoded, err := Decode(encoded)
	require.NoError(t, err)

	assert.Equal(t, data, decoded)
}

func TestEncodeDecodeWithX86Filter(t *testing.T) {
	t.Parallel()

	data := bytes.Repeat([]byte{0xe8, 0x01, 0x02, 0x03, 0x00, 0x90, 0x90, 0x90}, 100)

	encoded, err := Encode(data, []Filter{{ID: FilterX86}})
	require.NoError(t, err)

	decoded, err := Decode(encoded)
	require.NoError(t, err)

	assert.Equal(t, data, decoded)
}

func TestEncodeDecodeWithDeltaFilter(t *testing.T) {
	t.Parallel()

	data := make([]byte, 512)
	for i := range data {
		data[i] = byte(i)
	}

	encoded, err := Encode(data, []Filter{{ID: FilterDelta, Distance: 4}})
	require.NoError(t, err)

	decoded, err := Decode(encoded)
	require.NoError(t, err)

	assert.Equal(t, data, decoded)
}

func TestEncodeTooManyFilters(t *testing.T) {
	t.Parallel()

	_, err := Encode([]byte("x"), []Filter{
		{ID: FilterX86}, {ID: FilterARM}, {ID: FilterDelta, Distance: 1}, {ID: FilterIA64},
	})
	require.ErrorIs(t, err, errTooManyFilters)
}

func TestDecodeBadMagic(t *testing.T) {
	t.Parallel()

	_, err := Decode([]byte("not an xz stream at all, padding to be long enough"))
	require.ErrorIs(t, err, errBadStreamMagic)
}

func TestDecodeCorruptCheck(t *testing.T) {
	t.Parallel()

	encoded, err := Encode([]byte("hello world"), nil)
	require.NoError(t, err)

	// The stream ends with the 4-byte CRC-32 block check, an 8-byte index
	// and a 12-byte footer; flip the first byte of the check.
	encoded[len(encoded)-24] ^= 0xff

	_, err = Decode(encoded)
	require.Error(t, err)
}
