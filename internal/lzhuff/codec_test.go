package lzhuff

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	tables := map[string][]byte{
		"empty":              {},
		"single byte":        []byte("A"),
		"repeated":           []byte("ABABABABAB"),
		"long run":           bytes.Repeat([]byte("x"), 10000),
		"random-ish":         []byte("the quick brown fox jumps over the lazy dog 0123456789"),
		"binary":             {0x00, 0xFF, 0x00, 0xFF, 0x10, 0x20, 0x10, 0x20, 0x10, 0x20},
	}

	for name, data := range tables {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			encoded, err := EncodeBlock(data)
			require.NoError(t, err)

			decoded, err := DecodeBlock(encoded, -1)
			require.NoError(t, err)

			assert.Equal(t, string(data), string(decoded))
		})
	}
}

func TestEmptyBlockHasHeaderAndEOB(t *testing.T) {
	t.Parallel()

	encoded, err := EncodeBlock(nil)
	require.NoError(t, err)

	assert.Equal(t, byte(Alphabet&0xff), encoded[0])
	assert.Equal(t, byte(Alphabet>>8), encoded[1])

	decoded, err := DecodeBlock(encoded, -1)
	require.NoError(t, err)
	assert.Empty(t, decoded)
}

func TestDecodeBlockRespectsMaxOutput(t *testing.T) {
	t.Parallel()

	data := bytes.Repeat([]byte("hello world "), 100)

	encoded, err := EncodeBlock(data)
	require.NoError(t, err)

	decoded, err := DecodeBlock(encoded, 12)
	require.NoError(t, err)
	assert.Len(t, decoded, 12)
}

func TestDecodeBlockTruncatedYieldsPartial(t *testing.T) {
	t.Parallel()

	data := bytes.Repeat([]byte("abcdefgh"), 50)

	encoded, err := EncodeBlock(data)
	require.NoError(t, err)

	// Cut inside the coded symbol stream, past the 2-byte count and the
	// packed code-length table, so the header itself stays complete.
	header := 2 + Alphabet/2
	truncated := encoded[:header+(len(encoded)-header)/2]

	decoded, err := DecodeBlock(truncated, -1)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(decoded), len(data))
}
