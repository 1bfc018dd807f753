package bitstream

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadRoundTrip(t *testing.T) {
	t.Parallel()

	tables := map[string]struct {
		values []uint32
		widths []int
	}{
		"byte aligned": {
			values: []uint32{0xAB, 0xCD},
			widths: []int{8, 8},
		},
		"mixed widths": {
			values: []uint32{1, 0, 7, 0x1FF},
			widths: []int{1, 1, 3, 9},
		},
		"single bits": {
			values: []uint32{1, 0, 1, 1, 0, 0, 1, 0, 1},
			widths: []int{1, 1, 1, 1, 1, 1, 1, 1, 1},
		},
	}

	for name, table := range tables {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer

			w := NewWriter(&buf)
			for i, v := range table.values {
				require.NoError(t, w.WriteBits(v, table.widths[i]))
			}

			require.NoError(t, w.Flush())

			r := NewReader(&buf)
			for i, v := range table.values {
				got, err := r.ReadBits(table.widths[i])
				require.NoError(t, err)
				assert.Equal(t, v&((1<<uint(table.widths[i]))-1), got)
			}
		})
	}
}

func TestReaderUnexpectedEOF(t *testing.T) {
	t.Parallel()

	r := NewReader(bytes.NewReader(nil))

	_, err := r.ReadBits(8)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnexpectedEOF))
}

func TestFlushPadsWithZero(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	w := NewWriter(&buf)
	require.NoError(t, w.WriteBits(0b101, 3))
	require.NoError(t, w.Flush())

	require.Equal(t, 1, buf.Len())
	assert.Equal(t, byte(0b10100000), buf.Bytes()[0])
}
