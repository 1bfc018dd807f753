package filterpipe_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/bodgit/archive/internal/filterpipe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type copyCodec struct{}

func (copyCodec) NewEncoder(w io.Writer) (io.WriteCloser, error) {
	return nopWriteCloser{w}, nil
}

func (copyCodec) NewDecoder(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(r), nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

type xorFilter struct{ key byte }

func (f xorFilter) Encode(p []byte, _ int64) ([]byte, error) {
	out := make([]byte, len(p))
	for i, b := range p {
		out[i] = b ^ f.key
	}

	return out, nil
}

func (f xorFilter) Decode(p []byte, pos int64) ([]byte, error) {
	return f.Encode(p, pos)
}

func TestPipelineRoundTrip(t *testing.T) {
	t.Parallel()

	pipe, err := filterpipe.New(copyCodec{}, xorFilter{key: 0x42}, xorFilter{key: 0x99})
	require.NoError(t, err)

	data := []byte("hello, pipeline")

	encoded, err := pipe.Encode(data, 0)
	require.NoError(t, err)
	assert.NotEqual(t, data, encoded)

	decoded, err := pipe.Decode(encoded, 0)
	require.NoError(t, err)
	assert.Equal(t, data, decoded)
}

func TestPipelineNoFilters(t *testing.T) {
	t.Parallel()

	pipe, err := filterpipe.New(copyCodec{})
	require.NoError(t, err)

	data := []byte("passthrough")

	encoded, err := pipe.Encode(data, 0)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, encoded))
}

func TestNewRequiresCodec(t *testing.T) {
	t.Parallel()

	_, err := filterpipe.New(nil)
	require.ErrorIs(t, err, filterpipe.ErrEmptyPipeline)
}
