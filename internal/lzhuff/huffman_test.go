package lzhuff

import (
	"bytes"
	"testing"

	"github.com/bodgit/archive/internal/bitstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalCodesAreInjective(t *testing.T) {
	t.Parallel()

	freq := make([]int, Alphabet)
	freq['a'] = 50
	freq['b'] = 25
	freq['c'] = 12
	freq['d'] = 6
	freq['e'] = 3
	freq[symbolEOB] = 1

	lengths := BuildLengths(freq, Alphabet)
	codes := Canonicalize(lengths)

	seen := make(map[uint32]bool)

	for s, l := range lengths {
		if l == 0 {
			continue
		}

		key := uint32(l)<<16 | uint32(codes[s])
		require.False(t, seen[key], "code collision at symbol %d", s)

		seen[key] = true
	}
}

func TestBuildLengthsSingleSymbol(t *testing.T) {
	t.Parallel()

	freq := make([]int, Alphabet)
	freq['z'] = 10

	lengths := BuildLengths(freq, Alphabet)
	assert.Equal(t, 1, lengths['z'])
}

func TestDecodeSymbolRoundTrip(t *testing.T) {
	t.Parallel()

	freq := make([]int, Alphabet)
	freq['a'] = 50
	freq['b'] = 25
	freq['c'] = 12
	freq[symbolEOB] = 1

	lengths := BuildLengths(freq, Alphabet)
	coder := NewCoder(lengths)

	assert.Greater(t, coder.maxLen, 0)
	assert.LessOrEqual(t, coder.maxLen, MaxCodeLength)

	codes := Canonicalize(lengths)
	symbols := []int{'a', 'b', 'c', symbolEOB, 'a'}

	var buf bytes.Buffer

	bw := bitstream.NewWriter(&buf)
	for _, s := range symbols {
		require.NoError(t, bw.WriteBits(uint32(codes[s]), lengths[s]))
	}

	require.NoError(t, bw.Flush())

	br := bitstream.NewReader(&buf)
	for _, want := range symbols {
		got, err := coder.DecodeSymbol(br)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}
