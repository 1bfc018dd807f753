package rsmatrix

import (
	"encoding/binary"
	"testing"

	"github.com/bodgit/archive/internal/gf16"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wordsToChunk(words []uint16) []byte {
	out := make([]byte, len(words)*2)
	for i, w := range words {
		binary.LittleEndian.PutUint16(out[i*2:], w)
	}

	return out
}

func TestChunkedRecovererReconstructsMissingBlock(t *testing.T) {
	t.Parallel()

	bases := SelectBases(3)
	blocks := [][]uint16{
		{1, 2, 3, 4},
		{5, 6, 7, 8},
		{9, 10, 11, 12},
	}

	missing := []int{1}
	present := []int{0, 2}
	exponents := []int{0}

	r, err := NewChunkedRecoverer(bases, present, missing, exponents, 8)
	require.NoError(t, err)

	recovery := make([]uint16, len(blocks[0]))

	for k := range blocks {
		for w, v := range blocks[k] {
			recovery[w] = gf16.Add(recovery[w], gf16.Mul(gf16.Pow(bases[k], exponents[0]), v))
		}
	}

	dataChunks := map[int][]byte{
		0: wordsToChunk(blocks[0]),
		2: wordsToChunk(blocks[2]),
	}
	recoveryChunks := [][]byte{wordsToChunk(recovery)}

	got := r.RecoverChunk(dataChunks, recoveryChunks, 8)

	assert.Equal(t, wordsToChunk(blocks[1]), got[1])
}

func TestChunkedRecovererInsufficientRecovery(t *testing.T) {
	t.Parallel()

	bases := SelectBases(3)

	_, err := NewChunkedRecoverer(bases, []int{0}, []int{1, 2}, []int{0}, 8)
	require.Error(t, err)

	var target *InsufficientRecoveryError
	require.ErrorAs(t, err, &target)
	assert.Equal(t, 2, target.Needed)
	assert.Equal(t, 1, target.Have)
}
