package rsmatrix

import (
	"encoding/binary"
	"fmt"

	"github.com/bodgit/archive/internal/gf16"
)

// DefaultChunkSize is the default recovery chunk size in bytes: 1 MiB,
// always even since block payloads are arrays of 16-bit words.
const DefaultChunkSize = 1 << 20

// InsufficientRecoveryError reports that fewer recovery blocks are
// available than the number of missing data blocks requires.
type InsufficientRecoveryError struct {
	Needed int
	Have   int
}

func (e *InsufficientRecoveryError) Error() string {
	return fmt.Sprintf("rsmatrix: insufficient recovery blocks: need %d, have %d", e.Needed, e.Have)
}

// ChunkedRecoverer reconstructs a fixed set of missing blocks from a fixed
// set of present blocks and recovery blocks, processing data in
// memory-bounded chunks per spec §4.8 step 3.
type ChunkedRecoverer struct {
	bases     []uint16
	present   []int
	missing   []int
	exponents []int
	inverse   *Matrix
	chunkSize int
}

// NewChunkedRecoverer builds the m×m coefficient matrix for the given
// missing block indices and recovery exponents, inverts it, and returns a
// recoverer ready to process chunks. blockSize bounds the chunk size: it is
// never exceeded, and the effective chunk size is always rounded down to
// an even number of bytes.
func NewChunkedRecoverer(bases []uint16, present, missing, exponents []int, blockSize int) (*ChunkedRecoverer, error) {
	m := len(missing)

	if len(exponents) < m {
		return nil, &InsufficientRecoveryError{Needed: m, Have: len(exponents)}
	}

	exponents = exponents[:m]

	missingBases := make([]uint16, m)
	for j, idx := range missing {
		missingBases[j] = bases[idx]
	}

	a := NewMatrix(missingBases, exponents)

	inv, err := a.Invert()
	if err != nil {
		return nil, err
	}

	chunkSize := DefaultChunkSize
	if chunkSize > blockSize {
		chunkSize = blockSize
	}

	chunkSize -= chunkSize % 2

	return &ChunkedRecoverer{
		bases:     bases,
		present:   present,
		missing:   missing,
		exponents: exponents,
		inverse:   inv,
		chunkSize: chunkSize,
	}, nil
}

// ChunkSize returns the chunk size this recoverer processes data in.
func (r *ChunkedRecoverer) ChunkSize() int {
	return r.chunkSize
}

// RecoverChunk reconstructs one chunk of every missing block. dataChunks
// maps each present block index to its n-byte chunk at the current offset;
// recoveryChunks holds, in the same order as the exponents this recoverer
// was built with, the matching n-byte chunk of each recovery block used.
// It returns the reconstructed n-byte chunk for every missing block index.
func (r *ChunkedRecoverer) RecoverChunk(dataChunks map[int][]byte, recoveryChunks [][]byte, n int) map[int][]byte {
	m := len(r.missing)
	words := n / 2

	b := make([][]uint16, m)

	for i := 0; i < m; i++ {
		bi := make([]uint16, words)

		for w := 0; w < words; w++ {
			bi[w] = binary.LittleEndian.Uint16(recoveryChunks[i][w*2:])
		}

		for _, k := range r.present {
			coeff := gf16.Pow(r.bases[k], r.exponents[i])
			dk := dataChunks[k]

			for w := 0; w < words; w++ {
				dv := binary.LittleEndian.Uint16(dk[w*2:])
				bi[w] = gf16.Add(bi[w], gf16.Mul(coeff, dv))
			}
		}

		b[i] = bi
	}

	result := make(map[int][]byte, m)

	for j, idx := range r.missing {
		out := make([]byte, n)

		for w := 0; w < words; w++ {
			var x uint16

			for i := 0; i < m; i++ {
				x = gf16.Add(x, gf16.Mul(r.inverse.At(j, i), b[i][w]))
			}

			binary.LittleEndian.PutUint16(out[w*2:], x)
		}

		result[idx] = out
	}

	return result
}
