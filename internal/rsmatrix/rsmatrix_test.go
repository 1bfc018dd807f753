package rsmatrix

import (
	"testing"

	"github.com/bodgit/archive/internal/gf16"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectBasesDeterministic(t *testing.T) {
	t.Parallel()

	a := SelectBases(4)
	b := SelectBases(4)
	assert.Equal(t, a, b)

	// Base values must be distinct and non-zero.
	seen := make(map[uint16]bool)
	for _, v := range a {
		assert.NotEqual(t, uint16(0), v)
		assert.False(t, seen[v])

		seen[v] = true
	}
}

func TestSelectBasesFirstIsPrimitiveElement(t *testing.T) {
	t.Parallel()

	bases := SelectBases(1)
	assert.Equal(t, uint16(2), bases[0])
}

func TestMatrixInvertIdentityForExponentZero(t *testing.T) {
	t.Parallel()

	bases := SelectBases(3)
	m := NewMatrix(bases, []int{0, 1, 2})

	inv, err := m.Invert()
	require.NoError(t, err)

	product := m.multiply(inv)
	assert.True(t, product.identity())
}

func TestMatrixInvertSingular(t *testing.T) {
	t.Parallel()

	bases := []uint16{2, 2}
	m := NewMatrix(bases, []int{0, 0})

	_, err := m.Invert()
	require.ErrorIs(t, err, ErrSingular)
}

func TestMatrixSolvesLinearSystem(t *testing.T) {
	t.Parallel()

	bases := SelectBases(2)
	m := NewMatrix(bases, []int{0, 1})

	inv, err := m.Invert()
	require.NoError(t, err)

	// x = [5, 9]; b = A x
	x := []uint16{5, 9}
	b := make([]uint16, 2)

	for i := 0; i < 2; i++ {
		var sum uint16
		for j := 0; j < 2; j++ {
			sum = gf16.Add(sum, gf16.Mul(m.At(i, j), x[j]))
		}

		b[i] = sum
	}

	got := make([]uint16, 2)

	for i := 0; i < 2; i++ {
		var sum uint16
		for j := 0; j < 2; j++ {
			sum = gf16.Add(sum, gf16.Mul(inv.At(i, j), b[j]))
		}

		got[i] = sum
	}

	assert.Equal(t, x, got)
}
