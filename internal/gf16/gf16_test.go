package gf16

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFieldAxioms(t *testing.T) {
	t.Parallel()

	for _, a := range []uint16{1, 2, 3, 255, 256, 4369, 65535} {
		a := a

		t.Run("", func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, uint16(1), Mul(a, Inv(a)))
			assert.Equal(t, uint16(1), Pow(a, Max))
			assert.Equal(t, uint16(0), Add(a, a))
		})
	}
}

func TestMulZero(t *testing.T) {
	t.Parallel()

	assert.Equal(t, uint16(0), Mul(0, 1234))
	assert.Equal(t, uint16(0), Mul(1234, 0))
}

func TestDivIdentity(t *testing.T) {
	t.Parallel()

	for _, a := range []uint16{7, 99, 65535} {
		assert.Equal(t, uint16(1), Div(a, a))
	}
}

func TestPowAccumulatesLikeRepeatedMul(t *testing.T) {
	t.Parallel()

	a := uint16(3)

	acc := uint16(1)
	for i := 0; i < 10; i++ {
		acc = Mul(acc, a)
	}

	assert.Equal(t, acc, Pow(a, 10))
}
