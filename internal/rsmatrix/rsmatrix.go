// Package rsmatrix implements the PAR2 base-value selection and the
// GF(2¹⁶) matrix inversion used to reconstruct missing data blocks from
// recovery blocks.
package rsmatrix

import (
	"errors"
	"fmt"

	"github.com/bodgit/archive/internal/gf16"
)

// ErrSingular is returned when a recovery matrix cannot be inverted,
// meaning the selected recovery blocks are insufficient or degenerate for
// the chosen exponents.
var ErrSingular = errors.New("rsmatrix: matrix is singular, unrecoverable")

func gcd(a, b uint32) uint32 {
	for b != 0 {
		a, b = b, a%b
	}

	return a
}

// SelectBases generates n base values for n data blocks, reproducing the
// par2cmdline ordering bit-for-bit: starting at logbase=0, the logbase is
// incremented until gcd(65535, logbase) == 1, the base value is the
// antilog of that logbase, and logbase is incremented again before moving
// to the next index.
func SelectBases(n int) []uint16 {
	bases := make([]uint16, n)

	logbase := uint32(0)

	for i := 0; i < n; i++ {
		for gcd(gf16.Max, logbase) != 1 {
			logbase++
		}

		bases[i] = gf16.Antilog(logbase)
		logbase++
	}

	return bases
}

// Matrix is a square matrix over GF(2¹⁶) used to solve for missing PAR2
// data blocks given a set of recovery blocks.
type Matrix struct {
	n    int
	rows [][]uint16
}

// NewMatrix builds the m×m coefficient matrix A where A[i][j] =
// pow(bases[j], exponents[i]): one row per recovery block used, one column
// per missing data block.
func NewMatrix(bases []uint16, exponents []int) *Matrix {
	m := len(exponents)
	rows := make([][]uint16, m)

	for i, e := range exponents {
		row := make([]uint16, m)
		for j, b := range bases {
			row[j] = gf16.Pow(b, e)
		}

		rows[i] = row
	}

	return &Matrix{n: m, rows: rows}
}

// identity reports whether m is the identity matrix, used as a
// belt-and-braces post-check after inversion.
func (m *Matrix) identity() bool {
	for i := 0; i < m.n; i++ {
		for j := 0; j < m.n; j++ {
			want := uint16(0)
			if i == j {
				want = 1
			}

			if m.rows[i][j] != want {
				return false
			}
		}
	}

	return true
}

// At returns the element at row i, column j.
func (m *Matrix) At(i, j int) uint16 {
	return m.rows[i][j]
}

// Size returns the matrix dimension.
func (m *Matrix) Size() int {
	return m.n
}

// Invert computes the inverse of m via Gauss-Jordan elimination over
// GF(2¹⁶) on a working copy, leaving m unchanged, and returns it as a new
// Matrix. It returns ErrSingular if a
// zero pivot cannot be resolved by row-swapping, and performs the A·A⁻¹ = I
// verification the spec mandates before returning.
func (m *Matrix) Invert() (*Matrix, error) {
	n := m.n

	a := make([][]uint16, n)
	inv := make([][]uint16, n)

	for i := 0; i < n; i++ {
		a[i] = append([]uint16(nil), m.rows[i]...)
		inv[i] = make([]uint16, n)
		inv[i][i] = 1
	}

	for col := 0; col < n; col++ {
		pivot := -1

		for row := col; row < n; row++ {
			if a[row][col] != 0 {
				pivot = row

				break
			}
		}

		if pivot == -1 {
			return nil, ErrSingular
		}

		a[col], a[pivot] = a[pivot], a[col]
		inv[col], inv[pivot] = inv[pivot], inv[col]

		scale := gf16.Inv(a[col][col])
		for j := 0; j < n; j++ {
			a[col][j] = gf16.Mul(a[col][j], scale)
			inv[col][j] = gf16.Mul(inv[col][j], scale)
		}

		for row := 0; row < n; row++ {
			if row == col || a[row][col] == 0 {
				continue
			}

			factor := a[row][col]

			for j := 0; j < n; j++ {
				a[row][j] = gf16.Add(a[row][j], gf16.Mul(factor, a[col][j]))
				inv[row][j] = gf16.Add(inv[row][j], gf16.Mul(factor, inv[col][j]))
			}
		}
	}

	result := &Matrix{n: n, rows: inv}

	if product := m.multiply(result); !product.identity() {
		return nil, fmt.Errorf("rsmatrix: post-check failed: %w", ErrSingular)
	}

	return result, nil
}

func (m *Matrix) multiply(other *Matrix) *Matrix {
	n := m.n
	rows := make([][]uint16, n)

	for i := 0; i < n; i++ {
		row := make([]uint16, n)

		for j := 0; j < n; j++ {
			var sum uint16

			for k := 0; k < n; k++ {
				sum = gf16.Add(sum, gf16.Mul(m.rows[i][k], other.rows[k][j]))
			}

			row[j] = sum
		}

		rows[i] = row
	}

	return &Matrix{n: n, rows: rows}
}
