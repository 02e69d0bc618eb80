// Package gf2 builds square bit matrices over GF(2) and the bijective hash
// functions they define on fixed-width keys.
//
// A Matrix of side n holds n rows of n bits; bit j of Rows[i] is entry (i, j).
// Applying an invertible matrix to a key is a linear bijection on n-bit
// values, so a slot address computed with M can be mapped back to the key
// with the inverse of M.
package gf2

import (
	"errors"
	"math/bits"
	"math/rand/v2"
)

// MaxSize is the widest matrix a row word can hold.
const MaxSize = 64

var (
	// ErrSingular is returned by Inverse when the matrix has no inverse.
	ErrSingular = errors.New("gf2: singular matrix")

	// ErrMalformed is returned when a serialized matrix is corrupted or truncated.
	ErrMalformed = errors.New("gf2: malformed matrix")
)

// Matrix is a square matrix over GF(2).
type Matrix struct {
	Size int
	Rows []uint64
}

func rowMask(size int) uint64 {
	if size >= 64 {
		return ^uint64(0)
	}
	return uint64(1)<<uint(size) - 1
}

// Identity returns the size×size identity matrix.
func Identity(size int) Matrix {
	m := Matrix{Size: size, Rows: make([]uint64, size)}
	for i := range m.Rows {
		m.Rows[i] = uint64(1) << uint(i)
	}
	return m
}

// Generate draws random candidate matrices from rng until one is invertible.
// Singular candidates are discarded whole and redrawn.
func Generate(size int, rng *rand.Rand) Matrix {
	mask := rowMask(size)
	for {
		m := Matrix{Size: size, Rows: make([]uint64, size)}
		for i := range m.Rows {
			m.Rows[i] = rng.Uint64() & mask
		}
		if _, err := m.Inverse(); err == nil {
			return m
		}
	}
}

// GenerateSeeded is Generate over a PCG source seeded with seed, so the same
// seed always yields the same matrix.
func GenerateSeeded(size int, seed uint64) Matrix {
	return Generate(size, rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)))
}

// Inverse computes the inverse by Gauss-Jordan elimination.
func (m Matrix) Inverse() (Matrix, error) {
	n := m.Size
	a := append([]uint64(nil), m.Rows...)
	inv := Identity(n)
	b := inv.Rows

	for col := 0; col < n; col++ {
		bit := uint64(1) << uint(col)
		pivot := -1
		for r := col; r < n; r++ {
			if a[r]&bit != 0 {
				pivot = r
				break
			}
		}
		if pivot < 0 {
			return Matrix{}, ErrSingular
		}
		a[col], a[pivot] = a[pivot], a[col]
		b[col], b[pivot] = b[pivot], b[col]
		for r := 0; r < n; r++ {
			if r != col && a[r]&bit != 0 {
				a[r] ^= a[col]
				b[r] ^= b[col]
			}
		}
	}
	return inv, nil
}

// Apply multiplies m by the column vector v: bit i of the result is the
// parity of Rows[i]&v.
func (m Matrix) Apply(v uint64) uint64 {
	var res uint64
	for i, row := range m.Rows {
		res |= uint64(bits.OnesCount64(row&v)&1) << uint(i)
	}
	return res
}

// Mul returns the product m×o.
func (m Matrix) Mul(o Matrix) Matrix {
	res := Matrix{Size: m.Size, Rows: make([]uint64, m.Size)}
	for i, row := range m.Rows {
		var acc uint64
		for row != 0 {
			j := bits.TrailingZeros64(row)
			acc ^= o.Rows[j]
			row &= row - 1
		}
		res.Rows[i] = acc
	}
	return res
}

func (m Matrix) IsIdentity() bool {
	return m.Equal(Identity(m.Size))
}

func (m Matrix) Equal(o Matrix) bool {
	if m.Size != o.Size || len(m.Rows) != len(o.Rows) {
		return false
	}
	for i := range m.Rows {
		if m.Rows[i] != o.Rows[i] {
			return false
		}
	}
	return true
}
