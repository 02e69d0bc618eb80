package gf2

import (
	"bytes"
	"io"
	"math/rand/v2"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate_InvertibleForAllMerSizes(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for k := 1; k <= 31; k++ {
		m := Generate(2*k, rng)
		require.Equal(t, 2*k, m.Size)
		inv, err := m.Inverse()
		require.NoError(t, err, "k=%d", k)
		assert.True(t, m.Mul(inv).IsIdentity(), "M×M⁻¹ != I for k=%d", k)
		assert.True(t, inv.Mul(m).IsIdentity(), "M⁻¹×M != I for k=%d", k)
	}
}

func TestGenerate_SmallSizesRetry(t *testing.T) {
	// Half of all random 1×1 and most 2×2 candidates are singular.
	rng := rand.New(rand.NewPCG(7, 7))
	for i := 0; i < 100; i++ {
		m := Generate(2, rng)
		_, err := m.Inverse()
		require.NoError(t, err)
	}
}

func TestGenerateSeeded_Deterministic(t *testing.T) {
	a := GenerateSeeded(42, 12345)
	b := GenerateSeeded(42, 12345)
	c := GenerateSeeded(42, 54321)
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestGenerate_RowsFitSize(t *testing.T) {
	m := GenerateSeeded(10, 3)
	for i, row := range m.Rows {
		assert.Zero(t, row>>10, "row %d", i)
	}
}

func TestInverse_Singular(t *testing.T) {
	m := Matrix{Size: 3, Rows: []uint64{0b011, 0b110, 0b101}} // row2 = row0 ^ row1
	_, err := m.Inverse()
	require.ErrorIs(t, err, ErrSingular)

	zero := Matrix{Size: 4, Rows: make([]uint64, 4)}
	_, err = zero.Inverse()
	require.ErrorIs(t, err, ErrSingular)
}

func TestInverse_Identity(t *testing.T) {
	inv, err := Identity(8).Inverse()
	require.NoError(t, err)
	assert.True(t, inv.IsIdentity())
}

func TestApply_IsBijective(t *testing.T) {
	m := GenerateSeeded(8, 99)
	inv, err := m.Inverse()
	require.NoError(t, err)

	seen := make(map[uint64]bool, 256)
	for v := uint64(0); v < 256; v++ {
		h := m.Apply(v)
		require.Less(t, h, uint64(256))
		require.False(t, seen[h], "collision at %d", v)
		seen[h] = true
		assert.Equal(t, v, inv.Apply(h))
	}
}

func TestApply_MatchesMul(t *testing.T) {
	a := GenerateSeeded(16, 1)
	b := GenerateSeeded(16, 2)
	ab := a.Mul(b)
	for _, v := range []uint64{0, 1, 0xbeef, 0xffff, 0x1234} {
		assert.Equal(t, a.Apply(b.Apply(v)), ab.Apply(v))
	}
}

func TestDumpLoad_RoundTrip(t *testing.T) {
	m := GenerateSeeded(62, 2024)
	var buf bytes.Buffer
	require.NoError(t, m.Dump(&buf))
	assert.Equal(t, 4+8*62, buf.Len())

	got, err := Load(&buf)
	require.NoError(t, err)
	assert.True(t, m.Equal(got))
}

func TestSaveLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out_matrix_21")
	m := GenerateSeeded(42, 5)
	require.NoError(t, m.SaveFile(path))
	got, err := LoadFile(path)
	require.NoError(t, err)
	assert.True(t, m.Equal(got))
}

func TestLoad_Malformed(t *testing.T) {
	var full bytes.Buffer
	require.NoError(t, GenerateSeeded(6, 1).Dump(&full))
	data := full.Bytes()
	stray := append([]byte(nil), data...)
	stray[4] = 0xff // row 0 gains columns 6 and 7

	cases := map[string][]byte{
		"empty":      nil,
		"short size": data[:2],
		"short rows": data[:len(data)-3],
		"zero size":  {0, 0, 0, 0},
		"huge size":  {65, 0, 0, 0},
		"stray bits": stray,
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(bytes.NewReader(in))
			require.ErrorIs(t, err, ErrMalformed)
		})
	}

	_, err := Load(bytes.NewReader(data[:len(data)-1]))
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}
