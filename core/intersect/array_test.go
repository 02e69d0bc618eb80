package intersect

import (
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mersect-core/gf2"
	"mersect-core/mer"
)

func newArray(t *testing.T, size uint64, k, shards int) *Array {
	t.Helper()
	a, err := New(Config{Size: size, K: k, Seed: 1, Shards: shards})
	require.NoError(t, err)
	return a
}

// closePass runs the Done/Postprocess sequence the pipeline performs.
func closePass(t *testing.T, a *Array) {
	t.Helper()
	require.NoError(t, a.Done())
	for s := 0; s < a.Shards(); s++ {
		a.Postprocess(s)
	}
}

func scan(a *Array, count int) map[mer.Mer]Entry {
	out := map[mer.Mer]Entry{}
	for s := 0; s < count; s++ {
		for it := a.Slice(s, count); it.Next(); {
			out[it.Mer()] = it.Entry()
		}
	}
	return out
}

func TestNew_RoundsSizeAndValidates(t *testing.T) {
	a := newArray(t, 1000, 5, 1)
	assert.Equal(t, uint64(1024), a.Size())

	_, err := New(Config{Size: 0, K: 5})
	require.ErrorIs(t, err, ErrConfig)
	_, err = New(Config{Size: 16, K: 0})
	require.ErrorIs(t, err, ErrConfig)
	_, err = New(Config{Size: 16, K: 32})
	require.ErrorIs(t, err, ErrConfig)

	wrong := gf2.GenerateSeeded(8, 1)
	_, err = New(Config{Size: 16, K: 5, Matrix: &wrong})
	require.ErrorIs(t, err, ErrConfig)

	singular := gf2.Matrix{Size: 2, Rows: []uint64{1, 1}}
	_, err = New(Config{Size: 16, K: 1, Matrix: &singular})
	require.ErrorIs(t, err, gf2.ErrSingular)
}

func TestAdd_FilesIncrementOncePerPass(t *testing.T) {
	a := newArray(t, 64, 3, 2)
	key := mer.MustParse("ACG")

	for i := 0; i < 5; i++ {
		require.NoError(t, a.Add(key))
	}
	closePass(t, a)
	e, ok := a.Lookup(key)
	require.True(t, ok)
	assert.Equal(t, Entry{Occurrences: 5, Files: 1}, e)

	require.NoError(t, a.Add(key))
	closePass(t, a)
	e, _ = a.Lookup(key)
	assert.Equal(t, Entry{Occurrences: 6, Files: 2}, e)

	// a pass without the key leaves it alone
	require.NoError(t, a.Add(mer.MustParse("TTT")))
	closePass(t, a)
	e, _ = a.Lookup(key)
	assert.Equal(t, Entry{Occurrences: 6, Files: 2}, e)
	assert.Equal(t, 3, a.Passes())
}

func TestAdd_ConcurrentSamePass(t *testing.T) {
	const workers, perWorker = 8, 2000
	a := newArray(t, 1<<12, 6, workers)
	keys := []mer.Mer{mer.MustParse("AAAAAA"), mer.MustParse("ACGTAC"), mer.MustParse("GGGCCC")}

	for pass := 1; pass <= 3; pass++ {
		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < perWorker; i++ {
					if err := a.Add(keys[i%len(keys)]); err != nil {
						t.Error(err)
						return
					}
				}
			}()
		}
		wg.Wait()
		require.NoError(t, a.Done())
		wg = sync.WaitGroup{}
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func(shard int) {
				defer wg.Done()
				a.Postprocess(shard)
			}(w)
		}
		wg.Wait()

		for _, k := range keys {
			e, ok := a.Lookup(k)
			require.True(t, ok)
			assert.Equal(t, uint32(pass), e.Files)
		}
	}
	var total uint64
	for _, k := range keys {
		e, _ := a.Lookup(k)
		total += e.Occurrences
	}
	assert.Equal(t, uint64(3*workers*perWorker), total)
	assert.Equal(t, uint64(len(keys)), a.Distinct())
}

func TestSlice_RecoversKeysAndIsStable(t *testing.T) {
	const k = 11
	a := newArray(t, 1<<14, k, 3)
	rng := rand.New(rand.NewPCG(3, 4))
	want := map[mer.Mer]uint64{}
	for i := 0; i < 5000; i++ {
		m := mer.Mer(rng.Uint64() & mer.Mask(k))
		require.NoError(t, a.Add(m))
		want[m]++
	}
	closePass(t, a)

	for _, count := range []int{1, 3, 7} {
		first := scan(a, count)
		second := scan(a, count)
		assert.Equal(t, first, second)
		require.Len(t, first, len(want))
		for m, n := range want {
			assert.Equal(t, Entry{Occurrences: n, Files: 1}, first[m])
		}
	}
}

func TestSlice_VisitsEachSlotOnce(t *testing.T) {
	a := newArray(t, 100, 8, 1) // 128 slots, not divisible by 3
	for i := 0; i < 90; i++ {
		require.NoError(t, a.Add(mer.Mer(i*7)))
	}
	closePass(t, a)

	seen := map[uint64]int{}
	visits := 0
	for s := 0; s < 3; s++ {
		for it := a.Slice(s, 3); it.Next(); {
			seen[it.Slot()]++
			visits++
		}
	}
	assert.Equal(t, 90, visits)
	for slot, n := range seen {
		assert.Equal(t, 1, n, "slot %d", slot)
	}
	assert.False(t, a.Slice(3, 3).Next())
}

func TestLookup_Absent(t *testing.T) {
	a := newArray(t, 64, 4, 1)
	require.NoError(t, a.Add(mer.MustParse("ACGT")))
	_, ok := a.Lookup(mer.MustParse("TGCA"))
	assert.False(t, ok)
}

func TestAdd_FullIsReported(t *testing.T) {
	a := newArray(t, 8, 5, 1)
	var err error
	for i := 0; i < 64 && err == nil; i++ {
		err = a.Add(mer.Mer(i))
	}
	require.ErrorIs(t, err, ErrFull)
	require.ErrorIs(t, a.Done(), ErrFull)
	assert.Equal(t, 0, a.Passes())
	assert.Equal(t, uint64(8), a.Distinct())
}

func TestAdd_FillsEverySlotBeforeFull(t *testing.T) {
	a, err := New(Config{Size: 16, K: 4, Seed: 9, MaxReprobe: 16})
	require.NoError(t, err)
	for i := 0; i < 16; i++ {
		require.NoError(t, a.Add(mer.Mer(i)))
	}
	require.ErrorIs(t, a.Add(mer.Mer(16)), ErrFull)
	// existing keys are still found
	require.NoError(t, a.Add(mer.Mer(3)))
}

func TestBump_Saturates(t *testing.T) {
	v := occMask | uint64(2)<<filesShift
	v = bump(v)
	assert.Equal(t, Entry{Occurrences: MaxOccurrences, Files: 3}, unpack(v))

	v = bump(v) // same pass: files stays
	assert.Equal(t, Entry{Occurrences: MaxOccurrences, Files: 3}, unpack(v))

	v = filesMask
	v = bump(v)
	assert.Equal(t, Entry{Occurrences: 1, Files: MaxFiles}, unpack(v))
}

func TestStats(t *testing.T) {
	a := newArray(t, 32, 3, 1)
	for _, s := range []string{"AAA", "AAA", "CCC"} {
		require.NoError(t, a.Add(mer.MustParse(s)))
	}
	closePass(t, a)
	st := a.Stats()
	assert.Equal(t, uint64(2), st.Distinct)
	assert.Equal(t, uint64(3), st.Added)
	assert.Equal(t, uint32(1), st.Passes)
	assert.InDelta(t, 2.0/32.0, st.LoadFactor(), 1e-9)
}
