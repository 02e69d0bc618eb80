// Package intersect implements the shared counting/intersection array: a
// fixed-capacity open-addressing hash table keyed by k-mer that records, for
// every key, its total number of occurrences and the number of passes (input
// files) it appeared in.
//
// # Passes
//
// Keys are added during a pass by any number of goroutines. A pass is closed
// by one goroutine calling Done once every Add of the pass has returned,
// followed by every worker calling Postprocess for its shard before the next
// pass starts. The caller provides the synchronization between those steps.
//
// # Layout
//
// Each slot is a pair of atomic words. The key word holds the hashed key with
// the occupied bit set; it is claimed once by compare-and-swap and never
// changes afterwards. The value word packs the occurrence counter, the pass
// counter and the per-pass touched marker, updated with a CAS loop.
//
// The hash is an invertible GF(2) matrix applied to the 2k-bit key, so the
// table stores the hashed value and recovers the key with the inverse matrix
// during iteration.
package intersect

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/zeebo/xxh3"

	"mersect-core/gf2"
	"mersect-core/mer"
)

const (
	// DefaultMaxReprobe bounds the probe sequence of a single key.
	DefaultMaxReprobe = 126

	// MaxOccurrences is the value at which the occurrence counter saturates.
	MaxOccurrences = 1<<32 - 1

	// MaxFiles is the largest pass count an entry can record.
	MaxFiles = 1<<31 - 1

	occBits     = 32
	occMask     = uint64(MaxOccurrences)
	filesShift  = occBits
	filesMask   = uint64(MaxFiles) << filesShift
	touchedBit  = uint64(1) << 63
	occupiedBit = uint64(1) << 63
)

var (
	// ErrFull is returned when a key finds no free slot within the reprobe limit.
	ErrFull = errors.New("intersect: hash array is full")

	// ErrConfig is returned by New for an unusable configuration.
	ErrConfig = errors.New("intersect: invalid configuration")
)

// Config describes an Array.
type Config struct {
	Size       uint64      // number of slots, rounded up to a power of two
	K          int         // k-mer length
	Matrix     *gf2.Matrix // 2K×2K invertible hash matrix; generated from Seed if nil
	Seed       uint64
	Shards     int // partitions for Postprocess, normally the worker count
	MaxReprobe int // 0 means DefaultMaxReprobe
}

// Entry is the record kept for a key.
type Entry struct {
	Occurrences uint64 // total occurrences across all passes, saturating
	Files       uint32 // passes in which the key appeared at least once
}

// Array is safe for concurrent Add and Lookup during a pass.
type Array struct {
	k          int
	size       uint64
	mask       uint64
	maxReprobe uint64
	shards     int
	hash       gf2.Matrix
	inverse    gf2.Matrix

	keys []atomic.Uint64
	vals []atomic.Uint64

	distinct atomic.Uint64
	added    atomic.Uint64
	reprobes atomic.Uint64
	full     atomic.Bool
	passes   atomic.Uint32
}

// New allocates the table.
func New(cfg Config) (*Array, error) {
	if !mer.ValidK(cfg.K) {
		return nil, fmt.Errorf("%w: k=%d outside 1..%d", ErrConfig, cfg.K, mer.MaxK)
	}
	if cfg.Size == 0 {
		return nil, fmt.Errorf("%w: size must be > 0", ErrConfig)
	}
	if cfg.Size > 1<<62 {
		return nil, fmt.Errorf("%w: size %d too large", ErrConfig, cfg.Size)
	}
	if cfg.Shards <= 0 {
		cfg.Shards = 1
	}
	size := nextPowerOf2(cfg.Size)

	var m gf2.Matrix
	if cfg.Matrix != nil {
		m = *cfg.Matrix
	} else {
		m = gf2.GenerateSeeded(2*cfg.K, cfg.Seed)
	}
	if m.Size != 2*cfg.K {
		return nil, fmt.Errorf("%w: matrix size %d, want %d for k=%d", ErrConfig, m.Size, 2*cfg.K, cfg.K)
	}
	inv, err := m.Inverse()
	if err != nil {
		return nil, fmt.Errorf("%w: hash matrix: %w", ErrConfig, err)
	}

	reprobe := uint64(cfg.MaxReprobe)
	if reprobe == 0 {
		reprobe = DefaultMaxReprobe
	}
	if reprobe > size {
		reprobe = size
	}

	return &Array{
		k:          cfg.K,
		size:       size,
		mask:       size - 1,
		maxReprobe: reprobe,
		shards:     cfg.Shards,
		hash:       m,
		inverse:    inv,
		keys:       make([]atomic.Uint64, size),
		vals:       make([]atomic.Uint64, size),
	}, nil
}

// stride is odd, so with a power-of-two size the probe sequence visits
// every slot before repeating.
func stride(h uint64) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], h)
	return xxh3.Hash(buf[:]) | 1
}

// claim finds or inserts the slot for hashed key h.
func (a *Array) claim(h uint64) (uint64, bool) {
	want := h | occupiedBit
	idx := h & a.mask
	var step uint64
	for i := uint64(0); i < a.maxReprobe; i++ {
		cur := a.keys[idx].Load()
		if cur == want {
			return idx, true
		}
		if cur == 0 {
			if a.keys[idx].CompareAndSwap(0, want) {
				a.distinct.Add(1)
				return idx, true
			}
			if a.keys[idx].Load() == want {
				return idx, true
			}
		}
		if step == 0 {
			step = stride(h)
		}
		a.reprobes.Add(1)
		idx = (idx + step) & a.mask
	}
	return 0, false
}

func (a *Array) find(h uint64) (uint64, bool) {
	want := h | occupiedBit
	idx := h & a.mask
	var step uint64
	for i := uint64(0); i < a.maxReprobe; i++ {
		cur := a.keys[idx].Load()
		if cur == want {
			return idx, true
		}
		if cur == 0 {
			return 0, false
		}
		if step == 0 {
			step = stride(h)
		}
		idx = (idx + step) & a.mask
	}
	return 0, false
}

// bump is the value-word transition for one occurrence.
func bump(v uint64) uint64 {
	if v&occMask != occMask {
		v++
	}
	if v&touchedBit == 0 {
		v |= touchedBit
		if v&filesMask != filesMask {
			v += 1 << filesShift
		}
	}
	return v
}

func unpack(v uint64) Entry {
	return Entry{
		Occurrences: v & occMask,
		Files:       uint32((v & filesMask) >> filesShift),
	}
}

// Add records one occurrence of m in the current pass.
func (a *Array) Add(m mer.Mer) error {
	idx, ok := a.claim(a.hash.Apply(uint64(m)))
	if !ok {
		a.full.Store(true)
		return fmt.Errorf("%w: no slot for %s after %d probes", ErrFull, m.String(a.k), a.maxReprobe)
	}
	v := &a.vals[idx]
	for {
		old := v.Load()
		if v.CompareAndSwap(old, bump(old)) {
			break
		}
	}
	a.added.Add(1)
	return nil
}

// Done closes the current pass. It must not race with Add.
func (a *Array) Done() error {
	if a.full.Load() {
		return fmt.Errorf("%w: %d distinct keys in %d slots", ErrFull, a.distinct.Load(), a.size)
	}
	a.passes.Add(1)
	return nil
}

// Postprocess clears the touched markers of shard's slot range so the next
// pass counts its first occurrence of each key again. It must complete for
// every shard before the next pass's Add calls.
func (a *Array) Postprocess(shard int) {
	lo, hi := a.bounds(shard, a.shards)
	for i := lo; i < hi; i++ {
		if a.vals[i].Load()&touchedBit != 0 {
			a.vals[i].And(^touchedBit)
		}
	}
}

// Lookup returns the entry for m and whether m is present.
func (a *Array) Lookup(m mer.Mer) (Entry, bool) {
	idx, ok := a.find(a.hash.Apply(uint64(m)))
	if !ok {
		return Entry{}, false
	}
	return unpack(a.vals[idx].Load()), true
}

func (a *Array) bounds(shard, count int) (uint64, uint64) {
	if count <= 0 || shard < 0 || shard >= count {
		return 0, 0
	}
	per := a.size / uint64(count)
	rem := a.size % uint64(count)
	start := uint64(shard)*per + min(uint64(shard), rem)
	end := start + per
	if uint64(shard) < rem {
		end++
	}
	return start, end
}

// Slice returns an iterator over the occupied slots of one of count
// contiguous, disjoint slot ranges.
func (a *Array) Slice(shard, count int) *Iterator {
	lo, hi := a.bounds(shard, count)
	return &Iterator{a: a, pos: lo, end: hi}
}

// Iterator walks occupied slots in slot order.
type Iterator struct {
	a     *Array
	pos   uint64
	end   uint64
	slot  uint64
	key   mer.Mer
	entry Entry
}

func (it *Iterator) Next() bool {
	for it.pos < it.end {
		i := it.pos
		it.pos++
		kw := it.a.keys[i].Load()
		if kw == 0 {
			continue
		}
		it.slot = i
		it.key = mer.Mer(it.a.inverse.Apply(kw &^ occupiedBit))
		it.entry = unpack(it.a.vals[i].Load())
		return true
	}
	return false
}

func (it *Iterator) Mer() mer.Mer { return it.key }
func (it *Iterator) Entry() Entry { return it.entry }
func (it *Iterator) Slot() uint64 { return it.slot }

// Stats is a snapshot of table counters.
type Stats struct {
	Size     uint64
	Distinct uint64
	Added    uint64
	Reprobes uint64
	Passes   uint32
}

func (s Stats) LoadFactor() float64 {
	if s.Size == 0 {
		return 0
	}
	return float64(s.Distinct) / float64(s.Size)
}

func (a *Array) Stats() Stats {
	return Stats{
		Size:     a.size,
		Distinct: a.distinct.Load(),
		Added:    a.added.Load(),
		Reprobes: a.reprobes.Load(),
		Passes:   a.passes.Load(),
	}
}

func (a *Array) K() int             { return a.k }
func (a *Array) Size() uint64       { return a.size }
func (a *Array) Passes() int        { return int(a.passes.Load()) }
func (a *Array) Distinct() uint64   { return a.distinct.Load() }
func (a *Array) Shards() int        { return a.shards }
func (a *Array) Matrix() gf2.Matrix { return a.hash }

// nextPowerOf2 returns the smallest power of 2 >= n.
func nextPowerOf2(n uint64) uint64 {
	if n == 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}
