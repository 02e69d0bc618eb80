// core/mer/mer.go
package mer

import (
	"errors"
	"fmt"
)

// MaxK is the longest k-mer a Mer can hold with room left for an occupancy bit.
const MaxK = 31

// Invalid marks bytes that are not one of ACGT (either case) in the code table.
const Invalid = 0xff

// Mer is a k-mer packed 2 bits per base, first base in the most significant
// position. The length k is not stored.
type Mer uint64

var ErrBadBase = errors.New("mer: invalid base")

var (
	codes   [256]byte
	letters = [4]byte{'A', 'C', 'G', 'T'}
)

func init() {
	for i := range codes {
		codes[i] = Invalid
	}
	codes['A'], codes['a'] = 0, 0
	codes['C'], codes['c'] = 1, 1
	codes['G'], codes['g'] = 2, 2
	codes['T'], codes['t'] = 3, 3
}

// Code returns the 2-bit code of b or Invalid.
func Code(b byte) byte { return codes[b] }

// Mask has the low 2k bits set.
func Mask(k int) uint64 {
	if k >= 32 {
		return ^uint64(0)
	}
	return uint64(1)<<(2*uint(k)) - 1
}

// ValidK reports whether k is a supported k-mer length.
func ValidK(k int) bool { return k >= 1 && k <= MaxK }

// Parse packs s; its length is k.
func Parse(s string) (Mer, error) {
	if !ValidK(len(s)) {
		return 0, fmt.Errorf("mer: length %d outside 1..%d", len(s), MaxK)
	}
	var m uint64
	for i := 0; i < len(s); i++ {
		c := codes[s[i]]
		if c == Invalid {
			return 0, fmt.Errorf("%w %q at %d", ErrBadBase, s[i], i)
		}
		m = m<<2 | uint64(c)
	}
	return Mer(m), nil
}

// MustParse is Parse for literals in tests and tables.
func MustParse(s string) Mer {
	m, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return m
}

// String renders the k bases of m.
func (m Mer) String(k int) string {
	return string(m.AppendTo(make([]byte, 0, k), k))
}

// AppendTo appends the k bases of m to dst.
func (m Mer) AppendTo(dst []byte, k int) []byte {
	for i := k - 1; i >= 0; i-- {
		dst = append(dst, letters[(uint64(m)>>(2*uint(i)))&3])
	}
	return dst
}

// ReverseComplement of a k-mer.
func (m Mer) ReverseComplement(k int) Mer {
	v := ^uint64(m) & Mask(k)
	var rc uint64
	for i := 0; i < k; i++ {
		rc = rc<<2 | v&3
		v >>= 2
	}
	return Mer(rc)
}

// Canonical is the smaller of m and its reverse complement.
func (m Mer) Canonical(k int) Mer {
	if rc := m.ReverseComplement(k); rc < m {
		return rc
	}
	return m
}

// Roller builds consecutive k-mers from a base stream, keeping the reverse
// complement in step so canonical forms cost no extra pass.
type Roller struct {
	k      int
	mask   uint64
	shift  uint
	fwd    uint64
	rc     uint64
	filled int
}

func NewRoller(k int) Roller {
	return Roller{k: k, mask: Mask(k), shift: 2 * uint(k-1)}
}

// Push feeds one base. It reports true once the last k bases were all valid.
// A non-ACGT byte restarts the window.
func (r *Roller) Push(b byte) bool {
	c := codes[b]
	if c == Invalid {
		r.filled = 0
		return false
	}
	r.fwd = (r.fwd<<2 | uint64(c)) & r.mask
	r.rc = r.rc>>2 | uint64(3-c)<<r.shift
	if r.filled < r.k {
		r.filled++
	}
	return r.filled == r.k
}

// Reset forgets any partial window.
func (r *Roller) Reset() { r.filled = 0 }

func (r *Roller) Forward() Mer { return Mer(r.fwd) }

func (r *Roller) Canonical() Mer {
	if r.rc < r.fwd {
		return Mer(r.rc)
	}
	return Mer(r.fwd)
}
