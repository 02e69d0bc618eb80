// Package seqgen writes random FASTA and FASTQ fixtures.
//
// Output is a deterministic function of the seed, so fixtures can be
// regenerated instead of stored.
package seqgen

import (
	"bufio"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"strconv"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// LineWidth is the number of bases per sequence line.
const LineWidth = 70

// Illumina quality characters are drawn from [QualMin, QualMax].
const (
	QualMin = 66
	QualMax = 103
)

const letters = "ACGT"

// Compression of written fixtures.
type Compression string

const (
	None Compression = ""
	Gzip Compression = "gz"
	Zstd Compression = "zst"
	LZ4  Compression = "lz4"
)

func ParseCompression(s string) (Compression, error) {
	switch c := Compression(s); c {
	case None, Gzip, Zstd, LZ4:
		return c, nil
	case "none":
		return None, nil
	}
	return None, fmt.Errorf("unknown compression %q (want gz, zst or lz4)", s)
}

// Generator draws bases two bits at a time from 64-bit words.
type Generator struct {
	rng  *rand.Rand
	word uint64
	left int
}

func New(seed uint64) *Generator {
	return &Generator{rng: rand.New(rand.NewPCG(seed, seed^0x5851f42d4c957f2d))}
}

func (g *Generator) Base() byte {
	if g.left == 0 {
		g.word = g.rng.Uint64()
		g.left = 32
	}
	b := letters[g.word&3]
	g.word >>= 2
	g.left--
	return b
}

func (g *Generator) Quality() byte {
	return byte(QualMin + g.rng.IntN(QualMax-QualMin+1))
}

// WriteFASTA writes one record of length bases.
func (g *Generator) WriteFASTA(w io.Writer, length int) error {
	bw := bufio.NewWriter(w)
	_, _ = bw.WriteString(">read\n")
	for done := 0; done < length; {
		n := min(LineWidth, length-done)
		for i := 0; i < n; i++ {
			_ = bw.WriteByte(g.Base())
		}
		_ = bw.WriteByte('\n')
		done += n
	}
	return bw.Flush()
}

// WriteFASTQ writes reads of up to LineWidth bases totalling length bases.
func (g *Generator) WriteFASTQ(w io.Writer, length int) error {
	bw := bufio.NewWriter(w)
	seq := make([]byte, 0, LineWidth)
	for id, done := 0, 0; done < length; id++ {
		n := min(LineWidth, length-done)
		seq = seq[:0]
		for i := 0; i < n; i++ {
			seq = append(seq, g.Base())
		}
		_, _ = bw.WriteString("@read_" + strconv.Itoa(id) + "\n")
		_, _ = bw.Write(seq)
		_, _ = bw.WriteString("\n+\n")
		for i := 0; i < n; i++ {
			_ = bw.WriteByte(g.Quality())
		}
		_ = bw.WriteByte('\n')
		done += n
	}
	return bw.Flush()
}

// Options describe one `generate` invocation.
type Options struct {
	Prefix      string
	Lengths     []int
	FASTQ       bool
	Seed        uint64
	Compression Compression
}

// Paths returns the file names Write creates, in order.
func Paths(o Options) []string {
	ext := ".fa"
	if o.FASTQ {
		ext = ".fq"
	}
	if o.Compression != None {
		ext += "." + string(o.Compression)
	}
	if len(o.Lengths) == 1 {
		return []string{o.Prefix + ext}
	}
	out := make([]string, len(o.Lengths))
	for i := range o.Lengths {
		out[i] = o.Prefix + "_" + strconv.Itoa(i) + ext
	}
	return out
}

// Write creates one file per length, all drawn from a single generator.
func Write(o Options) ([]string, error) {
	if len(o.Lengths) == 0 {
		return nil, fmt.Errorf("seqgen: need at least one length")
	}
	g := New(o.Seed)
	paths := Paths(o)
	for i, p := range paths {
		if o.Lengths[i] < 0 {
			return nil, fmt.Errorf("seqgen: negative length %d", o.Lengths[i])
		}
		if err := writeFile(g, p, o, o.Lengths[i]); err != nil {
			return nil, err
		}
	}
	return paths, nil
}

func writeFile(g *Generator, path string, o Options, length int) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()
	w, err := compressor(f, o.Compression)
	if err != nil {
		return err
	}
	if o.FASTQ {
		err = g.WriteFASTQ(w, length)
	} else {
		err = g.WriteFASTA(w, length)
	}
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func compressor(w io.Writer, c Compression) (io.WriteCloser, error) {
	switch c {
	case Gzip:
		return gzip.NewWriter(w), nil
	case Zstd:
		return zstd.NewWriter(w)
	case LZ4:
		return lz4.NewWriter(w), nil
	}
	return nopWriteCloser{w}, nil
}
