// internal/cli/options.go
package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/spf13/pflag"

	"mersect-core/fasta"
	"mersect-core/mer"
	"mersect/internal/config"
	"mersect/internal/pipeline"
)

// ErrConfig marks a configuration or usage error.
var ErrConfig = errors.New("invalid configuration")

// MaxPathLen bounds every output path.
const MaxPathLen = 4096

const DefaultIntersection = "intersection"

// Options holds the flags and arguments of `mersect intersect`.
type Options struct {
	K            int
	Size         string // slot count, with optional k/M/G suffix
	Threads      int    // 0 = all CPUs
	Intersection string
	Prefix       string
	Canonical    bool
	Seed         uint64
	Matrix       string // load the hash matrix from this file
	DumpMatrix   string // save the hash matrix to this file
	Reprobes     int
	Lookahead    int // 0 = 3 windows per thread
	BufferSize   int
	MetricsFile  string
	ConfigFile   string
	Verbose      bool

	Files []string
}

// Register binds the intersect flags to o.
func Register(fs *pflag.FlagSet, o *Options) {
	fs.IntVarP(&o.K, "mer-len", "m", 0, "k-mer length, 1..31 [*]")
	fs.StringVarP(&o.Size, "size", "s", "", "hash array slots, k/M/G suffixes allowed [*]")
	fs.IntVarP(&o.Threads, "threads", "t", 0, "worker threads (0 = all CPUs)")
	fs.StringVarP(&o.Intersection, "intersection", "o", DefaultIntersection, "intersection output file")
	fs.StringVarP(&o.Prefix, "prefix", "p", pipeline.DefaultUniquePrefix, "prefix of the per-file unique k-mer outputs")
	fs.BoolVar(&o.Canonical, "canonical", false, "count a k-mer and its reverse complement together")
	fs.Uint64Var(&o.Seed, "seed", 0, "seed of the hash matrix generator")
	fs.StringVar(&o.Matrix, "matrix", "", "load the hash matrix from a dump file")
	fs.StringVar(&o.DumpMatrix, "dump-matrix", "", "write the hash matrix used to this file")
	fs.IntVar(&o.Reprobes, "reprobes", 0, "maximum reprobes per key (0 = 126)")
	fs.IntVar(&o.Lookahead, "lookahead", 0, "parser windows buffered ahead (0 = 3 per thread)")
	fs.IntVar(&o.BufferSize, "buffer-size", fasta.DefaultBufferSize, "sequence bytes per parser window")
	fs.StringVar(&o.MetricsFile, "metrics-file", "", "write Prometheus metrics to this file when done")
	fs.StringVar(&o.ConfigFile, "config", "", "YAML file with flag defaults")
	fs.BoolVarP(&o.Verbose, "verbose", "v", false, "debug logging")
}

// ApplyFile fills every option whose flag was not given on the command line
// from f.
func (o *Options) ApplyFile(fs *pflag.FlagSet, f config.File) {
	unset := func(name string) bool { return !fs.Changed(name) }
	if f.MerLen != nil && unset("mer-len") {
		o.K = *f.MerLen
	}
	if f.Size != nil && unset("size") {
		o.Size = *f.Size
	}
	if f.Threads != nil && unset("threads") {
		o.Threads = *f.Threads
	}
	if f.Intersection != nil && unset("intersection") {
		o.Intersection = *f.Intersection
	}
	if f.Prefix != nil && unset("prefix") {
		o.Prefix = *f.Prefix
	}
	if f.Canonical != nil && unset("canonical") {
		o.Canonical = *f.Canonical
	}
	if f.Seed != nil && unset("seed") {
		o.Seed = *f.Seed
	}
	if f.Matrix != nil && unset("matrix") {
		o.Matrix = *f.Matrix
	}
	if f.DumpMatrix != nil && unset("dump-matrix") {
		o.DumpMatrix = *f.DumpMatrix
	}
	if f.Reprobes != nil && unset("reprobes") {
		o.Reprobes = *f.Reprobes
	}
	if f.Lookahead != nil && unset("lookahead") {
		o.Lookahead = *f.Lookahead
	}
	if f.BufferSize != nil && unset("buffer-size") {
		o.BufferSize = *f.BufferSize
	}
	if f.MetricsFile != nil && unset("metrics-file") {
		o.MetricsFile = *f.MetricsFile
	}
	if f.Verbose != nil && unset("verbose") {
		o.Verbose = *f.Verbose
	}
}

// Settings are validated options with defaults resolved.
type Settings struct {
	Options
	Slots uint64
}

// Validate checks o and resolves defaults. Every error wraps ErrConfig.
func (o Options) Validate() (Settings, error) {
	bad := func(format string, args ...any) (Settings, error) {
		return Settings{}, fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, args...))
	}
	if !mer.ValidK(o.K) {
		return bad("--mer-len %d outside 1..%d", o.K, mer.MaxK)
	}
	if o.Size == "" {
		return bad("--size is required")
	}
	slots, err := ParseSize(o.Size)
	if err != nil {
		return bad("--size: %v", err)
	}
	if slots == 0 {
		return bad("--size must be > 0")
	}
	if len(o.Files) == 0 {
		return bad("at least one input file is required")
	}
	if o.Threads < 0 {
		return bad("--threads must be >= 0")
	}
	if o.Reprobes < 0 || o.Lookahead < 0 || o.BufferSize < 1 {
		return bad("--reprobes and --lookahead must be >= 0, --buffer-size >= 1")
	}
	if o.Threads == 0 {
		o.Threads = runtime.NumCPU()
	}
	if o.Lookahead == 0 {
		o.Lookahead = 3 * o.Threads
	}

	outputs := []string{o.Intersection, o.DumpMatrix, o.MetricsFile}
	for _, f := range o.Files {
		if f == "-" {
			return bad("standard input cannot be used: files are read twice")
		}
		if o.Prefix != "" {
			u := pipeline.UniquePath(o.Prefix, f)
			if sameFile(u, f) {
				return bad("unique output %s would overwrite its input", u)
			}
			outputs = append(outputs, u)
		}
	}
	seen := make(map[string]bool, len(outputs))
	for _, p := range outputs {
		if len(p) > MaxPathLen {
			return bad("output path longer than %d bytes", MaxPathLen)
		}
		if p == "" {
			continue
		}
		key := filepath.Clean(p)
		if seen[key] {
			return bad("output %s would be written twice", p)
		}
		seen[key] = true
	}
	return Settings{Options: o, Slots: slots}, nil
}

func sameFile(a, b string) bool {
	if filepath.Clean(a) == filepath.Clean(b) {
		return true
	}
	sa, err := os.Stat(a)
	if err != nil {
		return false
	}
	sb, err := os.Stat(b)
	if err != nil {
		return false
	}
	return os.SameFile(sa, sb)
}

// ParseSize parses a slot count such as "4096", "64k", "100M" or "2G".
// Suffixes are powers of 1000.
func ParseSize(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	mult := uint64(1)
	if n := len(s); n > 0 {
		switch s[n-1] {
		case 'k', 'K':
			mult = 1e3
		case 'm', 'M':
			mult = 1e6
		case 'g', 'G':
			mult = 1e9
		}
		if mult != 1 {
			s = s[:n-1]
		}
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad size %q", s)
	}
	if v > (1<<62)/mult {
		return 0, fmt.Errorf("size %s too large", s)
	}
	return v * mult, nil
}
