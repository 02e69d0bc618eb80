// internal/pipeline/pipeline.go
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"mersect-core/fasta"
	"mersect-core/intersect"
	"mersect-core/multiplex"
	"mersect/internal/barrier"
	"mersect/internal/logging"
	"mersect/internal/metrics"
)

// DefaultUniquePrefix is prepended to an input's base name to name its
// unique k-mer output.
const DefaultUniquePrefix = "uniq_"

// cancelPoll is how many k-mers a worker handles between context checks.
const cancelPoll = 1 << 14

const progressInterval = 5 * time.Second

// Config controls one run.
type Config struct {
	K            int // must match Array.K() when set
	Threads      int // worker goroutines (>=1)
	Array        *intersect.Array
	Canonical    bool
	Intersection string // intersection output path; empty skips phase B
	UniquePrefix string // empty skips phase C
	Lookahead    int // parser windows queued; 0 means three per worker
	BufferSize   int
	QueueRecords int // per-worker multiplexer queue depth
	Logger       *slog.Logger
	Metrics      *metrics.Run
}

func (c Config) withDefaults() Config {
	if c.Threads < 1 {
		c.Threads = 1
	}
	if c.Lookahead < 1 {
		c.Lookahead = 3 * c.Threads
	}
	return c
}

// Result summarizes a completed run.
type Result struct {
	Files        int
	Passes       int
	Distinct     uint64
	Intersection uint64
	Unique       []FileCount // in input order
}

type FileCount struct {
	File   string
	Output string
	Count  uint64
}

// UniquePath names the unique k-mer output of input file.
func UniquePath(prefix, file string) string {
	return prefix + filepath.Base(file)
}

// handoff is the state worker 0 publishes for the next step.
type handoff struct {
	stop   bool
	err    error
	file   int
	parser *fasta.Parser
	out    *os.File
	mux    *multiplex.Mux
}

type run struct {
	ctx   context.Context
	cfg   Config
	ary   *intersect.Array
	files []string
	log   *slog.Logger
	bar   *barrier.Barrier

	slot handoff

	mu      sync.Mutex
	err     error
	aborted atomic.Bool

	intersection atomic.Uint64
	unique       []atomic.Uint64
	phaseStart   time.Time
	progress     rate.Sometimes // worker 0 only
}

// Run executes all phases. Every worker follows the same barrier sequence
// whatever happens, and they all return the first error that occurred.
func Run(ctx context.Context, cfg Config, files []string) (Result, error) {
	if cfg.Array == nil {
		return Result{}, errors.New("pipeline: nil array")
	}
	if cfg.K != 0 && cfg.K != cfg.Array.K() {
		return Result{}, fmt.Errorf("pipeline: k=%d but array built for k=%d", cfg.K, cfg.Array.K())
	}
	if len(files) == 0 {
		return Result{}, errors.New("pipeline: no input files")
	}
	cfg = cfg.withDefaults()

	r := &run{
		ctx:    ctx,
		cfg:    cfg,
		ary:    cfg.Array,
		files:  files,
		log:    logging.OrDiscard(cfg.Logger),
		bar:    barrier.New(cfg.Threads),
		unique: make([]atomic.Uint64, len(files)),
	}
	r.progress = rate.Sometimes{Interval: progressInterval}

	var g errgroup.Group
	for id := 0; id < cfg.Threads; id++ {
		g.Go(func() error { return r.worker(id) })
	}
	err := g.Wait()

	res := Result{
		Files:        len(files),
		Passes:       r.ary.Passes(),
		Distinct:     r.ary.Distinct(),
		Intersection: r.intersection.Load(),
	}
	if cfg.UniquePrefix != "" {
		res.Unique = make([]FileCount, len(files))
		for i, f := range files {
			res.Unique[i] = FileCount{File: f, Output: UniquePath(cfg.UniquePrefix, f), Count: r.unique[i].Load()}
		}
	}
	return res, err
}

func (r *run) fail(err error) {
	r.mu.Lock()
	if r.err == nil {
		r.err = err
	}
	r.mu.Unlock()
	r.aborted.Store(true)
}

func (r *run) failed() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// latch records a cancelled context as the run's error.
func (r *run) latch() error {
	if err := r.ctx.Err(); err != nil {
		r.fail(err)
	}
	return r.failed()
}

func (r *run) worker(id int) error {
	if err := r.load(id); err != nil {
		return err
	}
	if r.cfg.Intersection != "" {
		if err := r.emitIntersection(id); err != nil {
			return err
		}
	}
	if r.cfg.UniquePrefix != "" {
		if err := r.emitUniques(id); err != nil {
			return err
		}
	}
	// collect anything latched by the last close
	r.bar.Wait()
	return r.failed()
}

// ---- phase A ----

func (r *run) load(id int) error {
	for idx := 0; ; idx++ {
		if id == 0 {
			r.publishParser(idx, "load")
		}
		r.bar.Wait()
		s := r.slot
		if s.err != nil {
			return s.err
		}
		if s.stop {
			// worker 0 rewrites the slot next; hold it until everyone has read this one
			r.bar.Wait()
			return nil
		}

		r.addAll(id, s)
		r.bar.Wait()

		if id == 0 {
			r.closePass(s)
		}
		r.bar.Wait()

		if r.failed() == nil {
			for shard := id; shard < r.ary.Shards(); shard += r.cfg.Threads {
				r.ary.Postprocess(shard)
			}
		}
	}
}

func (r *run) publishParser(idx int, phase string) {
	if idx == 0 {
		r.phaseStart = time.Now()
	}
	if err := r.latch(); err != nil {
		r.slot = handoff{err: err}
		return
	}
	if idx == len(r.files) {
		r.cfg.Metrics.Phase(phase, time.Since(r.phaseStart).Seconds())
		r.slot = handoff{stop: true}
		return
	}
	p, err := fasta.NewParser(r.ctx, r.files[idx:idx+1], fasta.Config{
		K:          r.ary.K(),
		Lookahead:  r.cfg.Lookahead,
		BufferSize: r.cfg.BufferSize,
	})
	if err != nil {
		r.fail(err)
		r.slot = handoff{err: err}
		return
	}
	r.slot = handoff{file: idx, parser: p}
}

func (r *run) addAll(id int, s handoff) {
	it := s.parser.Mers(r.cfg.Canonical)
	var n uint64
	for it.Next() {
		if err := r.ary.Add(it.Mer()); err != nil {
			r.fail(err)
			break
		}
		n++
		if n%cancelPoll != 0 {
			continue
		}
		if r.aborted.Load() || r.ctx.Err() != nil {
			break
		}
		if id == 0 {
			r.progress.Do(func() {
				r.log.Debug("loading",
					"file", r.files[s.file],
					"bases", s.parser.Bases(),
					"distinct", r.ary.Distinct())
			})
		}
	}
	r.cfg.Metrics.AddMers(n)
}

func (r *run) closePass(s handoff) {
	file := r.files[s.file]
	if err := s.parser.Close(); err != nil {
		r.fail(fmt.Errorf("read %s: %w", file, err))
	}
	if err := r.ary.Done(); err != nil {
		r.fail(err)
	}
	if r.latch() != nil {
		return
	}
	st := r.ary.Stats()
	r.cfg.Metrics.AddBases(s.parser.Bases())
	r.cfg.Metrics.PassDone()
	r.cfg.Metrics.ObserveArray(st)
	r.log.Info("loaded file",
		"file", file,
		"pass", st.Passes,
		"bases", s.parser.Bases(),
		"distinct", st.Distinct,
		"load", fmt.Sprintf("%.3f", st.LoadFactor()))
}

// ---- phase B ----

func (r *run) emitIntersection(id int) error {
	if id == 0 {
		r.phaseStart = time.Now()
		r.publishOutput(r.cfg.Intersection, handoff{})
	}
	r.bar.Wait()
	s := r.slot
	if s.err != nil {
		return s.err
	}

	out := s.mux.Stream(id)
	want := uint32(len(r.files))
	k := r.ary.K()
	var n uint64
	for it := r.ary.Slice(id, r.cfg.Threads); it.Next(); {
		if it.Entry().Files != want {
			continue
		}
		b := out.Buffer()
		*b = append(it.Mer().AppendTo(*b, k), '\n')
		out.EndRecord()
		n++
		if n%cancelPoll == 0 && (!out.OK() || r.ctx.Err() != nil) {
			break
		}
	}
	_ = out.Close()
	r.intersection.Add(n)
	r.bar.Wait()

	if id == 0 {
		r.closeOutput(s)
		if r.failed() == nil {
			r.cfg.Metrics.AddEmitted("intersection", r.intersection.Load())
			r.cfg.Metrics.Phase("intersection", time.Since(r.phaseStart).Seconds())
			r.log.Info("wrote intersection", "path", r.cfg.Intersection, "mers", r.intersection.Load())
		}
	}
	return nil
}

// publishOutput creates path and a multiplexer on it and publishes them in s.
func (r *run) publishOutput(path string, s handoff) {
	if err := r.latch(); err != nil {
		r.closeParser(s)
		r.slot = handoff{err: err}
		return
	}
	f, err := os.Create(path)
	if err != nil {
		r.closeParser(s)
		r.fail(err)
		r.slot = handoff{err: err}
		return
	}
	s.out = f
	s.mux = multiplex.New(f, r.cfg.Threads, r.cfg.QueueRecords)
	r.log.Debug("writing", "path", path)
	r.slot = s
}

func (r *run) closeParser(s handoff) {
	if s.parser != nil {
		_ = s.parser.Close()
	}
}

func (r *run) closeOutput(s handoff) {
	if err := s.mux.Close(); err != nil {
		r.fail(fmt.Errorf("write %s: %w", s.out.Name(), err))
	}
	if err := s.out.Close(); err != nil {
		r.fail(fmt.Errorf("close %s: %w", s.out.Name(), err))
	}
	// a cancelled scan stops early, so the file is incomplete
	r.latch()
}

// ---- phase C ----

func (r *run) emitUniques(id int) error {
	for idx := 0; ; idx++ {
		if id == 0 {
			r.publishUnique(idx)
		}
		r.bar.Wait()
		s := r.slot
		if s.err != nil {
			return s.err
		}
		if s.stop {
			return nil
		}

		r.emitUnique(id, s)
		r.bar.Wait()

		if id == 0 {
			if err := s.parser.Close(); err != nil {
				r.fail(fmt.Errorf("read %s: %w", r.files[s.file], err))
			}
			r.closeOutput(s)
			if r.failed() == nil {
				n := r.unique[s.file].Load()
				r.cfg.Metrics.AddEmitted("unique", n)
				r.log.Info("wrote unique mers", "file", r.files[s.file], "path", s.out.Name(), "mers", n)
			}
		}
	}
}

func (r *run) publishUnique(idx int) {
	r.publishParser(idx, "unique")
	if r.slot.err != nil || r.slot.stop {
		return
	}
	r.publishOutput(UniquePath(r.cfg.UniquePrefix, r.files[idx]), r.slot)
}

func (r *run) emitUnique(id int, s handoff) {
	out := s.mux.Stream(id)
	k := r.ary.K()
	it := s.parser.Mers(r.cfg.Canonical)
	var n, seen uint64
	for it.Next() {
		seen++
		if seen%cancelPoll == 0 && (!out.OK() || r.ctx.Err() != nil) {
			break
		}
		m := it.Mer()
		e, ok := r.ary.Lookup(m)
		if !ok || e.Occurrences != 1 {
			continue
		}
		b := out.Buffer()
		*b = append(m.AppendTo(*b, k), '\n')
		out.EndRecord()
		n++
	}
	_ = out.Close()
	r.unique[s.file].Add(n)
}
