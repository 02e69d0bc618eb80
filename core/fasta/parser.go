// core/fasta/parser.go
package fasta

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"mersect-core/mer"
)

// Config controls how a Parser cuts records into windows.
type Config struct {
	K          int // k-mer length; windows overlap by K-1 bases
	Lookahead  int // windows queued ahead of the consumers
	BufferSize int // new bases per window
}

// Defaults applied to zero Config fields. Callers running several
// consumers usually size Lookahead to about three windows per consumer.
const (
	DefaultLookahead  = 16
	DefaultBufferSize = 4096
)

// Parser turns one or more FASTA/FASTQ inputs into a stream of sequence
// windows. A single goroutine reads the inputs in order; any number of
// consumers may pull windows concurrently with Next or through a Mers cursor.
type Parser struct {
	k       int
	paths   []string
	readers []io.ReadCloser
	windows chan []byte
	cancel  context.CancelFunc
	done    chan struct{}
	err     error // written by the producer before done is closed
	bases   atomic.Int64
}

// NewParser opens every path up front, so a missing or unreadable input is
// reported here rather than mid-stream.
func NewParser(ctx context.Context, paths []string, cfg Config) (*Parser, error) {
	if !mer.ValidK(cfg.K) {
		return nil, fmt.Errorf("fasta: k=%d outside 1..%d", cfg.K, mer.MaxK)
	}
	if cfg.Lookahead <= 0 {
		cfg.Lookahead = DefaultLookahead
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}

	readers := make([]io.ReadCloser, 0, len(paths))
	for _, path := range paths {
		rc, err := Open(path)
		if err != nil {
			for _, r := range readers {
				_ = r.Close()
			}
			return nil, err
		}
		readers = append(readers, rc)
	}

	ctx, cancel := context.WithCancel(ctx)
	p := &Parser{
		k:       cfg.K,
		paths:   paths,
		readers: readers,
		windows: make(chan []byte, cfg.Lookahead),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go p.produce(ctx, cfg.BufferSize)
	return p, nil
}

func (p *Parser) produce(ctx context.Context, bufSize int) {
	defer close(p.done)
	defer close(p.windows)
	defer func() {
		for _, rc := range p.readers {
			_ = rc.Close()
		}
	}()

	for i, rc := range p.readers {
		s := newScanner(p, bufSize)
		if err := s.scan(ctx, rc); err != nil {
			if !errors.Is(err, context.Canceled) {
				p.err = fmt.Errorf("%s: %w", p.paths[i], err)
			}
			return
		}
	}
}

// Next claims the next window. It returns false once every input is consumed.
func (p *Parser) Next() ([]byte, bool) {
	w, ok := <-p.windows
	return w, ok
}

// Bases returns the number of sequence characters read so far.
func (p *Parser) Bases() int64 { return p.bases.Load() }

// K returns the k-mer length the windows overlap for.
func (p *Parser) K() int { return p.k }

// Close stops the producer and returns the first read error, if any.
func (p *Parser) Close() error {
	p.cancel()
	for range p.windows {
	}
	<-p.done
	return p.err
}

func (p *Parser) emit(ctx context.Context, w []byte) error {
	select {
	case p.windows <- w:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type format int

const (
	formatUnknown format = iota
	formatFASTA
	formatFASTQ
	formatInvalid
)

type lineKind int

const (
	lineSkip lineKind = iota
	lineSeq
	lineQual
)

// scanner parses one input. Lines are read as bufio fragments so sequence
// lines of any length are accepted.
type scanner struct {
	p     *Parser
	limit int // overlap + new bases per window
	buf   []byte
	fresh int // bases in buf not yet emitted

	format    format
	inRecord  bool
	inQual    bool
	seqLen    int
	qualLeft  int
	kind      lineKind
	lineStart bool
}

func newScanner(p *Parser, bufSize int) *scanner {
	limit := p.k - 1 + bufSize
	return &scanner{p: p, limit: limit, buf: make([]byte, 0, limit), lineStart: true}
}

func (s *scanner) scan(ctx context.Context, r io.Reader) error {
	br := bufio.NewReaderSize(r, 1<<16)
	held := 0 // trailing '\r' bytes of a fragment cut before its line end
	for {
		frag, err := br.ReadSlice('\n')
		if len(frag) > 0 {
			eol := frag[len(frag)-1] == '\n'
			body := bytes.TrimRight(frag, "\r\n")
			if held > 0 && len(body) > 0 {
				// not a line end after all
				if perr := s.fragment(ctx, bytes.Repeat([]byte{'\r'}, held), false); perr != nil {
					return perr
				}
				s.lineStart = false
			}
			switch {
			case eol:
				held = 0
			case len(body) == 0:
				held += len(frag)
			default:
				held = len(frag) - len(body)
			}
			if eol || len(body) > 0 {
				if perr := s.fragment(ctx, body, eol); perr != nil {
					return perr
				}
				s.lineStart = eol
			}
		}
		switch {
		case err == nil, errors.Is(err, bufio.ErrBufferFull):
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		case errors.Is(err, io.EOF):
			return s.endRecord(ctx)
		default:
			return err
		}
	}
}

func (s *scanner) fragment(ctx context.Context, frag []byte, eol bool) error {
	if s.lineStart {
		if len(frag) == 0 {
			s.kind = lineSkip
			return nil
		}
		if err := s.startLine(ctx, frag[0]); err != nil {
			return err
		}
	}
	switch s.kind {
	case lineSeq:
		return s.add(ctx, frag)
	case lineQual:
		s.qualLeft -= len(frag)
		if eol && s.qualLeft <= 0 {
			s.inQual = false
		}
	}
	return nil
}

func (s *scanner) startLine(ctx context.Context, c byte) error {
	if s.format == formatUnknown {
		switch c {
		case '>':
			s.format = formatFASTA
		case '@':
			s.format = formatFASTQ
		default:
			s.format = formatInvalid
		}
	}

	switch s.format {
	case formatFASTA:
		if c == '>' {
			if err := s.endRecord(ctx); err != nil {
				return err
			}
			s.inRecord = true
			s.kind = lineSkip
			return nil
		}
		if s.inRecord {
			s.kind = lineSeq
		} else {
			s.kind = lineSkip
		}

	case formatFASTQ:
		switch {
		case s.inQual:
			s.kind = lineQual
		case c == '@' && !s.inRecord:
			s.inRecord = true
			s.seqLen = 0
			s.kind = lineSkip
		case c == '+' && s.inRecord:
			s.inRecord = false
			s.inQual = s.seqLen > 0
			s.qualLeft = s.seqLen
			s.kind = lineSkip
			return s.endRecord(ctx)
		case s.inRecord:
			s.kind = lineSeq
		default:
			s.kind = lineSkip
		}

	default:
		s.kind = lineSkip
	}
	return nil
}

func (s *scanner) add(ctx context.Context, b []byte) error {
	s.p.bases.Add(int64(len(b)))
	s.seqLen += len(b)
	for len(b) > 0 {
		n := min(s.limit-len(s.buf), len(b))
		s.buf = append(s.buf, b[:n]...)
		s.fresh += n
		b = b[n:]
		if len(s.buf) == s.limit {
			if err := s.flush(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// flush emits the buffered window and keeps its last k-1 bases as the
// prefix of the next one.
func (s *scanner) flush(ctx context.Context) error {
	if s.fresh == 0 || len(s.buf) < s.p.k {
		return nil
	}
	if err := s.p.emit(ctx, bytes.Clone(s.buf)); err != nil {
		return err
	}
	keep := s.p.k - 1
	copy(s.buf, s.buf[len(s.buf)-keep:])
	s.buf = s.buf[:keep]
	s.fresh = 0
	return nil
}

func (s *scanner) endRecord(ctx context.Context) error {
	err := s.flush(ctx)
	s.buf = s.buf[:0]
	s.fresh = 0
	return err
}

// Mers is a per-consumer cursor over the k-mers of the windows it claims.
type Mers struct {
	p         *Parser
	canonical bool
	roller    mer.Roller
	win       []byte
	pos       int
	cur       mer.Mer
}

// Mers returns a new cursor. Cursors on the same Parser share its windows:
// each window's k-mers are seen by exactly one cursor.
func (p *Parser) Mers(canonical bool) *Mers {
	return &Mers{p: p, canonical: canonical, roller: mer.NewRoller(p.k)}
}

// Next advances to the next k-mer.
func (it *Mers) Next() bool {
	for {
		for it.pos < len(it.win) {
			b := it.win[it.pos]
			it.pos++
			if it.roller.Push(b) {
				if it.canonical {
					it.cur = it.roller.Canonical()
				} else {
					it.cur = it.roller.Forward()
				}
				return true
			}
		}
		w, ok := it.p.Next()
		if !ok {
			it.win = nil
			return false
		}
		it.win, it.pos = w, 0
		it.roller.Reset()
	}
}

// Mer returns the current k-mer.
func (it *Mers) Mer() mer.Mer { return it.cur }
