// core/multiplex/multiplex.go
package multiplex

import (
	"bufio"
	"errors"
	"io"
	"sync"
	"sync/atomic"
)

const DefaultBufferRecords = 64

// ErrClosed is returned when writing to a Stream after Close.
var ErrClosed = errors.New("multiplex: stream closed")

// Reuse a 64 KiB buffered writer across multiplexers; one is opened per
// output file.
var bwPool = sync.Pool{
	New: func() any {
		return bufio.NewWriterSize(io.Discard, 64<<10)
	},
}

type record struct{ b []byte }

var recPool = sync.Pool{
	New: func() any { return &record{b: make([]byte, 0, 64)} },
}

// Mux merges the records of a fixed number of producers into one sink.
// Records are written strictly round-robin by producer id: one record from
// producer 0, then one from producer 1, and so on, skipping producers that
// have closed. A producer only blocks when its own queue is full.
type Mux struct {
	queues  []chan *record
	streams []*Stream
	failed  atomic.Bool
	done    chan error
}

// New starts the writer goroutine. bufRecords is the per-producer queue depth.
func New(w io.Writer, producers, bufRecords int) *Mux {
	if bufRecords <= 0 {
		bufRecords = DefaultBufferRecords
	}
	m := &Mux{
		queues:  make([]chan *record, producers),
		streams: make([]*Stream, producers),
		done:    make(chan error, 1),
	}
	for i := range m.queues {
		m.queues[i] = make(chan *record, bufRecords)
		m.streams[i] = &Stream{m: m, q: m.queues[i], rec: recPool.Get().(*record)}
	}
	go m.run(w)
	return m
}

func (m *Mux) run(out io.Writer) {
	bw := bwPool.Get().(*bufio.Writer)
	bw.Reset(out)
	defer func() {
		bw.Reset(io.Discard)
		bwPool.Put(bw)
	}()

	var err error
	live := len(m.queues)
	open := make([]bool, len(m.queues))
	for i := range open {
		open[i] = true
	}
	for live > 0 {
		for i, q := range m.queues {
			if !open[i] {
				continue
			}
			rec, ok := <-q
			if !ok {
				open[i] = false
				live--
				continue
			}
			// After a failure keep draining so no producer stays blocked.
			if err == nil {
				if _, werr := bw.Write(rec.b); werr != nil {
					err = werr
					m.failed.Store(true)
				}
			}
			rec.b = rec.b[:0]
			recPool.Put(rec)
		}
	}
	if err == nil {
		if err = bw.Flush(); err != nil {
			m.failed.Store(true)
		}
	}
	m.done <- err
}

// Stream returns producer id's output view. Each Stream must be used by a
// single goroutine.
func (m *Mux) Stream(id int) *Stream { return m.streams[id] }

// Producers returns the number of producer streams.
func (m *Mux) Producers() int { return len(m.streams) }

// Close retires any stream still open, waits for the writer to drain and
// returns the first sink error. Call it once every producer is finished.
func (m *Mux) Close() error {
	for _, s := range m.streams {
		_ = s.Close()
	}
	err := <-m.done
	m.done <- err
	return err
}

// Stream buffers one producer's current record.
type Stream struct {
	m      *Mux
	q      chan<- *record
	rec    *record
	closed bool
}

// Write appends p to the current record.
func (s *Stream) Write(p []byte) (int, error) {
	if s.closed {
		return 0, ErrClosed
	}
	s.rec.b = append(s.rec.b, p...)
	return len(p), nil
}

// WriteString appends str to the current record.
func (s *Stream) WriteString(str string) (int, error) {
	if s.closed {
		return 0, ErrClosed
	}
	s.rec.b = append(s.rec.b, str...)
	return len(str), nil
}

// Buffer exposes the current record for append-style encoders.
func (s *Stream) Buffer() *[]byte { return &s.rec.b }

// EndRecord hands the bytes written since the previous EndRecord to the
// writer as one record. Empty records are dropped.
func (s *Stream) EndRecord() {
	if s.closed || len(s.rec.b) == 0 {
		return
	}
	s.q <- s.rec
	s.rec = recPool.Get().(*record)
}

// OK reports whether the sink is still accepting data. Producers should stop
// once it turns false.
func (s *Stream) OK() bool { return !s.m.failed.Load() }

// Close ends any pending record and retires the producer.
func (s *Stream) Close() error {
	if s.closed {
		return nil
	}
	s.EndRecord()
	s.closed = true
	close(s.q)
	return nil
}
