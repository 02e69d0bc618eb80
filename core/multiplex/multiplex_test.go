package multiplex

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func emit(s *Stream, recs ...string) {
	for _, r := range recs {
		_, _ = s.WriteString(r)
		_, _ = s.WriteString("\n")
		s.EndRecord()
	}
}

func TestMux_RoundRobinRegardlessOfArrival(t *testing.T) {
	var out bytes.Buffer
	m := New(&out, 2, 4)

	// producer 1 fills its queue before producer 0 writes anything
	emit(m.Stream(1), "p1a", "p1b")
	require.NoError(t, m.Stream(1).Close())
	emit(m.Stream(0), "p0a", "p0b")
	require.NoError(t, m.Stream(0).Close())

	require.NoError(t, m.Close())
	assert.Equal(t, "p0a\np1a\np0b\np1b\n", out.String())
}

func TestMux_UnevenProducers(t *testing.T) {
	var out bytes.Buffer
	m := New(&out, 3, 1)

	var wg sync.WaitGroup
	recs := [][]string{{"a0", "a1", "a2"}, {"b0"}, {}}
	for i, rs := range recs {
		wg.Add(1)
		go func(id int, rs []string) {
			defer wg.Done()
			s := m.Stream(id)
			emit(s, rs...)
			_ = s.Close()
		}(i, rs)
	}
	wg.Wait()
	require.NoError(t, m.Close())
	assert.Equal(t, "a0\nb0\na1\na2\n", out.String())
}

func TestMux_RecordsNeverInterleave(t *testing.T) {
	var out bytes.Buffer
	const producers, perProducer = 4, 500
	m := New(&out, producers, 2)

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			s := m.Stream(id)
			for i := 0; i < perProducer; i++ {
				fmt.Fprintf(s, "p%d-", id)
				fmt.Fprintf(s, "%d\n", i)
				s.EndRecord()
			}
			_ = s.Close()
		}(p)
	}
	wg.Wait()
	require.NoError(t, m.Close())

	lines := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
	require.Len(t, lines, producers*perProducer)
	for i, line := range lines {
		assert.Equal(t, fmt.Sprintf("p%d-%d", i%producers, i/producers), line)
	}
}

func TestMux_PendingRecordFlushedOnClose(t *testing.T) {
	var out bytes.Buffer
	m := New(&out, 1, 1)
	_, _ = m.Stream(0).WriteString("tail")
	require.NoError(t, m.Close())
	assert.Equal(t, "tail", out.String())

	_, err := m.Stream(0).WriteString("late")
	require.ErrorIs(t, err, ErrClosed)
	require.NoError(t, m.Close())
}

func TestMux_ZeroProducers(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, New(&out, 0, 1).Close())
	assert.Zero(t, out.Len())
}

type failingWriter struct{ n int }

func (f *failingWriter) Write(p []byte) (int, error) {
	if f.n <= 0 {
		return 0, errors.New("disk full")
	}
	f.n -= len(p)
	return len(p), nil
}

func TestMux_SinkFailureIsReported(t *testing.T) {
	m := New(&failingWriter{}, 2, 1)
	line := strings.Repeat("A", 1024) + "\n"

	var wg sync.WaitGroup
	stopped := make([]bool, 2)
	for p := 0; p < 2; p++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			s := m.Stream(id)
			defer s.Close()
			for i := 0; i < 10000; i++ {
				if !s.OK() {
					stopped[id] = true
					return
				}
				_, _ = s.WriteString(line)
				s.EndRecord()
			}
		}(p)
	}
	wg.Wait()
	err := m.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.True(t, stopped[0] || stopped[1])
}
