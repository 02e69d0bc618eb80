// internal/barrier/barrier.go
package barrier

import "sync"

// Barrier is a reusable rendezvous point for a fixed number of goroutines.
// Wait blocks until all n parties have called it, then releases them together
// and resets for the next round.
type Barrier struct {
	mu    sync.Mutex
	cond  *sync.Cond
	n     int
	count int
	round uint64
}

func New(n int) *Barrier {
	if n < 1 {
		n = 1
	}
	b := &Barrier{n: n}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Wait returns true in exactly one party per round (the last to arrive).
func (b *Barrier) Wait() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	round := b.round
	b.count++
	if b.count == b.n {
		b.count = 0
		b.round++
		b.cond.Broadcast()
		return true
	}
	for round == b.round {
		b.cond.Wait()
	}
	return false
}

// Parties is the number of goroutines the barrier waits for.
func (b *Barrier) Parties() int { return b.n }
