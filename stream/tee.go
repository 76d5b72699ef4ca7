package stream

import (
	"sync"
	"time"

	"github.com/felipepmaragno/llm-meter/internal/metrics"
)

// DefaultBufferLimit is the per-branch delivery buffer size. A consumer may
// lag the producer by this many elements before deliveries start waiting on
// it directly.
const DefaultBufferLimit = 4096

// DefaultStallTimeout is how long a branch waits for its consumer to accept
// the next element before treating the consumer as gone. A branch is only
// ever aborted on this timeout, never for falling behind: a consumer that
// keeps accepting elements, at any pace, receives the whole stream.
const DefaultStallTimeout = 30 * time.Second

// Tee splits one stream into two independently consumable streams. Both
// outputs replay the source sequence in order with nothing dropped or
// reordered. Each branch buffers elements its consumer has not pulled yet, so
// a slow or absent consumer on one branch never blocks the other.
func Tee[T any](in <-chan T) (<-chan T, <-chan T) {
	return TeeLimit(in, DefaultBufferLimit)
}

// TeeLimit is Tee with an explicit per-branch buffer size.
func TeeLimit[T any](in <-chan T, limit int) (<-chan T, <-chan T) {
	return TeeLimitStall(in, limit, DefaultStallTimeout)
}

// TeeLimitStall is TeeLimit with an explicit consumer stall timeout. A branch
// whose consumer accepts nothing for the full stall window is treated as
// abandoned: its queue is dropped, a drop counter increments, and its output
// closes early. The sibling branch and the source are unaffected.
func TeeLimitStall[T any](in <-chan T, limit int, stall time.Duration) (<-chan T, <-chan T) {
	if limit <= 0 {
		limit = DefaultBufferLimit
	}
	if stall <= 0 {
		stall = DefaultStallTimeout
	}
	a := newBranch[T](limit, stall)
	b := newBranch[T](limit, stall)

	go func() {
		for v := range in {
			a.push(v)
			b.push(v)
		}
		a.finish()
		b.finish()
	}()

	return a.out, b.out
}

// TeePairLimit tees a (data, error) channel pair. The error branches are
// buffered so a terminal error reaches both consumers even when neither
// drains errors until after the data channels close.
func TeePairLimit[T any](data <-chan T, errs <-chan error, limit int) (d1, d2 <-chan T, e1, e2 <-chan error) {
	d1, d2 = TeeLimit(data, limit)
	e1, e2 = TeeLimit(errs, 1)
	return d1, d2, e1, e2
}

// TeeGenerate forks a Gemini stream, which has no native fork primitive: the
// chunk stream and error channel are teed, and the single companion response
// value is replicated to both forks.
func TeeGenerate(gs GenerateStream, limit int) (GenerateStream, GenerateStream) {
	c1, c2, e1, e2 := TeePairLimit(gs.Chunks, gs.Errs, limit)

	r1 := make(chan GenerateResponse, 1)
	r2 := make(chan GenerateResponse, 1)
	go func() {
		defer close(r1)
		defer close(r2)
		if gs.Response == nil {
			return
		}
		if resp, ok := <-gs.Response; ok {
			r1 <- resp
			r2 <- resp
		}
	}()

	return GenerateStream{Chunks: c1, Errs: e1, Response: r1},
		GenerateStream{Chunks: c2, Errs: e2, Response: r2}
}

// branch is one output of a tee: an unbounded internal queue the distributor
// appends to without blocking, drained by a forwarder goroutine into a
// buffered output channel. The forwarder blocks on the consumer only once
// the buffer is full, and gives up on the consumer only after a full stall
// window without a single delivery.
type branch[T any] struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []T
	stall   time.Duration
	done    bool
	aborted bool
	out     chan T
}

func newBranch[T any](limit int, stall time.Duration) *branch[T] {
	b := &branch[T]{
		stall: stall,
		out:   make(chan T, limit),
	}
	b.cond = sync.NewCond(&b.mu)
	go b.forward()
	return b
}

// push appends to the branch queue without ever blocking the distributor.
func (b *branch[T]) push(v T) {
	b.mu.Lock()
	if !b.aborted {
		b.queue = append(b.queue, v)
		b.cond.Signal()
	}
	b.mu.Unlock()
}

func (b *branch[T]) finish() {
	b.mu.Lock()
	b.done = true
	b.cond.Signal()
	b.mu.Unlock()
}

func (b *branch[T]) forward() {
	timer := time.NewTimer(b.stall)
	timer.Stop()
	defer timer.Stop()

	for {
		b.mu.Lock()
		for len(b.queue) == 0 && !b.done {
			b.cond.Wait()
		}
		if len(b.queue) == 0 {
			b.mu.Unlock()
			close(b.out)
			return
		}
		v := b.queue[0]
		b.queue = b.queue[1:]
		b.mu.Unlock()

		select {
		case b.out <- v:
			continue
		default:
		}

		// Buffer full: wait on the consumer, bounded by the stall window.
		timer.Reset(b.stall)
		select {
		case b.out <- v:
			timer.Stop()
		case <-timer.C:
			b.abort()
			return
		}
	}
}

// abort drops the branch's remaining queue and closes its output early.
// Elements already delivered into the buffer stay readable.
func (b *branch[T]) abort() {
	b.mu.Lock()
	b.aborted = true
	b.queue = nil
	b.mu.Unlock()

	metrics.TeeOverflowDrops.Inc()
	close(b.out)
}
