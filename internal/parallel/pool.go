// Package parallel provides a persistent worker pool for data-parallel
// per-frame work over instance index ranges.
package parallel

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// MinGrain is the smallest range a worker receives. Splitting below
// this costs more in scheduling than the work saves.
const MinGrain = 256

// rangeTask is one contiguous slice of the iteration space.
type rangeTask struct {
	fn     func(lo, hi int)
	lo, hi int
	wg     *sync.WaitGroup
}

// Pool is a fixed set of goroutines executing range tasks. Creating
// goroutines per frame churns the scheduler; the pool keeps workers
// alive across frames.
//
// Pool is safe for concurrent use.
type Pool struct {
	workers int
	tasks   chan rangeTask
	done    chan struct{}
	wg      sync.WaitGroup
	running atomic.Bool
}

// NewPool creates a pool with the given number of workers.
// If workers is 0 or negative, GOMAXPROCS is used.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	p := &Pool{
		workers: workers,
		tasks:   make(chan rangeTask, workers*4),
		done:    make(chan struct{}),
	}
	p.running.Store(true)

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			// Drain remaining work before exiting so no ForRange call
			// is left waiting.
			for {
				select {
				case t := <-p.tasks:
					t.fn(t.lo, t.hi)
					t.wg.Done()
				default:
					return
				}
			}
		case t := <-p.tasks:
			t.fn(t.lo, t.hi)
			t.wg.Done()
		}
	}
}

// Workers returns the number of worker goroutines.
func (p *Pool) Workers() int { return p.workers }

// ForRange runs fn over [0, n) split into contiguous chunks across the
// workers and blocks until every chunk has completed. Chunks never
// overlap, so fn may write to disjoint slice ranges without locking.
//
// Small ranges and closed pools run inline on the caller.
func (p *Pool) ForRange(n int, fn func(lo, hi int)) {
	if n <= 0 {
		return
	}
	if n <= MinGrain || p.workers == 1 || !p.running.Load() {
		fn(0, n)
		return
	}

	chunk := (n + p.workers - 1) / p.workers
	if chunk < MinGrain {
		chunk = MinGrain
	}

	var wg sync.WaitGroup
	for lo := 0; lo < n; lo += chunk {
		hi := lo + chunk
		if hi > n {
			hi = n
		}
		wg.Add(1)
		select {
		case p.tasks <- rangeTask{fn: fn, lo: lo, hi: hi, wg: &wg}:
		case <-p.done:
			// Pool shut down mid-submit; finish inline.
			fn(lo, hi)
			wg.Done()
		}
	}
	wg.Wait()
}

// Close stops the workers. Tasks already submitted complete; ForRange
// calls after Close run inline.
func (p *Pool) Close() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.done)
	p.wg.Wait()
}
