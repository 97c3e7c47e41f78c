// Package bufpool reuses transient per-frame GPU upload buffers.
//
// A renderer that allocates fresh staging memory every frame grows GPU
// memory without bound and churns the allocator. The pool classifies
// buffers by power-of-two size classes and returns frame-used buffers
// to a freelist instead of freeing them; under a steady-state workload
// the total allocated bytes plateau.
package bufpool

import (
	"errors"
	"fmt"
	"math/bits"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gputypes"
)

// Pool configuration defaults.
const (
	// MinClassSize is the smallest buffer class in bytes. Requests
	// below it are rounded up.
	MinClassSize = 256

	// numClasses covers sizes up to MinClassSize << (numClasses-1)
	// (256 B .. 128 MB).
	numClasses = 20

	// MaxClassSize is the largest pooled buffer size. Requests above
	// it are allocated exactly and live for one frame only.
	MaxClassSize = MinClassSize << (numClasses - 1)

	// DefaultIdleEvictionFrames is how many consecutive frames a
	// pooled buffer may sit unused before it is freed.
	DefaultIdleEvictionFrames = 120
)

// ErrPoolClosed is returned when acquiring from a closed pool.
var ErrPoolClosed = errors.New("bufpool: pool closed")

// Buffer is one transient buffer. It is valid for the frame it was
// acquired in; the underlying allocation is reused across frames.
type Buffer struct {
	// Data is sized to the requested length; its capacity is the class
	// size (or the exact request for an oversize buffer).
	Data []byte

	// Usage records the intended GPU usage flags for the upload.
	Usage gputypes.BufferUsage

	class    int
	reuses   uint32
	idle     uint32
	oversize bool
}

// ClassSize returns the allocation size of the buffer's class, or the
// exact allocation size for an oversize buffer.
func (b *Buffer) ClassSize() int {
	if b.oversize {
		return cap(b.Data)
	}
	return MinClassSize << b.class
}

// Reuses returns how many times this allocation has been handed out.
func (b *Buffer) Reuses() uint32 { return b.reuses }

// Stats is a snapshot of pool counters.
type Stats struct {
	// TotalAllocatedBytes counts every live allocation, pooled or in
	// use this frame.
	TotalAllocatedBytes uint64

	// PeakAllocatedBytes is the high-water mark of TotalAllocatedBytes.
	PeakAllocatedBytes uint64

	// PooledBytes and PooledBuffers describe the freelist.
	PooledBytes   uint64
	PooledBuffers int

	Reuses    uint64
	Misses    uint64
	Evictions uint64
}

// ReuseRatio returns reuses / (reuses + misses), or 0 before any
// acquire.
func (s Stats) ReuseRatio() float64 {
	total := s.Reuses + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Reuses) / float64(total)
}

// String returns a human-readable summary.
func (s Stats) String() string {
	return fmt.Sprintf("Pool[%d KB live, %d KB pooled in %d buffers, %.0f%% reuse, %d evictions]",
		s.TotalAllocatedBytes/1024,
		s.PooledBytes/1024,
		s.PooledBuffers,
		s.ReuseRatio()*100,
		s.Evictions)
}

// Pool is a size-classed freelist of transient buffers.
//
// Pool is long-lived and single-owner: the pipeline acquires during
// handoff and calls ReleaseFrame once per frame. It is guarded so
// diagnostic readers cannot race the frame.
type Pool struct {
	mu   sync.Mutex
	free [numClasses][]*Buffer
	used []*Buffer

	totalBytes uint64
	peakBytes  uint64
	idleFrames uint32
	closed     bool

	reuses    atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// New creates a pool. idleFrames == 0 selects
// DefaultIdleEvictionFrames.
func New(idleFrames uint32) *Pool {
	if idleFrames == 0 {
		idleFrames = DefaultIdleEvictionFrames
	}
	return &Pool{idleFrames: idleFrames}
}

// classFor returns the smallest class whose size fits n bytes.
func classFor(n int) int {
	if n <= MinClassSize {
		return 0
	}
	c := bits.Len(uint(n-1)) - bits.Len(uint(MinClassSize-1))
	if c >= numClasses {
		c = numClasses - 1
	}
	return c
}

// Acquire returns a buffer with at least size bytes, reusing a pooled
// allocation of the same class when one is free. The buffer belongs to
// the current frame; it returns to the pool on ReleaseFrame.
func (p *Pool) Acquire(size int, usage gputypes.BufferUsage) (*Buffer, error) {
	if size <= 0 {
		size = 1
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPoolClosed
	}

	// A request beyond the largest class gets an exact allocation that
	// lives for one frame; pooling it would pin worst-case memory.
	if size > MaxClassSize {
		b := &Buffer{Data: make([]byte, size), class: numClasses - 1, oversize: true}
		p.totalBytes += uint64(size)
		if p.totalBytes > p.peakBytes {
			p.peakBytes = p.totalBytes
		}
		p.misses.Add(1)
		b.Usage = usage
		p.used = append(p.used, b)
		return b, nil
	}

	class := classFor(size)
	var b *Buffer
	if n := len(p.free[class]); n > 0 {
		b = p.free[class][n-1]
		p.free[class] = p.free[class][:n-1]
		b.reuses++
		b.idle = 0
		p.reuses.Add(1)
	} else {
		classSize := MinClassSize << class
		b = &Buffer{Data: make([]byte, classSize), class: class}
		p.totalBytes += uint64(classSize)
		if p.totalBytes > p.peakBytes {
			p.peakBytes = p.totalBytes
		}
		p.misses.Add(1)
	}
	b.Data = b.Data[:cap(b.Data)][:size]
	b.Usage = usage
	p.used = append(p.used, b)
	return b, nil
}

// ReleaseFrame returns every buffer acquired this frame to the
// freelist and evicts pooled buffers that have been idle for the
// configured number of consecutive frames. Call once per frame after
// the handoff consumer is done with the frame's buffers.
func (p *Pool) ReleaseFrame() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}

	// Age pooled buffers and evict the stale ones.
	for class := range p.free {
		kept := p.free[class][:0]
		for _, b := range p.free[class] {
			b.idle++
			if b.idle >= p.idleFrames {
				p.totalBytes -= uint64(b.ClassSize())
				p.evictions.Add(1)
				continue
			}
			kept = append(kept, b)
		}
		p.free[class] = kept
	}

	// Frame-used buffers go back to their freelists. Oversize
	// allocations are dropped instead.
	for _, b := range p.used {
		if b.oversize {
			p.totalBytes -= uint64(cap(b.Data))
			continue
		}
		b.idle = 0
		p.free[b.class] = append(p.free[b.class], b)
	}
	p.used = p.used[:0]
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	var pooledBytes uint64
	pooled := 0
	for class := range p.free {
		pooled += len(p.free[class])
		pooledBytes += uint64(len(p.free[class])) * uint64(MinClassSize<<class)
	}
	s := Stats{
		TotalAllocatedBytes: p.totalBytes,
		PeakAllocatedBytes:  p.peakBytes,
		PooledBytes:         pooledBytes,
		PooledBuffers:       pooled,
		Reuses:              p.reuses.Load(),
		Misses:              p.misses.Load(),
		Evictions:           p.evictions.Load(),
	}
	p.mu.Unlock()
	return s
}

// Close frees every allocation. The shutdown path calls this so pooled
// memory does not outlive the pipeline. Acquire after Close fails with
// ErrPoolClosed.
func (p *Pool) Close() {
	p.mu.Lock()
	for class := range p.free {
		p.free[class] = nil
	}
	p.used = nil
	p.totalBytes = 0
	p.closed = true
	p.mu.Unlock()
}
