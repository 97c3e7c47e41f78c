package parallel

import (
	"runtime"
	"sync/atomic"
	"testing"
)

func TestNewPoolWorkerCount(t *testing.T) {
	tests := []struct {
		name    string
		workers int
		want    int
	}{
		{"explicit", 3, 3},
		{"zero defaults to GOMAXPROCS", 0, runtime.GOMAXPROCS(0)},
		{"negative defaults to GOMAXPROCS", -1, runtime.GOMAXPROCS(0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPool(tt.workers)
			defer p.Close()
			if p.Workers() != tt.want {
				t.Errorf("Workers() = %d, want %d", p.Workers(), tt.want)
			}
		})
	}
}

func TestForRangeCoversEveryIndex(t *testing.T) {
	p := NewPool(4)
	defer p.Close()

	for _, n := range []int{0, 1, MinGrain, MinGrain + 1, 10 * MinGrain, 10*MinGrain + 7} {
		hits := make([]int32, n)
		p.ForRange(n, func(lo, hi int) {
			for i := lo; i < hi; i++ {
				atomic.AddInt32(&hits[i], 1)
			}
		})
		for i, h := range hits {
			if h != 1 {
				t.Fatalf("n=%d: index %d visited %d times, want 1", n, i, h)
			}
		}
	}
}

func TestForRangeDisjointWrites(t *testing.T) {
	// Chunks never overlap, so unsynchronized writes to out are safe.
	p := NewPool(8)
	defer p.Close()

	n := 50 * MinGrain
	out := make([]int, n)
	p.ForRange(n, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			out[i] = i * 2
		}
	})
	for i, v := range out {
		if v != i*2 {
			t.Fatalf("out[%d] = %d, want %d", i, v, i*2)
		}
	}
}

func TestForRangeAfterClose(t *testing.T) {
	p := NewPool(4)
	p.Close()
	p.Close() // second Close is a no-op

	var calls atomic.Int32
	p.ForRange(5*MinGrain, func(lo, hi int) {
		calls.Add(int32(hi - lo))
	})
	if calls.Load() != int32(5*MinGrain) {
		t.Errorf("inline fallback covered %d indices, want %d", calls.Load(), 5*MinGrain)
	}
}

func TestForRangeSmallRunsInline(t *testing.T) {
	p := NewPool(4)
	defer p.Close()

	var ranges atomic.Int32
	p.ForRange(MinGrain, func(lo, hi int) {
		ranges.Add(1)
	})
	if ranges.Load() != 1 {
		t.Errorf("small range split into %d chunks, want 1", ranges.Load())
	}
}

func BenchmarkForRange(b *testing.B) {
	p := NewPool(0)
	defer p.Close()
	data := make([]float32, 100_000)

	b.ReportAllocs()
	for b.Loop() {
		p.ForRange(len(data), func(lo, hi int) {
			for i := lo; i < hi; i++ {
				data[i] = float32(i) * 0.5
			}
		})
	}
}
