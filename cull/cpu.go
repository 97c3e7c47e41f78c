package cull

import (
	"github.com/gogpu/batch/internal/parallel"
)

// CPU is the software culling strategy. Per-instance work is
// independent, so the tests run in parallel over contiguous instance
// ranges; each range writes to its own slice of the output.
type CPU struct {
	pool *parallel.Pool
}

var _ Strategy = (*CPU)(nil)

// NewCPU creates a CPU culling strategy with the given worker count.
// workers <= 0 uses GOMAXPROCS.
func NewCPU(workers int) *CPU {
	return &CPU{pool: parallel.NewPool(workers)}
}

// Name returns "cpu".
func (c *CPU) Name() string { return "cpu" }

// Init implements Strategy. The CPU path is always available.
func (c *CPU) Init() error { return nil }

// Close stops the worker pool.
func (c *CPU) Close() {
	c.pool.Close()
}

// Cull evaluates every enabled test per instance and writes the packed
// results into out.
func (c *CPU) Cull(q *Query, out []Result) error {
	if len(out) < len(q.Instances) {
		return errShortOutput
	}

	var frustum Frustum
	if q.Options.FrustumCulling {
		frustum = FrustumFromMatrix(q.ViewProj)
	}

	c.pool.ForRange(len(q.Instances), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			out[i] = cullOne(q, &frustum, i)
		}
	})
	return nil
}

// cullOne runs the distance and frustum tests for instance i.
func cullOne(q *Query, frustum *Frustum, i int) Result {
	inst := &q.Instances[i]
	dist := q.distance(i)

	visible := true
	if q.Options.DistanceCulling {
		limit := q.Options.MaxDistance
		if inst.MaxDistance > 0 {
			limit = inst.MaxDistance
		}
		if limit > 0 && dist > limit {
			visible = false
		}
	}
	if visible && q.Options.FrustumCulling {
		visible = frustum.ContainsSphere(inst.Position(), inst.Radius)
	}

	lod := 0
	if q.Options.LOD != nil {
		lod = q.Options.LOD.Base(dist)
	}
	return MakeResult(visible, lod)
}
