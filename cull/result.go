// Package cull decides, per frame, which instances can contribute to
// the final image and at which level of detail.
//
// Two interchangeable strategies produce the same visible set: a CPU
// path ([CPU]) and a GPU compute path (internal/gpucull, registered by
// importing github.com/gogpu/batch/gpu). Strategies write one [Result]
// per instance; the pipeline resolves LOD hysteresis and effective
// batch keys afterwards.
package cull

// Result is the per-instance culling outcome. The encoding is shared
// by the CPU path and the GPU compute kernel:
//
//	bit 0    visible
//	bits 1-2 level of detail (0 = finest)
type Result uint32

const (
	resultVisibleBit = 1 << 0
	resultLODShift   = 1
	resultLODMask    = 0b11
)

// MaxLODLevels is the number of levels the 2-bit result encoding can
// express.
const MaxLODLevels = 4

// MakeResult packs a visibility flag and a LOD level. Levels outside
// [0, MaxLODLevels) are clamped.
func MakeResult(visible bool, lod int) Result {
	if lod < 0 {
		lod = 0
	}
	if lod > resultLODMask {
		lod = resultLODMask
	}
	r := Result(lod) << resultLODShift
	if visible {
		r |= resultVisibleBit
	}
	return r
}

// Visible reports whether the instance passed every enabled test.
func (r Result) Visible() bool { return r&resultVisibleBit != 0 }

// LOD returns the raw (hysteresis-free) level of detail.
func (r Result) LOD() int { return int(r>>resultLODShift) & resultLODMask }
