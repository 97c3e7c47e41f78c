//go:build !nogpu

package gpucull

import (
	"encoding/binary"
	"math"

	"github.com/gogpu/batch/cull"
)

// GPU-side layout constants. Must match cull.wgsl.
const (
	// paramsSize is sizeof(Params): 6 plane vec4s, camera vec4,
	// threshold vec4, then four 4-byte scalars.
	paramsSize = 6*16 + 16 + 16 + 16

	// instanceStride is sizeof(Instance): two vec4s.
	instanceStride = 32

	// workgroupSize must match @workgroup_size in the kernel.
	workgroupSize = 64
)

// Kernel flag bits (Params.flags).
const (
	flagFrustum  = 1 << 0
	flagDistance = 1 << 1
)

// packedQuery is the GPU-ready form of one culling query: the uniform
// block plus the instance records, both in the exact byte layout the
// kernel reads.
type packedQuery struct {
	params    []byte
	instances []byte
	count     int
}

// packQuery converts a strategy query into GPU buffer contents.
// Distances are resolved on the CPU (through the distance cache when
// the caller provided them) and packed per instance so both paths test
// identical inputs.
func packQuery(q *cull.Query) *packedQuery {
	p := &packedQuery{count: len(q.Instances)}

	frustum := cull.FrustumFromMatrix(q.ViewProj)

	params := make([]byte, paramsSize)
	off := 0
	for i := range frustum {
		putF32(params, off+0, frustum[i].Normal[0])
		putF32(params, off+4, frustum[i].Normal[1])
		putF32(params, off+8, frustum[i].Normal[2])
		putF32(params, off+12, frustum[i].Distance)
		off += 16
	}
	putF32(params, off+0, q.CameraPos[0])
	putF32(params, off+4, q.CameraPos[1])
	putF32(params, off+8, q.CameraPos[2])
	off += 16

	lodCount := 0
	if g := q.Options.LOD; g != nil {
		lodCount = len(g.Levels)
		if lodCount > cull.MaxLODLevels {
			lodCount = cull.MaxLODLevels
		}
		for i := 0; i < lodCount; i++ {
			putF32(params, off+i*4, g.Levels[i].Distance)
		}
	}
	off += 16

	putF32(params, off, q.Options.MaxDistance)
	var flags uint32
	if q.Options.FrustumCulling {
		flags |= flagFrustum
	}
	if q.Options.DistanceCulling {
		flags |= flagDistance
	}
	putU32(params, off+4, flags)
	putU32(params, off+8, uint32(p.count))
	putU32(params, off+12, uint32(lodCount))
	p.params = params

	inst := make([]byte, p.count*instanceStride)
	for i := range q.Instances {
		in := &q.Instances[i]
		pos := in.Position()
		dist := distanceFor(q, i)
		base := i * instanceStride
		putF32(inst, base+0, pos[0])
		putF32(inst, base+4, pos[1])
		putF32(inst, base+8, pos[2])
		putF32(inst, base+12, in.Radius)
		putF32(inst, base+16, in.MaxDistance)
		putF32(inst, base+20, dist)
	}
	p.instances = inst
	return p
}

func distanceFor(q *cull.Query, i int) float32 {
	if q.Distances != nil {
		return q.Distances[i]
	}
	return q.Instances[i].Position().Sub(q.CameraPos).Len()
}

// mirror evaluates the kernel on the CPU over the packed buffers. It is
// the reference implementation for the shader and the execution path
// when no GPU device is present; the arithmetic mirrors cull.wgsl
// statement for statement.
func (p *packedQuery) mirror(out []cull.Result) {
	var planes [6][4]float32
	for pl := range planes {
		base := pl * 16
		planes[pl] = [4]float32{
			getF32(p.params, base+0),
			getF32(p.params, base+4),
			getF32(p.params, base+8),
			getF32(p.params, base+12),
		}
	}
	scalarBase := 6*16 + 16 + 16
	var thresholds [4]float32
	for i := range thresholds {
		thresholds[i] = getF32(p.params, 6*16+16+i*4)
	}
	maxDistance := getF32(p.params, scalarBase)
	flags := getU32(p.params, scalarBase+4)
	lodCount := getU32(p.params, scalarBase+12)

	for i := 0; i < p.count; i++ {
		base := i * instanceStride
		px := getF32(p.instances, base+0)
		py := getF32(p.instances, base+4)
		pz := getF32(p.instances, base+8)
		radius := getF32(p.instances, base+12)
		override := getF32(p.instances, base+16)
		dist := getF32(p.instances, base+20)

		visible := true

		if flags&flagDistance != 0 {
			limit := maxDistance
			if override > 0 {
				limit = override
			}
			if limit > 0 && dist > limit {
				visible = false
			}
		}

		if visible && flags&flagFrustum != 0 {
			for pl := 0; pl < 6; pl++ {
				bound := -radius
				if pl == 4 {
					bound = 0
				}
				d := planes[pl][0]*px + planes[pl][1]*py + planes[pl][2]*pz + planes[pl][3]
				if d < bound {
					visible = false
					break
				}
			}
		}

		lod := uint32(0)
		for l := uint32(1); l < lodCount && l < 4; l++ {
			if thresholds[l] <= dist {
				lod = l
			}
		}

		r := lod << 1
		if visible {
			r |= 1
		}
		out[i] = cull.Result(r)
	}
}

// decodeResults parses the read-back results buffer.
func decodeResults(raw []byte, out []cull.Result) {
	n := len(raw) / 4
	if n > len(out) {
		n = len(out)
	}
	for i := 0; i < n; i++ {
		out[i] = cull.Result(binary.LittleEndian.Uint32(raw[i*4:]))
	}
}

func putF32(b []byte, off int, v float32) {
	binary.LittleEndian.PutUint32(b[off:], math.Float32bits(v))
}

func putU32(b []byte, off int, v uint32) {
	binary.LittleEndian.PutUint32(b[off:], v)
}

func getF32(b []byte, off int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b[off:]))
}

func getU32(b []byte, off int) uint32 {
	return binary.LittleEndian.Uint32(b[off:])
}
