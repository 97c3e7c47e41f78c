package batch

import (
	"fmt"
	"hash/fnv"
)

// MeshID identifies a mesh asset in the host renderer.
type MeshID uint32

// MaterialID identifies a material (pipeline state + bindings) in the
// host renderer.
type MaterialID uint32

// KeyFlags are render-state bits that participate in batch grouping.
// Instances whose flags differ cannot share a pipeline state, so they
// never share a batch.
type KeyFlags uint8

const (
	// FlagAlphaBlend marks instances that require alpha blending.
	FlagAlphaBlend KeyFlags = 1 << iota

	// FlagCastShadow marks instances that render into the shadow pass.
	FlagCastShadow
)

// Key is the batch grouping key. Instances sharing a Key must be
// drawable in a single pipeline state with one instanced draw call.
//
// Key is a comparable value type and can be used directly as a map key.
type Key struct {
	Mesh     MeshID
	Material MaterialID
	Flags    KeyFlags
}

// Hash computes an FNV-1a hash of the key for sharded or hashed
// containers. Equal keys always produce equal hashes.
func (k Key) Hash() uint64 {
	h := fnv.New64a()
	var buf [9]byte
	buf[0] = byte(k.Mesh)
	buf[1] = byte(k.Mesh >> 8)
	buf[2] = byte(k.Mesh >> 16)
	buf[3] = byte(k.Mesh >> 24)
	buf[4] = byte(k.Material)
	buf[5] = byte(k.Material >> 8)
	buf[6] = byte(k.Material >> 16)
	buf[7] = byte(k.Material >> 24)
	buf[8] = byte(k.Flags)
	_, _ = h.Write(buf[:]) // fnv.Write never returns an error
	return h.Sum64()
}

// Less reports whether k orders before other. Keys order by mesh, then
// material, then flags; Manager uses this to emit batches in a stable
// cross-frame order.
func (k Key) Less(other Key) bool {
	if k.Mesh != other.Mesh {
		return k.Mesh < other.Mesh
	}
	if k.Material != other.Material {
		return k.Material < other.Material
	}
	return k.Flags < other.Flags
}

// String returns a human-readable form, e.g. "mesh=3/mat=7/flags=0x1".
func (k Key) String() string {
	return fmt.Sprintf("mesh=%d/mat=%d/flags=0x%x", k.Mesh, k.Material, k.Flags)
}
