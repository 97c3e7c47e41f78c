package batch

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// EntityID identifies an entity in the host scene system. It keys the
// distance cache and per-entity LOD state across frames.
type EntityID uint64

// Instance is one renderable produced fresh each frame by the upstream
// scene system. The pipeline owns it transiently and never persists it.
type Instance struct {
	// Entity is the stable identity of the instance across frames.
	Entity EntityID

	// Transform is the world transform (column-major, as produced by mgl32).
	Transform mgl32.Mat4

	// Key selects the batch this instance lands in when visible.
	Key Key

	// Radius is the world-space bounding sphere radius.
	Radius float32

	// MaxDistance overrides the global culling distance for this
	// instance when > 0.
	MaxDistance float32
}

// Position returns the world-space translation of the instance.
func (in *Instance) Position() mgl32.Vec3 {
	return mgl32.Vec3{in.Transform[12], in.Transform[13], in.Transform[14]}
}

// Valid reports whether the instance carries finite data. Malformed
// instances are excluded from the frame rather than aborting it.
func (in *Instance) Valid() bool {
	for _, v := range in.Transform {
		if !finite(v) {
			return false
		}
	}
	return finite(in.Radius) && in.Radius >= 0 && finite(in.MaxDistance)
}

func finite(v float32) bool {
	f := float64(v)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Camera holds the active view for one frame: position, orientation and
// perspective projection parameters.
type Camera struct {
	Position mgl32.Vec3
	Target   mgl32.Vec3
	Up       mgl32.Vec3

	// FOV is the vertical field of view in degrees.
	FOV    float32
	Aspect float32
	Near   float32
	Far    float32
}

// View returns the world-to-camera matrix.
func (c *Camera) View() mgl32.Mat4 {
	up := c.Up
	if up == (mgl32.Vec3{}) {
		up = mgl32.Vec3{0, 1, 0}
	}
	return mgl32.LookAtV(c.Position, c.Target, up)
}

// Proj returns the perspective projection matrix.
func (c *Camera) Proj() mgl32.Mat4 {
	return mgl32.Perspective(mgl32.DegToRad(c.FOV), c.Aspect, c.Near, c.Far)
}

// ViewProj returns the combined projection*view matrix used for frustum
// plane extraction.
func (c *Camera) ViewProj() mgl32.Mat4 {
	return c.Proj().Mul4(c.View())
}
