package cull

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Plane is one frustum plane in the form ax + by + cz + d = 0, oriented
// so the positive half-space is inside the frustum.
type Plane struct {
	Normal   mgl32.Vec3
	Distance float32
}

// SignedDistance returns the signed distance from p to the plane.
// Positive means inside the frustum half-space.
func (pl Plane) SignedDistance(p mgl32.Vec3) float32 {
	return pl.Normal.Dot(p) + pl.Distance
}

// Frustum plane indices.
const (
	PlaneLeft = iota
	PlaneRight
	PlaneBottom
	PlaneTop
	PlaneNear
	PlaneFar
)

// Frustum is the six-plane visible volume defined by the camera's
// combined projection*view matrix.
type Frustum [6]Plane

// FrustumFromMatrix extracts the six frustum planes from a column-major
// projection*view matrix using the Gribb/Hartmann method. All planes
// are normalized.
func FrustumFromMatrix(vp mgl32.Mat4) Frustum {
	// mgl32.Mat4 is column-major: element (row, col) is vp[col*4+row].
	row := func(i int) mgl32.Vec4 {
		return mgl32.Vec4{vp[i], vp[4+i], vp[8+i], vp[12+i]}
	}
	r0, r1, r2, r3 := row(0), row(1), row(2), row(3)

	var f Frustum
	f[PlaneLeft] = planeFromVec4(r3.Add(r0))
	f[PlaneRight] = planeFromVec4(r3.Sub(r0))
	f[PlaneBottom] = planeFromVec4(r3.Add(r1))
	f[PlaneTop] = planeFromVec4(r3.Sub(r1))
	f[PlaneNear] = planeFromVec4(r3.Add(r2))
	f[PlaneFar] = planeFromVec4(r3.Sub(r2))
	return f
}

func planeFromVec4(v mgl32.Vec4) Plane {
	n := mgl32.Vec3{v[0], v[1], v[2]}
	length := float32(math.Sqrt(float64(n.Dot(n))))
	if length == 0 {
		return Plane{Normal: n, Distance: v[3]}
	}
	inv := 1 / length
	return Plane{Normal: n.Mul(inv), Distance: v[3] * inv}
}

// ContainsSphere tests a bounding sphere against the frustum.
//
// The five outer planes use the conservative sphere test
// (signed distance >= -radius). The near plane tests the sphere center:
// an instance centered between the camera and the near plane is not
// visible regardless of radius.
func (f *Frustum) ContainsSphere(center mgl32.Vec3, radius float32) bool {
	for i := range f {
		limit := -radius
		if i == PlaneNear {
			limit = 0
		}
		if f[i].SignedDistance(center) < limit {
			return false
		}
	}
	return true
}
