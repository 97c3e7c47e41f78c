package cull

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/gogpu/batch"
)

// testCamera looks down -Z from the origin with a 90 degree FOV.
func testCamera() batch.Camera {
	return batch.Camera{
		Position: mgl32.Vec3{0, 0, 0},
		Target:   mgl32.Vec3{0, 0, -1},
		FOV:      90,
		Aspect:   1,
		Near:     0.1,
		Far:      100,
	}
}

func TestFrustumContainsSphere(t *testing.T) {
	cam := testCamera()
	f := FrustumFromMatrix(cam.ViewProj())

	tests := []struct {
		name   string
		center mgl32.Vec3
		radius float32
		want   bool
	}{
		{"straight ahead", mgl32.Vec3{0, 0, -10}, 1, true},
		{"behind camera", mgl32.Vec3{0, 0, 10}, 1, false},
		{"beyond far plane", mgl32.Vec3{0, 0, -150}, 1, false},
		{"far plane grazing", mgl32.Vec3{0, 0, -100.5}, 1, true},
		{"left of frustum", mgl32.Vec3{-50, 0, -10}, 1, false},
		{"left edge inside by radius", mgl32.Vec3{-10.5, 0, -10}, 1, true},
		{"before near plane", mgl32.Vec3{0, 0, -0.05}, 1, false},
		{"on far side of near plane", mgl32.Vec3{0, 0, -0.2}, 1, true},
		{"huge sphere enclosing camera", mgl32.Vec3{0, 0, -50}, 80, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := f.ContainsSphere(tt.center, tt.radius); got != tt.want {
				t.Errorf("ContainsSphere(%v, %v) = %v, want %v", tt.center, tt.radius, got, tt.want)
			}
		})
	}
}

func TestFrustumPlanesNormalized(t *testing.T) {
	cam := testCamera()
	f := FrustumFromMatrix(cam.ViewProj())
	for i, pl := range f {
		l := pl.Normal.Len()
		if l < 0.999 || l > 1.001 {
			t.Errorf("plane %d normal length = %v, want 1", i, l)
		}
	}
}

func TestFrustumNearPlaneOrientation(t *testing.T) {
	cam := testCamera()
	f := FrustumFromMatrix(cam.ViewProj())

	// A point past the near plane is inside its positive half-space,
	// a point between camera and near plane is not.
	if d := f[PlaneNear].SignedDistance(mgl32.Vec3{0, 0, -1}); d <= 0 {
		t.Errorf("near plane distance at z=-1 is %v, want > 0", d)
	}
	if d := f[PlaneNear].SignedDistance(mgl32.Vec3{0, 0, -0.05}); d >= 0 {
		t.Errorf("near plane distance at z=-0.05 is %v, want < 0", d)
	}
}

func TestPlaneSignedDistance(t *testing.T) {
	pl := Plane{Normal: mgl32.Vec3{0, 1, 0}, Distance: -2} // plane y = 2
	tests := []struct {
		p    mgl32.Vec3
		want float32
	}{
		{mgl32.Vec3{0, 5, 0}, 3},
		{mgl32.Vec3{0, 2, 0}, 0},
		{mgl32.Vec3{7, 0, -3}, -2},
	}
	for _, tt := range tests {
		if got := pl.SignedDistance(tt.p); got != tt.want {
			t.Errorf("SignedDistance(%v) = %v, want %v", tt.p, got, tt.want)
		}
	}
}
