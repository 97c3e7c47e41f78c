package batch

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

func TestInstancePosition(t *testing.T) {
	in := Instance{Transform: mgl32.Translate3D(3, -4, 5)}
	got := in.Position()
	want := mgl32.Vec3{3, -4, 5}
	if got != want {
		t.Errorf("Position() = %v, want %v", got, want)
	}
}

func TestInstanceValid(t *testing.T) {
	nan := float32(math.NaN())
	inf := float32(math.Inf(1))

	base := Instance{Transform: mgl32.Ident4(), Radius: 1}

	tests := []struct {
		name   string
		mutate func(*Instance)
		want   bool
	}{
		{"identity", func(*Instance) {}, true},
		{"zero radius", func(in *Instance) { in.Radius = 0 }, true},
		{"nan translation", func(in *Instance) { in.Transform[12] = nan }, false},
		{"inf scale", func(in *Instance) { in.Transform[0] = inf }, false},
		{"nan radius", func(in *Instance) { in.Radius = nan }, false},
		{"negative radius", func(in *Instance) { in.Radius = -1 }, false},
		{"inf max distance", func(in *Instance) { in.MaxDistance = inf }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := base
			tt.mutate(&in)
			if got := in.Valid(); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCameraViewProj(t *testing.T) {
	cam := Camera{
		Position: mgl32.Vec3{0, 0, 0},
		Target:   mgl32.Vec3{0, 0, -1},
		FOV:      90,
		Aspect:   1,
		Near:     0.1,
		Far:      100,
	}

	vp := cam.ViewProj()

	// A point straight ahead projects to the screen center.
	p := vp.Mul4x1(mgl32.Vec4{0, 0, -10, 1})
	x, y := p[0]/p[3], p[1]/p[3]
	if mgl32.Abs(x) > 1e-5 || mgl32.Abs(y) > 1e-5 {
		t.Errorf("center projection = (%v, %v), want origin", x, y)
	}

	// A point behind the camera lands outside clip space.
	b := vp.Mul4x1(mgl32.Vec4{0, 0, 10, 1})
	if b[3] > 0 {
		t.Errorf("behind-camera w = %v, want negative", b[3])
	}
}

func TestCameraDefaultUp(t *testing.T) {
	cam := Camera{
		Position: mgl32.Vec3{0, 0, 5},
		Target:   mgl32.Vec3{0, 0, 0},
		FOV:      60, Aspect: 1.5, Near: 0.1, Far: 100,
	}
	withDefault := cam.View()
	cam.Up = mgl32.Vec3{0, 1, 0}
	explicit := cam.View()
	if withDefault != explicit {
		t.Error("zero Up must behave as +Y")
	}
}
