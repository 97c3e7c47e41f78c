//go:build !nogpu

package gpucull

import (
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/gogpu/batch"
	"github.com/gogpu/batch/cull"
)

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

// testScene builds a deterministic pseudo-random instance field that
// straddles every test boundary: inside, outside each frustum plane,
// past the distance limit, and across the LOD thresholds.
func testScene(n int) []batch.Instance {
	instances := make([]batch.Instance, n)
	seed := uint32(0x9E3779B9)
	next := func() float32 {
		seed = seed*1664525 + 1013904223
		return float32(seed>>8) / float32(1<<24) // [0, 1)
	}
	for i := range instances {
		instances[i] = batch.Instance{
			Entity:    batch.EntityID(i),
			Transform: mgl32.Translate3D(next()*400-200, next()*100-50, next()*240-220),
			Radius:    0.5 + next()*4,
		}
		if i%7 == 0 {
			instances[i].MaxDistance = 20 + next()*60
		}
	}
	return instances
}

func testQuery(instances []batch.Instance) *cull.Query {
	cam := testCamera()
	return &cull.Query{
		Frame:     1,
		CameraPos: cam.Position,
		ViewProj:  cam.ViewProj(),
		Instances: instances,
		Options: cull.Options{
			FrustumCulling:  true,
			DistanceCulling: true,
			MaxDistance:     120,
			LOD: &cull.Group{
				Levels: []cull.Level{{Distance: 0}, {Distance: 40, Mesh: 900}, {Distance: 90, Mesh: 901}},
			},
		},
	}
}

func TestMirrorMatchesCPUStrategy(t *testing.T) {
	instances := testScene(2048)
	q := testQuery(instances)

	cpu := cull.NewCPU(1)
	defer cpu.Close()
	want := make([]cull.Result, len(instances))
	if err := cpu.Cull(q, want); err != nil {
		t.Fatalf("CPU Cull() = %v", err)
	}

	got := make([]cull.Result, len(instances))
	packQuery(q).mirror(got)

	mismatches := 0
	for i := range want {
		if got[i] != want[i] {
			mismatches++
			if mismatches <= 5 {
				t.Errorf("instance %d: kernel %v (vis=%v lod=%d), cpu %v (vis=%v lod=%d)",
					i, got[i], got[i].Visible(), got[i].LOD(),
					want[i], want[i].Visible(), want[i].LOD())
			}
		}
	}
	if mismatches > 0 {
		t.Fatalf("%d/%d results differ between kernel mirror and CPU strategy", mismatches, len(want))
	}
}

func TestMirrorUsesResolvedDistances(t *testing.T) {
	// Cached distances feed both paths, so staleness cannot split them.
	instances := testScene(256)
	q := testQuery(instances)
	q.Distances = make([]float32, len(instances))
	for i := range q.Distances {
		q.Distances[i] = float32(i) // deliberately wrong for most
	}

	cpu := cull.NewCPU(1)
	defer cpu.Close()
	want := make([]cull.Result, len(instances))
	if err := cpu.Cull(q, want); err != nil {
		t.Fatalf("CPU Cull() = %v", err)
	}

	got := make([]cull.Result, len(instances))
	packQuery(q).mirror(got)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("instance %d: kernel %v, cpu %v", i, got[i], want[i])
		}
	}
}

func TestMirrorGoldenScene(t *testing.T) {
	instances := []batch.Instance{
		{Entity: 1, Transform: mgl32.Translate3D(0, 0, -10), Radius: 1},
		{Entity: 2, Transform: mgl32.Translate3D(200, 0, 0), Radius: 1},
		{Entity: 3, Transform: mgl32.Translate3D(0, 0, -0.05), Radius: 1},
	}
	cam := testCamera()
	q := &cull.Query{
		CameraPos: cam.Position,
		ViewProj:  cam.ViewProj(),
		Instances: instances,
		Options: cull.Options{
			FrustumCulling:  true,
			DistanceCulling: true,
			MaxDistance:     100,
		},
	}

	out := make([]cull.Result, 3)
	packQuery(q).mirror(out)

	want := []bool{true, false, false}
	for i, w := range want {
		if out[i].Visible() != w {
			t.Errorf("instance %d visible = %v, want %v", i, out[i].Visible(), w)
		}
	}
}

func TestPackQueryLayout(t *testing.T) {
	instances := testScene(3)
	q := testQuery(instances)
	p := packQuery(q)

	if len(p.params) != paramsSize {
		t.Errorf("params size = %d, want %d", len(p.params), paramsSize)
	}
	if len(p.instances) != 3*instanceStride {
		t.Errorf("instance buffer size = %d, want %d", len(p.instances), 3*instanceStride)
	}
	if p.count != 3 {
		t.Errorf("count = %d, want 3", p.count)
	}

	// Per-instance position round-trips through the packed layout.
	for i := range instances {
		base := i * instanceStride
		pos := instances[i].Position()
		for c := 0; c < 3; c++ {
			if got := getF32(p.instances, base+c*4); got != pos[c] {
				t.Errorf("instance %d coord %d = %v, want %v", i, c, got, pos[c])
			}
		}
		if got := getF32(p.instances, base+12); got != instances[i].Radius {
			t.Errorf("instance %d radius = %v, want %v", i, got, instances[i].Radius)
		}
	}
}

func TestDecodeResults(t *testing.T) {
	raw := make([]byte, 12)
	putU32(raw, 0, 0b001) // visible, lod 0
	putU32(raw, 4, 0b101) // visible, lod 2
	putU32(raw, 8, 0b110) // culled, lod 3

	out := make([]cull.Result, 3)
	decodeResults(raw, out)

	if !out[0].Visible() || out[0].LOD() != 0 {
		t.Errorf("result 0 = vis %v lod %d, want true 0", out[0].Visible(), out[0].LOD())
	}
	if !out[1].Visible() || out[1].LOD() != 2 {
		t.Errorf("result 1 = vis %v lod %d, want true 2", out[1].Visible(), out[1].LOD())
	}
	if out[2].Visible() || out[2].LOD() != 3 {
		t.Errorf("result 2 = vis %v lod %d, want false 3", out[2].Visible(), out[2].LOD())
	}
}

func TestCullerSyncWithoutDevice(t *testing.T) {
	// No GPU in the test environment: Init must succeed and the culler
	// must serve results through the kernel mirror.
	c := New()
	if err := c.Init(); err != nil {
		t.Fatalf("Init() = %v", err)
	}
	defer c.Close()

	instances := testScene(512)
	q := testQuery(instances)

	want := make([]cull.Result, len(instances))
	packQuery(q).mirror(want)

	got := make([]cull.Result, len(instances))
	if err := c.Cull(q, got); err != nil {
		t.Fatalf("Cull() = %v", err)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("result %d = %v, want %v", i, got[i], want[i])
		}
	}
	if !c.GPUReady() && c.GPUTime() != 0 {
		t.Errorf("GPUTime() = %v, want 0 on the mirror path", c.GPUTime())
	}
}

func TestCullerSubmitTryTake(t *testing.T) {
	c := New()
	if err := c.Init(); err != nil {
		t.Fatalf("Init() = %v", err)
	}
	defer c.Close()

	instances := testScene(256)
	q := testQuery(instances)

	h, err := c.Submit(q)
	if err != nil {
		t.Fatalf("Submit() = %v", err)
	}

	out := make([]cull.Result, len(instances))
	ready := false
	for i := 0; i < 1000 && !ready; i++ {
		ready, err = c.TryTake(h, out)
		if err != nil {
			t.Fatalf("TryTake() = %v", err)
		}
		if !ready {
			time.Sleep(time.Millisecond)
		}
	}
	if !ready {
		t.Fatal("results never became ready")
	}

	want := make([]cull.Result, len(instances))
	packQuery(q).mirror(want)
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("result %d = %v, want %v", i, out[i], want[i])
		}
	}

	// The handle is consumed by the successful take.
	if _, err := c.TryTake(h, out); err == nil {
		t.Error("TryTake on a consumed handle must fail")
	}
}

func TestCullerUnknownHandle(t *testing.T) {
	c := New()
	if err := c.Init(); err != nil {
		t.Fatalf("Init() = %v", err)
	}
	defer c.Close()

	if _, err := c.TryTake(cull.Handle(12345), nil); err == nil {
		t.Error("TryTake with an unknown handle must fail")
	}
}

func BenchmarkMirror(b *testing.B) {
	instances := testScene(100_000)
	q := testQuery(instances)
	out := make([]cull.Result, len(instances))

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		packQuery(q).mirror(out)
	}
}
