package cull

import (
	"testing"
	"time"

	"github.com/gogpu/batch"
)

func testGroup() *Group {
	return &Group{
		Levels: []Level{
			{Distance: 0},
			{Distance: 10, Mesh: 101},
			{Distance: 20, Mesh: 102, Material: 201},
		},
		Hysteresis: 1,
	}
}

func TestGroupBase(t *testing.T) {
	g := testGroup()
	tests := []struct {
		distance float32
		want     int
	}{
		{0, 0},
		{9.99, 0},
		{10, 1},
		{19.99, 1},
		{20, 2},
		{500, 2},
	}
	for _, tt := range tests {
		if got := g.Base(tt.distance); got != tt.want {
			t.Errorf("Base(%v) = %d, want %d", tt.distance, got, tt.want)
		}
	}
}

func TestGroupSelectHysteresis(t *testing.T) {
	g := testGroup()

	tests := []struct {
		name     string
		distance float32
		prev     int
		want     int
	}{
		{"inside band stays fine", 10.5, 0, 0},
		{"past band coarsens", 11.5, 0, 1},
		{"inside band stays coarse", 9.5, 1, 1},
		{"below band refines", 8.9, 1, 0},
		{"jump skips band", 50, 0, 2},
		{"jump back skips band", 1, 2, 0},
		{"unknown prev selects base", 15, -1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := g.Select(tt.distance, tt.prev); got != tt.want {
				t.Errorf("Select(%v, %d) = %d, want %d", tt.distance, tt.prev, got, tt.want)
			}
		})
	}
}

func TestGroupSelectOscillation(t *testing.T) {
	// An instance hovering at a threshold must change level at most
	// once per margin crossing, not once per frame.
	g := testGroup()

	level := 0
	switches := 0
	dist := []float32{9.9, 10.1, 9.9, 10.1, 9.9, 10.1, 9.9, 10.1}
	for _, d := range dist {
		next := g.Select(d, level)
		if next != level {
			switches++
			level = next
		}
	}
	if switches != 0 {
		t.Errorf("oscillation inside the hysteresis band switched %d times, want 0", switches)
	}

	// Crossing well past the band switches exactly once, then the same
	// oscillation stays put at the new level.
	level = g.Select(12, level)
	if level != 1 {
		t.Fatalf("level after crossing = %d, want 1", level)
	}
	for _, d := range dist {
		if next := g.Select(d, level); next != level {
			t.Fatalf("Select(%v, %d) = %d after crossing, want no switch", d, level, next)
		}
	}
}

func TestGroupAdvanceCrossFade(t *testing.T) {
	g := testGroup()
	g.CrossFade = 100 * time.Millisecond

	var st State
	t0 := time.Now()

	if lvl := g.Advance(&st, 5, t0); lvl != 0 {
		t.Fatalf("Advance at 5 = %d, want 0", lvl)
	}
	from, progress := st.Blend(g, t0)
	if from != 0 || progress != 1 {
		t.Errorf("no transition: Blend = (%d, %v), want (0, 1)", from, progress)
	}

	// Level change starts a fade from the old level.
	if lvl := g.Advance(&st, 15, t0); lvl != 1 {
		t.Fatalf("Advance at 15 = %d, want 1", lvl)
	}
	from, progress = st.Blend(g, t0.Add(50*time.Millisecond))
	if from != 0 {
		t.Errorf("fading from = %d, want 0", from)
	}
	if progress < 0.45 || progress > 0.55 {
		t.Errorf("mid-fade progress = %v, want ~0.5", progress)
	}

	// Past the fade duration the blend reports complete.
	_, progress = st.Blend(g, t0.Add(200*time.Millisecond))
	if progress != 1 {
		t.Errorf("post-fade progress = %v, want 1", progress)
	}
}

func TestLevelKey(t *testing.T) {
	g := testGroup()
	inst := &batch.Instance{
		Key: batch.Key{Mesh: 1, Material: 2, Flags: batch.FlagCastShadow},
	}

	tests := []struct {
		name  string
		level int
		want  batch.Key
	}{
		{"level 0 keeps key", 0, batch.Key{Mesh: 1, Material: 2, Flags: batch.FlagCastShadow}},
		{"level 1 swaps mesh", 1, batch.Key{Mesh: 101, Material: 2, Flags: batch.FlagCastShadow}},
		{"level 2 swaps both", 2, batch.Key{Mesh: 102, Material: 201, Flags: batch.FlagCastShadow}},
		{"out of range keeps key", 7, batch.Key{Mesh: 1, Material: 2, Flags: batch.FlagCastShadow}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := LevelKey(g, inst, tt.level); got != tt.want {
				t.Errorf("LevelKey(level=%d) = %v, want %v", tt.level, got, tt.want)
			}
		})
	}

	if got := LevelKey(nil, inst, 2); got != inst.Key {
		t.Errorf("nil group must keep the instance key, got %v", got)
	}
}

func TestMakeResult(t *testing.T) {
	tests := []struct {
		name    string
		visible bool
		lod     int
		wantVis bool
		wantLOD int
	}{
		{"visible lod0", true, 0, true, 0},
		{"culled lod2", false, 2, false, 2},
		{"lod clamped high", true, 9, true, 3},
		{"lod clamped low", true, -1, true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := MakeResult(tt.visible, tt.lod)
			if r.Visible() != tt.wantVis || r.LOD() != tt.wantLOD {
				t.Errorf("MakeResult(%v, %d) = visible %v lod %d, want %v %d",
					tt.visible, tt.lod, r.Visible(), r.LOD(), tt.wantVis, tt.wantLOD)
			}
		})
	}
}
