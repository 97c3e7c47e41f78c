package cull

import (
	"time"

	"github.com/gogpu/batch"
)

// Level is one level of detail: the distance at which it becomes
// active, and the mesh/material substituted for the instance's own.
type Level struct {
	// Distance is the threshold at which this level starts. Level 0
	// normally uses 0. Levels must be listed in ascending Distance
	// order.
	Distance float32

	Mesh     batch.MeshID
	Material batch.MaterialID
}

// Group defines the LOD ladder for a family of instances plus the
// hysteresis margin and cross-fade duration applied on transitions.
type Group struct {
	// Levels in ascending threshold order, finest first. At most
	// MaxLODLevels entries participate in the result encoding.
	Levels []Level

	// Hysteresis is the margin around each threshold. Once at level L,
	// the instance does not refine until distance < threshold(L) -
	// Hysteresis and does not coarsen until distance > threshold(L+1) +
	// Hysteresis.
	Hysteresis float32

	// CrossFade is the blend duration between the old and new
	// representation. Zero switches instantly.
	CrossFade time.Duration
}

// Base returns the coarsest level whose threshold <= distance, or the
// finest level when no threshold qualifies. No hysteresis is applied.
func (g *Group) Base(distance float32) int {
	level := 0
	for i := 1; i < len(g.Levels) && i < MaxLODLevels; i++ {
		if g.Levels[i].Distance <= distance {
			level = i
		}
	}
	return level
}

// Select returns the level for distance given the previous level,
// applying hysteresis so an instance hovering at a threshold changes
// level at most once per margin crossing. A previous level outside the
// group selects the base level directly.
func (g *Group) Select(distance float32, prev int) int {
	raw := g.Base(distance)
	if prev < 0 || prev >= len(g.Levels) || raw == prev {
		return raw
	}
	if raw > prev+1 || raw < prev-1 {
		// Far outside the hysteresis band of any adjacent boundary.
		return raw
	}
	if raw == prev+1 {
		if distance > g.Levels[prev+1].Distance+g.Hysteresis {
			return prev + 1
		}
		return prev
	}
	// raw == prev-1
	if distance < g.Levels[prev].Distance-g.Hysteresis {
		return prev - 1
	}
	return prev
}

// State is the mutable per-instance LOD state owned by the pipeline.
type State struct {
	Level     int
	fadeFrom  int
	fadeStart time.Time
	fading    bool
}

// Advance moves the state toward the level selected for distance and
// returns the current level. A level change with CrossFade > 0 starts a
// blend from the previous representation.
func (g *Group) Advance(st *State, distance float32, now time.Time) int {
	next := g.Select(distance, st.Level)
	if next != st.Level {
		if g.CrossFade > 0 {
			st.fadeFrom = st.Level
			st.fadeStart = now
			st.fading = true
		}
		st.Level = next
	}
	if st.fading && now.Sub(st.fadeStart) >= g.CrossFade {
		st.fading = false
	}
	return st.Level
}

// Blend returns the cross-fade progress in [0, 1] toward the current
// level and the level being faded from. Progress 1 means the fade has
// completed (or none is active).
func (st *State) Blend(g *Group, now time.Time) (from int, progress float32) {
	if !st.fading || g.CrossFade <= 0 {
		return st.Level, 1
	}
	elapsed := now.Sub(st.fadeStart)
	if elapsed >= g.CrossFade {
		return st.fadeFrom, 1
	}
	return st.fadeFrom, float32(elapsed) / float32(g.CrossFade)
}

// LevelKey returns the batch key for inst at the given level: the
// level's mesh/material replace the instance's own, flags are kept.
func LevelKey(g *Group, inst *batch.Instance, level int) batch.Key {
	if g == nil || level <= 0 || level >= len(g.Levels) {
		return inst.Key
	}
	lv := g.Levels[level]
	key := inst.Key
	if lv.Mesh != 0 {
		key.Mesh = lv.Mesh
	}
	if lv.Material != 0 {
		key.Material = lv.Material
	}
	return key
}
