// Package batch converts a large set of world-space renderable instances
// into a small number of GPU draw batches once per frame.
//
// # Overview
//
// batch is the instancing front end for a renderer: it takes
// (transform, mesh, material, bounding radius) tuples from a scene
// system, culls the instances that cannot contribute to the image,
// selects a level of detail per instance, and groups the survivors by
// (mesh, material, flags) into capped draw batches. The host renderer
// consumes the batch list; batch never submits draw calls itself.
//
// # Quick Start
//
//	import (
//	    "github.com/gogpu/batch"
//	    "github.com/gogpu/batch/pipeline"
//	)
//
//	cfg := pipeline.DefaultConfig()
//	cfg.MaxDistance = 500
//	p := pipeline.New(cfg)
//	defer p.Close()
//
//	for frame := uint64(0); running; frame++ {
//	    out, _ := p.Run(frame, camera, instances)
//	    backend.Draw(out.Batches) // host render backend
//	}
//
// # Architecture
//
// The module is organized into:
//   - Public API: Key, Instance, Camera, Batch, Manager
//   - cull: frustum/distance tests, LOD selection, culling strategies
//   - distcache: memoized camera-to-entity distances with frame TTL
//   - bufpool: reusable size-classed transient GPU buffers
//   - pipeline: the per-frame Extract -> Cull/LOD -> Batch -> Handoff driver
//
// # GPU Culling
//
// CPU culling is always available. GPU compute culling is opt-in via
// blank import:
//
//	import _ "github.com/gogpu/batch/gpu" // enables GPU culling
//
// When the GPU path is unavailable or its asynchronous results are not
// ready in time, the pipeline transparently falls back to the CPU path
// for that frame. Both paths produce the same visible set.
//
// # Performance
//
// Per-frame structures are rebuilt from reused capacity; only the
// distance cache and the buffer pool persist across frames. The CPU
// culling path parallelizes over instance ranges.
package batch

// Version information
const (
	// Version is the current version of the library
	Version = "0.1.0-alpha.1"
)
