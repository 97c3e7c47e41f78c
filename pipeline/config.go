package pipeline

import (
	"time"

	"github.com/gogpu/batch"
	"github.com/gogpu/batch/bufpool"
	"github.com/gogpu/batch/cull"
	"github.com/gogpu/batch/distcache"
)

// Config carries the per-pipeline settings. Zero values select the
// documented defaults; use DefaultConfig as a starting point.
type Config struct {
	// FrustumCulling enables the sphere-vs-frustum visibility test.
	FrustumCulling bool

	// DistanceCulling enables the camera-distance test.
	DistanceCulling bool

	// MaxDistance is the global culling distance when DistanceCulling is
	// on. Per-instance MaxDistance overrides take precedence.
	MaxDistance float32

	// MaxInstancesPerBatch caps batch size. <= 0 selects
	// batch.DefaultMaxInstancesPerBatch.
	MaxInstancesPerBatch int

	// OverflowPolicy controls what happens past the cap.
	OverflowPolicy batch.OverflowPolicy

	// DistanceCacheCapacity bounds the distance cache entry count.
	// <= 0 selects distcache.DefaultCapacity.
	DistanceCacheCapacity int

	// DistanceCacheTTLFrames is how many frames a cached distance stays
	// fresh. 0 selects distcache.DefaultTTLFrames.
	DistanceCacheTTLFrames uint64

	// BufferIdleEvictionFrames is how many frames a pooled upload buffer
	// may sit unused before it is freed. 0 selects
	// bufpool.DefaultIdleEvictionFrames.
	BufferIdleEvictionFrames uint32

	// CPUBudget is the per-frame CPU time budget. Exceeding it is
	// reported in stats and logged, never an error. 0 disables the check.
	CPUBudget time.Duration

	// Workers is the number of goroutines for the data-parallel stages.
	// <= 0 selects GOMAXPROCS.
	Workers int

	// LOD is the level-of-detail ladder applied to every instance.
	// Nil keeps everything at level 0.
	LOD *cull.Group
}

// DefaultConfig returns a Config with both culling tests enabled and
// the package defaults everywhere else.
func DefaultConfig() Config {
	return Config{
		FrustumCulling:  true,
		DistanceCulling: true,
		MaxDistance:     0, // per-instance overrides only
	}
}

// Option configures a Pipeline beyond its Config.
type Option func(*Pipeline)

// WithWorkers sets the number of worker goroutines.
// If n <= 0, GOMAXPROCS is used.
func WithWorkers(n int) Option {
	return func(p *Pipeline) {
		p.cfg.Workers = n
	}
}

// WithCPUBudget sets the per-frame CPU time budget.
func WithCPUBudget(d time.Duration) Option {
	return func(p *Pipeline) {
		p.cfg.CPUBudget = d
	}
}

// WithLOD sets the level-of-detail group.
func WithLOD(g *cull.Group) Option {
	return func(p *Pipeline) {
		p.cfg.LOD = g
	}
}

// WithStrategy pins the culling strategy, bypassing the registry.
// Useful for tests and for hosts that manage strategies themselves.
func WithStrategy(s cull.Strategy) Option {
	return func(p *Pipeline) {
		p.strategy = s
	}
}

// WithDistanceCache sets a custom distance cache.
// If nil, one is created from the Config.
func WithDistanceCache(c *distcache.Cache) Option {
	return func(p *Pipeline) {
		p.cache = c
	}
}

// WithBufferPool sets a custom transient buffer pool.
// If nil, one is created from the Config.
func WithBufferPool(bp *bufpool.Pool) Option {
	return func(p *Pipeline) {
		p.buffers = bp
	}
}
