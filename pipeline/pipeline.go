// Package pipeline runs the per-frame Extract, Cull/LOD, Batch and
// Handoff stages that turn world-space instances into GPU draw batches.
//
// One Pipeline owns one frame loop: a distance cache and a transient
// buffer pool live for the pipeline's lifetime and are mutated only
// inside their stage. Run is not safe for concurrent use; call it once
// per rendered frame from the frame thread.
package pipeline

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/gogpu/gputypes"

	"github.com/gogpu/batch"
	"github.com/gogpu/batch/bufpool"
	"github.com/gogpu/batch/cull"
	"github.com/gogpu/batch/distcache"
)

// ErrClosed is returned by Run after Close.
var ErrClosed = errors.New("pipeline: closed")

// invalidWarnInterval rate-limits the malformed-instance warning.
const invalidWarnInterval = 60

// lodSweepInterval is how often stale per-entity LOD states are swept.
const lodSweepInterval = 300

// transformSize is the byte size of one instance transform (mat4x4f).
const transformSize = 64

// FrameStats contains performance statistics for one Run.
type FrameStats struct {
	// Instance counts
	Processed int // instances handed in
	Invalid   int // excluded as malformed
	Visible   int // passed every enabled test
	Culled    int // valid but not visible
	Dropped   int // lost to batch overflow (OverflowDrop)

	// Batch statistics
	Batches   int
	LODCounts [cull.MaxLODLevels]int

	// Timing (durations for the last frame)
	TimeExtract time.Duration
	TimeCull    time.Duration
	TimeBatch   time.Duration
	TimeTotal   time.Duration

	// GPUTime is the strategy's device time for its most recent
	// dispatch, readback included. Zero on the CPU path.
	GPUTime time.Duration

	// BudgetMissed is set when TimeTotal exceeded the configured
	// CPU budget. Reported, never fatal.
	BudgetMissed bool

	// AsyncResults is set when this frame consumed asynchronous
	// strategy results (one frame stale) instead of a synchronous pass.
	AsyncResults bool

	// CacheHitRate is the distance cache hit rate so far.
	CacheHitRate float64
}

// String returns a human-readable summary.
func (s FrameStats) String() string {
	return fmt.Sprintf("Frame[%d in, %d visible, %d culled, %d invalid, %d dropped, %d batches, %v total, %.0f%% cache hits]",
		s.Processed,
		s.Visible,
		s.Culled,
		s.Invalid,
		s.Dropped,
		s.Batches,
		s.TimeTotal,
		s.CacheHitRate*100)
}

// Frame is one frame's handoff product: the ordered batch list plus
// the packed transform upload buffers, one per batch. The buffers are
// borrowed from the pipeline's pool and recycled on the next Run.
type Frame struct {
	Frame   uint64
	Batches []*batch.Batch
	Uploads []*bufpool.Buffer
	Stats   FrameStats
}

// lodEntry is the per-entity LOD state plus the frame it was last
// touched, for the periodic sweep.
type lodEntry struct {
	st        cull.State
	lastFrame uint64
}

// Pipeline orchestrates the per-frame stages.
//
// Thread safety: Run and Close must be called from one goroutine.
// Stats may be read concurrently.
type Pipeline struct {
	cfg Config

	strategy cull.Strategy // pinned via WithStrategy, else registry
	cpu      *cull.CPU     // synchronous fallback, always present

	cache   *distcache.Cache
	buffers *bufpool.Pool

	manager    *batch.Manager
	workerMgrs []*batch.Manager
	workers    int

	lodStates map[batch.EntityID]*lodEntry

	// Asynchronous strategy bookkeeping. lastResults carries the most
	// recent per-entity results and doubles as the prior-frame
	// visibility fallback when a submission is not ready.
	lastResults   map[batch.EntityID]cull.Result
	pendingIDs    []batch.EntityID
	pendingHandle cull.Handle
	pendingValid  bool

	// Scratch, reused across frames.
	valid     []batch.Instance
	distances []float32
	results   []cull.Result
	effKeys   []batch.Key
	taken     []cull.Result

	invalidWarnFrame uint64
	warnedInvalid    bool

	stats   FrameStats
	statsMu sync.RWMutex

	closed bool
}

// New creates a pipeline from cfg. Options override cfg and inject
// custom components.
func New(cfg Config, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:         cfg,
		lodStates:   make(map[batch.EntityID]*lodEntry),
		lastResults: make(map[batch.EntityID]cull.Result),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.workers = p.cfg.Workers
	if p.workers <= 0 {
		p.workers = runtime.GOMAXPROCS(0)
	}
	if p.cache == nil {
		p.cache = distcache.New(p.cfg.DistanceCacheCapacity, p.cfg.DistanceCacheTTLFrames)
	}
	if p.buffers == nil {
		p.buffers = bufpool.New(p.cfg.BufferIdleEvictionFrames)
	}

	p.manager = batch.NewManager(p.cfg.MaxInstancesPerBatch, p.cfg.OverflowPolicy)
	p.workerMgrs = make([]*batch.Manager, p.workers)
	for i := range p.workerMgrs {
		// Workers never drop; the configured policy applies at merge.
		p.workerMgrs[i] = batch.NewManager(p.cfg.MaxInstancesPerBatch, batch.OverflowSplit)
	}
	p.cpu = cull.NewCPU(p.workers)
	return p
}

// Run executes one frame: Extract, Cull/LOD, Batch, Handoff. The
// returned Frame and its upload buffers stay valid until the next Run.
func (p *Pipeline) Run(frame uint64, cam batch.Camera, instances []batch.Instance) (*Frame, error) {
	if p.closed {
		return nil, ErrClosed
	}
	start := time.Now()

	// Recycle the previous frame's upload buffers.
	p.buffers.ReleaseFrame()

	// Extract: validate and resolve camera distances.
	startExtract := time.Now()
	camPos := cam.Position
	p.valid = p.valid[:0]
	p.distances = p.distances[:0]
	invalid := 0
	for i := range instances {
		in := &instances[i]
		if !in.Valid() {
			invalid++
			continue
		}
		p.valid = append(p.valid, *in)
		p.distances = append(p.distances, p.cache.Distance(camPos, in.Position(), in.Entity, frame))
	}
	if invalid > 0 && (!p.warnedInvalid || frame-p.invalidWarnFrame >= invalidWarnInterval) {
		batch.Logger().Warn("malformed instances excluded", "frame", frame, "count", invalid)
		p.invalidWarnFrame = frame
		p.warnedInvalid = true
	}
	if frame%distcache.CleanupInterval == 0 {
		p.cache.CleanupExpired(frame)
	}
	extractTime := time.Since(startExtract)

	// Cull/LOD: run the active strategy.
	startCull := time.Now()
	n := len(p.valid)
	if cap(p.results) < n {
		p.results = make([]cull.Result, n)
	}
	p.results = p.results[:n]
	q := &cull.Query{
		Frame:     frame,
		CameraPos: camPos,
		ViewProj:  cam.ViewProj(),
		Instances: p.valid,
		Distances: p.distances,
		Options: cull.Options{
			FrustumCulling:  p.cfg.FrustumCulling,
			DistanceCulling: p.cfg.DistanceCulling,
			MaxDistance:     p.cfg.MaxDistance,
			LOD:             p.cfg.LOD,
		},
	}
	usedAsync := false
	s := p.activeStrategy()
	if as, ok := s.(cull.AsyncStrategy); ok {
		usedAsync = p.cullAsync(as, q)
	} else if err := s.Cull(q, p.results); err != nil {
		batch.Logger().Warn("culling strategy failed, using CPU", "strategy", s.Name(), "err", err)
		if err := p.cpu.Cull(q, p.results); err != nil {
			return nil, err
		}
	}
	cullTime := time.Since(startCull)
	var gpuTime time.Duration
	if gt, ok := s.(interface{ GPUTime() time.Duration }); ok {
		gpuTime = gt.GPUTime()
	}

	// Batch: hysteresis-adjusted LOD keys, then per-worker grouping.
	startBatch := time.Now()
	now := time.Now()
	group := p.cfg.LOD
	if cap(p.effKeys) < n {
		p.effKeys = make([]batch.Key, n)
	}
	p.effKeys = p.effKeys[:n]
	visible := 0
	var lodCounts [cull.MaxLODLevels]int
	for i := range p.valid {
		if !p.results[i].Visible() {
			continue
		}
		level := 0
		if group != nil {
			e := p.lodStates[p.valid[i].Entity]
			if e == nil {
				e = &lodEntry{}
				e.st.Level = p.results[i].LOD()
				p.lodStates[p.valid[i].Entity] = e
			}
			level = group.Advance(&e.st, p.distances[i], now)
			e.lastFrame = frame
		}
		p.effKeys[i] = cull.LevelKey(group, &p.valid[i], level)
		visible++
		lodCounts[level]++
	}
	if group != nil && frame > 0 && frame%lodSweepInterval == 0 {
		for id, e := range p.lodStates {
			if frame-e.lastFrame >= lodSweepInterval {
				delete(p.lodStates, id)
			}
		}
	}

	p.batchVisible(n)
	p.manager.Clear()
	for _, m := range p.workerMgrs {
		p.manager.Merge(m)
	}
	batches := p.manager.Batches()
	dropped := p.manager.Dropped()
	batchTime := time.Since(startBatch)

	// Handoff: pack transforms into pooled upload buffers.
	uploads := make([]*bufpool.Buffer, 0, len(batches))
	for _, b := range batches {
		buf, err := p.buffers.Acquire(b.Count()*transformSize, gputypes.BufferUsageVertex|gputypes.BufferUsageCopyDst)
		if err != nil {
			return nil, err
		}
		packTransforms(buf.Data, b.Transforms)
		uploads = append(uploads, buf)
	}

	total := time.Since(start)
	stats := FrameStats{
		Processed:    len(instances),
		Invalid:      invalid,
		Visible:      visible,
		Culled:       n - visible,
		Dropped:      dropped,
		Batches:      len(batches),
		LODCounts:    lodCounts,
		TimeExtract:  extractTime,
		TimeCull:     cullTime,
		TimeBatch:    batchTime,
		TimeTotal:    total,
		GPUTime:      gpuTime,
		AsyncResults: usedAsync,
		CacheHitRate: p.cache.Stats().HitRate(),
	}
	if p.cfg.CPUBudget > 0 && total > p.cfg.CPUBudget {
		stats.BudgetMissed = true
		batch.Logger().Warn("frame budget missed",
			"frame", frame, "took", total, "budget", p.cfg.CPUBudget)
	}
	p.statsMu.Lock()
	p.stats = stats
	p.statsMu.Unlock()

	return &Frame{Frame: frame, Batches: batches, Uploads: uploads, Stats: stats}, nil
}

// activeStrategy returns the strategy for this frame: the pinned one,
// then the registry, then the built-in CPU path.
func (p *Pipeline) activeStrategy() cull.Strategy {
	if p.strategy != nil {
		return p.strategy
	}
	if s := cull.Registered(); s != nil {
		return s
	}
	return p.cpu
}

// cullAsync drives the two-phase submit/take protocol. Results applied
// to a frame are at most one frame stale; when neither a completed
// take nor full prior-frame coverage is available, the frame runs the
// CPU path instead. Reports whether stale results were applied.
func (p *Pipeline) cullAsync(as cull.AsyncStrategy, q *cull.Query) bool {
	// Collect a completed submission, if any.
	if p.pendingValid {
		if cap(p.taken) < len(p.pendingIDs) {
			p.taken = make([]cull.Result, len(p.pendingIDs))
		}
		p.taken = p.taken[:len(p.pendingIDs)]
		ok, err := as.TryTake(p.pendingHandle, p.taken)
		if err != nil {
			batch.Logger().Warn("async culling take failed", "strategy", as.Name(), "err", err)
			p.pendingValid = false
		} else if ok {
			p.pendingValid = false
			for i, id := range p.pendingIDs {
				p.lastResults[id] = p.taken[i]
			}
		}
	}

	// Apply the newest known result per entity. Entities never seen
	// before force a synchronous CPU pass for the whole frame.
	covered := true
	for i := range q.Instances {
		r, ok := p.lastResults[q.Instances[i].Entity]
		if !ok {
			covered = false
			break
		}
		p.results[i] = r
	}
	if !covered {
		if err := p.cpu.Cull(q, p.results); err != nil {
			// cpu.Cull only fails on output sizing, which Run controls.
			batch.Logger().Warn("CPU culling fallback failed", "err", err)
		}
		for i := range q.Instances {
			p.lastResults[q.Instances[i].Entity] = p.results[i]
		}
	}

	// Keep at most one submission in flight.
	if !p.pendingValid {
		h, err := as.Submit(q)
		if err != nil {
			batch.Logger().Warn("async culling submit failed", "strategy", as.Name(), "err", err)
		} else {
			p.pendingHandle = h
			p.pendingIDs = p.pendingIDs[:0]
			for i := range q.Instances {
				p.pendingIDs = append(p.pendingIDs, q.Instances[i].Entity)
			}
			p.pendingValid = true
		}
	}

	// Bound lastResults against entity churn.
	if len(p.lastResults) > 2*len(q.Instances)+1024 {
		keep := make(map[batch.EntityID]cull.Result, len(q.Instances))
		for i := range q.Instances {
			id := q.Instances[i].Entity
			if r, ok := p.lastResults[id]; ok {
				keep[id] = r
			}
		}
		p.lastResults = keep
	}
	return covered
}

// batchVisible groups the visible instances into the per-worker
// managers over contiguous shards.
func (p *Pipeline) batchVisible(n int) {
	if n == 0 {
		return
	}
	shards := p.workers
	per := (n + shards - 1) / shards
	var wg sync.WaitGroup
	for w := 0; w < shards; w++ {
		lo := w * per
		hi := lo + per
		if hi > n {
			hi = n
		}
		if lo >= hi {
			break
		}
		wg.Add(1)
		go func(mgr *batch.Manager, lo, hi int) {
			defer wg.Done()
			for i := lo; i < hi; i++ {
				if !p.results[i].Visible() {
					continue
				}
				mgr.Add(p.effKeys[i], p.valid[i].Transform)
			}
		}(p.workerMgrs[w], lo, hi)
	}
	wg.Wait()
}

// packTransforms writes the mat4x4f column-major float bits into dst.
func packTransforms(dst []byte, transforms []mgl32.Mat4) {
	off := 0
	for t := range transforms {
		for c := 0; c < 16; c++ {
			binary.LittleEndian.PutUint32(dst[off:], math.Float32bits(transforms[t][c]))
			off += 4
		}
	}
}

// LODBlend returns the cross-fade state for an entity: the level being
// faded from and the progress toward the current level. Entities with
// no recorded state report a completed fade at level 0.
func (p *Pipeline) LODBlend(id batch.EntityID, now time.Time) (from int, progress float32) {
	if p.cfg.LOD == nil {
		return 0, 1
	}
	e := p.lodStates[id]
	if e == nil {
		return 0, 1
	}
	return e.st.Blend(p.cfg.LOD, now)
}

// Stats returns the statistics of the most recent frame.
func (p *Pipeline) Stats() FrameStats {
	p.statsMu.RLock()
	defer p.statsMu.RUnlock()
	return p.stats
}

// CacheStats returns the distance cache statistics.
func (p *Pipeline) CacheStats() distcache.Stats {
	return p.cache.Stats()
}

// PoolStats returns the transient buffer pool statistics.
func (p *Pipeline) PoolStats() bufpool.Stats {
	return p.buffers.Stats()
}

// Workers returns the number of worker goroutines.
func (p *Pipeline) Workers() int { return p.workers }

// Close flushes the pooled buffers and stops the workers. The pipeline
// must not be used after Close.
func (p *Pipeline) Close() {
	if p.closed {
		return
	}
	p.closed = true
	p.buffers.ReleaseFrame()
	p.buffers.Close()
	p.cpu.Close()
}
