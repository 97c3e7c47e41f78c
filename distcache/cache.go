// Package distcache memoizes camera-to-entity distances across frames.
//
// Distance math is cheap per instance but not per hundred thousand
// instances per frame; the cache trades bounded staleness (a frame TTL)
// for skipping the recomputation. A stale distance up to TTLFrames old
// is an accepted trade-off, not a defect.
package distcache

import (
	"container/list"
	"math"
	"sync"
	"sync/atomic"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/gogpu/batch"
)

// Default cache configuration constants.
const (
	// DefaultCapacity is the default maximum number of cached entries.
	DefaultCapacity = 2048

	// DefaultTTLFrames is how many frames a cached distance stays valid.
	DefaultTTLFrames = 5

	// CleanupInterval is how often (in frames) CleanupExpired sweeps by
	// default when driven by the pipeline.
	CleanupInterval = 60
)

// entry maps an entity to its last computed distance and the frame it
// was computed on.
type entry struct {
	id       batch.EntityID
	distance float32
	frame    uint64
	element  *list.Element
}

// Cache is an LRU cache of camera-to-entity distances with a frame TTL.
//
// The cache is long-lived and single-owner: the pipeline mutates it
// only inside the extract stage. It is nonetheless guarded like the
// other long-lived caches in this module so diagnostic readers cannot
// race the frame.
type Cache struct {
	mu        sync.Mutex
	entries   map[batch.EntityID]*entry
	lru       *list.List // front = most recently used
	capacity  int
	ttlFrames uint64

	// Statistics (atomic for zero-allocation reads)
	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
	expired   atomic.Uint64
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Entries   int
	Capacity  int
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Expired   uint64
}

// HitRate returns hits / (hits + misses), or 0 before any lookup.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// New creates a distance cache. capacity <= 0 selects DefaultCapacity;
// ttlFrames == 0 selects DefaultTTLFrames.
func New(capacity int, ttlFrames uint64) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if ttlFrames == 0 {
		ttlFrames = DefaultTTLFrames
	}
	return &Cache{
		entries:   make(map[batch.EntityID]*entry, capacity),
		lru:       list.New(),
		capacity:  capacity,
		ttlFrames: ttlFrames,
	}
}

// Distance returns the camera-to-entity distance for id on the given
// frame. A cached value computed within the TTL window is returned
// as-is; otherwise the true Euclidean distance is computed and cached,
// evicting the least recently used entry first when at capacity.
//
// Distance never fails; a cold cache only degrades performance.
func (c *Cache) Distance(camPos, entityPos mgl32.Vec3, id batch.EntityID, frame uint64) float32 {
	c.mu.Lock()
	if e, ok := c.entries[id]; ok && frame-e.frame <= c.ttlFrames {
		c.lru.MoveToFront(e.element)
		c.mu.Unlock()
		c.hits.Add(1)
		return e.distance
	}

	d := euclidean(camPos, entityPos)

	if e, ok := c.entries[id]; ok {
		// Refresh an expired entry in place.
		e.distance = d
		e.frame = frame
		c.lru.MoveToFront(e.element)
		c.mu.Unlock()
		c.misses.Add(1)
		return d
	}

	if len(c.entries) >= c.capacity {
		c.evictOldestLocked()
	}
	e := &entry{id: id, distance: d, frame: frame}
	e.element = c.lru.PushFront(e)
	c.entries[id] = e
	c.mu.Unlock()
	c.misses.Add(1)
	return d
}

// evictOldestLocked removes the least recently used entry.
// The caller must hold c.mu.
func (c *Cache) evictOldestLocked() {
	back := c.lru.Back()
	if back == nil {
		return
	}
	e := back.Value.(*entry)
	c.lru.Remove(back)
	delete(c.entries, e.id)
	c.evictions.Add(1)
}

// CleanupExpired removes every entry whose value is older than the TTL
// relative to frame. The pipeline calls this periodically (every
// CleanupInterval frames) so entities that left the scene do not pin
// cache slots.
func (c *Cache) CleanupExpired(frame uint64) {
	c.mu.Lock()
	for el := c.lru.Back(); el != nil; {
		prev := el.Prev()
		e := el.Value.(*entry)
		if frame-e.frame > c.ttlFrames {
			c.lru.Remove(el)
			delete(c.entries, e.id)
			c.expired.Add(1)
		}
		el = prev
	}
	c.mu.Unlock()
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	n := len(c.entries)
	c.mu.Unlock()
	return n
}

// Capacity returns the maximum number of entries.
func (c *Cache) Capacity() int { return c.capacity }

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Entries:   c.Len(),
		Capacity:  c.capacity,
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Expired:   c.expired.Load(),
	}
}

// Clear drops every entry. Counters are kept.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[batch.EntityID]*entry, c.capacity)
	c.lru.Init()
	c.mu.Unlock()
}

func euclidean(a, b mgl32.Vec3) float32 {
	dx := float64(a[0] - b[0])
	dy := float64(a[1] - b[1])
	dz := float64(a[2] - b[2])
	return float32(math.Sqrt(dx*dx + dy*dy + dz*dz))
}
