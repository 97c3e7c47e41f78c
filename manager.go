package batch

import (
	"sort"

	"github.com/go-gl/mathgl/mgl32"
)

// DefaultMaxInstancesPerBatch caps how many transforms one Batch holds.
const DefaultMaxInstancesPerBatch = 1000

// OverflowPolicy controls what happens when a batch reaches its cap
// within one frame.
type OverflowPolicy uint8

const (
	// OverflowSplit opens an additional batch with the same key and
	// continues appending. This is the default.
	OverflowSplit OverflowPolicy = iota

	// OverflowDrop silently drops excess instances for that key this
	// frame. Retained for hosts that rely on the historical behavior.
	OverflowDrop
)

// Batch is one unit of GPU draw work: a single (mesh, material, flags)
// pairing plus the world transforms of its visible instances. Batches
// are rebuilt from empty every frame; their backing arrays are reused.
type Batch struct {
	Key        Key
	Transforms []mgl32.Mat4
}

// Count returns the number of instances in the batch.
func (b *Batch) Count() int { return len(b.Transforms) }

// batchChain holds all batches sharing one key within a frame. Under
// OverflowSplit the chain grows; under OverflowDrop it stays at one.
type batchChain struct {
	batches []*Batch
	dropped int
}

// Manager groups visible instances into batches by key.
//
// Manager is not safe for concurrent use. The pipeline gives each
// worker its own Manager and merges them at the end of the batch stage.
type Manager struct {
	chains map[Key]*batchChain
	keys   []Key // insertion set, sorted on demand

	maxPerBatch int
	policy      OverflowPolicy

	// Per-frame counters, reset by Clear.
	added   int
	dropped int
}

// NewManager creates a batch manager. maxPerBatch <= 0 selects
// DefaultMaxInstancesPerBatch.
func NewManager(maxPerBatch int, policy OverflowPolicy) *Manager {
	if maxPerBatch <= 0 {
		maxPerBatch = DefaultMaxInstancesPerBatch
	}
	return &Manager{
		chains:      make(map[Key]*batchChain),
		maxPerBatch: maxPerBatch,
		policy:      policy,
	}
}

// Add appends a transform to the batch for key, creating the batch
// lazily. Visibility filtering happens before Add; the manager accepts
// everything it is given.
//
// Returns false when the instance was dropped due to OverflowDrop.
func (m *Manager) Add(key Key, transform mgl32.Mat4) bool {
	chain, ok := m.chains[key]
	if !ok {
		chain = &batchChain{}
		chain.batches = append(chain.batches, &Batch{Key: key})
		m.chains[key] = chain
		m.keys = append(m.keys, key)
	}
	last := chain.batches[len(chain.batches)-1]
	if len(last.Transforms) >= m.maxPerBatch {
		if m.policy == OverflowDrop {
			chain.dropped++
			m.dropped++
			return false
		}
		last = &Batch{Key: key, Transforms: make([]mgl32.Mat4, 0, m.maxPerBatch)}
		chain.batches = append(chain.batches, last)
	}
	last.Transforms = append(last.Transforms, transform)
	m.added++
	return true
}

// Clear empties every batch's instance list but keeps the key->batch
// map and the transform capacity for reuse next frame.
func (m *Manager) Clear() {
	for _, chain := range m.chains {
		// Keep the first batch of each chain for capacity reuse; the
		// overflow batches are frame-local.
		first := chain.batches[0]
		first.Transforms = first.Transforms[:0]
		chain.batches = chain.batches[:1]
		chain.dropped = 0
	}
	m.added = 0
	m.dropped = 0
}

// Merge moves all batches of other into m. Used to combine per-worker
// managers at the end of the batch stage; other is left cleared.
func (m *Manager) Merge(other *Manager) {
	for _, key := range other.keys {
		chain := other.chains[key]
		for _, b := range chain.batches {
			for _, tr := range b.Transforms {
				m.Add(key, tr)
			}
		}
		m.dropped += chain.dropped
	}
	other.Clear()
}

// Batches returns the non-empty batches ordered by key (mesh, material,
// flags), chained same-key batches adjacent. The order is stable across
// frames so golden-image tests can rely on it.
func (m *Manager) Batches() []*Batch {
	sort.Slice(m.keys, func(i, j int) bool { return m.keys[i].Less(m.keys[j]) })
	out := make([]*Batch, 0, len(m.keys))
	for _, key := range m.keys {
		for _, b := range m.chains[key].batches {
			if len(b.Transforms) > 0 {
				out = append(out, b)
			}
		}
	}
	return out
}

// Added returns how many instances were accepted this frame.
func (m *Manager) Added() int { return m.added }

// Dropped returns how many instances were dropped by OverflowDrop this
// frame.
func (m *Manager) Dropped() int { return m.dropped }
