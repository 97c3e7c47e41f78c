package cull

import (
	"errors"
	"sync"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/gogpu/batch"
)

// Options select which tests run. Each test is independently
// toggleable; an instance is visible iff every enabled test passes.
type Options struct {
	// FrustumCulling enables the sphere-vs-6-plane frustum test.
	FrustumCulling bool

	// DistanceCulling enables the camera-distance test.
	DistanceCulling bool

	// MaxDistance is the global culling distance. An instance's
	// MaxDistance override, when > 0, takes precedence.
	MaxDistance float32

	// LOD is the level-of-detail ladder used to derive the raw level
	// stored in each Result. Nil leaves every instance at level 0.
	LOD *Group
}

// Query is one frame's culling input. Strategies treat it as read-only.
type Query struct {
	Frame     uint64
	CameraPos mgl32.Vec3
	ViewProj  mgl32.Mat4

	// Instances to test. Strategies must not retain the slice beyond
	// the call.
	Instances []batch.Instance

	// Distances holds the camera distance per instance when the caller
	// has already resolved them (through the distance cache). When nil,
	// strategies compute distances directly.
	Distances []float32

	Options Options
}

// distance returns the camera distance for instance i.
func (q *Query) distance(i int) float32 {
	if q.Distances != nil {
		return q.Distances[i]
	}
	return q.Instances[i].Position().Sub(q.CameraPos).Len()
}

// Strategy evaluates visibility and raw LOD for a frame's instances.
//
// Both the CPU and GPU compute variants implement Strategy and must
// produce identical visible sets for identical input, float rounding at
// exact test boundaries excepted.
type Strategy interface {
	// Name returns the strategy name (e.g. "cpu", "gpu-compute").
	Name() string

	// Init prepares the strategy. Called once during registration.
	// Returning ErrUnavailable keeps the previous strategy active.
	Init() error

	// Close releases strategy resources.
	Close()

	// Cull writes one Result per instance into out, which the caller
	// sizes to len(q.Instances). Blocking variant used by tests and as
	// the synchronous fallback.
	Cull(q *Query, out []Result) error
}

// Handle identifies an in-flight asynchronous culling submission.
type Handle uint64

// AsyncStrategy is implemented by strategies whose results arrive
// asynchronously (GPU read-back). The pipeline polls TryTake and must
// never block the frame on it; a pending handle simply means "use the
// fallback this frame".
type AsyncStrategy interface {
	Strategy

	// Submit starts evaluating q and returns immediately.
	Submit(q *Query) (Handle, error)

	// TryTake copies the results for h into out when they are ready and
	// reports whether it did. A handle is consumed by the first
	// successful take.
	TryTake(h Handle, out []Result) (bool, error)
}

var (
	strategyMu sync.RWMutex
	strategy   Strategy
)

// Register installs a culling strategy. Only one strategy is active;
// subsequent calls replace (and Close) the previous one. The strategy's
// Init is called during registration; if it fails, the previous
// strategy stays active and the error is returned.
//
// Typical usage via blank import of the GPU package:
//
//	import _ "github.com/gogpu/batch/gpu"
func Register(s Strategy) error {
	if s == nil {
		return errors.New("cull: strategy must not be nil")
	}
	if err := s.Init(); err != nil {
		return err
	}
	strategyMu.Lock()
	old := strategy
	strategy = s
	strategyMu.Unlock()
	if old != nil {
		old.Close()
	}
	batch.Logger().Info("culling strategy registered", "name", s.Name())
	return nil
}

// Registered returns the currently registered strategy, or nil when
// none has been registered. Callers with a nil strategy use their own
// CPU instance.
func Registered() Strategy {
	strategyMu.RLock()
	s := strategy
	strategyMu.RUnlock()
	return s
}

// DeviceProviderAware is implemented by strategies that can share a GPU
// device with a host application instead of creating their own.
type DeviceProviderAware interface {
	// SetDeviceProvider configures a shared GPU device. The provider
	// should implement HalDevice() any and HalQueue() any returning
	// wgpu/hal types.
	SetDeviceProvider(provider any) error
}

// SetStrategyDeviceProvider passes a device provider to the registered
// strategy, enabling GPU device sharing. If no strategy is registered
// or it doesn't support device sharing, this is a no-op.
func SetStrategyDeviceProvider(provider any) error {
	s := Registered()
	if s == nil {
		return nil
	}
	if dpa, ok := s.(DeviceProviderAware); ok {
		return dpa.SetDeviceProvider(provider)
	}
	return nil
}
