//go:build !nogpu

// Package gpu registers the GPU compute culling strategy.
//
// Import this package to run visibility and LOD evaluation as a compute
// kernel with asynchronous read-back. If GPU initialization fails (no
// Vulkan available), the strategy still registers and evaluates the
// same kernel on the CPU, so results are identical either way.
//
// Usage:
//
//	import _ "github.com/gogpu/batch/gpu" // enable GPU culling
package gpu

import (
	"github.com/gogpu/batch"
	"github.com/gogpu/batch/cull"
	"github.com/gogpu/batch/internal/gpucull"
)

func init() {
	if err := cull.Register(gpucull.New()); err != nil {
		batch.Logger().Warn("GPU culling strategy not available", "err", err)
	}
}

// SetDeviceProvider configures the culling strategy to use a shared GPU
// device from an external provider (e.g. gogpu). This avoids creating a
// separate GPU instance when the host application already owns one.
//
// The provider should be a gpucontext.DeviceProvider that also exposes
// HAL access through HalDevice() any and HalQueue() any.
func SetDeviceProvider(provider any) error {
	return cull.SetStrategyDeviceProvider(provider)
}
