// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package pipeline

import (
	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"

	"github.com/gogpu/batch/cull"
)

// DeviceHandle provides GPU device access from the host application.
//
// The host (e.g. a gogpu.App) owns the device and passes a handle in;
// the pipeline never creates one. Attaching a handle lets the GPU
// culling strategy and the upload buffers share the host's device
// instead of opening a second instance.
//
// DeviceHandle is an alias for gpucontext.DeviceProvider, keeping full
// compatibility with the gpucontext ecosystem.
type DeviceHandle = gpucontext.DeviceProvider

// NullDeviceHandle is a DeviceHandle with nil implementations, used
// when no GPU is available and everything runs on the CPU.
type NullDeviceHandle struct{}

// Device returns nil for the null device.
func (NullDeviceHandle) Device() gpucontext.Device { return nil }

// Queue returns nil for the null device.
func (NullDeviceHandle) Queue() gpucontext.Queue { return nil }

// Adapter returns nil for the null device.
func (NullDeviceHandle) Adapter() gpucontext.Adapter { return nil }

// SurfaceFormat returns undefined format for the null device.
func (NullDeviceHandle) SurfaceFormat() gputypes.TextureFormat {
	return gputypes.TextureFormatUndefined
}

var _ DeviceHandle = NullDeviceHandle{}

// AttachDevice passes the host's device handle to the active culling
// strategy. Handles that also expose HAL access (HalDevice() any,
// HalQueue() any) enable the GPU compute path on the shared device;
// others are a no-op.
func (p *Pipeline) AttachDevice(h DeviceHandle) error {
	if h == nil {
		return nil
	}
	if p.strategy != nil {
		if dpa, ok := p.strategy.(cull.DeviceProviderAware); ok {
			return dpa.SetDeviceProvider(h)
		}
		return nil
	}
	return cull.SetStrategyDeviceProvider(h)
}
