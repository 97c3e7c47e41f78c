//go:build !nogpu

// Package gpucull runs the instance culling tests as a GPU compute
// kernel with asynchronous read-back.
//
// The kernel and the CPU path implement the same tests with the same
// result encoding, so either can serve a frame. When no GPU device is
// available the package evaluates the kernel's CPU mirror over the
// same packed buffers, keeping the two-phase submit/take protocol and
// the equivalence contract intact.
package gpucull

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"

	// Import Vulkan backend so it registers via init().
	_ "github.com/gogpu/wgpu/hal/vulkan"

	"github.com/gogpu/batch"
	"github.com/gogpu/batch/cull"

	_ "embed"
)

//go:embed shaders/cull.wgsl
var cullShaderWGSL string

// fenceTimeout bounds how long a dispatch may hold a frame's results.
const fenceTimeout = 5 * time.Second

// job is one in-flight submission.
type job struct {
	done    chan struct{}
	results []cull.Result
	err     error
}

// Culler is the GPU compute culling strategy. It implements both
// cull.Strategy and cull.AsyncStrategy.
//
// Results are produced on a background goroutine; TryTake never blocks
// the frame thread.
type Culler struct {
	mu sync.Mutex

	instance hal.Instance
	device   hal.Device
	queue    hal.Queue

	shader     hal.ShaderModule
	bindLayout hal.BindGroupLayout
	pipeLayout hal.PipelineLayout
	pipeline   hal.ComputePipeline

	// Compiled SPIR-V, kept for diagnostics.
	spirv []uint32

	gpuReady       bool
	externalDevice bool // shared device: don't destroy on Close

	nextHandle atomic.Uint64
	pending    map[cull.Handle]*job

	// Nanoseconds spent in the most recent dispatch, readback
	// included. Zero while the kernel mirror serves requests.
	gpuTime atomic.Int64
}

var (
	_ cull.Strategy      = (*Culler)(nil)
	_ cull.AsyncStrategy = (*Culler)(nil)
)

// New creates an uninitialized GPU culler. Init acquires the device.
func New() *Culler {
	return &Culler{pending: make(map[cull.Handle]*job)}
}

// Name returns "gpu-compute".
func (c *Culler) Name() string { return "gpu-compute" }

// Init compiles the kernel and acquires a GPU device. Device
// acquisition failure is not an error: the culler stays registered and
// evaluates the kernel mirror on the CPU, logged at info level.
func (c *Culler) Init() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.initGPU(); err != nil {
		batch.Logger().Info("gpucull: GPU unavailable, using kernel mirror", "err", err)
	}
	return nil
}

// initGPU acquires a device and builds the compute pipeline.
// The caller must hold c.mu.
func (c *Culler) initGPU() error {
	backend, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return fmt.Errorf("gpucull: vulkan backend not available: %w", cull.ErrUnavailable)
	}
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return fmt.Errorf("gpucull: create instance: %w", err)
	}
	c.instance = instance
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		return fmt.Errorf("gpucull: no GPU adapters found: %w", cull.ErrUnavailable)
	}
	var selected *hal.ExposedAdapter
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	if selected == nil {
		selected = &adapters[0]
	}
	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		return fmt.Errorf("gpucull: open device: %w", err)
	}
	c.device = openDev.Device
	c.queue = openDev.Queue
	if err := c.createPipeline(); err != nil {
		c.device.Destroy()
		c.device = nil
		c.queue = nil
		return err
	}
	c.gpuReady = true
	batch.Logger().Info("gpucull: GPU culling initialized", "adapter", selected.Info.Name)
	return nil
}

// SetDeviceProvider switches the culler to a shared GPU device from an
// external provider (e.g. gogpu). The provider must implement
// HalDevice() any and HalQueue() any returning hal.Device and hal.Queue.
func (c *Culler) SetDeviceProvider(provider any) error {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return fmt.Errorf("gpucull: provider does not expose HAL types")
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return fmt.Errorf("gpucull: provider HalDevice is not hal.Device")
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return fmt.Errorf("gpucull: provider HalQueue is not hal.Queue")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.destroyPipeline()
	if !c.externalDevice && c.device != nil {
		c.device.Destroy()
	}
	if c.instance != nil {
		c.instance.Destroy()
		c.instance = nil
	}

	c.device = device
	c.queue = queue
	c.externalDevice = true
	if err := c.createPipeline(); err != nil {
		c.device = nil
		c.queue = nil
		c.externalDevice = false
		c.gpuReady = false
		return err
	}
	c.gpuReady = true
	return nil
}

// createPipeline compiles the WGSL kernel to SPIR-V and builds the
// compute pipeline. The caller must hold c.mu.
func (c *Culler) createPipeline() error {
	spirvBytes, err := naga.Compile(cullShaderWGSL)
	if err != nil {
		return fmt.Errorf("gpucull: compile kernel: %w", err)
	}
	c.spirv = make([]uint32, len(spirvBytes)/4)
	for i := range c.spirv {
		c.spirv[i] = uint32(spirvBytes[i*4]) |
			uint32(spirvBytes[i*4+1])<<8 |
			uint32(spirvBytes[i*4+2])<<16 |
			uint32(spirvBytes[i*4+3])<<24
	}

	shader, err := c.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  "cull_kernel",
		Source: hal.ShaderSource{SPIRV: c.spirv},
	})
	if err != nil {
		return fmt.Errorf("gpucull: create shader module: %w", err)
	}
	c.shader = shader

	bindLayout, err := c.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "cull_bind_layout",
		Entries: []gputypes.BindGroupLayoutEntry{
			{Binding: 0, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform}},
			{Binding: 1, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage}},
			{Binding: 2, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage}},
		},
	})
	if err != nil {
		return fmt.Errorf("gpucull: create bind group layout: %w", err)
	}
	c.bindLayout = bindLayout

	pipeLayout, err := c.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label: "cull_pipe_layout", BindGroupLayouts: []hal.BindGroupLayout{c.bindLayout},
	})
	if err != nil {
		return fmt.Errorf("gpucull: create pipeline layout: %w", err)
	}
	c.pipeLayout = pipeLayout

	pipeline, err := c.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label: "cull_pipeline", Layout: c.pipeLayout,
		Compute: hal.ComputeState{Module: c.shader, EntryPoint: "cs_cull"},
	})
	if err != nil {
		return fmt.Errorf("gpucull: create compute pipeline: %w", err)
	}
	c.pipeline = pipeline
	return nil
}

// destroyPipeline releases pipeline objects. The caller must hold c.mu.
func (c *Culler) destroyPipeline() {
	if c.device == nil {
		return
	}
	if c.pipeline != nil {
		c.device.DestroyComputePipeline(c.pipeline)
		c.pipeline = nil
	}
	if c.pipeLayout != nil {
		c.device.DestroyPipelineLayout(c.pipeLayout)
		c.pipeLayout = nil
	}
	if c.bindLayout != nil {
		c.device.DestroyBindGroupLayout(c.bindLayout)
		c.bindLayout = nil
	}
	if c.shader != nil {
		c.device.DestroyShaderModule(c.shader)
		c.shader = nil
	}
}

// Close releases GPU resources and drops pending submissions.
func (c *Culler) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = make(map[cull.Handle]*job)
	c.destroyPipeline()
	if !c.externalDevice {
		if c.device != nil {
			c.device.Destroy()
			c.device = nil
		}
		if c.instance != nil {
			c.instance.Destroy()
			c.instance = nil
		}
	} else {
		// Shared resources are not ours to destroy.
		c.device = nil
		c.instance = nil
	}
	c.queue = nil
	c.gpuReady = false
	c.externalDevice = false
}

// Submit packs q and starts evaluating it off the frame thread.
func (c *Culler) Submit(q *cull.Query) (cull.Handle, error) {
	packed := packQuery(q)
	h := cull.Handle(c.nextHandle.Add(1))
	j := &job{done: make(chan struct{}), results: make([]cull.Result, packed.count)}

	c.mu.Lock()
	gpu := c.gpuReady
	c.pending[h] = j
	c.mu.Unlock()

	go func() {
		if gpu {
			if err := c.dispatch(packed, j.results); err != nil {
				// Device errors degrade to the mirror, never to a lost frame.
				batch.Logger().Warn("gpucull: dispatch failed, using kernel mirror", "err", err)
				packed.mirror(j.results)
			}
		} else {
			packed.mirror(j.results)
		}
		close(j.done)
	}()
	return h, nil
}

// TryTake copies the results for h into out when ready. The handle is
// consumed by the first successful take.
func (c *Culler) TryTake(h cull.Handle, out []cull.Result) (bool, error) {
	c.mu.Lock()
	j, ok := c.pending[h]
	c.mu.Unlock()
	if !ok {
		return false, cull.ErrUnknownHandle
	}
	select {
	case <-j.done:
	default:
		return false, nil
	}
	if j.err != nil {
		return false, j.err
	}
	copy(out, j.results)
	c.mu.Lock()
	delete(c.pending, h)
	c.mu.Unlock()
	return true, nil
}

// Cull is the synchronous variant: submit and wait.
func (c *Culler) Cull(q *cull.Query, out []cull.Result) error {
	h, err := c.Submit(q)
	if err != nil {
		return err
	}
	c.mu.Lock()
	j := c.pending[h]
	c.mu.Unlock()
	<-j.done
	ok, err := c.TryTake(h, out)
	if err != nil {
		return err
	}
	if !ok {
		return cull.ErrUnknownHandle
	}
	return nil
}

// dispatch runs the kernel on the device and reads the results back.
func (c *Culler) dispatch(p *packedQuery, out []cull.Result) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.gpuReady {
		return cull.ErrUnavailable
	}
	start := time.Now()
	defer func() { c.gpuTime.Store(int64(time.Since(start))) }()

	resultsSize := uint64(p.count * 4)

	paramsBuf, err := c.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "cull_params", Size: uint64(len(p.params)),
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("gpucull: create params buffer: %w", err)
	}
	defer c.device.DestroyBuffer(paramsBuf)

	instBuf, err := c.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "cull_instances", Size: uint64(len(p.instances)),
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("gpucull: create instance buffer: %w", err)
	}
	defer c.device.DestroyBuffer(instBuf)

	resultsBuf, err := c.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "cull_results", Size: resultsSize,
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc,
	})
	if err != nil {
		return fmt.Errorf("gpucull: create results buffer: %w", err)
	}
	defer c.device.DestroyBuffer(resultsBuf)

	stagingBuf, err := c.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "cull_staging", Size: resultsSize,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("gpucull: create staging buffer: %w", err)
	}
	defer c.device.DestroyBuffer(stagingBuf)

	c.queue.WriteBuffer(paramsBuf, 0, p.params)
	c.queue.WriteBuffer(instBuf, 0, p.instances)

	bindGroup, err := c.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label: "cull_bind", Layout: c.bindLayout,
		Entries: []gputypes.BindGroupEntry{
			{Binding: 0, Resource: gputypes.BufferBinding{Buffer: paramsBuf.NativeHandle(), Offset: 0, Size: uint64(len(p.params))}},
			{Binding: 1, Resource: gputypes.BufferBinding{Buffer: instBuf.NativeHandle(), Offset: 0, Size: uint64(len(p.instances))}},
			{Binding: 2, Resource: gputypes.BufferBinding{Buffer: resultsBuf.NativeHandle(), Offset: 0, Size: resultsSize}},
		},
	})
	if err != nil {
		return fmt.Errorf("gpucull: create bind group: %w", err)
	}
	defer c.device.DestroyBindGroup(bindGroup)

	encoder, err := c.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "cull_encoder"})
	if err != nil {
		return fmt.Errorf("gpucull: create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding("cull"); err != nil {
		return fmt.Errorf("gpucull: begin encoding: %w", err)
	}

	pass := encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: "cull_pass"})
	pass.SetPipeline(c.pipeline)
	pass.SetBindGroup(0, bindGroup, nil)
	pass.Dispatch(uint32((p.count+workgroupSize-1)/workgroupSize), 1, 1)
	pass.End()

	encoder.CopyBufferToBuffer(resultsBuf, stagingBuf, []hal.BufferCopy{
		{SrcOffset: 0, DstOffset: 0, Size: resultsSize},
	})
	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return fmt.Errorf("gpucull: end encoding: %w", err)
	}
	defer c.device.FreeCommandBuffer(cmdBuf)

	fence, err := c.device.CreateFence()
	if err != nil {
		return fmt.Errorf("gpucull: create fence: %w", err)
	}
	defer c.device.DestroyFence(fence)
	if err := c.queue.Submit([]hal.CommandBuffer{cmdBuf}, fence, 1); err != nil {
		return fmt.Errorf("gpucull: submit: %w", err)
	}
	fenceOK, err := c.device.Wait(fence, 1, fenceTimeout)
	if err != nil || !fenceOK {
		return fmt.Errorf("gpucull: wait for GPU: ok=%v err=%w", fenceOK, err)
	}

	readback := make([]byte, resultsSize)
	if err := c.queue.ReadBuffer(stagingBuf, 0, readback); err != nil {
		return fmt.Errorf("gpucull: readback: %w", err)
	}
	decodeResults(readback, out)
	return nil
}

// GPUReady reports whether a device is driving the kernel (as opposed
// to the CPU mirror).
func (c *Culler) GPUReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gpuReady
}

// GPUTime returns the wall time of the most recent device dispatch,
// readback included. Zero while the CPU mirror serves requests.
func (c *Culler) GPUTime() time.Duration {
	return time.Duration(c.gpuTime.Load())
}
