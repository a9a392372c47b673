// Package compute is the data-parallel compute backend used by the density
// clustering engine.
//
// The shape mirrors a GPU compute API: a Backend hands out a Device, the
// Device allocates storage buffers, compiles named kernels into pipelines,
// records dispatches into command buffers and signals completion through
// fences. Host readback is an asynchronous map handshake.
//
// CPUBackend is the reference implementation. It runs kernel lanes on a
// bounded pool of goroutines and can inject allocation failures, device
// loss and stalled mappings through a FaultPlan.
package compute

import (
	"context"
	"time"
)

// PowerPreference selects between adapters when more than one is available.
type PowerPreference int

const (
	// HighPerformance prefers the adapter with the most parallelism.
	HighPerformance PowerPreference = iota
	// LowPower prefers the adapter with the smallest footprint.
	LowPower
)

func (p PowerPreference) String() string {
	switch p {
	case LowPower:
		return "low-power"
	default:
		return "high-performance"
	}
}

// ParsePowerPreference maps "high-performance" or "low-power" to a PowerPreference.
// Unknown values fall back to HighPerformance.
func ParsePowerPreference(s string) PowerPreference {
	if s == "low-power" {
		return LowPower
	}
	return HighPerformance
}

// AcquireOptions controls device acquisition.
type AcquireOptions struct {
	PowerPreference PowerPreference
	Label           string
}

// Backend hands out compute devices.
type Backend interface {
	AcquireDevice(ctx context.Context) (Device, error)
}

// Limits reports device capabilities checked before allocation and dispatch.
type Limits struct {
	MaxBufferSize              uint64
	MaxWorkgroupsPerDimension  uint32
	MaxInvocationsPerWorkgroup uint32
}

// DefaultLimits are the limits of a CPU device unless overridden.
var DefaultLimits = Limits{
	MaxBufferSize:              256 << 20,
	MaxWorkgroupsPerDimension:  65535,
	MaxInvocationsPerWorkgroup: 256,
}

// BufferUsage is a bit set describing how a buffer may be used.
type BufferUsage uint32

const (
	BufferUsageStorage BufferUsage = 1 << iota
	BufferUsageUniform
	BufferUsageCopySrc
	BufferUsageCopyDst
	BufferUsageMapRead
)

// BufferDescriptor describes a buffer to allocate. Size is in bytes and
// must be a non-zero multiple of 4.
type BufferDescriptor struct {
	Label string
	Size  uint64
	Usage BufferUsage
}

// Buffer is device memory.
type Buffer interface {
	Label() string
	Size() uint64
	Usage() BufferUsage
	Destroy()
}

// Pipeline is a compiled kernel.
type Pipeline interface {
	Name() string
	WorkgroupSize() [3]uint32
}

// CommandEncoder records work for one submission. Commands run in the order
// recorded and each command's writes are visible to the next one.
type CommandEncoder interface {
	// Dispatch runs pipeline over an x*y*z grid of workgroups with the
	// given buffers bound at indices 0..len(bindings)-1.
	Dispatch(pipeline Pipeline, bindings []Buffer, x, y, z uint32)
	// CopyBufferToBuffer copies the whole of src into dst.
	CopyBufferToBuffer(src, dst Buffer)
	// Finish closes the encoder.
	Finish() (CommandBuffer, error)
}

// CommandBuffer is a finished, submittable list of commands.
type CommandBuffer interface {
	Label() string
}

// MapResult is delivered by Device.MapRead.
type MapResult struct {
	Data []byte
	Err  error
}

// Device is an acquired compute device.
type Device interface {
	Name() string
	Limits() Limits
	CreateBuffer(desc BufferDescriptor) (Buffer, error)
	WriteBuffer(buf Buffer, offset uint64, data []byte) error
	CreatePipeline(kernelName string) (Pipeline, error)
	NewCommandEncoder(label string) CommandEncoder
	Submit(cb CommandBuffer) (*Fence, error)
	Wait(ctx context.Context, fence *Fence, timeout time.Duration) error
	MapRead(ctx context.Context, buf Buffer) <-chan MapResult
	Destroy()
}

// Fence is signalled when a submission finishes.
type Fence struct {
	done chan struct{}
	err  error
}

func newFence() *Fence {
	return &Fence{done: make(chan struct{})}
}

func (f *Fence) signal(err error) {
	f.err = err
	close(f.done)
}

// Done is closed when the submission completes.
func (f *Fence) Done() <-chan struct{} { return f.done }

// Err returns the submission's error. Only valid after Done is closed.
func (f *Fence) Err() error { return f.err }
