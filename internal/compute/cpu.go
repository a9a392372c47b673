package compute

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/seathru/internal/errs"
	"github.com/banshee-data/seathru/internal/monitoring"
	"github.com/banshee-data/seathru/internal/timeutil"
	"golang.org/x/sync/errgroup"
)

// CPUBackend acquires CPU devices that execute kernels on goroutines.
type CPUBackend struct {
	Options  AcquireOptions
	Limits   Limits          // zero value means DefaultLimits
	Workers  int             // zero means derived from PowerPreference
	Registry *KernelRegistry // nil means DefaultRegistry
	Clock    timeutil.Clock  // nil means RealClock
	Faults   *FaultPlan
}

var _ Backend = (*CPUBackend)(nil)

// NewCPUBackend returns a CPU backend with the given acquisition options.
func NewCPUBackend(opts AcquireOptions) *CPUBackend {
	return &CPUBackend{Options: opts}
}

// AcquireDevice returns a new CPU device.
func (b *CPUBackend) AcquireDevice(ctx context.Context) (Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b.Faults.noAdapter() {
		return nil, fmt.Errorf("%w: no adapter matched %s", errs.ErrDeviceUnavailable, b.Options.PowerPreference)
	}

	workers := b.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
		if b.Options.PowerPreference == LowPower {
			workers = 1
		}
	}
	limits := b.Limits
	if limits == (Limits{}) {
		limits = DefaultLimits
	}
	registry := b.Registry
	if registry == nil {
		registry = DefaultRegistry
	}
	clock := b.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}

	d := &CPUDevice{
		name:     fmt.Sprintf("cpu (%d workers)", workers),
		label:    b.Options.Label,
		workers:  workers,
		limits:   limits,
		registry: registry,
		clock:    clock,
		faults:   b.Faults,
	}
	monitoring.Diagf("compute: acquired adapter %q label=%q power=%s", d.name, d.label, b.Options.PowerPreference)
	return d, nil
}

// CPUDevice runs kernels on the host. Submissions run one at a time in
// submission order.
type CPUDevice struct {
	name     string
	label    string
	workers  int
	limits   Limits
	registry *KernelRegistry
	clock    timeutil.Clock
	faults   *FaultPlan

	queue     sync.Mutex
	live      atomic.Int64
	lost      atomic.Bool
	destroyed atomic.Bool
}

var _ Device = (*CPUDevice)(nil)

// Name returns the adapter name.
func (d *CPUDevice) Name() string { return d.name }

// Limits returns the device limits.
func (d *CPUDevice) Limits() Limits { return d.limits }

// LiveBuffers returns the number of allocated, not yet destroyed buffers.
func (d *CPUDevice) LiveBuffers() int { return int(d.live.Load()) }

func (d *CPUDevice) usable(op string) error {
	if d.lost.Load() {
		return errs.Backend(op, errs.ErrDeviceLost)
	}
	if d.destroyed.Load() {
		return errs.Backend(op, errors.New("device destroyed"))
	}
	return nil
}

// CreateBuffer allocates a zeroed buffer.
func (d *CPUDevice) CreateBuffer(desc BufferDescriptor) (Buffer, error) {
	if err := d.usable("create buffer"); err != nil {
		return nil, err
	}
	if desc.Size == 0 || desc.Size%4 != 0 {
		return nil, errs.Backend("create buffer", fmt.Errorf("%q: size %d is not a positive multiple of 4", desc.Label, desc.Size))
	}
	if desc.Size > d.limits.MaxBufferSize {
		return nil, errs.Backend("create buffer", fmt.Errorf("%q: size %d exceeds limit %d", desc.Label, desc.Size, d.limits.MaxBufferSize))
	}
	if d.faults.allocate() {
		return nil, errs.Backend("create buffer", fmt.Errorf("%q: out of device memory", desc.Label))
	}
	d.live.Add(1)
	return &cpuBuffer{desc: desc, words: make([]uint32, desc.Size/4), dev: d}, nil
}

// WriteBuffer copies data into buf at offset.
func (d *CPUDevice) WriteBuffer(buf Buffer, offset uint64, data []byte) error {
	if err := d.usable("write buffer"); err != nil {
		return err
	}
	b, err := d.own(buf)
	if err != nil {
		return errs.Backend("write buffer", err)
	}
	if b.desc.Usage&BufferUsageCopyDst == 0 {
		return errs.Backend("write buffer", fmt.Errorf("%q lacks copy-dst usage", b.desc.Label))
	}
	d.queue.Lock()
	defer d.queue.Unlock()
	if err := b.write(offset, data); err != nil {
		return errs.Backend("write buffer", err)
	}
	return nil
}

func (d *CPUDevice) own(buf Buffer) (*cpuBuffer, error) {
	b, ok := buf.(*cpuBuffer)
	if !ok || b.dev != d {
		return nil, errors.New("buffer belongs to another device")
	}
	if b.destroyed.Load() {
		return nil, fmt.Errorf("buffer %q already destroyed", b.desc.Label)
	}
	return b, nil
}

type cpuPipeline struct {
	kernel Kernel
}

func (p *cpuPipeline) Name() string             { return p.kernel.Name }
func (p *cpuPipeline) WorkgroupSize() [3]uint32 { return p.kernel.WorkgroupSize }

// CreatePipeline compiles the registered kernel kernelName.
func (d *CPUDevice) CreatePipeline(kernelName string) (Pipeline, error) {
	if err := d.usable("create pipeline"); err != nil {
		return nil, err
	}
	k, ok := d.registry.Lookup(kernelName)
	if !ok {
		return nil, errs.Backend("create pipeline", fmt.Errorf("unknown kernel %q", kernelName))
	}
	if k.invocations() > d.limits.MaxInvocationsPerWorkgroup {
		return nil, errs.Backend("create pipeline", fmt.Errorf("kernel %q: %d invocations per workgroup exceeds limit %d",
			kernelName, k.invocations(), d.limits.MaxInvocationsPerWorkgroup))
	}
	return &cpuPipeline{kernel: k}, nil
}

type command struct {
	pipeline *cpuPipeline
	bindings []Buffer
	groups   [3]uint32
	src, dst Buffer
}

type cpuEncoder struct {
	label    string
	commands []command
	err      error
	finished bool
}

type cpuCommandBuffer struct {
	label    string
	commands []command
}

func (c *cpuCommandBuffer) Label() string { return c.label }

// NewCommandEncoder starts recording a submission.
func (d *CPUDevice) NewCommandEncoder(label string) CommandEncoder {
	return &cpuEncoder{label: label}
}

func (e *cpuEncoder) Dispatch(pipeline Pipeline, bindings []Buffer, x, y, z uint32) {
	p, ok := pipeline.(*cpuPipeline)
	if !ok {
		e.fail(errors.New("pipeline belongs to another device"))
		return
	}
	e.commands = append(e.commands, command{
		pipeline: p,
		bindings: append([]Buffer(nil), bindings...),
		groups:   [3]uint32{x, y, z},
	})
}

func (e *cpuEncoder) CopyBufferToBuffer(src, dst Buffer) {
	e.commands = append(e.commands, command{src: src, dst: dst})
}

func (e *cpuEncoder) fail(err error) {
	if e.err == nil {
		e.err = err
	}
}

func (e *cpuEncoder) Finish() (CommandBuffer, error) {
	if e.finished {
		return nil, errs.Backend("finish "+e.label, errors.New("encoder already finished"))
	}
	e.finished = true
	if e.err != nil {
		return nil, errs.Backend("finish "+e.label, e.err)
	}
	return &cpuCommandBuffer{label: e.label, commands: e.commands}, nil
}

// Submit validates cb and runs it asynchronously. The returned fence is
// signalled once every command has completed or one has failed.
func (d *CPUDevice) Submit(cb CommandBuffer) (*Fence, error) {
	if err := d.usable("submit"); err != nil {
		return nil, err
	}
	c, ok := cb.(*cpuCommandBuffer)
	if !ok {
		return nil, errs.Backend("submit", errors.New("command buffer belongs to another device"))
	}
	for _, cmd := range c.commands {
		if err := d.validate(cmd); err != nil {
			return nil, errs.Backend("submit "+c.label, err)
		}
	}

	fence := newFence()
	go func() {
		d.queue.Lock()
		defer d.queue.Unlock()
		fence.signal(d.run(c))
	}()
	return fence, nil
}

func (d *CPUDevice) validate(cmd command) error {
	if cmd.pipeline == nil {
		src, err := d.own(cmd.src)
		if err != nil {
			return err
		}
		dst, err := d.own(cmd.dst)
		if err != nil {
			return err
		}
		if src.desc.Usage&BufferUsageCopySrc == 0 || dst.desc.Usage&BufferUsageCopyDst == 0 {
			return fmt.Errorf("copy %q -> %q: missing copy usage", src.desc.Label, dst.desc.Label)
		}
		if src.desc.Size > dst.desc.Size {
			return fmt.Errorf("copy %q -> %q: destination too small", src.desc.Label, dst.desc.Label)
		}
		return nil
	}
	for _, g := range cmd.groups {
		if g > d.limits.MaxWorkgroupsPerDimension {
			return fmt.Errorf("dispatch %q: %d workgroups exceeds limit %d", cmd.pipeline.kernel.Name, g, d.limits.MaxWorkgroupsPerDimension)
		}
	}
	for _, b := range cmd.bindings {
		if _, err := d.own(b); err != nil {
			return fmt.Errorf("dispatch %q: %w", cmd.pipeline.kernel.Name, err)
		}
	}
	return nil
}

func (d *CPUDevice) run(c *cpuCommandBuffer) error {
	for _, cmd := range c.commands {
		if d.lost.Load() {
			return errs.Backend("run "+c.label, errs.ErrDeviceLost)
		}
		if cmd.pipeline == nil {
			src, dst := cmd.src.(*cpuBuffer), cmd.dst.(*cpuBuffer)
			for i := range src.words {
				dst.words[i] = atomic.LoadUint32(&src.words[i])
			}
			continue
		}
		if d.faults.dispatch() {
			d.lost.Store(true)
			monitoring.Opsf("compute: device %q lost during %q", d.name, cmd.pipeline.kernel.Name)
			return errs.Backend("dispatch "+cmd.pipeline.kernel.Name, errs.ErrDeviceLost)
		}
		if err := d.dispatch(cmd); err != nil {
			return errs.Backend("dispatch "+cmd.pipeline.kernel.Name, err)
		}
	}
	return nil
}

// dispatch executes every workgroup of cmd and returns once all lanes
// have finished, which acts as the barrier between commands.
func (d *CPUDevice) dispatch(cmd command) error {
	k := cmd.pipeline.kernel
	gx, gy, gz := cmd.groups[0], cmd.groups[1], cmd.groups[2]
	total := uint64(gx) * uint64(gy) * uint64(gz)
	if total == 0 {
		return nil
	}
	bindings := &Bindings{buffers: make([]*cpuBuffer, len(cmd.bindings))}
	for i, b := range cmd.bindings {
		bindings.buffers[i] = b.(*cpuBuffer)
	}

	batches := uint64(d.workers) * 4
	if batches > total {
		batches = total
	}
	per := (total + batches - 1) / batches

	var g errgroup.Group
	g.SetLimit(d.workers)
	for start := uint64(0); start < total; start += per {
		end := start + per
		if end > total {
			end = total
		}
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("kernel %q panicked: %v", k.Name, r)
				}
			}()
			for wg := start; wg < end; wg++ {
				wid := [3]uint32{uint32(wg % uint64(gx)), uint32(wg / uint64(gx) % uint64(gy)), uint32(wg / (uint64(gx) * uint64(gy)))}
				runWorkgroup(k, wid, bindings)
			}
			return nil
		})
	}
	return g.Wait()
}

func runWorkgroup(k Kernel, wid [3]uint32, b *Bindings) {
	size := k.WorkgroupSize
	for lz := uint32(0); lz < size[2]; lz++ {
		for ly := uint32(0); ly < size[1]; ly++ {
			for lx := uint32(0); lx < size[0]; lx++ {
				k.Func(Invocation{
					GlobalID:    [3]uint32{wid[0]*size[0] + lx, wid[1]*size[1] + ly, wid[2]*size[2] + lz},
					LocalID:     [3]uint32{lx, ly, lz},
					WorkgroupID: wid,
				}, b)
			}
		}
	}
}

// Wait blocks until fence is signalled, ctx is done or timeout elapses on
// the device clock. A timeout is reported as ErrMappingTimeout.
func (d *CPUDevice) Wait(ctx context.Context, fence *Fence, timeout time.Duration) error {
	if fence == nil {
		return errs.Backend("wait", errors.New("nil fence"))
	}
	timer := d.clock.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-fence.Done():
		return fence.Err()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C():
		return fmt.Errorf("%w: fence not signalled within %v", errs.ErrMappingTimeout, timeout)
	}
}

// MapRead snapshots buf once queued work has drained. The channel receives
// exactly one result unless the device stalls.
func (d *CPUDevice) MapRead(ctx context.Context, buf Buffer) <-chan MapResult {
	ch := make(chan MapResult, 1)
	if err := d.usable("map read"); err != nil {
		ch <- MapResult{Err: err}
		return ch
	}
	b, err := d.own(buf)
	if err != nil {
		ch <- MapResult{Err: errs.Backend("map read", err)}
		return ch
	}
	if b.desc.Usage&BufferUsageMapRead == 0 {
		ch <- MapResult{Err: errs.Backend("map read", fmt.Errorf("%q lacks map-read usage", b.desc.Label))}
		return ch
	}
	if d.faults.stallMap() {
		monitoring.Diagf("compute: map of %q stalled by fault plan", b.desc.Label)
		return ch
	}
	go func() {
		d.queue.Lock()
		defer d.queue.Unlock()
		if err := ctx.Err(); err != nil {
			ch <- MapResult{Err: err}
			return
		}
		if d.lost.Load() {
			ch <- MapResult{Err: errs.Backend("map read", errs.ErrDeviceLost)}
			return
		}
		ch <- MapResult{Data: b.bytes()}
	}()
	return ch
}

// Destroy releases the device. Buffers still alive are leaked to the
// garbage collector and reported on the ops stream.
func (d *CPUDevice) Destroy() {
	if !d.destroyed.CompareAndSwap(false, true) {
		return
	}
	if n := d.LiveBuffers(); n > 0 {
		monitoring.Opsf("compute: device %q destroyed with %d live buffers", d.name, n)
	}
}
