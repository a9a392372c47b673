package compute

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/banshee-data/seathru/internal/errs"
	"github.com/banshee-data/seathru/internal/timeutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const storage = BufferUsageStorage | BufferUsageCopySrc | BufferUsageCopyDst

func testRegistry(t *testing.T) *KernelRegistry {
	t.Helper()
	r := NewKernelRegistry()
	require.NoError(t, r.Register(Kernel{
		Name:          "double",
		WorkgroupSize: [3]uint32{8, 1, 1},
		Func: func(inv Invocation, b *Bindings) {
			i := int(inv.GlobalID[0])
			if i >= b.Len(0) {
				return
			}
			b.AtomicStore(1, i, b.Uint32(0, i)*2)
		},
	}))
	require.NoError(t, r.Register(Kernel{
		Name:          "grid_min",
		WorkgroupSize: [3]uint32{4, 4, 1},
		Func: func(inv Invocation, b *Bindings) {
			n := b.Len(0)
			i, j := int(inv.GlobalID[0]), int(inv.GlobalID[1])
			if i >= n || j >= n {
				return
			}
			b.AtomicMin(0, j, uint32(i+1))
		},
	}))
	require.NoError(t, r.Register(Kernel{
		Name:          "boom",
		WorkgroupSize: [3]uint32{1, 1, 1},
		Func:          func(Invocation, *Bindings) { panic("boom") },
	}))
	return r
}

func acquire(t *testing.T, b *CPUBackend) *CPUDevice {
	t.Helper()
	if b.Registry == nil {
		b.Registry = testRegistry(t)
	}
	dev, err := b.AcquireDevice(context.Background())
	require.NoError(t, err)
	t.Cleanup(dev.Destroy)
	return dev.(*CPUDevice)
}

func newBuf(t *testing.T, d Device, label string, words int, usage BufferUsage) Buffer {
	t.Helper()
	buf, err := d.CreateBuffer(BufferDescriptor{Label: label, Size: uint64(words * 4), Usage: usage})
	require.NoError(t, err)
	t.Cleanup(buf.Destroy)
	return buf
}

func submitAndWait(t *testing.T, d Device, enc CommandEncoder) error {
	t.Helper()
	cb, err := enc.Finish()
	require.NoError(t, err)
	fence, err := d.Submit(cb)
	if err != nil {
		return err
	}
	return d.Wait(context.Background(), fence, 5*time.Second)
}

func TestCPUDevice_DispatchAndReadback(t *testing.T) {
	t.Parallel()
	dev := acquire(t, &CPUBackend{Workers: 3})

	const n = 21
	in := newBuf(t, dev, "in", n, storage)
	out := newBuf(t, dev, "out", n, storage)
	staging := newBuf(t, dev, "staging", n, BufferUsageMapRead|BufferUsageCopyDst)

	values := make([]uint32, n)
	for i := range values {
		values[i] = uint32(i)
	}
	require.NoError(t, dev.WriteBuffer(in, 0, EncodeUint32s(values...)))

	p, err := dev.CreatePipeline("double")
	require.NoError(t, err)
	assert.Equal(t, "double", p.Name())
	assert.Equal(t, [3]uint32{8, 1, 1}, p.WorkgroupSize())

	enc := dev.NewCommandEncoder("double")
	enc.Dispatch(p, []Buffer{in, out}, (n+7)/8, 1, 1)
	enc.CopyBufferToBuffer(out, staging)
	require.NoError(t, submitAndWait(t, dev, enc))

	data, err := ReadBuffer(context.Background(), dev, staging, time.Second, nil)
	require.NoError(t, err)
	got := DecodeUint32s(data)
	for i, v := range got {
		assert.Equal(t, uint32(2*i), v, "lane %d", i)
	}
}

func TestCPUDevice_AtomicMinOverGrid(t *testing.T) {
	t.Parallel()
	dev := acquire(t, &CPUBackend{})

	const n = 10
	labels := newBuf(t, dev, "labels", n, storage|BufferUsageMapRead)
	p, err := dev.CreatePipeline("grid_min")
	require.NoError(t, err)

	enc := dev.NewCommandEncoder("grid")
	enc.Dispatch(p, []Buffer{labels}, 3, 3, 1)
	require.NoError(t, submitAndWait(t, dev, enc))

	data, err := ReadBuffer(context.Background(), dev, labels, time.Second, nil)
	require.NoError(t, err)
	for _, v := range DecodeUint32s(data) {
		assert.Equal(t, uint32(1), v)
	}
}

func TestCPUDevice_CommandsRunInOrder(t *testing.T) {
	t.Parallel()
	dev := acquire(t, &CPUBackend{Workers: 4})

	a := newBuf(t, dev, "a", 16, storage)
	b := newBuf(t, dev, "b", 16, storage|BufferUsageMapRead)
	require.NoError(t, dev.WriteBuffer(a, 0, EncodeUint32s(make([]uint32, 16)...)))
	require.NoError(t, dev.WriteBuffer(a, 4, EncodeUint32s(3)))

	p, err := dev.CreatePipeline("double")
	require.NoError(t, err)
	enc := dev.NewCommandEncoder("chain")
	enc.Dispatch(p, []Buffer{a, b}, 2, 1, 1)
	enc.Dispatch(p, []Buffer{b, a}, 2, 1, 1)
	enc.Dispatch(p, []Buffer{a, b}, 2, 1, 1)
	require.NoError(t, submitAndWait(t, dev, enc))

	data, err := ReadBuffer(context.Background(), dev, b, time.Second, nil)
	require.NoError(t, err)
	assert.Equal(t, uint32(24), DecodeUint32s(data)[1])
}

func TestCPUDevice_BufferValidation(t *testing.T) {
	t.Parallel()
	dev := acquire(t, &CPUBackend{Limits: Limits{MaxBufferSize: 64, MaxWorkgroupsPerDimension: 4, MaxInvocationsPerWorkgroup: 16}})

	_, err := dev.CreateBuffer(BufferDescriptor{Label: "odd", Size: 6, Usage: storage})
	assert.ErrorIs(t, err, errs.ErrBackendDevice)
	_, err = dev.CreateBuffer(BufferDescriptor{Label: "big", Size: 128, Usage: storage})
	assert.ErrorIs(t, err, errs.ErrBackendDevice)

	ro := newBuf(t, dev, "ro", 4, BufferUsageStorage)
	assert.ErrorIs(t, dev.WriteBuffer(ro, 0, EncodeUint32s(1)), errs.ErrBackendDevice)
	res := <-dev.MapRead(context.Background(), ro)
	assert.ErrorIs(t, res.Err, errs.ErrBackendDevice)

	rw := newBuf(t, dev, "rw", 2, storage)
	assert.Error(t, dev.WriteBuffer(rw, 4, EncodeUint32s(1, 2)), "overflow")

	_, err = dev.CreatePipeline("missing")
	assert.ErrorIs(t, err, errs.ErrBackendDevice)

	p, err := dev.CreatePipeline("double")
	require.NoError(t, err)
	enc := dev.NewCommandEncoder("too-wide")
	enc.Dispatch(p, []Buffer{rw, rw}, 5, 1, 1)
	cb, err := enc.Finish()
	require.NoError(t, err)
	_, err = dev.Submit(cb)
	assert.ErrorIs(t, err, errs.ErrBackendDevice)

	_, err = enc.Finish()
	assert.Error(t, err, "second Finish")
}

func TestCPUDevice_PipelineInvocationLimit(t *testing.T) {
	t.Parallel()
	dev := acquire(t, &CPUBackend{Limits: Limits{MaxBufferSize: 64, MaxWorkgroupsPerDimension: 4, MaxInvocationsPerWorkgroup: 4}})
	_, err := dev.CreatePipeline("grid_min")
	assert.ErrorIs(t, err, errs.ErrBackendDevice)
}

func TestCPUDevice_KernelPanicIsBackendError(t *testing.T) {
	t.Parallel()
	dev := acquire(t, &CPUBackend{})
	p, err := dev.CreatePipeline("boom")
	require.NoError(t, err)
	enc := dev.NewCommandEncoder("boom")
	enc.Dispatch(p, nil, 1, 1, 1)
	err = submitAndWait(t, dev, enc)
	assert.ErrorIs(t, err, errs.ErrBackendDevice)
	assert.Contains(t, err.Error(), "panicked")
}

func TestCPUDevice_LiveBuffers(t *testing.T) {
	t.Parallel()
	dev := acquire(t, &CPUBackend{})
	buf, err := dev.CreateBuffer(BufferDescriptor{Label: "x", Size: 8, Usage: storage})
	require.NoError(t, err)
	assert.Equal(t, 1, dev.LiveBuffers())
	buf.Destroy()
	buf.Destroy()
	assert.Equal(t, 0, dev.LiveBuffers())
	assert.Error(t, dev.WriteBuffer(buf, 0, EncodeUint32s(1)))
}

func TestFaultPlan_NoAdapter(t *testing.T) {
	t.Parallel()
	b := &CPUBackend{Faults: &FaultPlan{NoAdapter: true}}
	_, err := b.AcquireDevice(context.Background())
	assert.ErrorIs(t, err, errs.ErrDeviceUnavailable)
}

func TestFaultPlan_AllocationFailure(t *testing.T) {
	t.Parallel()
	dev := acquire(t, &CPUBackend{Faults: &FaultPlan{FailAllocation: 2}})
	newBuf(t, dev, "first", 1, storage)
	_, err := dev.CreateBuffer(BufferDescriptor{Label: "second", Size: 4, Usage: storage})
	assert.ErrorIs(t, err, errs.ErrBackendDevice)
	newBuf(t, dev, "third", 1, storage)
}

func TestFaultPlan_DeviceLost(t *testing.T) {
	t.Parallel()
	dev := acquire(t, &CPUBackend{Faults: &FaultPlan{LoseDeviceAtDispatch: 2}})
	a := newBuf(t, dev, "a", 8, storage)
	b := newBuf(t, dev, "b", 8, storage)
	p, err := dev.CreatePipeline("double")
	require.NoError(t, err)

	enc := dev.NewCommandEncoder("lost")
	enc.Dispatch(p, []Buffer{a, b}, 1, 1, 1)
	enc.Dispatch(p, []Buffer{b, a}, 1, 1, 1)
	err = submitAndWait(t, dev, enc)
	assert.True(t, errors.Is(err, errs.ErrDeviceLost))
	assert.True(t, errors.Is(err, errs.ErrBackendDevice))
	assert.Equal(t, "device_lost", errs.Kind(err))

	_, err = dev.CreateBuffer(BufferDescriptor{Label: "after", Size: 4, Usage: storage})
	assert.ErrorIs(t, err, errs.ErrDeviceLost)
}

func TestReadBuffer_StallTimesOut(t *testing.T) {
	t.Parallel()
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	dev := acquire(t, &CPUBackend{Clock: clock, Faults: &FaultPlan{StallMapRead: true}})
	buf := newBuf(t, dev, "stalled", 1, BufferUsageMapRead|BufferUsageCopyDst)

	errCh := make(chan error, 1)
	go func() {
		_, err := ReadBuffer(context.Background(), dev, buf, time.Second, clock)
		errCh <- err
	}()
	require.Eventually(t, func() bool { return clock.PendingTimers() > 0 }, time.Second, time.Millisecond)
	clock.Advance(2 * time.Second)

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, errs.ErrMappingTimeout)
	case <-time.After(5 * time.Second):
		t.Fatal("ReadBuffer did not return after timeout")
	}
}

func TestReadBuffer_ContextCancelled(t *testing.T) {
	t.Parallel()
	dev := acquire(t, &CPUBackend{Faults: &FaultPlan{StallMapRead: true}})
	buf := newBuf(t, dev, "stalled", 1, BufferUsageMapRead|BufferUsageCopyDst)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ReadBuffer(ctx, dev, buf, time.Minute, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAcquireDevice_PowerPreference(t *testing.T) {
	t.Parallel()
	dev := acquire(t, NewCPUBackend(AcquireOptions{PowerPreference: LowPower, Label: "test"}))
	assert.Equal(t, "cpu (1 workers)", dev.Name())
	assert.Equal(t, DefaultLimits, dev.Limits())

	assert.Equal(t, LowPower, ParsePowerPreference("low-power"))
	assert.Equal(t, HighPerformance, ParsePowerPreference("anything"))
	assert.Equal(t, "high-performance", HighPerformance.String())
}

func TestAcquireDevice_CancelledContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := (&CPUBackend{}).AcquireDevice(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestKernelRegistry(t *testing.T) {
	t.Parallel()
	r := NewKernelRegistry()
	k := Kernel{Name: "k", WorkgroupSize: [3]uint32{1, 1, 1}, Func: func(Invocation, *Bindings) {}}
	require.NoError(t, r.Register(k))
	assert.Error(t, r.Register(k), "duplicate")
	assert.Error(t, r.Register(Kernel{Name: "z", WorkgroupSize: [3]uint32{0, 1, 1}, Func: k.Func}))
	assert.Error(t, r.Register(Kernel{Name: "nofunc", WorkgroupSize: [3]uint32{1, 1, 1}}))
	assert.Equal(t, []string{"k"}, r.Names())
	_, ok := r.Lookup("k")
	assert.True(t, ok)
}

func TestEncodeDecode(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []uint32{1, 2, 0xffffffff}, DecodeUint32s(EncodeUint32s(1, 2, 0xffffffff)))
	assert.Len(t, EncodeFloat64s([]float64{1.5, -2}), 16)
}
