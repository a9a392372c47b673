package compute

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
)

// Invocation identifies one kernel lane.
type Invocation struct {
	GlobalID    [3]uint32
	LocalID     [3]uint32
	WorkgroupID [3]uint32
}

// KernelFunc is the body of a kernel, run once per lane. Lanes of one
// dispatch run concurrently; shared writes must go through the atomic
// accessors on Bindings.
type KernelFunc func(inv Invocation, b *Bindings)

// Kernel is a named kernel with its declared workgroup size.
type Kernel struct {
	Name          string
	WorkgroupSize [3]uint32
	Func          KernelFunc
}

func (k Kernel) invocations() uint32 {
	return k.WorkgroupSize[0] * k.WorkgroupSize[1] * k.WorkgroupSize[2]
}

// KernelRegistry maps kernel names to kernels.
type KernelRegistry struct {
	mu      sync.RWMutex
	kernels map[string]Kernel
}

// NewKernelRegistry returns an empty registry.
func NewKernelRegistry() *KernelRegistry {
	return &KernelRegistry{kernels: make(map[string]Kernel)}
}

// DefaultRegistry is used by CPU devices that do not set their own.
var DefaultRegistry = NewKernelRegistry()

// RegisterKernel adds k to DefaultRegistry. It panics on a duplicate or
// malformed kernel, so it belongs in package init.
func RegisterKernel(k Kernel) {
	if err := DefaultRegistry.Register(k); err != nil {
		panic(err)
	}
}

// Register adds k to the registry.
func (r *KernelRegistry) Register(k Kernel) error {
	if k.Name == "" || k.Func == nil {
		return fmt.Errorf("kernel needs a name and a function")
	}
	for _, d := range k.WorkgroupSize {
		if d == 0 {
			return fmt.Errorf("kernel %q: workgroup dimensions must be non-zero", k.Name)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.kernels[k.Name]; dup {
		return fmt.Errorf("kernel %q already registered", k.Name)
	}
	r.kernels[k.Name] = k
	return nil
}

// Lookup returns the kernel registered under name.
func (r *KernelRegistry) Lookup(name string) (Kernel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.kernels[name]
	return k, ok
}

// Names returns the registered kernel names, sorted.
func (r *KernelRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.kernels))
	for n := range r.kernels {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Bindings gives a kernel word-level access to its bound buffers. Buffers
// are arrays of 32-bit words; a float64 occupies two consecutive words.
type Bindings struct {
	buffers []*cpuBuffer
}

// Len returns the number of 32-bit words in binding.
func (b *Bindings) Len(binding int) int { return len(b.buffers[binding].words) }

// Uint32 reads word i of binding. Use only on buffers no lane writes.
func (b *Bindings) Uint32(binding, i int) uint32 { return b.buffers[binding].words[i] }

// Float64 reads the i-th float64 of binding.
func (b *Bindings) Float64(binding, i int) float64 {
	w := b.buffers[binding].words
	return math.Float64frombits(uint64(w[2*i]) | uint64(w[2*i+1])<<32)
}

// Float32 reads word i of binding as a float32.
func (b *Bindings) Float32(binding, i int) float32 {
	return math.Float32frombits(b.buffers[binding].words[i])
}

// AtomicLoad reads word i of binding atomically.
func (b *Bindings) AtomicLoad(binding, i int) uint32 {
	return atomic.LoadUint32(&b.buffers[binding].words[i])
}

// AtomicStore writes word i of binding atomically.
func (b *Bindings) AtomicStore(binding, i int, v uint32) {
	atomic.StoreUint32(&b.buffers[binding].words[i], v)
}

// AtomicAdd adds delta to word i of binding and returns the new value.
func (b *Bindings) AtomicAdd(binding, i int, delta uint32) uint32 {
	return atomic.AddUint32(&b.buffers[binding].words[i], delta)
}

// AtomicMin lowers word i of binding to v if v is smaller, using a
// compare-and-swap loop. Zero is treated as unset and always replaced.
// It reports whether the stored value changed.
func (b *Bindings) AtomicMin(binding, i int, v uint32) bool {
	addr := &b.buffers[binding].words[i]
	for {
		cur := atomic.LoadUint32(addr)
		if cur != 0 && cur <= v {
			return false
		}
		if atomic.CompareAndSwapUint32(addr, cur, v) {
			return true
		}
	}
}
