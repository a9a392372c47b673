package clustering

import "github.com/banshee-data/seathru/internal/compute"

// Kernel names registered with compute.DefaultRegistry.
const (
	KernelCore      = "dbscan_core"
	KernelPropagate = "dbscan_propagate"
	KernelResolve   = "dbscan_resolve"
)

const (
	coreWorkgroup = 64
	pairWorkgroup = 16
)

// Binding slots shared by all three kernels.
const (
	bindParams = iota
	bindPoints
	bindCore
	bindLabels
	bindChanged
)

// Params buffer layout in 32-bit words.
const (
	paramN         = 0
	paramD         = 1
	paramMinPoints = 2
	paramEpsFloat  = 2 // float64 index: words 4 and 5
	paramsWords    = 6
)

func init() {
	compute.RegisterKernel(compute.Kernel{
		Name:          KernelCore,
		WorkgroupSize: [3]uint32{coreWorkgroup, 1, 1},
		Func:          coreKernel,
	})
	compute.RegisterKernel(compute.Kernel{
		Name:          KernelPropagate,
		WorkgroupSize: [3]uint32{pairWorkgroup, pairWorkgroup, 1},
		Func:          propagateKernel,
	})
	compute.RegisterKernel(compute.Kernel{
		Name:          KernelResolve,
		WorkgroupSize: [3]uint32{coreWorkgroup, 1, 1},
		Func:          resolveKernel,
	})
}

func withinEps(b *compute.Bindings, i, j, d int, eps2 float64) bool {
	var sum float64
	for k := 0; k < d; k++ {
		diff := b.Float64(bindPoints, i*d+k) - b.Float64(bindPoints, j*d+k)
		sum += diff * diff
		if !(sum <= eps2) {
			return false
		}
	}
	return true
}

func epsSquared(b *compute.Bindings) float64 {
	eps := b.Float64(bindParams, paramEpsFloat)
	return eps * eps
}

// coreKernel counts each point's eps-neighbors, itself included, and seeds
// labels[i] = i+1 for core points.
func coreKernel(inv compute.Invocation, b *compute.Bindings) {
	n := int(b.Uint32(bindParams, paramN))
	i := int(inv.GlobalID[0])
	if i >= n {
		return
	}
	d := int(b.Uint32(bindParams, paramD))
	minPts := b.Uint32(bindParams, paramMinPoints)
	eps2 := epsSquared(b)

	var count uint32
	for j := 0; j < n && count < minPts; j++ {
		if withinEps(b, i, j, d, eps2) {
			count++
		}
	}
	if count >= minPts {
		b.AtomicStore(bindCore, i, 1)
		b.AtomicStore(bindLabels, i, uint32(i+1))
		return
	}
	b.AtomicStore(bindCore, i, 0)
	b.AtomicStore(bindLabels, i, 0)
}

// propagateKernel runs over the N x N pair grid. For a core i within eps of
// j, j takes i's label if smaller. When j is core too, j's representative is
// hooked onto i's label so that whole trees merge in one step.
func propagateKernel(inv compute.Invocation, b *compute.Bindings) {
	n := int(b.Uint32(bindParams, paramN))
	i, j := int(inv.GlobalID[0]), int(inv.GlobalID[1])
	if i >= n || j >= n || i == j {
		return
	}
	if b.AtomicLoad(bindCore, i) == 0 {
		return
	}
	d := int(b.Uint32(bindParams, paramD))
	if !withinEps(b, i, j, d, epsSquared(b)) {
		return
	}
	li := b.AtomicLoad(bindLabels, i)
	changed := b.AtomicMin(bindLabels, j, li)
	if b.AtomicLoad(bindCore, j) != 0 {
		if lj := b.AtomicLoad(bindLabels, j); lj != 0 {
			if b.AtomicMin(bindLabels, int(lj-1), li) {
				changed = true
			}
		}
	}
	if changed {
		b.AtomicStore(bindChanged, 0, 1)
	}
}

// resolveKernel performs one pointer hop: labels[i] = labels[labels[i]-1].
func resolveKernel(inv compute.Invocation, b *compute.Bindings) {
	n := int(b.Uint32(bindParams, paramN))
	i := int(inv.GlobalID[0])
	if i >= n {
		return
	}
	l := b.AtomicLoad(bindLabels, i)
	if l == 0 {
		return
	}
	r := b.AtomicLoad(bindLabels, int(l-1))
	if r != 0 && r < l && b.AtomicMin(bindLabels, i, r) {
		b.AtomicStore(bindChanged, 0, 1)
	}
}
