package compute

import "sync"

// FaultPlan injects failures into a CPU device. Zero values disable each fault.
type FaultPlan struct {
	// NoAdapter makes AcquireDevice fail with ErrDeviceUnavailable.
	NoAdapter bool
	// FailAllocation fails the n-th buffer allocation (1-based).
	FailAllocation int
	// LoseDeviceAtDispatch loses the device while running the n-th dispatch (1-based).
	LoseDeviceAtDispatch int
	// StallMapRead makes MapRead never deliver a result.
	StallMapRead bool

	mu          sync.Mutex
	allocations int
	dispatches  int
}

func (f *FaultPlan) allocate() bool {
	if f == nil {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.allocations++
	return f.FailAllocation > 0 && f.allocations == f.FailAllocation
}

func (f *FaultPlan) dispatch() bool {
	if f == nil {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dispatches++
	return f.LoseDeviceAtDispatch > 0 && f.dispatches == f.LoseDeviceAtDispatch
}

func (f *FaultPlan) stallMap() bool {
	return f != nil && f.StallMapRead
}

func (f *FaultPlan) noAdapter() bool {
	return f != nil && f.NoAdapter
}
