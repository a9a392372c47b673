// Package clustering implements data-parallel density clustering (DBSCAN)
// on top of the compute backend.
//
// A run is three kernels: dbscan_core marks core points and seeds their
// labels, dbscan_propagate spreads the minimum core label across the
// eps-neighbor pair grid, and dbscan_resolve shortens label chains by
// pointer hops. Propagate and resolve repeat until a pass changes nothing.
// Every label write is an atomic min so lane order never matters.
package clustering

import (
	"context"
	"fmt"
	"math"
	"math/bits"
	"time"

	"github.com/banshee-data/seathru/internal/compute"
	"github.com/banshee-data/seathru/internal/errs"
	"github.com/banshee-data/seathru/internal/monitoring"
	"github.com/banshee-data/seathru/internal/timeutil"
)

// Default engine options.
const (
	DefaultMaxPasses  = 32
	DefaultMapTimeout = 5 * time.Second
)

// Options tune the engine.
type Options struct {
	// MaxPasses bounds the propagate+resolve passes.
	MaxPasses int
	// FlattenOnHost resolves whatever the device left unconverged after
	// MaxPasses with a sequential union-find on the host.
	FlattenOnHost bool
	// MapTimeout bounds each fence wait and host readback.
	MapTimeout time.Duration
	// Clock times readbacks. Nil means the real clock.
	Clock timeutil.Clock
}

// DefaultOptions returns the engine defaults.
func DefaultOptions() Options {
	return Options{
		MaxPasses:     DefaultMaxPasses,
		FlattenOnHost: true,
		MapTimeout:    DefaultMapTimeout,
	}
}

// Stats describes one clustering run.
type Stats struct {
	Passes       int
	Converged    bool
	HostResolved bool
	Clusters     int
	Noise        int
}

// Engine runs DBSCAN on devices acquired from a compute backend. A device is
// acquired per call and destroyed before returning.
type Engine struct {
	backend compute.Backend
	opts    Options
}

// NewEngine returns an engine using backend. Zero option fields take defaults.
func NewEngine(backend compute.Backend, opts Options) *Engine {
	if opts.MaxPasses <= 0 {
		opts.MaxPasses = DefaultMaxPasses
	}
	if opts.MapTimeout <= 0 {
		opts.MapTimeout = DefaultMapTimeout
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	return &Engine{backend: backend, opts: opts}
}

// Cluster labels every point with its cluster id, 0 for noise. Ids are
// compacted to 1..K in order of first appearance.
func (e *Engine) Cluster(ctx context.Context, points *PointSet, eps float64, minPoints uint32) (Labeling, error) {
	labels, _, err := e.ClusterWithStats(ctx, points, eps, minPoints)
	return labels, err
}

// ClusterWithStats is Cluster plus run statistics.
func (e *Engine) ClusterWithStats(ctx context.Context, points *PointSet, eps float64, minPoints uint32) (Labeling, Stats, error) {
	var stats Stats
	if points == nil || points.N < 1 || points.D < 1 || len(points.Coords) != points.N*points.D {
		return nil, stats, errs.Shape("malformed point set")
	}
	for i, v := range points.Coords {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, stats, errs.Shape("point %d coordinate %d is %v", i/points.D, i%points.D, v)
		}
	}
	if !(eps > 0) || math.IsInf(eps, 0) {
		return nil, stats, errs.Invalid("epsilon must be positive and finite, got %v", eps)
	}
	if minPoints < 1 {
		return nil, stats, errs.Invalid("min points must be >= 1")
	}

	dev, err := e.backend.AcquireDevice(ctx)
	if err != nil {
		return nil, stats, err
	}
	defer dev.Destroy()

	pointBytes := uint64(points.N) * uint64(points.D) * 8
	if limit := dev.Limits().MaxBufferSize; pointBytes > limit {
		return nil, stats, errs.Backend("allocate points", fmt.Errorf("%d points x %d dims needs %d bytes, limit %d", points.N, points.D, pointBytes, limit))
	}

	r := &run{engine: e, dev: dev, n: points.N}
	defer r.release()

	if err := r.setup(points, eps, minPoints); err != nil {
		return nil, stats, err
	}
	if err := r.core(ctx); err != nil {
		return nil, stats, err
	}

	for stats.Passes < e.opts.MaxPasses {
		if err := ctx.Err(); err != nil {
			return nil, stats, err
		}
		changed, err := r.pass(ctx)
		if err != nil {
			return nil, stats, err
		}
		stats.Passes++
		monitoring.Tracef("dbscan: pass %d changed=%v", stats.Passes, changed)
		if !changed {
			stats.Converged = true
			break
		}
	}

	raw, core, err := r.readLabels(ctx)
	if err != nil {
		return nil, stats, err
	}
	if !stats.Converged {
		if e.opts.FlattenOnHost {
			raw = resolveOnHost(points, eps, raw, core)
			stats.HostResolved = true
			monitoring.Diagf("dbscan: no fixpoint after %d passes, resolved %d points on host", stats.Passes, points.N)
		} else {
			monitoring.Diagf("dbscan: no fixpoint after %d passes, labels may split long chains", stats.Passes)
		}
	}

	labels := compact(raw)
	stats.Clusters = labels.NumClusters()
	stats.Noise = labels.NoiseCount()
	monitoring.Diagf("dbscan: n=%d d=%d eps=%.4g min_points=%d clusters=%d noise=%d passes=%d",
		points.N, points.D, eps, minPoints, stats.Clusters, stats.Noise, stats.Passes)
	return labels, stats, nil
}

// run holds the per-call device resources.
type run struct {
	engine *Engine
	dev    compute.Device
	n      int

	buffers []compute.Buffer

	params, points, coreFlags, labels, changed compute.Buffer
	labelsOut, coreOut, changedOut             compute.Buffer

	corePipe, propagatePipe, resolvePipe compute.Pipeline
}

func (r *run) buffer(label string, words int, usage compute.BufferUsage) (compute.Buffer, error) {
	buf, err := r.dev.CreateBuffer(compute.BufferDescriptor{Label: label, Size: uint64(words) * 4, Usage: usage})
	if err != nil {
		return nil, err
	}
	r.buffers = append(r.buffers, buf)
	return buf, nil
}

func (r *run) release() {
	for _, b := range r.buffers {
		b.Destroy()
	}
	r.buffers = nil
}

func (r *run) setup(points *PointSet, eps float64, minPoints uint32) error {
	const (
		storage  = compute.BufferUsageStorage | compute.BufferUsageCopySrc | compute.BufferUsageCopyDst
		readback = compute.BufferUsageMapRead | compute.BufferUsageCopyDst
	)
	n := points.N
	specs := []struct {
		dst   *compute.Buffer
		label string
		words int
		usage compute.BufferUsage
	}{
		{&r.params, "dbscan_params", paramsWords, compute.BufferUsageUniform | compute.BufferUsageCopyDst},
		{&r.points, "dbscan_points", n * points.D * 2, compute.BufferUsageStorage | compute.BufferUsageCopyDst},
		{&r.coreFlags, "dbscan_core", n, storage},
		{&r.labels, "dbscan_labels", n, storage},
		{&r.changed, "dbscan_changed", 1, storage},
		{&r.labelsOut, "dbscan_labels_staging", n, readback},
		{&r.coreOut, "dbscan_core_staging", n, readback},
		{&r.changedOut, "dbscan_changed_staging", 1, readback},
	}
	for _, s := range specs {
		buf, err := r.buffer(s.label, s.words, s.usage)
		if err != nil {
			return err
		}
		*s.dst = buf
	}

	var err error
	if r.corePipe, err = r.dev.CreatePipeline(KernelCore); err != nil {
		return err
	}
	if r.propagatePipe, err = r.dev.CreatePipeline(KernelPropagate); err != nil {
		return err
	}
	if r.resolvePipe, err = r.dev.CreatePipeline(KernelResolve); err != nil {
		return err
	}

	params := append(compute.EncodeUint32s(uint32(n), uint32(points.D), minPoints, 0), compute.EncodeFloat64s([]float64{eps})...)
	if err := r.dev.WriteBuffer(r.params, 0, params); err != nil {
		return err
	}
	return r.dev.WriteBuffer(r.points, 0, compute.EncodeFloat64s(points.Coords))
}

func (r *run) bindings() []compute.Buffer {
	return []compute.Buffer{r.params, r.points, r.coreFlags, r.labels, r.changed}
}

func groups(n, size int) uint32 {
	return uint32((n + size - 1) / size)
}

func (r *run) submit(ctx context.Context, enc compute.CommandEncoder) error {
	cb, err := enc.Finish()
	if err != nil {
		return err
	}
	fence, err := r.dev.Submit(cb)
	if err != nil {
		return err
	}
	return r.dev.Wait(ctx, fence, r.engine.opts.MapTimeout)
}

func (r *run) read(ctx context.Context, buf compute.Buffer) ([]uint32, error) {
	data, err := compute.ReadBuffer(ctx, r.dev, buf, r.engine.opts.MapTimeout, r.engine.opts.Clock)
	if err != nil {
		return nil, err
	}
	return compute.DecodeUint32s(data), nil
}

func (r *run) core(ctx context.Context) error {
	enc := r.dev.NewCommandEncoder("dbscan_core")
	enc.Dispatch(r.corePipe, r.bindings(), groups(r.n, coreWorkgroup), 1, 1)
	return r.submit(ctx, enc)
}

// pass runs one propagate dispatch followed by enough resolve hops to halve
// every chain down to its root, and reports whether any label moved.
func (r *run) pass(ctx context.Context) (bool, error) {
	if err := r.dev.WriteBuffer(r.changed, 0, compute.EncodeUint32s(0)); err != nil {
		return false, err
	}
	enc := r.dev.NewCommandEncoder("dbscan_pass")
	g := groups(r.n, pairWorkgroup)
	enc.Dispatch(r.propagatePipe, r.bindings(), g, g, 1)
	for hop := 0; hop < bits.Len(uint(r.n)); hop++ {
		enc.Dispatch(r.resolvePipe, r.bindings(), groups(r.n, coreWorkgroup), 1, 1)
	}
	enc.CopyBufferToBuffer(r.changed, r.changedOut)
	if err := r.submit(ctx, enc); err != nil {
		return false, err
	}
	flag, err := r.read(ctx, r.changedOut)
	if err != nil {
		return false, err
	}
	return flag[0] != 0, nil
}

func (r *run) readLabels(ctx context.Context) (labels, core []uint32, err error) {
	enc := r.dev.NewCommandEncoder("dbscan_readback")
	enc.CopyBufferToBuffer(r.labels, r.labelsOut)
	enc.CopyBufferToBuffer(r.coreFlags, r.coreOut)
	if err := r.submit(ctx, enc); err != nil {
		return nil, nil, err
	}
	if labels, err = r.read(ctx, r.labelsOut); err != nil {
		return nil, nil, err
	}
	if core, err = r.read(ctx, r.coreOut); err != nil {
		return nil, nil, err
	}
	return labels[:r.n], core[:r.n], nil
}
