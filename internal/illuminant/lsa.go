// Package illuminant estimates the local illuminant of an image as the
// local space average of color over each depth neighborhood.
package illuminant

import (
	"context"
	"math"

	"github.com/banshee-data/seathru/internal/depthmap"
	"github.com/banshee-data/seathru/internal/errs"
	"github.com/banshee-data/seathru/internal/monitoring"
	"gonum.org/v1/gonum/floats"
)

// Params control the local space average iteration.
type Params struct {
	// P weighs the direct signal against the neighborhood mean, in [0, 1].
	P float64
	// Convergence stops iterating once no element moves more than this.
	Convergence float64
	// MaxIterations caps the iteration count.
	MaxIterations int
}

// DefaultParams returns the default iteration parameters.
func DefaultParams() Params {
	return Params{P: 0.01, Convergence: 1e-5, MaxIterations: 2000}
}

// Result is the converged estimate.
type Result struct {
	Average    *depthmap.RGBImage
	Iterations int
	Converged  bool
}

// LocalSpaceAverage iterates a = p*direct + (1-p)*a', where a' is the
// per-neighborhood channel mean of a. Cells of neighborhood 0 have a' = 0.
// Iteration starts from a = 0 and stops when the largest per-element change
// is at most Convergence or after MaxIterations.
func LocalSpaceAverage(ctx context.Context, direct *depthmap.RGBImage, nmap *depthmap.NeighborhoodMap, p Params) (Result, error) {
	if direct == nil || nmap == nil {
		return Result{}, errs.Shape("image and neighborhood map are required")
	}
	if direct.Height != nmap.Height || direct.Width != nmap.Width {
		return Result{}, errs.Shape("image %dx%d vs neighborhood map %dx%d", direct.Height, direct.Width, nmap.Height, nmap.Width)
	}
	if !(p.P >= 0 && p.P <= 1) {
		return Result{}, errs.Invalid("p must be in [0, 1], got %v", p.P)
	}
	if !(p.Convergence > 0) {
		return Result{}, errs.Invalid("convergence threshold must be positive, got %v", p.Convergence)
	}
	if p.MaxIterations < 1 {
		return Result{}, errs.Invalid("max iterations must be >= 1, got %d", p.MaxIterations)
	}

	n := len(direct.Pix)
	a := make([]float64, n)
	prev := make([]float64, n)
	aPrime := make([]float64, n)
	means := newMeans(nmap)

	res := Result{}
	for res.Iterations < p.MaxIterations {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		copy(prev, a)
		means.apply(a, aPrime, nmap)
		floats.ScaleTo(a, p.P, direct.Pix)
		floats.AddScaled(a, 1-p.P, aPrime)
		res.Iterations++

		if floats.Distance(a, prev, math.Inf(1)) <= p.Convergence {
			res.Converged = true
			break
		}
	}
	monitoring.Diagf("illuminant: %dx%d neighborhoods=%d iterations=%d converged=%v",
		direct.Height, direct.Width, len(means.count)-1, res.Iterations, res.Converged)

	res.Average = &depthmap.RGBImage{Height: direct.Height, Width: direct.Width, Pix: a}
	return res, nil
}

// means accumulates per-neighborhood channel sums.
type means struct {
	count []float64
	sum   [][depthmap.Channels]float64
}

func newMeans(nmap *depthmap.NeighborhoodMap) *means {
	k := int(nmap.MaxLabel()) + 1
	m := &means{count: make([]float64, k), sum: make([][depthmap.Channels]float64, k)}
	for _, l := range nmap.Labels {
		if l > 0 {
			m.count[l]++
		}
	}
	return m
}

// apply writes the neighborhood mean of a into out for every cell.
func (m *means) apply(a, out []float64, nmap *depthmap.NeighborhoodMap) {
	for i := range m.sum {
		m.sum[i] = [depthmap.Channels]float64{}
	}
	for cell, l := range nmap.Labels {
		if l <= 0 {
			continue
		}
		for ch := 0; ch < depthmap.Channels; ch++ {
			m.sum[l][ch] += a[cell*depthmap.Channels+ch]
		}
	}
	for cell, l := range nmap.Labels {
		base := cell * depthmap.Channels
		if l <= 0 {
			out[base], out[base+1], out[base+2] = 0, 0, 0
			continue
		}
		for ch := 0; ch < depthmap.Channels; ch++ {
			out[base+ch] = m.sum[l][ch] / m.count[l]
		}
	}
}
