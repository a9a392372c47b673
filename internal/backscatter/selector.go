// Package backscatter picks the dark pixels used to fit the backscatter
// model: per depth bin, the least bright fraction of cells, reported per
// color channel.
package backscatter

import (
	"fmt"
	"math"
	"sort"

	"github.com/banshee-data/seathru/internal/depthmap"
	"github.com/banshee-data/seathru/internal/errs"
	"github.com/banshee-data/seathru/internal/monitoring"
)

// Sample is one selected pixel: its depth and one channel's intensity.
type Sample struct {
	Depth     float64
	Intensity float64
}

// SampleSequence is the ordered samples of one channel.
type SampleSequence []Sample

// Samples holds one sequence per output channel, indexed by Red, Green, Blue.
type Samples [3]SampleSequence

// Len returns the number of selected pixels.
func (s Samples) Len() int { return len(s[Red]) }

// SelectorParams control sample selection.
type SelectorParams struct {
	// NumBins equal-width depth bins span [min, max].
	NumBins int
	// Fraction of each bin's qualifying cells to take, rounded up.
	Fraction float64
	// MaxPerBin is the selection budget shared by all bins.
	MaxPerBin int
	// MinDepthFraction of the depth range above the minimum below which
	// cells are ignored.
	MinDepthFraction float64
	ChannelOrder     ChannelOrder
}

// DefaultSelectorParams returns the default selector parameters.
func DefaultSelectorParams() SelectorParams {
	return SelectorParams{
		NumBins:          10,
		Fraction:         0.01,
		MaxPerBin:        10000,
		MinDepthFraction: 0.1,
		ChannelOrder:     RGB,
	}
}

// Validate checks parameter ranges.
func (p SelectorParams) Validate() error {
	if p.NumBins < 1 {
		return errs.Invalid("num bins must be >= 1, got %d", p.NumBins)
	}
	if !(p.Fraction > 0 && p.Fraction <= 1) {
		return errs.Invalid("fraction must be in (0, 1], got %v", p.Fraction)
	}
	if p.MaxPerBin < 0 {
		return errs.Invalid("max per bin must be >= 0, got %d", p.MaxPerBin)
	}
	if !(p.MinDepthFraction >= 0 && p.MinDepthFraction < 1) {
		return errs.Invalid("min depth fraction must be in [0, 1), got %v", p.MinDepthFraction)
	}
	if !p.ChannelOrder.Valid() {
		return errs.Invalid("channel order %v is not a permutation", [3]int(p.ChannelOrder))
	}
	return nil
}

// SelectSamples returns, per channel, the (depth, intensity) pairs of the
// darkest cells of every depth bin. Within a bin cells are taken in
// ascending brightness, ties in row-major order. Neither input is modified.
func SelectSamples(depth *depthmap.DepthMap, image *depthmap.RGBImage, p SelectorParams) (Samples, error) {
	if depth == nil || image == nil {
		return Samples{}, errs.Shape("depth map and image are required")
	}
	if err := image.MatchShape(depth); err != nil {
		return Samples{}, err
	}
	if err := p.Validate(); err != nil {
		return Samples{}, err
	}

	lo, hi := depth.Range()
	if lo == hi {
		return Samples{}, fmt.Errorf("%w: all depths equal %v", errs.ErrDegenerateDepthRange, lo)
	}
	span := hi - lo
	minDepth := lo + p.MinDepthFraction*span
	intensity := image.Intensity()

	bins := make([][]int, p.NumBins)
	for i, d := range depth.Depths {
		if d <= minDepth {
			continue
		}
		b := int((d - lo) / span * float64(p.NumBins))
		if b >= p.NumBins {
			b = p.NumBins - 1
		}
		bins[b] = append(bins[b], i)
	}

	var out Samples
	for c := range out {
		out[c] = make(SampleSequence, 0)
	}
	budget := p.MaxPerBin
	for b, cells := range bins {
		if len(cells) == 0 || budget == 0 {
			monitoring.Tracef("backscatter: bin %d population=%d taken=0", b, len(cells))
			continue
		}
		sort.SliceStable(cells, func(i, j int) bool {
			return intensity.Values[cells[i]] < intensity.Values[cells[j]]
		})
		take := int(math.Ceil(p.Fraction * float64(len(cells))))
		if take > budget {
			take = budget
		}
		budget -= take
		for _, cell := range cells[:take] {
			d := depth.Depths[cell]
			for ch := range out {
				out[ch] = append(out[ch], Sample{Depth: d, Intensity: image.At(cell, p.ChannelOrder[ch])})
			}
		}
		monitoring.Tracef("backscatter: bin %d population=%d taken=%d budget_left=%d", b, len(cells), take, budget)
	}
	monitoring.Diagf("backscatter: bins=%d fraction=%.4g min_depth=%.4g selected=%d", p.NumBins, p.Fraction, minDepth, out.Len())
	return out, nil
}
