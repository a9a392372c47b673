package segmentation

import (
	"fmt"

	"github.com/banshee-data/seathru/internal/depthmap"
	"github.com/banshee-data/seathru/internal/errs"
)

// NormalizeBackground folds the background segment into id 0. The
// background is the most frequent id among cells with depth below
// min(depth) + offset; ties go to the lowest id. Cells at exactly
// min(depth) always vote when offset >= 0, so the set stays non-empty even
// where lo + offset rounds back to lo. The input map is left
// untouched and the chosen id is returned. Applying it to its own output
// changes nothing.
func NormalizeBackground(depth *depthmap.DepthMap, nmap *depthmap.NeighborhoodMap, offset float64) (*depthmap.NeighborhoodMap, int32, error) {
	if depth == nil || nmap == nil {
		return nil, 0, errs.Shape("depth and neighborhood maps are required")
	}
	if !nmap.SameShape(depth) || len(nmap.Labels) != depth.Len() {
		return nil, 0, errs.Shape("neighborhood map %dx%d vs depth %dx%d", nmap.Height, nmap.Width, depth.Height, depth.Width)
	}

	lo, _ := depth.Range()
	threshold := lo + offset

	votes := make(map[int32]int)
	for i, d := range depth.Depths {
		if d < threshold || (offset >= 0 && d == lo) {
			votes[nmap.Labels[i]]++
		}
	}
	if len(votes) == 0 {
		return nil, 0, fmt.Errorf("%w: threshold %v", errs.ErrEmptyNearZeroSet, threshold)
	}

	var bg int32
	best := -1
	for id, n := range votes {
		if n > best || (n == best && id < bg) {
			bg, best = id, n
		}
	}

	out := nmap.Clone()
	if bg != 0 {
		for i, l := range out.Labels {
			if l == bg {
				out.Labels[i] = 0
			}
		}
	}
	return out, bg, nil
}

// Compact renumbers the non-zero ids of nmap onto 1..K in row-major order
// of first appearance and returns the new map with K. Id 0 is kept.
func Compact(nmap *depthmap.NeighborhoodMap) (*depthmap.NeighborhoodMap, uint32) {
	out := nmap.Clone()
	ids := make(map[int32]int32)
	for i, l := range out.Labels {
		if l == 0 {
			continue
		}
		id, ok := ids[l]
		if !ok {
			id = int32(len(ids) + 1)
			ids[l] = id
		}
		out.Labels[i] = id
	}
	return out, uint32(len(ids))
}
