// Package segmentation splits a depth map into depth-coherent
// neighborhoods.
//
// FloodSegmenter grows 4-connected regions breadth-first from seed cells;
// ClusterSegmenter runs density clustering over (row, col, depth) points.
// Both finish with background normalization, which folds the segment that
// dominates the near-zero depths into id 0.
package segmentation

import (
	"context"
	"math"
	"math/rand"

	"github.com/banshee-data/seathru/internal/depthmap"
	"github.com/banshee-data/seathru/internal/errs"
	"github.com/banshee-data/seathru/internal/monitoring"
)

// DefaultNearZeroOffset is added to the minimum depth to form the
// near-zero threshold used by background normalization.
const DefaultNearZeroOffset = 1e-5

// Segmenter produces a neighborhood map and the number of non-background
// segments in it.
type Segmenter interface {
	Segment(ctx context.Context, depth *depthmap.DepthMap) (*depthmap.NeighborhoodMap, uint32, error)
}

// FloodSegmenter is the breadth-first region growing segmenter.
type FloodSegmenter struct {
	// EpsilonFraction scales the depth range into the join tolerance.
	EpsilonFraction float64
	// RandomizedSeed picks each seed uniformly among unlabeled cells
	// instead of taking the first in row-major order.
	RandomizedSeed bool
	// NearZeroOffset defaults to DefaultNearZeroOffset when zero.
	NearZeroOffset float64
	// Rand drives randomized seeding. Nil uses a fixed-seed source.
	Rand *rand.Rand
}

var _ Segmenter = (*FloodSegmenter)(nil)

// Segment labels every cell of depth with a region id, normalizes the
// background to 0 and returns the surviving region count.
func (s *FloodSegmenter) Segment(ctx context.Context, depth *depthmap.DepthMap) (*depthmap.NeighborhoodMap, uint32, error) {
	if depth == nil || depth.Len() == 0 {
		return nil, 0, errs.Shape("depth map is empty")
	}
	if !(s.EpsilonFraction > 0) || math.IsInf(s.EpsilonFraction, 0) {
		return nil, 0, errs.Invalid("epsilon fraction must be positive, got %v", s.EpsilonFraction)
	}

	lo, hi := depth.Range()
	scaledEps := (hi - lo) * s.EpsilonFraction

	var next func([]int32) int
	if s.RandomizedSeed {
		rng := s.Rand
		if rng == nil {
			rng = rand.New(rand.NewSource(1))
		}
		next = permutationSeeds(rng.Perm(depth.Len()))
	} else {
		next = rowMajorSeeds()
	}

	nmap, regions, err := grow(ctx, depth, scaledEps, next)
	if err != nil {
		return nil, 0, err
	}
	monitoring.Diagf("segment: %dx%d scaled_eps=%.6g regions=%d randomized=%v",
		depth.Height, depth.Width, scaledEps, regions, s.RandomizedSeed)

	out, bg, err := NormalizeBackground(depth, nmap, s.offset())
	if err != nil {
		return nil, 0, err
	}
	monitoring.Tracef("segment: background id %d folded to 0", bg)
	return out, regions - 1, nil
}

func (s *FloodSegmenter) offset() float64 {
	if s.NearZeroOffset == 0 {
		return DefaultNearZeroOffset
	}
	return s.NearZeroOffset
}

// Segment runs a FloodSegmenter with the default near-zero offset.
func Segment(depth *depthmap.DepthMap, epsilonFraction float64, randomizedSeed bool) (*depthmap.NeighborhoodMap, uint32, error) {
	s := &FloodSegmenter{EpsilonFraction: epsilonFraction, RandomizedSeed: randomizedSeed}
	return s.Segment(context.Background(), depth)
}

// rowMajorSeeds returns the first unlabeled cell in row-major order, or -1.
func rowMajorSeeds() func([]int32) int {
	cursor := 0
	return func(labels []int32) int {
		for ; cursor < len(labels); cursor++ {
			if labels[cursor] == 0 {
				return cursor
			}
		}
		return -1
	}
}

// permutationSeeds walks a random permutation of the cells. The first
// unlabeled cell left in the permutation is uniform over the unlabeled set.
func permutationSeeds(order []int) func([]int32) int {
	cursor := 0
	return func(labels []int32) int {
		for ; cursor < len(order); cursor++ {
			if labels[order[cursor]] == 0 {
				return order[cursor]
			}
		}
		return -1
	}
}

// grow floods regions from successive seeds until every cell is labeled.
// A dequeued cell joins the current region if it is still unlabeled and
// within scaledEps of the seed depth; joining cells enqueue their unlabeled
// 4-neighbors untested.
func grow(ctx context.Context, depth *depthmap.DepthMap, scaledEps float64, nextSeed func([]int32) int) (*depthmap.NeighborhoodMap, uint32, error) {
	h, w := depth.Height, depth.Width
	nmap := depthmap.NewNeighborhoodMap(h, w)
	labels := nmap.Labels

	var regionID int32
	queue := make([]int, 0, 64)
	for {
		seed := nextSeed(labels)
		if seed < 0 {
			break
		}
		if regionID%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, 0, err
			}
		}
		regionID++
		seedDepth := depth.Depths[seed]
		size := 0

		queue = append(queue[:0], seed)
		for len(queue) > 0 {
			cell := queue[0]
			queue = queue[1:]

			if labels[cell] != 0 || math.Abs(depth.Depths[cell]-seedDepth) > scaledEps {
				continue
			}
			labels[cell] = regionID
			size++

			r, c := cell/w, cell%w
			if r > 0 && labels[cell-w] == 0 {
				queue = append(queue, cell-w)
			}
			if r < h-1 && labels[cell+w] == 0 {
				queue = append(queue, cell+w)
			}
			if c > 0 && labels[cell-1] == 0 {
				queue = append(queue, cell-1)
			}
			if c < w-1 && labels[cell+1] == 0 {
				queue = append(queue, cell+1)
			}
		}
		monitoring.Tracef("segment: region %d seed=(%d,%d) depth=%.4g cells=%d", regionID, seed/w, seed%w, seedDepth, size)
	}
	return nmap, uint32(regionID), nil
}
