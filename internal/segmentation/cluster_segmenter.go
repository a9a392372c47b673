package segmentation

import (
	"context"

	"github.com/banshee-data/seathru/internal/clustering"
	"github.com/banshee-data/seathru/internal/depthmap"
	"github.com/banshee-data/seathru/internal/errs"
	"github.com/banshee-data/seathru/internal/monitoring"
)

// ClusterSegmenter segments a depth map by density clustering of
// (row, col, depth*DepthScale) points. Cluster k becomes region k; every
// noise cell then becomes its own region in row-major order, so no cell
// is left unlabeled. The result is background-normalized and compacted.
type ClusterSegmenter struct {
	Clusterer clustering.ClustererInterface
	// DepthScale weighs depth against pixel distance. Zero means 1.
	DepthScale float64
	// NearZeroOffset defaults to DefaultNearZeroOffset when zero.
	NearZeroOffset float64
}

var _ Segmenter = (*ClusterSegmenter)(nil)

// NewClusterSegmenter returns a ClusterSegmenter using c.
func NewClusterSegmenter(c clustering.ClustererInterface, depthScale float64) *ClusterSegmenter {
	return &ClusterSegmenter{Clusterer: c, DepthScale: depthScale}
}

// Segment implements Segmenter.
func (s *ClusterSegmenter) Segment(ctx context.Context, depth *depthmap.DepthMap) (*depthmap.NeighborhoodMap, uint32, error) {
	if depth == nil || depth.Len() == 0 {
		return nil, 0, errs.Shape("depth map is empty")
	}
	if s.Clusterer == nil {
		return nil, 0, errs.Invalid("cluster segmenter has no clusterer")
	}
	scale := s.DepthScale
	if scale == 0 {
		scale = 1
	}

	coords := make([]float64, 0, depth.Len()*3)
	for r := 0; r < depth.Height; r++ {
		for c := 0; c < depth.Width; c++ {
			coords = append(coords, float64(r), float64(c), depth.At(r, c)*scale)
		}
	}
	points, err := clustering.NewPointSet(depth.Len(), 3, coords)
	if err != nil {
		return nil, 0, err
	}
	labels, err := s.Clusterer.Cluster(ctx, points)
	if err != nil {
		return nil, 0, err
	}

	nmap := depthmap.NewNeighborhoodMap(depth.Height, depth.Width)
	clusters := int32(labels.NumClusters())
	next := clusters
	for i, l := range labels {
		if l != 0 {
			nmap.Labels[i] = int32(l)
			continue
		}
		next++
		nmap.Labels[i] = next
	}
	params := s.Clusterer.GetParams()
	monitoring.Diagf("segment: dbscan eps=%.4g min_points=%d depth_scale=%.4g clusters=%d noise=%d",
		params.Eps, params.MinPoints, scale, clusters, next-clusters)

	offset := s.NearZeroOffset
	if offset == 0 {
		offset = DefaultNearZeroOffset
	}
	normalized, _, err := NormalizeBackground(depth, nmap, offset)
	if err != nil {
		return nil, 0, err
	}
	out, count := Compact(normalized)
	return out, count, nil
}
