// Package depthmap holds the 2-D grids shared by segmentation and sample
// selection: depth maps, neighborhood (segment id) maps, RGB images and
// their intensity maps.
//
// All grids are row-major with idx = row*Width + col. Grids handed to the
// segmenter or selector are treated as read-only.
package depthmap

import (
	"github.com/banshee-data/seathru/internal/errs"
	"gonum.org/v1/gonum/floats"
)

// DepthMap is an H x W grid of finite depth values.
type DepthMap struct {
	Height int
	Width  int
	Depths []float64 // len = Height * Width
}

// New validates and wraps a row-major depth slice. The slice is not copied.
func New(height, width int, depths []float64) (*DepthMap, error) {
	if height <= 0 || width <= 0 {
		return nil, errs.Shape("depth map must be non-empty, got %dx%d", height, width)
	}
	if len(depths) != height*width {
		return nil, errs.Shape("depth map %dx%d needs %d values, got %d", height, width, height*width, len(depths))
	}
	for i, v := range depths {
		if !isFinite(v) {
			return nil, fmtNonFinite(i/width, i%width, v)
		}
	}
	return &DepthMap{Height: height, Width: width, Depths: depths}, nil
}

// FromRows builds a DepthMap from a slice of equally long rows.
func FromRows(rows [][]float64) (*DepthMap, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, errs.Shape("depth map must be non-empty")
	}
	width := len(rows[0])
	depths := make([]float64, 0, len(rows)*width)
	for r, row := range rows {
		if len(row) != width {
			return nil, errs.Shape("row %d has %d values, want %d", r, len(row), width)
		}
		depths = append(depths, row...)
	}
	return New(len(rows), width, depths)
}

// Idx returns the flat index of (row, col).
func (d *DepthMap) Idx(row, col int) int { return row*d.Width + col }

// At returns the depth at (row, col).
func (d *DepthMap) At(row, col int) float64 { return d.Depths[d.Idx(row, col)] }

// Len returns the number of cells.
func (d *DepthMap) Len() int { return len(d.Depths) }

// Range returns the minimum and maximum depth.
func (d *DepthMap) Range() (lo, hi float64) {
	return floats.Min(d.Depths), floats.Max(d.Depths)
}

// NeighborhoodMap assigns a segment id to every depth cell. Id 0 is the
// normalized background segment.
type NeighborhoodMap struct {
	Height int
	Width  int
	Labels []int32
}

// NewNeighborhoodMap returns an all-zero (unlabeled) map of the given shape.
func NewNeighborhoodMap(height, width int) *NeighborhoodMap {
	return &NeighborhoodMap{
		Height: height,
		Width:  width,
		Labels: make([]int32, height*width),
	}
}

// Idx returns the flat index of (row, col).
func (n *NeighborhoodMap) Idx(row, col int) int { return row*n.Width + col }

// At returns the label at (row, col).
func (n *NeighborhoodMap) At(row, col int) int32 { return n.Labels[n.Idx(row, col)] }

// Clone returns a deep copy.
func (n *NeighborhoodMap) Clone() *NeighborhoodMap {
	out := &NeighborhoodMap{Height: n.Height, Width: n.Width, Labels: make([]int32, len(n.Labels))}
	copy(out.Labels, n.Labels)
	return out
}

// MaxLabel returns the largest segment id present.
func (n *NeighborhoodMap) MaxLabel() int32 {
	var m int32
	for _, l := range n.Labels {
		if l > m {
			m = l
		}
	}
	return m
}

// Rows returns the labels as a slice of rows, convenient for test diffs.
func (n *NeighborhoodMap) Rows() [][]int32 {
	rows := make([][]int32, n.Height)
	for r := range rows {
		rows[r] = n.Labels[r*n.Width : (r+1)*n.Width]
	}
	return rows
}

// SameShape reports whether the map matches the depth map's extent.
func (n *NeighborhoodMap) SameShape(d *DepthMap) bool {
	return n.Height == d.Height && n.Width == d.Width
}
