package clustering

import (
	"fmt"
	"math"

	"github.com/banshee-data/seathru/internal/errs"
	"gonum.org/v1/gonum/mat"
)

// PointSet is N points of D coordinates each, stored row-major.
type PointSet struct {
	N      int
	D      int
	Coords []float64
}

// NewPointSet validates and wraps coords. The slice is not copied.
func NewPointSet(n, d int, coords []float64) (*PointSet, error) {
	if n < 1 || d < 1 {
		return nil, errs.Shape("point set needs N >= 1 and D >= 1, got N=%d D=%d", n, d)
	}
	if len(coords) != n*d {
		return nil, errs.Shape("point set %dx%d needs %d coordinates, got %d", n, d, n*d, len(coords))
	}
	for i, v := range coords {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: %w: point %d coordinate %d is %v", errs.ErrShapeMismatch, errs.ErrNonFinite, i/d, i%d, v)
		}
	}
	return &PointSet{N: n, D: d, Coords: coords}, nil
}

// PointSetFromDense copies the rows of m into a PointSet.
func PointSetFromDense(m *mat.Dense) (*PointSet, error) {
	r, c := m.Dims()
	coords := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		coords = append(coords, mat.Row(nil, i, m)...)
	}
	return NewPointSet(r, c, coords)
}

// Point returns the coordinates of point i.
func (p *PointSet) Point(i int) []float64 {
	return p.Coords[i*p.D : (i+1)*p.D]
}

// Labeling holds one cluster id per point. 0 is noise.
type Labeling []uint32

// NumClusters returns the number of distinct non-zero labels.
func (l Labeling) NumClusters() int {
	seen := make(map[uint32]struct{})
	for _, v := range l {
		if v != 0 {
			seen[v] = struct{}{}
		}
	}
	return len(seen)
}

// NoiseCount returns the number of points labeled 0.
func (l Labeling) NoiseCount() int {
	n := 0
	for _, v := range l {
		if v == 0 {
			n++
		}
	}
	return n
}

// SamePartition reports whether a and b group points identically,
// ignoring the numeric label values. Noise must match noise.
func SamePartition(a, b Labeling) bool {
	if len(a) != len(b) {
		return false
	}
	ab := make(map[uint32]uint32)
	ba := make(map[uint32]uint32)
	for i := range a {
		if (a[i] == 0) != (b[i] == 0) {
			return false
		}
		if a[i] == 0 {
			continue
		}
		if m, ok := ab[a[i]]; ok && m != b[i] {
			return false
		}
		if m, ok := ba[b[i]]; ok && m != a[i] {
			return false
		}
		ab[a[i]] = b[i]
		ba[b[i]] = a[i]
	}
	return true
}

// compact renumbers labels onto 1..K in order of first appearance.
func compact(raw []uint32) Labeling {
	out := make(Labeling, len(raw))
	ids := make(map[uint32]uint32)
	for i, v := range raw {
		if v == 0 {
			continue
		}
		id, ok := ids[v]
		if !ok {
			id = uint32(len(ids) + 1)
			ids[v] = id
		}
		out[i] = id
	}
	return out
}
