package segmentation

import (
	"testing"

	"github.com/banshee-data/seathru/internal/depthmap"
	"github.com/banshee-data/seathru/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func labeled(t *testing.T, h, w int, labels ...int32) *depthmap.NeighborhoodMap {
	t.Helper()
	require.Len(t, labels, h*w)
	n := depthmap.NewNeighborhoodMap(h, w)
	copy(n.Labels, labels)
	return n
}

func TestNormalizeBackground_MajorityWins(t *testing.T) {
	t.Parallel()
	depth := mustDepth(t, [][]float64{{0, 0, 0, 7}, {0, 3, 3, 7}})
	nmap := labeled(t, 2, 4, 1, 2, 2, 3, 2, 4, 4, 3)

	out, bg, err := NormalizeBackground(depth, nmap, DefaultNearZeroOffset)
	require.NoError(t, err)
	assert.Equal(t, int32(2), bg)
	assert.Equal(t, []int32{1, 0, 0, 3, 0, 4, 4, 3}, out.Labels)
	assert.Equal(t, []int32{1, 2, 2, 3, 2, 4, 4, 3}, nmap.Labels, "input must not change")
}

func TestNormalizeBackground_TieGoesToLowestID(t *testing.T) {
	t.Parallel()
	depth := mustDepth(t, [][]float64{{0, 0, 5, 5}})
	out, bg, err := NormalizeBackground(depth, labeled(t, 1, 4, 3, 2, 1, 1), DefaultNearZeroOffset)
	require.NoError(t, err)
	assert.Equal(t, int32(2), bg)
	assert.Equal(t, []int32{3, 0, 1, 1}, out.Labels)
}

func TestNormalizeBackground_Idempotent(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		depth  [][]float64
		labels []int32
	}{
		{"majority", [][]float64{{0, 0, 0, 7}, {0, 3, 3, 7}}, []int32{1, 2, 2, 3, 2, 4, 4, 3}},
		{"tie", [][]float64{{0, 0, 0, 0}, {1, 1, 1, 1}}, []int32{5, 5, 2, 2, 1, 1, 1, 1}},
		{"single", [][]float64{{1, 1}, {1, 1}}, []int32{1, 1, 1, 1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			depth := mustDepth(t, tc.depth)
			once, _, err := NormalizeBackground(depth, labeled(t, depth.Height, depth.Width, tc.labels...), DefaultNearZeroOffset)
			require.NoError(t, err)
			twice, bg, err := NormalizeBackground(depth, once, DefaultNearZeroOffset)
			require.NoError(t, err)
			assert.Equal(t, int32(0), bg)
			assert.Equal(t, once.Labels, twice.Labels)
		})
	}
}

func TestNormalizeBackground_Errors(t *testing.T) {
	t.Parallel()
	depth := mustDepth(t, [][]float64{{0, 1}})

	_, _, err := NormalizeBackground(depth, depthmap.NewNeighborhoodMap(2, 1), DefaultNearZeroOffset)
	assert.ErrorIs(t, err, errs.ErrShapeMismatch)
	_, _, err = NormalizeBackground(nil, depthmap.NewNeighborhoodMap(1, 2), DefaultNearZeroOffset)
	assert.ErrorIs(t, err, errs.ErrShapeMismatch)
	_, _, err = NormalizeBackground(depth, labeled(t, 1, 2, 1, 2), -1)
	assert.ErrorIs(t, err, errs.ErrEmptyNearZeroSet)
}

func TestNormalizeBackground_MinimumAlwaysVotes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		rows   [][]float64
		offset float64
	}{
		{"zero offset", [][]float64{{0, 0, 5}}, 0},
		{"offset lost to rounding", [][]float64{{1e12, 1e12, 2e12}}, DefaultNearZeroOffset},
		{"negative large depths", [][]float64{{-1e15, -1e15, 0}}, DefaultNearZeroOffset},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			out, bg, err := NormalizeBackground(mustDepth(t, tt.rows), labeled(t, 1, 3, 3, 3, 1), tt.offset)
			require.NoError(t, err)
			assert.Equal(t, int32(3), bg)
			assert.Equal(t, []int32{0, 0, 1}, out.Labels)
		})
	}
}

func TestCompact(t *testing.T) {
	t.Parallel()
	out, k := Compact(labeled(t, 2, 3, 0, 7, 7, 3, 0, 9))
	assert.Equal(t, uint32(3), k)
	assert.Equal(t, []int32{0, 1, 1, 2, 0, 3}, out.Labels)
}
