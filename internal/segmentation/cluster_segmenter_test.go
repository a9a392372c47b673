package segmentation

import (
	"context"
	"testing"

	"github.com/banshee-data/seathru/internal/clustering"
	"github.com/banshee-data/seathru/internal/compute"
	"github.com/banshee-data/seathru/internal/depthmap"
	"github.com/banshee-data/seathru/internal/errs"
	"github.com/banshee-data/seathru/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClusterSegmenter(backend compute.Backend) *ClusterSegmenter {
	engine := clustering.NewEngine(backend, clustering.DefaultOptions())
	return NewClusterSegmenter(clustering.NewDBSCANClusterer(engine, clustering.Params{Eps: 1.5, MinPoints: 3}), 1)
}

func TestClusterSegmenter_TwoPlateaus(t *testing.T) {
	t.Parallel()
	depth, err := depthmap.New(4, 6, testutil.Blocks(4, 6, 0, 10))
	require.NoError(t, err)

	nmap, count, err := newClusterSegmenter(&compute.CPUBackend{}).Segment(context.Background(), depth)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), count)
	row := []int32{0, 0, 0, 1, 1, 1}
	assertRows(t, [][]int32{row, row, row, row}, nmap)
}

func TestClusterSegmenter_NoiseBecomesSingletons(t *testing.T) {
	t.Parallel()
	depth := mustDepth(t, [][]float64{
		{0, 0, 0},
		{0, 0, 0},
		{0, 0, 50},
	})
	nmap, count, err := newClusterSegmenter(&compute.CPUBackend{}).Segment(context.Background(), depth)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), count)
	assertRows(t, [][]int32{{0, 0, 0}, {0, 0, 0}, {0, 0, 1}}, nmap)
}

func TestClusterSegmenter_Errors(t *testing.T) {
	t.Parallel()
	depth := mustDepth(t, [][]float64{{0, 1}})

	s := newClusterSegmenter(&compute.CPUBackend{Faults: &compute.FaultPlan{NoAdapter: true}})
	_, _, err := s.Segment(context.Background(), depth)
	assert.ErrorIs(t, err, errs.ErrDeviceUnavailable)

	_, _, err = (&ClusterSegmenter{}).Segment(context.Background(), depth)
	assert.ErrorIs(t, err, errs.ErrInvalidParameter)

	_, _, err = s.Segment(context.Background(), nil)
	assert.ErrorIs(t, err, errs.ErrShapeMismatch)
}

func TestSegmenters_AreInterchangeable(t *testing.T) {
	t.Parallel()
	depth, err := depthmap.New(3, 4, testutil.Blocks(3, 4, 0, 10))
	require.NoError(t, err)

	for name, s := range map[string]Segmenter{
		"flood":  &FloodSegmenter{EpsilonFraction: 0.05},
		"dbscan": newClusterSegmenter(&compute.CPUBackend{}),
	} {
		nmap, count, err := s.Segment(context.Background(), depth)
		require.NoError(t, err, name)
		assert.Equal(t, uint32(1), count, name)
		assert.Equal(t, int32(0), nmap.At(0, 0), name)
		assert.NotEqual(t, int32(0), nmap.At(2, 3), name)
	}
}
