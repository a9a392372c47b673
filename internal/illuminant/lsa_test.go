package illuminant

import (
	"context"
	"testing"

	"github.com/banshee-data/seathru/internal/depthmap"
	"github.com/banshee-data/seathru/internal/errs"
	"github.com/banshee-data/seathru/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalSpaceAverage_ConvergesToNeighborhoodMean(t *testing.T) {
	t.Parallel()
	// One neighborhood of two pixels plus a background pixel.
	direct, err := depthmap.NewRGBImage(1, 3, []float64{
		0.2, 0.4, 0.6,
		0.4, 0.6, 0.8,
		0.9, 0.9, 0.9,
	})
	require.NoError(t, err)
	nmap := depthmap.NewNeighborhoodMap(1, 3)
	copy(nmap.Labels, []int32{1, 1, 0})

	p := Params{P: 0.5, Convergence: 1e-10, MaxIterations: 500}
	res, err := LocalSpaceAverage(context.Background(), direct, nmap, p)
	require.NoError(t, err)
	assert.True(t, res.Converged)

	// Fixpoint of a = p*d + (1-p)*mean(a): mean(a) = mean(d), so
	// a = p*d + (1-p)*mean(d).
	wantMean := []float64{0.3, 0.5, 0.7}
	for cell := 0; cell < 2; cell++ {
		for ch := 0; ch < 3; ch++ {
			want := 0.5*direct.At(cell, ch) + 0.5*wantMean[ch]
			assert.InDelta(t, want, res.Average.At(cell, ch), 1e-8, "cell %d ch %d", cell, ch)
		}
	}
	// Background cells see a' = 0.
	for ch := 0; ch < 3; ch++ {
		assert.InDelta(t, 0.45, res.Average.At(2, ch), 1e-12)
	}
}

func TestLocalSpaceAverage_UniformImage(t *testing.T) {
	t.Parallel()
	direct, err := depthmap.NewRGBImage(2, 2, testutil.UniformRGB(2, 2, 0.3, 0.3, 0.3))
	require.NoError(t, err)
	nmap := depthmap.NewNeighborhoodMap(2, 2)
	copy(nmap.Labels, []int32{1, 1, 2, 2})

	res, err := LocalSpaceAverage(context.Background(), direct, nmap, DefaultParams())
	require.NoError(t, err)
	for _, v := range res.Average.Pix {
		assert.InDelta(t, 0.3, v, 2e-3)
	}
	assert.Equal(t, testutil.UniformRGB(2, 2, 0.3, 0.3, 0.3), direct.Pix, "input must not change")
}

func TestLocalSpaceAverage_IterationCap(t *testing.T) {
	t.Parallel()
	direct, err := depthmap.NewRGBImage(1, 2, []float64{1, 1, 1, 0, 0, 0})
	require.NoError(t, err)
	nmap := depthmap.NewNeighborhoodMap(1, 2)
	copy(nmap.Labels, []int32{1, 1})

	res, err := LocalSpaceAverage(context.Background(), direct, nmap, Params{P: 0.001, Convergence: 1e-12, MaxIterations: 3})
	require.NoError(t, err)
	assert.False(t, res.Converged)
	assert.Equal(t, 3, res.Iterations)
}

func TestLocalSpaceAverage_Errors(t *testing.T) {
	t.Parallel()
	direct, err := depthmap.NewRGBImage(1, 1, []float64{1, 1, 1})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = LocalSpaceAverage(ctx, direct, depthmap.NewNeighborhoodMap(2, 1), DefaultParams())
	assert.ErrorIs(t, err, errs.ErrShapeMismatch)
	_, err = LocalSpaceAverage(ctx, nil, depthmap.NewNeighborhoodMap(1, 1), DefaultParams())
	assert.ErrorIs(t, err, errs.ErrShapeMismatch)

	nmap := depthmap.NewNeighborhoodMap(1, 1)
	for name, p := range map[string]Params{
		"p":           {P: 1.5, Convergence: 1e-5, MaxIterations: 1},
		"convergence": {P: 0.5, Convergence: 0, MaxIterations: 1},
		"iterations":  {P: 0.5, Convergence: 1e-5, MaxIterations: 0},
	} {
		_, err := LocalSpaceAverage(ctx, direct, nmap, p)
		assert.ErrorIs(t, err, errs.ErrInvalidParameter, name)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = LocalSpaceAverage(cancelled, direct, nmap, DefaultParams())
	assert.ErrorIs(t, err, context.Canceled)
}
