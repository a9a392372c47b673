package testutil

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAssertNoError_NilErr(t *testing.T) {
	fakeT := &testing.T{}
	AssertNoError(fakeT, nil)
	if fakeT.Failed() {
		t.Error("expected no failure for nil error")
	}
}

func TestAssertError_WithErr(t *testing.T) {
	fakeT := &testing.T{}
	AssertError(fakeT, errors.New("something wrong"))
	if fakeT.Failed() {
		t.Error("expected no failure when error is present")
	}
}

func TestBlocks(t *testing.T) {
	t.Parallel()
	got := Blocks(2, 5, 0, 1)
	want := []float64{
		0, 0, 1, 1, 1,
		0, 0, 1, 1, 1,
	}
	assert.Equal(t, want, got)
	assert.Len(t, Blocks(2, 3), 6)
}

func TestRamp(t *testing.T) {
	t.Parallel()
	got := Ramp(1, 5, 0, 4)
	assert.Equal(t, []float64{0, 1, 2, 3, 4}, got)
	assert.Equal(t, []float64{7, 7}, Ramp(2, 1, 7, 9))
}

func TestChain(t *testing.T) {
	t.Parallel()
	got := Chain(4, 0.5)
	assert.Equal(t, []float64{0, 0.5, 1, 1.5}, got)
}

func TestBlob_WithinRadius(t *testing.T) {
	t.Parallel()
	pts := Blob(7, 50, []float64{10, -10}, 1)
	assert.Len(t, pts, 100)
	for i := 0; i < len(pts); i += 2 {
		assert.LessOrEqual(t, math.Abs(pts[i]-10), 1.0)
		assert.LessOrEqual(t, math.Abs(pts[i+1]+10), 1.0)
	}
	assert.Equal(t, pts, Blob(7, 50, []float64{10, -10}, 1), "same seed must reproduce")
}

func TestUniformRGB(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []float64{1, 2, 3, 1, 2, 3}, UniformRGB(1, 2, 1, 2, 3))
}
