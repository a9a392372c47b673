// Package testutil provides shared test utilities and fixtures.
//
// Builders return plain slices so the packages under test can wrap them in
// their own types without an import cycle.
package testutil

import (
	"math/rand"
	"testing"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// Blocks returns an h x w depth slice split into vertical bands of equal
// width, band k holding depths[k]. Trailing columns take the last band.
func Blocks(h, w int, depths ...float64) []float64 {
	out := make([]float64, h*w)
	if len(depths) == 0 {
		return out
	}
	band := w / len(depths)
	if band == 0 {
		band = 1
	}
	for r := 0; r < h; r++ {
		for c := 0; c < w; c++ {
			k := c / band
			if k >= len(depths) {
				k = len(depths) - 1
			}
			out[r*w+c] = depths[k]
		}
	}
	return out
}

// Ramp returns an h x w depth slice rising linearly along columns from lo to hi.
func Ramp(h, w int, lo, hi float64) []float64 {
	out := make([]float64, h*w)
	for r := 0; r < h; r++ {
		for c := 0; c < w; c++ {
			if w == 1 {
				out[r*w+c] = lo
				continue
			}
			out[r*w+c] = lo + (hi-lo)*float64(c)/float64(w-1)
		}
	}
	return out
}

// Chain returns n one-dimensional points spaced step apart starting at 0.
func Chain(n int, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(i) * step
	}
	return out
}

// Blob returns n points of dimension dims scattered uniformly within
// radius of center, drawn from a seeded generator.
func Blob(seed int64, n int, center []float64, radius float64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	dims := len(center)
	out := make([]float64, 0, n*dims)
	for i := 0; i < n; i++ {
		for d := 0; d < dims; d++ {
			out = append(out, center[d]+(rng.Float64()*2-1)*radius)
		}
	}
	return out
}

// UniformRGB returns an h x w interleaved RGB slice with every pixel set to (r, g, b).
func UniformRGB(h, w int, r, g, b float64) []float64 {
	out := make([]float64, 0, h*w*3)
	for i := 0; i < h*w; i++ {
		out = append(out, r, g, b)
	}
	return out
}
