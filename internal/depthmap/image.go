package depthmap

import (
	"fmt"
	"math"

	"github.com/banshee-data/seathru/internal/errs"
)

// Channels is the number of color channels carried by RGBImage.
const Channels = 3

// RGBImage is an H x W image with three interleaved float channels.
// Channel order is whatever the image source produced; the sample
// selector maps it onto R, G, B through a ChannelOrder.
type RGBImage struct {
	Height int
	Width  int
	Pix    []float64 // len = Height * Width * Channels
}

// NewRGBImage validates and wraps an interleaved pixel slice. The slice is not copied.
func NewRGBImage(height, width int, pix []float64) (*RGBImage, error) {
	if height <= 0 || width <= 0 {
		return nil, errs.Shape("image must be non-empty, got %dx%d", height, width)
	}
	if len(pix) != height*width*Channels {
		return nil, errs.Shape("image %dx%d needs %d values, got %d", height, width, height*width*Channels, len(pix))
	}
	return &RGBImage{Height: height, Width: width, Pix: pix}, nil
}

// At returns channel ch of the pixel at flat index idx.
func (im *RGBImage) At(idx, ch int) float64 { return im.Pix[idx*Channels+ch] }

// Intensity returns the per-pixel mean of the three channels.
func (im *RGBImage) Intensity() *IntensityMap {
	n := im.Height * im.Width
	values := make([]float64, n)
	for i := 0; i < n; i++ {
		p := im.Pix[i*Channels : i*Channels+Channels]
		values[i] = p[0]/3 + p[1]/3 + p[2]/3
	}
	return &IntensityMap{Height: im.Height, Width: im.Width, Values: values}
}

// MatchShape returns ErrShapeMismatch unless the image covers the depth map's extent.
func (im *RGBImage) MatchShape(d *DepthMap) error {
	if im.Height != d.Height || im.Width != d.Width {
		return errs.Shape("depth %dx%d vs image %dx%d", d.Height, d.Width, im.Height, im.Width)
	}
	return nil
}

// IntensityMap is the normalized grayscale brightness of an RGBImage.
type IntensityMap struct {
	Height int
	Width  int
	Values []float64
}

func fmtNonFinite(row, col int, v float64) error {
	return fmt.Errorf("%w: depth %v at (%d, %d)", errs.ErrNonFinite, v, row, col)
}

func isFinite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
