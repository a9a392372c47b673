// Package imagesource loads a color image and its depth map from disk
// and turns them into the grids the segmenters and the sample selector
// consume.
//
// Color is decoded from PNG, JPEG, WebP or TIFF and normalized to [0, 1]
// per channel. Depth is any grayscale-convertible image (16-bit TIFF or
// PNG preserves the most precision); gray levels map linearly onto
// [0, DepthMax]. Depth is resampled to the color extent, and both are
// downscaled together when the pixel count exceeds MaxPixels.
package imagesource

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"math"

	"github.com/nfnt/resize"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/banshee-data/seathru/internal/depthmap"
	"github.com/banshee-data/seathru/internal/errs"
	"github.com/banshee-data/seathru/internal/fsutil"
	"github.com/banshee-data/seathru/internal/monitoring"
)

// DefaultRatioTolerance is the largest relative aspect ratio difference
// between color and depth accepted before loading fails.
const DefaultRatioTolerance = 0.01

// Options controls decoding and resampling.
type Options struct {
	// MaxPixels caps Width*Height of the returned grids. Zero disables downscaling.
	MaxPixels int
	// RatioTolerance overrides DefaultRatioTolerance when positive.
	RatioTolerance float64
	// DepthMax is the depth assigned to a white depth pixel. Zero means 1.
	DepthMax float64
	// InvertDepth treats black as far instead of near.
	InvertDepth bool
}

func (o Options) ratioTolerance() float64 {
	if o.RatioTolerance > 0 {
		return o.RatioTolerance
	}
	return DefaultRatioTolerance
}

func (o Options) depthMax() float64 {
	if o.DepthMax > 0 {
		return o.DepthMax
	}
	return 1
}

// Scene is a color image with a depth map of the same extent.
type Scene struct {
	Image *depthmap.RGBImage
	Depth *depthmap.DepthMap
	// SourceWidth and SourceHeight are the decoded color extent before downscaling.
	SourceWidth  int
	SourceHeight int
}

// Load reads and decodes both files through fsys and builds a Scene.
func Load(fsys fsutil.FileSystem, imagePath, depthPath string, opts Options) (*Scene, error) {
	colorImg, err := readImage(fsys, imagePath)
	if err != nil {
		return nil, fmt.Errorf("failed to load image: %w", err)
	}
	depthImg, err := readImage(fsys, depthPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load depth: %w", err)
	}
	return FromImages(colorImg, depthImg, opts)
}

// FromImages aligns already decoded images and builds a Scene.
func FromImages(colorImg, depthImg image.Image, opts Options) (*Scene, error) {
	w, h := colorImg.Bounds().Dx(), colorImg.Bounds().Dy()
	dw, dh := depthImg.Bounds().Dx(), depthImg.Bounds().Dy()
	if w == 0 || h == 0 || dw == 0 || dh == 0 {
		return nil, errs.Shape("empty input: image %dx%d, depth %dx%d", w, h, dw, dh)
	}

	// Aspect ratio check (before scaling)
	arA := float64(w) / float64(h)
	arB := float64(dw) / float64(dh)
	if tol := opts.ratioTolerance(); math.Abs(arA-arB)/arA > tol {
		return nil, errs.Shape("aspect ratios differ too much: image %.6f vs depth %.6f (tol=%.6f)", arA, arB, tol)
	}

	tw, th := TargetSize(w, h, opts.MaxPixels)
	if tw != w || th != h {
		monitoring.Diagf("imagesource: downscaling %dx%d to %dx%d (max_pixels=%d)", w, h, tw, th, opts.MaxPixels)
		colorImg = resize.Resize(uint(tw), uint(th), colorImg, resize.Bicubic)
	}

	// Depth aligned to the (possibly downscaled) color extent
	depthGray := image.NewGray16(image.Rect(0, 0, tw, th))
	xdraw.ApproxBiLinear.Scale(depthGray, depthGray.Bounds(), depthImg, depthImg.Bounds(), draw.Src, nil)

	rgb, err := toRGBImage(colorImg)
	if err != nil {
		return nil, err
	}
	depth, err := toDepthMap(depthGray, opts.depthMax(), opts.InvertDepth)
	if err != nil {
		return nil, err
	}
	return &Scene{Image: rgb, Depth: depth, SourceWidth: w, SourceHeight: h}, nil
}

// TargetSize returns the largest extent with the same aspect ratio as w x h
// whose area does not exceed maxPixels, clamping each side to at least 1.
// maxPixels <= 0 returns w, h.
func TargetSize(w, h, maxPixels int) (int, int) {
	if maxPixels <= 0 || w*h <= maxPixels {
		return w, h
	}
	s := math.Sqrt(float64(maxPixels) / float64(w*h))
	tw := int(math.Floor(float64(w) * s))
	th := int(math.Floor(float64(h) * s))
	if tw < 1 {
		tw = 1
	}
	if th < 1 {
		th = 1
	}
	return tw, th
}

func readImage(fsys fsutil.FileSystem, path string) (image.Image, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, err
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	monitoring.Tracef("imagesource: decoded %s as %s %dx%d", path, format, img.Bounds().Dx(), img.Bounds().Dy())
	return img, nil
}

func toRGBImage(img image.Image) (*depthmap.RGBImage, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	pix := make([]float64, 0, w*h*depthmap.Channels)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBA64Model.Convert(img.At(x, y)).(color.NRGBA64)
			pix = append(pix,
				float64(c.R)/math.MaxUint16,
				float64(c.G)/math.MaxUint16,
				float64(c.B)/math.MaxUint16,
			)
		}
	}
	return depthmap.NewRGBImage(h, w, pix)
}

func toDepthMap(g *image.Gray16, depthMax float64, invert bool) (*depthmap.DepthMap, error) {
	b := g.Bounds()
	w, h := b.Dx(), b.Dy()
	depths := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := float64(g.Gray16At(b.Min.X+x, b.Min.Y+y).Y) / math.MaxUint16
			if invert {
				v = 1 - v
			}
			depths[y*w+x] = v * depthMax
		}
	}
	return depthmap.New(h, w, depths)
}
