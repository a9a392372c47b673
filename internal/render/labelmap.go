package render

import (
	"fmt"
	"image"
	"image/png"
	"io"
	"path/filepath"
	"strings"

	"github.com/HugoSmits86/nativewebp"

	"github.com/banshee-data/seathru/internal/depthmap"
	"github.com/banshee-data/seathru/internal/fsutil"
)

// LabelImage paints every cell of nmap with its LabelColor.
func LabelImage(nmap *depthmap.NeighborhoodMap) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, nmap.Width, nmap.Height))
	for y := 0; y < nmap.Height; y++ {
		for x := 0; x < nmap.Width; x++ {
			img.SetRGBA(x, y, LabelColor(nmap.At(y, x)))
		}
	}
	return img
}

// WriteLabelMap renders nmap and writes it to path. The format follows the
// extension: .png or .webp (lossless).
func WriteLabelMap(fsys fsutil.FileSystem, path string, nmap *depthmap.NeighborhoodMap) error {
	return writeImage(fsys, path, LabelImage(nmap))
}

// RGBToImage converts a [0, 1] float image to 8-bit, clamping out of range values.
func RGBToImage(im *depthmap.RGBImage) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, im.Width, im.Height))
	for i := 0; i < im.Height*im.Width; i++ {
		o := i * 4
		for ch := 0; ch < depthmap.Channels; ch++ {
			img.Pix[o+ch] = to8(im.At(i, ch))
		}
		img.Pix[o+3] = 255
	}
	return img
}

// WriteRGBImage writes im to path as .png or .webp.
func WriteRGBImage(fsys fsutil.FileSystem, path string, im *depthmap.RGBImage) error {
	return writeImage(fsys, path, RGBToImage(im))
}

func to8(v float64) uint8 {
	switch {
	case !(v > 0):
		return 0
	case v >= 1:
		return 255
	default:
		return uint8(v*255 + 0.5)
	}
}

func writeImage(fsys fsutil.FileSystem, path string, img image.Image) error {
	var encode func(io.Writer, image.Image) error
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".png":
		encode = png.Encode
	case ".webp":
		encode = func(w io.Writer, img image.Image) error { return nativewebp.Encode(w, img, nil) }
	default:
		return fmt.Errorf("unsupported image format %q (want .png or .webp)", ext)
	}

	f, err := fsys.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return f.Close()
}
