package render

import (
	"bytes"
	"image"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/webp"

	"github.com/banshee-data/seathru/internal/backscatter"
	"github.com/banshee-data/seathru/internal/depthmap"
	"github.com/banshee-data/seathru/internal/fsutil"
)

func labelFixture() *depthmap.NeighborhoodMap {
	return &depthmap.NeighborhoodMap{
		Height: 2,
		Width:  3,
		Labels: []int32{0, 1, 1, 2, 2, 3},
	}
}

func samplesFixture() backscatter.Samples {
	var s backscatter.Samples
	for ch := range s {
		for i := 0; i < 5; i++ {
			s[ch] = append(s[ch], backscatter.Sample{Depth: float64(i), Intensity: float64(ch+1) * 0.1})
		}
	}
	return s
}

func TestLabelColor(t *testing.T) {
	t.Parallel()
	assert.Equal(t, uint8(0), LabelColor(0).R)
	assert.Equal(t, uint8(0), LabelColor(0).G)
	assert.Equal(t, uint8(255), LabelColor(0).A)

	assert.Equal(t, LabelColor(7), LabelColor(7), "palette must be deterministic")
	seen := map[[3]uint8]bool{}
	for id := int32(1); id <= 16; id++ {
		c := LabelColor(id)
		assert.Equal(t, uint8(255), c.A)
		key := [3]uint8{c.R, c.G, c.B}
		assert.False(t, seen[key], "id %d reuses a color", id)
		seen[key] = true
	}
}

func TestWriteLabelMap_PNG(t *testing.T) {
	t.Parallel()
	fsys := fsutil.NewMemoryFileSystem()
	nmap := labelFixture()
	require.NoError(t, WriteLabelMap(fsys, "out/labels.png", nmap))

	data, err := fsys.ReadFile("out/labels.png")
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assertLabelPixels(t, img, nmap)
}

func TestWriteLabelMap_WebP(t *testing.T) {
	t.Parallel()
	fsys := fsutil.NewMemoryFileSystem()
	nmap := labelFixture()
	require.NoError(t, WriteLabelMap(fsys, "labels.WEBP", nmap))

	data, err := fsys.ReadFile("labels.WEBP")
	require.NoError(t, err)
	img, err := webp.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assertLabelPixels(t, img, nmap)
}

func assertLabelPixels(t *testing.T, img image.Image, nmap *depthmap.NeighborhoodMap) {
	t.Helper()
	require.Equal(t, nmap.Width, img.Bounds().Dx())
	require.Equal(t, nmap.Height, img.Bounds().Dy())
	for y := 0; y < nmap.Height; y++ {
		for x := 0; x < nmap.Width; x++ {
			want := LabelColor(nmap.At(y, x))
			r, g, b, _ := img.At(x, y).RGBA()
			assert.Equal(t, want.R, uint8(r>>8), "R at (%d,%d)", x, y)
			assert.Equal(t, want.G, uint8(g>>8), "G at (%d,%d)", x, y)
			assert.Equal(t, want.B, uint8(b>>8), "B at (%d,%d)", x, y)
		}
	}
}

func TestWriteLabelMap_UnsupportedFormat(t *testing.T) {
	t.Parallel()
	fsys := fsutil.NewMemoryFileSystem()
	err := WriteLabelMap(fsys, "labels.bmp", labelFixture())
	assert.ErrorContains(t, err, "unsupported")
	assert.Empty(t, fsys.Files())
}

func TestPlotSamples(t *testing.T) {
	t.Parallel()
	fsys := fsutil.NewMemoryFileSystem()
	require.NoError(t, PlotSamples(fsys, "samples.png", samplesFixture()))

	data, err := fsys.ReadFile("samples.png")
	require.NoError(t, err)
	_, err = png.Decode(bytes.NewReader(data))
	assert.NoError(t, err)

	require.NoError(t, PlotSamples(fsys, "samples.svg", samplesFixture()))
	svg, err := fsys.ReadFile("samples.svg")
	require.NoError(t, err)
	assert.Contains(t, string(svg), "<svg")

	assert.Error(t, PlotSamples(fsys, "samples.gif", samplesFixture()))
}

func TestSamplesPlot_SkipsEmptyChannels(t *testing.T) {
	t.Parallel()
	p, err := SamplesPlot(backscatter.Samples{}, "empty")
	require.NoError(t, err)
	assert.Equal(t, "empty", p.Title.Text)
}

func TestSamplesHTML(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	require.NoError(t, SamplesHTML(&buf, samplesFixture(), "test"))
	html := buf.String()
	assert.True(t, strings.Contains(html, "Backscatter samples"))
	for _, name := range channelNames {
		assert.Contains(t, html, name)
	}
}

func TestWriteRGBImage(t *testing.T) {
	t.Parallel()
	im, err := depthmap.NewRGBImage(1, 2, []float64{0, 0.5, 1, -0.2, 1.7, 0.25})
	require.NoError(t, err)

	fsys := fsutil.NewMemoryFileSystem()
	require.NoError(t, WriteRGBImage(fsys, "lsa.png", im))
	data, err := fsys.ReadFile("lsa.png")
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)

	r, g, b, _ := img.At(0, 0).RGBA()
	assert.Equal(t, []uint32{0, 128, 255}, []uint32{r >> 8, g >> 8, b >> 8})
	r, g, b, _ = img.At(1, 0).RGBA()
	assert.Equal(t, []uint32{0, 255, 64}, []uint32{r >> 8, g >> 8, b >> 8})
}
