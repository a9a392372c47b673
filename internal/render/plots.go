package render

import (
	"fmt"
	"image/color"
	"path/filepath"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/seathru/internal/backscatter"
	"github.com/banshee-data/seathru/internal/fsutil"
)

var channelNames = [3]string{"red", "green", "blue"}

var channelColors = [3]color.RGBA{
	{R: 220, G: 40, B: 40, A: 255},
	{R: 40, G: 160, B: 60, A: 255},
	{R: 40, G: 80, B: 220, A: 255},
}

// SamplesPlot builds a depth vs intensity scatter with one series per channel.
func SamplesPlot(samples backscatter.Samples, title string) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Depth"
	p.Y.Label.Text = "Intensity"

	for ch, seq := range samples {
		if len(seq) == 0 {
			continue
		}
		pts := make(plotter.XYs, len(seq))
		for i, s := range seq {
			pts[i] = plotter.XY{X: s.Depth, Y: s.Intensity}
		}
		sc, err := plotter.NewScatter(pts)
		if err != nil {
			return nil, err
		}
		sc.GlyphStyle.Color = channelColors[ch]
		sc.GlyphStyle.Radius = vg.Points(1.5)
		p.Add(sc)
		p.Legend.Add(channelNames[ch], sc)
	}
	return p, nil
}

// PlotSamples writes the samples scatter to path. The extension picks the
// format (.png, .svg or .pdf).
func PlotSamples(fsys fsutil.FileSystem, path string, samples backscatter.Samples) error {
	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	switch format {
	case "png", "svg", "pdf":
	default:
		return fmt.Errorf("unsupported plot format %q", format)
	}

	p, err := SamplesPlot(samples, fmt.Sprintf("Backscatter samples (n=%d)", samples.Len()))
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(8*vg.Inch, 5*vg.Inch, format)
	if err != nil {
		return fmt.Errorf("failed to render plot: %w", err)
	}

	f, err := fsys.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if _, err := wt.WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}
