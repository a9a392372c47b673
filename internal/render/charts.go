package render

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/seathru/internal/backscatter"
)

// SamplesHTML renders the samples as an interactive scatter page.
func SamplesHTML(w io.Writer, samples backscatter.Samples, subtitle string) error {
	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Backscatter samples", Width: "900px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Backscatter samples", Subtitle: fmt.Sprintf("n=%d %s", samples.Len(), subtitle)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Depth", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Intensity", NameLocation: "middle", NameGap: 30}),
	)

	for ch, seq := range samples {
		data := make([]opts.ScatterData, 0, len(seq))
		for _, s := range seq {
			data = append(data, opts.ScatterData{Value: []interface{}{s.Depth, s.Intensity}})
		}
		c := channelColors[ch]
		scatter.AddSeries(channelNames[ch], data,
			charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}),
			charts.WithItemStyleOpts(opts.ItemStyle{Color: fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)}),
		)
	}

	if err := scatter.Render(w); err != nil {
		return fmt.Errorf("failed to render chart: %w", err)
	}
	return nil
}
