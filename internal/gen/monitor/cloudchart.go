package monitor

import (
	"fmt"
	"io"
	"math"
	"os"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/shapegen/internal/gen/dataset"
)

// RenderCloudChart writes a standalone HTML scatter chart of one cloud.
// The shape is projected onto the XY plane with depth (Z) mapped to color,
// which is enough to eyeball whether a sampled shape is plausible.
func RenderCloudChart(w io.Writer, title string, points []dataset.Point) error {
	if len(points) == 0 {
		return fmt.Errorf("no points to chart")
	}

	data := make([]opts.ScatterData, 0, len(points))
	maxAbs := 0.0
	minZ, maxZ := math.Inf(1), math.Inf(-1)
	for _, p := range points {
		if a := math.Abs(p.X); a > maxAbs {
			maxAbs = a
		}
		if a := math.Abs(p.Y); a > maxAbs {
			maxAbs = a
		}
		if p.Z < minZ {
			minZ = p.Z
		}
		if p.Z > maxZ {
			maxZ = p.Z
		}
		data = append(data, opts.ScatterData{Value: []interface{}{p.X, p.Y, p.Z}})
	}

	// Add a small padding so points at the edges are visible
	pad := maxAbs * 1.05
	if pad == 0 {
		pad = 1.0
	}
	if maxZ == minZ {
		maxZ = minZ + 1
	}

	// Force a square plot by using equal width/height and symmetric axis ranges
	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Theme: "dark", Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("points=%d", len(data))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: -pad, Max: pad, Name: "X", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: -pad, Max: pad, Name: "Y", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        float32(minZ),
			Max:        float32(maxZ),
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: []string{"#440154", "#482777", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"}},
		}),
	)

	scatter.AddSeries("cloud", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 3}))
	return scatter.Render(w)
}

// WriteCloudChart renders a cloud chart to an HTML file.
func WriteCloudChart(path, title string, points []dataset.Point) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create chart file: %w", err)
	}
	defer f.Close()
	return RenderCloudChart(f, title, points)
}
