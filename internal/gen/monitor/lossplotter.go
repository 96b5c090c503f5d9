// Package monitor renders training curves and generated clouds for visual
// inspection: PNG loss plots after a run and standalone HTML scatter charts
// of sampled shapes.
package monitor

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// LossPlotter accumulates scalar metric series during training and renders
// one PNG per metric after the run. It implements the metric-sink interface
// the training loop emits into.
type LossPlotter struct {
	mu        sync.Mutex
	enabled   bool
	outputDir string

	// series holds per-metric time series, keyed by metric name.
	series map[string][]metricSample
}

type metricSample struct {
	Step  int
	Value float64
}

// NewLossPlotter creates a plotter. It records nothing until Start is
// called.
func NewLossPlotter() *LossPlotter {
	return &LossPlotter{series: make(map[string][]metricSample)}
}

// Start initializes the plotter for a new run.
func (lp *LossPlotter) Start(outputDir string) error {
	lp.mu.Lock()
	defer lp.mu.Unlock()

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	lp.outputDir = outputDir
	lp.enabled = true
	lp.series = make(map[string][]metricSample)
	return nil
}

// Stop disables recording. Call GeneratePlots to produce output files.
func (lp *LossPlotter) Stop() {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	lp.enabled = false
}

// Scalar records one observation.
func (lp *LossPlotter) Scalar(name string, value float64, step int) {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	if !lp.enabled {
		return
	}
	lp.series[name] = append(lp.series[name], metricSample{Step: step, Value: value})
}

// SampleCount returns the total number of recorded observations.
func (lp *LossPlotter) SampleCount() int {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	count := 0
	for _, s := range lp.series {
		count += len(s)
	}
	return count
}

// GeneratePlots creates one PNG per recorded metric plus a combined plot of
// the loss terms. Returns the number of plots generated.
func (lp *LossPlotter) GeneratePlots() (int, error) {
	lp.mu.Lock()
	defer lp.mu.Unlock()

	if lp.outputDir == "" {
		return 0, fmt.Errorf("no output directory configured")
	}
	if len(lp.series) == 0 {
		return 0, nil
	}

	var names []string
	for name := range lp.series {
		names = append(names, name)
	}
	sort.Strings(names)

	plotCount := 0
	for _, name := range names {
		if err := lp.generateMetricPlot(name, lp.series[name]); err != nil {
			return plotCount, fmt.Errorf("metric %s: %w", name, err)
		}
		plotCount++
	}

	if n, err := lp.generateCombinedLossPlot(names); err != nil {
		return plotCount, err
	} else if n > 0 {
		plotCount++
	}
	return plotCount, nil
}

func (lp *LossPlotter) generateMetricPlot(name string, samples []metricSample) error {
	p := plot.New()
	p.Title.Text = name
	p.X.Label.Text = "Step"
	p.Y.Label.Text = "Value"

	line, err := plotter.NewLine(toXYs(samples))
	if err != nil {
		return err
	}
	line.Width = vg.Points(1)
	p.Add(line)

	file := filepath.Join(lp.outputDir, sanitizeMetricName(name)+".png")
	if err := p.Save(10*vg.Inch, 5*vg.Inch, file); err != nil {
		return fmt.Errorf("save plot: %w", err)
	}
	return nil
}

// generateCombinedLossPlot overlays every metric whose name contains "loss"
// on one chart with a legend.
func (lp *LossPlotter) generateCombinedLossPlot(names []string) (int, error) {
	var lossNames []string
	for _, name := range names {
		if isLossMetric(name) {
			lossNames = append(lossNames, name)
		}
	}
	if len(lossNames) < 2 {
		return 0, nil
	}

	p := plot.New()
	p.Title.Text = "Loss Terms"
	p.X.Label.Text = "Step"
	p.Y.Label.Text = "Value"

	colors := lineColors(len(lossNames))
	for i, name := range lossNames {
		line, err := plotter.NewLine(toXYs(lp.series[name]))
		if err != nil {
			return 0, err
		}
		line.Color = colors[i]
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(name, line)
	}
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	file := filepath.Join(lp.outputDir, "losses.png")
	if err := p.Save(10*vg.Inch, 5*vg.Inch, file); err != nil {
		return 0, fmt.Errorf("save combined plot: %w", err)
	}
	return 1, nil
}

func toXYs(samples []metricSample) plotter.XYs {
	sorted := make([]metricSample, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(a, b int) bool { return sorted[a].Step < sorted[b].Step })

	pts := make(plotter.XYs, 0, len(sorted))
	for _, s := range sorted {
		pts = append(pts, plotter.XY{X: float64(s.Step), Y: s.Value})
	}
	return pts
}

func isLossMetric(name string) bool {
	return strings.Contains(name, "loss")
}

// sanitizeMetricName makes a metric name safe as a file name.
func sanitizeMetricName(name string) string {
	return strings.NewReplacer("/", "_", " ", "_").Replace(name)
}

// lineColors creates a palette of distinct colors for overlaid lines.
func lineColors(n int) []color.Color {
	if n <= 0 {
		return nil
	}
	colors := make([]color.Color, n)
	for i := 0; i < n; i++ {
		hue := float64(i) / float64(n)
		r, g, b := hslToRGB(hue, 0.7, 0.5)
		colors[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return colors
}

// hslToRGB converts HSL to RGB (0-255 range)
func hslToRGB(h, s, l float64) (r, g, b uint8) {
	var rf, gf, bf float64

	if s == 0 {
		rf, gf, bf = l, l, l
	} else {
		var q float64
		if l < 0.5 {
			q = l * (1 + s)
		} else {
			q = l + s - l*s
		}
		p := 2*l - q
		rf = hueToRGB(p, q, h+1.0/3.0)
		gf = hueToRGB(p, q, h)
		bf = hueToRGB(p, q, h-1.0/3.0)
	}

	return uint8(rf * 255), uint8(gf * 255), uint8(bf * 255)
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t += 1
	}
	if t > 1 {
		t -= 1
	}
	if t < 1.0/6.0 {
		return p + (q-p)*6*t
	}
	if t < 1.0/2.0 {
		return q
	}
	if t < 2.0/3.0 {
		return p + (q-p)*(2.0/3.0-t)*6
	}
	return p
}

// FormatTimestamp generates a timestamp string for directory naming.
func FormatTimestamp(t time.Time) string {
	return t.Format("20060102_150405")
}

// MakePlotOutputDir creates a timestamped output directory name for a run.
func MakePlotOutputDir(baseDir, runName string) string {
	ts := FormatTimestamp(time.Now())
	if runName != "" {
		return filepath.Join(baseDir, runName, ts)
	}
	return filepath.Join(baseDir, "run_"+ts)
}
