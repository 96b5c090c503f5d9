package monitor

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/banshee-data/shapegen/internal/gen/dataset"
)

func TestLossPlotterRecordsOnlyWhenStarted(t *testing.T) {
	lp := NewLossPlotter()
	lp.Scalar("train/loss_recons", 1.5, 0)
	if n := lp.SampleCount(); n != 0 {
		t.Errorf("recorded %d samples before Start, want 0", n)
	}

	if err := lp.Start(t.TempDir()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	lp.Scalar("train/loss_recons", 1.5, 0)
	lp.Scalar("train/loss_recons", 1.0, 1)
	if n := lp.SampleCount(); n != 2 {
		t.Errorf("recorded %d samples, want 2", n)
	}

	lp.Stop()
	lp.Scalar("train/loss_recons", 0.5, 2)
	if n := lp.SampleCount(); n != 2 {
		t.Errorf("recorded %d samples after Stop, want 2", n)
	}
}

func TestLossPlotterGeneratePlots(t *testing.T) {
	dir := t.TempDir()
	lp := NewLossPlotter()
	if err := lp.Start(dir); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for step := 0; step < 5; step++ {
		lp.Scalar("train/loss_recons", 2.0/float64(step+1), step)
		lp.Scalar("train/loss_prior", -1.0*float64(step), step)
		lp.Scalar("train/z_mag", 0.5, step)
	}
	lp.Stop()

	n, err := lp.GeneratePlots()
	if err != nil {
		t.Fatalf("GeneratePlots: %v", err)
	}
	// Three per-metric plots plus the combined loss chart.
	if n != 4 {
		t.Errorf("generated %d plots, want 4", n)
	}
	for _, name := range []string{"train_loss_recons.png", "train_loss_prior.png", "train_z_mag.png", "losses.png"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("missing plot %s: %v", name, err)
		}
	}
}

func TestLossPlotterRequiresOutputDir(t *testing.T) {
	lp := NewLossPlotter()
	if _, err := lp.GeneratePlots(); err == nil {
		t.Error("expected error without an output directory")
	}
}

func TestRenderCloudChart(t *testing.T) {
	points := []dataset.Point{
		{X: 0.5, Y: 0.5, Z: 0.1},
		{X: -0.5, Y: 0.25, Z: -0.3},
		{X: 0, Y: -0.75, Z: 0.9},
	}
	var buf bytes.Buffer
	if err := RenderCloudChart(&buf, "test cloud", points); err != nil {
		t.Fatalf("RenderCloudChart: %v", err)
	}
	html := buf.String()
	if !strings.Contains(html, "test cloud") {
		t.Error("rendered chart does not contain the title")
	}
	if !strings.Contains(html, "echarts") {
		t.Error("rendered chart does not reference echarts")
	}
}

func TestRenderCloudChartRejectsEmpty(t *testing.T) {
	if err := RenderCloudChart(&bytes.Buffer{}, "empty", nil); err == nil {
		t.Error("expected error for empty cloud")
	}
}

func TestWriteCloudChart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cloud.html")
	points := []dataset.Point{{X: 1, Y: 0, Z: 0}, {X: 0, Y: 1, Z: 1}}
	if err := WriteCloudChart(path, "sampled", points); err != nil {
		t.Fatalf("WriteCloudChart: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat chart: %v", err)
	}
	if info.Size() == 0 {
		t.Error("chart file is empty")
	}
}
