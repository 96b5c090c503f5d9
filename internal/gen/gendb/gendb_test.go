package gendb

import (
	"path/filepath"
	"testing"

	"github.com/banshee-data/shapegen/internal/gen/dataset"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRunMetricsRoundTrip(t *testing.T) {
	db := openTestDB(t)

	runID, err := db.StartRun(map[string]int{"latent_dim": 128}, "smoke test")
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if runID == "" {
		t.Fatal("empty run ID")
	}

	for step, v := range []float64{3.5, 2.25, 1.0} {
		if err := db.RecordMetric(runID, "train/loss_recons", step, v); err != nil {
			t.Fatalf("RecordMetric step %d: %v", step, err)
		}
	}
	if err := db.RecordMetric(runID, "train/loss_prior", 0, -4.5); err != nil {
		t.Fatalf("RecordMetric other name: %v", err)
	}

	points, err := db.Metrics(runID, "train/loss_recons")
	if err != nil {
		t.Fatalf("Metrics: %v", err)
	}
	if len(points) != 3 {
		t.Fatalf("got %d points, want 3", len(points))
	}
	for i, want := range []float64{3.5, 2.25, 1.0} {
		if points[i].Step != i || points[i].Value != want {
			t.Errorf("point %d = %+v, want step %d value %v", i, points[i], i, want)
		}
	}
}

func TestSampleRoundTrip(t *testing.T) {
	db := openTestDB(t)

	runID, err := db.StartRun(struct{}{}, "")
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	cloud := []dataset.Point{{X: 0.5, Y: -0.25, Z: 1.5}, {X: 0, Y: 1, Z: 0}}
	sampleID, err := db.RecordSample(runID, 100, 0.5, -1, cloud)
	if err != nil {
		t.Fatalf("RecordSample: %v", err)
	}

	got, err := db.Sample(sampleID)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if len(got) != len(cloud) {
		t.Fatalf("got %d points, want %d", len(got), len(cloud))
	}
	for i := range cloud {
		if got[i] != cloud[i] {
			t.Errorf("point %d = %+v, want %+v", i, got[i], cloud[i])
		}
	}
}

func TestSinkRecords(t *testing.T) {
	db := openTestDB(t)

	runID, err := db.StartRun(struct{}{}, "")
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	sink := db.NewSink(runID)
	sink.Scalar("train/z_mag", 0.75, 42)

	points, err := db.Metrics(runID, "train/z_mag")
	if err != nil {
		t.Fatalf("Metrics: %v", err)
	}
	if len(points) != 1 || points[0].Step != 42 || points[0].Value != 0.75 {
		t.Errorf("sink wrote %+v, want one point (42, 0.75)", points)
	}
}
