package dataset

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestPointBlobRoundTrip(t *testing.T) {
	points := []Point{
		{X: 0.5, Y: -1.25, Z: 3.75},
		{X: 0, Y: 0, Z: 0},
		{X: -100.5, Y: 42, Z: 0.125},
	}
	blob := EncodePointBlob(points)
	if len(blob) != len(points)*12 {
		t.Fatalf("blob length = %d, want %d", len(blob), len(points)*12)
	}
	got, err := DecodePointBlob(blob)
	if err != nil {
		t.Fatalf("DecodePointBlob: %v", err)
	}
	// All test coordinates are exactly representable as float32.
	for i := range points {
		if got[i] != points[i] {
			t.Errorf("point %d = %+v, want %+v", i, got[i], points[i])
		}
	}
}

func TestDecodePointBlobRejectsTruncated(t *testing.T) {
	if _, err := DecodePointBlob(make([]byte, 13)); err == nil {
		t.Error("expected error for blob not a multiple of the point size")
	}
}

func TestArchiveInsertAndQuery(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clouds.db")
	a, err := OpenArchive(path)
	if err != nil {
		t.Fatalf("OpenArchive: %v", err)
	}
	defer a.Close()

	want := RawCloud{
		SynsetID:  "03001627",
		Split:     "train",
		ObjIndex:  7,
		ViewAngle: math.Pi / 4,
		Yaw:       -math.Pi / 2,
		Points:    []Point{{X: 1, Y: 2, Z: 3}, {X: -1, Y: 0.5, Z: 0.25}},
	}
	if err := a.InsertCloud(want); err != nil {
		t.Fatalf("InsertCloud: %v", err)
	}
	// Second cloud in another split should not show up in the train query.
	other := want
	other.Split = "val"
	other.ObjIndex = 0
	if err := a.InsertCloud(other); err != nil {
		t.Fatalf("InsertCloud val: %v", err)
	}

	clouds, err := a.Clouds("03001627", "train")
	if err != nil {
		t.Fatalf("Clouds: %v", err)
	}
	if len(clouds) != 1 {
		t.Fatalf("got %d train clouds, want 1", len(clouds))
	}
	// All test coordinates are exactly representable as float32, so the
	// round trip is lossless.
	if diff := cmp.Diff(want, clouds[0]); diff != "" {
		t.Errorf("cloud mismatch (-want +got):\n%s", diff)
	}
}

func TestArchiveRejectsBadSplit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clouds.db")
	a, err := OpenArchive(path)
	if err != nil {
		t.Fatalf("OpenArchive: %v", err)
	}
	defer a.Close()

	err = a.InsertCloud(RawCloud{
		SynsetID: "03001627",
		Split:    "validation",
		Points:   []Point{{X: 1}},
	})
	if err == nil {
		t.Error("expected schema check to reject unknown split")
	}
}

func TestArchiveAllPointsVisitsEverySynset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clouds.db")
	a, err := OpenArchive(path)
	if err != nil {
		t.Fatalf("OpenArchive: %v", err)
	}
	defer a.Close()

	for i, id := range []string{"02691156", "03001627"} {
		for _, split := range []string{"train", "val"} {
			err := a.InsertCloud(RawCloud{
				SynsetID: id, Split: split, ObjIndex: i,
				Points: []Point{{X: 1}, {X: 2}, {X: 3}},
			})
			if err != nil {
				t.Fatalf("InsertCloud: %v", err)
			}
		}
	}

	n := 0
	err = a.AllPoints([]string{"02691156", "03001627"}, func(Point) { n++ })
	if err != nil {
		t.Fatalf("AllPoints: %v", err)
	}
	if n != 12 {
		t.Errorf("visited %d points, want 12", n)
	}

	n = 0
	if err := a.AllPoints([]string{"02691156"}, func(Point) { n++ }); err != nil {
		t.Fatalf("AllPoints single synset: %v", err)
	}
	if n != 6 {
		t.Errorf("visited %d points for one synset, want 6", n)
	}
}
