// Command sample generates point clouds from a trained checkpoint: draw
// base noise, condition on the requested pose, run the reverse diffusion,
// and write the results as XYZ text plus an HTML preview chart.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/banshee-data/shapegen/internal/gen"
	"github.com/banshee-data/shapegen/internal/gen/dataset"
	"github.com/banshee-data/shapegen/internal/gen/gendb"
	"github.com/banshee-data/shapegen/internal/gen/monitor"
)

var (
	checkpointPath = flag.String("checkpoint", "model.ckpt", "Trained checkpoint path")
	outDir         = flag.String("out", "samples", "Output directory")
	count          = flag.Int("count", 4, "Number of clouds to generate")
	numPoints      = flag.Int("points", 2048, "Points per cloud")
	viewAngle      = flag.Float64("view", 0, "Viewing elevation in radians")
	yawAngle       = flag.Float64("yaw", 0, "Yaw in radians")
	flexibility    = flag.Float64("flexibility", 0, "Sampling noise flexibility in [0,1]")
	truncStd       = flag.Float64("trunc-std", 0, "Truncate base noise to this many stds (0 disables)")
	seed           = flag.Int64("seed", 42, "RNG seed")
	runDBPath      = flag.String("rundb", "", "Optional run database to record samples in")
	runID          = flag.String("run", "", "Run ID for -rundb (required with it)")
)

func main() {
	flag.Parse()

	ck, err := gen.LoadCheckpoint(*checkpointPath)
	if err != nil {
		log.Fatal(err)
	}
	rng := rand.New(rand.NewSource(*seed))
	model, err := gen.NewModel(ck.Config, rng)
	if err != nil {
		log.Fatal(err)
	}
	loaded, ignored := model.Params.LoadPartial(ck.State)
	log.Printf("loaded checkpoint %s: step %d, %d tensors loaded, %d ignored",
		*checkpointPath, ck.Step, loaded, ignored)

	if err := os.MkdirAll(*outDir, 0755); err != nil {
		log.Fatal(err)
	}

	var rdb *gendb.DB
	if *runDBPath != "" {
		if *runID == "" {
			log.Fatal("-rundb requires -run")
		}
		if rdb, err = gendb.NewDB(*runDBPath); err != nil {
			log.Fatal(err)
		}
		defer rdb.Close()
	}

	view := gen.NewMat(*count, 1)
	yaw := gen.NewMat(*count, 1)
	for b := 0; b < *count; b++ {
		view.Set(b, 0, clampUnit(*viewAngle/math.Pi))
		yaw.Set(b, 0, clampUnit(*yawAngle/math.Pi))
	}

	w := model.SampleNoise(*count, *truncStd, rng)
	points, err := model.Sample(w, view, yaw, *numPoints, *flexibility, rng)
	if err != nil {
		log.Fatal(err)
	}

	for b := 0; b < *count; b++ {
		cloud := make([]dataset.Point, *numPoints)
		for i := range cloud {
			row := b**numPoints + i
			cloud[i] = dataset.Point{X: points.At(row, 0), Y: points.At(row, 1), Z: points.At(row, 2)}
		}

		base := filepath.Join(*outDir, fmt.Sprintf("cloud_%03d", b))
		if err := writeXYZ(base+".xyz", cloud); err != nil {
			log.Fatal(err)
		}
		title := fmt.Sprintf("cloud %d (view=%.2f yaw=%.2f)", b, *viewAngle, *yawAngle)
		if err := monitor.WriteCloudChart(base+".html", title, cloud); err != nil {
			log.Fatal(err)
		}
		if rdb != nil {
			sampleID, err := rdb.RecordSample(*runID, ck.Step, *viewAngle, *yawAngle, cloud)
			if err != nil {
				log.Fatal(err)
			}
			log.Printf("recorded sample %s", sampleID)
		}
		log.Printf("wrote %s.xyz and %s.html", base, base)
	}
}

func clampUnit(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}

// writeXYZ stores one cloud as whitespace-separated coordinates, one point
// per line.
func writeXYZ(path string, cloud []dataset.Point) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, p := range cloud {
		if _, err := fmt.Fprintf(w, "%.6f %.6f %.6f\n", p.X, p.Y, p.Z); err != nil {
			return err
		}
	}
	return w.Flush()
}
