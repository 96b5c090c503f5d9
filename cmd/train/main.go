// Command train fits the conditional point-cloud model on an archive of
// shapes, checkpointing as it goes and recording metrics to a run database
// and post-run loss plots.
package main

import (
	"errors"
	"flag"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/banshee-data/shapegen/internal/gen"
	"github.com/banshee-data/shapegen/internal/gen/dataset"
	"github.com/banshee-data/shapegen/internal/gen/gendb"
	"github.com/banshee-data/shapegen/internal/gen/monitor"
)

var (
	dataPath   = flag.String("data", "clouds.db", "Point-cloud archive path")
	categories = flag.String("categories", "airplane", "Comma-separated category names, or 'all'")
	scaleMode  = flag.String("scale-mode", "global_unit", "Cloud normalization mode")

	batchSize = flag.Int("batch", 16, "Clouds per training batch")
	numPoints = flag.Int("points", 256, "Points drawn per cloud")
	maxSteps  = flag.Int("steps", 100000, "Training steps")
	seed      = flag.Int64("seed", 42, "RNG seed")

	lr          = flag.Float64("lr", 1e-3, "AdamW learning rate")
	weightDecay = flag.Float64("weight-decay", 0, "AdamW weight decay")
	clipNorm    = flag.Float64("clip-norm", 10, "Global gradient-norm clip (0 disables)")
	klWeight    = flag.Float64("kl-weight", 0.001, "Final weight of the latent KL terms")
	klWarmup    = flag.Int("kl-warmup", 10000, "Steps to ramp the KL weight from 0")

	latentDim = flag.Int("latent-dim", 128, "Latent code width")
	flowSteps = flag.Int("flow-steps", 14, "Affine coupling steps in the prior")
	diffSteps = flag.Int("diff-steps", 100, "Diffusion timesteps")

	checkpointPath  = flag.String("checkpoint", "model.ckpt", "Checkpoint path (resumed from if present)")
	checkpointEvery = flag.Int("checkpoint-every", 1000, "Steps between checkpoints")
	logEvery        = flag.Int("log-every", 10, "Steps between logged metrics")

	runDBPath = flag.String("rundb", "", "Optional run database for metric history")
	notes     = flag.String("notes", "", "Free-form notes stored with the run")
	plotDir   = flag.String("plots", "", "Optional directory for post-run loss plots")
)

func main() {
	flag.Parse()

	mode, err := dataset.ParseScaleMode(*scaleMode)
	if err != nil {
		log.Fatal(err)
	}
	ds, err := dataset.OpenArchiveDataset(*dataPath, dataset.Options{
		Categories: strings.Split(*categories, ","),
		Split:      "train",
		ScaleMode:  mode,
		Table:      dataset.ShapeNetCategories(),
	})
	if err != nil {
		log.Fatal(err)
	}
	if ds.Len() == 0 {
		log.Fatalf("no training samples in %s", *dataPath)
	}

	cfg := gen.DefaultConfig()
	cfg.LatentDim = *latentDim
	cfg.FlowSteps = *flowSteps
	cfg.NumSteps = *diffSteps

	rng := rand.New(rand.NewSource(*seed))
	model, err := gen.NewModel(cfg, rng)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("model has %d parameters", model.Params.NumValues())

	solver := gen.NewSolverAdamW(*lr, *weightDecay)
	solver.ClipNorm = *clipNorm

	startStep := 0
	if ck, err := gen.LoadCheckpoint(*checkpointPath); err == nil {
		loaded, ignored := model.Params.LoadPartial(ck.State)
		if ck.Solver != nil {
			solver.LoadState(ck.Solver)
		}
		startStep = ck.Step
		log.Printf("resumed from %s at step %d (%d tensors loaded, %d ignored)",
			*checkpointPath, ck.Step, loaded, ignored)
	} else if !errors.Is(err, os.ErrNotExist) {
		log.Printf("checkpoint not loaded: %v", err)
	}

	sinks := gen.MultiSink{gen.NewLogSink(*logEvery)}

	if *runDBPath != "" {
		rdb, err := gendb.NewDB(*runDBPath)
		if err != nil {
			log.Fatal(err)
		}
		defer rdb.Close()
		runID, err := rdb.StartRun(cfg, *notes)
		if err != nil {
			log.Fatal(err)
		}
		log.Printf("run %s", runID)
		sinks = append(sinks, rdb.NewSink(runID))
	}

	var plotter *monitor.LossPlotter
	if *plotDir != "" {
		plotter = monitor.NewLossPlotter()
		if err := plotter.Start(monitor.MakePlotOutputDir(*plotDir, "train")); err != nil {
			log.Fatal(err)
		}
		sinks = append(sinks, plotter)
	}

	// SIGINT/SIGTERM request a final checkpoint instead of dropping work.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	save := func(step int) {
		ck := &gen.Checkpoint{
			Config: cfg,
			Step:   step,
			State:  model.Params.State(),
			Solver: solver.State(),
		}
		if err := gen.SaveCheckpoint(*checkpointPath, ck); err != nil {
			log.Printf("checkpoint failed: %v", err)
		} else {
			log.Printf("checkpointed step %d to %s", step, *checkpointPath)
		}
	}

	step := startStep
loop:
	for ; step < *maxSteps; step++ {
		select {
		case sig := <-stop:
			log.Printf("received %v, stopping", sig)
			break loop
		default:
		}

		x, view, yaw := makeBatch(ds, *batchSize, *numPoints, rng)
		losses, err := model.GetLoss(x, *numPoints, view, yaw, rampedKL(step), rng, sinks, step)
		if err != nil {
			log.Fatal(err)
		}
		solver.Step(model.Params)

		if step%*logEvery == 0 {
			log.Printf("step %d loss=%.4f (entropy=%.4f prior=%.4f recons=%.4f)",
				step, losses.Total, losses.Entropy, losses.Prior, losses.Recons)
		}
		if step > startStep && step%*checkpointEvery == 0 {
			save(step)
		}
	}
	save(step)

	if plotter != nil {
		plotter.Stop()
		if n, err := plotter.GeneratePlots(); err != nil {
			log.Printf("plot generation failed: %v", err)
		} else {
			log.Printf("wrote %d plots", n)
		}
	}
}

// rampedKL anneals the KL weight linearly from zero over the warmup steps.
func rampedKL(step int) float64 {
	if *klWarmup <= 0 || step >= *klWarmup {
		return *klWeight
	}
	return *klWeight * float64(step) / float64(*klWarmup)
}

// makeBatch draws batchSize clouds and packs numPoints resampled points per
// cloud into the row-packed layout the model consumes.
func makeBatch(ds *dataset.Dataset, batchSize, numPoints int, rng *rand.Rand) (x, view, yaw *gen.Mat) {
	x = gen.NewMat(batchSize*numPoints, 3)
	view = gen.NewMat(batchSize, 1)
	yaw = gen.NewMat(batchSize, 1)

	for b := 0; b < batchSize; b++ {
		s := ds.Sample(rng.Intn(ds.Len()))
		view.Set(b, 0, s.ViewAngle)
		yaw.Set(b, 0, s.Yaw)
		for i := 0; i < numPoints; i++ {
			p := s.Points[rng.Intn(len(s.Points))]
			row := b*numPoints + i
			x.Set(row, 0, p.X)
			x.Set(row, 1, p.Y)
			x.Set(row, 2, p.Z)
		}
	}
	return x, view, yaw
}
