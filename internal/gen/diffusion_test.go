package gen

import (
	"math"
	"math/rand"
	"testing"
)

func newTestDiffusion(t *testing.T, ctxDim, numSteps int) *DiffusionPoint {
	t.Helper()
	rng := rand.New(rand.NewSource(41))
	net, err := NewPointwiseNet(ctxDim, true, rng)
	if err != nil {
		t.Fatalf("NewPointwiseNet: %v", err)
	}
	sched, err := NewVarianceSchedule(numSteps, 1e-4, 0.02, "linear")
	if err != nil {
		t.Fatalf("NewVarianceSchedule: %v", err)
	}
	return NewDiffusionPoint(net, sched)
}

func TestDiffusionLossNonNegative(t *testing.T) {
	d := newTestDiffusion(t, 8, 20)
	rng := rand.New(rand.NewSource(42))
	x := NewRandMat(3*64, 3, 0.5, rng)
	ctx := NewRandMat(3, 8, 1, rng)

	for trial := 0; trial < 5; trial++ {
		g := NewGraph(true)
		loss, err := d.GetLoss(g, x, 64, ctx, rng)
		if err != nil {
			t.Fatalf("GetLoss: %v", err)
		}
		v := loss.W[0]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("loss is not finite: %g", v)
		}
		if v < 0 {
			t.Fatalf("noise-prediction MSE is negative: %g", v)
		}
	}
}

func TestDiffusionContextMismatchFailsFast(t *testing.T) {
	d := newTestDiffusion(t, 8, 20)
	rng := rand.New(rand.NewSource(43))
	x := NewRandMat(2*16, 3, 0.5, rng)
	badCtx := NewRandMat(2, 7, 1, rng)

	if _, err := d.GetLoss(NewGraph(true), x, 16, badCtx, rng); err == nil {
		t.Error("GetLoss accepted a context of the wrong width")
	}
	if _, err := d.Sample(16, badCtx, 0, rng); err == nil {
		t.Error("Sample accepted a context of the wrong width")
	}
}

func TestDiffusionSampleDeterministicAtZeroFlexibility(t *testing.T) {
	d := newTestDiffusion(t, 8, 10)
	rng := rand.New(rand.NewSource(44))
	ctx := NewRandMat(2, 8, 1, rng)

	a, err := d.Sample(32, ctx, 0, rand.New(rand.NewSource(45)))
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	b, err := d.Sample(32, ctx, 0, rand.New(rand.NewSource(45)))
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	for i := range a.W {
		if a.W[i] != b.W[i] {
			t.Fatalf("identical seeds diverged at %d: %g vs %g", i, a.W[i], b.W[i])
		}
	}
}

func TestDiffusionSampleShapeAndFiniteness(t *testing.T) {
	d := newTestDiffusion(t, 8, 10)
	rng := rand.New(rand.NewSource(46))
	ctx := NewRandMat(3, 8, 1, rng)

	out, err := d.Sample(24, ctx, 0.5, rng)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if out.Rows != 3*24 || out.Cols != 3 {
		t.Fatalf("sample shape = %dx%d, want 72x3", out.Rows, out.Cols)
	}
	if out.HasBadValues() {
		t.Error("sampled cloud contains NaN/Inf")
	}
}

func TestDiffusionSampleValidation(t *testing.T) {
	d := newTestDiffusion(t, 8, 10)
	rng := rand.New(rand.NewSource(47))
	ctx := NewRandMat(1, 8, 1, rng)

	if _, err := d.Sample(0, ctx, 0, rng); err == nil {
		t.Error("num_points=0 should fail")
	}
	if _, err := d.Sample(8, ctx, -0.1, rng); err == nil {
		t.Error("negative flexibility should fail")
	}
	if _, err := d.Sample(8, ctx, 1.5, rng); err == nil {
		t.Error("flexibility above 1 should fail")
	}
}

func TestDiffusionLossGradientReachesContext(t *testing.T) {
	d := newTestDiffusion(t, 6, 10)
	x := NewRandMat(2*8, 3, 0.5, rand.New(rand.NewSource(48)))
	ctx := NewRandMat(2, 6, 1, rand.New(rand.NewSource(49)))

	// Same rng seed on every evaluation keeps (t, eps) fixed so the loss is
	// a deterministic function of ctx.
	forward := func() float64 {
		g := NewGraph(true)
		loss, err := d.GetLoss(g, x, 8, ctx, rand.New(rand.NewSource(50)))
		if err != nil {
			t.Fatalf("GetLoss: %v", err)
		}
		return loss.W[0]
	}
	backward := func() {
		g := NewGraph(true)
		loss, err := d.GetLoss(g, x, 8, ctx, rand.New(rand.NewSource(50)))
		if err != nil {
			t.Fatalf("GetLoss: %v", err)
		}
		loss.Dw[0] = 1
		g.Backward()
	}
	checkGrads(t, "diffusion/ctx", ctx, forward, backward)
}
