package gen

import (
	"fmt"
	"math"
	"math/rand"
)

// concatSquash is an affine layer whose scale and shift are read from the
// conditioning context: out = Linear(x) * sigmoid(gate(ctx)) + bias(ctx).
// The bias projection carries no constant term; the conditioning signal
// alone shifts the features.
type concatSquash struct {
	lin  *Linear
	gate *Linear
	bias *Mat // [ctxDim, out], applied without a constant term
}

func newConcatSquash(in, out, ctxDim int, rng *rand.Rand) *concatSquash {
	return &concatSquash{
		lin:  NewLinear(in, out, rng),
		gate: NewLinear(ctxDim, out, rng),
		bias: NewRandMat(ctxDim, out, 1/math.Sqrt(float64(ctxDim)), rng),
	}
}

func (cs *concatSquash) apply(g *Graph, x, ctx *Mat) *Mat {
	gated := g.EltMul(cs.lin.Apply(g, x), g.Sigmoid(cs.gate.Apply(g, ctx)))
	return g.Add(gated, g.Mul(ctx, cs.bias))
}

func (cs *concatSquash) register(ps *ParamSet, prefix string) {
	cs.lin.register(ps, prefix+".lin")
	cs.gate.register(ps, prefix+".gate")
	ps.Add(prefix+".ctxbias", cs.bias)
}

// PointwiseNet predicts the noise on each point independently, conditioned
// on the shared context plus a three-feature time embedding
// (beta_t, sin beta_t, cos beta_t). Widths follow 3-128-256-512-256-128-3
// with LeakyReLU between layers and an optional residual connection.
type PointwiseNet struct {
	CtxDim   int // conditioning width including the time embedding
	Residual bool
	layers   []*concatSquash
}

// pointwiseWidths are the hidden widths of the denoiser MLP.
var pointwiseWidths = []int{3, 128, 256, 512, 256, 128, 3}

// NewPointwiseNet builds the denoiser for a conditioning context of
// contextDim features (before the time embedding is appended).
func NewPointwiseNet(contextDim int, residual bool, rng *rand.Rand) (*PointwiseNet, error) {
	if contextDim < 1 {
		return nil, fmt.Errorf("pointwise net: context dim must be >= 1, got %d", contextDim)
	}
	net := &PointwiseNet{CtxDim: contextDim + 3, Residual: residual}
	for i := 0; i < len(pointwiseWidths)-1; i++ {
		net.layers = append(net.layers, newConcatSquash(pointwiseWidths[i], pointwiseWidths[i+1], net.CtxDim, rng))
	}
	return net, nil
}

// apply runs the denoiser on row-packed points with a row-matched context.
func (n *PointwiseNet) apply(g *Graph, x, ctx *Mat) *Mat {
	if ctx.Cols != n.CtxDim {
		panic(fmt.Sprintf("gen: pointwise net wants context width %d, got %d", n.CtxDim, ctx.Cols))
	}
	if ctx.Rows != x.Rows {
		panic(fmt.Sprintf("gen: context rows %d do not match %d points", ctx.Rows, x.Rows))
	}
	h := x
	for i, layer := range n.layers {
		h = layer.apply(g, h, ctx)
		if i < len(n.layers)-1 {
			h = g.LeakyReLU(h, 0.01)
		}
	}
	if n.Residual {
		return g.Add(x, h)
	}
	return h
}

func (n *PointwiseNet) register(ps *ParamSet, prefix string) {
	for i, layer := range n.layers {
		layer.register(ps, fmt.Sprintf("%s.layer%d", prefix, i))
	}
}

// DiffusionPoint couples the denoiser with a variance schedule into the
// training objective and the iterative reverse sampler.
type DiffusionPoint struct {
	Net   *PointwiseNet
	Sched *VarianceSchedule
}

// NewDiffusionPoint wires a denoiser to its schedule.
func NewDiffusionPoint(net *PointwiseNet, sched *VarianceSchedule) *DiffusionPoint {
	return &DiffusionPoint{Net: net, Sched: sched}
}

// checkContext rejects context vectors whose width does not match the
// denoiser's conditioning dimension. Silent broadcasting here would train
// the net against garbage, so mismatches fail immediately.
func (d *DiffusionPoint) checkContext(ctx *Mat) error {
	if ctx.Cols != d.Net.CtxDim-3 {
		return fmt.Errorf("diffusion: context has %d features, decoder conditioned on %d", ctx.Cols, d.Net.CtxDim-3)
	}
	return nil
}

// timeEmbed returns the per-cloud conditioning rows for the given timesteps:
// context plus (beta_t, sin beta_t, cos beta_t), repeated for every point.
func (d *DiffusionPoint) timeEmbed(g *Graph, ctx *Mat, ts []int, pointsPerCloud int) *Mat {
	emb := NewMat(ctx.Rows, 3)
	for i, t := range ts {
		beta := d.Sched.Betas[t]
		emb.W[i*3+0] = beta
		emb.W[i*3+1] = math.Sin(beta)
		emb.W[i*3+2] = math.Cos(beta)
	}
	return g.RepeatRows(g.ConcatCols(ctx, emb), pointsPerCloud)
}

// GetLoss returns the single-step denoising objective: draw one timestep per
// cloud, diffuse the clean points to that step in closed form, and score the
// predicted noise against the true noise with mean squared error. The
// returned [1,1] matrix stays on the tape so gradients reach the context.
func (d *DiffusionPoint) GetLoss(g *Graph, x *Mat, pointsPerCloud int, ctx *Mat, rng *rand.Rand) (*Mat, error) {
	if err := d.checkContext(ctx); err != nil {
		return nil, err
	}
	if x.Cols != 3 {
		return nil, fmt.Errorf("diffusion: points must have 3 columns, got %d", x.Cols)
	}
	if pointsPerCloud <= 0 || x.Rows != ctx.Rows*pointsPerCloud {
		return nil, fmt.Errorf("diffusion: %d point rows do not pack %d clouds of %d points",
			x.Rows, ctx.Rows, pointsPerCloud)
	}

	batch := ctx.Rows
	ts := d.Sched.UniformSampleT(batch, rng)

	// x_t = sqrt(alphaBar_t) * x_0 + sqrt(1 - alphaBar_t) * eps. Clean
	// points and noise are constants on the tape; gradients flow only
	// through the denoiser and its conditioning.
	eps := RandNormal(x.Rows, 3, rng)
	xt := NewMat(x.Rows, 3)
	for i := 0; i < batch; i++ {
		ab := d.Sched.AlphaBar[ts[i]]
		c0 := math.Sqrt(ab)
		c1 := math.Sqrt(1 - ab)
		for r := i * pointsPerCloud; r < (i+1)*pointsPerCloud; r++ {
			for c := 0; c < 3; c++ {
				xt.W[r*3+c] = c0*x.W[r*3+c] + c1*eps.W[r*3+c]
			}
		}
	}

	pred := d.Net.apply(g, xt, d.timeEmbed(g, ctx, ts, pointsPerCloud))
	return g.MeanAll(g.Square(g.Sub(pred, eps))), nil
}

// Sample runs the full reverse process: start from standard-normal points at
// step T and denoise down to step 1. flexibility interpolates the per-step
// noise between the near-deterministic posterior scale (0) and the fully
// stochastic DDPM step (1); the final step adds no noise. Returns row-packed
// points, ctx.Rows clouds of numPoints each.
func (d *DiffusionPoint) Sample(numPoints int, ctx *Mat, flexibility float64, rng *rand.Rand) (*Mat, error) {
	if err := d.checkContext(ctx); err != nil {
		return nil, err
	}
	if numPoints < 1 {
		return nil, fmt.Errorf("diffusion: num_points must be >= 1, got %d", numPoints)
	}
	if flexibility < 0 || flexibility > 1 {
		return nil, fmt.Errorf("diffusion: flexibility must be in [0,1], got %g", flexibility)
	}

	batch := ctx.Rows
	x := RandNormal(batch*numPoints, 3, rng)
	ts := make([]int, batch)

	for t := d.Sched.NumSteps; t >= 1; t-- {
		g := NewGraph(false)
		for i := range ts {
			ts[i] = t
		}
		pred := d.Net.apply(g, x, d.timeEmbed(g, ctx, ts, numPoints))

		alpha := d.Sched.Alphas[t]
		beta := d.Sched.Betas[t]
		abar := d.Sched.AlphaBar[t]
		c0 := 1 / math.Sqrt(alpha)
		c1 := beta / math.Sqrt(1-abar)
		sigma := d.Sched.Sigma(t, flexibility)

		z := RandNormal(batch*numPoints, 3, rng)
		next := NewMat(batch*numPoints, 3)
		for i := range next.W {
			next.W[i] = c0 * (x.W[i] - c1*pred.W[i])
			if t > 1 {
				next.W[i] += sigma * z.W[i]
			}
		}
		x = next
	}
	return x, nil
}

func (d *DiffusionPoint) register(ps *ParamSet, prefix string) {
	d.Net.register(ps, prefix+".net")
}
