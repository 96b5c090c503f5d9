package gen

import (
	"fmt"
	"math"
	"math/rand"
)

// Config describes the generative model's shape. It is immutable once the
// model is built and travels with checkpoints.
type Config struct {
	LatentDim  int     // D: latent code and context width (must be even)
	Heads      int     // attention heads in the pose conditioner
	FlowSteps  int     // affine coupling steps in the latent prior
	FlowHidden int     // hidden width of each coupling net
	NumSteps   int     // diffusion timesteps T
	Beta1      float64 // first noise level
	BetaT      float64 // final noise level
	SchedMode  string  // variance schedule mode ("linear")
	Residual   bool    // residual connection in the denoiser
}

// DefaultConfig mirrors the reference training setup.
func DefaultConfig() Config {
	return Config{
		LatentDim:  128,
		Heads:      2,
		FlowSteps:  14,
		FlowHidden: 256,
		NumSteps:   100,
		Beta1:      1e-4,
		BetaT:      0.02,
		SchedMode:  "linear",
		Residual:   true,
	}
}

// Model is the conditional generative model: encoder posterior, pose
// conditioner, latent flow prior and diffusion decoder, sharing one
// parameter set. Learned parameters are read-only during a forward or
// sampling call and mutated only by the optimizer between calls; concurrent
// calls on one instance must be serialized by the caller because training
// updates normalization running statistics.
type Model struct {
	Cfg Config

	Encoder   *PointNetEncoder
	Cond      *PoseConditioner
	Flow      LatentFlow
	Diffusion *DiffusionPoint

	Params *ParamSet
}

// NewModel builds a model with parameters initialized from rng.
func NewModel(cfg Config, rng *rand.Rand) (*Model, error) {
	if cfg.LatentDim < 2 || cfg.LatentDim%2 != 0 {
		return nil, fmt.Errorf("model: latent dim must be even and >= 2, got %d", cfg.LatentDim)
	}
	enc, err := NewPointNetEncoder(cfg.LatentDim, rng)
	if err != nil {
		return nil, err
	}
	cond, err := NewPoseConditioner(cfg.LatentDim, cfg.Heads, rng)
	if err != nil {
		return nil, err
	}
	flow, err := NewCouplingFlow(cfg.LatentDim, cfg.FlowSteps, cfg.FlowHidden, rng)
	if err != nil {
		return nil, err
	}
	sched, err := NewVarianceSchedule(cfg.NumSteps, cfg.Beta1, cfg.BetaT, cfg.SchedMode)
	if err != nil {
		return nil, err
	}
	net, err := NewPointwiseNet(cfg.LatentDim, cfg.Residual, rng)
	if err != nil {
		return nil, err
	}

	m := &Model{
		Cfg:       cfg,
		Encoder:   enc,
		Cond:      cond,
		Flow:      flow,
		Diffusion: NewDiffusionPoint(net, sched),
		Params:    NewParamSet(),
	}
	enc.register(m.Params, "encoder")
	cond.register(m.Params, "cond")
	flow.register(m.Params, "flow")
	m.Diffusion.register(m.Params, "diffusion")
	return m, nil
}

// Losses carries the decomposed training objective and latent diagnostics
// for one batch.
type Losses struct {
	Total   float64
	Entropy float64 // -mean posterior entropy
	Prior   float64 // -mean log p(z) under the flow prior
	Recons  float64 // diffusion noise-prediction MSE
	ZMean   float64 // mean of posterior means
	ZMag    float64 // max |posterior mean|
	ZVar    float64 // mean posterior std
}

// GetLoss runs the training forward pass and backpropagates the composed
// objective
//
//	loss = klWeight * (-entropy.mean() - log_pz.mean()) + neg_elbo
//
// leaving gradients accumulated in the parameter set for the optimizer.
// x holds row-packed clouds ([B*n, 3]); view and yaw are [B,1] normalized
// pose columns. Metrics go to sink if one is supplied.
func (m *Model) GetLoss(x *Mat, pointsPerCloud int, view, yaw *Mat, klWeight float64, rng *rand.Rand, sink MetricSink, step int) (*Losses, error) {
	if pointsPerCloud <= 0 || x.Rows%pointsPerCloud != 0 {
		return nil, fmt.Errorf("model: %d point rows do not pack clouds of %d points", x.Rows, pointsPerCloud)
	}
	batch := x.Rows / pointsPerCloud
	if view.Rows != batch || yaw.Rows != batch || view.Cols != 1 || yaw.Cols != 1 {
		return nil, fmt.Errorf("model: pose columns must be [%d,1], got view %dx%d yaw %dx%d",
			batch, view.Rows, view.Cols, yaw.Rows, yaw.Cols)
	}

	g := NewGraph(true)

	mean, logvar := m.Encoder.Encode(g, x, pointsPerCloud)
	z := Reparameterize(g, mean, logvar, rng)
	c := m.Cond.Apply(g, z, view, yaw)

	// H[Q(z|X)], closed form for the diagonal Gaussian posterior.
	entropy := GaussianEntropy(g, logvar)

	// Prior log p(z) via change of variables through the flow.
	w, deltaLogPw := m.Flow.Forward(g, c)
	logPz := g.Sub(StandardNormalLogProb(g, w), deltaLogPw)

	negElbo, err := m.Diffusion.GetLoss(g, x, pointsPerCloud, c, rng)
	if err != nil {
		return nil, err
	}

	lossEntropy := g.Scale(g.MeanAll(entropy), -1)
	lossPrior := g.Scale(g.MeanAll(logPz), -1)
	loss := g.Add(g.Scale(g.Add(lossEntropy, lossPrior), klWeight), negElbo)

	m.Params.ZeroGrads()
	loss.Dw[0] = 1
	g.Backward()

	out := &Losses{
		Total:   loss.W[0],
		Entropy: lossEntropy.W[0],
		Prior:   lossPrior.W[0],
		Recons:  negElbo.W[0],
	}
	for _, v := range mean.W {
		out.ZMean += v
		if a := math.Abs(v); a > out.ZMag {
			out.ZMag = a
		}
	}
	out.ZMean /= float64(len(mean.W))
	for _, v := range logvar.W {
		out.ZVar += math.Exp(0.5 * v)
	}
	out.ZVar /= float64(len(logvar.W))

	if sink != nil {
		sink.Scalar("train/loss_entropy", out.Entropy, step)
		sink.Scalar("train/loss_prior", out.Prior, step)
		sink.Scalar("train/loss_recons", out.Recons, step)
		sink.Scalar("train/z_mean", out.ZMean, step)
		sink.Scalar("train/z_mag", out.ZMag, step)
		sink.Scalar("train/z_var", out.ZVar, step)
	}
	return out, nil
}

// Sample generates clouds from base variables w [B,D]: reverse the flow to
// latent codes, condition on pose, and run the full reverse diffusion.
// Returns row-packed points, w.Rows clouds of numPoints each.
func (m *Model) Sample(w, view, yaw *Mat, numPoints int, flexibility float64, rng *rand.Rand) (*Mat, error) {
	if w.Cols != m.Cfg.LatentDim {
		return nil, fmt.Errorf("model: base variable has %d features, want %d", w.Cols, m.Cfg.LatentDim)
	}
	if view.Rows != w.Rows || yaw.Rows != w.Rows || view.Cols != 1 || yaw.Cols != 1 {
		return nil, fmt.Errorf("model: pose columns must be [%d,1], got view %dx%d yaw %dx%d",
			w.Rows, view.Rows, view.Cols, yaw.Rows, yaw.Cols)
	}

	g := NewGraph(false)
	z := m.Flow.Reverse(g, w)
	c := m.Cond.Apply(g, z, view, yaw)
	return m.Diffusion.Sample(numPoints, c, flexibility, rng)
}

// SampleNoise draws base variables for batch clouds, truncated to
// [-truncStd, truncStd] when truncStd > 0.
func (m *Model) SampleNoise(batch int, truncStd float64, rng *rand.Rand) *Mat {
	if truncStd > 0 {
		return RandTruncatedNormal(batch, m.Cfg.LatentDim, truncStd, rng)
	}
	return RandNormal(batch, m.Cfg.LatentDim, rng)
}
