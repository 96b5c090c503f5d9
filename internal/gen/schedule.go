package gen

import (
	"fmt"
	"math"
	"math/rand"
)

// VarianceSchedule holds the precomputed noise-level coefficients of a
// diffusion process with timesteps 1..NumSteps. Index 0 is a zero pad so
// that coefficient lookups use the timestep directly. The schedule is
// immutable after construction and shared read-only by all training and
// sampling calls.
type VarianceSchedule struct {
	NumSteps int
	Betas    []float64 // Betas[t], t in 1..NumSteps; Betas[0] = 0
	Alphas   []float64 // 1 - Betas[t]
	AlphaBar []float64 // cumulative product of Alphas

	sigmasFlex   []float64 // sqrt(beta_t): fully stochastic reverse step
	sigmasInflex []float64 // posterior std: near-deterministic reverse step
}

// NewVarianceSchedule builds a schedule from (numSteps, beta1, betaT, mode).
// Only the "linear" mode is defined; anything else is a construction error.
func NewVarianceSchedule(numSteps int, beta1, betaT float64, mode string) (*VarianceSchedule, error) {
	if numSteps < 1 {
		return nil, fmt.Errorf("variance schedule: num_steps must be >= 1, got %d", numSteps)
	}
	if mode != "linear" {
		return nil, fmt.Errorf("variance schedule: unknown mode %q", mode)
	}
	if beta1 <= 0 || betaT >= 1 || beta1 > betaT {
		return nil, fmt.Errorf("variance schedule: invalid beta range [%g, %g]", beta1, betaT)
	}

	vs := &VarianceSchedule{
		NumSteps:     numSteps,
		Betas:        make([]float64, numSteps+1),
		Alphas:       make([]float64, numSteps+1),
		AlphaBar:     make([]float64, numSteps+1),
		sigmasFlex:   make([]float64, numSteps+1),
		sigmasInflex: make([]float64, numSteps+1),
	}
	vs.Alphas[0] = 1
	vs.AlphaBar[0] = 1
	for t := 1; t <= numSteps; t++ {
		if numSteps == 1 {
			vs.Betas[t] = beta1
		} else {
			vs.Betas[t] = beta1 + (betaT-beta1)*float64(t-1)/float64(numSteps-1)
		}
		vs.Alphas[t] = 1 - vs.Betas[t]
		vs.AlphaBar[t] = vs.AlphaBar[t-1] * vs.Alphas[t]

		vs.sigmasFlex[t] = math.Sqrt(vs.Betas[t])
		vs.sigmasInflex[t] = math.Sqrt((1-vs.AlphaBar[t-1])/(1-vs.AlphaBar[t])) * vs.sigmasFlex[t]
	}
	return vs, nil
}

// UniformSampleT draws n timesteps uniformly from {1..NumSteps}, one per
// batch element.
func (vs *VarianceSchedule) UniformSampleT(n int, rng *rand.Rand) []int {
	ts := make([]int, n)
	for i := range ts {
		ts[i] = 1 + rng.Intn(vs.NumSteps)
	}
	return ts
}

// Sigma interpolates the reverse-step noise scale at t between the
// near-deterministic posterior std (flexibility=0) and the fully stochastic
// sqrt(beta) step (flexibility=1).
func (vs *VarianceSchedule) Sigma(t int, flexibility float64) float64 {
	return vs.sigmasFlex[t]*flexibility + vs.sigmasInflex[t]*(1-flexibility)
}
