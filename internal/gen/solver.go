package gen

import (
	"math"
)

// SolverState is the gob-serializable snapshot of an AdamW optimizer.
type SolverState struct {
	LR          float64
	Beta1       float64
	Beta2       float64
	Eps         float64
	WeightDecay float64
	T           int
	M           map[string][]float64
	V           map[string][]float64
}

// SolverAdamW implements decoupled-weight-decay Adam over a ParamSet. Moment
// buffers are keyed by parameter name so checkpoints survive across
// processes.
type SolverAdamW struct {
	LR          float64
	Beta1       float64
	Beta2       float64
	Eps         float64
	WeightDecay float64
	ClipNorm    float64 // global gradient-norm clip; 0 disables

	t int
	m map[string][]float64
	v map[string][]float64
}

// NewSolverAdamW returns an optimizer with the usual Adam moments
// (0.9, 0.999, eps 1e-8).
func NewSolverAdamW(lr, weightDecay float64) *SolverAdamW {
	return &SolverAdamW{
		LR:          lr,
		Beta1:       0.9,
		Beta2:       0.999,
		Eps:         1e-8,
		WeightDecay: weightDecay,
		m:           make(map[string][]float64),
		v:           make(map[string][]float64),
	}
}

// Step applies one update from the accumulated gradients and clears them.
// Non-finite gradients are treated as zero so a single bad batch cannot
// poison the moments.
func (s *SolverAdamW) Step(ps *ParamSet) {
	names := ps.Names()

	if s.ClipNorm > 0 {
		sq := 0.0
		for _, name := range names {
			for _, d := range ps.Get(name).Dw {
				if !math.IsNaN(d) && !math.IsInf(d, 0) {
					sq += d * d
				}
			}
		}
		if norm := math.Sqrt(sq); norm > s.ClipNorm {
			scale := s.ClipNorm / norm
			for _, name := range names {
				p := ps.Get(name)
				for i := range p.Dw {
					p.Dw[i] *= scale
				}
			}
		}
	}

	s.t++
	t := float64(s.t)
	lrT := s.LR * math.Sqrt(1-math.Pow(s.Beta2, t)) / (1 - math.Pow(s.Beta1, t))

	for _, name := range names {
		p := ps.Get(name)
		mK, ok := s.m[name]
		if !ok || len(mK) != len(p.W) {
			mK = make([]float64, len(p.W))
			s.m[name] = mK
		}
		vK, ok := s.v[name]
		if !ok || len(vK) != len(p.W) {
			vK = make([]float64, len(p.W))
			s.v[name] = vK
		}

		for i := range p.W {
			grad := p.Dw[i]
			if math.IsNaN(grad) || math.IsInf(grad, 0) {
				grad = 0
			}
			mK[i] = s.Beta1*mK[i] + (1-s.Beta1)*grad
			vK[i] = s.Beta2*vK[i] + (1-s.Beta2)*grad*grad
			p.W[i] -= lrT * mK[i] / (math.Sqrt(vK[i]) + s.Eps)
			p.W[i] -= s.LR * s.WeightDecay * p.W[i]
		}
		p.ZeroGrad()
	}
}

// State snapshots the optimizer for checkpointing.
func (s *SolverAdamW) State() *SolverState {
	return &SolverState{
		LR:          s.LR,
		Beta1:       s.Beta1,
		Beta2:       s.Beta2,
		Eps:         s.Eps,
		WeightDecay: s.WeightDecay,
		T:           s.t,
		M:           s.m,
		V:           s.v,
	}
}

// LoadState restores a snapshot produced by State.
func (s *SolverAdamW) LoadState(st *SolverState) {
	if st == nil {
		return
	}
	s.LR = st.LR
	s.Beta1 = st.Beta1
	s.Beta2 = st.Beta2
	s.Eps = st.Eps
	s.WeightDecay = st.WeightDecay
	s.t = st.T
	if st.M != nil {
		s.m = st.M
	}
	if st.V != nil {
		s.v = st.V
	}
}
