package gen

import (
	"fmt"
	"math"
	"math/rand"
)

// Linear is a dense affine layer: y = x*W + b.
type Linear struct {
	W *Mat // [in, out]
	B *Mat // [1, out]
}

// NewLinear returns a Linear with weights drawn from N(0, 1/in) and zero
// bias.
func NewLinear(in, out int, rng *rand.Rand) *Linear {
	return &Linear{
		W: NewRandMat(in, out, 1/math.Sqrt(float64(in)), rng),
		B: NewMat(1, out),
	}
}

// Apply runs the affine transform on the tape.
func (l *Linear) Apply(g *Graph, x *Mat) *Mat {
	return g.AddRow(g.Mul(x, l.W), l.B)
}

func (l *Linear) register(ps *ParamSet, prefix string) {
	ps.Add(prefix+".weight", l.W)
	ps.Add(prefix+".bias", l.B)
}

// BatchNorm normalizes each feature over the batch dimension. In training
// mode it uses batch statistics and updates the running estimates; in eval
// mode it uses the running estimates, so a batch of one does not collapse.
type BatchNorm struct {
	Gamma *Mat // [1, m] learned scale
	Beta  *Mat // [1, m] learned shift

	RunMean []float64
	RunVar  []float64

	Momentum float64
	Eps      float64
}

// NewBatchNorm returns a BatchNorm over m features with unit scale, zero
// shift and unit running variance.
func NewBatchNorm(m int) *BatchNorm {
	bn := &BatchNorm{
		Gamma:    NewMat(1, m),
		Beta:     NewMat(1, m),
		RunMean:  make([]float64, m),
		RunVar:   make([]float64, m),
		Momentum: 0.1,
		Eps:      1e-5,
	}
	for i := 0; i < m; i++ {
		bn.Gamma.W[i] = 1
		bn.RunVar[i] = 1
	}
	return bn
}

// Apply normalizes x on the tape. Batch statistics in training mode are the
// one place where a batched call differs from per-sample calls.
func (bn *BatchNorm) Apply(g *Graph, x *Mat) *Mat {
	m := len(bn.RunMean)
	if x.Cols != m {
		panic(fmt.Sprintf("gen: BatchNorm over %d features got %dx%d input", m, x.Rows, x.Cols))
	}
	out := NewMat(x.Rows, x.Cols)
	n := float64(x.Rows)

	if !g.Training {
		for r := 0; r < x.Rows; r++ {
			off := r * m
			for c := 0; c < m; c++ {
				xhat := (x.W[off+c] - bn.RunMean[c]) / math.Sqrt(bn.RunVar[c]+bn.Eps)
				out.W[off+c] = xhat*bn.Gamma.W[c] + bn.Beta.W[c]
			}
		}
		return out
	}

	mean := make([]float64, m)
	variance := make([]float64, m)
	for r := 0; r < x.Rows; r++ {
		off := r * m
		for c := 0; c < m; c++ {
			mean[c] += x.W[off+c]
		}
	}
	for c := 0; c < m; c++ {
		mean[c] /= n
	}
	for r := 0; r < x.Rows; r++ {
		off := r * m
		for c := 0; c < m; c++ {
			d := x.W[off+c] - mean[c]
			variance[c] += d * d
		}
	}
	for c := 0; c < m; c++ {
		variance[c] /= n
	}

	invStd := make([]float64, m)
	for c := 0; c < m; c++ {
		invStd[c] = 1 / math.Sqrt(variance[c]+bn.Eps)
	}
	xhat := NewMat(x.Rows, m)
	for r := 0; r < x.Rows; r++ {
		off := r * m
		for c := 0; c < m; c++ {
			xhat.W[off+c] = (x.W[off+c] - mean[c]) * invStd[c]
			out.W[off+c] = xhat.W[off+c]*bn.Gamma.W[c] + bn.Beta.W[c]
		}
	}

	for c := 0; c < m; c++ {
		bn.RunMean[c] = (1-bn.Momentum)*bn.RunMean[c] + bn.Momentum*mean[c]
		bn.RunVar[c] = (1-bn.Momentum)*bn.RunVar[c] + bn.Momentum*variance[c]
	}

	g.push(func() {
		for c := 0; c < m; c++ {
			sumD := 0.0
			sumDXhat := 0.0
			for r := 0; r < x.Rows; r++ {
				d := out.Dw[r*m+c]
				sumD += d
				sumDXhat += d * xhat.W[r*m+c]
			}
			bn.Beta.Dw[c] += sumD
			bn.Gamma.Dw[c] += sumDXhat

			// dx = gamma*invStd/n * (n*dout - sum(dout) - xhat*sum(dout*xhat))
			gInv := bn.Gamma.W[c] * invStd[c] / n
			for r := 0; r < x.Rows; r++ {
				d := out.Dw[r*m+c]
				x.Dw[r*m+c] += gInv * (n*d - sumD - xhat.W[r*m+c]*sumDXhat)
			}
		}
	})
	return out
}

func (bn *BatchNorm) register(ps *ParamSet, prefix string) {
	ps.Add(prefix+".gamma", bn.Gamma)
	ps.Add(prefix+".beta", bn.Beta)
	ps.AddBuffer(prefix+".running_mean", bn.RunMean)
	ps.AddBuffer(prefix+".running_var", bn.RunVar)
}
