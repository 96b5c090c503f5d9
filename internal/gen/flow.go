package gen

import (
	"fmt"
	"math/rand"
)

// LatentFlow is an invertible differentiable bijection between the
// conditioning latent space and a standard-normal base space. Forward
// evaluates c -> w together with the signed log-determinant term, under the
// convention
//
//	log p(c) = log N(w; 0, I) - deltaLogPw
//
// Reverse is the exact functional inverse of Forward up to floating-point
// round-off.
type LatentFlow interface {
	Forward(g *Graph, c *Mat) (w, deltaLogPw *Mat)
	Reverse(g *Graph, w *Mat) *Mat
	Dim() int
}

// couplingStep is one affine coupling layer: half the features pass through
// unchanged and parameterize an elementwise affine transform of the other
// half. flip alternates which half conditions so every feature is
// transformed across the stack.
type couplingStep struct {
	d1   int // pass-through width
	d2   int // transformed width
	flip bool

	h1 *Linear // d1 -> hidden
	h2 *Linear // hidden -> hidden
	h3 *Linear // hidden -> 2*d2 (log-scale, shift)
}

// logScaleClamp bounds each coupling log-scale to (-clamp, clamp) via tanh,
// keeping exp(s) well conditioned in both directions.
const logScaleClamp = 2.0

func newCouplingStep(dim, hidden int, flip bool, rng *rand.Rand) *couplingStep {
	d1 := dim / 2
	d2 := dim - d1
	return &couplingStep{
		d1:   d1,
		d2:   d2,
		flip: flip,
		h1:   NewLinear(d1, hidden, rng),
		h2:   NewLinear(hidden, hidden, rng),
		h3:   NewLinear(hidden, 2*d2, rng),
	}
}

// split returns the conditioning and transformed halves in layer order.
func (cs *couplingStep) split(g *Graph, x *Mat) (x1, x2 *Mat) {
	if cs.flip {
		return g.SliceCols(x, cs.d2, cs.d2+cs.d1), g.SliceCols(x, 0, cs.d2)
	}
	return g.SliceCols(x, 0, cs.d1), g.SliceCols(x, cs.d1, cs.d1+cs.d2)
}

// join is the inverse of split's column ordering.
func (cs *couplingStep) join(g *Graph, x1, x2 *Mat) *Mat {
	if cs.flip {
		return g.ConcatCols(x2, x1)
	}
	return g.ConcatCols(x1, x2)
}

// affineParams computes the clamped log-scale and shift from the
// pass-through half.
func (cs *couplingStep) affineParams(g *Graph, x1 *Mat) (s, t *Mat) {
	h := g.LeakyReLU(cs.h1.Apply(g, x1), 0.01)
	h = g.LeakyReLU(cs.h2.Apply(g, h), 0.01)
	st := cs.h3.Apply(g, h)
	s = g.Scale(g.Tanh(g.SliceCols(st, 0, cs.d2)), logScaleClamp)
	t = g.SliceCols(st, cs.d2, 2*cs.d2)
	return s, t
}

func (cs *couplingStep) forward(g *Graph, x *Mat) (out, logDet *Mat) {
	x1, x2 := cs.split(g, x)
	s, t := cs.affineParams(g, x1)
	y2 := g.Add(g.EltMul(x2, g.Exp(s)), t)
	return cs.join(g, x1, y2), g.SumCols(s)
}

func (cs *couplingStep) reverse(g *Graph, y *Mat) *Mat {
	y1, y2 := cs.split(g, y)
	s, t := cs.affineParams(g, y1)
	x2 := g.EltMul(g.Sub(y2, t), g.Exp(g.Scale(s, -1)))
	return cs.join(g, y1, x2)
}

func (cs *couplingStep) register(ps *ParamSet, prefix string) {
	cs.h1.register(ps, prefix+".h1")
	cs.h2.register(ps, prefix+".h2")
	cs.h3.register(ps, prefix+".h3")
}

// CouplingFlow is a stack of affine coupling steps with alternating halves.
type CouplingFlow struct {
	dim   int
	steps []*couplingStep
}

// NewCouplingFlow builds a flow over dim features with the given number of
// coupling steps and hidden width.
func NewCouplingFlow(dim, steps, hidden int, rng *rand.Rand) (*CouplingFlow, error) {
	if dim < 2 {
		return nil, fmt.Errorf("coupling flow: dim must be >= 2, got %d", dim)
	}
	if steps < 1 || hidden < 1 {
		return nil, fmt.Errorf("coupling flow: invalid steps=%d hidden=%d", steps, hidden)
	}
	cf := &CouplingFlow{dim: dim}
	for i := 0; i < steps; i++ {
		cf.steps = append(cf.steps, newCouplingStep(dim, hidden, i%2 == 1, rng))
	}
	return cf, nil
}

// Dim returns the flow's feature dimension.
func (cf *CouplingFlow) Dim() int { return cf.dim }

// Forward maps latent codes to the base space and accumulates the signed
// log-det term: deltaLogPw = -sum of log-scales, so that
// log p(c) = log N(w) - deltaLogPw.
func (cf *CouplingFlow) Forward(g *Graph, c *Mat) (w, deltaLogPw *Mat) {
	if c.Cols != cf.dim {
		panic(fmt.Sprintf("gen: flow over %d dims got %dx%d input", cf.dim, c.Rows, c.Cols))
	}
	x := c
	var sum *Mat
	for _, cs := range cf.steps {
		var ld *Mat
		x, ld = cs.forward(g, x)
		if sum == nil {
			sum = ld
		} else {
			sum = g.Add(sum, ld)
		}
	}
	return x, g.Scale(sum, -1)
}

// Reverse maps base variables back to latent codes, inverting every step in
// reverse order.
func (cf *CouplingFlow) Reverse(g *Graph, w *Mat) *Mat {
	if w.Cols != cf.dim {
		panic(fmt.Sprintf("gen: flow over %d dims got %dx%d input", cf.dim, w.Rows, w.Cols))
	}
	x := w
	for i := len(cf.steps) - 1; i >= 0; i-- {
		x = cf.steps[i].reverse(g, x)
	}
	return x
}

func (cf *CouplingFlow) register(ps *ParamSet, prefix string) {
	for i, cs := range cf.steps {
		cs.register(ps, fmt.Sprintf("%s.step%d", prefix, i))
	}
}
