package gen

import (
	"math"
	"math/rand"
	"testing"
)

func TestCouplingFlowRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(21))
	flow, err := NewCouplingFlow(16, 6, 32, rng)
	if err != nil {
		t.Fatalf("NewCouplingFlow: %v", err)
	}

	g := NewGraph(false)
	c := NewRandMat(8, 16, 1, rng)
	w, _ := flow.Forward(g, c)
	back := flow.Reverse(g, w)

	// Invertibility is what makes the prior likelihood exact; surface the
	// worst divergence as a measurable quantity.
	worst := 0.0
	for i := range c.W {
		if d := math.Abs(back.W[i] - c.W[i]); d > worst {
			worst = d
		}
	}
	t.Logf("round-trip max divergence: %g", worst)
	if worst > 1e-4 {
		t.Errorf("round trip diverged by %g, tolerance 1e-4", worst)
	}
}

func TestCouplingFlowLogDetMatchesJacobian(t *testing.T) {
	rng := rand.New(rand.NewSource(22))
	const dim = 4
	flow, err := NewCouplingFlow(dim, 3, 16, rng)
	if err != nil {
		t.Fatalf("NewCouplingFlow: %v", err)
	}

	c := NewRandMat(1, dim, 1, rng)
	g := NewGraph(false)
	_, delta := flow.Forward(g, c)

	// Numerical Jacobian of c -> w by central differences.
	const h = 1e-6
	jac := make([][]float64, dim)
	for j := 0; j < dim; j++ {
		orig := c.W[j]
		c.W[j] = orig + h
		up, _ := flow.Forward(NewGraph(false), c)
		c.W[j] = orig - h
		down, _ := flow.Forward(NewGraph(false), c)
		c.W[j] = orig
		col := make([]float64, dim)
		for i := 0; i < dim; i++ {
			col[i] = (up.W[i] - down.W[i]) / (2 * h)
		}
		jac[j] = col
	}

	// log|det| via Gaussian elimination on the 4x4.
	m := make([][]float64, dim)
	for i := range m {
		m[i] = make([]float64, dim)
		for j := range m[i] {
			m[i][j] = jac[j][i]
		}
	}
	logDet := 0.0
	for k := 0; k < dim; k++ {
		pivot := k
		for i := k + 1; i < dim; i++ {
			if math.Abs(m[i][k]) > math.Abs(m[pivot][k]) {
				pivot = i
			}
		}
		m[k], m[pivot] = m[pivot], m[k]
		logDet += math.Log(math.Abs(m[k][k]))
		for i := k + 1; i < dim; i++ {
			f := m[i][k] / m[k][k]
			for j := k; j < dim; j++ {
				m[i][j] -= f * m[k][j]
			}
		}
	}

	// Convention: log p(c) = log N(w) - delta, so delta = -log|det dw/dc|.
	if math.Abs(-delta.W[0]-logDet) > 1e-4 {
		t.Errorf("deltaLogPw = %g, numerical -log|det| = %g", delta.W[0], -logDet)
	}
}

func TestCouplingFlowGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(23))
	flow, err := NewCouplingFlow(6, 2, 8, rng)
	if err != nil {
		t.Fatalf("NewCouplingFlow: %v", err)
	}
	c := NewRandMat(3, 6, 1, rng)

	// Loss shaped like the prior term: -mean(log N(w) - delta).
	forward := func() float64 {
		g := NewGraph(true)
		w, delta := flow.Forward(g, c)
		logPz := g.Sub(StandardNormalLogProb(g, w), delta)
		return g.Scale(g.MeanAll(logPz), -1).W[0]
	}
	backward := func() {
		g := NewGraph(true)
		w, delta := flow.Forward(g, c)
		logPz := g.Sub(StandardNormalLogProb(g, w), delta)
		loss := g.Scale(g.MeanAll(logPz), -1)
		loss.Dw[0] = 1
		g.Backward()
	}
	checkGrads(t, "flow/input", c, forward, backward)
}

func TestCouplingFlowValidation(t *testing.T) {
	rng := rand.New(rand.NewSource(24))
	if _, err := NewCouplingFlow(1, 2, 8, rng); err == nil {
		t.Error("dim=1 should fail")
	}
	if _, err := NewCouplingFlow(8, 0, 8, rng); err == nil {
		t.Error("steps=0 should fail")
	}
	if _, err := NewCouplingFlow(8, 2, 0, rng); err == nil {
		t.Error("hidden=0 should fail")
	}
}
