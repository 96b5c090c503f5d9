package gen

import (
	"math"
	"math/rand"
	"testing"
)

// numericGrad estimates d(loss)/d(m[idx]) by central differences, where
// forward rebuilds the loss from scratch.
func numericGrad(m *Mat, idx int, forward func() float64) float64 {
	const h = 1e-6
	orig := m.W[idx]
	m.W[idx] = orig + h
	up := forward()
	m.W[idx] = orig - h
	down := forward()
	m.W[idx] = orig
	return (up - down) / (2 * h)
}

func checkGrads(t *testing.T, name string, m *Mat, forward func() float64, backward func()) {
	t.Helper()
	m.ZeroGrad()
	backward()
	for i := range m.W {
		want := numericGrad(m, i, forward)
		got := m.Dw[i]
		if math.Abs(got-want) > 1e-4*(1+math.Abs(want)) {
			t.Errorf("%s: grad[%d] = %g, numeric %g", name, i, got, want)
		}
	}
}

func TestMulGradient(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	x := NewRandMat(3, 4, 1, rng)
	w := NewRandMat(4, 2, 1, rng)

	forward := func() float64 {
		g := NewGraph(true)
		return g.MeanAll(g.Square(g.Mul(x, w))).W[0]
	}
	backward := func() {
		g := NewGraph(true)
		loss := g.MeanAll(g.Square(g.Mul(x, w)))
		loss.Dw[0] = 1
		g.Backward()
	}
	w.ZeroGrad()
	checkGrads(t, "Mul/x", x, forward, backward)
	x.ZeroGrad()
	checkGrads(t, "Mul/w", w, forward, backward)
}

func TestActivationGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	x := NewRandMat(4, 5, 1, rng)

	cases := []struct {
		name string
		op   func(g *Graph, m *Mat) *Mat
	}{
		{"Tanh", func(g *Graph, m *Mat) *Mat { return g.Tanh(m) }},
		{"Sigmoid", func(g *Graph, m *Mat) *Mat { return g.Sigmoid(m) }},
		{"Exp", func(g *Graph, m *Mat) *Mat { return g.Exp(m) }},
		{"Square", func(g *Graph, m *Mat) *Mat { return g.Square(m) }},
		{"LeakyReLU", func(g *Graph, m *Mat) *Mat { return g.LeakyReLU(m, 0.01) }},
		{"SoftmaxRows", func(g *Graph, m *Mat) *Mat { return g.SoftmaxRows(m) }},
		{"SumCols", func(g *Graph, m *Mat) *Mat { return g.Square(g.SumCols(m)) }},
	}
	for _, tc := range cases {
		forward := func() float64 {
			g := NewGraph(true)
			return g.MeanAll(g.Square(tc.op(g, x))).W[0]
		}
		backward := func() {
			g := NewGraph(true)
			loss := g.MeanAll(g.Square(tc.op(g, x)))
			loss.Dw[0] = 1
			g.Backward()
		}
		checkGrads(t, tc.name, x, forward, backward)
	}
}

func TestConcatSliceRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	a := NewRandMat(2, 3, 1, rng)
	b := NewRandMat(2, 4, 1, rng)

	g := NewGraph(false)
	cat := g.ConcatCols(a, b)
	if cat.Rows != 2 || cat.Cols != 7 {
		t.Fatalf("ConcatCols shape = %dx%d, want 2x7", cat.Rows, cat.Cols)
	}
	back := g.SliceCols(cat, 3, 7)
	for i := range b.W {
		if back.W[i] != b.W[i] {
			t.Fatalf("SliceCols[%d] = %g, want %g", i, back.W[i], b.W[i])
		}
	}
}

func TestRepeatRowsAndMaxPool(t *testing.T) {
	x := FromSlice(2, 2, []float64{1, 2, 3, 4})
	g := NewGraph(true)
	rep := g.RepeatRows(x, 3)
	if rep.Rows != 6 || rep.Cols != 2 {
		t.Fatalf("RepeatRows shape = %dx%d, want 6x2", rep.Rows, rep.Cols)
	}
	if rep.At(2, 0) != 1 || rep.At(3, 1) != 4 {
		t.Errorf("RepeatRows content wrong: %v", rep.W)
	}

	pooled := g.MaxPoolRows(rep, 3)
	if pooled.Rows != 2 || pooled.Cols != 2 {
		t.Fatalf("MaxPoolRows shape = %dx%d, want 2x2", pooled.Rows, pooled.Cols)
	}
	for i := range x.W {
		if pooled.W[i] != x.W[i] {
			t.Errorf("MaxPoolRows[%d] = %g, want %g", i, pooled.W[i], x.W[i])
		}
	}

	// Gradient through repeat should sum the k copies.
	loss := g.MeanAll(rep)
	loss.Dw[0] = 1
	g.Backward()
	want := 3.0 / 12.0
	for i, d := range x.Dw {
		if math.Abs(d-want) > 1e-12 {
			t.Errorf("RepeatRows grad[%d] = %g, want %g", i, d, want)
		}
	}
}

func TestBatchNormTrainEval(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	bn := NewBatchNorm(3)
	x := NewRandMat(32, 3, 2, rng)

	g := NewGraph(true)
	out := bn.Apply(g, x)

	// Training output is standardized per feature.
	for c := 0; c < 3; c++ {
		sum, sumSq := 0.0, 0.0
		for r := 0; r < 32; r++ {
			v := out.At(r, c)
			sum += v
			sumSq += v * v
		}
		mean := sum / 32
		variance := sumSq/32 - mean*mean
		if math.Abs(mean) > 1e-9 {
			t.Errorf("train mean[%d] = %g, want ~0", c, mean)
		}
		if math.Abs(variance-1) > 1e-3 {
			t.Errorf("train var[%d] = %g, want ~1", c, variance)
		}
	}

	// Running stats moved toward the batch stats.
	if bn.RunMean[0] == 0 && bn.RunMean[1] == 0 && bn.RunMean[2] == 0 {
		t.Error("running mean not updated in training mode")
	}

	// Eval mode must be purely rowwise: batch of one matches the batch run.
	ge := NewGraph(false)
	full := bn.Apply(ge, x)
	single := bn.Apply(ge, x.Row(5))
	for c := 0; c < 3; c++ {
		if math.Abs(full.At(5, c)-single.At(0, c)) > 1e-12 {
			t.Errorf("eval col %d: batch %g vs single %g", c, full.At(5, c), single.At(0, c))
		}
	}
}

func TestBatchNormGradient(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	bn := NewBatchNorm(2)
	x := NewRandMat(8, 2, 1, rng)

	// Freeze running stats drift between numeric evaluations by resetting
	// them; they do not affect training-mode outputs.
	forward := func() float64 {
		g := NewGraph(true)
		return g.MeanAll(g.Square(bn.Apply(g, x))).W[0]
	}
	backward := func() {
		g := NewGraph(true)
		loss := g.MeanAll(g.Square(bn.Apply(g, x)))
		loss.Dw[0] = 1
		g.Backward()
	}
	bn.Gamma.ZeroGrad()
	bn.Beta.ZeroGrad()
	checkGrads(t, "BatchNorm/x", x, forward, backward)
	x.ZeroGrad()
	checkGrads(t, "BatchNorm/gamma", bn.Gamma, forward, backward)
}
