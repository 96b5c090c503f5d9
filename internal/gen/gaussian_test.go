package gen

import (
	"math"
	"math/rand"
	"testing"
)

func TestGaussianEntropyMonotonic(t *testing.T) {
	// Entropy of a diagonal Gaussian must increase with log-variance for a
	// fixed dimension.
	g := NewGraph(false)
	prev := math.Inf(-1)
	for _, lv := range []float64{-4, -2, -1, 0, 1, 2, 4} {
		logvar := NewMat(1, 16)
		for i := range logvar.W {
			logvar.W[i] = lv
		}
		h := GaussianEntropy(g, logvar).W[0]
		if h <= prev {
			t.Fatalf("entropy %g at logvar %g not greater than %g", h, lv, prev)
		}
		prev = h
	}
}

func TestGaussianEntropyClosedForm(t *testing.T) {
	g := NewGraph(false)
	logvar := NewMat(1, 4)
	h := GaussianEntropy(g, logvar).W[0]
	want := 0.5 * 4 * math.Log(2*math.Pi*math.E)
	if math.Abs(h-want) > 1e-12 {
		t.Errorf("entropy of unit Gaussian = %g, want %g", h, want)
	}
}

func TestStandardNormalLogProb(t *testing.T) {
	g := NewGraph(false)
	w := FromSlice(1, 2, []float64{0, 1})
	got := StandardNormalLogProb(g, w).W[0]
	want := standardNormalLogProbValue(0) + standardNormalLogProbValue(1)
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("log N(0,1) at (0,1) = %g, want %g", got, want)
	}
}

func TestReparameterizeSeeded(t *testing.T) {
	mean := FromSlice(2, 3, []float64{1, 2, 3, 4, 5, 6})
	logvar := NewMat(2, 3)

	g := NewGraph(false)
	a := Reparameterize(g, mean, logvar, rand.New(rand.NewSource(11)))
	b := Reparameterize(g, mean, logvar, rand.New(rand.NewSource(11)))
	for i := range a.W {
		if a.W[i] != b.W[i] {
			t.Fatalf("same seed produced different draws at %d: %g vs %g", i, a.W[i], b.W[i])
		}
	}

	// Zero variance collapses onto the mean.
	negInf := NewMat(2, 3)
	for i := range negInf.W {
		negInf.W[i] = -60
	}
	z := Reparameterize(g, mean, negInf, rand.New(rand.NewSource(12)))
	for i := range z.W {
		if math.Abs(z.W[i]-mean.W[i]) > 1e-10 {
			t.Errorf("near-deterministic draw deviates at %d: %g vs %g", i, z.W[i], mean.W[i])
		}
	}
}

func TestRandTruncatedNormalBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(13))
	m := RandTruncatedNormal(100, 8, 1.5, rng)
	for i, v := range m.W {
		if v < -1.5 || v > 1.5 {
			t.Fatalf("truncated draw[%d] = %g outside [-1.5, 1.5]", i, v)
		}
	}
}
