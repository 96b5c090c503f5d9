// Package gen implements a conditional generative model for 3D point clouds.
// A point-cloud encoder produces a Gaussian posterior over a latent shape
// code, a pose conditioner fuses the code with view angle and yaw, a latent
// normalizing flow defines the prior, and a denoising-diffusion decoder
// reconstructs or generates point coordinates. Training combines posterior
// entropy, flow prior likelihood and the diffusion reconstruction loss into
// a single ELBO-style objective.
package gen

import (
	"fmt"
	"math"
	"math/rand"
)

// Mat is a dense row-major matrix with a gradient buffer of the same shape.
// Rows index the batch (or batch*points) dimension and Cols index features.
// W holds values, Dw accumulated gradients.
type Mat struct {
	Rows int
	Cols int
	W    []float64
	Dw   []float64
}

// NewMat returns a zero-valued Rows x Cols matrix with a zero gradient buffer.
func NewMat(rows, cols int) *Mat {
	if rows < 0 || cols < 0 {
		panic(fmt.Sprintf("gen: invalid matrix shape %dx%d", rows, cols))
	}
	return &Mat{
		Rows: rows,
		Cols: cols,
		W:    make([]float64, rows*cols),
		Dw:   make([]float64, rows*cols),
	}
}

// NewRandMat returns a Rows x Cols matrix with entries drawn from
// N(0, stddev^2) using the supplied generator.
func NewRandMat(rows, cols int, stddev float64, rng *rand.Rand) *Mat {
	m := NewMat(rows, cols)
	for i := range m.W {
		m.W[i] = rng.NormFloat64() * stddev
	}
	return m
}

// FromSlice wraps row-major data in a Mat. The data is copied.
func FromSlice(rows, cols int, data []float64) *Mat {
	if len(data) != rows*cols {
		panic(fmt.Sprintf("gen: FromSlice got %d values for %dx%d", len(data), rows, cols))
	}
	m := NewMat(rows, cols)
	copy(m.W, data)
	return m
}

// At returns the value at (row, col).
func (m *Mat) At(row, col int) float64 {
	return m.W[row*m.Cols+col]
}

// Set assigns the value at (row, col).
func (m *Mat) Set(row, col int, v float64) {
	m.W[row*m.Cols+col] = v
}

// Row returns a copy of row i as a 1 x Cols matrix.
func (m *Mat) Row(i int) *Mat {
	out := NewMat(1, m.Cols)
	copy(out.W, m.W[i*m.Cols:(i+1)*m.Cols])
	return out
}

// Clone returns a value-only copy (gradients start at zero).
func (m *Mat) Clone() *Mat {
	out := NewMat(m.Rows, m.Cols)
	copy(out.W, m.W)
	return out
}

// ZeroGrad clears the gradient buffer.
func (m *Mat) ZeroGrad() {
	for i := range m.Dw {
		m.Dw[i] = 0
	}
}

// HasBadValues reports whether any entry is NaN or infinite.
func (m *Mat) HasBadValues() bool {
	for _, v := range m.W {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return true
		}
	}
	return false
}
