package gen

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Graph is a reverse-mode autodiff tape. Forward ops append their backward
// closures; Backward replays them in reverse. Training also selects
// batch-statistics mode for normalization layers; an eval graph uses running
// statistics and records no tape.
//
// A Graph is owned by a single forward pass and is not safe for concurrent
// use.
type Graph struct {
	Training bool
	tape     []func()
}

// NewGraph returns a graph. training enables both gradient recording and
// batch-statistics normalization.
func NewGraph(training bool) *Graph {
	return &Graph{Training: training}
}

// Backward replays the tape in reverse order. The caller seeds the gradient
// of the loss output (typically lossMat.Dw[0] = 1) before calling.
func (g *Graph) Backward() {
	for i := len(g.tape) - 1; i >= 0; i-- {
		g.tape[i]()
	}
}

func (g *Graph) push(f func()) {
	if g.Training {
		g.tape = append(g.tape, f)
	}
}

// Mul computes x*w for x [n,k] and w [k,m]. The inner products run through
// gonum's dense BLAS paths, as do both backward GEMMs.
func (g *Graph) Mul(x, w *Mat) *Mat {
	if x.Cols != w.Rows {
		panic(fmt.Sprintf("gen: Mul shape mismatch %dx%d * %dx%d", x.Rows, x.Cols, w.Rows, w.Cols))
	}
	out := NewMat(x.Rows, w.Cols)
	xd := mat.NewDense(x.Rows, x.Cols, x.W)
	wd := mat.NewDense(w.Rows, w.Cols, w.W)
	od := mat.NewDense(out.Rows, out.Cols, out.W)
	od.Mul(xd, wd)
	g.push(func() {
		gd := mat.NewDense(out.Rows, out.Cols, out.Dw)

		var dx mat.Dense
		dx.Mul(gd, wd.T())
		floats.Add(x.Dw, dx.RawMatrix().Data)

		var dw mat.Dense
		dw.Mul(xd.T(), gd)
		floats.Add(w.Dw, dw.RawMatrix().Data)
	})
	return out
}

// AddRow adds a 1 x m bias row to every row of x.
func (g *Graph) AddRow(x, b *Mat) *Mat {
	if b.Rows != 1 || b.Cols != x.Cols {
		panic(fmt.Sprintf("gen: AddRow bias %dx%d does not match %dx%d", b.Rows, b.Cols, x.Rows, x.Cols))
	}
	out := NewMat(x.Rows, x.Cols)
	for r := 0; r < x.Rows; r++ {
		off := r * x.Cols
		for c := 0; c < x.Cols; c++ {
			out.W[off+c] = x.W[off+c] + b.W[c]
		}
	}
	g.push(func() {
		for r := 0; r < x.Rows; r++ {
			off := r * x.Cols
			for c := 0; c < x.Cols; c++ {
				d := out.Dw[off+c]
				x.Dw[off+c] += d
				b.Dw[c] += d
			}
		}
	})
	return out
}

// Add computes a+b elementwise.
func (g *Graph) Add(a, b *Mat) *Mat {
	sameShape("Add", a, b)
	out := NewMat(a.Rows, a.Cols)
	floats.AddTo(out.W, a.W, b.W)
	g.push(func() {
		floats.Add(a.Dw, out.Dw)
		floats.Add(b.Dw, out.Dw)
	})
	return out
}

// Sub computes a-b elementwise.
func (g *Graph) Sub(a, b *Mat) *Mat {
	sameShape("Sub", a, b)
	out := NewMat(a.Rows, a.Cols)
	floats.SubTo(out.W, a.W, b.W)
	g.push(func() {
		floats.Add(a.Dw, out.Dw)
		floats.AddScaled(b.Dw, -1, out.Dw)
	})
	return out
}

// EltMul computes a*b elementwise.
func (g *Graph) EltMul(a, b *Mat) *Mat {
	sameShape("EltMul", a, b)
	out := NewMat(a.Rows, a.Cols)
	floats.MulTo(out.W, a.W, b.W)
	g.push(func() {
		for i := range out.Dw {
			a.Dw[i] += b.W[i] * out.Dw[i]
			b.Dw[i] += a.W[i] * out.Dw[i]
		}
	})
	return out
}

// Scale multiplies every entry by s.
func (g *Graph) Scale(x *Mat, s float64) *Mat {
	out := NewMat(x.Rows, x.Cols)
	floats.AddScaled(out.W, s, x.W)
	g.push(func() {
		floats.AddScaled(x.Dw, s, out.Dw)
	})
	return out
}

// AddConst adds the scalar c to every entry.
func (g *Graph) AddConst(x *Mat, c float64) *Mat {
	out := NewMat(x.Rows, x.Cols)
	for i, v := range x.W {
		out.W[i] = v + c
	}
	g.push(func() {
		floats.Add(x.Dw, out.Dw)
	})
	return out
}

// ConcatCols concatenates matrices with equal row counts along the feature
// axis.
func (g *Graph) ConcatCols(ms ...*Mat) *Mat {
	if len(ms) == 0 {
		panic("gen: ConcatCols needs at least one input")
	}
	rows := ms[0].Rows
	cols := 0
	for _, m := range ms {
		if m.Rows != rows {
			panic(fmt.Sprintf("gen: ConcatCols row mismatch %d vs %d", m.Rows, rows))
		}
		cols += m.Cols
	}
	out := NewMat(rows, cols)
	for r := 0; r < rows; r++ {
		off := r * cols
		for _, m := range ms {
			copy(out.W[off:off+m.Cols], m.W[r*m.Cols:(r+1)*m.Cols])
			off += m.Cols
		}
	}
	g.push(func() {
		for r := 0; r < rows; r++ {
			off := r * cols
			for _, m := range ms {
				for c := 0; c < m.Cols; c++ {
					m.Dw[r*m.Cols+c] += out.Dw[off+c]
				}
				off += m.Cols
			}
		}
	})
	return out
}

// SliceCols extracts columns [lo, hi) as a new matrix.
func (g *Graph) SliceCols(x *Mat, lo, hi int) *Mat {
	if lo < 0 || hi > x.Cols || lo >= hi {
		panic(fmt.Sprintf("gen: SliceCols [%d,%d) out of range for %d cols", lo, hi, x.Cols))
	}
	out := NewMat(x.Rows, hi-lo)
	for r := 0; r < x.Rows; r++ {
		copy(out.W[r*out.Cols:(r+1)*out.Cols], x.W[r*x.Cols+lo:r*x.Cols+hi])
	}
	g.push(func() {
		for r := 0; r < x.Rows; r++ {
			for c := 0; c < out.Cols; c++ {
				x.Dw[r*x.Cols+lo+c] += out.Dw[r*out.Cols+c]
			}
		}
	})
	return out
}

func applyActivation(g *Graph, x *Mat, fn func(float64) float64, deriv func(in, out float64) float64) *Mat {
	out := NewMat(x.Rows, x.Cols)
	for i, v := range x.W {
		out.W[i] = fn(v)
	}
	g.push(func() {
		for i := range x.W {
			x.Dw[i] += deriv(x.W[i], out.W[i]) * out.Dw[i]
		}
	})
	return out
}

// ReLU applies max(0, x).
func (g *Graph) ReLU(x *Mat) *Mat {
	return applyActivation(g, x,
		func(v float64) float64 { return math.Max(0, v) },
		func(in, _ float64) float64 {
			if in > 0 {
				return 1
			}
			return 0
		})
}

// LeakyReLU applies x for x>0 and alpha*x otherwise.
func (g *Graph) LeakyReLU(x *Mat, alpha float64) *Mat {
	return applyActivation(g, x,
		func(v float64) float64 {
			if v > 0 {
				return v
			}
			return alpha * v
		},
		func(in, _ float64) float64 {
			if in > 0 {
				return 1
			}
			return alpha
		})
}

// Tanh applies the hyperbolic tangent.
func (g *Graph) Tanh(x *Mat) *Mat {
	return applyActivation(g, x, math.Tanh,
		func(_, out float64) float64 { return 1 - out*out })
}

// Sigmoid applies the logistic function.
func (g *Graph) Sigmoid(x *Mat) *Mat {
	return applyActivation(g, x,
		func(v float64) float64 { return 1 / (1 + math.Exp(-v)) },
		func(_, out float64) float64 { return out * (1 - out) })
}

// Exp applies e^x.
func (g *Graph) Exp(x *Mat) *Mat {
	return applyActivation(g, x, math.Exp,
		func(_, out float64) float64 { return out })
}

// Square applies x^2.
func (g *Graph) Square(x *Mat) *Mat {
	return applyActivation(g, x,
		func(v float64) float64 { return v * v },
		func(in, _ float64) float64 { return 2 * in })
}

// SoftmaxRows applies a numerically stable softmax along each row.
func (g *Graph) SoftmaxRows(x *Mat) *Mat {
	out := NewMat(x.Rows, x.Cols)
	for r := 0; r < x.Rows; r++ {
		row := x.W[r*x.Cols : (r+1)*x.Cols]
		maxv := floats.Max(row)
		sum := 0.0
		for c, v := range row {
			e := math.Exp(v - maxv)
			out.W[r*x.Cols+c] = e
			sum += e
		}
		inv := 1 / sum
		for c := range row {
			out.W[r*x.Cols+c] *= inv
		}
	}
	g.push(func() {
		for r := 0; r < x.Rows; r++ {
			off := r * x.Cols
			dot := 0.0
			for c := 0; c < x.Cols; c++ {
				dot += out.Dw[off+c] * out.W[off+c]
			}
			for c := 0; c < x.Cols; c++ {
				x.Dw[off+c] += out.W[off+c] * (out.Dw[off+c] - dot)
			}
		}
	})
	return out
}

// RepeatRows repeats each row of x k times consecutively, producing a
// [n*k, m] matrix. Used to broadcast a per-cloud context to every point.
func (g *Graph) RepeatRows(x *Mat, k int) *Mat {
	out := NewMat(x.Rows*k, x.Cols)
	for r := 0; r < x.Rows; r++ {
		src := x.W[r*x.Cols : (r+1)*x.Cols]
		for j := 0; j < k; j++ {
			copy(out.W[(r*k+j)*x.Cols:(r*k+j+1)*x.Cols], src)
		}
	}
	g.push(func() {
		for r := 0; r < x.Rows; r++ {
			for j := 0; j < k; j++ {
				off := (r*k + j) * x.Cols
				for c := 0; c < x.Cols; c++ {
					x.Dw[r*x.Cols+c] += out.Dw[off+c]
				}
			}
		}
	})
	return out
}

// MaxPoolRows reduces consecutive groups of k rows to their columnwise
// maximum, producing a [n/k, m] matrix. Gradients route to the argmax row of
// each group.
func (g *Graph) MaxPoolRows(x *Mat, k int) *Mat {
	if k <= 0 || x.Rows%k != 0 {
		panic(fmt.Sprintf("gen: MaxPoolRows group %d does not divide %d rows", k, x.Rows))
	}
	groups := x.Rows / k
	out := NewMat(groups, x.Cols)
	argmax := make([]int, groups*x.Cols)
	for gi := 0; gi < groups; gi++ {
		for c := 0; c < x.Cols; c++ {
			best := x.W[(gi*k)*x.Cols+c]
			bestRow := gi * k
			for j := 1; j < k; j++ {
				v := x.W[(gi*k+j)*x.Cols+c]
				if v > best {
					best = v
					bestRow = gi*k + j
				}
			}
			out.W[gi*x.Cols+c] = best
			argmax[gi*x.Cols+c] = bestRow
		}
	}
	g.push(func() {
		for gi := 0; gi < groups; gi++ {
			for c := 0; c < x.Cols; c++ {
				x.Dw[argmax[gi*x.Cols+c]*x.Cols+c] += out.Dw[gi*x.Cols+c]
			}
		}
	})
	return out
}

// SumCols sums each row into a [n,1] column.
func (g *Graph) SumCols(x *Mat) *Mat {
	out := NewMat(x.Rows, 1)
	for r := 0; r < x.Rows; r++ {
		out.W[r] = floats.Sum(x.W[r*x.Cols : (r+1)*x.Cols])
	}
	g.push(func() {
		for r := 0; r < x.Rows; r++ {
			for c := 0; c < x.Cols; c++ {
				x.Dw[r*x.Cols+c] += out.Dw[r]
			}
		}
	})
	return out
}

// MeanAll averages every entry into a [1,1] scalar.
func (g *Graph) MeanAll(x *Mat) *Mat {
	out := NewMat(1, 1)
	out.W[0] = floats.Sum(x.W) / float64(len(x.W))
	g.push(func() {
		d := out.Dw[0] / float64(len(x.W))
		for i := range x.Dw {
			x.Dw[i] += d
		}
	})
	return out
}

// MulCol scales each row of x by the matching scalar in the [n,1] column w.
func (g *Graph) MulCol(x, w *Mat) *Mat {
	if w.Rows != x.Rows || w.Cols != 1 {
		panic(fmt.Sprintf("gen: MulCol weight %dx%d does not match %dx%d", w.Rows, w.Cols, x.Rows, x.Cols))
	}
	out := NewMat(x.Rows, x.Cols)
	for r := 0; r < x.Rows; r++ {
		off := r * x.Cols
		for c := 0; c < x.Cols; c++ {
			out.W[off+c] = x.W[off+c] * w.W[r]
		}
	}
	g.push(func() {
		for r := 0; r < x.Rows; r++ {
			off := r * x.Cols
			acc := 0.0
			for c := 0; c < x.Cols; c++ {
				x.Dw[off+c] += w.W[r] * out.Dw[off+c]
				acc += x.W[off+c] * out.Dw[off+c]
			}
			w.Dw[r] += acc
		}
	})
	return out
}

// RowDot computes the per-row dot product of a and b as a [n,1] column.
func (g *Graph) RowDot(a, b *Mat) *Mat {
	sameShape("RowDot", a, b)
	out := NewMat(a.Rows, 1)
	for r := 0; r < a.Rows; r++ {
		out.W[r] = floats.Dot(a.W[r*a.Cols:(r+1)*a.Cols], b.W[r*b.Cols:(r+1)*b.Cols])
	}
	g.push(func() {
		for r := 0; r < a.Rows; r++ {
			off := r * a.Cols
			d := out.Dw[r]
			for c := 0; c < a.Cols; c++ {
				a.Dw[off+c] += b.W[off+c] * d
				b.Dw[off+c] += a.W[off+c] * d
			}
		}
	})
	return out
}

func sameShape(op string, a, b *Mat) {
	if a.Rows != b.Rows || a.Cols != b.Cols {
		panic(fmt.Sprintf("gen: %s shape mismatch %dx%d vs %dx%d", op, a.Rows, a.Cols, b.Rows, b.Cols))
	}
}
