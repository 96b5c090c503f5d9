package gen

import (
	"fmt"
	"math"
	"math/rand"
)

// SelfAttention is scaled dot-product multi-head self-attention over a short
// token sequence. Each token is a [B, Dim] matrix. The pose conditioner uses
// it with a single token, where attention degenerates to a learned linear
// mixing through the value and output projections; the general form is kept
// so that multi-token variants (several fused views) couple tokens without
// an architecture change.
type SelfAttention struct {
	Dim   int
	Heads int

	Wq *Linear
	Wk *Linear
	Wv *Linear
	Wo *Linear
}

// NewSelfAttention builds an attention block with Dim split evenly across
// heads.
func NewSelfAttention(dim, heads int, rng *rand.Rand) (*SelfAttention, error) {
	if heads < 1 || dim%heads != 0 {
		return nil, fmt.Errorf("self-attention: dim %d not divisible by %d heads", dim, heads)
	}
	return &SelfAttention{
		Dim:   dim,
		Heads: heads,
		Wq:    NewLinear(dim, dim, rng),
		Wk:    NewLinear(dim, dim, rng),
		Wv:    NewLinear(dim, dim, rng),
		Wo:    NewLinear(dim, dim, rng),
	}, nil
}

// Apply attends every token to every token and returns the refined tokens.
func (a *SelfAttention) Apply(g *Graph, tokens []*Mat) []*Mat {
	if len(tokens) == 0 {
		panic("gen: SelfAttention got no tokens")
	}
	for _, tok := range tokens {
		if tok.Cols != a.Dim {
			panic(fmt.Sprintf("gen: SelfAttention dim %d got token with %d features", a.Dim, tok.Cols))
		}
	}

	s := len(tokens)
	dk := a.Dim / a.Heads
	scale := 1 / math.Sqrt(float64(dk))

	qs := make([]*Mat, s)
	ks := make([]*Mat, s)
	vs := make([]*Mat, s)
	for j, tok := range tokens {
		qs[j] = a.Wq.Apply(g, tok)
		ks[j] = a.Wk.Apply(g, tok)
		vs[j] = a.Wv.Apply(g, tok)
	}

	out := make([]*Mat, s)
	for i := 0; i < s; i++ {
		headOut := make([]*Mat, a.Heads)
		for h := 0; h < a.Heads; h++ {
			qh := g.SliceCols(qs[i], h*dk, (h+1)*dk)

			scores := make([]*Mat, s)
			for j := 0; j < s; j++ {
				kh := g.SliceCols(ks[j], h*dk, (h+1)*dk)
				scores[j] = g.Scale(g.RowDot(qh, kh), scale)
			}
			attn := g.SoftmaxRows(g.ConcatCols(scores...)) // [B, s]

			var acc *Mat
			for j := 0; j < s; j++ {
				vh := g.SliceCols(vs[j], h*dk, (h+1)*dk)
				weighted := g.MulCol(vh, g.SliceCols(attn, j, j+1))
				if acc == nil {
					acc = weighted
				} else {
					acc = g.Add(acc, weighted)
				}
			}
			headOut[h] = acc
		}
		out[i] = a.Wo.Apply(g, g.ConcatCols(headOut...))
	}
	return out
}

func (a *SelfAttention) register(ps *ParamSet, prefix string) {
	a.Wq.register(ps, prefix+".q")
	a.Wk.register(ps, prefix+".k")
	a.Wv.register(ps, prefix+".v")
	a.Wo.register(ps, prefix+".out")
}
