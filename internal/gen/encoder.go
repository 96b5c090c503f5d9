package gen

import (
	"fmt"
	"math/rand"
)

// Encoder maps a batch of point clouds to a diagonal Gaussian posterior over
// the latent shape code. Clouds are row-packed: points holds B*n rows of
// (x, y, z) with the n points of cloud i occupying rows i*n..(i+1)*n-1.
type Encoder interface {
	Encode(g *Graph, points *Mat, pointsPerCloud int) (mean, logvar *Mat)
}

// PointNetEncoder is a PointNet-style encoder: a shared pointwise MLP lifts
// each point to a feature vector, a columnwise max over each cloud pools
// them into a global descriptor, and two heads read out the posterior mean
// and log-variance.
type PointNetEncoder struct {
	LatentDim int

	p1 *Linear // 3 -> 128
	p2 *Linear // 128 -> 256
	p3 *Linear // 256 -> 512

	meanH1 *Linear // 512 -> 256
	meanH2 *Linear // 256 -> D
	varH1  *Linear // 512 -> 256
	varH2  *Linear // 256 -> D
}

// NewPointNetEncoder builds the encoder for the given latent dimension.
func NewPointNetEncoder(latentDim int, rng *rand.Rand) (*PointNetEncoder, error) {
	if latentDim < 1 {
		return nil, fmt.Errorf("pointnet encoder: latent dim must be >= 1, got %d", latentDim)
	}
	return &PointNetEncoder{
		LatentDim: latentDim,
		p1:        NewLinear(3, 128, rng),
		p2:        NewLinear(128, 256, rng),
		p3:        NewLinear(256, 512, rng),
		meanH1:    NewLinear(512, 256, rng),
		meanH2:    NewLinear(256, latentDim, rng),
		varH1:     NewLinear(512, 256, rng),
		varH2:     NewLinear(256, latentDim, rng),
	}, nil
}

// Encode returns the posterior (mean, logvar), each [B, D].
func (e *PointNetEncoder) Encode(g *Graph, points *Mat, pointsPerCloud int) (mean, logvar *Mat) {
	if points.Cols != 3 {
		panic(fmt.Sprintf("gen: encoder expects 3 coordinate columns, got %d", points.Cols))
	}
	if pointsPerCloud <= 0 || points.Rows%pointsPerCloud != 0 {
		panic(fmt.Sprintf("gen: %d rows do not pack clouds of %d points", points.Rows, pointsPerCloud))
	}

	h := g.ReLU(e.p1.Apply(g, points))
	h = g.ReLU(e.p2.Apply(g, h))
	h = e.p3.Apply(g, h)
	feat := g.MaxPoolRows(h, pointsPerCloud) // [B, 512]

	mean = e.meanH2.Apply(g, g.ReLU(e.meanH1.Apply(g, feat)))
	logvar = e.varH2.Apply(g, g.ReLU(e.varH1.Apply(g, feat)))
	return mean, logvar
}

func (e *PointNetEncoder) register(ps *ParamSet, prefix string) {
	e.p1.register(ps, prefix+".point1")
	e.p2.register(ps, prefix+".point2")
	e.p3.register(ps, prefix+".point3")
	e.meanH1.register(ps, prefix+".mean1")
	e.meanH2.register(ps, prefix+".mean2")
	e.varH1.register(ps, prefix+".logvar1")
	e.varH2.register(ps, prefix+".logvar2")
}
