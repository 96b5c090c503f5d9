package gen

import (
	"fmt"
	"math/rand"
)

// PoseConditioner fuses a sampled latent code with two scalar pose values
// (view angle, yaw) into the conditioning context shared by the flow prior
// and the diffusion decoder. The code and pose are concatenated, squeezed
// through two affine+batchnorm projections, and refined by one step of
// single-token self-attention.
type PoseConditioner struct {
	Dim int

	FC1  *Linear    // D+2 -> D/2
	BN1  *BatchNorm // D/2
	FC2  *Linear    // D/2 -> D
	BN2  *BatchNorm // D
	Attn *SelfAttention
}

// NewPoseConditioner builds the block for an even latent dimension.
func NewPoseConditioner(dim, heads int, rng *rand.Rand) (*PoseConditioner, error) {
	if dim < 2 || dim%2 != 0 {
		return nil, fmt.Errorf("pose conditioner: latent dim must be even and >= 2, got %d", dim)
	}
	attn, err := NewSelfAttention(dim, heads, rng)
	if err != nil {
		return nil, err
	}
	return &PoseConditioner{
		Dim:  dim,
		FC1:  NewLinear(dim+2, dim/2, rng),
		BN1:  NewBatchNorm(dim / 2),
		FC2:  NewLinear(dim/2, dim, rng),
		BN2:  NewBatchNorm(dim),
		Attn: attn,
	}, nil
}

// Apply maps (z [B,D], view [B,1], yaw [B,1]) to the context c [B,D]. The
// batchnorm layers follow the graph's training mode: batch statistics while
// training, running statistics in eval, so sampling with batch size one is
// well defined.
func (pc *PoseConditioner) Apply(g *Graph, z, view, yaw *Mat) *Mat {
	if z.Cols != pc.Dim {
		panic(fmt.Sprintf("gen: pose conditioner dim %d got z with %d features", pc.Dim, z.Cols))
	}
	if view.Cols != 1 || yaw.Cols != 1 || view.Rows != z.Rows || yaw.Rows != z.Rows {
		panic(fmt.Sprintf("gen: pose columns must be [%d,1], got view %dx%d yaw %dx%d",
			z.Rows, view.Rows, view.Cols, yaw.Rows, yaw.Cols))
	}
	h := g.ConcatCols(z, view, yaw)
	h = pc.BN1.Apply(g, pc.FC1.Apply(g, h))
	h = pc.BN2.Apply(g, pc.FC2.Apply(g, h))
	return pc.Attn.Apply(g, []*Mat{h})[0]
}

func (pc *PoseConditioner) register(ps *ParamSet, prefix string) {
	pc.FC1.register(ps, prefix+".fc1")
	pc.BN1.register(ps, prefix+".bn1")
	pc.FC2.register(ps, prefix+".fc2")
	pc.BN2.register(ps, prefix+".bn2")
	pc.Attn.register(ps, prefix+".attn")
}
