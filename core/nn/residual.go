package nn

import (
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// ResidualBlock is Linear → ReLU → Dropout. When the layer preserves width
// its output is added to the block input; otherwise it replaces it.
type ResidualBlock struct {
	Linear  *Linear
	Dropout float64
}

type residualCache struct {
	x    *mat.Dense
	pre  *mat.Dense
	mask *mat.Dense
}

// NewResidualBlock builds a block mapping in → out features.
func NewResidualBlock(name string, in, out int, dropout float64, rng *rand.Rand) *ResidualBlock {
	return &ResidualBlock{Linear: NewLinear(name, in, out, rng), Dropout: dropout}
}

// Residual reports whether the block adds its input to its output.
func (b *ResidualBlock) Residual() bool { return b.Linear.In == b.Linear.Out }

// Forward applies the block. rng is only consulted in Training mode.
func (b *ResidualBlock) Forward(x *mat.Dense, mode Mode, rng *rand.Rand) (*mat.Dense, *residualCache) {
	pre := b.Linear.Forward(x)
	act := relu(pre)
	mask := dropoutMask(act, b.Dropout, mode, rng)
	out := applyMask(act, mask)
	if b.Residual() {
		var sum mat.Dense
		sum.Add(x, out)
		out = &sum
	}
	return out, &residualCache{x: x, pre: pre, mask: mask}
}

// Backward accumulates the linear layer's gradients and returns dL/dx.
func (b *ResidualBlock) Backward(cache *residualCache, dOut *mat.Dense) *mat.Dense {
	dAct := applyMask(dOut, cache.mask)
	dPre := zerosLike(dAct)
	rows, _ := dAct.Dims()
	for r := 0; r < rows; r++ {
		p := cache.pre.RawRowView(r)
		src := dAct.RawRowView(r)
		dst := dPre.RawRowView(r)
		for j := range dst {
			if p[j] > 0 {
				dst[j] = src[j]
			}
		}
	}
	dx := b.Linear.Backward(cache.x, dPre)
	if b.Residual() {
		dx.Add(dx, dOut)
	}
	return dx
}

// Params returns the linear layer's parameters.
func (b *ResidualBlock) Params() []*Param { return b.Linear.Params() }

func relu(x *mat.Dense) *mat.Dense {
	out := zerosLike(x)
	rows, _ := x.Dims()
	for r := 0; r < rows; r++ {
		dst := out.RawRowView(r)
		for j, v := range x.RawRowView(r) {
			if v > 0 {
				dst[j] = v
			}
		}
	}
	return out
}
