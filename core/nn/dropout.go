package nn

import (
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// dropoutMask returns an inverted-dropout mask shaped like x, or nil when
// dropout is inactive. Kept elements are scaled by 1/(1-p).
func dropoutMask(x *mat.Dense, p float64, mode Mode, rng *rand.Rand) *mat.Dense {
	if mode != Training || p <= 0 {
		return nil
	}
	mask := zerosLike(x)
	keep := 1 / (1 - p)
	raw := mask.RawMatrix()
	for r := 0; r < raw.Rows; r++ {
		row := raw.Data[r*raw.Stride : r*raw.Stride+raw.Cols]
		for i := range row {
			if rng.Float64() >= p {
				row[i] = keep
			}
		}
	}
	return mask
}

// applyMask multiplies x by mask element-wise; a nil mask is the identity.
func applyMask(x, mask *mat.Dense) *mat.Dense {
	if mask == nil {
		return x
	}
	var out mat.Dense
	out.MulElem(x, mask)
	return &out
}
