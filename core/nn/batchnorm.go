package nn

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// BatchNorm normalises every feature over the batch and time dimensions.
//
// In Training mode statistics come from the current batch and are folded into
// RunningMean/RunningVar; in Evaluation mode the running estimates are used
// unchanged. A single-window request therefore never normalises with a
// degenerate one-sample variance.
type BatchNorm struct {
	Gamma       *Param // 1 × features
	Beta        *Param // 1 × features
	RunningMean *mat.Dense
	RunningVar  *mat.Dense
	Features    int
	Momentum    float64
	Eps         float64
}

type batchNormCache struct {
	xhat []*mat.Dense
}

// NewBatchNorm returns an identity-initialised normalisation layer.
func NewBatchNorm(name string, features int) *BatchNorm {
	bn := &BatchNorm{
		Gamma:       newParam(name+".weight", 1, features),
		Beta:        newParam(name+".bias", 1, features),
		RunningMean: mat.NewDense(1, features, nil),
		RunningVar:  mat.NewDense(1, features, nil),
		Features:    features,
		Momentum:    0.1,
		Eps:         1e-5,
	}
	fillConst(bn.Gamma.Value, 1)
	fillConst(bn.RunningVar, 1)
	return bn
}

// Forward normalises every step matrix. The cache is only populated in
// Training mode.
func (bn *BatchNorm) Forward(steps []*mat.Dense, mode Mode) ([]*mat.Dense, *batchNormCache) {
	mean := make([]float64, bn.Features)
	variance := make([]float64, bn.Features)
	if mode == Training {
		n := 0
		for _, x := range steps {
			rows, _ := x.Dims()
			n += rows
			accumulateColSums(mean, x)
		}
		for j := range mean {
			mean[j] /= float64(n)
		}
		for _, x := range steps {
			rows, _ := x.Dims()
			for r := 0; r < rows; r++ {
				for j, v := range x.RawRowView(r) {
					d := v - mean[j]
					variance[j] += d * d
				}
			}
		}
		for j := range variance {
			variance[j] /= float64(n)
		}
		bn.updateRunning(mean, variance, n)
	} else {
		copy(mean, bn.RunningMean.RawRowView(0))
		copy(variance, bn.RunningVar.RawRowView(0))
	}

	invStd := make([]float64, bn.Features)
	for j := range invStd {
		invStd[j] = 1 / math.Sqrt(variance[j]+bn.Eps)
	}
	gamma := bn.Gamma.Value.RawRowView(0)
	beta := bn.Beta.Value.RawRowView(0)

	out := make([]*mat.Dense, len(steps))
	var cache *batchNormCache
	if mode == Training {
		cache = &batchNormCache{xhat: make([]*mat.Dense, len(steps))}
	}
	for t, x := range steps {
		rows, _ := x.Dims()
		xhat := zerosLike(x)
		y := zerosLike(x)
		for r := 0; r < rows; r++ {
			in := x.RawRowView(r)
			xh := xhat.RawRowView(r)
			yr := y.RawRowView(r)
			for j := range in {
				xh[j] = (in[j] - mean[j]) * invStd[j]
				yr[j] = gamma[j]*xh[j] + beta[j]
			}
		}
		out[t] = y
		if cache != nil {
			cache.xhat[t] = xhat
		}
	}
	return out, cache
}

func (bn *BatchNorm) updateRunning(mean, variance []float64, n int) {
	rm := bn.RunningMean.RawRowView(0)
	rv := bn.RunningVar.RawRowView(0)
	correction := 1.0
	if n > 1 {
		correction = float64(n) / float64(n-1)
	}
	for j := range rm {
		rm[j] = (1-bn.Momentum)*rm[j] + bn.Momentum*mean[j]
		rv[j] = (1-bn.Momentum)*rv[j] + bn.Momentum*variance[j]*correction
	}
}

// Backward accumulates gradients of the affine parameters. The network input
// needs no gradient, so none is returned.
func (bn *BatchNorm) Backward(cache *batchNormCache, dys []*mat.Dense) {
	dGamma := bn.Gamma.Grad.RawRowView(0)
	dBeta := bn.Beta.Grad.RawRowView(0)
	for t, dy := range dys {
		if dy == nil {
			continue
		}
		xhat := cache.xhat[t]
		rows, _ := dy.Dims()
		for r := 0; r < rows; r++ {
			xh := xhat.RawRowView(r)
			for j, g := range dy.RawRowView(r) {
				dGamma[j] += g * xh[j]
				dBeta[j] += g
			}
		}
	}
}

// Params returns the affine parameters.
func (bn *BatchNorm) Params() []*Param { return []*Param{bn.Gamma, bn.Beta} }
