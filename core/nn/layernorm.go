package nn

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// LayerNorm normalises each row over its features with a learned gain and
// shift. It does not depend on batch composition.
type LayerNorm struct {
	Gamma    *Param
	Beta     *Param
	Features int
	Eps      float64
}

type layerNormCache struct {
	xhat   *mat.Dense
	invStd []float64
}

// NewLayerNorm returns an identity-initialised layer normalisation.
func NewLayerNorm(name string, features int) *LayerNorm {
	ln := &LayerNorm{
		Gamma:    newParam(name+".weight", 1, features),
		Beta:     newParam(name+".bias", 1, features),
		Features: features,
		Eps:      1e-5,
	}
	fillConst(ln.Gamma.Value, 1)
	return ln
}

// Forward normalises every row of x.
func (ln *LayerNorm) Forward(x *mat.Dense) (*mat.Dense, *layerNormCache) {
	rows, cols := x.Dims()
	xhat := mat.NewDense(rows, cols, nil)
	y := mat.NewDense(rows, cols, nil)
	invStd := make([]float64, rows)
	gamma := ln.Gamma.Value.RawRowView(0)
	beta := ln.Beta.Value.RawRowView(0)
	for r := 0; r < rows; r++ {
		in := x.RawRowView(r)
		var mean float64
		for _, v := range in {
			mean += v
		}
		mean /= float64(cols)
		var variance float64
		for _, v := range in {
			d := v - mean
			variance += d * d
		}
		variance /= float64(cols)
		invStd[r] = 1 / math.Sqrt(variance+ln.Eps)
		xh := xhat.RawRowView(r)
		yr := y.RawRowView(r)
		for j, v := range in {
			xh[j] = (v - mean) * invStd[r]
			yr[j] = gamma[j]*xh[j] + beta[j]
		}
	}
	return y, &layerNormCache{xhat: xhat, invStd: invStd}
}

// Backward accumulates gain/shift gradients and returns dL/dx.
func (ln *LayerNorm) Backward(cache *layerNormCache, dy *mat.Dense) *mat.Dense {
	rows, cols := dy.Dims()
	n := float64(cols)
	dx := mat.NewDense(rows, cols, nil)
	gamma := ln.Gamma.Value.RawRowView(0)
	dGamma := ln.Gamma.Grad.RawRowView(0)
	dBeta := ln.Beta.Grad.RawRowView(0)
	dxhat := make([]float64, cols)
	for r := 0; r < rows; r++ {
		g := dy.RawRowView(r)
		xh := cache.xhat.RawRowView(r)
		var sum, sumXhat float64
		for j := range g {
			dGamma[j] += g[j] * xh[j]
			dBeta[j] += g[j]
			dxhat[j] = g[j] * gamma[j]
			sum += dxhat[j]
			sumXhat += dxhat[j] * xh[j]
		}
		out := dx.RawRowView(r)
		scale := cache.invStd[r] / n
		for j := range out {
			out[j] = scale * (n*dxhat[j] - sum - xh[j]*sumXhat)
		}
	}
	return dx
}

// Params returns the gain and shift.
func (ln *LayerNorm) Params() []*Param { return []*Param{ln.Gamma, ln.Beta} }
