package nn

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// GradNorm returns the global L2 norm over every parameter gradient.
func GradNorm(params []*Param) float64 {
	var sq float64
	for _, p := range params {
		n := mat.Norm(p.Grad, 2)
		sq += n * n
	}
	return math.Sqrt(sq)
}

// ClipGradNorm rescales all gradients in place so that their global norm does
// not exceed maxNorm and returns the norm measured before clipping. A
// non-positive maxNorm disables clipping.
func ClipGradNorm(params []*Param, maxNorm float64) float64 {
	total := GradNorm(params)
	if maxNorm <= 0 || total <= maxNorm {
		return total
	}
	coef := maxNorm / (total + 1e-6)
	for _, p := range params {
		p.Grad.Scale(coef, p.Grad)
	}
	return total
}

// Adam implements the Adam optimizer with bias-corrected moment estimates.
type Adam struct {
	LR    float64
	Beta1 float64
	Beta2 float64
	Eps   float64

	t int
	m map[*Param]*mat.Dense
	v map[*Param]*mat.Dense
}

// NewAdam returns an optimizer with the usual β₁=0.9, β₂=0.999, ε=1e-8.
func NewAdam(lr float64) *Adam {
	return &Adam{
		LR:    lr,
		Beta1: 0.9,
		Beta2: 0.999,
		Eps:   1e-8,
		m:     make(map[*Param]*mat.Dense),
		v:     make(map[*Param]*mat.Dense),
	}
}

// Steps returns the number of updates applied so far.
func (a *Adam) Steps() int { return a.t }

// Step applies one update using the gradients currently held by params.
func (a *Adam) Step(params []*Param) {
	a.t++
	bc1 := 1 - math.Pow(a.Beta1, float64(a.t))
	bc2 := 1 - math.Pow(a.Beta2, float64(a.t))
	for _, p := range params {
		m, ok := a.m[p]
		if !ok {
			m = zerosLike(p.Value)
			a.m[p] = m
			a.v[p] = zerosLike(p.Value)
		}
		v := a.v[p]
		rows, _ := p.Value.Dims()
		for r := 0; r < rows; r++ {
			w := p.Value.RawRowView(r)
			g := p.Grad.RawRowView(r)
			mr := m.RawRowView(r)
			vr := v.RawRowView(r)
			for j := range w {
				mr[j] = a.Beta1*mr[j] + (1-a.Beta1)*g[j]
				vr[j] = a.Beta2*vr[j] + (1-a.Beta2)*g[j]*g[j]
				w[j] -= a.LR * (mr[j] / bc1) / (math.Sqrt(vr[j]/bc2) + a.Eps)
			}
		}
	}
}
