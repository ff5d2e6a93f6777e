package nn

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Linear is a fully connected layer y = x·Wᵀ + b.
type Linear struct {
	W   *Param // out × in
	B   *Param // 1 × out
	In  int
	Out int
}

// NewLinear initialises weights and bias from U(-1/√in, 1/√in).
func NewLinear(name string, in, out int, rng *rand.Rand) *Linear {
	l := &Linear{
		W:   newParam(name+".weight", out, in),
		B:   newParam(name+".bias", 1, out),
		In:  in,
		Out: out,
	}
	limit := 1 / math.Sqrt(float64(in))
	fillUniform(l.W.Value, limit, rng)
	fillUniform(l.B.Value, limit, rng)
	return l
}

// Forward computes the layer output for a batch×in matrix.
func (l *Linear) Forward(x *mat.Dense) *mat.Dense {
	var y mat.Dense
	y.Mul(x, l.W.Value.T())
	addRowVector(&y, l.B.Value.RawRowView(0))
	return &y
}

// Backward accumulates parameter gradients for the forward input x and
// returns the gradient with respect to x.
func (l *Linear) Backward(x, dy *mat.Dense) *mat.Dense {
	var gw mat.Dense
	gw.Mul(dy.T(), x)
	accumulate(l.W.Grad, &gw)
	accumulateColSums(l.B.Grad.RawRowView(0), dy)

	var dx mat.Dense
	dx.Mul(dy, l.W.Value)
	return &dx
}

// Params returns the weight and bias.
func (l *Linear) Params() []*Param { return []*Param{l.W, l.B} }
