package nn

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// LSTM is a stacked long short-term memory encoder. Gate blocks inside the
// 4H-wide weight matrices are ordered input, forget, cell, output.
type LSTM struct {
	Layers  []*LSTMLayer
	Hidden  int
	Dropout float64
}

// LSTMLayer holds the weights of one recurrent layer.
type LSTMLayer struct {
	Wih    *Param // 4H × in
	Whh    *Param // 4H × H
	B      *Param // 1 × 4H
	In     int
	Hidden int
}

type lstmStep struct {
	x, hPrev, cPrev  *mat.Dense
	i, f, g, o, tanh *mat.Dense
}

type lstmCache struct {
	steps [][]lstmStep   // [layer][t]
	masks [][]*mat.Dense // [layer][t] dropout on the output of every layer but the last
}

// NewLSTM builds a layers-deep encoder. Dropout is applied between layers
// only, so it has no effect when layers == 1.
func NewLSTM(name string, in, hidden, layers int, dropout float64, rng *rand.Rand) *LSTM {
	l := &LSTM{Hidden: hidden, Dropout: dropout}
	limit := 1 / math.Sqrt(float64(hidden))
	for k := 0; k < layers; k++ {
		width := in
		if k > 0 {
			width = hidden
		}
		prefix := fmt.Sprintf("%s.l%d", name, k)
		ly := &LSTMLayer{
			Wih:    newParam(prefix+".weight_ih", 4*hidden, width),
			Whh:    newParam(prefix+".weight_hh", 4*hidden, hidden),
			B:      newParam(prefix+".bias", 1, 4*hidden),
			In:     width,
			Hidden: hidden,
		}
		fillUniform(ly.Wih.Value, limit, rng)
		fillUniform(ly.Whh.Value, limit, rng)
		fillUniform(ly.B.Value, limit, rng)
		l.Layers = append(l.Layers, ly)
	}
	return l
}

// Forward runs the full sequence through every layer and returns the hidden
// state sequence of the top layer. The cache is nil outside Training mode.
func (l *LSTM) Forward(xs []*mat.Dense, mode Mode, rng *rand.Rand) ([]*mat.Dense, *lstmCache) {
	var cache *lstmCache
	if mode == Training {
		cache = &lstmCache{
			steps: make([][]lstmStep, len(l.Layers)),
			masks: make([][]*mat.Dense, len(l.Layers)-1),
		}
	}
	in := xs
	for k, ly := range l.Layers {
		hs, steps := ly.forward(in)
		if cache != nil {
			cache.steps[k] = steps
		}
		if k == len(l.Layers)-1 {
			return hs, cache
		}
		next := make([]*mat.Dense, len(hs))
		var masks []*mat.Dense
		if cache != nil {
			masks = make([]*mat.Dense, len(hs))
		}
		for t, h := range hs {
			m := dropoutMask(h, l.Dropout, mode, rng)
			next[t] = applyMask(h, m)
			if masks != nil {
				masks[t] = m
			}
		}
		if cache != nil {
			cache.masks[k] = masks
		}
		in = next
	}
	return in, cache
}

// Backward takes dL/dh for every top-layer step (nil entries mean zero) and
// returns dL/dx for every input step.
func (l *LSTM) Backward(cache *lstmCache, dTop []*mat.Dense) []*mat.Dense {
	d := dTop
	for k := len(l.Layers) - 1; k >= 0; k-- {
		dIn := l.Layers[k].backward(cache.steps[k], d)
		if k > 0 {
			for t := range dIn {
				dIn[t] = applyMask(dIn[t], cache.masks[k-1][t])
			}
		}
		d = dIn
	}
	return d
}

// Params returns all layer weights in layer order.
func (l *LSTM) Params() []*Param {
	var ps []*Param
	for _, ly := range l.Layers {
		ps = append(ps, ly.Wih, ly.Whh, ly.B)
	}
	return ps
}

func (ly *LSTMLayer) forward(xs []*mat.Dense) ([]*mat.Dense, []lstmStep) {
	rows, _ := xs[0].Dims()
	h := mat.NewDense(rows, ly.Hidden, nil)
	c := mat.NewDense(rows, ly.Hidden, nil)
	hs := make([]*mat.Dense, len(xs))
	steps := make([]lstmStep, len(xs))
	for t, x := range xs {
		st := ly.step(x, h, c)
		h, c = st.hOut, st.cOut
		hs[t] = h
		steps[t] = st.cache
	}
	return hs, steps
}

type stepResult struct {
	hOut, cOut *mat.Dense
	cache      lstmStep
}

func (ly *LSTMLayer) step(x, hPrev, cPrev *mat.Dense) stepResult {
	rows, _ := x.Dims()
	hid := ly.Hidden

	var z, zh mat.Dense
	z.Mul(x, ly.Wih.Value.T())
	zh.Mul(hPrev, ly.Whh.Value.T())
	z.Add(&z, &zh)
	addRowVector(&z, ly.B.Value.RawRowView(0))

	ig := mat.NewDense(rows, hid, nil)
	fg := mat.NewDense(rows, hid, nil)
	gg := mat.NewDense(rows, hid, nil)
	og := mat.NewDense(rows, hid, nil)
	tc := mat.NewDense(rows, hid, nil)
	c := mat.NewDense(rows, hid, nil)
	h := mat.NewDense(rows, hid, nil)
	for r := 0; r < rows; r++ {
		zr := z.RawRowView(r)
		cp := cPrev.RawRowView(r)
		iR, fR, gR, oR := ig.RawRowView(r), fg.RawRowView(r), gg.RawRowView(r), og.RawRowView(r)
		tR, cR, hR := tc.RawRowView(r), c.RawRowView(r), h.RawRowView(r)
		for j := 0; j < hid; j++ {
			iR[j] = sigmoid(zr[j])
			fR[j] = sigmoid(zr[hid+j])
			gR[j] = math.Tanh(zr[2*hid+j])
			oR[j] = sigmoid(zr[3*hid+j])
			cR[j] = fR[j]*cp[j] + iR[j]*gR[j]
			tR[j] = math.Tanh(cR[j])
			hR[j] = oR[j] * tR[j]
		}
	}
	return stepResult{
		hOut: h,
		cOut: c,
		cache: lstmStep{
			x: x, hPrev: hPrev, cPrev: cPrev,
			i: ig, f: fg, g: gg, o: og, tanh: tc,
		},
	}
}

// backward runs back-propagation through time for one layer.
func (ly *LSTMLayer) backward(steps []lstmStep, dHs []*mat.Dense) []*mat.Dense {
	rows, _ := steps[0].x.Dims()
	hid := ly.Hidden
	dXs := make([]*mat.Dense, len(steps))
	dhNext := mat.NewDense(rows, hid, nil)
	dcNext := mat.NewDense(rows, hid, nil)

	for t := len(steps) - 1; t >= 0; t-- {
		st := steps[t]
		dz := mat.NewDense(rows, 4*hid, nil)
		for r := 0; r < rows; r++ {
			var ext []float64
			if dHs[t] != nil {
				ext = dHs[t].RawRowView(r)
			}
			dhn, dcn := dhNext.RawRowView(r), dcNext.RawRowView(r)
			iR, fR, gR, oR := st.i.RawRowView(r), st.f.RawRowView(r), st.g.RawRowView(r), st.o.RawRowView(r)
			tR, cp := st.tanh.RawRowView(r), st.cPrev.RawRowView(r)
			dzr := dz.RawRowView(r)
			for j := 0; j < hid; j++ {
				dh := dhn[j]
				if ext != nil {
					dh += ext[j]
				}
				i, f, g, o, tch := iR[j], fR[j], gR[j], oR[j], tR[j]
				dc := dcn[j] + dh*o*(1-tch*tch)
				dzr[j] = dc * g * i * (1 - i)
				dzr[hid+j] = dc * cp[j] * f * (1 - f)
				dzr[2*hid+j] = dc * i * (1 - g*g)
				dzr[3*hid+j] = dh * tch * o * (1 - o)
				dcn[j] = dc * f
			}
		}

		var gih, ghh mat.Dense
		gih.Mul(dz.T(), st.x)
		accumulate(ly.Wih.Grad, &gih)
		ghh.Mul(dz.T(), st.hPrev)
		accumulate(ly.Whh.Grad, &ghh)
		accumulateColSums(ly.B.Grad.RawRowView(0), dz)

		dx := new(mat.Dense)
		dx.Mul(dz, ly.Wih.Value)
		dXs[t] = dx
		dhPrev := new(mat.Dense)
		dhPrev.Mul(dz, ly.Whh.Value)
		dhNext = dhPrev
	}
	return dXs
}
