package nn

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Param is a learnable tensor and its accumulated gradient.
type Param struct {
	Name  string
	Value *mat.Dense
	Grad  *mat.Dense
}

func newParam(name string, rows, cols int) *Param {
	return &Param{
		Name:  name,
		Value: mat.NewDense(rows, cols, nil),
		Grad:  mat.NewDense(rows, cols, nil),
	}
}

// ZeroGrad clears the accumulated gradient.
func (p *Param) ZeroGrad() { p.Grad.Zero() }

// fillUniform draws every element from U(-limit, limit).
func fillUniform(m *mat.Dense, limit float64, rng *rand.Rand) {
	raw := m.RawMatrix()
	for r := 0; r < raw.Rows; r++ {
		row := raw.Data[r*raw.Stride : r*raw.Stride+raw.Cols]
		for i := range row {
			row[i] = (rng.Float64()*2 - 1) * limit
		}
	}
}

func fillConst(m *mat.Dense, v float64) {
	raw := m.RawMatrix()
	for r := 0; r < raw.Rows; r++ {
		row := raw.Data[r*raw.Stride : r*raw.Stride+raw.Cols]
		for i := range row {
			row[i] = v
		}
	}
}

// addRowVector adds v to every row of m in place.
func addRowVector(m *mat.Dense, v []float64) {
	rows, _ := m.Dims()
	for r := 0; r < rows; r++ {
		floats.Add(m.RawRowView(r), v)
	}
}

// accumulateColSums adds the column sums of m to dst.
func accumulateColSums(dst []float64, m *mat.Dense) {
	rows, _ := m.Dims()
	for r := 0; r < rows; r++ {
		floats.Add(dst, m.RawRowView(r))
	}
}

// accumulate adds src into dst.
func accumulate(dst, src *mat.Dense) { dst.Add(dst, src) }

func sigmoid(x float64) float64 { return 1 / (1 + math.Exp(-x)) }

func zerosLike(m *mat.Dense) *mat.Dense {
	r, c := m.Dims()
	return mat.NewDense(r, c, nil)
}
