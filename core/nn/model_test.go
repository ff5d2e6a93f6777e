package nn

import (
	"bytes"
	"errors"
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func tinyArch() Architecture {
	return Architecture{InputDim: 3, HiddenDim: 4, NumLayers: 2, Dropout: 0}
}

func randomWindows(rng *rand.Rand, batch, steps, features int) [][][]float64 {
	out := make([][][]float64, batch)
	for b := range out {
		out[b] = make([][]float64, steps)
		for t := range out[b] {
			row := make([]float64, features)
			for j := range row {
				row[j] = rng.NormFloat64()
			}
			out[b][t] = row
		}
	}
	return out
}

func TestForwardOutputShape(t *testing.T) {
	m, err := NewRangeModel(DefaultArchitecture(5), 1)
	if err != nil {
		t.Fatalf("new model: %v", err)
	}
	b, err := NewBatch(randomWindows(rand.New(rand.NewSource(2)), 6, 7, 5))
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	for _, mode := range []Mode{Training, Evaluation} {
		y, err := m.Forward(b, mode)
		if err != nil {
			t.Fatalf("%s forward: %v", mode, err)
		}
		if r, c := y.Dims(); r != 6 || c != 1 {
			t.Fatalf("%s output is %dx%d, want 6x1", mode, r, c)
		}
	}
}

func TestForwardShapeErrors(t *testing.T) {
	m, err := NewRangeModel(tinyArch(), 1)
	if err != nil {
		t.Fatalf("new model: %v", err)
	}
	b, err := NewBatch(randomWindows(rand.New(rand.NewSource(3)), 2, 4, 5))
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	_, err = m.Forward(b, Evaluation)
	var se *ShapeError
	if !errors.As(err, &se) {
		t.Fatalf("expected ShapeError for wrong feature count, got %v", err)
	}
	if _, err := m.Forward(Batch{}, Evaluation); !errors.As(err, &se) {
		t.Fatalf("expected ShapeError for empty time dimension, got %v", err)
	}
}

func TestNewBatchRejectsRaggedWindows(t *testing.T) {
	windows := [][][]float64{
		{{1, 2}, {3, 4}},
		{{1, 2}},
	}
	var se *ShapeError
	if _, err := NewBatch(windows); !errors.As(err, &se) {
		t.Fatalf("expected ShapeError, got %v", err)
	}
	windows[1] = [][]float64{{1, 2}, {3}}
	if _, err := NewBatch(windows); !errors.As(err, &se) {
		t.Fatalf("expected ShapeError for ragged features, got %v", err)
	}
	if _, err := NewBatch(nil); !errors.As(err, &se) {
		t.Fatalf("expected ShapeError for empty batch, got %v", err)
	}
}

func TestSameSeedSameWeights(t *testing.T) {
	a, _ := NewRangeModel(tinyArch(), 9)
	b, _ := NewRangeModel(tinyArch(), 9)
	pa, pb := a.Params(), b.Params()
	for i := range pa {
		if !mat.Equal(pa[i].Value, pb[i].Value) {
			t.Fatalf("param %s differs between identically seeded models", pa[i].Name)
		}
	}
}

func lossAt(t *testing.T, m *RangeModel, b Batch, target []float64) float64 {
	t.Helper()
	y, err := m.Forward(b, Training)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	loss, _, err := MSELoss(y, target)
	if err != nil {
		t.Fatalf("loss: %v", err)
	}
	return loss
}

func TestBackwardMatchesNumericalGradient(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	m, err := NewRangeModel(tinyArch(), 5)
	if err != nil {
		t.Fatalf("new model: %v", err)
	}
	b, err := NewBatch(randomWindows(rng, 3, 4, 3))
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	target := []float64{0.5, -1, 0.25}

	m.ZeroGrad()
	y, err := m.Forward(b, Training)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	_, dy, err := MSELoss(y, target)
	if err != nil {
		t.Fatalf("loss: %v", err)
	}
	if err := m.Backward(dy); err != nil {
		t.Fatalf("backward: %v", err)
	}

	const eps = 1e-5
	for _, p := range m.Params() {
		analytic := mat.DenseCopyOf(p.Grad)
		rows, cols := p.Value.Dims()
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				orig := p.Value.At(r, c)
				p.Value.Set(r, c, orig+eps)
				up := lossAt(t, m, b, target)
				p.Value.Set(r, c, orig-eps)
				down := lossAt(t, m, b, target)
				p.Value.Set(r, c, orig)

				num := (up - down) / (2 * eps)
				got := analytic.At(r, c)
				tol := 1e-5 + 1e-3*math.Max(math.Abs(num), math.Abs(got))
				if math.Abs(num-got) > tol {
					t.Fatalf("%s[%d,%d]: analytic %g numerical %g", p.Name, r, c, got, num)
				}
			}
		}
	}
}

func TestBackwardWithoutTrainingPass(t *testing.T) {
	m, _ := NewRangeModel(tinyArch(), 1)
	if err := m.Backward(mat.NewDense(1, 1, nil)); !errors.Is(err, ErrNoTape) {
		t.Fatalf("expected ErrNoTape, got %v", err)
	}
	b, _ := NewBatch(randomWindows(rand.New(rand.NewSource(1)), 2, 3, 3))
	if _, err := m.Forward(b, Evaluation); err != nil {
		t.Fatalf("forward: %v", err)
	}
	if err := m.Backward(mat.NewDense(2, 1, nil)); !errors.Is(err, ErrNoTape) {
		t.Fatalf("evaluation pass must not record, got %v", err)
	}
}

func TestResidualGating(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	x := mat.NewDense(3, 4, nil)
	for r := 0; r < 3; r++ {
		for c := 0; c < 4; c++ {
			x.Set(r, c, rng.NormFloat64())
		}
	}

	same := NewResidualBlock("same", 4, 4, 0.5, rng)
	out, _ := same.Forward(x, Evaluation, rng)
	var want mat.Dense
	want.Add(relu(same.Linear.Forward(x)), x)
	if !same.Residual() || !mat.Equal(out, &want) {
		t.Fatalf("width-preserving block must add its input")
	}

	narrow := NewResidualBlock("narrow", 4, 2, 0.5, rng)
	out, _ = narrow.Forward(x, Evaluation, rng)
	if narrow.Residual() || !mat.Equal(out, relu(narrow.Linear.Forward(x))) {
		t.Fatalf("width-changing block must replace its input")
	}
}

func TestBatchNormTrainingAndEvaluationDiffer(t *testing.T) {
	bn := NewBatchNorm("bn", 2)
	x := mat.NewDense(4, 2, []float64{5, 1, 6, 2, 7, 3, 8, 4})

	train, _ := bn.Forward([]*mat.Dense{x}, Training)
	var colMean float64
	for r := 0; r < 4; r++ {
		colMean += train[0].At(r, 0)
	}
	if math.Abs(colMean/4) > 1e-9 {
		t.Fatalf("training output should be centred, mean %g", colMean/4)
	}
	if got := bn.RunningMean.At(0, 0); math.Abs(got-0.65) > 1e-12 {
		t.Fatalf("running mean %g, want 0.65", got)
	}
	// unbiased variance of {5,6,7,8} is 5/3
	if got, want := bn.RunningVar.At(0, 0), 0.9+0.1*5.0/3; math.Abs(got-want) > 1e-12 {
		t.Fatalf("running var %g, want %g", got, want)
	}

	eval, _ := bn.Forward([]*mat.Dense{x}, Evaluation)
	if mat.EqualApprox(train[0], eval[0], 1e-6) {
		t.Fatalf("evaluation must use running statistics")
	}
	if got := bn.RunningMean.At(0, 0); math.Abs(got-0.65) > 1e-12 {
		t.Fatalf("evaluation changed running mean to %g", got)
	}
}

func TestEvaluationDoesNotMutateModel(t *testing.T) {
	m, _ := NewRangeModel(Architecture{InputDim: 3, HiddenDim: 4, NumLayers: 2, Dropout: 0.3}, 2)
	windows := randomWindows(rand.New(rand.NewSource(6)), 2, 5, 3)
	first, err := m.Predict(windows)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	second, _ := m.Predict(windows)
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("evaluation forward is not deterministic: %v vs %v", first, second)
		}
	}
}

func TestSaveLoadWeights(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	m, _ := NewRangeModel(tinyArch(), 3)
	b, _ := NewBatch(randomWindows(rng, 4, 5, 3))
	// move the running statistics away from their initial values
	if _, err := m.Forward(b, Training); err != nil {
		t.Fatalf("forward: %v", err)
	}
	windows := randomWindows(rng, 2, 5, 3)
	want, _ := m.Predict(windows)

	var buf bytes.Buffer
	if err := m.SaveWeights(&buf, "abc"); err != nil {
		t.Fatalf("save: %v", err)
	}
	blob := buf.Bytes()

	other, _ := NewRangeModel(tinyArch(), 99)
	tag, err := other.LoadWeights(bytes.NewReader(blob))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if tag != "abc" {
		t.Fatalf("tag %q", tag)
	}
	got, _ := other.Predict(windows)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("prediction %d: got %g want %g", i, got[i], want[i])
		}
	}

	rebuilt, _, err := LoadModel(bytes.NewReader(blob), 0)
	if err != nil {
		t.Fatalf("load model: %v", err)
	}
	if rebuilt.Architecture() != tinyArch() {
		t.Fatalf("architecture %+v", rebuilt.Architecture())
	}

	wide, _ := NewRangeModel(Architecture{InputDim: 3, HiddenDim: 6, NumLayers: 2}, 1)
	if _, err := wide.LoadWeights(bytes.NewReader(blob)); !errors.Is(err, ErrArchitectureMismatch) {
		t.Fatalf("expected ErrArchitectureMismatch, got %v", err)
	}
}

func TestSnapshotRestore(t *testing.T) {
	rng := rand.New(rand.NewSource(8))
	m, _ := NewRangeModel(tinyArch(), 3)
	windows := randomWindows(rng, 3, 4, 3)
	want, _ := m.Predict(windows)
	snap := m.Snapshot()

	b, _ := NewBatch(windows)
	opt := NewAdam(0.1)
	for i := 0; i < 3; i++ {
		m.ZeroGrad()
		y, _ := m.Forward(b, Training)
		_, dy, _ := MSELoss(y, []float64{1, 2, 3})
		if err := m.Backward(dy); err != nil {
			t.Fatalf("backward: %v", err)
		}
		opt.Step(m.Params())
	}
	if changed, _ := m.Predict(windows); changed[0] == want[0] {
		t.Fatalf("training did not change the model")
	}

	if err := m.Restore(snap); err != nil {
		t.Fatalf("restore: %v", err)
	}
	got, _ := m.Predict(windows)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("prediction %d: got %g want %g", i, got[i], want[i])
		}
	}
}

func TestArchitectureValidate(t *testing.T) {
	cases := []Architecture{
		{InputDim: 0, HiddenDim: 4, NumLayers: 1},
		{InputDim: 3, HiddenDim: 1, NumLayers: 1},
		{InputDim: 3, HiddenDim: 4, NumLayers: 0},
		{InputDim: 3, HiddenDim: 4, NumLayers: 1, Dropout: 1},
	}
	for _, a := range cases {
		if err := a.Validate(); err == nil {
			t.Fatalf("expected error for %+v", a)
		}
	}
	if err := DefaultArchitecture(27).Validate(); err != nil {
		t.Fatalf("default architecture: %v", err)
	}
}
