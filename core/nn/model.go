package nn

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Architecture holds the hyperparameters that determine the parameter shapes
// of a RangeModel. Persisted weights are keyed by it.
type Architecture struct {
	InputDim  int     `json:"input_dim"`
	HiddenDim int     `json:"hidden_dim"`
	NumLayers int     `json:"num_layers"`
	Dropout   float64 `json:"dropout"`
}

// DefaultArchitecture returns the production network for inputDim features.
func DefaultArchitecture(inputDim int) Architecture {
	return Architecture{InputDim: inputDim, HiddenDim: 128, NumLayers: 3, Dropout: 0.2}
}

// Validate checks the hyperparameters describe a buildable network.
func (a Architecture) Validate() error {
	switch {
	case a.InputDim <= 0:
		return fmt.Errorf("input_dim must be positive, got %d", a.InputDim)
	case a.HiddenDim < 2:
		return fmt.Errorf("hidden_dim must be at least 2, got %d", a.HiddenDim)
	case a.NumLayers < 1:
		return fmt.Errorf("num_layers must be at least 1, got %d", a.NumLayers)
	case a.Dropout < 0 || a.Dropout >= 1:
		return fmt.Errorf("dropout must be in [0,1), got %g", a.Dropout)
	}
	return nil
}

// RangeModel maps a (batch, steps, features) window batch to one scaled range
// value per window:
//
//	BatchNorm → LSTM → last step → LayerNorm → Block(H→H, residual)
//	→ Block(H→H/2) → Linear(H/2→1)
type RangeModel struct {
	arch    Architecture
	Norm    *BatchNorm
	Encoder *LSTM
	Post    *LayerNorm
	Blocks  []*ResidualBlock
	Head    *Linear

	rng  *rand.Rand
	tape *tape
}

type tape struct {
	norm   *batchNormCache
	lstm   *lstmCache
	steps  int
	post   *layerNormCache
	blocks []*residualCache
	headIn *mat.Dense
}

// NewRangeModel initialises a network. seed drives both weight
// initialisation and dropout masks.
func NewRangeModel(arch Architecture, seed int64) (*RangeModel, error) {
	if err := arch.Validate(); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(seed))
	h := arch.HiddenDim
	dropout := arch.Dropout
	if arch.NumLayers == 1 {
		dropout = 0
	}
	return &RangeModel{
		arch:    arch,
		Norm:    NewBatchNorm("input_norm", arch.InputDim),
		Encoder: NewLSTM("lstm", arch.InputDim, h, arch.NumLayers, dropout, rng),
		Post:    NewLayerNorm("layer_norm", h),
		Blocks: []*ResidualBlock{
			NewResidualBlock("fc.0", h, h, arch.Dropout, rng),
			NewResidualBlock("fc.1", h, h/2, arch.Dropout, rng),
		},
		Head: NewLinear("fc.2", h/2, 1, rng),
		rng:  rng,
	}, nil
}

// Architecture returns the hyperparameters the model was built with.
func (m *RangeModel) Architecture() Architecture { return m.arch }

// Forward returns a batch×1 matrix of scaled predictions. In Training mode the
// intermediate values needed by Backward are retained; Evaluation mode does
// not mutate the model.
func (m *RangeModel) Forward(x Batch, mode Mode) (*mat.Dense, error) {
	if err := m.checkInput(x); err != nil {
		return nil, err
	}
	normed, nc := m.Norm.Forward(x.Steps, mode)
	hs, lc := m.Encoder.Forward(normed, mode, m.rng)
	out, pc := m.Post.Forward(hs[len(hs)-1])
	bcs := make([]*residualCache, len(m.Blocks))
	for i, b := range m.Blocks {
		out, bcs[i] = b.Forward(out, mode, m.rng)
	}
	y := m.Head.Forward(out)
	if mode == Training {
		m.tape = &tape{norm: nc, lstm: lc, steps: len(hs), post: pc, blocks: bcs, headIn: out}
	}
	return y, nil
}

func (m *RangeModel) checkInput(x Batch) error {
	batch, steps, features := x.Dims()
	switch {
	case steps == 0:
		return shapeErrorf("forward", "time dimension is zero")
	case batch == 0:
		return shapeErrorf("forward", "batch dimension is zero")
	case features != m.arch.InputDim:
		return shapeErrorf("forward", "got %d features, model expects %d", features, m.arch.InputDim)
	}
	for t, s := range x.Steps {
		r, c := s.Dims()
		if r != batch || c != features {
			return shapeErrorf("forward", "step %d is %dx%d, want %dx%d", t, r, c, batch, features)
		}
	}
	return nil
}

// Backward propagates dL/dy from the most recent Training forward pass and
// accumulates gradients into Params. The recorded pass is consumed.
func (m *RangeModel) Backward(dOut *mat.Dense) error {
	tp := m.tape
	if tp == nil {
		return ErrNoTape
	}
	rows, _ := tp.headIn.Dims()
	if r, c := dOut.Dims(); r != rows || c != 1 {
		return shapeErrorf("backward", "gradient is %dx%d, want %dx1", r, c, rows)
	}
	m.tape = nil

	d := m.Head.Backward(tp.headIn, dOut)
	for i := len(m.Blocks) - 1; i >= 0; i-- {
		d = m.Blocks[i].Backward(tp.blocks[i], d)
	}
	d = m.Post.Backward(tp.post, d)
	dTop := make([]*mat.Dense, tp.steps)
	dTop[tp.steps-1] = d
	dNormed := m.Encoder.Backward(tp.lstm, dTop)
	m.Norm.Backward(tp.norm, dNormed)
	return nil
}

// Params returns every learnable parameter.
func (m *RangeModel) Params() []*Param {
	ps := append([]*Param{}, m.Norm.Params()...)
	ps = append(ps, m.Encoder.Params()...)
	ps = append(ps, m.Post.Params()...)
	for _, b := range m.Blocks {
		ps = append(ps, b.Params()...)
	}
	return append(ps, m.Head.Params()...)
}

// ZeroGrad clears every gradient.
func (m *RangeModel) ZeroGrad() {
	for _, p := range m.Params() {
		p.ZeroGrad()
	}
}

// Predict runs an Evaluation forward pass over windows indexed
// [window][step][feature] and returns one scaled value per window.
func (m *RangeModel) Predict(windows [][][]float64) ([]float64, error) {
	b, err := NewBatch(windows)
	if err != nil {
		return nil, err
	}
	y, err := m.Forward(b, Evaluation)
	if err != nil {
		return nil, err
	}
	return mat.Col(nil, 0, y), nil
}

type namedTensor struct {
	name string
	m    *mat.Dense
}

// state lists parameters and buffers under stable names.
func (m *RangeModel) state() []namedTensor {
	var out []namedTensor
	for _, p := range m.Params() {
		out = append(out, namedTensor{p.Name, p.Value})
	}
	return append(out,
		namedTensor{"input_norm.running_mean", m.Norm.RunningMean},
		namedTensor{"input_norm.running_var", m.Norm.RunningVar},
	)
}

// Snapshot is a deep copy of a model's parameters and buffers.
type Snapshot struct {
	values map[string]*mat.Dense
}

// Snapshot copies the current state.
func (m *RangeModel) Snapshot() *Snapshot {
	s := &Snapshot{values: make(map[string]*mat.Dense)}
	for _, nt := range m.state() {
		s.values[nt.name] = mat.DenseCopyOf(nt.m)
	}
	return s
}

// Restore overwrites the model state with a snapshot taken from a model of
// the same architecture.
func (m *RangeModel) Restore(s *Snapshot) error {
	for _, nt := range m.state() {
		v, ok := s.values[nt.name]
		if !ok {
			return fmt.Errorf("%w: snapshot lacks %s", ErrArchitectureMismatch, nt.name)
		}
		if !sameDims(nt.m, v) {
			return fmt.Errorf("%w: %s has a different shape", ErrArchitectureMismatch, nt.name)
		}
		nt.m.Copy(v)
	}
	return nil
}

func sameDims(a, b mat.Matrix) bool {
	ar, ac := a.Dims()
	br, bc := b.Dims()
	return ar == br && ac == bc
}
