package nn

import "gonum.org/v1/gonum/mat"

// Batch is a mini-batch of windows laid out time-major: Steps[t] holds the
// t-th feature vector of every window, one row per window.
type Batch struct {
	Steps []*mat.Dense
}

// NewBatch converts windows indexed [window][step][feature] into a Batch.
// Every window must have the same number of steps and features.
func NewBatch(windows [][][]float64) (Batch, error) {
	if len(windows) == 0 {
		return Batch{}, shapeErrorf("batch", "empty batch")
	}
	steps := len(windows[0])
	if steps == 0 {
		return Batch{}, shapeErrorf("batch", "time dimension is zero")
	}
	features := len(windows[0][0])
	if features == 0 {
		return Batch{}, shapeErrorf("batch", "feature dimension is zero")
	}
	out := make([]*mat.Dense, steps)
	for t := range out {
		out[t] = mat.NewDense(len(windows), features, nil)
	}
	for b, w := range windows {
		if len(w) != steps {
			return Batch{}, shapeErrorf("batch", "window %d has %d steps, want %d", b, len(w), steps)
		}
		for t, row := range w {
			if len(row) != features {
				return Batch{}, shapeErrorf("batch", "window %d step %d has %d features, want %d", b, t, len(row), features)
			}
			copy(out[t].RawRowView(b), row)
		}
	}
	return Batch{Steps: out}, nil
}

// Dims returns the batch size, number of time steps and feature count.
func (b Batch) Dims() (batch, steps, features int) {
	if len(b.Steps) == 0 || b.Steps[0] == nil {
		return 0, 0, 0
	}
	batch, features = b.Steps[0].Dims()
	return batch, len(b.Steps), features
}
