package prediction

import (
	"context"
	"fmt"

	"github.com/kilianp07/evrange/core/dataset"
	"github.com/kilianp07/evrange/core/nn"
)

// RangePredictor predicts remaining range in km from one window of rows.
type RangePredictor interface {
	PredictRange(ctx context.Context, rows []Row) (float64, error)
}

// Engine is the RangePredictor backed by a trained model.
type Engine struct {
	model *nn.RangeModel
	proc  *dataset.Processor
}

// NewEngine pairs a model with the processor fitted alongside it.
func NewEngine(model *nn.RangeModel, proc *dataset.Processor) (*Engine, error) {
	if model == nil || proc == nil {
		return nil, fmt.Errorf("engine requires a model and a processor")
	}
	if !proc.Fitted() {
		return nil, dataset.ErrScalerNotFitted
	}
	if got, want := model.Architecture().InputDim, len(proc.Schema()); got != want {
		return nil, fmt.Errorf("%w: model expects %d features, schema has %d", nn.ErrArchitectureMismatch, got, want)
	}
	return &Engine{model: model, proc: proc}, nil
}

// SequenceLength returns the number of rows a request must carry.
func (e *Engine) SequenceLength() int { return e.proc.SequenceLength() }

// Schema returns the required field names.
func (e *Engine) Schema() []string { return e.proc.Schema() }

// PredictRange validates and scales rows, runs the model and returns the
// de-scaled remaining range. A request whose row count differs from the
// sequence length fails with *nn.ShapeError.
func (e *Engine) PredictRange(ctx context.Context, rows []Row) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if n := e.proc.SequenceLength(); len(rows) != n {
		return 0, &nn.ShapeError{Op: "predict", Detail: fmt.Sprintf("got %d rows, want %d", len(rows), n)}
	}
	win, err := e.proc.TransformRows(normalize(rows))
	if err != nil {
		return 0, err
	}
	out, err := e.model.Predict([][][]float64{win.Features})
	if err != nil {
		return 0, err
	}
	return e.proc.InverseTarget(out[0])
}

// PredictFrame predicts one range per window of a telemetry frame, in time
// order. Frames shorter than the sequence length yield no prediction.
func (e *Engine) PredictFrame(ctx context.Context, f *dataset.Frame) ([]float64, error) {
	windows, err := e.proc.TransformOnly(f)
	if err != nil {
		return nil, err
	}
	const chunk = 256
	out := make([]float64, 0, len(windows))
	for lo := 0; lo < len(windows); lo += chunk {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hi := min(lo+chunk, len(windows))
		feats := make([][][]float64, hi-lo)
		for i, w := range windows[lo:hi] {
			feats[i] = w.Features
		}
		scaled, err := e.model.Predict(feats)
		if err != nil {
			return nil, err
		}
		for _, s := range scaled {
			km, err := e.proc.InverseTarget(s)
			if err != nil {
				return nil, err
			}
			out = append(out, km)
		}
	}
	return out, nil
}

func normalize(rows []Row) []map[string]float64 {
	out := make([]map[string]float64, len(rows))
	for i, r := range rows {
		n := make(map[string]float64, len(r))
		for k, v := range r {
			n[dataset.NormalizeColumn(k)] = v
		}
		out[i] = n
	}
	return out
}
