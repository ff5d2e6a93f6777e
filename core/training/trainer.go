package training

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/evrange/core/dataset"
	"github.com/kilianp07/evrange/core/logger"
	"github.com/kilianp07/evrange/core/metrics"
	"github.com/kilianp07/evrange/core/nn"
	"github.com/kilianp07/evrange/internal/eventbus"
)

// ErrNonFiniteLoss aborts a run whose training or validation loss became NaN
// or infinite.
var ErrNonFiniteLoss = errors.New("non-finite loss")

// StopReason explains why the epoch loop ended.
type StopReason string

const (
	StopEarly     StopReason = "early_stopping"
	StopMaxEpochs StopReason = "max_epochs"
)

// EpochRecord is one entry of the training history.
type EpochRecord struct {
	Epoch     int           `json:"epoch"`
	TrainLoss float64       `json:"train_loss"`
	ValLoss   float64       `json:"val_loss"`
	GradNorm  float64       `json:"grad_norm"`
	Improved  bool          `json:"improved"`
	Duration  time.Duration `json:"duration"`
}

// Result is the outcome of a successful Fit.
type Result struct {
	RunID       string
	Model       *nn.RangeModel
	History     []EpochRecord
	BestEpoch   int
	BestValLoss float64
	StopReason  StopReason
	// TestMSE is measured in scaled target units.
	TestMSE float64
	// TestRMSEKm and TestMAEKm are only set when a target scaler was given.
	TestRMSEKm float64
	TestMAEKm  float64
	HasKm      bool
	Duration   time.Duration
}

// Trainer fits range models. It holds no per-run state and may be reused.
type Trainer struct {
	cfg    Config
	log    logger.Logger
	bus    eventbus.EventBus
	sink   metrics.MetricsSink
	runID  string
	target *dataset.Scaler
}

// Option configures a Trainer.
type Option func(*Trainer)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option { return func(t *Trainer) { t.log = logger.OrNop(l) } }

// WithEventBus publishes a metrics.EpochEvent after every epoch.
func WithEventBus(b eventbus.EventBus) Option { return func(t *Trainer) { t.bus = b } }

// WithMetricsSink records epochs directly into sink.
func WithMetricsSink(s metrics.MetricsSink) Option { return func(t *Trainer) { t.sink = s } }

// WithRunID fixes the run identifier instead of generating one.
func WithRunID(id string) Option { return func(t *Trainer) { t.runID = id } }

// WithTargetScaler enables test metrics in km.
func WithTargetScaler(s *dataset.Scaler) Option { return func(t *Trainer) { t.target = s } }

// NewTrainer validates cfg and returns a trainer.
func NewTrainer(cfg Config, opts ...Option) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("training config: %w", err)
	}
	t := &Trainer{cfg: cfg, log: logger.NopLogger{}, sink: metrics.NopSink{}}
	for _, o := range opts {
		o(t)
	}
	if t.sink == nil {
		t.sink = metrics.NopSink{}
	}
	return t, nil
}

// Config returns the trainer's hyperparameters.
func (t *Trainer) Config() Config { return t.cfg }

// Fit trains a new model on parts.Train, early-stops on parts.Val and reports
// the test error on parts.Test. The context is checked between epochs.
func (t *Trainer) Fit(ctx context.Context, parts dataset.Partitions, featureCount int) (*Result, error) {
	if len(parts.Train) == 0 || len(parts.Val) == 0 {
		return nil, fmt.Errorf("need training and validation windows, got %d and %d", len(parts.Train), len(parts.Val))
	}
	for _, set := range [][]dataset.Window{parts.Train, parts.Val, parts.Test} {
		if err := requireLabels(set); err != nil {
			return nil, err
		}
	}
	runID := t.runID
	if runID == "" {
		runID = uuid.NewString()
	}
	model, err := nn.NewRangeModel(t.cfg.Architecture(featureCount), t.cfg.Seed)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	opt := nn.NewAdam(t.cfg.LearningRate)
	rng := rand.New(rand.NewSource(t.cfg.Seed))
	stopper := NewEarlyStopping(t.cfg.Patience, t.cfg.MinDelta)
	res := &Result{RunID: runID, Model: model, StopReason: StopMaxEpochs}
	var best *nn.Snapshot

	t.log.Infof("run %s: training on %d windows, validating on %d, testing on %d", runID, len(parts.Train), len(parts.Val), len(parts.Test))
	for epoch := 1; epoch <= t.cfg.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("training stopped before epoch %d: %w", epoch, err)
		}
		epochStart := time.Now()
		trainLoss, gradNorm, err := t.trainEpoch(model, opt, parts.Train, rng)
		if err != nil {
			return nil, fmt.Errorf("epoch %d: %w", epoch, err)
		}
		valLoss, err := t.Evaluate(model, parts.Val)
		if err != nil {
			return nil, fmt.Errorf("epoch %d validation: %w", epoch, err)
		}
		if !finite(valLoss) {
			return nil, fmt.Errorf("%w: validation loss at epoch %d", ErrNonFiniteLoss, epoch)
		}

		stop := stopper.Step(valLoss)
		rec := EpochRecord{
			Epoch:     epoch,
			TrainLoss: trainLoss,
			ValLoss:   valLoss,
			GradNorm:  gradNorm,
			Improved:  stopper.Improved(),
			Duration:  time.Since(epochStart),
		}
		if rec.Improved {
			best = model.Snapshot()
			res.BestEpoch, res.BestValLoss = epoch, valLoss
		}
		res.History = append(res.History, rec)
		t.report(runID, rec)

		if stop {
			t.log.Infof("run %s: early stopping at epoch %d, best epoch %d", runID, epoch, res.BestEpoch)
			res.StopReason = StopEarly
			break
		}
	}

	if t.cfg.CheckpointPolicy == CheckpointBest && best != nil {
		if err := model.Restore(best); err != nil {
			return nil, fmt.Errorf("restore best checkpoint: %w", err)
		}
	}
	if err := t.test(model, parts.Test, res); err != nil {
		return nil, err
	}
	res.Duration = time.Since(start)
	return res, nil
}

func (t *Trainer) trainEpoch(model *nn.RangeModel, opt *nn.Adam, train []dataset.Window, rng *rand.Rand) (float64, float64, error) {
	perm := rng.Perm(len(train))
	var lossSum, normSum float64
	batches := 0
	for lo := 0; lo < len(perm); lo += t.cfg.BatchSize {
		hi := min(lo+t.cfg.BatchSize, len(perm))
		x, y, err := toBatch(train, perm[lo:hi])
		if err != nil {
			return 0, 0, err
		}
		loss, norm, err := t.backprop(model, x, y)
		if err != nil {
			return 0, 0, fmt.Errorf("batch %d: %w", batches+1, err)
		}
		normSum += norm
		opt.Step(model.Params())
		lossSum += loss
		batches++
	}
	return lossSum / float64(batches), normSum / float64(batches), nil
}

// backprop leaves clipped gradients of the MSE loss on model's parameters and
// returns the loss with the gradient norm measured before clipping.
func (t *Trainer) backprop(model *nn.RangeModel, x nn.Batch, y []float64) (float64, float64, error) {
	model.ZeroGrad()
	out, err := model.Forward(x, nn.Training)
	if err != nil {
		return 0, 0, err
	}
	loss, dOut, err := nn.MSELoss(out, y)
	if err != nil {
		return 0, 0, err
	}
	if !finite(loss) {
		return 0, 0, fmt.Errorf("%w: training loss", ErrNonFiniteLoss)
	}
	if err := model.Backward(dOut); err != nil {
		return 0, 0, err
	}
	return loss, nn.ClipGradNorm(model.Params(), t.cfg.GradClipNorm), nil
}

// Evaluate returns the mean per-batch MSE of model over windows in
// Evaluation mode.
func (t *Trainer) Evaluate(model *nn.RangeModel, windows []dataset.Window) (float64, error) {
	if len(windows) == 0 {
		return 0, fmt.Errorf("no windows to evaluate")
	}
	var sum float64
	batches := 0
	for lo := 0; lo < len(windows); lo += t.cfg.BatchSize {
		hi := min(lo+t.cfg.BatchSize, len(windows))
		x, y, err := toBatch(windows, seq(lo, hi))
		if err != nil {
			return 0, err
		}
		out, err := model.Forward(x, nn.Evaluation)
		if err != nil {
			return 0, err
		}
		loss, _, err := nn.MSELoss(out, y)
		if err != nil {
			return 0, err
		}
		sum += loss
		batches++
	}
	return sum / float64(batches), nil
}

func (t *Trainer) test(model *nn.RangeModel, windows []dataset.Window, res *Result) error {
	if len(windows) == 0 {
		return nil
	}
	mse, err := t.Evaluate(model, windows)
	if err != nil {
		return fmt.Errorf("test evaluation: %w", err)
	}
	res.TestMSE = mse
	if !t.target.Fitted() {
		t.log.Infof("run %s: test mse %.6f", res.RunID, mse)
		return nil
	}
	feats := make([][][]float64, len(windows))
	for i, w := range windows {
		feats[i] = w.Features
	}
	preds, err := model.Predict(feats)
	if err != nil {
		return fmt.Errorf("test prediction: %w", err)
	}
	var sq, abs float64
	for i, w := range windows {
		pred, err := t.target.InverseRow([]float64{preds[i]})
		if err != nil {
			return err
		}
		actual, err := t.target.InverseRow([]float64{w.Target})
		if err != nil {
			return err
		}
		d := pred[0] - actual[0]
		sq += d * d
		abs += math.Abs(d)
	}
	n := float64(len(windows))
	res.TestRMSEKm, res.TestMAEKm, res.HasKm = math.Sqrt(sq/n), abs/n, true
	t.log.Infof("run %s: test mse %.6f, rmse %.2f km, mae %.2f km", res.RunID, mse, res.TestRMSEKm, res.TestMAEKm)
	return nil
}

func (t *Trainer) report(runID string, rec EpochRecord) {
	t.log.Infof("Epoch %d/%d train_loss=%.6f val_loss=%.6f grad_norm=%.4f", rec.Epoch, t.cfg.Epochs, rec.TrainLoss, rec.ValLoss, rec.GradNorm)
	ev := metrics.EpochEvent{
		RunID:     runID,
		Epoch:     rec.Epoch,
		TrainLoss: rec.TrainLoss,
		ValLoss:   rec.ValLoss,
		GradNorm:  rec.GradNorm,
		Improved:  rec.Improved,
		Duration:  rec.Duration,
		Time:      time.Now(),
	}
	if err := t.sink.RecordEpoch(ev); err != nil {
		t.log.Warnf("record epoch %d: %v", rec.Epoch, err)
	}
	if t.bus != nil {
		t.bus.Publish(ev)
	}
}

func toBatch(windows []dataset.Window, idx []int) (nn.Batch, []float64, error) {
	feats := make([][][]float64, len(idx))
	targets := make([]float64, len(idx))
	for i, k := range idx {
		feats[i] = windows[k].Features
		targets[i] = windows[k].Target
	}
	b, err := nn.NewBatch(feats)
	return b, targets, err
}

func requireLabels(windows []dataset.Window) error {
	for i, w := range windows {
		if !w.HasTarget {
			return fmt.Errorf("window %d has no target", i)
		}
	}
	return nil
}

func seq(lo, hi int) []int {
	out := make([]int, hi-lo)
	for i := range out {
		out[i] = lo + i
	}
	return out
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
