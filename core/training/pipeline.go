package training

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/evrange/core/dataset"
	"github.com/kilianp07/evrange/core/logger"
	"github.com/kilianp07/evrange/core/metrics"
	"github.com/kilianp07/evrange/core/monitoring"
)

// ArtifactWriter persists a trained model together with the fitted
// preprocessing it depends on and returns where it was written.
type ArtifactWriter interface {
	Save(runID string, res *Result, proc *dataset.Processor) (string, error)
}

// RunStore keeps a history of training runs.
type RunStore interface {
	RecordRun(ctx context.Context, run RunSummary) error
}

// CurvePlotter renders the loss history.
type CurvePlotter interface {
	PlotLoss(runID string, history []EpochRecord) (string, error)
}

// RunSummary is what RunStore persists for each run.
type RunSummary struct {
	RunID        string
	StartedAt    time.Time
	FinishedAt   time.Time
	Status       string
	Config       Config
	FeatureCount int
	Windows      int
	Epochs       int
	BestEpoch    int
	BestValLoss  float64
	TestMSE      float64
	TestRMSEKm   float64
	TestMAEKm    float64
	StopReason   string
	ArtifactDir  string
	Error        string
}

// Deps are the collaborators of Run. Nil fields are skipped.
type Deps struct {
	Processor *dataset.Processor
	Artifacts ArtifactWriter
	History   RunStore
	Plotter   CurvePlotter
	Sink      metrics.MetricsSink
	Logger    logger.Logger
	Options   []Option
}

// Report is the outcome of Run.
type Report struct {
	Result      *Result
	Summary     RunSummary
	ArtifactDir string
	PlotPath    string
}

// Run preprocesses frame, splits the windows, fits a model and persists the
// bundle. A failed run is still recorded in the history store.
func Run(ctx context.Context, cfg Config, frame *dataset.Frame, deps Deps) (*Report, error) {
	log := logger.OrNop(deps.Logger)
	if deps.Processor == nil {
		return nil, fmt.Errorf("run requires a processor")
	}
	runID := uuid.NewString()
	summary := RunSummary{RunID: runID, StartedAt: time.Now(), Config: cfg, Status: "failed"}
	rep, err := run(ctx, cfg, frame, deps, &summary, log)
	summary.FinishedAt = time.Now()
	if err != nil {
		summary.Error = err.Error()
		monitoring.CaptureException(err, map[string]string{"run_id": runID})
	}
	if deps.History != nil {
		if herr := deps.History.RecordRun(ctx, summary); herr != nil {
			log.Warnf("record run %s: %v", runID, herr)
		}
	}
	if r, ok := deps.Sink.(metrics.RunRecorder); ok {
		_ = r.RecordRun(metrics.RunEvent{
			RunID:       runID,
			Status:      summary.Status,
			Epochs:      summary.Epochs,
			BestEpoch:   summary.BestEpoch,
			BestValLoss: summary.BestValLoss,
			TestMSE:     summary.TestMSE,
			TestRMSEKm:  summary.TestRMSEKm,
			TestMAEKm:   summary.TestMAEKm,
			StopReason:  summary.StopReason,
			Duration:    summary.FinishedAt.Sub(summary.StartedAt),
			Time:        summary.FinishedAt,
		})
	}
	if err != nil {
		return nil, err
	}
	rep.Summary = summary
	return rep, nil
}

func run(ctx context.Context, cfg Config, frame *dataset.Frame, deps Deps, summary *RunSummary, log logger.Logger) (*Report, error) {
	proc := deps.Processor
	windows, features, err := proc.Preprocess(frame)
	if err != nil {
		return nil, fmt.Errorf("preprocess: %w", err)
	}
	summary.FeatureCount, summary.Windows = features, len(windows)

	parts, err := dataset.Split(windows, cfg.SplitConfig(proc.SequenceLength()))
	if err != nil {
		return nil, fmt.Errorf("split: %w", err)
	}

	opts := append([]Option{
		WithLogger(log),
		WithRunID(summary.RunID),
		WithTargetScaler(proc.TargetScaler()),
		WithMetricsSink(deps.Sink),
	}, deps.Options...)
	trainer, err := NewTrainer(cfg, opts...)
	if err != nil {
		return nil, err
	}
	res, err := trainer.Fit(ctx, parts, features)
	if err != nil {
		return nil, fmt.Errorf("fit: %w", err)
	}
	summary.Epochs = len(res.History)
	summary.BestEpoch, summary.BestValLoss = res.BestEpoch, res.BestValLoss
	summary.TestMSE, summary.TestRMSEKm, summary.TestMAEKm = res.TestMSE, res.TestRMSEKm, res.TestMAEKm
	summary.StopReason = string(res.StopReason)

	rep := &Report{Result: res}
	if deps.Artifacts != nil {
		dir, err := deps.Artifacts.Save(summary.RunID, res, proc)
		if err != nil {
			return nil, fmt.Errorf("save artifacts: %w", err)
		}
		rep.ArtifactDir, summary.ArtifactDir = dir, dir
	}
	if deps.Plotter != nil {
		path, err := deps.Plotter.PlotLoss(summary.RunID, res.History)
		if err != nil {
			log.Warnf("plot loss curves: %v", err)
		} else {
			rep.PlotPath = path
		}
	}
	summary.Status = "succeeded"
	return rep, nil
}
