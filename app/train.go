package app

import (
	"context"
	"fmt"

	"github.com/kilianp07/evrange/config"
	"github.com/kilianp07/evrange/core/dataset"
	coremetrics "github.com/kilianp07/evrange/core/metrics"
	"github.com/kilianp07/evrange/core/prediction"
	"github.com/kilianp07/evrange/core/training"
	"github.com/kilianp07/evrange/infra/artifacts"
	"github.com/kilianp07/evrange/infra/history"
	"github.com/kilianp07/evrange/infra/logger"
	"github.com/kilianp07/evrange/infra/metrics"
	"github.com/kilianp07/evrange/infra/plot"
	"github.com/kilianp07/evrange/infra/telemetry"
)

// Train loads telemetry, fits a model and saves the bundle. dataPath
// overrides the configured source path.
func Train(ctx context.Context, cfg *config.Config, dataPath string) (*training.Report, error) {
	logg := logger.New("trainer")
	src := cfg.Data.Source
	if dataPath != "" {
		src.Path = dataPath
	}
	if err := src.Validate(); err != nil {
		return nil, err
	}
	frame, err := telemetry.Load(ctx, src, "")
	if err != nil {
		return nil, fmt.Errorf("load telemetry: %w", err)
	}
	logg.Infof("loaded %d telemetry rows with %d columns", frame.Len(), len(frame.Columns))

	sink, err := coremetrics.NewMetricsSink(cfg.Metrics.Sinks)
	if err != nil {
		return nil, fmt.Errorf("metrics sink: %w", err)
	}
	defer func() { _ = coremetrics.Close(sink) }()
	if cfg.Metrics.PrometheusAddr != "" {
		promCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := metrics.StartPromServer(promCtx, cfg.Metrics.PrometheusAddr); err != nil {
				logg.Errorf("prom server: %v", err)
			}
		}()
	}

	deps := training.Deps{
		Processor: dataset.NewProcessor(cfg.Data.Processor, logger.New("processor")),
		Artifacts: artifacts.NewStore(cfg.Artifacts.Dir),
		Plotter:   plot.NewLossPlotter(cfg.Artifacts.PlotDir),
		Sink:      sink,
		Logger:    logg,
	}
	if cfg.History.Enabled {
		store, err := history.NewSQLiteStore(cfg.History.Path)
		if err != nil {
			return nil, fmt.Errorf("history store: %w", err)
		}
		defer func() { _ = store.Close() }()
		deps.History = store
	}
	return training.Run(ctx, cfg.Training, frame, deps)
}

// PredictFile runs the served bundle over every window of a telemetry file.
func PredictFile(ctx context.Context, cfg *config.Config, path string) ([]float64, *artifacts.Bundle, error) {
	bundle, err := LoadBundle(cfg)
	if err != nil {
		return nil, nil, err
	}
	engine, err := prediction.NewEngine(bundle.Model, bundle.Processor)
	if err != nil {
		return nil, nil, err
	}
	frame, err := telemetry.Load(ctx, telemetry.SourceConfig{Kind: telemetry.KindCSV}, path)
	if err != nil {
		return nil, nil, err
	}
	out, err := engine.PredictFrame(ctx, frame)
	return out, bundle, err
}
