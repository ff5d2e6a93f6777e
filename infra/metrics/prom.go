package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/kilianp07/evrange/core/metrics"
)

// PromSink exposes training progress and prediction traffic as Prometheus
// metrics.
type PromSink struct {
	trainLoss   prometheus.Gauge
	valLoss     prometheus.Gauge
	gradNorm    prometheus.Gauge
	epochs      prometheus.Counter
	epochTime   prometheus.Histogram
	runs        *prometheus.CounterVec
	testRMSE    prometheus.Gauge
	predictions *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	lastRange   prometheus.Gauge
}

// NewPromSink registers metrics on the default Prometheus registerer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer. Collectors
// already registered by an earlier sink are reused.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PromSink{
		trainLoss: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "evrange_train_loss",
			Help: "Mean training MSE of the last completed epoch",
		}),
		valLoss: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "evrange_val_loss",
			Help: "Validation MSE of the last completed epoch",
		}),
		gradNorm: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "evrange_grad_norm",
			Help: "Mean pre-clip gradient norm of the last completed epoch",
		}),
		epochs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "evrange_epochs_total",
			Help: "Number of completed training epochs",
		}),
		epochTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "evrange_epoch_duration_seconds",
			Help:    "Wall time of a training epoch",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "evrange_training_runs_total",
			Help: "Finished training runs by status",
		}, []string{"status"}),
		testRMSE: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "evrange_test_rmse_km",
			Help: "Test RMSE in km of the last successful run",
		}),
		predictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "evrange_predictions_total",
			Help: "Served range predictions by source and outcome",
		}, []string{"source", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "evrange_prediction_latency_seconds",
			Help:    "Time to serve a range prediction",
			Buckets: prometheus.DefBuckets,
		}, []string{"source"}),
		lastRange: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "evrange_last_predicted_range_km",
			Help: "Most recent predicted remaining range",
		}),
	}

	var err error
	s.trainLoss, err = register(reg, s.trainLoss)
	if err == nil {
		s.valLoss, err = register(reg, s.valLoss)
	}
	if err == nil {
		s.gradNorm, err = register(reg, s.gradNorm)
	}
	if err == nil {
		s.epochs, err = register(reg, s.epochs)
	}
	if err == nil {
		s.epochTime, err = register(reg, s.epochTime)
	}
	if err == nil {
		s.runs, err = register(reg, s.runs)
	}
	if err == nil {
		s.testRMSE, err = register(reg, s.testRMSE)
	}
	if err == nil {
		s.predictions, err = register(reg, s.predictions)
	}
	if err == nil {
		s.latency, err = register(reg, s.latency)
	}
	if err == nil {
		s.lastRange, err = register(reg, s.lastRange)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// RecordEpoch updates the loss gauges.
func (s *PromSink) RecordEpoch(ev coremetrics.EpochEvent) error {
	s.trainLoss.Set(ev.TrainLoss)
	s.valLoss.Set(ev.ValLoss)
	s.gradNorm.Set(ev.GradNorm)
	s.epochs.Inc()
	s.epochTime.Observe(ev.Duration.Seconds())
	return nil
}

// RecordRun counts finished runs.
func (s *PromSink) RecordRun(ev coremetrics.RunEvent) error {
	s.runs.WithLabelValues(ev.Status).Inc()
	if ev.Status == "succeeded" && ev.TestRMSEKm > 0 {
		s.testRMSE.Set(ev.TestRMSEKm)
	}
	return nil
}

// RecordPrediction counts a served prediction and its latency.
func (s *PromSink) RecordPrediction(ev coremetrics.PredictionEvent) error {
	outcome := "ok"
	if ev.Error != "" {
		outcome = "error"
	} else {
		s.lastRange.Set(ev.RangeKm)
	}
	s.predictions.WithLabelValues(ev.Source, outcome).Inc()
	s.latency.WithLabelValues(ev.Source).Observe(ev.Latency.Seconds())
	return nil
}
