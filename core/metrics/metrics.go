package metrics

import "time"

// EpochEvent summarizes one completed training epoch.
type EpochEvent struct {
	RunID     string
	Epoch     int
	TrainLoss float64
	ValLoss   float64
	GradNorm  float64
	Improved  bool
	Duration  time.Duration
	Time      time.Time
}

// MetricsSink records training progress for observability purposes.
type MetricsSink interface {
	RecordEpoch(ev EpochEvent) error
}

// RunEvent is emitted once a training run finishes or fails.
type RunEvent struct {
	RunID       string
	Status      string
	Epochs      int
	BestEpoch   int
	BestValLoss float64
	TestMSE     float64
	TestRMSEKm  float64
	TestMAEKm   float64
	StopReason  string
	Duration    time.Duration
	Time        time.Time
}

// RunRecorder records training run outcomes.
type RunRecorder interface {
	RecordRun(ev RunEvent) error
}

// PredictionEvent describes one served range prediction.
type PredictionEvent struct {
	Source    string
	VehicleID string
	RangeKm   float64
	Latency   time.Duration
	Error     string
	Time      time.Time
}

// PredictionRecorder records served predictions.
type PredictionRecorder interface {
	RecordPrediction(ev PredictionEvent) error
}

// NopSink implements every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordEpoch(EpochEvent) error           { return nil }
func (NopSink) RecordRun(RunEvent) error               { return nil }
func (NopSink) RecordPrediction(PredictionEvent) error { return nil }
