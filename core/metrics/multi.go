package metrics

import "errors"

// MultiSink forwards events to several sinks. Optional recorder interfaces
// are forwarded only to sinks implementing them.
type MultiSink struct {
	Sinks []MetricsSink
}

// NewMultiSink combines sinks.
func NewMultiSink(sinks ...MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

func (m *MultiSink) RecordEpoch(ev EpochEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		if err := s.RecordEpoch(ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *MultiSink) RecordRun(ev RunEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		if r, ok := s.(RunRecorder); ok {
			if err := r.RecordRun(ev); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (m *MultiSink) RecordPrediction(ev PredictionEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		if r, ok := s.(PredictionRecorder); ok {
			if err := r.RecordPrediction(ev); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink that holds resources.
func (m *MultiSink) Close() error {
	var errs []error
	for _, s := range m.Sinks {
		errs = append(errs, Close(s))
	}
	return errors.Join(errs...)
}

// Close releases s when it implements Close() or Close() error.
func Close(s MetricsSink) error {
	switch c := s.(type) {
	case interface{ Close() error }:
		return c.Close()
	case interface{ Close() }:
		c.Close()
	}
	return nil
}
