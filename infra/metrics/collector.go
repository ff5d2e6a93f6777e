package metrics

import (
	"context"

	coremetrics "github.com/kilianp07/evrange/core/metrics"
	"github.com/kilianp07/evrange/internal/eventbus"
)

// StartEventCollector subscribes to the event bus and forwards training and
// prediction events to sink. It stops when the context is canceled or the
// bus is closed; the returned channel is closed once it has stopped.
func StartEventCollector(ctx context.Context, bus eventbus.EventBus, sink coremetrics.MetricsSink) <-chan struct{} {
	done := make(chan struct{})
	if bus == nil || sink == nil {
		close(done)
		return done
	}
	sub := bus.Subscribe()
	go func() {
		defer close(done)
		defer bus.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub:
				if !ok {
					return
				}
				switch e := ev.(type) {
				case coremetrics.EpochEvent:
					_ = sink.RecordEpoch(e)
				case coremetrics.RunEvent:
					if r, ok := sink.(coremetrics.RunRecorder); ok {
						_ = r.RecordRun(e)
					}
				case coremetrics.PredictionEvent:
					if r, ok := sink.(coremetrics.PredictionRecorder); ok {
						_ = r.RecordPrediction(e)
					}
				}
			}
		}
	}()
	return done
}
