package metrics

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/evrange/core/metrics"
	"github.com/kilianp07/evrange/infra/logger"
)

// InfluxSink writes training and prediction events to InfluxDB so loss curves
// can be compared across runs.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// InfluxConfig locates the bucket events are written to.
type InfluxConfig struct {
	URL    string `json:"url"`
	Token  string `json:"token"`
	Org    string `json:"org"`
	Bucket string `json:"bucket"`
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(cfg InfluxConfig) *InfluxSink {
	base := strings.TrimSuffix(cfg.URL, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, cfg.Token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback pings the InfluxDB instance and returns a NopSink
// if the health check fails.
func NewInfluxSinkWithFallback(cfg InfluxConfig) coremetrics.MetricsSink {
	sink := NewInfluxSink(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// Close releases the underlying client.
func (s *InfluxSink) Close() { s.client.Close() }

// RecordEpoch writes one training_epoch point.
func (s *InfluxSink) RecordEpoch(ev coremetrics.EpochEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("training_epoch").
		AddTag("run_id", ev.RunID).
		AddTag("component", "trainer").
		AddField("epoch", ev.Epoch).
		AddField("train_loss", round6(ev.TrainLoss)).
		AddField("val_loss", round6(ev.ValLoss)).
		AddField("grad_norm", round6(ev.GradNorm)).
		AddField("improved", ev.Improved).
		AddField("duration_ms", ev.Duration.Milliseconds()).
		SetTime(ev.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordRun writes one training_run point.
func (s *InfluxSink) RecordRun(ev coremetrics.RunEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("training_run").
		AddTag("run_id", ev.RunID).
		AddTag("status", ev.Status).
		AddTag("stop_reason", ev.StopReason).
		AddField("epochs", ev.Epochs).
		AddField("best_epoch", ev.BestEpoch).
		AddField("best_val_loss", round6(ev.BestValLoss)).
		AddField("test_mse", round6(ev.TestMSE)).
		AddField("test_rmse_km", round6(ev.TestRMSEKm)).
		AddField("test_mae_km", round6(ev.TestMAEKm)).
		SetTime(ev.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordPrediction writes one range_prediction point.
func (s *InfluxSink) RecordPrediction(ev coremetrics.PredictionEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("range_prediction").
		AddTag("source", ev.Source).
		AddTag("ok", strconv.FormatBool(ev.Error == ""))
	if ev.VehicleID != "" {
		p = p.AddTag("vehicle_id", ev.VehicleID)
	}
	p = p.AddField("latency_ms", round6(ev.Latency.Seconds()*1000))
	if ev.Error != "" {
		p = p.AddField("error", ev.Error)
	} else {
		p = p.AddField("range_km", round6(ev.RangeKm))
	}
	return s.writeAPI.WritePoint(ctx, p.SetTime(ev.Time))
}

func round6(f float64) float64 {
	return math.Round(f*1e6) / 1e6
}
