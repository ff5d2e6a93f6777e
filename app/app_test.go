package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/evrange/config"
	"github.com/kilianp07/evrange/core/factory"
	"github.com/kilianp07/evrange/infra/history"
)

func writeTelemetry(t *testing.T, dir string, n int) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("timestamp,state_of_charge,pack_voltage_v,remaining_range_km\n")
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		soc := 95 - float64(i)*0.4
		fmt.Fprintf(&b, "%s,%.2f,%.2f,%.2f\n", start.Add(time.Duration(i)*time.Minute).Format(time.RFC3339), soc, 340+soc/5, 4.1*soc)
	}
	path := filepath.Join(dir, "telemetry.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Training.Epochs = 2
	cfg.Training.HiddenDim = 4
	cfg.Training.NumLayers = 1
	cfg.Training.BatchSize = 16
	cfg.Data.Processor.SequenceLength = 5
	cfg.Data.Source.Path = writeTelemetry(t, dir, 80)
	cfg.Artifacts.Dir = filepath.Join(dir, "artifacts")
	cfg.Artifacts.PlotDir = cfg.Artifacts.Dir
	cfg.History = config.HistoryConfig{Enabled: true, Path: filepath.Join(dir, "runs.db")}
	cfg.Metrics.Sinks = []factory.ModuleConfig{{Type: "nop"}}
	return cfg
}

func TestTrainThenServe(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	rep, err := Train(ctx, cfg, "")
	require.NoError(t, err)
	assert.Equal(t, "succeeded", rep.Summary.Status)
	assert.FileExists(t, filepath.Join(rep.ArtifactDir, "manifest.json"))
	assert.FileExists(t, rep.PlotPath)

	store, err := history.NewSQLiteStore(cfg.History.Path)
	require.NoError(t, err)
	runs, err := store.List(ctx, 0)
	require.NoError(t, err)
	require.NoError(t, store.Close())
	require.Len(t, runs, 1)
	assert.Equal(t, rep.Summary.RunID, runs[0].RunID)

	preds, bundle, err := PredictFile(ctx, cfg, cfg.Data.Source.Path)
	require.NoError(t, err)
	assert.Len(t, preds, 80-5+1)
	assert.Equal(t, rep.Summary.RunID, bundle.Manifest.RunID)

	svc, err := New(cfg)
	require.NoError(t, err)
	defer func() { _ = svc.Close() }()
	srv := httptest.NewServer(svc.server.Handler)
	defer srv.Close()

	var body strings.Builder
	body.WriteString("[")
	for i := 0; i < 5; i++ {
		if i > 0 {
			body.WriteString(",")
		}
		fmt.Fprintf(&body, `{"state_of_charge": %d, "pack_voltage_v": 355}`, 60-i)
	}
	body.WriteString("]")
	resp, err := http.Post(srv.URL+"/predict_range", "application/json", strings.NewReader(body.String()))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestTrainRecordsFailedRun(t *testing.T) {
	cfg := testConfig(t)
	cfg.Data.Source.Path = writeTelemetry(t, t.TempDir(), 3)
	_, err := Train(context.Background(), cfg, "")
	require.Error(t, err)

	store, err := history.NewSQLiteStore(cfg.History.Path)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	runs, err := store.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "failed", runs[0].Status)
}

func TestServeWithoutBundle(t *testing.T) {
	cfg := testConfig(t)
	_, err := New(cfg)
	assert.Error(t, err)
}
