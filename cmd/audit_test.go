package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coremetrics "github.com/kilianp07/evrange/core/metrics"
	"github.com/kilianp07/evrange/infra/audit"
)

func TestAuditCommandFiltersByVehicle(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "predictions.jsonl")
	log, err := audit.NewLog(audit.Config{Path: logPath})
	require.NoError(t, err)
	now := time.Now()
	require.NoError(t, log.RecordPrediction(coremetrics.PredictionEvent{Source: "mqtt", VehicleID: "ev1", RangeKm: 212.5, Time: now}))
	require.NoError(t, log.RecordPrediction(coremetrics.PredictionEvent{Source: "mqtt", VehicleID: "ev2", RangeKm: 80, Time: now}))
	require.NoError(t, log.Close())

	cfgPath := filepath.Join(dir, "evrange.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("audit:\n  path: "+logPath+"\n"), 0o600))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"audit", "-c", cfgPath, "--vehicle", "ev1", "--since", "1h"})
	t.Cleanup(func() { rootCmd.SetArgs(nil); rootCmd.SetOut(nil) })
	require.NoError(t, rootCmd.Execute())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], "ev1")
	assert.Contains(t, lines[1], "212.5")
}
