package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/evrange/core/training"
)

func TestSQLiteStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	first := training.RunSummary{
		RunID: "a", StartedAt: base, FinishedAt: base.Add(time.Minute), Status: "succeeded",
		Config: training.DefaultConfig(), FeatureCount: 27, Windows: 150, Epochs: 12,
		BestEpoch: 9, BestValLoss: 0.12, TestMSE: 0.2, TestRMSEKm: 14.5, TestMAEKm: 10.1,
		StopReason: "early_stopping", ArtifactDir: "artifacts/a",
	}
	second := training.RunSummary{
		RunID: "b", StartedAt: base.Add(time.Hour), FinishedAt: base.Add(time.Hour), Status: "failed",
		Config: training.DefaultConfig(), Error: "preprocess: empty input",
	}
	require.NoError(t, s.RecordRun(ctx, first))
	require.NoError(t, s.RecordRun(ctx, second))

	runs, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "b", runs[0].RunID)
	assert.Equal(t, first, runs[1])

	limited, err := s.List(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	got, err := s.Get(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "preprocess: empty input", got.Error)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStoreReplace(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	ctx := context.Background()
	r := training.RunSummary{RunID: "x", Status: "failed", Config: training.DefaultConfig()}
	require.NoError(t, s.RecordRun(ctx, r))
	r.Status = "succeeded"
	require.NoError(t, s.RecordRun(ctx, r))
	runs, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "succeeded", runs[0].Status)
}
