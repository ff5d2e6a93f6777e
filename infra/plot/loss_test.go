package plot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/evrange/core/training"
)

func TestPlotLossWritesPNG(t *testing.T) {
	dir := t.TempDir()
	h := []training.EpochRecord{
		{Epoch: 1, TrainLoss: 1.2, ValLoss: 1.4},
		{Epoch: 2, TrainLoss: 0.6, ValLoss: 0.9},
		{Epoch: 3, TrainLoss: 0.3, ValLoss: 0.7},
	}
	path, err := NewLossPlotter(dir).PlotLoss("run", h)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "run", "loss.png"), path)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestPlotLossLinearFallbackAndEmpty(t *testing.T) {
	p := NewLossPlotter(t.TempDir())
	_, err := p.PlotLoss("zero", []training.EpochRecord{{Epoch: 1, TrainLoss: 0, ValLoss: 0.5}, {Epoch: 2, TrainLoss: 0, ValLoss: 0.4}})
	require.NoError(t, err)
	_, err = p.PlotLoss("none", nil)
	assert.Error(t, err)
}
