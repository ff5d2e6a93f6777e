package artifacts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/evrange/core/dataset"
	"github.com/kilianp07/evrange/core/nn"
	"github.com/kilianp07/evrange/core/training"
)

func trainedBundle(t *testing.T) (*training.Result, *dataset.Processor, [][][]float64) {
	t.Helper()
	var b strings.Builder
	b.WriteString("timestamp,state_of_charge,pack_voltage_v,remaining_range_km\n")
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 20; i++ {
		soc := 80 - float64(i)
		fmt.Fprintf(&b, "%s,%.1f,%.1f,%.1f\n", start.Add(time.Duration(i)*time.Minute).Format(time.RFC3339), soc, 340+soc/5, 4*soc)
	}
	frame, err := dataset.ReadCSV(strings.NewReader(b.String()))
	require.NoError(t, err)
	proc := dataset.NewProcessor(dataset.ProcessorConfig{SequenceLength: 3}, nil)
	windows, features, err := proc.Preprocess(frame)
	require.NoError(t, err)
	model, err := nn.NewRangeModel(nn.Architecture{InputDim: features, HiddenDim: 4, NumLayers: 1}, 7)
	require.NoError(t, err)
	inputs := [][][]float64{windows[0].Features, windows[1].Features}
	return &training.Result{Model: model, BestEpoch: 3, BestValLoss: 0.4}, proc, inputs
}

func TestSaveLoadRoundTrip(t *testing.T) {
	res, proc, inputs := trainedBundle(t)
	store := NewStore(t.TempDir())
	dir, err := store.Save("run-1", res, proc)
	require.NoError(t, err)
	for _, f := range []string{ModelFile, FeatureFile, TargetFile, ManifestFile} {
		assert.FileExists(t, filepath.Join(dir, f))
	}
	latest, err := store.Latest()
	require.NoError(t, err)
	assert.Equal(t, dir, latest)

	b, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "run-1", b.Manifest.RunID)
	assert.Equal(t, proc.Schema(), b.Processor.Schema())
	assert.Equal(t, 3, b.Processor.SequenceLength())
	assert.Equal(t, Fingerprint(proc.Schema(), res.Model.Architecture(), 3), b.Manifest.Fingerprint)

	want, err := res.Model.Predict(inputs)
	require.NoError(t, err)
	got, err := b.Model.Predict(inputs)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	km, err := b.Processor.InverseTarget(0)
	require.NoError(t, err)
	wantKm, err := proc.InverseTarget(0)
	require.NoError(t, err)
	assert.InDelta(t, wantKm, km, 1e-12)
}

func TestLoadDetectsMismatchedScaler(t *testing.T) {
	res, proc, _ := trainedBundle(t)
	root := t.TempDir()
	store := NewStore(root)
	dirA, err := store.Save("a", res, proc)
	require.NoError(t, err)

	// A second run over a different schema produces a different fingerprint.
	other := dataset.NewProcessor(dataset.ProcessorConfig{SequenceLength: 3, DropColumns: []string{"pack_voltage_v"}}, nil)
	var b strings.Builder
	b.WriteString("timestamp,state_of_charge,pack_voltage_v,remaining_range_km\n")
	for i := 0; i < 10; i++ {
		fmt.Fprintf(&b, "2024-01-01T00:%02d:00Z,%d,350,%d\n", i, 80-i, 300-i)
	}
	frame, err := dataset.ReadCSV(strings.NewReader(b.String()))
	require.NoError(t, err)
	_, features, err := other.Preprocess(frame)
	require.NoError(t, err)
	model, err := nn.NewRangeModel(nn.Architecture{InputDim: features, HiddenDim: 4, NumLayers: 1}, 1)
	require.NoError(t, err)
	dirB, err := store.Save("b", &training.Result{Model: model}, other)
	require.NoError(t, err)

	for _, name := range []string{FeatureFile, TargetFile, ModelFile} {
		t.Run(name, func(t *testing.T) {
			dir := filepath.Join(root, "mixed-"+name)
			require.NoError(t, os.MkdirAll(dir, 0o755))
			for _, f := range []string{ModelFile, FeatureFile, TargetFile, ManifestFile} {
				src := dirA
				if f == name {
					src = dirB
				}
				data, err := os.ReadFile(filepath.Join(src, f))
				require.NoError(t, err)
				require.NoError(t, os.WriteFile(filepath.Join(dir, f), data, 0o644))
			}
			_, err := Load(dir)
			assert.ErrorIs(t, err, ErrFingerprintMismatch)
		})
	}
}

func TestLoadDetectsEditedManifest(t *testing.T) {
	res, proc, _ := trainedBundle(t)
	dir, err := NewStore(t.TempDir()).Save("r", res, proc)
	require.NoError(t, err)

	path := filepath.Join(dir, ManifestFile)
	var man Manifest
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &man))
	man.SequenceLength = 10
	data, err = json.Marshal(man)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = Load(dir)
	assert.ErrorIs(t, err, ErrFingerprintMismatch)
}

func TestSaveRequiresFittedProcessor(t *testing.T) {
	model, err := nn.NewRangeModel(nn.Architecture{InputDim: 2, HiddenDim: 2, NumLayers: 1}, 1)
	require.NoError(t, err)
	_, err = NewStore(t.TempDir()).Save("x", &training.Result{Model: model}, dataset.NewProcessor(dataset.ProcessorConfig{}, nil))
	assert.ErrorIs(t, err, dataset.ErrScalerNotFitted)
}
