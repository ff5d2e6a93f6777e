package prediction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/evrange/core/dataset"
	"github.com/kilianp07/evrange/core/nn"
)

const seqLen = 4

func fittedEngine(t *testing.T) (*Engine, *dataset.Frame) {
	t.Helper()
	var b strings.Builder
	b.WriteString("timestamp,State_Of_Charge,pack_voltage_v,remaining_range_km\n")
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 30; i++ {
		soc := 90 - float64(i)
		fmt.Fprintf(&b, "%s,%.1f,%.1f,%.1f\n", start.Add(time.Duration(i)*time.Minute).Format(time.RFC3339), soc, 350+soc/10, 4*soc)
	}
	frame, err := dataset.ReadCSV(strings.NewReader(b.String()))
	require.NoError(t, err)
	proc := dataset.NewProcessor(dataset.ProcessorConfig{SequenceLength: seqLen}, nil)
	_, features, err := proc.Preprocess(frame)
	require.NoError(t, err)
	model, err := nn.NewRangeModel(nn.Architecture{InputDim: features, HiddenDim: 4, NumLayers: 1}, 1)
	require.NoError(t, err)
	eng, err := NewEngine(model, proc)
	require.NoError(t, err)
	return eng, frame
}

func requestRows(n int) []Row {
	rows := make([]Row, n)
	for i := range rows {
		rows[i] = Row{"STATE_OF_CHARGE": 50 - float64(i), "pack_voltage_v": 355}
	}
	return rows
}

func TestEnginePredictRange(t *testing.T) {
	eng, _ := fittedEngine(t)
	km, err := eng.PredictRange(context.Background(), requestRows(seqLen))
	require.NoError(t, err)
	assert.False(t, math.IsNaN(km))

	again, err := eng.PredictRange(context.Background(), requestRows(seqLen))
	require.NoError(t, err)
	assert.Equal(t, km, again)
}

func TestRowDecoding(t *testing.T) {
	var rows []Row
	body := `[{"state_of_charge": null, "pack_voltage_v": 355, "timestamp": "2024-01-01T00:00:00Z",
		"bms_version": "v1.2", "balancing_active": true, "cells": [1, 2]}]`
	require.NoError(t, json.Unmarshal([]byte(body), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, 355.0, rows[0]["pack_voltage_v"])
	for _, k := range []string{"state_of_charge", "timestamp", "bms_version", "balancing_active", "cells"} {
		v, ok := rows[0][k]
		assert.True(t, ok, k)
		assert.True(t, math.IsNaN(v), "%s decoded as %v", k, v)
	}

	assert.Error(t, json.Unmarshal([]byte(`[1, 2]`), &rows))
}

func TestEngineRejectsNullFeature(t *testing.T) {
	eng, _ := fittedEngine(t)
	var rows []Row
	var b strings.Builder
	b.WriteString("[")
	for i := 0; i < seqLen; i++ {
		if i > 0 {
			b.WriteString(",")
		}
		soc := "50"
		if i == 1 {
			soc = "null"
		}
		fmt.Fprintf(&b, `{"state_of_charge": %s, "pack_voltage_v": 355, "bms_version": "v1.2", "balancing_active": true}`, soc)
	}
	b.WriteString("]")
	require.NoError(t, json.Unmarshal([]byte(b.String()), &rows))

	_, err := eng.PredictRange(context.Background(), rows)
	var de *dataset.DataFormatError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, dataset.InvalidValue, de.Condition)
	assert.Equal(t, "state_of_charge", de.Column)

	rows[1]["state_of_charge"] = 49
	_, err = eng.PredictRange(context.Background(), rows)
	require.NoError(t, err, "non-numeric fields outside the schema are ignored")
}

func TestEngineRejectsBadRequests(t *testing.T) {
	eng, _ := fittedEngine(t)
	var de *dataset.DataFormatError
	var se *nn.ShapeError

	_, err := eng.PredictRange(context.Background(), requestRows(seqLen-1))
	require.ErrorAs(t, err, &se)
	_, err = eng.PredictRange(context.Background(), requestRows(seqLen+1))
	require.ErrorAs(t, err, &se)

	rows := requestRows(seqLen)
	delete(rows[2], "pack_voltage_v")
	_, err = eng.PredictRange(context.Background(), rows)
	require.ErrorAs(t, err, &de)
	assert.Equal(t, dataset.MissingColumn, de.Condition)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = eng.PredictRange(ctx, requestRows(seqLen))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEnginePredictFrame(t *testing.T) {
	eng, frame := fittedEngine(t)
	preds, err := eng.PredictFrame(context.Background(), frame)
	require.NoError(t, err)
	assert.Len(t, preds, 30-seqLen+1)
}

func TestEngineConcurrentRequests(t *testing.T) {
	eng, _ := fittedEngine(t)
	want, err := eng.PredictRange(context.Background(), requestRows(seqLen))
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := eng.PredictRange(context.Background(), requestRows(seqLen))
			if err == nil && got != want {
				err = fmt.Errorf("got %g want %g", got, want)
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
}

func TestNewEngineChecks(t *testing.T) {
	model, err := nn.NewRangeModel(nn.Architecture{InputDim: 2, HiddenDim: 4, NumLayers: 1}, 1)
	require.NoError(t, err)
	_, err = NewEngine(model, dataset.NewProcessor(dataset.ProcessorConfig{}, nil))
	assert.ErrorIs(t, err, dataset.ErrScalerNotFitted)

	eng, _ := fittedEngine(t)
	wide, err := nn.NewRangeModel(nn.Architecture{InputDim: 5, HiddenDim: 4, NumLayers: 1}, 1)
	require.NoError(t, err)
	_, err = NewEngine(wide, eng.proc)
	assert.True(t, errors.Is(err, nn.ErrArchitectureMismatch))
}

func TestMockPredictor(t *testing.T) {
	m := &MockPredictor{RangeKm: 123}
	km, err := m.PredictRange(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 123.0, km)

	m.Err = errors.New("down")
	_, err = m.PredictRange(context.Background(), nil)
	assert.Error(t, err)
	assert.Equal(t, 2, m.Calls())
}
