package dataset

import (
	"gonum.org/v1/gonum/stat"
)

// Scaler standardizes columns to zero mean and unit variance using population
// statistics.
type Scaler struct {
	Mean []float64 `json:"mean"`
	Std  []float64 `json:"std"`
}

// Fit computes per-column statistics over rows, replacing any prior state.
// Columns with zero spread get a unit std so they map to 0.
func (s *Scaler) Fit(rows [][]float64) error {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return formatErr(EmptyInput, "", "cannot fit scaler on empty data")
	}
	width := len(rows[0])
	col := make([]float64, len(rows))
	mean := make([]float64, width)
	std := make([]float64, width)
	for j := 0; j < width; j++ {
		for i, r := range rows {
			if len(r) != width {
				return formatErr(WidthMismatch, "", "row %d has %d values, want %d", i, len(r), width)
			}
			col[i] = r[j]
		}
		mean[j], std[j] = stat.PopMeanStdDev(col, nil)
		if std[j] == 0 {
			std[j] = 1
		}
	}
	s.Mean, s.Std = mean, std
	return nil
}

// Fitted reports whether Fit (or a restore) populated the statistics.
func (s *Scaler) Fitted() bool {
	return s != nil && len(s.Mean) > 0 && len(s.Mean) == len(s.Std)
}

// Width returns the number of columns the scaler was fitted on.
func (s *Scaler) Width() int {
	if !s.Fitted() {
		return 0
	}
	return len(s.Mean)
}

// TransformRow returns (row - mean) / std without modifying row.
func (s *Scaler) TransformRow(row []float64) ([]float64, error) {
	if err := s.check(row); err != nil {
		return nil, err
	}
	out := make([]float64, len(row))
	for j, v := range row {
		out[j] = (v - s.Mean[j]) / s.Std[j]
	}
	return out, nil
}

// InverseRow maps a scaled row back to original units.
func (s *Scaler) InverseRow(row []float64) ([]float64, error) {
	if err := s.check(row); err != nil {
		return nil, err
	}
	out := make([]float64, len(row))
	for j, v := range row {
		out[j] = v*s.Std[j] + s.Mean[j]
	}
	return out, nil
}

// Transform scales every row.
func (s *Scaler) Transform(rows [][]float64) ([][]float64, error) {
	return s.mapRows(rows, s.TransformRow)
}

// InverseTransform undoes Transform.
func (s *Scaler) InverseTransform(rows [][]float64) ([][]float64, error) {
	return s.mapRows(rows, s.InverseRow)
}

func (s *Scaler) mapRows(rows [][]float64, fn func([]float64) ([]float64, error)) ([][]float64, error) {
	out := make([][]float64, len(rows))
	for i, r := range rows {
		v, err := fn(r)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (s *Scaler) check(row []float64) error {
	if !s.Fitted() {
		return ErrScalerNotFitted
	}
	if len(row) != len(s.Mean) {
		return formatErr(WidthMismatch, "", "got %d values, scaler fitted on %d", len(row), len(s.Mean))
	}
	return nil
}

// Clone returns a deep copy.
func (s *Scaler) Clone() *Scaler {
	if s == nil {
		return nil
	}
	return &Scaler{
		Mean: append([]float64(nil), s.Mean...),
		Std:  append([]float64(nil), s.Std...),
	}
}
