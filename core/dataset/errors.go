package dataset

import (
	"errors"
	"fmt"
)

// Condition classifies a DataFormatError.
type Condition string

const (
	EmptyInput       Condition = "empty_input"
	MissingColumn    Condition = "missing_column"
	NonNumericTarget Condition = "non_numeric_target"
	NoFeatures       Condition = "no_numeric_features"
	InsufficientRows Condition = "insufficient_rows"
	WidthMismatch    Condition = "width_mismatch"
	WrongLength      Condition = "wrong_sequence_length"
	InvalidValue     Condition = "invalid_value"
)

// DataFormatError reports input data that cannot be turned into windows.
type DataFormatError struct {
	Condition Condition
	Column    string
	Detail    string
}

func (e *DataFormatError) Error() string {
	msg := "data format error: " + string(e.Condition)
	if e.Column != "" {
		msg += fmt.Sprintf(" (column %q)", e.Column)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func formatErr(cond Condition, column, format string, args ...any) error {
	return &DataFormatError{Condition: cond, Column: column, Detail: fmt.Sprintf(format, args...)}
}

// ErrScalerNotFitted is returned when a transform is requested before the
// scaler (or the processor owning it) has been fitted or restored.
var ErrScalerNotFitted = errors.New("scaler not fitted")
