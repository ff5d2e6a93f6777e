package nn

import (
	"errors"
	"fmt"
)

// ShapeError reports an input whose dimensions do not match the network.
type ShapeError struct {
	Op     string
	Detail string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("shape error in %s: %s", e.Op, e.Detail)
}

func shapeErrorf(op, format string, args ...any) error {
	return &ShapeError{Op: op, Detail: fmt.Sprintf(format, args...)}
}

var (
	// ErrNoTape is returned by Backward when no training-mode forward pass
	// preceded it.
	ErrNoTape = errors.New("backward called without a training forward pass")
	// ErrArchitectureMismatch is returned when persisted weights were produced
	// by a network with different hyperparameters.
	ErrArchitectureMismatch = errors.New("architecture mismatch")
)
