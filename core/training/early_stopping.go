package training

import "math"

// EarlyStopping tracks validation loss. An epoch improves when its loss is
// below best - MinDelta; Step reports true once Patience consecutive epochs
// have not improved.
type EarlyStopping struct {
	Patience int
	MinDelta float64

	best    float64
	counter int
}

// NewEarlyStopping returns a tracker with no recorded loss.
func NewEarlyStopping(patience int, minDelta float64) *EarlyStopping {
	return &EarlyStopping{Patience: patience, MinDelta: minDelta, best: math.Inf(1)}
}

// Step records one validation loss.
func (e *EarlyStopping) Step(valLoss float64) bool {
	if valLoss < e.best-e.MinDelta {
		e.best = valLoss
		e.counter = 0
		return false
	}
	e.counter++
	return e.counter >= e.Patience
}

// Improved reports whether the last Step was an improvement.
func (e *EarlyStopping) Improved() bool { return e.counter == 0 && !math.IsInf(e.best, 1) }

// Counter returns the number of consecutive epochs without improvement.
func (e *EarlyStopping) Counter() int { return e.counter }

// Best returns the lowest recorded validation loss.
func (e *EarlyStopping) Best() float64 { return e.best }
