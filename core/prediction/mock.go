package prediction

import (
	"context"
	"sync"
)

// MockPredictor returns a fixed range, or Err when set, and records every
// request it receives.
type MockPredictor struct {
	RangeKm float64
	Err     error

	mu    sync.Mutex
	calls [][]Row
}

// PredictRange implements RangePredictor.
func (m *MockPredictor) PredictRange(_ context.Context, rows []Row) (float64, error) {
	m.mu.Lock()
	m.calls = append(m.calls, rows)
	m.mu.Unlock()
	if m.Err != nil {
		return 0, m.Err
	}
	return m.RangeKm, nil
}

// Calls returns the number of requests seen so far.
func (m *MockPredictor) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
