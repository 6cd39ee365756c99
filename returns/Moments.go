package returns

import (
	"math"
	"sort"
	"sync"

	"gonum.org/v1/gonum/stat"
)

// Moments tracks exponential moving averages of a low and a high
// percentile of the returns and uses their spread to normalize
// returns and advantages. Normalizing by max(1, high - low) rather
// than a standard deviation keeps small returns from being amplified.
type Moments struct {
	mu sync.Mutex

	decay    float64
	max      float64
	percLow  float64
	percHigh float64

	low, high float64
}

// NewMoments returns a new Moments
func NewMoments(decay, max, percLow, percHigh float64) *Moments {
	return &Moments{
		decay:    decay,
		max:      max,
		percLow:  percLow,
		percHigh: percHigh,
	}
}

// NewDefaultMoments returns a Moments tracking the 5th and 95th
// percentiles with decay 0.99
func NewDefaultMoments() *Moments {
	return NewMoments(0.99, 1.0, 0.05, 0.95)
}

// Update adds a batch of returns to the moving averages and returns
// the normalization offset and scale
func (m *Moments) Update(x []float64) (offset, scale float64) {
	sorted := make([]float64, len(x))
	copy(sorted, x)
	sort.Float64s(sorted)

	low := stat.Quantile(m.percLow, stat.Empirical, sorted, nil)
	high := stat.Quantile(m.percHigh, stat.Empirical, sorted, nil)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.low = m.decay*m.low + (1-m.decay)*low
	m.high = m.decay*m.high + (1-m.decay)*high
	return m.low, math.Max(1/m.max, m.high-m.low)
}

// Stats returns the current offset and scale without updating them
func (m *Moments) Stats() (offset, scale float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.low, math.Max(1/m.max, m.high-m.low)
}

// State returns the tracked percentiles, for checkpointing
func (m *Moments) State() (low, high float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.low, m.high
}

// SetState restores the tracked percentiles
func (m *Moments) SetState(low, high float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.low, m.high = low, high
}
