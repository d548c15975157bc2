// Package pricing implements the random-walk price model, volume drift and
// synthetic candle history.
package pricing

import (
	"fmt"
	"math"

	"github.com/Valrob28/traderbrok/internal/domain"
	"github.com/Valrob28/traderbrok/internal/rng"
)

const (
	DefaultVolatility = 0.005
	DefaultFloor      = 0.01

	volumeDriftLow  = 0.95
	volumeDriftHigh = 1.05
)

// Model draws price ticks and volume drift from a shared random source.
type Model struct {
	src        rng.Source
	volatility float64
	floor      float64
}

// New creates a Model. volatility must be in [0, 1] and floor must be > 0.
func New(src rng.Source, volatility, floor float64) (*Model, error) {
	if volatility < 0 || volatility > 1 || math.IsNaN(volatility) {
		return nil, fmt.Errorf("pricing: volatility %v outside [0, 1]: %w", volatility, domain.ErrInvalidConfig)
	}
	if floor <= 0 || math.IsNaN(floor) {
		return nil, fmt.Errorf("pricing: floor must be > 0, got %v: %w", floor, domain.ErrInvalidConfig)
	}
	return &Model{src: src, volatility: volatility, floor: floor}, nil
}

// Volatility returns the per-tick volatility fraction.
func (m *Model) Volatility() float64 { return m.volatility }

// Floor returns the minimum price the model will ever emit.
func (m *Model) Floor() float64 { return m.floor }

// Next applies one tick at the model's volatility.
func (m *Model) Next(current float64) (float64, float64) {
	return m.NextPrice(current, m.volatility)
}

// NextPrice draws delta = current * volatility * U(-1, 1) and returns the new
// price, clamped to the floor, with its percent change from current.
func (m *Model) NextPrice(current, volatility float64) (next, percentChange float64) {
	if current <= 0 {
		return m.floor, 0
	}
	delta := current * volatility * m.src.Uniform(-1, 1)
	next = math.Max(m.floor, current+delta)
	return next, (next - current) / current * 100
}

// VolumeFactor returns a multiplicative volume drift in [0.95, 1.05).
func (m *Model) VolumeFactor() float64 {
	return m.src.Uniform(volumeDriftLow, volumeDriftHigh)
}
