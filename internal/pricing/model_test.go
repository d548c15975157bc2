package pricing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Valrob28/traderbrok/internal/domain"
	"github.com/Valrob28/traderbrok/internal/rng"
)

func TestNewRejectsBadParameters(t *testing.T) {
	_, err := New(rng.New(1), -0.1, DefaultFloor)
	require.ErrorIs(t, err, domain.ErrInvalidConfig)
	_, err = New(rng.New(1), 1.01, DefaultFloor)
	require.ErrorIs(t, err, domain.ErrInvalidConfig)
	_, err = New(rng.New(1), DefaultVolatility, 0)
	require.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestFullVolatilityStaysAboveFloor(t *testing.T) {
	m, err := New(rng.New(3), 1, DefaultFloor)
	require.NoError(t, err)
	assert.Equal(t, 1.0, m.Volatility())

	price := 5.0
	for i := 0; i < 1000; i++ {
		price, _ = m.Next(price)
		require.GreaterOrEqual(t, price, DefaultFloor)
	}
}

func TestNextPriceMidpointDrawIsFlat(t *testing.T) {
	// Uniform(-1, 1) with a 0.5 draw is exactly zero.
	m, err := New(&rng.Fixed{Values: []float64{0.5}}, DefaultVolatility, DefaultFloor)
	require.NoError(t, err)

	next, pct := m.NextPrice(100, 0.005)
	assert.Equal(t, 100.0, next)
	assert.Equal(t, 0.0, pct)
}

func TestNextPriceBounds(t *testing.T) {
	m, err := New(rng.New(42), DefaultVolatility, DefaultFloor)
	require.NoError(t, err)

	price := 2345.67
	for i := 0; i < 1000; i++ {
		next, pct := m.NextPrice(price, 0.005)
		require.Greater(t, next, 0.0)
		assert.LessOrEqual(t, next, price*1.005+1e-9)
		assert.GreaterOrEqual(t, next, price*0.995-1e-9)
		assert.InDelta(t, (next-price)/price*100, pct, 1e-9)
		price = next
	}
}

func TestNextPriceRespectsFloor(t *testing.T) {
	// A draw near 0 gives U(-1, 1) close to -1, so v=1 would wipe the price out.
	m, err := New(&rng.Fixed{Values: []float64{0}}, DefaultVolatility, DefaultFloor)
	require.NoError(t, err)

	next, pct := m.NextPrice(0.02, 1.0)
	assert.Equal(t, DefaultFloor, next)
	assert.InDelta(t, -50.0, pct, 1e-9)

	next, _ = m.NextPrice(0.01, 1.0)
	assert.Equal(t, DefaultFloor, next)
}

func TestNextPriceIsDeterministicForSeed(t *testing.T) {
	a, _ := New(rng.New(7), DefaultVolatility, DefaultFloor)
	b, _ := New(rng.New(7), DefaultVolatility, DefaultFloor)
	for i := 0; i < 50; i++ {
		pa, _ := a.Next(100)
		pb, _ := b.Next(100)
		require.Equal(t, pa, pb)
	}
}

func TestVolumeFactorRange(t *testing.T) {
	m, _ := New(rng.New(9), DefaultVolatility, DefaultFloor)
	for i := 0; i < 500; i++ {
		f := m.VolumeFactor()
		require.GreaterOrEqual(t, f, 0.95)
		require.Less(t, f, 1.05)
	}
}

func TestCandles(t *testing.T) {
	m, _ := New(rng.New(11), DefaultVolatility, DefaultFloor)
	end := time.Date(2025, 3, 1, 12, 34, 0, 0, time.UTC)

	bars, err := m.Candles(2345.67, DefaultCandleCount, time.Hour, end)
	require.NoError(t, err)
	require.Len(t, bars, DefaultCandleCount)

	assert.Equal(t, 2345.67, bars[0].Open)
	assert.Equal(t, time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC), bars[len(bars)-1].Time)
	for i, c := range bars {
		assert.Greater(t, c.Low, 0.0)
		assert.GreaterOrEqual(t, c.High, c.Open)
		assert.GreaterOrEqual(t, c.High, c.Close)
		assert.LessOrEqual(t, c.Low, c.Open)
		assert.LessOrEqual(t, c.Low, c.Close)
		if i > 0 {
			assert.Equal(t, time.Hour, c.Time.Sub(bars[i-1].Time))
			assert.Equal(t, bars[i-1].Close, c.Open)
		}
	}
}

func TestCandlesRejectsBadInput(t *testing.T) {
	m, _ := New(rng.New(1), DefaultVolatility, DefaultFloor)
	_, err := m.Candles(0, 10, time.Hour, time.Now())
	require.ErrorIs(t, err, domain.ErrInvalidPrice)
	_, err = m.Candles(100, MaxCandleCount+1, time.Hour, time.Now())
	require.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestParseTimeframe(t *testing.T) {
	d, err := ParseTimeframe("4h")
	require.NoError(t, err)
	assert.Equal(t, 4*time.Hour, d)

	_, err = ParseTimeframe("2h")
	require.ErrorIs(t, err, domain.ErrInvalidConfig)
}
