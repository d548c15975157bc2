package pricing

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Valrob28/traderbrok/internal/domain"
)

const (
	DefaultCandleCount = 50
	MaxCandleCount     = 500

	// candleBodyRange is the maximum open-to-close move as a fraction of the
	// open, and candleWickRange the maximum wick beyond the body.
	candleBodyRange = 0.004
	candleWickRange = 0.002
	candleMaxVolume = 1_000_000
)

var timeframes = map[string]time.Duration{
	"1m":  time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"1h":  time.Hour,
	"4h":  4 * time.Hour,
	"1d":  24 * time.Hour,
	"1w":  7 * 24 * time.Hour,
}

// ParseTimeframe maps a chart timeframe label such as "1h" to its bar width.
func ParseTimeframe(s string) (time.Duration, error) {
	d, ok := timeframes[s]
	if !ok {
		return 0, fmt.Errorf("pricing: unknown timeframe %q: %w", s, domain.ErrInvalidConfig)
	}
	return d, nil
}

// Candles generates n bars of random-walk history starting at anchor, with the
// last bar opening at end truncated to interval.
func (m *Model) Candles(anchor float64, n int, interval time.Duration, end time.Time) ([]domain.Candle, error) {
	if anchor <= 0 {
		return nil, fmt.Errorf("pricing: candles anchor %v: %w", anchor, domain.ErrInvalidPrice)
	}
	if n < 0 || n > MaxCandleCount {
		return nil, fmt.Errorf("pricing: candle count %d outside [0, %d]: %w", n, MaxCandleCount, domain.ErrInvalidConfig)
	}
	if interval <= 0 {
		return nil, fmt.Errorf("pricing: candle interval %s: %w", interval, domain.ErrInvalidConfig)
	}

	places := pricePlaces(anchor)
	last := end.Truncate(interval)
	out := make([]domain.Candle, 0, n)
	price := anchor
	for i := 0; i < n; i++ {
		open := price
		cl := math.Max(m.floor, open*(1+m.src.Uniform(-candleBodyRange, candleBodyRange)))
		high := math.Max(open, cl) * (1 + m.src.Uniform(0, candleWickRange))
		low := math.Max(m.floor, math.Min(open, cl)*(1-m.src.Uniform(0, candleWickRange)))

		out = append(out, domain.Candle{
			Time:   last.Add(-time.Duration(n-1-i) * interval),
			Open:   round(open, places),
			High:   round(high, places),
			Low:    round(low, places),
			Close:  round(cl, places),
			Volume: round(m.src.Uniform(0, candleMaxVolume), 2),
		})
		price = cl
	}
	return out, nil
}

// pricePlaces picks a display precision that keeps roughly six significant
// digits for the anchor price.
func pricePlaces(p float64) int32 {
	switch {
	case p >= 1000:
		return 2
	case p >= 1:
		return 4
	default:
		return 6
	}
}

func round(v float64, places int32) float64 {
	f, _ := decimal.NewFromFloat(v).Round(places).Float64()
	return f
}
