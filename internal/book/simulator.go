// Package book derives synthetic depth ladders from a mid price.
package book

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Valrob28/traderbrok/internal/domain"
	"github.com/Valrob28/traderbrok/internal/rng"
)

// pricePlaces is the minimum precision ladder prices are rounded to.
const pricePlaces = 8

// Config controls ladder shape.
type Config struct {
	Depth    int
	TickSize float64
	SizeMin  float64
	SizeMax  float64
}

// DefaultConfig is ten levels a side, 0.1 apart, sizes in [10, 60).
func DefaultConfig() Config {
	return Config{Depth: 10, TickSize: 0.1, SizeMin: 10, SizeMax: 60}
}

// Validate checks the ladder parameters.
func (c Config) Validate() error {
	switch {
	case c.Depth < 0:
		return fmt.Errorf("book: depth %d < 0: %w", c.Depth, domain.ErrInvalidConfig)
	case c.TickSize <= 0 || math.IsNaN(c.TickSize):
		return fmt.Errorf("book: tick size must be > 0, got %v: %w", c.TickSize, domain.ErrInvalidConfig)
	case c.SizeMin <= 0:
		return fmt.Errorf("book: size min must be > 0, got %v: %w", c.SizeMin, domain.ErrInvalidConfig)
	case c.SizeMin > c.SizeMax:
		return fmt.Errorf("book: size min %v above size max %v: %w", c.SizeMin, c.SizeMax, domain.ErrInvalidConfig)
	}
	return nil
}

// Simulator builds order-book snapshots.
type Simulator struct {
	cfg    Config
	src    rng.Source
	tick   decimal.Decimal
	places int32
}

// New validates cfg and returns a Simulator drawing sizes from src.
func New(cfg Config, src rng.Source) (*Simulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	tick := decimal.NewFromFloat(cfg.TickSize)
	places := -tick.Exponent()
	if places < pricePlaces {
		places = pricePlaces
	}
	return &Simulator{cfg: cfg, src: src, tick: tick, places: places}, nil
}

// Config returns the simulator's ladder parameters.
func (s *Simulator) Config() Config { return s.cfg }

// Build lays out Depth levels on each side of mid, one tick apart. Bid levels
// that would be priced at or below zero are dropped.
func (s *Simulator) Build(symbol string, mid float64, ts time.Time) (domain.OrderBookSnapshot, error) {
	if mid <= 0 || math.IsNaN(mid) || math.IsInf(mid, 0) {
		return domain.OrderBookSnapshot{}, fmt.Errorf("book: build %s at mid %v: %w", symbol, mid, domain.ErrInvalidPrice)
	}

	snap := domain.OrderBookSnapshot{
		Symbol:    symbol,
		Mid:       mid,
		Bids:      make([]domain.OrderBookLevel, 0, s.cfg.Depth),
		Asks:      make([]domain.OrderBookLevel, 0, s.cfg.Depth),
		Timestamp: ts,
	}
	m := decimal.NewFromFloat(mid)

	var bidCum, askCum decimal.Decimal
	for i := 0; i < s.cfg.Depth; i++ {
		offset := s.tick.Mul(decimal.NewFromInt(int64(i + 1)))

		bid := m.Sub(offset).Round(s.places)
		if bid.IsPositive() {
			size := s.size()
			bidCum = bidCum.Add(size)
			snap.Bids = append(snap.Bids, level(bid, size, bidCum))
		}

		ask := m.Add(offset).Round(s.places)
		size := s.size()
		askCum = askCum.Add(size)
		snap.Asks = append(snap.Asks, level(ask, size, askCum))
	}
	return snap, nil
}

// size draws a level size rounded to four decimals.
func (s *Simulator) size() decimal.Decimal {
	v := s.src.Uniform(s.cfg.SizeMin, s.cfg.SizeMax)
	d := decimal.NewFromFloat(v).Round(4)
	if !d.IsPositive() {
		d = decimal.NewFromFloat(s.cfg.SizeMin)
	}
	return d
}

func level(price, size, cum decimal.Decimal) domain.OrderBookLevel {
	p, _ := price.Float64()
	sz, _ := size.Float64()
	c, _ := cum.Float64()
	return domain.OrderBookLevel{Price: p, Size: sz, CumulativeSize: c}
}

// Validate checks that snap is uncrossed, strictly ordered away from mid on
// both sides and carries consistent cumulative sizes.
func Validate(snap domain.OrderBookSnapshot) error {
	if sp := snap.Spread(); sp < 0 {
		return fmt.Errorf("book: %s spread %v: %w", snap.Symbol, sp, domain.ErrCrossedBook)
	}
	if err := validateSide(snap.Bids, func(prev, cur float64) bool { return cur < prev }); err != nil {
		return fmt.Errorf("book: %s bids: %w", snap.Symbol, err)
	}
	if err := validateSide(snap.Asks, func(prev, cur float64) bool { return cur > prev }); err != nil {
		return fmt.Errorf("book: %s asks: %w", snap.Symbol, err)
	}
	return nil
}

func validateSide(levels []domain.OrderBookLevel, ordered func(prev, cur float64) bool) error {
	var cum float64
	for i, l := range levels {
		if l.Price <= 0 || l.Size <= 0 {
			return fmt.Errorf("level %d non-positive: %w", i, domain.ErrCrossedBook)
		}
		if i > 0 && !ordered(levels[i-1].Price, l.Price) {
			return fmt.Errorf("level %d out of order: %w", i, domain.ErrCrossedBook)
		}
		cum += l.Size
		if math.Abs(cum-l.CumulativeSize) > 1e-6*math.Max(1, cum) {
			return fmt.Errorf("level %d cumulative %v, want %v: %w", i, l.CumulativeSize, cum, domain.ErrCrossedBook)
		}
	}
	return nil
}
