// Package tape generates the synthetic executed-trade stream and keeps the
// bounded per-market history.
package tape

import (
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Valrob28/traderbrok/internal/domain"
	"github.com/Valrob28/traderbrok/internal/rng"
)

const (
	DefaultJitter  = 0.01
	DefaultSizeMin = 0.1
	DefaultSizeMax = 5.1
)

// Config controls trade generation.
type Config struct {
	Jitter  float64
	SizeMin float64
	SizeMax float64
}

// DefaultConfig prices trades within ±0.5% of mid with sizes in [0.1, 5.1).
func DefaultConfig() Config {
	return Config{Jitter: DefaultJitter, SizeMin: DefaultSizeMin, SizeMax: DefaultSizeMax}
}

// Validate checks the generator parameters.
func (c Config) Validate() error {
	switch {
	case c.Jitter < 0 || c.Jitter >= 2 || math.IsNaN(c.Jitter):
		return fmt.Errorf("tape: jitter %v outside [0, 2): %w", c.Jitter, domain.ErrInvalidConfig)
	case c.SizeMin <= 0:
		return fmt.Errorf("tape: size min must be > 0, got %v: %w", c.SizeMin, domain.ErrInvalidConfig)
	case c.SizeMin > c.SizeMax:
		return fmt.Errorf("tape: size min %v above size max %v: %w", c.SizeMin, c.SizeMax, domain.ErrInvalidConfig)
	}
	return nil
}

// Generator draws trades. Sequence numbers are tracked per market.
type Generator struct {
	cfg Config
	src rng.Source
	ids io.Reader
	run uuid.UUID

	mu  sync.Mutex
	seq map[string]uint64
}

// NewGenerator validates cfg and returns a Generator. Trade ids are UUIDs read
// from src, so a seeded source reproduces ids too.
func NewGenerator(cfg Config, src rng.Source) (*Generator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Generator{cfg: cfg, src: src, ids: src, seq: make(map[string]uint64)}, nil
}

// Config returns the generator parameters.
func (g *Generator) Config() Config { return g.cfg }

// SetRun derives every later trade id from run and the seeded draw, so two
// processes sharing a seed still produce distinct ids. Call before Next.
func (g *Generator) SetRun(run uuid.UUID) { g.run = run }

// SetSeq resumes symbol's sequence after n. It never moves a sequence back.
func (g *Generator) SetSeq(symbol string, n uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if n > g.seq[symbol] {
		g.seq[symbol] = n
	}
}

// Seq returns the last sequence number handed out for symbol.
func (g *Generator) Seq(symbol string) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.seq[symbol]
}

// Next draws one trade around mid using the configured jitter.
func (g *Generator) Next(symbol string, mid float64, ts time.Time) (domain.Trade, error) {
	return g.NextWithJitter(symbol, mid, g.cfg.Jitter, ts)
}

// NextWithJitter draws price = mid + mid*jitter*U(-0.5, 0.5), a uniform size
// and a side independent of price direction.
func (g *Generator) NextWithJitter(symbol string, mid, jitter float64, ts time.Time) (domain.Trade, error) {
	if mid <= 0 || math.IsNaN(mid) {
		return domain.Trade{}, fmt.Errorf("tape: trade %s at mid %v: %w", symbol, mid, domain.ErrInvalidPrice)
	}

	price := mid + mid*jitter*g.src.Uniform(-0.5, 0.5)
	size := g.src.Uniform(g.cfg.SizeMin, g.cfg.SizeMax)
	side := domain.SideSell
	if g.src.Bool() {
		side = domain.SideBuy
	}
	id, err := uuid.NewRandomFromReader(g.ids)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("tape: trade id: %w", err)
	}
	if g.run != uuid.Nil {
		id = uuid.NewSHA1(g.run, id[:])
	}

	rounded := roundTo(size, 4)
	if rounded <= 0 {
		rounded = size
	}

	g.mu.Lock()
	g.seq[symbol]++
	seq := g.seq[symbol]
	g.mu.Unlock()

	return domain.Trade{
		ID:        id.String(),
		Seq:       seq,
		Symbol:    symbol,
		Price:     roundTo(price, 8),
		Size:      rounded,
		Side:      side,
		Timestamp: ts,
	}, nil
}

func roundTo(v float64, places int32) float64 {
	f, _ := decimal.NewFromFloat(v).Round(places).Float64()
	return f
}
