// Package registry holds the authoritative ticker state of every market.
package registry

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/Valrob28/traderbrok/internal/domain"
)

// Registry is keyed by symbol. The key set is fixed at construction. All
// accessors return copies.
type Registry struct {
	mu      sync.RWMutex
	markets map[string]*domain.Market
	order   []string
}

// New validates seeds and creates a Registry whose markets start at their
// seed values with LastUpdate set to now.
func New(seeds []domain.MarketSeed, now time.Time) (*Registry, error) {
	if len(seeds) == 0 {
		return nil, fmt.Errorf("registry: no markets: %w", domain.ErrInvalidConfig)
	}
	r := &Registry{
		markets: make(map[string]*domain.Market, len(seeds)),
		order:   make([]string, 0, len(seeds)),
	}
	var errs []error
	for i, s := range seeds {
		if err := validateSeed(s); err != nil {
			errs = append(errs, fmt.Errorf("markets[%d]: %w", i, err))
			continue
		}
		if _, dup := r.markets[s.Symbol]; dup {
			errs = append(errs, fmt.Errorf("markets[%d]: duplicate symbol %q", i, s.Symbol))
			continue
		}
		r.markets[s.Symbol] = &domain.Market{
			Symbol:     s.Symbol,
			Price:      s.Price,
			Change24h:  s.Change,
			Volume24h:  s.Volume,
			High24h:    s.High,
			Low24h:     s.Low,
			LastUpdate: now,
		}
		r.order = append(r.order, s.Symbol)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("registry: %w: %w", domain.ErrInvalidConfig, errors.Join(errs...))
	}
	return r, nil
}

func validateSeed(s domain.MarketSeed) error {
	switch {
	case s.Symbol == "":
		return errors.New("empty symbol")
	case !(s.Price > 0) || math.IsInf(s.Price, 0):
		return fmt.Errorf("%s: price must be > 0, got %v", s.Symbol, s.Price)
	case !(s.Volume > 0):
		return fmt.Errorf("%s: volume must be > 0, got %v", s.Symbol, s.Volume)
	case s.Low > s.Price || s.Price > s.High:
		return fmt.Errorf("%s: price %v outside [low %v, high %v]", s.Symbol, s.Price, s.Low, s.High)
	}
	return nil
}

// Get returns a copy of the market for symbol. ok is false for an unknown
// symbol.
func (r *Registry) Get(symbol string) (domain.Market, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.markets[symbol]
	if !ok {
		return domain.Market{}, false
	}
	return *m, true
}

// List returns copies of every market in seed order.
func (r *Registry) List() []domain.Market {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Market, 0, len(r.order))
	for _, sym := range r.order {
		out = append(out, *r.markets[sym])
	}
	return out
}

// Symbols returns the market keys in seed order.
func (r *Registry) Symbols() []string {
	return append([]string(nil), r.order...)
}

// Len returns the number of markets.
func (r *Registry) Len() int { return len(r.order) }

// ApplyPriceUpdate moves symbol to newPrice. The percent move is added to
// Change24h, High24h and Low24h widen to include newPrice, and LastUpdate
// advances to at unless that would move it backwards.
func (r *Registry) ApplyPriceUpdate(symbol string, newPrice float64, at time.Time) (domain.Market, error) {
	if !(newPrice > 0) || math.IsInf(newPrice, 0) {
		return domain.Market{}, fmt.Errorf("registry: update %s to %v: %w", symbol, newPrice, domain.ErrInvalidPrice)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.markets[symbol]
	if !ok {
		return domain.Market{}, fmt.Errorf("registry: update %s: %w", symbol, domain.ErrNotFound)
	}

	m.Change24h += (newPrice - m.Price) / m.Price * 100
	m.Price = newPrice
	m.High24h = math.Max(m.High24h, newPrice)
	m.Low24h = math.Min(m.Low24h, newPrice)
	if at.After(m.LastUpdate) {
		m.LastUpdate = at
	}
	return *m, nil
}

// ApplyVolumeFactor multiplies Volume24h by factor.
func (r *Registry) ApplyVolumeFactor(symbol string, factor float64) (domain.Market, error) {
	if !(factor > 0) || math.IsInf(factor, 0) {
		return domain.Market{}, fmt.Errorf("registry: volume factor %v for %s: %w", factor, symbol, domain.ErrInvalidConfig)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.markets[symbol]
	if !ok {
		return domain.Market{}, fmt.Errorf("registry: volume %s: %w", symbol, domain.ErrNotFound)
	}
	m.Volume24h *= factor
	return *m, nil
}
