// Package feed drives the simulation: clock callbacks tick prices, rebuild
// books and print trades, and every result is published to the hub.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/Valrob28/traderbrok/internal/book"
	"github.com/Valrob28/traderbrok/internal/clock"
	"github.com/Valrob28/traderbrok/internal/domain"
	"github.com/Valrob28/traderbrok/internal/pricing"
	"github.com/Valrob28/traderbrok/internal/registry"
	"github.com/Valrob28/traderbrok/internal/rng"
	"github.com/Valrob28/traderbrok/internal/tape"
)

// Publisher receives every state change the engine makes.
type Publisher interface {
	PublishMarket(m domain.Market)
	PublishBook(snap domain.OrderBookSnapshot)
	PublishTrades(symbol string, recent []domain.Trade)
}

// BookBuilder derives a ladder from a mid price.
type BookBuilder interface {
	Build(symbol string, mid float64, ts time.Time) (domain.OrderBookSnapshot, error)
}

// Config holds engine cadence and sizing.
type Config struct {
	PriceInterval clock.Interval
	BookInterval  clock.Interval
	TradeInterval clock.Interval
	// SweepInterval ticks every market at once. A zero Min disables it.
	SweepInterval clock.Interval
	TapeCapacity  int
	// MaxRebuilds bounds the attempts to produce an uncrossed book.
	MaxRebuilds int
}

// DefaultConfig returns the stock cadence.
func DefaultConfig() Config {
	return Config{
		PriceInterval: clock.Interval{Min: 3 * time.Second, Max: 8 * time.Second},
		BookInterval:  clock.Interval{Min: time.Second, Max: 1500 * time.Millisecond},
		TradeInterval: clock.Interval{Min: 2 * time.Second, Max: 2500 * time.Millisecond},
		SweepInterval: clock.Interval{Min: 2 * time.Second, Max: 5 * time.Second},
		TapeCapacity:  tape.DefaultCapacity,
		MaxRebuilds:   3,
	}
}

// Validate checks intervals and sizes.
func (c Config) Validate() error {
	var errs []error
	for name, iv := range map[string]clock.Interval{
		"price": c.PriceInterval,
		"book":  c.BookInterval,
		"trade": c.TradeInterval,
	} {
		if err := iv.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s interval: %w", name, err))
		}
	}
	if c.SweepInterval.Min != 0 {
		if err := c.SweepInterval.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("sweep interval: %w", err))
		}
	}
	if c.TapeCapacity <= 0 {
		errs = append(errs, fmt.Errorf("tape capacity must be > 0, got %d: %w", c.TapeCapacity, domain.ErrInvalidConfig))
	}
	if c.MaxRebuilds <= 0 {
		errs = append(errs, fmt.Errorf("max rebuilds must be > 0, got %d: %w", c.MaxRebuilds, domain.ErrInvalidConfig))
	}
	if len(errs) > 0 {
		return fmt.Errorf("feed: %w", errors.Join(errs...))
	}
	return nil
}

// Stats counts engine activity.
type Stats struct {
	Markets      int    `json:"markets"`
	Timers       int    `json:"timers"`
	Ticks        uint64 `json:"ticks"`
	Sweeps       uint64 `json:"sweeps"`
	BookBuilds   uint64 `json:"book_builds"`
	CrossedBooks uint64 `json:"crossed_books"`
	Trades       uint64 `json:"trades"`
	Errors       uint64 `json:"errors"`
}

// Engine owns the simulated state of every market. All mutation happens in
// clock callbacks; the read methods are safe from any goroutine.
type Engine struct {
	cfg    Config
	clk    clock.Clock
	reg    *registry.Registry
	model  *pricing.Model
	books  BookBuilder
	gen    *tape.Generator
	pub    Publisher
	logger *slog.Logger

	mu      sync.RWMutex
	latest  map[string]domain.OrderBookSnapshot
	rings   map[string]*tape.Ring
	handles []clock.Handle
	running bool

	ticks   atomic.Uint64
	sweeps  atomic.Uint64
	builds  atomic.Uint64
	crossed atomic.Uint64
	trades  atomic.Uint64
	errs    atomic.Uint64
}

// New wires an engine. Nothing runs until Start.
func New(cfg Config, clk clock.Clock, reg *registry.Registry, model *pricing.Model, books BookBuilder, gen *tape.Generator, pub Publisher, logger *slog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rings := make(map[string]*tape.Ring, reg.Len())
	for _, sym := range reg.Symbols() {
		rings[sym] = tape.NewRing(cfg.TapeCapacity)
	}
	return &Engine{
		cfg:    cfg,
		clk:    clk,
		reg:    reg,
		model:  model,
		books:  books,
		gen:    gen,
		pub:    pub,
		logger: logger.With(slog.String("component", "feed")),
		latest: make(map[string]domain.OrderBookSnapshot, reg.Len()),
		rings:  rings,
	}, nil
}

// Start publishes the initial state of every market, prefills each tape and
// schedules the timers. On error every timer scheduled so far is cancelled
// and Start may be retried.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("feed: start: already running")
	}
	e.running = true
	e.mu.Unlock()

	if err := e.start(); err != nil {
		e.Stop(ctx)
		return err
	}
	e.logger.Info("feed started",
		slog.Int("markets", e.reg.Len()),
		slog.Int("timers", e.Stats().Timers),
	)
	return nil
}

func (e *Engine) start() error {
	now := e.clk.Now()
	for _, m := range e.reg.List() {
		e.pub.PublishMarket(m)
		e.rebuildBook(m.Symbol, m.Price, now)
		if err := e.prefill(m.Symbol, m.Price, now); err != nil {
			return err
		}
	}

	for _, sym := range e.reg.Symbols() {
		if err := e.every(e.cfg.PriceInterval, func(ctx context.Context, now time.Time) { e.Tick(sym, now) }); err != nil {
			return err
		}
		if err := e.every(e.cfg.BookInterval, func(ctx context.Context, now time.Time) { e.refreshBook(sym, now) }); err != nil {
			return err
		}
		if err := e.every(e.cfg.TradeInterval, func(ctx context.Context, now time.Time) { e.Print(sym, now) }); err != nil {
			return err
		}
	}
	if e.cfg.SweepInterval.Min > 0 {
		if err := e.every(e.cfg.SweepInterval, func(ctx context.Context, now time.Time) { e.sweep(now) }); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) every(iv clock.Interval, fn clock.Func) error {
	h, err := e.clk.Schedule(iv.Min, iv.Max, fn)
	if err != nil {
		return fmt.Errorf("feed: schedule: %w", err)
	}
	e.mu.Lock()
	e.handles = append(e.handles, h)
	e.mu.Unlock()
	return nil
}

// Stop cancels every timer. When it returns no engine callback is running.
func (e *Engine) Stop(ctx context.Context) {
	e.mu.Lock()
	handles := e.handles
	e.handles = nil
	e.running = false
	e.mu.Unlock()

	for _, h := range handles {
		e.clk.Cancel(ctx, h)
	}
	e.logger.Info("feed stopped", slog.Int("timers", len(handles)))
}

// prefill seeds the tape with a full ring of trades spaced one trade interval
// apart, ending at now.
func (e *Engine) prefill(symbol string, mid float64, now time.Time) error {
	ring := e.ring(symbol)
	n := ring.Cap()
	for i := n - 1; i >= 0; i-- {
		t, err := e.gen.Next(symbol, mid, now.Add(-time.Duration(i)*e.cfg.TradeInterval.Min))
		if err != nil {
			return fmt.Errorf("feed: prefill %s: %w", symbol, err)
		}
		ring.Push(t)
	}
	e.trades.Add(uint64(n))
	e.pub.PublishTrades(symbol, ring.Recent())
	return nil
}

// Tick advances one market by a single price step and rebuilds its book
// around the new mid.
func (e *Engine) Tick(symbol string, now time.Time) {
	cur, ok := e.reg.Get(symbol)
	if !ok {
		e.fail("tick", symbol, domain.ErrNotFound)
		return
	}
	next, _ := e.model.Next(cur.Price)
	if _, err := e.reg.ApplyVolumeFactor(symbol, e.model.VolumeFactor()); err != nil {
		e.fail("volume", symbol, err)
		return
	}
	m, err := e.reg.ApplyPriceUpdate(symbol, next, now)
	if err != nil {
		e.fail("tick", symbol, err)
		return
	}
	e.ticks.Add(1)
	e.pub.PublishMarket(m)
	e.rebuildBook(symbol, m.Price, now)
}

func (e *Engine) sweep(now time.Time) {
	e.sweeps.Add(1)
	for _, sym := range e.reg.Symbols() {
		e.Tick(sym, now)
	}
}

func (e *Engine) refreshBook(symbol string, now time.Time) {
	m, ok := e.reg.Get(symbol)
	if !ok {
		e.fail("book", symbol, domain.ErrNotFound)
		return
	}
	e.rebuildBook(symbol, m.Price, now)
}

// rebuildBook builds and validates a new ladder, retrying a crossed result up
// to MaxRebuilds times. A book that never validates is not published and the
// previous one stays current.
func (e *Engine) rebuildBook(symbol string, mid float64, now time.Time) {
	for attempt := 1; attempt <= e.cfg.MaxRebuilds; attempt++ {
		snap, err := e.books.Build(symbol, mid, now)
		if err != nil {
			e.fail("book", symbol, err)
			return
		}
		e.builds.Add(1)
		if err := book.Validate(snap); err != nil {
			e.crossed.Add(1)
			e.logger.Warn("discarding invalid book",
				slog.String("symbol", symbol),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			continue
		}
		e.mu.Lock()
		e.latest[symbol] = snap
		e.mu.Unlock()
		e.pub.PublishBook(snap)
		return
	}
	e.errs.Add(1)
	e.logger.Error("book rebuild exhausted",
		slog.String("symbol", symbol),
		slog.Int("attempts", e.cfg.MaxRebuilds),
	)
}

// Print generates one trade at the current mid of symbol.
func (e *Engine) Print(symbol string, now time.Time) {
	m, ok := e.reg.Get(symbol)
	if !ok {
		e.fail("trade", symbol, domain.ErrNotFound)
		return
	}
	t, err := e.gen.Next(symbol, m.Price, now)
	if err != nil {
		e.fail("trade", symbol, err)
		return
	}
	ring := e.ring(symbol)
	ring.Push(t)
	e.trades.Add(1)
	e.pub.PublishTrades(symbol, ring.Recent())
}

func (e *Engine) ring(symbol string) *tape.Ring {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.rings[symbol]
}

func (e *Engine) fail(op, symbol string, err error) {
	e.errs.Add(1)
	e.logger.Error("feed "+op+" failed",
		slog.String("symbol", symbol),
		slog.String("error", err.Error()),
	)
}

// Market returns the current state of symbol.
func (e *Engine) Market(_ context.Context, symbol string) (domain.Market, error) {
	m, ok := e.reg.Get(symbol)
	if !ok {
		return domain.Market{}, fmt.Errorf("feed: market %s: %w", symbol, domain.ErrNotFound)
	}
	return m, nil
}

// Markets returns every market in seed order.
func (e *Engine) Markets(_ context.Context) ([]domain.Market, error) {
	return e.reg.List(), nil
}

// Book returns the latest published book of symbol.
func (e *Engine) Book(_ context.Context, symbol string) (domain.OrderBookSnapshot, error) {
	e.mu.RLock()
	snap, ok := e.latest[symbol]
	e.mu.RUnlock()
	if !ok {
		return domain.OrderBookSnapshot{}, fmt.Errorf("feed: book %s: %w", symbol, domain.ErrNotFound)
	}
	return snap.Clone(), nil
}

// Trades returns up to limit recent trades of symbol, newest first. A
// non-positive limit returns the whole tape.
func (e *Engine) Trades(_ context.Context, symbol string, limit int) ([]domain.Trade, error) {
	ring := e.ring(symbol)
	if ring == nil {
		return nil, fmt.Errorf("feed: trades %s: %w", symbol, domain.ErrNotFound)
	}
	recent := ring.Recent()
	if limit > 0 && len(recent) > limit {
		recent = recent[:limit]
	}
	return recent, nil
}

// Candles returns n bars of chart history for symbol anchored on its current
// price. The history is stable for the lifetime of the newest bar.
func (e *Engine) Candles(ctx context.Context, symbol string, interval time.Duration, n int) ([]domain.Candle, error) {
	m, err := e.Market(ctx, symbol)
	if err != nil {
		return nil, err
	}
	return CandleHistory(m, interval, n, e.clk.Now(), e.model.Volatility(), e.model.Floor())
}

// CandleHistory draws chart history from a source seeded by the symbol and
// the open time of the newest bar, so repeated requests agree.
func CandleHistory(m domain.Market, interval time.Duration, n int, now time.Time, volatility, floor float64) ([]domain.Candle, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("feed: candles interval %s: %w", interval, domain.ErrInvalidConfig)
	}
	seed := int64(xxhash.Sum64String(m.Symbol) ^ uint64(now.Truncate(interval).Unix()))
	if seed == 0 {
		seed = 1
	}
	model, err := pricing.New(rng.New(seed), volatility, floor)
	if err != nil {
		return nil, fmt.Errorf("feed: candles: %w", err)
	}
	return model.Candles(m.Price, n, interval, now)
}

// Stats returns activity counters.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	timers := len(e.handles)
	e.mu.RUnlock()
	return Stats{
		Markets:      e.reg.Len(),
		Timers:       timers,
		Ticks:        e.ticks.Load(),
		Sweeps:       e.sweeps.Load(),
		BookBuilds:   e.builds.Load(),
		CrossedBooks: e.crossed.Load(),
		Trades:       e.trades.Load(),
		Errors:       e.errs.Load(),
	}
}
