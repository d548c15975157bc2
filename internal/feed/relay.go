package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Valrob28/traderbrok/internal/domain"
	"github.com/Valrob28/traderbrok/internal/pricing"
	"github.com/Valrob28/traderbrok/internal/tape"
)

// Relay follows another instance's mirrored feed on the event bus and
// republishes it locally, so a replica can serve clients without running the
// simulation. Reads go to the mirrored caches.
type Relay struct {
	bus     domain.EventBus
	prices  domain.PriceCache
	books   domain.OrderbookCache
	pub     Publisher
	symbols []string
	logger  *slog.Logger

	capacity   int
	volatility float64
	floor      float64

	mu    sync.RWMutex
	rings map[string]*tape.Ring

	relayed  atomic.Uint64
	rejected atomic.Uint64
}

// RelayStats counts events taken off the bus.
type RelayStats struct {
	Relayed  uint64 `json:"relayed"`
	Rejected uint64 `json:"rejected"`
}

// Stats returns the relay counters.
func (r *Relay) Stats() RelayStats {
	return RelayStats{Relayed: r.relayed.Load(), Rejected: r.rejected.Load()}
}

// NewRelay creates a Relay for the given symbols.
func NewRelay(bus domain.EventBus, prices domain.PriceCache, books domain.OrderbookCache, pub Publisher, symbols []string, capacity int, logger *slog.Logger) *Relay {
	rings := make(map[string]*tape.Ring, len(symbols))
	for _, s := range symbols {
		rings[s] = tape.NewRing(capacity)
	}
	return &Relay{
		bus:        bus,
		prices:     prices,
		books:      books,
		pub:        pub,
		symbols:    append([]string(nil), symbols...),
		logger:     logger.With(slog.String("component", "relay")),
		capacity:   capacity,
		volatility: pricing.DefaultVolatility,
		floor:      pricing.DefaultFloor,
		rings:      rings,
	}
}

// Run subscribes to the mirrored channels and republishes every event until
// ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	events, err := r.bus.Subscribe(ctx, r.symbols...)
	if err != nil {
		return fmt.Errorf("feed: relay subscribe: %w", err)
	}
	r.logger.Info("relay started", slog.Int("markets", len(r.symbols)))
	defer r.logger.Info("relay stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := r.handleEvent(ev); err != nil {
				r.rejected.Add(1)
				r.logger.Debug("relay handle event failed",
					slog.String("symbol", ev.Symbol),
					slog.String("type", string(ev.Type)),
					slog.String("error", err.Error()),
				)
				continue
			}
			r.relayed.Add(1)
		}
	}
}

// PrimeTrades loads each market's stored trades into the local tape and
// publishes it. It returns how many markets had trades.
func (r *Relay) PrimeTrades(ctx context.Context) (int, error) {
	primed := 0
	for _, sym := range r.symbols {
		stored, err := r.bus.RecentTrades(ctx, sym, r.capacity)
		if err != nil {
			return primed, fmt.Errorf("feed: prime trades %s: %w", sym, err)
		}
		if len(stored) == 0 {
			continue
		}
		r.mergeTrades(sym, stored)
		primed++
	}
	return primed, nil
}

func (r *Relay) handleEvent(ev domain.MarketEvent) error {
	switch ev.Type {
	case domain.EventPrice:
		if ev.Market == nil {
			return fmt.Errorf("price event for %s without market", ev.Symbol)
		}
		r.pub.PublishMarket(*ev.Market)
	case domain.EventBook:
		if ev.Book == nil {
			return fmt.Errorf("book event for %s without book", ev.Symbol)
		}
		r.pub.PublishBook(*ev.Book)
	case domain.EventTrades:
		if !r.mergeTrades(ev.Symbol, ev.Trades) {
			return fmt.Errorf("trades for unknown market %s", ev.Symbol)
		}
	default:
		return fmt.Errorf("unknown event type %q", ev.Type)
	}
	return nil
}

// mergeTrades pushes the trades newer than the tape's latest, in Seq order,
// and republishes the tape. A batch that is entirely at or below the latest
// Seq and shares no id with the tape comes from a restarted primary; the tape
// is dropped and rebuilt from it. It reports false for an unknown market.
func (r *Relay) mergeTrades(symbol string, trades []domain.Trade) bool {
	ring := r.ring(symbol)
	if ring == nil {
		return false
	}
	ordered := append([]domain.Trade(nil), trades...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Seq < ordered[j].Seq })
	var last uint64
	if t, ok := ring.Latest(); ok {
		last = t.Seq
	}
	if len(ordered) > 0 && ordered[len(ordered)-1].Seq <= last && !sharesID(ring, ordered) {
		r.logger.Warn("trade sequence restarted, resetting tape",
			slog.String("symbol", symbol),
			slog.Uint64("last_seq", last),
			slog.Uint64("incoming_seq", ordered[len(ordered)-1].Seq),
		)
		ring.Reset()
		last = 0
	}
	for _, t := range ordered {
		if t.Seq > last {
			ring.Push(t)
			last = t.Seq
		}
	}
	r.pub.PublishTrades(symbol, ring.Recent())
	return true
}

func sharesID(ring *tape.Ring, trades []domain.Trade) bool {
	held := make(map[string]struct{}, ring.Len())
	for _, t := range ring.Recent() {
		held[t.ID] = struct{}{}
	}
	for _, t := range trades {
		if _, ok := held[t.ID]; ok {
			return true
		}
	}
	return false
}

func (r *Relay) ring(symbol string) *tape.Ring {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rings[symbol]
}

// Market reads symbol from the price cache.
func (r *Relay) Market(ctx context.Context, symbol string) (domain.Market, error) {
	if r.ring(symbol) == nil {
		return domain.Market{}, fmt.Errorf("feed: market %s: %w", symbol, domain.ErrNotFound)
	}
	m, err := r.prices.GetMarket(ctx, symbol)
	if err != nil {
		return domain.Market{}, fmt.Errorf("feed: market %s: %w", symbol, err)
	}
	return m, nil
}

// Markets reads every configured market that has been mirrored.
func (r *Relay) Markets(ctx context.Context) ([]domain.Market, error) {
	out := make([]domain.Market, 0, len(r.symbols))
	for _, s := range r.symbols {
		m, err := r.prices.GetMarket(ctx, s)
		if err != nil {
			r.logger.Debug("market not mirrored yet",
				slog.String("symbol", s),
				slog.String("error", err.Error()),
			)
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// Book reads symbol's ladder from the order-book cache.
func (r *Relay) Book(ctx context.Context, symbol string) (domain.OrderBookSnapshot, error) {
	snap, err := r.books.GetSnapshot(ctx, symbol)
	if err != nil {
		return domain.OrderBookSnapshot{}, fmt.Errorf("feed: book %s: %w", symbol, err)
	}
	return snap, nil
}

// Trades returns the relayed tape, newest first.
func (r *Relay) Trades(_ context.Context, symbol string, limit int) ([]domain.Trade, error) {
	ring := r.ring(symbol)
	if ring == nil {
		return nil, fmt.Errorf("feed: trades %s: %w", symbol, domain.ErrNotFound)
	}
	recent := ring.Recent()
	if limit > 0 && len(recent) > limit {
		recent = recent[:limit]
	}
	return recent, nil
}

// Candles draws chart history anchored on the mirrored price.
func (r *Relay) Candles(ctx context.Context, symbol string, interval time.Duration, n int) ([]domain.Candle, error) {
	m, err := r.Market(ctx, symbol)
	if err != nil {
		return nil, err
	}
	return CandleHistory(m, interval, n, time.Now(), r.volatility, r.floor)
}
