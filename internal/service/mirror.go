package service

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/Valrob28/traderbrok/internal/domain"
	"github.com/Valrob28/traderbrok/internal/hub"
)

// Hub is the subscription surface the services attach to.
type Hub interface {
	Subscribe(symbol string, ch hub.Channel, fn hub.Handler) (*hub.Subscription, error)
	Unsubscribe(ctx context.Context, s *hub.Subscription) error
}

// Mirror copies every published market, book and trade into the shared
// caches and announces it on the event bus, so other processes can follow
// the simulation.
type Mirror struct {
	hub        Hub
	priceCache domain.PriceCache
	bookCache  domain.OrderbookCache
	bus        domain.EventBus
	logger     *slog.Logger

	mu       sync.Mutex
	books    map[string]domain.OrderBookSnapshot
	streamed map[string]uint64
	subs     []*hub.Subscription
}

// NewMirror creates a Mirror with all required dependencies.
func NewMirror(
	h Hub,
	priceCache domain.PriceCache,
	bookCache domain.OrderbookCache,
	bus domain.EventBus,
	logger *slog.Logger,
) *Mirror {
	return &Mirror{
		hub:        h,
		priceCache: priceCache,
		bookCache:  bookCache,
		bus:        bus,
		logger:     logger.With(slog.String("component", "mirror")),
		books:      make(map[string]domain.OrderBookSnapshot),
		streamed:   make(map[string]uint64),
	}
}

// Start subscribes to every channel of each symbol.
func (m *Mirror) Start(symbols []string) error {
	for _, sym := range symbols {
		for _, ch := range hub.Channels {
			sub, err := m.hub.Subscribe(sym, ch, m.handle)
			if err != nil {
				return fmt.Errorf("mirror: subscribe %s:%s: %w", ch, sym, err)
			}
			m.mu.Lock()
			m.subs = append(m.subs, sub)
			m.mu.Unlock()
		}
	}
	m.logger.Info("mirror started", slog.Int("markets", len(symbols)))
	return nil
}

// Stop cancels every subscription.
func (m *Mirror) Stop(ctx context.Context) error {
	m.mu.Lock()
	subs := m.subs
	m.subs = nil
	m.mu.Unlock()

	for _, s := range subs {
		if err := m.hub.Unsubscribe(ctx, s); err != nil {
			return fmt.Errorf("mirror: stop: %w", err)
		}
	}
	return nil
}

func (m *Mirror) handle(ctx context.Context, u hub.Update) {
	var err error
	switch u.Channel {
	case hub.ChannelPrice:
		err = m.HandleMarket(ctx, u)
	case hub.ChannelBook:
		err = m.HandleBook(ctx, u)
	case hub.ChannelTrades:
		err = m.HandleTrades(ctx, u)
	}
	if err != nil {
		m.logger.WarnContext(ctx, "mirror update failed",
			slog.String("symbol", u.Symbol),
			slog.String("channel", string(u.Channel)),
			slog.String("error", err.Error()),
		)
	}
}

// HandleMarket stores the ticker in the price cache and publishes it.
func (m *Mirror) HandleMarket(ctx context.Context, u hub.Update) error {
	if u.Market == nil {
		return nil
	}
	if err := m.priceCache.SetMarket(ctx, *u.Market); err != nil {
		return fmt.Errorf("mirror: set market %q: %w", u.Symbol, err)
	}
	m.publish(ctx, domain.MarketEvent{
		Type:      domain.EventPrice,
		Symbol:    u.Symbol,
		Version:   u.Version,
		Market:    u.Market,
		Timestamp: u.Market.LastUpdate,
	})
	return nil
}

// HandleBook rebuilds the full ladder from a snapshot or delta, stores it in
// the order-book cache and publishes it.
func (m *Mirror) HandleBook(ctx context.Context, u hub.Update) error {
	m.mu.Lock()
	var snap domain.OrderBookSnapshot
	switch {
	case u.Book != nil:
		snap = u.Book.Clone()
	case u.Delta != nil:
		snap = u.Delta.Apply(m.books[u.Symbol])
	default:
		m.mu.Unlock()
		return nil
	}
	m.books[u.Symbol] = snap
	m.mu.Unlock()

	if err := m.bookCache.SetSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("mirror: set snapshot %q: %w", u.Symbol, err)
	}
	m.publish(ctx, domain.MarketEvent{
		Type:      domain.EventBook,
		Symbol:    u.Symbol,
		Version:   u.Version,
		Book:      &snap,
		Timestamp: snap.Timestamp,
	})
	return nil
}

// HandleTrades appends the trades not streamed yet to the market's durable
// stream, oldest first, and publishes the update.
func (m *Mirror) HandleTrades(ctx context.Context, u hub.Update) error {
	if len(u.Trades) == 0 {
		return nil
	}
	m.mu.Lock()
	last := m.streamed[u.Symbol]
	m.mu.Unlock()

	fresh := make([]domain.Trade, 0, len(u.Trades))
	for _, t := range u.Trades {
		if t.Seq > last {
			fresh = append(fresh, t)
		}
	}
	slices.SortFunc(fresh, func(a, b domain.Trade) int { return cmp.Compare(a.Seq, b.Seq) })
	if len(fresh) > 0 {
		if err := m.bus.AppendTrades(ctx, u.Symbol, fresh); err != nil {
			return fmt.Errorf("mirror: append trades %q: %w", u.Symbol, err)
		}
		m.mu.Lock()
		m.streamed[u.Symbol] = max(m.streamed[u.Symbol], fresh[len(fresh)-1].Seq)
		m.mu.Unlock()
	}
	m.publish(ctx, domain.MarketEvent{
		Type:      domain.EventTrades,
		Symbol:    u.Symbol,
		Version:   u.Version,
		Trades:    u.Trades,
		Timestamp: time.Now().UTC(),
	})
	return nil
}

func (m *Mirror) publish(ctx context.Context, ev domain.MarketEvent) {
	if err := m.bus.Publish(ctx, ev); err != nil {
		m.logger.WarnContext(ctx, "mirror: publish event failed",
			slog.String("symbol", ev.Symbol),
			slog.String("type", string(ev.Type)),
			slog.String("error", err.Error()),
		)
	}
}
