// Package hub fans market state out to subscribers. Every subscription has its
// own delivery goroutine and a one-slot mailbox, so a slow subscriber only
// ever sees the latest state and never holds up the publisher.
package hub

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Valrob28/traderbrok/internal/domain"
)

// Handler receives updates for one subscription. ctx must be passed to
// Unsubscribe when a handler cancels its own subscription.
type Handler func(ctx context.Context, u Update)

// Options tunes the hub.
type Options struct {
	// DeliveryTimeout bounds the context handed to each handler call. Calls
	// that overrun it are logged as slow. Zero disables the deadline.
	DeliveryTimeout time.Duration
	// Known, when set, rejects subscriptions to symbols it reports false for.
	Known func(symbol string) bool
}

// Stats is a point-in-time view of hub activity.
type Stats struct {
	Subscriptions int    `json:"subscriptions"`
	Topics        int    `json:"topics"`
	Publishes     uint64 `json:"publishes"`
	Deliveries    uint64 `json:"deliveries"`
	Coalesced     uint64 `json:"coalesced"`
	Faults        uint64 `json:"faults"`
	Slow          uint64 `json:"slow"`
}

type topicKey struct {
	symbol  string
	channel Channel
}

// topic holds the latest published state for one (symbol, channel).
type topic struct {
	version uint64
	market  domain.Market
	book    domain.OrderBookSnapshot
	trades  []domain.Trade // newest first
	subs    map[*Subscription]struct{}
}

// Hub is safe for concurrent use.
type Hub struct {
	opts   Options
	logger *slog.Logger

	mu     sync.RWMutex
	topics map[topicKey]*topic
	closed bool

	publishes  atomic.Uint64
	deliveries atomic.Uint64
	coalesced  atomic.Uint64
	faults     atomic.Uint64
	slow       atomic.Uint64
}

// New creates an empty hub.
func New(logger *slog.Logger, opts Options) *Hub {
	return &Hub{
		opts:   opts,
		logger: logger.With(slog.String("component", "hub")),
		topics: make(map[topicKey]*topic),
	}
}

func (h *Hub) topicLocked(k topicKey) *topic {
	t, ok := h.topics[k]
	if !ok {
		t = &topic{subs: make(map[*Subscription]struct{})}
		h.topics[k] = t
	}
	return t
}

// Subscribe registers fn for updates on (symbol, ch). If the topic already
// has state, the first delivery is a snapshot of it; otherwise the snapshot
// follows the first publish.
func (h *Hub) Subscribe(symbol string, ch Channel, fn Handler) (*Subscription, error) {
	if _, err := ParseChannel(string(ch)); err != nil {
		return nil, err
	}
	if fn == nil {
		return nil, fmt.Errorf("hub: subscribe %s:%s: nil handler: %w", ch, symbol, domain.ErrInvalidConfig)
	}
	if h.opts.Known != nil && !h.opts.Known(symbol) {
		return nil, fmt.Errorf("hub: subscribe %s:%s: %w", ch, symbol, domain.ErrNotFound)
	}

	s := newSubscription(h, uuid.NewString(), symbol, ch, fn)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, fmt.Errorf("hub: subscribe %s:%s: hub closed", ch, symbol)
	}
	t := h.topicLocked(s.key())
	t.subs[s] = struct{}{}
	pending := t.version > 0
	h.mu.Unlock()

	go s.run()
	if pending {
		s.signal()
	}
	h.logger.Debug("subscribed",
		slog.String("subscription", s.ID),
		slog.String("symbol", symbol),
		slog.String("channel", string(ch)),
	)
	return s, nil
}

// Unsubscribe cancels s. Once it returns no handler call for s is running or
// will start, unless it is called from s's own handler with the handler's
// ctx, in which case it returns immediately and the current call is the last.
// If ctx ends while a call is still in flight, ctx.Err() is returned and that
// call may still be running; calling Unsubscribe again waits for it. Repeated
// calls are otherwise no-ops.
func (h *Hub) Unsubscribe(ctx context.Context, s *Subscription) error {
	if s == nil {
		return nil
	}
	h.mu.Lock()
	if t, ok := h.topics[s.key()]; ok {
		delete(t.subs, s)
	}
	h.mu.Unlock()

	if s.cancel() {
		h.logger.Debug("unsubscribed",
			slog.String("subscription", s.ID),
			slog.String("symbol", s.Symbol),
			slog.String("channel", string(s.Channel)),
		)
	}

	if self, _ := ctx.Value(deliveryKey{}).(*Subscription); self == s {
		return nil
	}
	select {
	case <-s.exited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PublishMarket records m as the latest price state of its market.
func (h *Hub) PublishMarket(m domain.Market) {
	h.publish(topicKey{m.Symbol, ChannelPrice}, func(t *topic) { t.market = m })
}

// PublishBook records snap as the latest book of its market.
func (h *Hub) PublishBook(snap domain.OrderBookSnapshot) {
	snap = snap.Clone()
	h.publish(topicKey{snap.Symbol, ChannelBook}, func(t *topic) { t.book = snap })
}

// PublishTrades records recent, newest first, as the trade tape of symbol.
func (h *Hub) PublishTrades(symbol string, recent []domain.Trade) {
	recent = append([]domain.Trade(nil), recent...)
	h.publish(topicKey{symbol, ChannelTrades}, func(t *topic) { t.trades = recent })
}

func (h *Hub) publish(k topicKey, set func(*topic)) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	t := h.topicLocked(k)
	set(t)
	t.version++
	subs := make([]*Subscription, 0, len(t.subs))
	for s := range t.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	h.publishes.Add(1)
	for _, s := range subs {
		if !s.signal() {
			h.coalesced.Add(1)
		}
	}
}

// state copies the latest state of k into an Update skeleton.
func (h *Hub) state(k topicKey) (version uint64, m domain.Market, b domain.OrderBookSnapshot, trades []domain.Trade) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	t, ok := h.topics[k]
	if !ok {
		return 0, domain.Market{}, domain.OrderBookSnapshot{}, nil
	}
	return t.version, t.market, t.book, t.trades
}

// Version returns the number of publishes seen on (symbol, ch).
func (h *Hub) Version(symbol string, ch Channel) uint64 {
	v, _, _, _ := h.state(topicKey{symbol, ch})
	return v
}

// Stats returns activity counters.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	subs := 0
	for _, t := range h.topics {
		subs += len(t.subs)
	}
	topics := len(h.topics)
	h.mu.RUnlock()

	return Stats{
		Subscriptions: subs,
		Topics:        topics,
		Publishes:     h.publishes.Load(),
		Deliveries:    h.deliveries.Load(),
		Coalesced:     h.coalesced.Load(),
		Faults:        h.faults.Load(),
		Slow:          h.slow.Load(),
	}
}

// Close cancels every subscription and waits for in-flight handlers, or for
// ctx to end. Publishes after Close are dropped.
func (h *Hub) Close(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	var all []*Subscription
	for _, t := range h.topics {
		for s := range t.subs {
			all = append(all, s)
		}
	}
	h.mu.Unlock()

	for _, s := range all {
		if err := h.Unsubscribe(ctx, s); err != nil {
			return fmt.Errorf("hub: close: %w", err)
		}
	}
	return nil
}
