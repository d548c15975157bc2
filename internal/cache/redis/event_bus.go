package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/redis/go-redis/v9"

	"github.com/Valrob28/traderbrok/internal/domain"
)

// tapeMaxLen caps each market's trade stream (XADD MAXLEN ~).
const tapeMaxLen int64 = 1000

// eventBuffer is the per-subscription delivery buffer.
const eventBuffer = 128

// EventBus implements domain.EventBus. Market events travel as JSON over
// Pub/Sub on the ch:{type}:{symbol} channels; trades are also appended to a
// capped stream per market.
type EventBus struct {
	rdb     *redis.Client
	dropped atomic.Uint64
}

// NewEventBus creates an EventBus backed by the given Client.
func NewEventBus(c *Client) *EventBus {
	return &EventBus{rdb: c.Underlying()}
}

// Publish announces ev on the channel of its type and symbol.
func (b *EventBus) Publish(ctx context.Context, ev domain.MarketEvent) error {
	if ev.Symbol == "" {
		return fmt.Errorf("redis: publish %s event without symbol: %w", ev.Type, domain.ErrInvalidChannel)
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("redis: encode %s event %s: %w", ev.Type, ev.Symbol, err)
	}
	channel := domain.EventChannel(ev.Type, ev.Symbol)
	if err := b.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe listens on every event channel of symbols, or on all markets
// when symbols is empty. Payloads that do not decode are counted and
// skipped. The returned channel closes when ctx ends.
func (b *EventBus) Subscribe(ctx context.Context, symbols ...string) (<-chan domain.MarketEvent, error) {
	var ps *redis.PubSub
	if len(symbols) == 0 {
		ps = b.rdb.PSubscribe(ctx, domain.EventPattern())
	} else {
		channels := make([]string, 0, len(symbols)*len(domain.EventTypes))
		for _, sym := range symbols {
			for _, t := range domain.EventTypes {
				channels = append(channels, domain.EventChannel(t, sym))
			}
		}
		ps = b.rdb.Subscribe(ctx, channels...)
	}

	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis: subscribe market events: %w", err)
	}

	out := make(chan domain.MarketEvent, eventBuffer)
	go b.pump(ctx, ps, out)
	return out, nil
}

func (b *EventBus) pump(ctx context.Context, ps *redis.PubSub, out chan<- domain.MarketEvent) {
	defer close(out)
	defer ps.Close()

	msgs := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var ev domain.MarketEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil || ev.Symbol == "" {
				b.dropped.Add(1)
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Dropped returns how many received payloads could not be decoded.
func (b *EventBus) Dropped() uint64 {
	return b.dropped.Load()
}

// AppendTrades adds trades to symbol's stream in one round trip.
func (b *EventBus) AppendTrades(ctx context.Context, symbol string, trades []domain.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	stream := domain.TradeStream(symbol)
	pipe := b.rdb.Pipeline()
	for _, t := range trades {
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("redis: encode trade %s: %w", t.ID, err)
		}
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: stream,
			MaxLen: tapeMaxLen,
			Approx: true,
			ID:     "*",
			Values: map[string]any{"seq": t.Seq, "trade": data},
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: append trades %s: %w", stream, err)
	}
	return nil
}

// RecentTrades reads the newest n trades of symbol, newest first. Entries
// that fail to decode are skipped.
func (b *EventBus) RecentTrades(ctx context.Context, symbol string, n int) ([]domain.Trade, error) {
	if n <= 0 {
		return nil, nil
	}
	stream := domain.TradeStream(symbol)
	entries, err := b.rdb.XRevRangeN(ctx, stream, "+", "-", int64(n)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: recent trades %s: %w", stream, err)
	}

	trades := make([]domain.Trade, 0, len(entries))
	for _, e := range entries {
		raw, ok := e.Values["trade"].(string)
		if !ok {
			continue
		}
		var t domain.Trade
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			continue
		}
		trades = append(trades, t)
	}
	return trades, nil
}

var _ domain.EventBus = (*EventBus)(nil)
