package hub

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Valrob28/traderbrok/internal/domain"
)

type deliveryKey struct{}

// State is the lifecycle stage of a subscription.
type State int32

const (
	// StateIdle is registered with no delivery made yet.
	StateIdle State = iota
	// StateActive has received at least one delivery.
	StateActive
	// StateCancelled is terminal.
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateCancelled:
		return "cancelled"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Subscription is one subscriber's interest in (Symbol, Channel).
type Subscription struct {
	ID      string
	Symbol  string
	Channel Channel

	hub     *Hub
	handler Handler
	dirty   chan struct{}
	done    chan struct{}
	exited  chan struct{}

	mu    sync.Mutex
	state State

	// Owned by the delivery goroutine.
	lastVersion uint64
	lastMarket  domain.Market
	lastBook    domain.OrderBookSnapshot
	lastSeq     uint64
}

func newSubscription(h *Hub, id, symbol string, ch Channel, fn Handler) *Subscription {
	return &Subscription{
		ID:      id,
		Symbol:  symbol,
		Channel: ch,
		hub:     h,
		handler: fn,
		dirty:   make(chan struct{}, 1),
		done:    make(chan struct{}),
		exited:  make(chan struct{}),
	}
}

func (s *Subscription) key() topicKey { return topicKey{s.Symbol, s.Channel} }

// State returns the current lifecycle stage.
func (s *Subscription) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// signal marks the subscription dirty. It returns false when an undelivered
// signal was already pending, i.e. the new state supersedes it.
func (s *Subscription) signal() bool {
	select {
	case s.dirty <- struct{}{}:
		return true
	default:
		return false
	}
}

// cancel moves to StateCancelled. It reports whether this call did so.
func (s *Subscription) cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateCancelled {
		return false
	}
	s.state = StateCancelled
	close(s.done)
	return true
}

func (s *Subscription) cancelled() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *Subscription) run() {
	defer close(s.exited)
	for {
		select {
		case <-s.done:
			return
		case <-s.dirty:
		}
		if s.cancelled() {
			return
		}
		u, ok := s.next()
		if !ok {
			continue
		}
		s.deliver(u)
	}
}

// next builds the update that brings the subscriber from its last delivered
// state to the topic's current state.
func (s *Subscription) next() (Update, bool) {
	version, m, b, trades := s.hub.state(s.key())
	if version == 0 || version == s.lastVersion {
		return Update{}, false
	}
	first := s.lastVersion == 0
	u := Update{Channel: s.Channel, Kind: KindDelta, Symbol: s.Symbol, Version: version}

	switch s.Channel {
	case ChannelPrice:
		mc := m
		u.Market = &mc
		if first {
			u.Kind = KindSnapshot
			u.Fields = FieldsAll
		} else {
			u.Fields = m.Diff(s.lastMarket)
		}
		s.lastMarket = m

	case ChannelBook:
		if first {
			u.Kind = KindSnapshot
			snap := b.Clone()
			u.Book = &snap
		} else {
			d := domain.DiffBook(s.lastBook, b)
			u.Delta = &d
		}
		s.lastBook = b

	case ChannelTrades:
		fresh, covered := since(trades, s.lastSeq)
		switch {
		case first || !covered:
			u.Kind = KindSnapshot
			u.Resync = !first
			u.Trades = append([]domain.Trade(nil), trades...)
		case len(fresh) == 0:
			s.lastVersion = version
			return Update{}, false
		default:
			u.Trades = fresh
		}
		if len(trades) > 0 {
			s.lastSeq = trades[0].Seq
		}
	}

	s.lastVersion = version
	return u, true
}

// since returns the trades in recent (newest first) with Seq > seq, oldest
// first. covered is false when the trade right after seq is no longer held.
func since(recent []domain.Trade, seq uint64) (out []domain.Trade, covered bool) {
	if len(recent) == 0 {
		return nil, true
	}
	if oldest := recent[len(recent)-1]; oldest.Seq > seq+1 {
		return nil, false
	}
	for i := len(recent) - 1; i >= 0; i-- {
		if recent[i].Seq > seq {
			out = append(out, recent[i])
		}
	}
	return out, true
}

func (s *Subscription) deliver(u Update) {
	h := s.hub
	ctx := context.WithValue(context.Background(), deliveryKey{}, s)
	if h.opts.DeliveryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opts.DeliveryTimeout)
		defer cancel()
	}

	s.mu.Lock()
	if s.state == StateIdle {
		s.state = StateActive
	}
	s.mu.Unlock()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			h.faults.Add(1)
			h.logger.Error("subscriber panic",
				slog.String("subscription", s.ID),
				slog.String("symbol", s.Symbol),
				slog.String("channel", string(s.Channel)),
				slog.String("error", fmt.Sprint(r)),
			)
			return
		}
		h.deliveries.Add(1)
		if h.opts.DeliveryTimeout > 0 {
			if elapsed := time.Since(start); elapsed > h.opts.DeliveryTimeout {
				h.slow.Add(1)
				h.logger.Warn("slow subscriber",
					slog.String("subscription", s.ID),
					slog.String("symbol", s.Symbol),
					slog.String("channel", string(s.Channel)),
					slog.Duration("elapsed", elapsed),
				)
			}
		}
	}()
	s.handler(ctx, u)
}

// FieldsAll marks every Market field as changed.
const FieldsAll = domain.FieldPrice | domain.FieldChange | domain.FieldVolume | domain.FieldHigh | domain.FieldLow
