package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Valrob28/traderbrok/internal/domain"
	"github.com/Valrob28/traderbrok/internal/hub"
)

// Recorder persists every simulated trade to the trade store.
type Recorder struct {
	hub    Hub
	trades domain.TradeStore
	logger *slog.Logger

	mu      sync.Mutex
	lastSeq map[string]uint64
	subs    []*hub.Subscription

	inserted atomic.Uint64
	gaps     atomic.Uint64
}

// NewRecorder creates a Recorder.
func NewRecorder(h Hub, trades domain.TradeStore, logger *slog.Logger) *Recorder {
	return &Recorder{
		hub:     h,
		trades:  trades,
		logger:  logger.With(slog.String("component", "recorder")),
		lastSeq: make(map[string]uint64),
	}
}

// Start subscribes to the trades channel of each symbol.
func (r *Recorder) Start(symbols []string) error {
	for _, sym := range symbols {
		sub, err := r.hub.Subscribe(sym, hub.ChannelTrades, r.handle)
		if err != nil {
			return fmt.Errorf("recorder: subscribe %s: %w", sym, err)
		}
		r.mu.Lock()
		r.subs = append(r.subs, sub)
		r.mu.Unlock()
	}
	r.logger.Info("recorder started", slog.Int("markets", len(symbols)))
	return nil
}

// Stop cancels every subscription.
func (r *Recorder) Stop(ctx context.Context) error {
	r.mu.Lock()
	subs := r.subs
	r.subs = nil
	r.mu.Unlock()

	for _, s := range subs {
		if err := r.hub.Unsubscribe(ctx, s); err != nil {
			return fmt.Errorf("recorder: stop: %w", err)
		}
	}
	r.logger.Info("recorder stopped", slog.Uint64("inserted", r.inserted.Load()))
	return nil
}

func (r *Recorder) handle(ctx context.Context, u hub.Update) {
	if err := r.Ingest(ctx, u); err != nil {
		r.logger.WarnContext(ctx, "recorder ingest failed",
			slog.String("symbol", u.Symbol),
			slog.String("error", err.Error()),
		)
	}
}

// Ingest inserts the trades of u that have not been recorded yet. A resync
// snapshot that skips sequence numbers is logged as a gap.
func (r *Recorder) Ingest(ctx context.Context, u hub.Update) error {
	r.mu.Lock()
	last := r.lastSeq[u.Symbol]
	r.mu.Unlock()

	var fresh []domain.Trade
	var maxSeq, minSeq uint64
	for _, t := range u.Trades {
		if t.Seq <= last {
			continue
		}
		fresh = append(fresh, t)
		if t.Seq > maxSeq {
			maxSeq = t.Seq
		}
		if minSeq == 0 || t.Seq < minSeq {
			minSeq = t.Seq
		}
	}
	if len(fresh) == 0 {
		return nil
	}
	if u.Resync && last > 0 && minSeq > last+1 {
		r.gaps.Add(1)
		r.logger.WarnContext(ctx, "trade gap",
			slog.String("symbol", u.Symbol),
			slog.Uint64("from_seq", last+1),
			slog.Uint64("to_seq", minSeq-1),
		)
	}

	if err := r.trades.InsertBatch(ctx, fresh); err != nil {
		return fmt.Errorf("recorder: insert batch %q: %w", u.Symbol, err)
	}
	r.mu.Lock()
	if maxSeq > r.lastSeq[u.Symbol] {
		r.lastSeq[u.Symbol] = maxSeq
	}
	r.mu.Unlock()
	r.inserted.Add(uint64(len(fresh)))

	r.logger.DebugContext(ctx, "recorded trades",
		slog.String("symbol", u.Symbol),
		slog.Int("count", len(fresh)),
	)
	return nil
}

// Inserted returns the number of trades recorded so far.
func (r *Recorder) Inserted() uint64 { return r.inserted.Load() }

// Gaps returns the number of detected sequence gaps.
func (r *Recorder) Gaps() uint64 { return r.gaps.Load() }

// History returns persisted trades for symbol with pagination.
func (r *Recorder) History(ctx context.Context, symbol string, opts domain.ListOpts) ([]domain.Trade, error) {
	trades, err := r.trades.ListByMarket(ctx, symbol, opts)
	if err != nil {
		return nil, fmt.Errorf("recorder: list by market %q: %w", symbol, err)
	}
	return trades, nil
}

// LastRecorded returns the timestamp of the newest persisted trade of symbol.
func (r *Recorder) LastRecorded(ctx context.Context, symbol string) (time.Time, error) {
	ts, err := r.trades.GetLastTimestamp(ctx, symbol)
	if err != nil {
		return time.Time{}, fmt.Errorf("recorder: get last timestamp %q: %w", symbol, err)
	}
	return ts, nil
}

// LastSeq returns the highest persisted Seq of symbol.
func (r *Recorder) LastSeq(ctx context.Context, symbol string) (uint64, error) {
	seq, err := r.trades.LastSeq(ctx, symbol)
	if err != nil {
		return 0, fmt.Errorf("recorder: get last seq %q: %w", symbol, err)
	}
	return seq, nil
}
