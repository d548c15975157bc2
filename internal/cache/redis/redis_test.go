package redis

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Valrob28/traderbrok/internal/domain"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := Wrap(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestNewPingsServer(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := New(context.Background(), ClientConfig{Addr: mr.Addr(), PoolSize: 2})
	require.NoError(t, err)
	require.NoError(t, c.Ping(context.Background()))
	assert.GreaterOrEqual(t, c.PoolStats().TotalConns, uint32(1))
	require.NoError(t, c.Close())

	mr.Close()
	_, err = New(context.Background(), ClientConfig{Addr: mr.Addr(), DialTimeout: 100 * time.Millisecond})
	require.Error(t, err)
	assert.Contains(t, err.Error(), mr.Addr())
}

func TestPriceCacheRoundTrip(t *testing.T) {
	c, _ := newTestClient(t)
	pc := NewPriceCache(c)
	ctx := context.Background()

	m := domain.Market{
		Symbol: "ETH-USD", Price: 2345.67, Change24h: 2.34, Volume24h: 1200,
		High24h: 2456.78, Low24h: 2234.56, LastUpdate: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, pc.SetMarket(ctx, m))

	got, err := pc.GetMarket(ctx, "ETH-USD")
	require.NoError(t, err)
	assert.Equal(t, m, got)

	_, err = pc.GetMarket(ctx, "DOGE-USD")
	require.ErrorIs(t, err, domain.ErrNotFound)

	prices, err := pc.GetPrices(ctx, []string{"ETH-USD", "DOGE-USD"})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"ETH-USD": 2345.67}, prices)
}

func TestOrderbookCacheRoundTrip(t *testing.T) {
	c, _ := newTestClient(t)
	oc := NewOrderbookCache(c)
	ctx := context.Background()

	snap := domain.OrderBookSnapshot{
		Symbol: "BTC-USD",
		Mid:    43250,
		Bids: []domain.OrderBookLevel{
			{Price: 43249.9, Size: 12.5, CumulativeSize: 12.5},
			{Price: 43249.8, Size: 20, CumulativeSize: 32.5},
		},
		Asks: []domain.OrderBookLevel{
			{Price: 43250.1, Size: 11, CumulativeSize: 11},
			{Price: 43250.2, Size: 30, CumulativeSize: 41},
		},
		Timestamp: time.Date(2025, 1, 1, 0, 0, 1, 0, time.UTC),
	}
	require.NoError(t, oc.SetSnapshot(ctx, snap))

	got, err := oc.GetSnapshot(ctx, "BTC-USD")
	require.NoError(t, err)
	assert.Equal(t, snap, got)

	bid, ask, err := oc.GetBBO(ctx, "BTC-USD")
	require.NoError(t, err)
	assert.Equal(t, 43249.9, bid)
	assert.Equal(t, 43250.1, ask)

	// A smaller ladder replaces the old one entirely.
	snap.Bids = snap.Bids[:1]
	snap.Asks = nil
	require.NoError(t, oc.SetSnapshot(ctx, snap))
	got, err = oc.GetSnapshot(ctx, "BTC-USD")
	require.NoError(t, err)
	assert.Len(t, got.Bids, 1)
	assert.Empty(t, got.Asks)

	_, err = oc.GetSnapshot(ctx, "ETH-USD")
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, _, err = oc.GetBBO(ctx, "ETH-USD")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRateLimiterFixedWindow(t *testing.T) {
	c, _ := newTestClient(t)
	rl := NewRateLimiter(c)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "client-a", 3, time.Second)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := rl.Allow(ctx, "client-a", 3, time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = rl.Allow(ctx, "client-b", 3, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	now = now.Add(time.Second)
	ok, err = rl.Allow(ctx, "client-a", 3, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = rl.Allow(ctx, "client-a", 0, time.Second)
	require.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestRateLimiterWaitHonoursContext(t *testing.T) {
	c, _ := newTestClient(t)
	rl := NewRateLimiter(c)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	require.NoError(t, rl.Wait(context.Background(), "k", 1, time.Minute))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := rl.Wait(ctx, "k", 1, time.Minute)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLockManager(t *testing.T) {
	c, mr := newTestClient(t)
	lm := NewLockManager(c, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()

	token, unlock, err := lm.Acquire(ctx, "simulator", time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	_, _, err = lm.Acquire(ctx, "simulator", time.Minute)
	require.ErrorIs(t, err, domain.ErrLockHeld)

	require.NoError(t, lm.Refresh(ctx, "simulator", token, time.Minute))
	require.ErrorIs(t, lm.Refresh(ctx, "simulator", "other", time.Minute), domain.ErrLockHeld)

	unlock()
	unlock()
	assert.False(t, mr.Exists("lock:simulator"))

	_, unlock, err = lm.Acquire(ctx, "simulator", time.Minute)
	require.NoError(t, err)
	unlock()
}

func TestLockManagerHoldReleasesOnCancel(t *testing.T) {
	c, mr := newTestClient(t)
	lm := NewLockManager(c, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	held := make(chan struct{})
	go func() { done <- lm.Hold(ctx, "simulator", 30*time.Millisecond, func() { close(held) }) }()

	<-held
	assert.True(t, mr.Exists("lock:simulator"))
	_, _, err := lm.Acquire(context.Background(), "simulator", time.Minute)
	require.ErrorIs(t, err, domain.ErrLockHeld)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	assert.False(t, mr.Exists("lock:simulator"))
}

func TestEventBusPubSub(t *testing.T) {
	c, _ := newTestClient(t)
	bus := NewEventBus(c)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	all, err := bus.Subscribe(ctx)
	require.NoError(t, err)
	eth, err := bus.Subscribe(ctx, "ETH-USD")
	require.NoError(t, err)

	require.NoError(t, c.Underlying().Publish(ctx, "ch:price:ETH-USD", "not json").Err())
	m := domain.Market{Symbol: "BTC-USD", Price: 43000}
	require.NoError(t, bus.Publish(ctx, domain.MarketEvent{Type: domain.EventPrice, Symbol: "BTC-USD", Market: &m}))
	require.NoError(t, bus.Publish(ctx, domain.MarketEvent{Type: domain.EventBook, Symbol: "ETH-USD", Version: 7}))

	recv := func(ch <-chan domain.MarketEvent) domain.MarketEvent {
		select {
		case ev := <-ch:
			return ev
		case <-time.After(time.Second):
			t.Fatal("no event received")
		}
		return domain.MarketEvent{}
	}

	ev := recv(all)
	assert.Equal(t, "BTC-USD", ev.Symbol)
	require.NotNil(t, ev.Market)
	assert.Equal(t, 43000.0, ev.Market.Price)
	assert.Equal(t, uint64(7), recv(all).Version)

	ev = recv(eth)
	assert.Equal(t, domain.EventBook, ev.Type)
	assert.Equal(t, "ETH-USD", ev.Symbol)
	assert.Equal(t, uint64(2), bus.Dropped())
}

func TestEventBusRejectsEventWithoutSymbol(t *testing.T) {
	c, _ := newTestClient(t)
	err := NewEventBus(c).Publish(context.Background(), domain.MarketEvent{Type: domain.EventPrice})
	require.ErrorIs(t, err, domain.ErrInvalidChannel)
}

func TestEventBusTradeStream(t *testing.T) {
	c, mr := newTestClient(t)
	bus := NewEventBus(c)
	ctx := context.Background()

	got, err := bus.RecentTrades(ctx, "ETH-USD", 10)
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, bus.AppendTrades(ctx, "ETH-USD", nil))
	assert.False(t, mr.Exists(domain.TradeStream("ETH-USD")))

	batch := []domain.Trade{
		{ID: "a", Seq: 1, Symbol: "ETH-USD", Price: 2345.6, Size: 1, Side: domain.SideBuy},
		{ID: "b", Seq: 2, Symbol: "ETH-USD", Price: 2345.7, Size: 2, Side: domain.SideSell},
		{ID: "c", Seq: 3, Symbol: "ETH-USD", Price: 2345.8, Size: 3, Side: domain.SideBuy},
	}
	require.NoError(t, bus.AppendTrades(ctx, "ETH-USD", batch))

	got, err = bus.RecentTrades(ctx, "ETH-USD", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].ID)
	assert.Equal(t, "b", got[1].ID)
	assert.Equal(t, domain.SideSell, got[1].Side)

	got, err = bus.RecentTrades(ctx, "ETH-USD", 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}
