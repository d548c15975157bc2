package app

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

	"github.com/Valrob28/traderbrok/internal/cache/redis"
	"github.com/Valrob28/traderbrok/internal/config"
	"github.com/Valrob28/traderbrok/internal/domain"
	"github.com/Valrob28/traderbrok/internal/server/handler"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// fastConfig runs every timer within a few milliseconds.
func fastConfig(mode string) *config.Config {
	cfg := config.Defaults()
	cfg.Mode = mode
	cfg.Seed = 7
	cfg.Feed = config.FeedConfig{
		PriceInterval: config.NewInterval(5*time.Millisecond, 10*time.Millisecond),
		BookInterval:  config.NewInterval(5*time.Millisecond, 10*time.Millisecond),
		TradeInterval: config.NewInterval(5*time.Millisecond, 10*time.Millisecond),
		MaxRebuilds:   3,
	}
	cfg.Markets = cfg.Markets[:2]
	return &cfg
}

func redisDeps(t *testing.T) (*Dependencies, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := redis.Wrap(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = c.Close() })
	return &Dependencies{
		PriceCache:  redis.NewPriceCache(c),
		BookCache:   redis.NewOrderbookCache(c),
		RateLimiter: redis.NewRateLimiter(c),
		LockManager: redis.NewLockManager(c, discard()),
		EventBus:    redis.NewEventBus(c),
		Checks:      map[string]handler.HealthCheck{"redis": c.Ping},
	}, mr
}

func TestFeedConfigMapsIntervals(t *testing.T) {
	cfg := config.Defaults()
	fc := feedConfig(&cfg)
	assert.Equal(t, 3*time.Second, fc.PriceInterval.Min)
	assert.Equal(t, 8*time.Second, fc.PriceInterval.Max)
	assert.Equal(t, cfg.Tape.Capacity, fc.TapeCapacity)
	require.NoError(t, fc.Validate())
}

func TestRunSimulateModeWithoutBackends(t *testing.T) {
	cfg := fastConfig("simulate")
	a := New(cfg, discard())
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := a.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSimulateModeMirrorsIntoRedis(t *testing.T) {
	cfg := fastConfig("simulate")
	cfg.Redis.Enabled = true
	deps, mr := redisDeps(t)
	a := New(cfg, discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.SimulateMode(ctx, deps) }()

	require.Eventually(t, func() bool {
		return mr.Exists("market:ETH-USD") && mr.Exists("market:BTC-USD")
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestLeaderLockHeldElsewhere(t *testing.T) {
	cfg := fastConfig("simulate")
	cfg.Redis.Enabled = true
	cfg.Redis.LeaderLock = true
	deps, _ := redisDeps(t)

	_, unlock, err := deps.LockManager.Acquire(context.Background(), leaderLockKey, time.Minute)
	require.NoError(t, err)
	defer unlock()

	a := New(cfg, discard())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err = a.SimulateMode(ctx, deps)
	require.ErrorIs(t, err, domain.ErrLockHeld)
}

func TestReplicaModeNeedsRedis(t *testing.T) {
	a := New(fastConfig("replica"), discard())
	err := a.ReplicaMode(context.Background(), &Dependencies{})
	require.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestRestartedFeedContinuesTradeSequence(t *testing.T) {
	cfg := fastConfig("simulate")
	cfg.Redis.Enabled = true
	deps, _ := redisDeps(t)
	ctx := context.Background()
	require.NoError(t, deps.EventBus.AppendTrades(ctx, "ETH-USD", []domain.Trade{
		{ID: "old", Seq: 500, Symbol: "ETH-USD", Price: 100, Size: 1, Side: domain.SideBuy, Timestamp: time.Now().UTC()},
	}))

	a := New(cfg, discard())
	sim, err := a.buildSimulation(ctx, deps)
	require.NoError(t, err)
	a.resumeSequences(ctx, sim, deps.EventBus, sim.reg.Symbols())
	assert.Equal(t, uint64(500), sim.gen.Seq("ETH-USD"))
	assert.Zero(t, sim.gen.Seq("BTC-USD"))

	require.NoError(t, sim.engine.Start(ctx))
	defer sim.engine.Stop(ctx)
	trades, err := sim.engine.Trades(ctx, "ETH-USD", 0)
	require.NoError(t, err)
	require.NotEmpty(t, trades)
	for _, tr := range trades {
		assert.Greater(t, tr.Seq, uint64(500))
		assert.NotEqual(t, "old", tr.ID)
	}
}
