package registry

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Valrob28/traderbrok/internal/domain"
)

var t0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func seeds() []domain.MarketSeed {
	return []domain.MarketSeed{
		{Symbol: "ETH-USD", Price: 2345.67, Change: 2.34, Volume: 1200, High: 2456.78, Low: 2234.56},
		{Symbol: "BTC-USD", Price: 43250.00, Change: -1.25, Volume: 2800, High: 44123.45, Low: 42567.89},
	}
}

func TestNewAndGet(t *testing.T) {
	r, err := New(seeds(), t0)
	require.NoError(t, err)

	m, ok := r.Get("ETH-USD")
	require.True(t, ok)
	assert.Equal(t, 2345.67, m.Price)
	assert.Equal(t, t0, m.LastUpdate)

	_, ok = r.Get("DOGE-USD")
	assert.False(t, ok)

	assert.Equal(t, []string{"ETH-USD", "BTC-USD"}, r.Symbols())
	assert.Len(t, r.List(), 2)
}

func TestNewRejectsInvalidSeeds(t *testing.T) {
	bad := append(seeds(), domain.MarketSeed{Symbol: "ETH-USD", Price: 1, Volume: 1, High: 2, Low: 0.5})
	_, err := New(bad, t0)
	require.ErrorIs(t, err, domain.ErrInvalidConfig)

	_, err = New([]domain.MarketSeed{{Symbol: "X", Price: 0, Volume: 1, High: 1, Low: 0}}, t0)
	require.ErrorIs(t, err, domain.ErrInvalidConfig)

	_, err = New([]domain.MarketSeed{{Symbol: "X", Price: 5, Volume: 1, High: 4, Low: 1}}, t0)
	require.ErrorIs(t, err, domain.ErrInvalidConfig)

	_, err = New(nil, t0)
	require.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestApplyPriceUpdateWidensRange(t *testing.T) {
	r, _ := New(seeds(), t0)

	m, err := r.ApplyPriceUpdate("ETH-USD", 2500, t0.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 2500.0, m.Price)
	assert.Equal(t, 2500.0, m.High24h)
	assert.Equal(t, 2234.56, m.Low24h)
	assert.InDelta(t, 2.34+(2500-2345.67)/2345.67*100, m.Change24h, 1e-9)
	assert.Equal(t, t0.Add(time.Second), m.LastUpdate)

	m, err = r.ApplyPriceUpdate("ETH-USD", 2200, t0.Add(2*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 2500.0, m.High24h)
	assert.Equal(t, 2200.0, m.Low24h)
}

func TestApplyPriceUpdateLastUpdateIsMonotonic(t *testing.T) {
	r, _ := New(seeds(), t0)
	_, _ = r.ApplyPriceUpdate("BTC-USD", 43300, t0.Add(5*time.Second))
	m, err := r.ApplyPriceUpdate("BTC-USD", 43310, t0.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, t0.Add(5*time.Second), m.LastUpdate)
}

func TestApplyPriceUpdateErrors(t *testing.T) {
	r, _ := New(seeds(), t0)

	_, err := r.ApplyPriceUpdate("DOGE-USD", 1, t0)
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = r.ApplyPriceUpdate("ETH-USD", 0, t0)
	require.ErrorIs(t, err, domain.ErrInvalidPrice)

	m, _ := r.Get("ETH-USD")
	assert.Equal(t, 2345.67, m.Price)
}

func TestApplyVolumeFactor(t *testing.T) {
	r, _ := New(seeds(), t0)
	m, err := r.ApplyVolumeFactor("ETH-USD", 1.05)
	require.NoError(t, err)
	assert.InDelta(t, 1260, m.Volume24h, 1e-9)

	_, err = r.ApplyVolumeFactor("ETH-USD", 0)
	require.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestReturnedMarketsAreCopies(t *testing.T) {
	r, _ := New(seeds(), t0)
	m, _ := r.Get("ETH-USD")
	m.Price = 1

	again, _ := r.Get("ETH-USD")
	assert.Equal(t, 2345.67, again.Price)
}

func TestConcurrentReadersSeeConsistentMarkets(t *testing.T) {
	r, _ := New(seeds(), t0)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p := 2345.67
		for i := 0; i < 1000; i++ {
			p *= 1.0001
			_, _ = r.ApplyPriceUpdate("ETH-USD", p, t0.Add(time.Duration(i)*time.Millisecond))
		}
	}()
	for i := 0; i < 1000; i++ {
		m, _ := r.Get("ETH-USD")
		require.LessOrEqual(t, m.Low24h, m.Price)
		require.LessOrEqual(t, m.Price, m.High24h)
	}
	wg.Wait()
}
