package domain

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func book(bids, asks [][2]float64) OrderBookSnapshot {
	side := func(levels [][2]float64) []OrderBookLevel {
		out := make([]OrderBookLevel, len(levels))
		var cum float64
		for i, l := range levels {
			cum += l[1]
			out[i] = OrderBookLevel{Price: l[0], Size: l[1], CumulativeSize: cum}
		}
		return out
	}
	return OrderBookSnapshot{Symbol: "ETH-USD", Mid: 100, Bids: side(bids), Asks: side(asks)}
}

func TestSpread(t *testing.T) {
	b := book([][2]float64{{99.9, 1}}, [][2]float64{{100.1, 1}})
	assert.InDelta(t, 0.2, b.Spread(), 1e-9)
	assert.True(t, math.IsInf(OrderBookSnapshot{}.Spread(), 1))
}

func TestDiffBookThenApplyRoundTrips(t *testing.T) {
	prev := book(
		[][2]float64{{99.9, 1}, {99.8, 2}, {99.7, 3}},
		[][2]float64{{100.1, 1}, {100.2, 2}},
	)
	next := book(
		[][2]float64{{99.9, 4}, {99.8, 2}, {99.6, 1}},
		[][2]float64{{100.2, 2}, {100.3, 5}},
	)

	d := DiffBook(prev, next)
	assert.Equal(t, []LevelChange{{99.9, 4}, {99.6, 1}, {99.7, 0}}, d.Bids)
	assert.Equal(t, []LevelChange{{100.3, 5}, {100.1, 0}}, d.Asks)
	assert.Equal(t, next, d.Apply(prev))
}

func TestDiffBookIdenticalIsEmpty(t *testing.T) {
	b := book([][2]float64{{99.9, 1}}, [][2]float64{{100.1, 1}})
	assert.True(t, DiffBook(b, b.Clone()).Empty())
}

func TestMarketDiff(t *testing.T) {
	a := Market{Symbol: "ETH-USD", Price: 1, High24h: 2, Low24h: 0.5, Volume24h: 10}
	b := a
	b.Price = 1.5
	b.Volume24h = 11
	f := b.Diff(a)
	assert.True(t, f.Has(FieldPrice))
	assert.True(t, f.Has(FieldVolume))
	assert.False(t, f.Has(FieldHigh))
	assert.Equal(t, MarketField(0), a.Diff(a))
}

func TestEventChannel(t *testing.T) {
	assert.Equal(t, "ch:book:BTC-USD", EventChannel(EventBook, "BTC-USD"))
	assert.Equal(t, "ch:*", EventPattern())
	assert.Len(t, EventTypes, 3)
}
