package domain

import (
	"math"
	"sort"
	"time"
)

// OrderBookLevel is one rung of a synthetic depth ladder.
type OrderBookLevel struct {
	Price          float64 `json:"price"`
	Size           float64 `json:"size"`
	CumulativeSize float64 `json:"cumulative_size"`
}

// OrderBookSnapshot is a full two-sided ladder derived from a mid price.
// Bids are ordered by descending price, asks by ascending price.
type OrderBookSnapshot struct {
	Symbol    string           `json:"symbol"`
	Mid       float64          `json:"mid"`
	Bids      []OrderBookLevel `json:"bids"`
	Asks      []OrderBookLevel `json:"asks"`
	Timestamp time.Time        `json:"timestamp"`
}

// Spread returns best ask minus best bid. It is +Inf when either side is
// empty ("no market").
func (s OrderBookSnapshot) Spread() float64 {
	if len(s.Bids) == 0 || len(s.Asks) == 0 {
		return math.Inf(1)
	}
	return s.Asks[0].Price - s.Bids[0].Price
}

// BestBid returns the top bid price, or 0 when there are no bids.
func (s OrderBookSnapshot) BestBid() float64 {
	if len(s.Bids) == 0 {
		return 0
	}
	return s.Bids[0].Price
}

// BestAsk returns the top ask price, or 0 when there are no asks.
func (s OrderBookSnapshot) BestAsk() float64 {
	if len(s.Asks) == 0 {
		return 0
	}
	return s.Asks[0].Price
}

// Clone returns a deep copy so callers never share level slices.
func (s OrderBookSnapshot) Clone() OrderBookSnapshot {
	out := s
	out.Bids = append([]OrderBookLevel(nil), s.Bids...)
	out.Asks = append([]OrderBookLevel(nil), s.Asks...)
	return out
}

// LevelChange is an incremental level update. Size 0 means the level was removed.
type LevelChange struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// BookDelta is the difference between two snapshots of the same book.
type BookDelta struct {
	Symbol    string        `json:"symbol"`
	Mid       float64       `json:"mid"`
	Bids      []LevelChange `json:"bids"`
	Asks      []LevelChange `json:"asks"`
	Timestamp time.Time     `json:"timestamp"`
}

// Empty reports whether the delta carries no level changes.
func (d BookDelta) Empty() bool {
	return len(d.Bids) == 0 && len(d.Asks) == 0
}

// DiffBook computes the level changes that turn prev into next.
func DiffBook(prev, next OrderBookSnapshot) BookDelta {
	return BookDelta{
		Symbol:    next.Symbol,
		Mid:       next.Mid,
		Bids:      diffSide(prev.Bids, next.Bids),
		Asks:      diffSide(prev.Asks, next.Asks),
		Timestamp: next.Timestamp,
	}
}

func diffSide(prev, next []OrderBookLevel) []LevelChange {
	old := make(map[float64]float64, len(prev))
	for _, l := range prev {
		old[l.Price] = l.Size
	}
	var changes []LevelChange
	for _, l := range next {
		size, ok := old[l.Price]
		if !ok || size != l.Size {
			changes = append(changes, LevelChange{Price: l.Price, Size: l.Size})
		}
		delete(old, l.Price)
	}
	// Removed levels, emitted in the previous ladder order.
	for _, l := range prev {
		if _, ok := old[l.Price]; ok {
			changes = append(changes, LevelChange{Price: l.Price, Size: 0})
		}
	}
	return changes
}

// Apply patches prev with d and returns the resulting snapshot. Cumulative
// sizes are recomputed from the patched levels.
func (d BookDelta) Apply(prev OrderBookSnapshot) OrderBookSnapshot {
	return OrderBookSnapshot{
		Symbol:    d.Symbol,
		Mid:       d.Mid,
		Bids:      applySide(prev.Bids, d.Bids, func(a, b float64) bool { return a > b }),
		Asks:      applySide(prev.Asks, d.Asks, func(a, b float64) bool { return a < b }),
		Timestamp: d.Timestamp,
	}
}

func applySide(prev []OrderBookLevel, changes []LevelChange, better func(a, b float64) bool) []OrderBookLevel {
	sizes := make(map[float64]float64, len(prev)+len(changes))
	for _, l := range prev {
		sizes[l.Price] = l.Size
	}
	for _, c := range changes {
		if c.Size <= 0 {
			delete(sizes, c.Price)
			continue
		}
		sizes[c.Price] = c.Size
	}
	out := make([]OrderBookLevel, 0, len(sizes))
	for p, s := range sizes {
		out = append(out, OrderBookLevel{Price: p, Size: s})
	}
	sort.Slice(out, func(i, j int) bool { return better(out[i].Price, out[j].Price) })
	var cum float64
	for i := range out {
		cum += out[i].Size
		out[i].CumulativeSize = cum
	}
	return out
}
