package domain

import "time"

// Market is the authoritative ticker state of one perpetual market.
type Market struct {
	Symbol     string    `json:"symbol"`
	Price      float64   `json:"price"`
	Change24h  float64   `json:"change_24h"` // signed percent, accumulated per tick
	Volume24h  float64   `json:"volume_24h"` // millions of quote units
	High24h    float64   `json:"high_24h"`
	Low24h     float64   `json:"low_24h"`
	LastUpdate time.Time `json:"last_update"`
}

// MarketSeed is the static initial state of a market, supplied by config.
type MarketSeed struct {
	Symbol string
	Price  float64
	Change float64
	Volume float64
	High   float64
	Low    float64
}

// MarketField identifies a mutable Market field in a delta.
type MarketField uint8

const (
	FieldPrice MarketField = 1 << iota
	FieldChange
	FieldVolume
	FieldHigh
	FieldLow
)

// Has reports whether f contains all bits of other.
func (f MarketField) Has(other MarketField) bool {
	return f&other == other
}

// Diff returns the set of fields that differ between prev and next.
func (m Market) Diff(prev Market) MarketField {
	var f MarketField
	if m.Price != prev.Price {
		f |= FieldPrice
	}
	if m.Change24h != prev.Change24h {
		f |= FieldChange
	}
	if m.Volume24h != prev.Volume24h {
		f |= FieldVolume
	}
	if m.High24h != prev.High24h {
		f |= FieldHigh
	}
	if m.Low24h != prev.Low24h {
		f |= FieldLow
	}
	return f
}
