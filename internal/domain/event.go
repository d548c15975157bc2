package domain

import "time"

// EventType names the payload carried by a MarketEvent.
type EventType string

const (
	EventPrice  EventType = "price"
	EventBook   EventType = "book"
	EventTrades EventType = "trades"
)

// MarketEvent is the JSON envelope published on the event bus for each
// mirrored update. Exactly one of Market, Book or Trades is set.
type MarketEvent struct {
	Type      EventType          `json:"type"`
	Symbol    string             `json:"symbol"`
	Version   uint64             `json:"version"`
	Market    *Market            `json:"market,omitempty"`
	Book      *OrderBookSnapshot `json:"book,omitempty"`
	Trades    []Trade            `json:"trades,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

// EventTypes lists every event type in publish order.
var EventTypes = []EventType{EventPrice, EventBook, EventTrades}

const eventPrefix = "ch:"

// EventChannel returns the bus channel for events of type t on symbol.
func EventChannel(t EventType, symbol string) string {
	return eventPrefix + string(t) + ":" + symbol
}

// EventPattern matches the channel of every event type and market.
func EventPattern() string {
	return eventPrefix + "*"
}

// TradeStream returns the durable stream holding mirrored trades of symbol.
func TradeStream(symbol string) string {
	return "stream:trades:" + symbol
}
