package domain

import (
	"context"
	"time"
)

// PriceCache provides fast access to the latest ticker state.
type PriceCache interface {
	SetMarket(ctx context.Context, m Market) error
	GetMarket(ctx context.Context, symbol string) (Market, error)
	GetPrices(ctx context.Context, symbols []string) (map[string]float64, error)
}

// OrderbookCache stores the latest published book per market.
type OrderbookCache interface {
	SetSnapshot(ctx context.Context, snap OrderBookSnapshot) error
	GetSnapshot(ctx context.Context, symbol string) (OrderBookSnapshot, error)
	GetBBO(ctx context.Context, symbol string) (bestBid, bestAsk float64, err error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// EventBus carries mirrored market events between processes. Live events go
// over pub/sub; trades are also kept in a bounded per-market stream so a late
// follower can rebuild its tape.
type EventBus interface {
	Publish(ctx context.Context, ev MarketEvent) error
	// Subscribe delivers events for symbols, or for every market when none
	// are given, until ctx ends.
	Subscribe(ctx context.Context, symbols ...string) (<-chan MarketEvent, error)
	AppendTrades(ctx context.Context, symbol string, trades []Trade) error
	// RecentTrades returns up to n stored trades of symbol, newest first.
	RecentTrades(ctx context.Context, symbol string, n int) ([]Trade, error)
}

// LockManager provides distributed mutual exclusion.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, unlock func(), err error)
	Refresh(ctx context.Context, key, token string, ttl time.Duration) error
	// Hold keeps the lock until ctx ends; acquired, if set, runs once it is taken.
	Hold(ctx context.Context, key string, ttl time.Duration, acquired func()) error
}
