package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/Valrob28/traderbrok/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes.
// Each market is stored at key "market:{symbol}" with fields "price" (for
// cheap multi-market price reads), "ts" (Unix nanoseconds of LastUpdate) and
// "data" (the full JSON record).
type PriceCache struct {
	rdb *redis.Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying()}
}

func marketKey(symbol string) string {
	return "market:" + symbol
}

// SetMarket stores the latest ticker state of a market.
func (pc *PriceCache) SetMarket(ctx context.Context, m domain.Market) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("redis: marshal market %s: %w", m.Symbol, err)
	}
	fields := map[string]interface{}{
		"price": strconv.FormatFloat(m.Price, 'f', -1, 64),
		"ts":    strconv.FormatInt(m.LastUpdate.UnixNano(), 10),
		"data":  data,
	}
	if err := pc.rdb.HSet(ctx, marketKey(m.Symbol), fields).Err(); err != nil {
		return fmt.Errorf("redis: set market %s: %w", m.Symbol, err)
	}
	return nil
}

// GetMarket retrieves the latest ticker state of a market.
// It returns domain.ErrNotFound when the key does not exist.
func (pc *PriceCache) GetMarket(ctx context.Context, symbol string) (domain.Market, error) {
	data, err := pc.rdb.HGet(ctx, marketKey(symbol), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("redis: get market %s: %w", symbol, err)
	}
	var m domain.Market
	if err := json.Unmarshal(data, &m); err != nil {
		return domain.Market{}, fmt.Errorf("redis: unmarshal market %s: %w", symbol, err)
	}
	return m, nil
}

// GetPrices retrieves the latest prices for multiple markets using a pipeline.
// Markets whose keys do not exist are silently omitted from the result map.
func (pc *PriceCache) GetPrices(ctx context.Context, symbols []string) (map[string]float64, error) {
	if len(symbols) == 0 {
		return map[string]float64{}, nil
	}

	pipe := pc.rdb.Pipeline()
	cmds := make(map[string]*redis.StringCmd, len(symbols))
	for _, s := range symbols {
		cmds[s] = pipe.HGet(ctx, marketKey(s), "price")
	}

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get prices pipeline: %w", err)
	}

	result := make(map[string]float64, len(symbols))
	for s, cmd := range cmds {
		priceStr, err := cmd.Result()
		if err != nil {
			continue
		}
		price, err := strconv.ParseFloat(priceStr, 64)
		if err != nil {
			continue
		}
		result[s] = price
	}

	return result, nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
