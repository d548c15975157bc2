package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/Valrob28/traderbrok/internal/domain"
	"github.com/Valrob28/traderbrok/internal/pricing"
)

// MarketSource is the read side of the feed. The in-process engine and the
// Redis-backed relay both satisfy it.
type MarketSource interface {
	Market(ctx context.Context, symbol string) (domain.Market, error)
	Markets(ctx context.Context) ([]domain.Market, error)
	Book(ctx context.Context, symbol string) (domain.OrderBookSnapshot, error)
	Trades(ctx context.Context, symbol string, limit int) ([]domain.Trade, error)
	Candles(ctx context.Context, symbol string, interval time.Duration, n int) ([]domain.Candle, error)
}

// maxTradeLimit caps /trades; the tape never holds more than this.
const maxTradeLimit = 100

// MarketHandler serves market, book, trade and candle endpoints.
type MarketHandler struct {
	source MarketSource
	logger *slog.Logger
}

// NewMarketHandler creates a MarketHandler with the given source and logger.
func NewMarketHandler(source MarketSource, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{source: source, logger: logger}
}

type listMarketsResponse struct {
	Markets []domain.Market `json:"markets"`
	Total   int             `json:"total"`
}

// ListMarkets returns every market in seed order.
// GET /api/markets
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := h.source.Markets(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, "list markets", err)
		return
	}
	writeJSON(w, http.StatusOK, listMarketsResponse{Markets: markets, Total: len(markets)})
}

// GetMarket returns one market.
// GET /api/markets/{symbol}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	m, err := h.source.Market(r.Context(), pathParam(r, "symbol"))
	if err != nil {
		writeDomainError(w, r, h.logger, "get market", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

type bookResponse struct {
	domain.OrderBookSnapshot
	BestBid float64  `json:"best_bid"`
	BestAsk float64  `json:"best_ask"`
	Spread  *float64 `json:"spread"` // null when a side is empty
}

// GetBook returns the latest order book.
// GET /api/markets/{symbol}/book
func (h *MarketHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	snap, err := h.source.Book(r.Context(), pathParam(r, "symbol"))
	if err != nil {
		writeDomainError(w, r, h.logger, "get book", err)
		return
	}
	resp := bookResponse{OrderBookSnapshot: snap, BestBid: snap.BestBid(), BestAsk: snap.BestAsk()}
	if len(snap.Bids) > 0 && len(snap.Asks) > 0 {
		spread := snap.Spread()
		resp.Spread = &spread
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetTrades returns the recent tape, newest first.
// GET /api/markets/{symbol}/trades?limit=20
func (h *MarketHandler) GetTrades(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", maxTradeLimit, maxTradeLimit)
	trades, err := h.source.Trades(r.Context(), pathParam(r, "symbol"), limit)
	if err != nil {
		writeDomainError(w, r, h.logger, "get trades", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": trades})
}

// GetCandles returns synthetic chart history.
// GET /api/markets/{symbol}/candles?timeframe=1h&limit=50
func (h *MarketHandler) GetCandles(w http.ResponseWriter, r *http.Request) {
	tf := r.URL.Query().Get("timeframe")
	if tf == "" {
		tf = "1h"
	}
	interval, err := pricing.ParseTimeframe(tf)
	if err != nil {
		writeDomainError(w, r, h.logger, "get candles", err)
		return
	}
	n := queryInt(r, "limit", pricing.DefaultCandleCount, pricing.MaxCandleCount)

	symbol := pathParam(r, "symbol")
	candles, err := h.source.Candles(r.Context(), symbol, interval, n)
	if err != nil {
		writeDomainError(w, r, h.logger, "get candles", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"symbol":    symbol,
		"timeframe": tf,
		"candles":   candles,
	})
}
