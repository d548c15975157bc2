package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Valrob28/traderbrok/internal/book"
	"github.com/Valrob28/traderbrok/internal/clock"
	"github.com/Valrob28/traderbrok/internal/domain"
	"github.com/Valrob28/traderbrok/internal/feed"
	"github.com/Valrob28/traderbrok/internal/hub"
	"github.com/Valrob28/traderbrok/internal/pricing"
	"github.com/Valrob28/traderbrok/internal/registry"
	"github.com/Valrob28/traderbrok/internal/rng"
	"github.com/Valrob28/traderbrok/internal/server/handler"
	"github.com/Valrob28/traderbrok/internal/tape"
)

var epoch = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakeHistory struct {
	opts domain.ListOpts
}

func (f *fakeHistory) History(_ context.Context, symbol string, opts domain.ListOpts) ([]domain.Trade, error) {
	f.opts = opts
	if symbol != "ETH-USD" {
		return nil, domain.ErrNotFound
	}
	return []domain.Trade{{ID: "t1", Seq: 1, Symbol: symbol, Price: 2345.6, Size: 1, Side: domain.SideBuy}}, nil
}

func newTestServer(t *testing.T, checks map[string]handler.HealthCheck) (*httptest.Server, *fakeHistory) {
	t.Helper()
	src := rng.New(42)
	clk := clock.NewManual(epoch, src)
	reg, err := registry.New([]domain.MarketSeed{
		{Symbol: "ETH-USD", Price: 2345.67, Change: 2.34, Volume: 1200, High: 2456.78, Low: 2234.56},
		{Symbol: "BTC-USD", Price: 43250, Change: -1.25, Volume: 2800, High: 44123.45, Low: 42567.89},
	}, epoch)
	require.NoError(t, err)
	model, err := pricing.New(src, pricing.DefaultVolatility, pricing.DefaultFloor)
	require.NoError(t, err)
	sim, err := book.New(book.DefaultConfig(), src)
	require.NoError(t, err)
	gen, err := tape.NewGenerator(tape.DefaultConfig(), src)
	require.NoError(t, err)

	h := hub.New(discard(), hub.Options{})
	eng, err := feed.New(feed.DefaultConfig(), clk, reg, model, sim, gen, h, discard())
	require.NoError(t, err)
	require.NoError(t, eng.Start(context.Background()))

	hist := &fakeHistory{}
	handlers := Handlers{
		Health:  handler.NewHealthHandler(checks, discard()),
		Markets: handler.NewMarketHandler(eng, discard()),
		History: handler.NewHistoryHandler(hist, discard()),
		Stats: handler.NewStatsHandler("serve", epoch, map[string]func() any{
			"feed": func() any { return eng.Stats() },
			"hub":  func() any { return h.Stats() },
		}),
	}
	srv := httptest.NewServer(Routes(handlers, nil))
	t.Cleanup(func() {
		srv.Close()
		eng.Stop(context.Background())
		_ = h.Close(context.Background())
	})
	return srv, hist
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, map[string]handler.HealthCheck{
		"redis": func(context.Context) error { return nil },
	})
	var body map[string]any
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/health", &body))
	assert.Equal(t, "ok", body["status"])
}

func TestHealth_Degraded(t *testing.T) {
	srv, _ := newTestServer(t, map[string]handler.HealthCheck{
		"postgres": func(context.Context) error { return errors.New("connection refused") },
	})
	var body map[string]any
	assert.Equal(t, http.StatusServiceUnavailable, getJSON(t, srv.URL+"/api/health", &body))
	assert.Equal(t, "degraded", body["status"])
}

func TestListAndGetMarket(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	var list struct {
		Markets []domain.Market `json:"markets"`
		Total   int             `json:"total"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/markets", &list))
	assert.Equal(t, 2, list.Total)
	assert.Equal(t, "ETH-USD", list.Markets[0].Symbol)

	var m domain.Market
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/markets/BTC-USD", &m))
	assert.Equal(t, 43250.0, m.Price)

	var errBody map[string]string
	assert.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/api/markets/DOGE-USD", &errBody))
	assert.Contains(t, errBody["error"], "not found")
}

func TestGetBook(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	var b struct {
		Symbol  string                  `json:"symbol"`
		Bids    []domain.OrderBookLevel `json:"bids"`
		Asks    []domain.OrderBookLevel `json:"asks"`
		BestBid float64                 `json:"best_bid"`
		BestAsk float64                 `json:"best_ask"`
		Spread  *float64                `json:"spread"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/markets/ETH-USD/book", &b))
	assert.Len(t, b.Bids, 10)
	assert.Len(t, b.Asks, 10)
	require.NotNil(t, b.Spread)
	assert.InDelta(t, 0.2, *b.Spread, 1e-9)
	assert.Less(t, b.BestBid, b.BestAsk)
}

func TestGetTrades(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	var body struct {
		Trades []domain.Trade `json:"trades"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/markets/ETH-USD/trades?limit=5", &body))
	require.Len(t, body.Trades, 5)
	assert.Greater(t, body.Trades[0].Seq, body.Trades[1].Seq)
}

func TestGetCandles(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	var body struct {
		Timeframe string          `json:"timeframe"`
		Candles   []domain.Candle `json:"candles"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/markets/ETH-USD/candles?timeframe=15m&limit=20", &body))
	assert.Equal(t, "15m", body.Timeframe)
	assert.Len(t, body.Candles, 20)

	assert.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/api/markets/ETH-USD/candles?timeframe=7m", nil))
}

func TestHistory(t *testing.T) {
	srv, hist := newTestServer(t, nil)

	var body struct {
		Trades []domain.Trade `json:"trades"`
		Limit  int            `json:"limit"`
	}
	url := srv.URL + "/api/markets/ETH-USD/trades/history?limit=10&since=2024-06-01T00:00:00Z"
	require.Equal(t, http.StatusOK, getJSON(t, url, &body))
	assert.Len(t, body.Trades, 1)
	assert.Equal(t, 10, body.Limit)
	require.NotNil(t, hist.opts.Since)
	assert.Equal(t, 2024, hist.opts.Since.Year())

	assert.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/api/markets/XRP/trades/history", nil))
}

func TestStats(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	var body map[string]any
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/stats", &body))
	assert.Equal(t, "serve", body["mode"])
	feedStats := body["feed"].(map[string]any)
	assert.EqualValues(t, 2, feedStats["markets"])
	assert.Contains(t, body, "hub")
}
