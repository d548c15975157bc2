package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Valrob28/traderbrok/internal/domain"
	"github.com/Valrob28/traderbrok/internal/hub"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type harness struct {
	hub  *hub.Hub
	gw   *Hub
	srv  *httptest.Server
	conn *websocket.Conn
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := hub.New(discard(), hub.Options{
		Known: func(s string) bool { return s == "BTC" || s == "ETH" },
	})
	gw := NewHub(h, discard(), Config{Mode: "serve"})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", gw.HandleWS)
	srv := httptest.NewServer(mux)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = gw.Run(ctx) }()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = conn.Close()
		cancel()
		srv.Close()
		_ = h.Close(context.Background())
	})
	return &harness{hub: h, gw: gw, srv: srv, conn: conn}
}

func (h *harness) read(t *testing.T) map[string]any {
	t.Helper()
	require.NoError(t, h.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := h.conn.ReadMessage()
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func (h *harness) send(t *testing.T, action string, channels ...string) {
	t.Helper()
	require.NoError(t, h.conn.WriteJSON(request{Action: action, Channels: channels}))
}

func TestStatusOnConnect(t *testing.T) {
	h := newHarness(t)
	msg := h.read(t)
	assert.Equal(t, "status", msg["type"])
	data := msg["data"].(map[string]any)
	assert.Equal(t, "serve", data["mode"])
}

func TestSubscribeReceivesSnapshotThenDelta(t *testing.T) {
	h := newHarness(t)
	h.read(t) // status

	h.send(t, "subscribe", "price:BTC")
	ack := h.read(t)
	assert.Equal(t, "subscribed", ack["type"])
	assert.Equal(t, "price:BTC", ack["channel"])

	m := domain.Market{Symbol: "BTC", Price: 100, High24h: 100, Low24h: 100}
	h.hub.PublishMarket(m)

	snap := h.read(t)
	assert.Equal(t, "price", snap["type"])
	assert.Equal(t, "snapshot", snap["kind"])
	assert.Equal(t, "BTC", snap["symbol"])
	assert.EqualValues(t, 1, snap["version"])
	assert.EqualValues(t, 100, snap["data"].(map[string]any)["price"])

	m.Price = 101
	m.High24h = 101
	h.hub.PublishMarket(m)

	delta := h.read(t)
	assert.Equal(t, "delta", delta["kind"])
	assert.EqualValues(t, 2, delta["version"])
	body := delta["data"].(map[string]any)
	assert.EqualValues(t, 101, body["market"].(map[string]any)["price"])
	assert.EqualValues(t, domain.FieldPrice|domain.FieldHigh, body["fields"])
}

func TestSubscribeErrors(t *testing.T) {
	h := newHarness(t)
	h.read(t)

	h.send(t, "subscribe", "price:DOGE")
	msg := h.read(t)
	assert.Equal(t, "error", msg["type"])
	assert.Contains(t, msg["error"], "unknown market")

	h.send(t, "subscribe", "candles:BTC")
	msg = h.read(t)
	assert.Equal(t, "error", msg["type"])

	h.send(t, "dance")
	msg = h.read(t)
	assert.Equal(t, "error", msg["type"])
	assert.Contains(t, msg["error"], "unknown action")
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	h := newHarness(t)
	h.read(t)

	h.send(t, "subscribe", "price:ETH")
	h.read(t)
	h.send(t, "unsubscribe", "price:ETH")
	ack := h.read(t)
	assert.Equal(t, "unsubscribed", ack["type"])

	assert.Equal(t, 0, h.hub.Stats().Subscriptions)
}

func TestDisconnectDropsSubscriptions(t *testing.T) {
	h := newHarness(t)
	h.read(t)

	h.send(t, "subscribe", "price:BTC", "book:BTC", "trades:BTC")
	for range 3 {
		h.read(t)
	}
	assert.Equal(t, 3, h.hub.Stats().Subscriptions)

	require.NoError(t, h.conn.Close())
	assert.Eventually(t, func() bool {
		return h.hub.Stats().Subscriptions == 0 && h.gw.ClientCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestParseTopic(t *testing.T) {
	ch, sym, err := parseTopic("book:ETH-USD")
	require.NoError(t, err)
	assert.Equal(t, hub.ChannelBook, ch)
	assert.Equal(t, "ETH-USD", sym)

	_, _, err = parseTopic("book")
	assert.ErrorIs(t, err, domain.ErrInvalidChannel)
	_, _, err = parseTopic("price:")
	assert.ErrorIs(t, err, domain.ErrInvalidChannel)
}
