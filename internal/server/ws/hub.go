// Package ws streams hub updates to WebSocket clients. Every channel a
// client subscribes to is its own hub subscription, so a slow client
// coalesces to the latest state instead of queueing.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Valrob28/traderbrok/internal/domain"
	"github.com/Valrob28/traderbrok/internal/hub"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 4096

	sendBufferSize = 64

	// unsubscribeWait bounds how long a disconnect waits for in-flight
	// deliveries.
	unsubscribeWait = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Subscriber is the part of hub.Hub the gateway needs.
type Subscriber interface {
	Subscribe(symbol string, ch hub.Channel, fn hub.Handler) (*hub.Subscription, error)
	Unsubscribe(ctx context.Context, s *hub.Subscription) error
}

// Config captures metadata sent to clients on connect.
type Config struct {
	Mode      string
	StartedAt time.Time
}

// Hub tracks connected clients and their hub subscriptions.
type Hub struct {
	subs      Subscriber
	logger    *slog.Logger
	mode      string
	startedAt time.Time

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

// NewHub creates a gateway over subs.
func NewHub(subs Subscriber, logger *slog.Logger, cfg Config) *Hub {
	mode := strings.TrimSpace(strings.ToLower(cfg.Mode))
	if mode == "" {
		mode = "unknown"
	}
	startedAt := cfg.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	return &Hub{
		subs:      subs,
		logger:    logger.With(slog.String("component", "ws")),
		mode:      mode,
		startedAt: startedAt,
		clients:   make(map[*client]struct{}),
	}
}

// Run blocks until ctx ends, then disconnects every client.
func (h *Hub) Run(ctx context.Context) error {
	<-ctx.Done()

	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
	return ctx.Err()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// HandleWS upgrades the request and starts the client's pumps.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		id:   uuid.NewString(),
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		done: make(chan struct{}),
		subs: make(map[string]*hub.Subscription),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("ws: client connected",
		slog.String("client", c.id),
		slog.Int("total_clients", total),
	)

	c.enqueue(h.statusMessage())
	go c.writePump()
	go c.readPump()
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	total := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("ws: client disconnected",
		slog.String("client", c.id),
		slog.Int("total_clients", total),
	)
}

func (h *Hub) statusMessage() []byte {
	uptime := max(int64(time.Since(h.startedAt).Seconds()), 0)
	channels := make([]string, 0, len(hub.Channels))
	for _, ch := range hub.Channels {
		channels = append(channels, string(ch))
	}
	msg, _ := json.Marshal(controlMsg{
		Type: "status",
		Data: map[string]any{
			"mode":           h.mode,
			"uptime_seconds": uptime,
			"channels":       channels,
		},
	})
	return msg
}

// request is what a client sends:
//
//	{"action":"subscribe","channels":["price:ETH-USD","book:ETH-USD"]}
type request struct {
	Action   string   `json:"action"`
	Channels []string `json:"channels"`
}

// Envelope is one pushed update.
type Envelope struct {
	Type    string `json:"type"`
	Kind    string `json:"kind"`
	Symbol  string `json:"symbol"`
	Version uint64 `json:"version"`
	Resync  bool   `json:"resync,omitempty"`
	Data    any    `json:"data"`
}

// controlMsg acknowledges requests and reports errors.
type controlMsg struct {
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// parseTopic splits "price:ETH-USD" into its channel and symbol.
func parseTopic(s string) (hub.Channel, string, error) {
	name, symbol, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || symbol == "" {
		return "", "", fmt.Errorf("ws: topic %q: want channel:symbol: %w", s, domain.ErrInvalidChannel)
	}
	ch, err := hub.ParseChannel(name)
	if err != nil {
		return "", "", err
	}
	return ch, symbol, nil
}

type client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once

	mu   sync.Mutex
	subs map[string]*hub.Subscription
}

// close stops both pumps. send is never closed because hub deliveries may
// still be writing to it.
func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// enqueue drops the message when the buffer is full; only control messages
// go through here.
func (c *client) enqueue(msg []byte) {
	select {
	case c.send <- msg:
	default:
	}
}

func (c *client) reply(m controlMsg) {
	data, err := json.Marshal(m)
	if err != nil {
		return
	}
	c.enqueue(data)
}

// deliver is the hub handler for every subscription of this client. It
// blocks while the send buffer is full, which lets the hub coalesce.
func (c *client) deliver(ctx context.Context, u hub.Update) {
	data, err := json.Marshal(Envelope{
		Type:    string(u.Channel),
		Kind:    string(u.Kind),
		Symbol:  u.Symbol,
		Version: u.Version,
		Resync:  u.Resync,
		Data:    u.Payload(),
	})
	if err != nil {
		c.hub.logger.Error("ws: encode update failed", slog.String("error", err.Error()))
		return
	}
	select {
	case c.send <- data:
	case <-c.done:
	case <-ctx.Done():
	}
}

func (c *client) subscribe(topic string) {
	ch, symbol, err := parseTopic(topic)
	if err != nil {
		c.reply(controlMsg{Type: "error", Channel: topic, Error: err.Error()})
		return
	}
	key := string(ch) + ":" + symbol

	c.mu.Lock()
	_, exists := c.subs[key]
	c.mu.Unlock()
	if exists {
		c.reply(controlMsg{Type: "subscribed", Channel: key})
		return
	}

	sub, err := c.hub.subs.Subscribe(symbol, ch, c.deliver)
	if err != nil {
		msg := err.Error()
		if errors.Is(err, domain.ErrNotFound) {
			msg = "unknown market " + symbol
		}
		c.reply(controlMsg{Type: "error", Channel: key, Error: msg})
		return
	}

	c.mu.Lock()
	c.subs[key] = sub
	c.mu.Unlock()
	c.reply(controlMsg{Type: "subscribed", Channel: key})
}

func (c *client) unsubscribe(topic string) {
	ch, symbol, err := parseTopic(topic)
	if err != nil {
		c.reply(controlMsg{Type: "error", Channel: topic, Error: err.Error()})
		return
	}
	key := string(ch) + ":" + symbol

	c.mu.Lock()
	sub, ok := c.subs[key]
	delete(c.subs, key)
	c.mu.Unlock()

	if ok {
		ctx, cancel := context.WithTimeout(context.Background(), unsubscribeWait)
		defer cancel()
		if err := c.hub.subs.Unsubscribe(ctx, sub); err != nil {
			c.hub.logger.Warn("ws: unsubscribe failed",
				slog.String("client", c.id),
				slog.String("channel", key),
				slog.String("error", err.Error()),
			)
		}
	}
	c.reply(controlMsg{Type: "unsubscribed", Channel: key})
}

func (c *client) dropAll() {
	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[string]*hub.Subscription)
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), unsubscribeWait)
	defer cancel()
	for _, sub := range subs {
		_ = c.hub.subs.Unsubscribe(ctx, sub)
	}
}

func (c *client) handle(message []byte) {
	var req request
	if err := json.Unmarshal(message, &req); err != nil {
		c.reply(controlMsg{Type: "error", Error: "invalid request"})
		return
	}
	switch strings.ToLower(req.Action) {
	case "subscribe":
		for _, topic := range req.Channels {
			c.subscribe(topic)
		}
	case "unsubscribe":
		for _, topic := range req.Channels {
			c.unsubscribe(topic)
		}
	default:
		c.reply(controlMsg{Type: "error", Error: fmt.Sprintf("unknown action %q", req.Action)})
	}
}

// readPump handles client requests until the connection fails, then tears
// the client down.
func (c *client) readPump() {
	defer func() {
		c.close()
		c.dropAll()
		c.hub.remove(c)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close error",
					slog.String("client", c.id),
					slog.String("error", err.Error()),
				)
			}
			return
		}
		c.handle(message)
	}
}

// writePump owns all writes to the connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
