package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/anmar534/desktop-management-system/internal/health"
	"github.com/anmar534/desktop-management-system/internal/logger"
	"github.com/anmar534/desktop-management-system/internal/metrics"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = 30 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 512

	sendBuffer = 16
)

// Message types exchanged on the health stream.
const (
	MessageHealth  = "health"
	MessageRefresh = "refresh"
	MessageError   = "error"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketMessage is the envelope for every frame sent to clients.
type WebSocketMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// HealthSource supplies snapshots to the hub. *optimizer.Monitor implements it.
type HealthSource interface {
	Last() (health.SystemHealth, bool)
	Subscribe(fn func(health.SystemHealth)) (unsubscribe func())
}

type client struct {
	hub  *HealthHub
	conn *websocket.Conn
	send chan []byte
}

type directMessage struct {
	client *client
	data   []byte
}

// HealthHub streams health snapshots to connected dashboards. Clients get the
// latest snapshot on connect, every monitor tick afterwards, and a fresh
// check when they send {"type":"refresh"}.
type HealthHub struct {
	source  HealthSource
	refresh func(context.Context) health.SystemHealth

	clients    map[*client]struct{}
	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	direct     chan directMessage
	done       chan struct{}

	mu  sync.RWMutex
	log *slog.Logger
}

// NewHealthHub creates a hub. refresh may be nil, in which case refresh
// requests are answered with the latest snapshot.
func NewHealthHub(source HealthSource, refresh func(context.Context) health.SystemHealth) *HealthHub {
	return &HealthHub{
		source:     source,
		refresh:    refresh,
		clients:    make(map[*client]struct{}),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, 64),
		direct:     make(chan directMessage, 64),
		done:       make(chan struct{}),
		log:        logger.WithComponent("ws"),
	}
}

// Run subscribes to the source and serves clients until ctx is done. All
// client connections are closed on return.
func (h *HealthHub) Run(ctx context.Context) {
	unsubscribe := h.source.Subscribe(h.Publish)
	defer func() {
		unsubscribe()
		close(h.done)
		h.mu.Lock()
		for c := range h.clients {
			h.dropLocked(c)
		}
		h.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketConnections.Inc()
			h.log.Info("WebSocket client connected", "total_clients", n)
			if snap, ok := h.source.Last(); ok {
				h.deliver(c, encode(MessageHealth, snap))
			}

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				h.dropLocked(c)
				h.log.Info("WebSocket client disconnected", "total_clients", len(h.clients))
			}
			h.mu.Unlock()

		case msg := <-h.direct:
			h.deliver(msg.client, msg.data)

		case data := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- data:
					metrics.WebSocketMessagesSent.Inc()
				default:
					h.log.Warn("Client send buffer full, dropping connection")
					h.dropLocked(c)
				}
			}
			h.mu.Unlock()
		}
	}
}

// deliver sends data to one client if it is still registered. Only called
// from the Run goroutine.
func (h *HealthHub) deliver(c *client, data []byte) {
	if data == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- data:
		metrics.WebSocketMessagesSent.Inc()
	default:
		h.dropLocked(c)
	}
}

func (h *HealthHub) dropLocked(c *client) {
	delete(h.clients, c)
	close(c.send)
	metrics.WebSocketConnections.Dec()
}

// Publish queues a snapshot for every client. It never blocks; a full queue
// drops the snapshot since the next tick supersedes it.
func (h *HealthHub) Publish(snap health.SystemHealth) {
	data := encode(MessageHealth, snap)
	if data == nil {
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.log.Warn("Health broadcast queue full, dropping snapshot")
	}
}

// Clients returns the number of connected clients.
func (h *HealthHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func encode(kind string, payload any) []byte {
	data, err := json.Marshal(WebSocketMessage{Type: kind, Payload: payload})
	if err != nil {
		logger.Error("Failed to marshal WebSocket message", "type", kind, "error", err)
		return nil
	}
	return data
}

// ServeWS upgrades the connection and attaches it to the hub.
// GET /api/performance/ws
func (h *HealthHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error response.
		h.log.Warn("Failed to upgrade to WebSocket", "error", err)
		return
	}

	c := &client{hub: h, conn: conn, send: make(chan []byte, sendBuffer)}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn("WebSocket unexpected close", "error", err)
			}
			return
		}

		var msg struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(raw, &msg); err != nil || msg.Type != MessageRefresh {
			c.reply(encode(MessageError, map[string]string{"message": "unsupported message"}))
			continue
		}
		c.reply(c.hub.snapshot())
	}
}

func (c *client) reply(data []byte) {
	select {
	case c.hub.direct <- directMessage{client: c, data: data}:
	case <-c.hub.done:
	}
}

func (h *HealthHub) snapshot() []byte {
	if h.refresh != nil {
		ctx, cancel := context.WithTimeout(context.Background(), writeWait)
		defer cancel()
		return encode(MessageHealth, h.refresh(ctx))
	}
	if snap, ok := h.source.Last(); ok {
		return encode(MessageHealth, snap)
	}
	return encode(MessageError, map[string]string{"message": "no health snapshot yet"})
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
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
