// Package ws implements the per-session WebSocket fan-out: a history
// frame on subscribe, one message per enriched snapshot afterwards, and
// inbound order-injection messages from clients.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/quantfold/lobstream/internal/models"
)

const (
	clientSendBuffer = 256
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingInterval     = 30 * time.Second
	maxInboundBytes  = 512
)

// historyFrame is the first message every subscriber receives.
type historyFrame struct {
	Type string                    `json:"type"`
	Data []models.EnrichedSnapshot `json:"data"`
}

// Client is a single subscribed WebSocket connection.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
}

// Hub fans each broadcast snapshot out to all subscribers. Delivery is
// best effort: a subscriber whose send buffer is full misses that
// message, and removal from the subscriber set happens only when the
// connection itself goes away, never on a failed delivery.
type Hub struct {
	register   chan *Client
	unregister chan *Client
	broadcast  chan models.EnrichedSnapshot

	clients map[*Client]struct{}

	// history supplies the buffer contents for the subscribe-time frame.
	history func() []models.EnrichedSnapshot
	// onOrder receives inbound ORDER messages; nil disables them.
	onOrder func(models.OrderRequest)

	upgrader websocket.Upgrader
	log      *logrus.Entry

	mu sync.RWMutex

	// done is closed when Run returns; registrations and broadcasts
	// arriving after that are refused instead of queueing forever.
	done chan struct{}
}

// NewHub creates a hub for one session.
func NewHub(history func() []models.EnrichedSnapshot, onOrder func(models.OrderRequest)) *Hub {
	return &Hub{
		register:   make(chan *Client, 16),
		unregister: make(chan *Client, 16),
		broadcast:  make(chan models.EnrichedSnapshot, 256),
		clients:    make(map[*Client]struct{}),
		history:    history,
		onOrder:    onOrder,
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: logrus.WithField("component", "ws-hub"),
	}
}

// Run processes registrations and broadcasts until the context ends.
// A single goroutine serializes everything, which guarantees the
// history frame is queued before any later broadcast for that client.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		h.mu.Lock()
		for c := range h.clients {
			close(c.send)
			delete(h.clients, c)
		}
		h.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		case snap := <-h.broadcast:
			h.fanOut(snap)
		}
	}
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	frame := historyFrame{Type: "history", Data: h.history()}
	if frame.Data == nil {
		frame.Data = []models.EnrichedSnapshot{}
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		h.log.WithError(err).Error("Failed to marshal history frame")
		return
	}
	select {
	case client.send <- payload:
	default:
		h.log.Warn("Subscriber send buffer full on history frame")
	}
	h.log.WithField("clients", h.ClientCount()).Debug("Subscriber connected")
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	h.mu.Unlock()
	h.log.WithField("clients", h.ClientCount()).Debug("Subscriber disconnected")
}

func (h *Hub) fanOut(snap models.EnrichedSnapshot) {
	payload, err := json.Marshal(snap)
	if err != nil {
		h.log.WithError(err).Error("Failed to marshal snapshot")
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		select {
		case client.send <- payload:
		default:
			// Slow subscriber: drop this message for it, keep going.
			h.log.Warn("Dropping snapshot for slow subscriber")
		}
	}
}

// Broadcast queues a snapshot for delivery to all subscribers. After
// the hub stops, broadcasts are silently discarded.
func (h *Hub) Broadcast(snap models.EnrichedSnapshot) {
	select {
	case <-h.done:
		return
	default:
	}
	select {
	case h.broadcast <- snap:
	default:
		h.log.Warn("Broadcast queue full, dropping snapshot")
	}
}

// ClientCount returns the current number of subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades the request and subscribes the connection. A
// stopped hub answers 410 instead of accepting a subscriber nobody
// will serve.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.done:
		http.Error(w, "session closed", http.StatusGone)
		return
	default:
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("WebSocket upgrade failed")
		return
	}
	client := &Client{
		conn: conn,
		send: make(chan []byte, clientSendBuffer),
		hub:  h,
	}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}
	go client.writePump()
	go client.readPump()
}

// readPump consumes inbound messages. ORDER messages are forwarded to
// the hub's handler; everything else keeps the connection alive.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxInboundBytes)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var req models.OrderRequest
		if err := json.Unmarshal(msg, &req); err != nil {
			continue
		}
		if req.Type == "ORDER" && c.hub.onOrder != nil {
			c.hub.onOrder(req)
		}
	}
}

// writePump drains the send channel and keeps the connection pinged.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
