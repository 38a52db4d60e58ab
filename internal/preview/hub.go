// Package preview serves the live-reloading development preview. HTML
// pages are proxied from a backend (or served from a directory) with a small
// client script injected; the script keeps a websocket open to the Hub and
// reacts to reload notifications after every build.
package preview

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hupe1980/assetflow/internal/reload"
)

// Endpoints reserved by the preview server.
const (
	WSPath     = "/__assetflow/ws"
	ClientPath = "/__assetflow/client.js"
)

const (
	sendBuffer   = 8
	writeTimeout = 5 * time.Second
	readLimit    = 512
)

// Message is what clients receive. Type is "reload" or "css".
type Message struct {
	Type string `json:"type"`
}

// Hub tracks connected preview clients and broadcasts reload messages.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}

	return &Hub{
		upgrader: websocket.Upgrader{
			// Pages may be opened through another host name on the LAN.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger:  logger,
		clients: make(map[*client]struct{}),
	}
}

// ServeHTTP upgrades the request and registers the client until it
// disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", slog.Any("error", err))
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug("preview client connected", slog.String("remote", r.RemoteAddr), slog.Int("clients", n))

	go h.writePump(c)

	h.readPump(c)
}

// Notify broadcasts kind to every client. It never blocks: a client whose
// buffer is full is disconnected. None and an empty hub are no-ops.
func (h *Hub) Notify(kind reload.Kind) {
	var msg Message

	switch kind {
	case reload.None:
		return
	case reload.Style:
		msg.Type = "css"
	default:
		msg.Type = "reload"
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("encoding reload message", slog.Any("error", err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("dropping slow preview client")
			h.dropLocked(c)
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		h.dropLocked(c)
	}
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.dropLocked(c)
}

func (h *Hub) dropLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}

	delete(h.clients, c)
	close(c.send)
}

func (h *Hub) readPump(c *client) {
	defer h.drop(c)

	c.conn.SetReadLimit(readLimit)

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	defer c.conn.Close()

	for data := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))

		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.drop(c)
			return
		}
	}

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
