package notify

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hupe1980/agentstep/core"
	"github.com/hupe1980/agentstep/logging"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// HubOptions configure a Hub.
type HubOptions struct {
	// ClientBuffer is the number of pending events per connection before
	// the connection is dropped as too slow.
	ClientBuffer int
	// CheckOrigin overrides the upgrader's origin check.
	CheckOrigin func(r *http.Request) bool
	Logger      logging.Logger
}

// Hub broadcasts notifications to WebSocket subscribers. Clients connect
// to the hub's handler and may narrow their subscription with the chat_id
// and agent_id query parameters.
type Hub struct {
	upgrader websocket.Upgrader
	opts     HubOptions
	logger   logging.Logger

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

type wsClient struct {
	conn    *websocket.Conn
	send    chan []byte
	chatID  string
	agentID string
}

// NewHub creates a hub.
func NewHub(optFns ...func(o *HubOptions)) *Hub {
	opts := HubOptions{ClientBuffer: 256}
	for _, fn := range optFns {
		fn(&opts)
	}
	h := &Hub{
		opts:    opts,
		logger:  logging.OrNoOp(opts.Logger),
		clients: make(map[*wsClient]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     opts.CheckOrigin,
	}
	return h
}

// ServeHTTP upgrades the request and registers the connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("notify.ws.upgrade_failed", "error", err)
		return
	}

	c := &wsClient{
		conn:    conn,
		send:    make(chan []byte, h.opts.ClientBuffer),
		chatID:  r.URL.Query().Get("chat_id"),
		agentID: r.URL.Query().Get("agent_id"),
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("notify.ws.connected", "chat_id", c.chatID, "agent_id", c.agentID, "clients", total)

	go h.writePump(c)
	go h.readPump(c)
}

// Publish implements core.Notifier. Events are encoded once and queued to
// every matching connection without blocking.
func (h *Hub) Publish(n core.Notification) {
	if n.Time.IsZero() {
		n.Time = time.Now()
	}
	data, err := json.Marshal(n)
	if err != nil {
		h.logger.Error("notify.ws.encode_failed", "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if !c.matches(n) {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.logger.Warn("notify.ws.slow_client", "chat_id", c.chatID, "agent_id", c.agentID)
			h.removeLocked(c)
		}
	}
}

// Clients returns the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every subscriber.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.removeLocked(c)
	}
	return nil
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *wsClient) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

func (c *wsClient) matches(n core.Notification) bool {
	if c.chatID != "" && n.ChatID != "" && c.chatID != n.ChatID {
		return false
	}
	if c.agentID != "" && n.AgentID != "" && c.agentID != n.AgentID {
		return false
	}
	return true
}

// readPump discards inbound frames and detects closed connections.
func (h *Hub) readPump(c *wsClient) {
	defer func() {
		h.remove(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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

var _ core.Notifier = (*Hub)(nil)
