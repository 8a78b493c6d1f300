package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"modtok/internal/httpx"
	"modtok/internal/observability"
)

const (
	activityWriteWait  = 10 * time.Second
	activityPongWait   = 60 * time.Second
	activityPingPeriod = (activityPongWait * 9) / 10
)

// activityHub fans audit rows out to connected admin dashboards.
type activityHub struct {
	clients    map[*activityClient]bool
	broadcast  chan []byte
	register   chan *activityClient
	unregister chan *activityClient
	done       chan struct{}
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
	log        *zap.Logger
}

type activityClient struct {
	hub     *activityHub
	conn    *websocket.Conn
	send    chan []byte
	adminID string
}

type activityEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func newActivityHub(log *zap.Logger) *activityHub {
	if log == nil {
		log = zap.NewNop()
	}
	return &activityHub{
		clients:    make(map[*activityClient]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *activityClient),
		unregister: make(chan *activityClient),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: log,
	}
}

func (h *activityHub) run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.log.Debug("activity client connected", zap.String("admin_id", client.adminID))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			h.log.Debug("activity client disconnected", zap.String("admin_id", client.adminID))

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// publish never blocks the caller; events are dropped when the buffer is full.
func (h *activityHub) publish(eventType string, payload any) {
	if h == nil {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	data, err := json.Marshal(activityEvent{Type: eventType, Payload: raw})
	if err != nil {
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.log.Warn("activity broadcast dropped", zap.String("type", eventType))
	}
}

func (h *activityHub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and stops run.
func (h *activityHub) Close() {
	select {
	case <-h.done:
	default:
		close(h.done)
	}
}

func (s *Server) handleActivityWS(w http.ResponseWriter, r *http.Request) {
	a, ok := adminAuthFromContext(r.Context())
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	conn, err := s.activity.upgrader.Upgrade(w, r, nil)
	if err != nil {
		observability.FromContext(r.Context()).Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &activityClient{
		hub:     s.activity,
		conn:    conn,
		send:    make(chan []byte, 64),
		adminID: a.User.ID,
	}
	hello, _ := json.Marshal(map[string]any{"admin_id": a.User.ID, "at": s.now().UTC().Format(time.RFC3339)})
	welcome, _ := json.Marshal(activityEvent{Type: "hello", Payload: hello})
	client.send <- welcome

	select {
	case s.activity.register <- client:
	case <-s.activity.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// readPump only drains control frames; dashboards never send data.
func (c *activityClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(4 << 10)
	_ = c.conn.SetReadDeadline(time.Now().Add(activityPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(activityPongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *activityClient) writePump() {
	ticker := time.NewTicker(activityPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(activityWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(activityWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
