// Package ws is a supplemented live log-stream endpoint (SPEC_FULL.md 12):
// browsers can watch one agent's stdout/stderr lines as they are captured
// by the ALM, instead of polling GET /agents/:id/logs.
//
// Grounded on the teacher's internal/server/hub.go register/unregister/
// broadcast channel loop and Client readPump/writePump pair, adapted from
// one hub broadcasting to every client to a single hub that keeps a
// separate client set per agent id, so a browser only receives the lines
// of the agent it asked for.
package ws

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/orchestrator/agentctl/internal/orchestrator/model"
)

const clientSendBuffer = 256

var upgrader = websocket.Upgrader{
	// The engine is an internal operator tool, not a public-facing
	// service; same-origin checks are left to the reverse proxy in front
	// of it (spec.md's Non-goals exclude an auth/authorization layer).
	CheckOrigin: func(r *http.Request) bool { return true },
}

type client struct {
	conn    *websocket.Conn
	send    chan []byte
	agentID string
}

// Hub fans out AgentLogLine events to every client currently watching
// that agent's id.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]map[*client]bool // agentID -> set of clients
	shutdown chan struct{}
}

// NewHub builds an empty Hub.
func NewHub() *Hub {
	return &Hub{
		clients:  make(map[string]map[*client]bool),
		shutdown: make(chan struct{}),
	}
}

// Shutdown closes every connected client.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, set := range h.clients {
		for c := range set {
			close(c.send)
		}
	}
	h.clients = make(map[string]map[*client]bool)
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c.agentID] == nil {
		h.clients[c.agentID] = make(map[*client]bool)
	}
	h.clients[c.agentID][c] = true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.clients[c.agentID]; ok {
		if _, ok := set[c]; ok {
			delete(set, c)
			close(c.send)
		}
	}
}

// Publish pushes one log line to every client watching line.AgentID.
func (h *Hub) Publish(line model.AgentLogLine) {
	data, err := json.Marshal(line)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients[line.AgentID] {
		select {
		case c.send <- data:
		default:
			// slow client; drop rather than block the publisher.
		}
	}
}

// ServeAgentLogs upgrades the request to a websocket streaming the given
// agent's log lines as they are published.
func (h *Hub) ServeAgentLogs(w http.ResponseWriter, r *http.Request, agentID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &client{conn: conn, send: make(chan []byte, clientSendBuffer), agentID: agentID}
	h.register(c)
	go c.readPump(h)
	go c.writePump()
}

func (c *client) readPump(h *Hub) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
