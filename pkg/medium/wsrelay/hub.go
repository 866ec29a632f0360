// Package wsrelay emulates a shared broadcast channel for hosts that are not
// on the same physical segment: every client connects to a relay hub over
// WebSocket, and every frame a client sends is fanned out to all the others.
package wsrelay

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// Hub is the relay's server side. It implements http.Handler and can be
// mounted wherever convenient, typically on its own listener (see
// cmd/mnet-relay).
type Hub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*relayClient]struct{}
}

func NewHub(logHandler slog.Handler) *Hub {
	h := &Hub{
		clients: make(map[*relayClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	if logHandler == nil {
		h.logger = slog.Default()
	} else {
		h.logger = slog.New(logHandler)
	}
	return h
}

type relayClient struct {
	conn *websocket.Conn

	// writeMu serializes writes: fan-out and control frames may race.
	writeMu sync.Mutex
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &relayClient{conn: conn}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	peers := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("relay client joined",
		"remote", conn.RemoteAddr().String(), "clients", peers)

	go h.readLoop(c)
}

func (h *Hub) readLoop(c *relayClient) {
	defer h.drop(c)
	for {
		msgType, frame, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		h.fanOut(c, frame)
	}
}

// fanOut relays one frame to every client but its sender, like a radio
// segment where the transmitter does not hear itself.
func (h *Hub) fanOut(from *relayClient, frame []byte) {
	h.mu.Lock()
	recipients := make([]*relayClient, 0, len(h.clients))
	for c := range h.clients {
		if c == from {
			continue
		}
		recipients = append(recipients, c)
	}
	h.mu.Unlock()

	for _, c := range recipients {
		c.writeMu.Lock()
		err := c.conn.WriteMessage(websocket.BinaryMessage, frame)
		c.writeMu.Unlock()
		if err != nil {
			h.drop(c)
		}
	}
}

func (h *Hub) drop(c *relayClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		h.logger.Info("relay client left", "remote", c.conn.RemoteAddr().String())
		c.conn.Close()
	}
}
