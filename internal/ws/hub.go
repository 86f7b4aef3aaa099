package ws

import (
	"encoding/json"

	"github.com/yksanjo/tinyguardian/internal/logger"
	"github.com/yksanjo/tinyguardian/pkg/models"
)

// Hub fans persisted alerts out to connected dashboard clients, so the
// dashboard does not have to poll for new alerts.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

// NewHub creates a Hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run processes registrations and broadcasts until Stop is called.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			return

		case client := <-h.register:
			h.clients[client] = true
			logger.Debugf("Dashboard client connected: %s", client.conn.RemoteAddr())

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				logger.Debugf("Dashboard client disconnected: %s", client.conn.RemoteAddr())
			}

		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Slow or gone; drop the client rather than block.
					close(client.send)
					delete(h.clients, client)
				}
			}
		}
	}
}

// Stop shuts down the hub and disconnects all clients.
func (h *Hub) Stop() {
	close(h.done)
}

// BroadcastAlert pushes a persisted alert to all connected clients.
func (h *Hub) BroadcastAlert(alert *models.Alert) {
	payload, err := json.Marshal(map[string]interface{}{"type": "alert", "payload": alert})
	if err != nil {
		logger.Errorf("Failed to marshal alert for broadcast: %v", err)
		return
	}
	select {
	case h.broadcast <- payload:
	case <-h.done:
	}
}
