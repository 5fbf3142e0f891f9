// Package realtime pushes order status changes to WebSocket subscribers.
package realtime

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// OrderEvent is the message broadcast when an order changes status.
type OrderEvent struct {
	OrderID string `json:"orderId"`
	Status  string `json:"status"`
	Reason  string `json:"reason,omitempty"`
}

// Hub manages WebSocket clients and broadcasts order events to them.
type Hub struct {
	connections map[*websocket.Conn]struct{}
	Register    chan *websocket.Conn
	Unregister  chan *websocket.Conn
	Broadcast   chan []byte
	mu          sync.Mutex
	logf        func(format string, args ...any)
}

// NewHub constructs a Hub.
func NewHub(logf func(format string, args ...any)) *Hub {
	if logf == nil {
		logf = log.Printf
	}
	return &Hub{
		connections: make(map[*websocket.Conn]struct{}),
		Register:    make(chan *websocket.Conn),
		Unregister:  make(chan *websocket.Conn),
		Broadcast:   make(chan []byte, 64),
		logf:        logf,
	}
}

// Run processes register/unregister/broadcast events.
func (h *Hub) Run() {
	for {
		select {
		case conn := <-h.Register:
			h.mu.Lock()
			h.connections[conn] = struct{}{}
			h.mu.Unlock()
		case conn := <-h.Unregister:
			h.mu.Lock()
			delete(h.connections, conn)
			h.mu.Unlock()
			conn.Close()
		case msg := <-h.Broadcast:
			h.mu.Lock()
			for conn := range h.connections {
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					conn.Close()
					delete(h.connections, conn)
				}
			}
			h.mu.Unlock()
		}
	}
}

// NotifyOrder broadcasts an order event. Events are dropped rather than
// blocking the caller when subscribers cannot keep up.
func (h *Hub) NotifyOrder(ev OrderEvent) {
	msg, err := json.Marshal(ev)
	if err != nil {
		h.logf("marshal order event failed. orderId=%s: %v", ev.OrderID, err)
		return
	}
	select {
	case h.Broadcast <- msg:
	default:
		h.logf("order event dropped, broadcast queue full. orderId=%s", ev.OrderID)
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWS upgrades the request and registers the connection. The read loop
// exists only to observe the peer closing.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logf("websocket upgrade failed: %v", err)
		return
	}
	h.Register <- conn

	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.Unregister <- conn
				return
			}
		}
	}()
}
