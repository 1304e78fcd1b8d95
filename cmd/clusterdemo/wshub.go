package main

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// statusEvent is what the demo hub pushes to connected clients: a snapshot
// of the local connector's view plus the kinds of deltas that produced it.
type statusEvent struct {
	Timestamp    time.Time `json:"timestamp"`
	DeltaKinds   []string  `json:"deltaKinds"`
	LocalRevNum  int64     `json:"localRevisionNumber"`
	SiblingCount int       `json:"siblingCount"`
	Leader       string    `json:"leader,omitempty"`
}

// statusHub fans delta-driven status events out to websocket clients.
// Grounded on the monitoring hub idiom: register/unregister channels owned
// by a single Run loop, broadcast is non-blocking and drops on a full
// channel rather than stalling the reconciler.
type statusHub struct {
	mu        sync.RWMutex
	clients   map[*websocket.Conn]bool
	broadcast chan statusEvent
	register  chan *websocket.Conn
	unregister chan *websocket.Conn
}

func newStatusHub() *statusHub {
	return &statusHub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan statusEvent, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
	}
}

func (h *statusHub) run() {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			h.mu.Unlock()
			log.Printf("[wshub] client connected, total: %d", len(h.clients))

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			h.mu.Unlock()
			log.Printf("[wshub] client disconnected, total: %d", len(h.clients))

		case evt := <-h.broadcast:
			h.mu.Lock()
			for conn := range h.clients {
				if err := conn.WriteJSON(evt); err != nil {
					log.Printf("[wshub] write error: %v", err)
					conn.Close()
					delete(h.clients, conn)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *statusHub) Register(conn *websocket.Conn)   { h.register <- conn }
func (h *statusHub) Unregister(conn *websocket.Conn) { h.unregister <- conn }

func (h *statusHub) Publish(evt statusEvent) {
	select {
	case h.broadcast <- evt:
	default:
		log.Printf("[wshub] broadcast channel full, dropping status event")
	}
}
