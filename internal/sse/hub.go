// Package sse fans counter events out to connected Server-Sent-Events clients.
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"people-counter-go/internal/events"

	log "github.com/sirupsen/logrus"
)

// clientBuffer is the number of messages a slow client may lag behind.
const clientBuffer = 16

// Client represents a single connected SSE client.
// It's a channel where we send messages destined for this client.
type Client chan []byte

// NewClient creates a buffered client channel.
func NewClient() Client {
	return make(Client, clientBuffer)
}

// Hub manages the set of active clients and broadcasts messages to them.
type Hub struct {
	clients map[Client]bool

	broadcast  chan []byte
	register   chan Client
	unregister chan Client
	done       chan struct{}

	// protects clients for ClientCount
	mu sync.Mutex
}

// NewHub creates a new Hub instance.
func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan []byte, 64),
		register:   make(chan Client),
		unregister: make(chan Client),
		done:       make(chan struct{}),
		clients:    make(map[Client]bool),
	}
}

// Run starts the hub's processing loop until ctx is cancelled. All clients
// are closed on exit. Run must be called only once.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	log.Info("SSE hub started")
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client)
			}
			h.mu.Unlock()
			log.Info("SSE hub stopped")
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			log.Debugf("SSE client registered, total clients: %d", n)
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client) // signals the client handler to stop
				log.Debugf("SSE client unregistered, total clients: %d", len(h.clients))
			}
			h.mu.Unlock()
		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				// never block on a slow client
				select {
				case client <- message:
				default:
					log.Warn("SSE client channel full, skipping message")
				}
			}
			h.mu.Unlock()
		}
	}
}

// Register adds a new client to the hub. It returns false once the hub has
// stopped.
func (h *Hub) Register(client Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast sends a message to all registered clients without blocking the
// caller.
func (h *Hub) Broadcast(message []byte) bool {
	select {
	case h.broadcast <- message:
		return true
	default:
		log.Warn("SSE broadcast channel full, message dropped")
		return false
	}
}

// Name implements events.Handler.
func (h *Hub) Name() string { return "sse" }

// Handle broadcasts the event as a JSON envelope.
func (h *Hub) Handle(e events.Event) error {
	data, err := json.Marshal(events.Wrap(e))
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", e.Kind(), err)
	}
	h.Broadcast(data)
	return nil
}
