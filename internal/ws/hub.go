package ws

import (
	"log"
	"sync"
)

// The set of connected clients grouped by session, with fan-out
type Hub struct {
	// Registered clients by session
	sessions map[string]map[*Client]bool

	// Outbound events to fan out
	broadcast chan *Message

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	mu sync.RWMutex
}

type Message struct {
	SessionID string
	Data      []byte

	// Connections of this user are skipped; empty means deliver to all
	ExcludeUserID string
}

func NewHub() *Hub {
	return &Hub{
		sessions:   make(map[string]map[*Client]bool),
		broadcast:  make(chan *Message),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Enqueues an event for every connected member of the session. Safe to
// call from any goroutine; delivery to a departed participant is
// silently discarded.
func (h *Hub) BroadcastToSession(sessionID string, data []byte, excludeUserID string) {
	h.broadcast <- &Message{
		SessionID:     sessionID,
		Data:          data,
		ExcludeUserID: excludeUserID,
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if _, ok := h.sessions[client.sessionID]; !ok {
				h.sessions[client.sessionID] = make(map[*Client]bool)
			}
			h.sessions[client.sessionID][client] = true
			clientCount := len(h.sessions[client.sessionID])
			h.mu.Unlock()

			log.Printf("Connection joined session %s (total: %d)", client.sessionID, clientCount)

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.sessions[client.sessionID]; ok {
				if _, ok := clients[client]; ok {
					delete(clients, client)
					close(client.send)

					if len(clients) == 0 {
						delete(h.sessions, client.sessionID)
						log.Printf("Session %s has no connections", client.sessionID)
					} else {
						log.Printf("Connection left session %s (remaining: %d)", client.sessionID, len(clients))
					}
				}
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.RLock()
			if clients, ok := h.sessions[message.SessionID]; ok {
				for client := range clients {
					if message.ExcludeUserID != "" && client.userID == message.ExcludeUserID {
						continue
					}
					select {
					case client.send <- message.Data:
					default:
						// Slow consumer: drop its pending fan-out only.
						// The client detects the revision gap and resyncs.
						log.Printf("Send queue full for user %s in session %s, dropping event",
							client.userID, message.SessionID)
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Returns the number of sessions with at least one connection
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Returns the total number of connections
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := 0
	for _, clients := range h.sessions {
		count += len(clients)
	}
	return count
}

// Returns connection counts per session
func (h *Hub) ActiveSessions() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	active := make(map[string]int, len(h.sessions))
	for id, clients := range h.sessions {
		active[id] = len(clients)
	}
	return active
}
