package ws

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/satoru707/CollabCode/internal/chat"
	"github.com/satoru707/CollabCode/internal/gateway"
	"github.com/satoru707/CollabCode/internal/protocol"
	"github.com/satoru707/CollabCode/internal/ratelimit"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024 * 1024

	// Overall inbound budget per connection
	messagesPerSecond = 100
	messageBurst      = 200

	// Cursor bursts above this rate are coalesced by dropping
	cursorsPerSecond = 25
	cursorBurst      = 50

	sendQueueSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type Client struct {
	hub     *Hub
	gateway *gateway.Gateway
	conn    *websocket.Conn
	send    chan []byte

	sessionID   string
	userID      string
	displayName string
	color       string
	joined      bool

	rateLimiter   *ratelimit.Limiter
	cursorLimiter *ratelimit.Limiter
}

func ServeWs(hub *Hub, gw *gateway.Gateway, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("Upgrade error:", err)
		return
	}

	client := &Client{
		hub:           hub,
		gateway:       gw,
		conn:          conn,
		send:          make(chan []byte, sendQueueSize),
		rateLimiter:   ratelimit.NewLimiter(messagesPerSecond, messageBurst),
		cursorLimiter: ratelimit.NewLimiter(cursorsPerSecond, cursorBurst),
	}

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		if c.joined {
			// Connection loss counts as leaving
			c.gateway.Leave(c.sessionID, c.userID)
			c.hub.unregister <- c
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		if !c.rateLimiter.Allow() {
			continue
		}

		env, err := protocol.Decode(message)
		if err != nil {
			c.sendError("invalid_message", err.Error())
			continue
		}

		if !c.dispatch(env) {
			break
		}
	}
}

// Routes one decoded message; returns false to close the connection
func (c *Client) dispatch(env *protocol.Envelope) bool {
	switch env.Type {
	case protocol.TypeJoinSession:
		return c.handleJoin(env)
	case protocol.TypeLeaveSession:
		if c.joined {
			c.gateway.Leave(c.sessionID, c.userID)
		}
		return false
	case protocol.TypeDocumentUpdate:
		c.handleDocumentUpdate(env)
	case protocol.TypeCursorUpdate:
		c.handleCursorUpdate(env)
	case protocol.TypeChatMessage:
		c.handleChatMessage(env)
	case protocol.TypeResync:
		c.handleResync()
	default:
		c.sendError("invalid_message", "unexpected message type: "+string(env.Type))
	}
	return true
}

func (c *Client) handleJoin(env *protocol.Envelope) bool {
	if c.joined {
		c.sendError("invalid_message", "already joined a session")
		return true
	}

	var req protocol.JoinRequest
	if err := env.DecodePayload(&req); err != nil {
		c.sendError("invalid_message", err.Error())
		return true
	}

	if req.SessionID == "" || req.ProjectID == "" || req.UserID == "" {
		c.sendError("invalid_message", "session_id, project_id and user_id are required")
		return true
	}

	c.sessionID = req.SessionID
	c.userID = req.UserID
	c.displayName = req.DisplayName

	// Register before joining so no broadcast sequenced after the
	// snapshot can be missed
	c.hub.register <- c

	snap, err := c.gateway.Join(gateway.JoinParams{
		SessionID:   req.SessionID,
		WorkspaceID: req.WorkspaceID,
		ProjectID:   req.ProjectID,
		UserID:      req.UserID,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		c.sendError("session_unavailable", err.Error())
		c.hub.unregister <- c
		return false
	}

	c.joined = true
	c.color = snap.Self.Color
	c.sendEvent(protocol.TypeSnapshot, snap)
	return true
}

func (c *Client) handleDocumentUpdate(env *protocol.Envelope) {
	if !c.joined {
		c.sendError("invalid_message", "not joined")
		return
	}

	var update protocol.DocumentUpdate
	if err := env.DecodePayload(&update); err != nil {
		c.sendError("invalid_message", err.Error())
		return
	}

	rev, err := c.gateway.SubmitDocumentUpdate(c.sessionID, c.userID, update.Text)
	if err != nil {
		c.sendError("session_unavailable", err.Error())
		return
	}

	// The author's store advances from the ack; the buffer is never
	// echoed back
	c.sendEvent(protocol.TypeUpdateAck, protocol.UpdateAck{Revision: rev})
}

func (c *Client) handleCursorUpdate(env *protocol.Envelope) {
	if !c.joined {
		return
	}

	// Coalesce bursts by dropping, never by erroring
	if !c.cursorLimiter.Allow() {
		return
	}

	var cursor protocol.CursorUpdate
	if err := env.DecodePayload(&cursor); err != nil {
		return
	}

	c.gateway.UpdateCursor(c.sessionID, c.userID, c.displayName, c.color, cursor.Position)
}

func (c *Client) handleChatMessage(env *protocol.Envelope) {
	if !c.joined {
		c.sendError("invalid_message", "not joined")
		return
	}

	var msg protocol.ChatMessage
	if err := env.DecodePayload(&msg); err != nil {
		c.sendError("invalid_message", err.Error())
		return
	}

	if _, err := c.gateway.PostChat(c.sessionID, c.userID, c.displayName, msg.Content); err != nil {
		if errors.Is(err, chat.ErrInvalidMessage) {
			c.sendError("invalid_message", "chat message is empty")
		} else {
			c.sendError("session_unavailable", err.Error())
		}
	}
}

func (c *Client) handleResync() {
	if !c.joined {
		return
	}

	snap, err := c.gateway.SnapshotFor(c.sessionID, c.userID)
	if err != nil {
		c.sendError("session_unavailable", err.Error())
		return
	}
	c.sendEvent(protocol.TypeSnapshot, snap)
}

func (c *Client) sendEvent(msgType protocol.MessageType, payload any) {
	data, err := protocol.Encode(msgType, payload)
	if err != nil {
		log.Printf("Failed to encode %s event: %v", msgType, err)
		return
	}

	select {
	case c.send <- data:
	default:
		log.Printf("Send queue full for user %s, dropping %s", c.userID, msgType)
	}
}

func (c *Client) sendError(code, message string) {
	c.sendEvent(protocol.TypeError, protocol.ErrorEvent{Code: code, Message: message})
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
