package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Represents the type of a wire message
type MessageType string

const (
	// Client -> server requests
	TypeJoinSession  MessageType = "join_session"
	TypeLeaveSession MessageType = "leave_session"
	TypeResync       MessageType = "resync"

	// Bidirectional: sent by clients, rebroadcast by the server
	TypeDocumentUpdate MessageType = "document_update"
	TypeCursorUpdate   MessageType = "cursor_update"
	TypeChatMessage    MessageType = "chat_message"

	// Server -> client events
	TypeSnapshot          MessageType = "snapshot"
	TypeUpdateAck         MessageType = "update_ack"
	TypeParticipantJoined MessageType = "participant_joined"
	TypeParticipantLeft   MessageType = "participant_left"
	TypeError             MessageType = "error"
)

// The fixed set of message types accepted on the wire
var knownTypes = map[MessageType]bool{
	TypeJoinSession:       true,
	TypeLeaveSession:      true,
	TypeResync:            true,
	TypeDocumentUpdate:    true,
	TypeCursorUpdate:      true,
	TypeChatMessage:       true,
	TypeSnapshot:          true,
	TypeUpdateAck:         true,
	TypeParticipantJoined: true,
	TypeParticipantLeft:   true,
	TypeError:             true,
}

// Wraps every message sent over a session connection
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// A cursor location in the document
type Position struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

type JoinRequest struct {
	SessionID   string `json:"session_id"`
	WorkspaceID string `json:"workspace_id"`
	ProjectID   string `json:"project_id"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

// Carries a whole-buffer replacement. Clients fill Text only; the
// server stamps Revision, Author and SentAt before rebroadcast.
type DocumentUpdate struct {
	Text     string    `json:"text"`
	Revision int64     `json:"revision,omitempty"`
	Author   string    `json:"author,omitempty"`
	SentAt   time.Time `json:"sent_at,omitempty"`
}

type CursorUpdate struct {
	UserID      string    `json:"user_id,omitempty"`
	DisplayName string    `json:"display_name,omitempty"`
	Position    Position  `json:"position"`
	Color       string    `json:"color,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

type ChatMessage struct {
	ID          string    `json:"id,omitempty"`
	Seq         int64     `json:"seq,omitempty"`
	SessionID   string    `json:"session_id,omitempty"`
	UserID      string    `json:"user_id,omitempty"`
	DisplayName string    `json:"display_name,omitempty"`
	Content     string    `json:"content"`
	SentAt      time.Time `json:"sent_at,omitempty"`
}

// Confirms the author's own accepted update with its assigned
// revision. The buffer itself is never echoed back to the author.
type UpdateAck struct {
	Revision int64 `json:"revision"`
}

type Participant struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Color       string `json:"color"`
}

// The authoritative session state sent on join and on resync
type Snapshot struct {
	SessionID    string         `json:"session_id"`
	Text         string         `json:"text"`
	Revision     int64          `json:"revision"`
	Language     string         `json:"language,omitempty"`
	Participants []Participant  `json:"participants"`
	Cursors      []CursorUpdate `json:"cursors,omitempty"`
	Chat         []ChatMessage  `json:"chat,omitempty"`
	Self         Participant    `json:"self"`
}

type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Marshals a typed message into a wire envelope
func Encode(msgType MessageType, payload any) ([]byte, error) {
	env := Envelope{Type: msgType}

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", msgType, err)
		}
		env.Payload = data
	}

	return json.Marshal(env)
}

// Parses and validates a wire envelope
func Decode(data []byte) (*Envelope, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty message")
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("malformed envelope: %w", err)
	}

	if !knownTypes[env.Type] {
		return nil, fmt.Errorf("unknown message type: %q", env.Type)
	}

	return &env, nil
}

// Unmarshals the envelope payload into the given struct
func (e *Envelope) DecodePayload(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s: missing payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("%s: invalid payload: %w", e.Type, err)
	}
	return nil
}
