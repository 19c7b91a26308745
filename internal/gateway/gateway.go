package gateway

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/satoru707/CollabCode/internal/chat"
	"github.com/satoru707/CollabCode/internal/presence"
	"github.com/satoru707/CollabCode/internal/protocol"
	"github.com/satoru707/CollabCode/internal/session"
	"github.com/satoru707/CollabCode/internal/workspace"
)

// Returned when the backing project cannot be resolved; fatal to the
// join attempt
var ErrSessionUnavailable = errors.New("session unavailable")

// Fans an encoded event out to every connected member of a session,
// optionally excluding one user's connections. Implemented by ws.Hub.
type Broadcaster interface {
	BroadcastToSession(sessionID string, data []byte, excludeUserID string)
}

// Resolves the project a session is bound to
type ProjectResolver interface {
	ResolveProject(workspaceID, projectID string) (*workspace.Project, error)
}

type JoinParams struct {
	SessionID   string
	WorkspaceID string
	ProjectID   string
	UserID      string
	DisplayName string
}

// Admits clients into sessions and routes their document, cursor and
// chat traffic to the per-session relays
type Gateway struct {
	registry *session.Registry
	presence *presence.Tracker
	chat     *chat.Relay
	projects ProjectResolver
	hub      Broadcaster
}

func New(registry *session.Registry, tracker *presence.Tracker, relay *chat.Relay, projects ProjectResolver, hub Broadcaster) *Gateway {
	return &Gateway{
		registry: registry,
		presence: tracker,
		chat:     relay,
		projects: projects,
		hub:      hub,
	}
}

// Admits a user into a session. The backing project must resolve;
// otherwise the join fails with ErrSessionUnavailable. Existing
// participants are notified of the arrival before the snapshot is
// returned, so the joiner's later updates always come from a known
// participant.
func (g *Gateway) Join(p JoinParams) (*protocol.Snapshot, error) {
	proj, err := g.projects.ResolveProject(p.WorkspaceID, p.ProjectID)
	if err != nil {
		if errors.Is(err, workspace.ErrNotFound) {
			return nil, fmt.Errorf("%w: project %s", ErrSessionUnavailable, p.ProjectID)
		}
		return nil, fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
	}

	// A fresh session starts from the project's saved document
	g.registry.GetOrCreate(p.SessionID, proj.ID, proj.Language, proj.Document)

	participant, err := g.registry.Join(p.SessionID, p.UserID, p.DisplayName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
	}

	g.broadcast(p.SessionID, protocol.TypeParticipantJoined, protocol.Participant{
		UserID:      participant.UserID,
		DisplayName: participant.DisplayName,
		Color:       participant.Color,
	}, p.UserID)

	snap, err := g.snapshot(p.SessionID, p.UserID)
	if err != nil {
		// The janitor can sweep the session between join and snapshot
		return nil, fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
	}

	log.Printf("User %s joined session %s", p.UserID, p.SessionID)
	return snap, nil
}

// Removes a user from a session and notifies the remaining
// participants. Idempotent: leaving twice or leaving an unknown
// session is a no-op.
func (g *Gateway) Leave(sessionID, userID string) {
	if !g.registry.Leave(sessionID, userID) {
		return
	}

	g.presence.RemoveCursor(sessionID, userID)
	g.broadcast(sessionID, protocol.TypeParticipantLeft, protocol.Participant{
		UserID: userID,
	}, "")

	log.Printf("User %s left session %s", userID, sessionID)
}

// Applies a whole-buffer document update and broadcasts the new
// authoritative state to every other participant. The author's own
// send is not echoed back.
func (g *Gateway) SubmitDocumentUpdate(sessionID, userID, text string) (int64, error) {
	return g.registry.ApplyDocumentUpdate(sessionID, userID, text, nil, func(revision int64) {
		g.broadcast(sessionID, protocol.TypeDocumentUpdate, protocol.DocumentUpdate{
			Text:     text,
			Revision: revision,
			Author:   userID,
			SentAt:   time.Now(),
		}, userID)
	})
}

// Upserts a cursor position and relays it to the other participants.
// Advisory only: never ordered against document updates.
func (g *Gateway) UpdateCursor(sessionID, userID, displayName, color string, pos protocol.Position) {
	g.presence.UpdateCursor(sessionID, userID, displayName, color, pos)
	g.broadcast(sessionID, protocol.TypeCursorUpdate, protocol.CursorUpdate{
		UserID:      userID,
		DisplayName: displayName,
		Position:    pos,
		Color:       color,
		UpdatedAt:   time.Now(),
	}, userID)
}

// Appends a chat message and broadcasts it to all participants,
// including the author's connections; clients de-duplicate by id.
func (g *Gateway) PostChat(sessionID, userID, displayName, content string) (chat.Message, error) {
	msg, err := g.chat.Post(sessionID, userID, displayName, content)
	if err != nil {
		return chat.Message{}, err
	}

	g.broadcast(sessionID, protocol.TypeChatMessage, protocol.ChatMessage{
		ID:          msg.ID,
		Seq:         msg.Seq,
		SessionID:   msg.SessionID,
		UserID:      msg.UserID,
		DisplayName: msg.DisplayName,
		Content:     msg.Content,
		SentAt:      msg.SentAt,
	}, "")

	return msg, nil
}

// Builds the current authoritative snapshot for a participant, used
// on join and on client-requested resync
func (g *Gateway) SnapshotFor(sessionID, userID string) (*protocol.Snapshot, error) {
	return g.snapshot(sessionID, userID)
}

func (g *Gateway) snapshot(sessionID, userID string) (*protocol.Snapshot, error) {
	snap, err := g.registry.Snapshot(sessionID)
	if err != nil {
		return nil, err
	}

	out := &protocol.Snapshot{
		SessionID:    snap.SessionID,
		Text:         snap.Text,
		Revision:     snap.Revision,
		Language:     snap.Language,
		Participants: make([]protocol.Participant, 0, len(snap.Participants)),
	}

	for _, p := range snap.Participants {
		info := protocol.Participant{
			UserID:      p.UserID,
			DisplayName: p.DisplayName,
			Color:       p.Color,
		}
		out.Participants = append(out.Participants, info)
		if p.UserID == userID {
			out.Self = info
		}
	}

	cursorByUser := make(map[string]protocol.CursorUpdate)
	for _, c := range g.presence.List(sessionID, userID) {
		cursorByUser[c.UserID] = protocol.CursorUpdate{
			UserID:      c.UserID,
			DisplayName: c.DisplayName,
			Position:    c.Position,
			Color:       c.Color,
			UpdatedAt:   c.UpdatedAt,
		}
	}

	// Cursors follow the participant list's join order
	for _, p := range out.Participants {
		if c, ok := cursorByUser[p.UserID]; ok {
			out.Cursors = append(out.Cursors, c)
		}
	}

	for _, m := range g.chat.History(sessionID) {
		out.Chat = append(out.Chat, protocol.ChatMessage{
			ID:          m.ID,
			Seq:         m.Seq,
			SessionID:   m.SessionID,
			UserID:      m.UserID,
			DisplayName: m.DisplayName,
			Content:     m.Content,
			SentAt:      m.SentAt,
		})
	}

	return out, nil
}

func (g *Gateway) broadcast(sessionID string, msgType protocol.MessageType, payload any, excludeUserID string) {
	data, err := protocol.Encode(msgType, payload)
	if err != nil {
		log.Printf("Failed to encode %s broadcast: %v", msgType, err)
		return
	}
	g.hub.BroadcastToSession(sessionID, data, excludeUserID)
}
