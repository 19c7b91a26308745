package client

import (
	"fmt"
	"sync"

	"github.com/satoru707/CollabCode/internal/protocol"
)

// Sends an encoded message to the server. Implemented by the
// transport owned by the embedding application.
type SendFunc func(data []byte) error

// Mirrors the authoritative session state for the rendered editor
// surface: document text and revision, remote cursors, chat log,
// participant list and connectivity.
//
// The document apply rule is strict: an update whose revision is not
// exactly current+1 signals a missed message and triggers a resync
// request instead of being applied.
type Store struct {
	mu sync.Mutex

	// Serializes transport writes so a reconnect flush and a
	// concurrent Send cannot interleave out of order
	sendMu sync.Mutex

	text     string
	revision int64

	cursors      map[string]protocol.CursorUpdate
	participants map[string]protocol.Participant
	chatLog      []protocol.ChatMessage
	seenChat     map[string]bool
	lastChatSeq  int64

	connected bool
	pending   [][]byte
	send      SendFunc
}

func NewStore(send SendFunc) *Store {
	return &Store{
		cursors:      make(map[string]protocol.CursorUpdate),
		participants: make(map[string]protocol.Participant),
		seenChat:     make(map[string]bool),
		send:         send,
	}
}

// Decodes one server event and applies it to the local mirror
func (s *Store) Apply(data []byte) error {
	env, err := protocol.Decode(data)
	if err != nil {
		return err
	}

	switch env.Type {
	case protocol.TypeSnapshot:
		var snap protocol.Snapshot
		if err := env.DecodePayload(&snap); err != nil {
			return err
		}
		s.ApplySnapshot(&snap)

	case protocol.TypeDocumentUpdate:
		var update protocol.DocumentUpdate
		if err := env.DecodePayload(&update); err != nil {
			return err
		}
		s.ApplyDocumentUpdate(update)

	case protocol.TypeUpdateAck:
		var ack protocol.UpdateAck
		if err := env.DecodePayload(&ack); err != nil {
			return err
		}
		s.ApplyUpdateAck(ack)

	case protocol.TypeCursorUpdate:
		var cursor protocol.CursorUpdate
		if err := env.DecodePayload(&cursor); err != nil {
			return err
		}
		s.ApplyCursor(cursor)

	case protocol.TypeChatMessage:
		var msg protocol.ChatMessage
		if err := env.DecodePayload(&msg); err != nil {
			return err
		}
		s.ApplyChat(msg)

	case protocol.TypeParticipantJoined:
		var p protocol.Participant
		if err := env.DecodePayload(&p); err != nil {
			return err
		}
		s.ApplyParticipantJoined(p)

	case protocol.TypeParticipantLeft:
		var p protocol.Participant
		if err := env.DecodePayload(&p); err != nil {
			return err
		}
		s.ApplyParticipantLeft(p.UserID)

	case protocol.TypeError:
		// Surfaced by the UI layer, nothing to reconcile

	default:
		return fmt.Errorf("unexpected server event: %s", env.Type)
	}
	return nil
}

// Replaces the whole local mirror with an authoritative snapshot
func (s *Store) ApplySnapshot(snap *protocol.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.text = snap.Text
	s.revision = snap.Revision

	s.participants = make(map[string]protocol.Participant, len(snap.Participants))
	for _, p := range snap.Participants {
		s.participants[p.UserID] = p
	}

	s.cursors = make(map[string]protocol.CursorUpdate, len(snap.Cursors))
	for _, c := range snap.Cursors {
		s.cursors[c.UserID] = c
	}

	s.chatLog = append([]protocol.ChatMessage(nil), snap.Chat...)
	s.seenChat = make(map[string]bool, len(snap.Chat))
	s.lastChatSeq = 0
	for _, m := range snap.Chat {
		s.seenChat[m.ID] = true
		if m.Seq > s.lastChatSeq {
			s.lastChatSeq = m.Seq
		}
	}
}

// Applies a broadcast buffer replacement. Returns false when the
// revision is not exactly current+1; in that case the update is
// ignored and a resync is requested.
func (s *Store) ApplyDocumentUpdate(update protocol.DocumentUpdate) bool {
	s.mu.Lock()

	if update.Revision != s.revision+1 {
		s.mu.Unlock()
		s.requestResync()
		return false
	}

	s.text = update.Text
	s.revision = update.Revision
	s.mu.Unlock()
	return true
}

// Records the author's own edit. The typed buffer is authoritative
// locally the moment it is entered; the revision advances when the
// server acknowledges the update.
func (s *Store) ApplyLocalEdit(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.text = text
}

// Advances the revision for the author's own accepted update. An ack
// that is not exactly current+1 means a broadcast was missed in
// between, so the update is not bound and a resync is requested.
func (s *Store) ApplyUpdateAck(ack protocol.UpdateAck) bool {
	s.mu.Lock()

	if ack.Revision != s.revision+1 {
		s.mu.Unlock()
		s.requestResync()
		return false
	}

	s.revision = ack.Revision
	s.mu.Unlock()
	return true
}

// Upserts a remote cursor by userID
func (s *Store) ApplyCursor(cursor protocol.CursorUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[cursor.UserID] = cursor
}

// Appends a chat message. Duplicate ids (the author's own echo) and
// messages older than already-applied ones are ignored.
func (s *Store) ApplyChat(msg protocol.ChatMessage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.seenChat[msg.ID] {
		return false
	}
	if msg.Seq <= s.lastChatSeq {
		return false
	}

	s.seenChat[msg.ID] = true
	s.lastChatSeq = msg.Seq
	s.chatLog = append(s.chatLog, msg)
	return true
}

func (s *Store) ApplyParticipantJoined(p protocol.Participant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.participants[p.UserID] = p
}

func (s *Store) ApplyParticipantLeft(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.participants, userID)
	delete(s.cursors, userID)
}

// Issues a resync request over the transport
func (s *Store) requestResync() {
	data, err := protocol.Encode(protocol.TypeResync, nil)
	if err != nil {
		return
	}
	s.Send(data)
}

// Sends a message, queueing it while disconnected so it is never
// silently lost. Queued messages flush on reconnect, and a send
// racing that flush waits behind it.
func (s *Store) Send(data []byte) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.mu.Lock()
	if !s.connected {
		s.pending = append(s.pending, data)
		s.mu.Unlock()
		return nil
	}
	send := s.send
	s.mu.Unlock()

	if send == nil {
		return fmt.Errorf("no transport configured")
	}
	return send(data)
}

// Flips the connectivity flag; reconnecting flushes queued sends
// before any newer send reaches the transport
func (s *Store) SetConnected(connected bool) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.mu.Lock()
	s.connected = connected
	var flush [][]byte
	if connected {
		flush = s.pending
		s.pending = nil
	}
	send := s.send
	s.mu.Unlock()

	if send == nil {
		return
	}
	for _, data := range flush {
		if err := send(data); err != nil {
			return
		}
	}
}

func (s *Store) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *Store) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text
}

func (s *Store) Revision() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revision
}

func (s *Store) Cursors() []protocol.CursorUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()

	cursors := make([]protocol.CursorUpdate, 0, len(s.cursors))
	for _, c := range s.cursors {
		cursors = append(cursors, c)
	}
	return cursors
}

func (s *Store) Participants() []protocol.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()

	participants := make([]protocol.Participant, 0, len(s.participants))
	for _, p := range s.participants {
		participants = append(participants, p)
	}
	return participants
}

func (s *Store) Chat() []protocol.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	chatLog := make([]protocol.ChatMessage, len(s.chatLog))
	copy(chatLog, s.chatLog)
	return chatLog
}
