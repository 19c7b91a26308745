package chat

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/ksuid"
)

// Returned when a message is empty after trimming
var ErrInvalidMessage = errors.New("invalid chat message")

// Upper bound on retained history per session; older messages fall
// off the front but keep their sequence numbers
const defaultHistoryLimit = 200

// One chat message in a session's append-only log. IDs are unique and
// k-sortable; Seq is strictly increasing within a session.
type Message struct {
	ID          string    `json:"id"`
	Seq         int64     `json:"seq"`
	SessionID   string    `json:"session_id"`
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Content     string    `json:"content"`
	SentAt      time.Time `json:"sent_at"`
}

type sessionLog struct {
	mu       sync.Mutex
	seq      int64
	messages []Message
}

// The per-session ordered chat log. Total order is server receipt
// order within a session.
type Relay struct {
	mu           sync.RWMutex
	sessions     map[string]*sessionLog
	historyLimit int
}

func NewRelay() *Relay {
	return &Relay{
		sessions:     make(map[string]*sessionLog),
		historyLimit: defaultHistoryLimit,
	}
}

func (r *Relay) getLog(sessionID string) *sessionLog {
	r.mu.RLock()
	sl, ok := r.sessions[sessionID]
	r.mu.RUnlock()

	if ok {
		return sl
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if sl, ok := r.sessions[sessionID]; ok {
		return sl
	}

	sl = &sessionLog{}
	r.sessions[sessionID] = sl
	return sl
}

// Appends a message to the session log and returns it with its
// assigned ID and sequence number. Content that is empty after
// trimming is rejected with ErrInvalidMessage and never stored.
func (r *Relay) Post(sessionID, userID, displayName, content string) (Message, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return Message{}, ErrInvalidMessage
	}

	sl := r.getLog(sessionID)

	sl.mu.Lock()
	defer sl.mu.Unlock()

	sl.seq++
	msg := Message{
		ID:          ksuid.New().String(),
		Seq:         sl.seq,
		SessionID:   sessionID,
		UserID:      userID,
		DisplayName: displayName,
		Content:     trimmed,
		SentAt:      time.Now(),
	}

	sl.messages = append(sl.messages, msg)
	if len(sl.messages) > r.historyLimit {
		sl.messages = sl.messages[len(sl.messages)-r.historyLimit:]
	}

	return msg, nil
}

// Returns the retained messages for a session in order
func (r *Relay) History(sessionID string) []Message {
	r.mu.RLock()
	sl, ok := r.sessions[sessionID]
	r.mu.RUnlock()

	if !ok {
		return nil
	}

	sl.mu.Lock()
	defer sl.mu.Unlock()

	history := make([]Message, len(sl.messages))
	copy(history, sl.messages)
	return history
}

// Drops the chat log for a destroyed session
func (r *Relay) RemoveSession(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
}
