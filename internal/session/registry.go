package session

import (
	"errors"
	"sync"
	"time"
)

var (
	// Returned for operations against a session that does not exist
	ErrNoSession = errors.New("session not found")

	// Returned when an update carries an expected revision that no
	// longer matches the authoritative one
	ErrRevisionMismatch = errors.New("revision mismatch")
)

// An atomic view of a session's authoritative state
type Snapshot struct {
	SessionID    string
	ProjectID    string
	Language     string
	Text         string
	Revision     int64
	Participants []Participant
}

// A destroyed session's final document, handed to the janitor for
// persistence
type Remnant struct {
	SessionID string
	ProjectID string
	Text      string
}

// The process-wide table of active sessions
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
	}
}

// Returns the session with the given ID, creating it with the given
// project binding and initial document if it does not exist
func (r *Registry) GetOrCreate(sessionID, projectID, language, initialText string) *Session {
	r.mu.RLock()
	s, ok := r.sessions[sessionID]
	r.mu.RUnlock()

	if ok {
		return s
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[sessionID]; ok {
		return s
	}

	s = newSession(sessionID, projectID, language, initialText)
	r.sessions[sessionID] = s
	return s
}

func (r *Registry) get(sessionID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	return s, ok
}

// Adds the user to the session's participant set. A userID already
// present is replaced, never duplicated.
func (r *Registry) Join(sessionID, userID, displayName string) (*Participant, error) {
	s, ok := r.get(sessionID)
	if !ok {
		return nil, ErrNoSession
	}

	p := s.join(userID, displayName)

	// SweepEmpty may have removed the session between the lookup and
	// the join. Once the join is visible the sweeper keeps the session,
	// so re-checking registration here closes the window.
	r.mu.RLock()
	current, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok || current != s {
		s.leave(userID)
		return nil, ErrNoSession
	}

	return p, nil
}

// Removes the user from the session's participant set. Leaving twice,
// or leaving a session never joined, is a no-op.
func (r *Registry) Leave(sessionID, userID string) bool {
	s, ok := r.get(sessionID)
	if !ok {
		return false
	}
	return s.leave(userID)
}

// Replaces the session's document buffer and advances the revision by
// exactly one. The per-session lock is the single serialization point:
// concurrent updates are applied one at a time and always receive
// distinct, consecutive revisions.
//
// A nil expected revision applies unconditionally (last writer wins).
// A non-nil expected revision that does not match the current one
// returns ErrRevisionMismatch and leaves the document untouched.
//
// publish, when non-nil, runs while the session lock is still held, so
// callers that enqueue a broadcast inside it are guaranteed that
// broadcast order matches revision order.
func (r *Registry) ApplyDocumentUpdate(sessionID, userID, newText string, expected *int64, publish func(revision int64)) (int64, error) {
	s, ok := r.get(sessionID)
	if !ok {
		return 0, ErrNoSession
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if expected != nil && *expected != s.revision {
		return s.revision, ErrRevisionMismatch
	}

	s.text = newText
	s.revision++

	if publish != nil {
		publish(s.revision)
	}
	return s.revision, nil
}

// Returns an atomic view of the session's document, revision and
// participant set
func (r *Registry) Snapshot(sessionID string) (Snapshot, error) {
	s, ok := r.get(sessionID)
	if !ok {
		return Snapshot{}, ErrNoSession
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return Snapshot{
		SessionID:    s.ID,
		ProjectID:    s.ProjectID,
		Language:     s.Language,
		Text:         s.text,
		Revision:     s.revision,
		Participants: s.participantList(),
	}, nil
}

// Removes sessions that have been empty for at least the grace period
// and returns their final documents
func (r *Registry) SweepEmpty(grace time.Duration) []Remnant {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []Remnant
	for id, s := range r.sessions {
		if s.expired(grace) {
			s.mu.RLock()
			removed = append(removed, Remnant{
				SessionID: id,
				ProjectID: s.ProjectID,
				Text:      s.text,
			})
			s.mu.RUnlock()
			delete(r.sessions, id)
		}
	}
	return removed
}

// Returns the number of live sessions
func (r *Registry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Returns the number of participants across all live sessions
func (r *Registry) ParticipantCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	for _, s := range r.sessions {
		total += s.ParticipantCount()
	}
	return total
}
