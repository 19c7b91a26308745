package presence

import (
	"sync"
	"time"

	"github.com/satoru707/CollabCode/internal/protocol"
)

// The last-known cursor of one participant. Ephemeral: never
// persisted, evicted when the participant leaves or goes stale.
type CursorState struct {
	UserID      string
	DisplayName string
	Color       string
	Position    protocol.Position
	UpdatedAt   time.Time

	seenOrder int
}

type sessionCursors struct {
	cursors map[string]*CursorState
	counter int
}

// Tracks cursor positions per session. Cursor updates are advisory
// and are not ordered against document revisions.
type Tracker struct {
	mu       sync.RWMutex
	sessions map[string]*sessionCursors
}

func NewTracker() *Tracker {
	return &Tracker{
		sessions: make(map[string]*sessionCursors),
	}
}

// Upserts the cursor for the given user. Applying the same position
// twice yields one entry.
func (t *Tracker) UpdateCursor(sessionID, userID, displayName, color string, pos protocol.Position) {
	t.mu.Lock()
	defer t.mu.Unlock()

	sc, ok := t.sessions[sessionID]
	if !ok {
		sc = &sessionCursors{cursors: make(map[string]*CursorState)}
		t.sessions[sessionID] = sc
	}

	if existing, ok := sc.cursors[userID]; ok {
		existing.DisplayName = displayName
		existing.Color = color
		existing.Position = pos
		existing.UpdatedAt = time.Now()
		return
	}

	sc.cursors[userID] = &CursorState{
		UserID:      userID,
		DisplayName: displayName,
		Color:       color,
		Position:    pos,
		UpdatedAt:   time.Now(),
		seenOrder:   sc.counter,
	}
	sc.counter++
}

func (t *Tracker) RemoveCursor(sessionID, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	sc, ok := t.sessions[sessionID]
	if !ok {
		return
	}

	delete(sc.cursors, userID)
	if len(sc.cursors) == 0 {
		delete(t.sessions, sessionID)
	}
}

// Drops all cursor state for a destroyed session
func (t *Tracker) RemoveSession(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, sessionID)
}

// Returns the session's cursors ordered by first-seen time, excluding
// the caller's own entry
func (t *Tracker) List(sessionID, excludeUserID string) []CursorState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	sc, ok := t.sessions[sessionID]
	if !ok {
		return nil
	}

	list := make([]CursorState, 0, len(sc.cursors))
	for userID, c := range sc.cursors {
		if userID == excludeUserID {
			continue
		}
		list = append(list, *c)
	}

	for i := 1; i < len(list); i++ {
		for j := i; j > 0 && list[j].seenOrder < list[j-1].seenOrder; j-- {
			list[j], list[j-1] = list[j-1], list[j]
		}
	}
	return list
}

// Evicts cursors that have not been updated within the TTL and
// returns the number removed
func (t *Tracker) SweepStale(ttl time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	evicted := 0
	cutoff := time.Now().Add(-ttl)
	for sessionID, sc := range t.sessions {
		for userID, c := range sc.cursors {
			if c.UpdatedAt.Before(cutoff) {
				delete(sc.cursors, userID)
				evicted++
			}
		}
		if len(sc.cursors) == 0 {
			delete(t.sessions, sessionID)
		}
	}
	return evicted
}
