package session

import (
	"sync"
	"time"
)

// Cursor colors handed out to participants, in assignment order
var colorPalette = []string{
	"#F59E0B", "#10B981", "#3B82F6", "#8B5CF6",
	"#EF4444", "#EC4899", "#14B8A6", "#F97316",
}

// A member of a live session
type Participant struct {
	UserID      string
	DisplayName string
	Color       string
	JoinedAt    time.Time

	joinOrder int
}

// A live collaborative editing session holding the single
// authoritative document state
type Session struct {
	ID        string
	ProjectID string
	Language  string
	CreatedAt time.Time

	mu           sync.RWMutex
	text         string
	revision     int64
	participants map[string]*Participant
	joinCounter  int
	emptySince   time.Time
}

func newSession(id, projectID, language, text string) *Session {
	return &Session{
		ID:           id,
		ProjectID:    projectID,
		Language:     language,
		CreatedAt:    time.Now(),
		text:         text,
		participants: make(map[string]*Participant),
		emptySince:   time.Now(),
	}
}

// Picks the first palette color not held by a current participant,
// scanning round-robin from the join counter
func (s *Session) nextColor() string {
	inUse := make(map[string]bool, len(s.participants))
	for _, p := range s.participants {
		inUse[p.Color] = true
	}

	start := s.joinCounter % len(colorPalette)
	for i := 0; i < len(colorPalette); i++ {
		color := colorPalette[(start+i)%len(colorPalette)]
		if !inUse[color] {
			return color
		}
	}

	// More participants than palette entries; collisions are unavoidable
	return colorPalette[start]
}

func (s *Session) join(userID, displayName string) *Participant {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.participants[userID]; ok {
		// Rejoin replaces the previous ref but keeps the assigned color
		existing.DisplayName = displayName
		existing.JoinedAt = time.Now()
		return existing
	}

	p := &Participant{
		UserID:      userID,
		DisplayName: displayName,
		Color:       s.nextColor(),
		JoinedAt:    time.Now(),
		joinOrder:   s.joinCounter,
	}
	s.joinCounter++
	s.participants[userID] = p
	return p
}

func (s *Session) leave(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.participants[userID]; !ok {
		return false
	}

	delete(s.participants, userID)
	if len(s.participants) == 0 {
		s.emptySince = time.Now()
	}
	return true
}

// Returns participants ordered by join time
func (s *Session) participantList() []Participant {
	list := make([]Participant, 0, len(s.participants))
	for _, p := range s.participants {
		list = append(list, *p)
	}

	for i := 1; i < len(list); i++ {
		for j := i; j > 0 && list[j].joinOrder < list[j-1].joinOrder; j-- {
			list[j], list[j-1] = list[j-1], list[j]
		}
	}
	return list
}

// Returns the participant count
func (s *Session) ParticipantCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.participants)
}

// Reports whether the session has had no participants for at least
// the given grace period
func (s *Session) expired(grace time.Duration) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.participants) == 0 && time.Since(s.emptySince) >= grace
}
