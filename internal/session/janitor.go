package session

import (
	"log"
	"sync"
	"time"
)

// Persists a session's final document when the session is destroyed
type DocumentSaver interface {
	SaveDocument(projectID, text string) error
}

// Clears per-session state owned by another component when a session
// is destroyed, and evicts stale cursor entries
type PresenceSweeper interface {
	RemoveSession(sessionID string)
	SweepStale(ttl time.Duration) int
}

// Clears a session's chat log when the session is destroyed
type ChatSweeper interface {
	RemoveSession(sessionID string)
}

type JanitorConfig struct {
	Interval  time.Duration
	Grace     time.Duration
	CursorTTL time.Duration
}

func DefaultJanitorConfig() JanitorConfig {
	return JanitorConfig{
		Interval:  10 * time.Second,
		Grace:     30 * time.Second,
		CursorTTL: 2 * time.Minute,
	}
}

// Periodically destroys sessions that stayed empty past the grace
// period and evicts stale presence entries. The grace period tolerates
// brief reconnects without losing session state.
type Janitor struct {
	registry *Registry
	saver    DocumentSaver
	presence PresenceSweeper
	chat     ChatSweeper
	config   JanitorConfig
	stop     chan struct{}
	wg       sync.WaitGroup
}

func NewJanitor(registry *Registry, saver DocumentSaver, presence PresenceSweeper, chat ChatSweeper, config JanitorConfig) *Janitor {
	return &Janitor{
		registry: registry,
		saver:    saver,
		presence: presence,
		chat:     chat,
		config:   config,
		stop:     make(chan struct{}),
	}
}

func (j *Janitor) Start() {
	j.wg.Add(1)
	go j.run()
	log.Printf("Session janitor started (interval: %v, grace: %v)",
		j.config.Interval, j.config.Grace)
}

func (j *Janitor) Stop() {
	close(j.stop)
	j.wg.Wait()
	log.Println("Session janitor stopped")
}

func (j *Janitor) run() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.stop:
			return
		case <-ticker.C:
			j.Sweep()
		}
	}
}

// Runs one destruction pass. Exposed for tests and shutdown.
func (j *Janitor) Sweep() {
	removed := j.registry.SweepEmpty(j.config.Grace)
	for _, remnant := range removed {
		if j.saver != nil && remnant.ProjectID != "" {
			if err := j.saver.SaveDocument(remnant.ProjectID, remnant.Text); err != nil {
				log.Printf("Janitor: failed to save document for project %s: %v", remnant.ProjectID, err)
			}
		}
		if j.presence != nil {
			j.presence.RemoveSession(remnant.SessionID)
		}
		if j.chat != nil {
			j.chat.RemoveSession(remnant.SessionID)
		}
		log.Printf("Session %s destroyed (empty past grace period)", remnant.SessionID)
	}

	if j.presence != nil {
		if evicted := j.presence.SweepStale(j.config.CursorTTL); evicted > 0 {
			log.Printf("Janitor: evicted %d stale cursors", evicted)
		}
	}
}
