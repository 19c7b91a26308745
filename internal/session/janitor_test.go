package session

import (
	"sync"
	"testing"
	"time"
)

type fakeSaver struct {
	mu    sync.Mutex
	saved map[string]string
}

func (f *fakeSaver) SaveDocument(projectID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saved == nil {
		f.saved = make(map[string]string)
	}
	f.saved[projectID] = text
	return nil
}

type fakeSweeper struct {
	mu       sync.Mutex
	removed  []string
	stale    int
	sweepTTL time.Duration
}

func (f *fakeSweeper) RemoveSession(sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, sessionID)
}

func (f *fakeSweeper) SweepStale(ttl time.Duration) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sweepTTL = ttl
	return f.stale
}

func TestJanitorSweepPersistsAndClears(t *testing.T) {
	r := NewRegistry()
	r.GetOrCreate("s1", "p1", "go", "")
	r.Join("s1", "u1", "Alice")
	r.ApplyDocumentUpdate("s1", "u1", "package main", nil, nil)
	r.Leave("s1", "u1")

	saver := &fakeSaver{}
	presence := &fakeSweeper{}
	chatLog := &fakeSweeper{}

	config := DefaultJanitorConfig()
	config.Grace = 0

	j := NewJanitor(r, saver, presence, chatLog, config)
	j.Sweep()

	if saver.saved["p1"] != "package main" {
		t.Errorf("Final document should be persisted, got %q", saver.saved["p1"])
	}
	if len(presence.removed) != 1 || presence.removed[0] != "s1" {
		t.Errorf("Presence state should be cleared for s1, got %v", presence.removed)
	}
	if len(chatLog.removed) != 1 || chatLog.removed[0] != "s1" {
		t.Errorf("Chat log should be cleared for s1, got %v", chatLog.removed)
	}
	if r.SessionCount() != 0 {
		t.Errorf("Expected 0 sessions after sweep, got %d", r.SessionCount())
	}
}

func TestJanitorStartStop(t *testing.T) {
	r := NewRegistry()
	config := DefaultJanitorConfig()
	config.Interval = 5 * time.Millisecond

	j := NewJanitor(r, nil, nil, nil, config)
	j.Start()
	time.Sleep(20 * time.Millisecond)
	j.Stop()
}
