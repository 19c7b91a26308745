package client

import (
	"sync"
	"testing"
	"time"

	"github.com/satoru707/CollabCode/internal/protocol"
)

type captureTransport struct {
	mu   sync.Mutex
	sent [][]byte
}

func (c *captureTransport) send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, data)
	return nil
}

func (c *captureTransport) sentTypes(t *testing.T) []protocol.MessageType {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	var types []protocol.MessageType
	for _, data := range c.sent {
		env, err := protocol.Decode(data)
		if err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		types = append(types, env.Type)
	}
	return types
}

func connectedStore() (*Store, *captureTransport) {
	transport := &captureTransport{}
	store := NewStore(transport.send)
	store.SetConnected(true)
	return store, transport
}

func TestApplySnapshot(t *testing.T) {
	store, _ := connectedStore()

	store.ApplySnapshot(&protocol.Snapshot{
		SessionID: "s1",
		Text:      "print(1)",
		Revision:  3,
		Participants: []protocol.Participant{
			{UserID: "u1", DisplayName: "Alice", Color: "#F59E0B"},
		},
		Cursors: []protocol.CursorUpdate{
			{UserID: "u1", Position: protocol.Position{Line: 2}},
		},
		Chat: []protocol.ChatMessage{
			{ID: "m1", Seq: 1, Content: "hi"},
		},
	})

	if store.Text() != "print(1)" || store.Revision() != 3 {
		t.Errorf("Expected print(1)/3, got %q/%d", store.Text(), store.Revision())
	}
	if len(store.Participants()) != 1 {
		t.Errorf("Expected 1 participant, got %d", len(store.Participants()))
	}
	if len(store.Cursors()) != 1 {
		t.Errorf("Expected 1 cursor, got %d", len(store.Cursors()))
	}
	if len(store.Chat()) != 1 {
		t.Errorf("Expected 1 chat message, got %d", len(store.Chat()))
	}
}

func TestApplyDocumentUpdateInOrder(t *testing.T) {
	store, _ := connectedStore()

	for i, text := range []string{"A", "B", "C"} {
		ok := store.ApplyDocumentUpdate(protocol.DocumentUpdate{
			Text:     text,
			Revision: int64(i + 1),
		})
		if !ok {
			t.Fatalf("Update %d should apply", i+1)
		}
	}

	if store.Text() != "C" || store.Revision() != 3 {
		t.Errorf("Expected C/3, got %q/%d", store.Text(), store.Revision())
	}
}

func TestRevisionGapTriggersResync(t *testing.T) {
	store, transport := connectedStore()

	store.ApplySnapshot(&protocol.Snapshot{Text: "v3", Revision: 3})

	// Revision jumps from 3 to 6: the update is ignored and a resync
	// request goes out
	ok := store.ApplyDocumentUpdate(protocol.DocumentUpdate{Text: "v6", Revision: 6})
	if ok {
		t.Fatal("Out-of-order update must not be applied")
	}
	if store.Text() != "v3" || store.Revision() != 3 {
		t.Errorf("Local state must stay at v3/3, got %q/%d", store.Text(), store.Revision())
	}

	types := transport.sentTypes(t)
	if len(types) != 1 || types[0] != protocol.TypeResync {
		t.Fatalf("Expected one resync request, got %v", types)
	}

	// The authoritative snapshot then brings the store up to date
	store.ApplySnapshot(&protocol.Snapshot{Text: "v6", Revision: 6})
	if store.Text() != "v6" || store.Revision() != 6 {
		t.Errorf("Expected v6/6 after resync, got %q/%d", store.Text(), store.Revision())
	}
}

func TestStaleUpdateTriggersResync(t *testing.T) {
	store, transport := connectedStore()

	store.ApplySnapshot(&protocol.Snapshot{Text: "v5", Revision: 5})

	if store.ApplyDocumentUpdate(protocol.DocumentUpdate{Text: "v4", Revision: 4}) {
		t.Fatal("Stale update must not be applied")
	}
	if store.Text() != "v5" {
		t.Errorf("Expected v5, got %q", store.Text())
	}
	if types := transport.sentTypes(t); len(types) != 1 {
		t.Errorf("Expected a resync request, got %v", types)
	}
}

func TestUpdateAckAdvancesRevision(t *testing.T) {
	store, transport := connectedStore()

	store.ApplySnapshot(&protocol.Snapshot{Text: "v3", Revision: 3})

	// The author types, submits, and binds the revision on ack
	store.ApplyLocalEdit("v4")
	if !store.ApplyUpdateAck(protocol.UpdateAck{Revision: 4}) {
		t.Fatal("Ack for current+1 should apply")
	}
	if store.Text() != "v4" || store.Revision() != 4 {
		t.Errorf("Expected v4/4 after ack, got %q/%d", store.Text(), store.Revision())
	}

	// A remote update right after the author's own edit applies cleanly
	if !store.ApplyDocumentUpdate(protocol.DocumentUpdate{Text: "v5", Revision: 5}) {
		t.Fatal("Gapless remote update after an acked edit must apply")
	}
	if types := transport.sentTypes(t); len(types) != 0 {
		t.Errorf("No resync should be requested, got %v", types)
	}
}

func TestUpdateAckGapTriggersResync(t *testing.T) {
	store, transport := connectedStore()

	store.ApplySnapshot(&protocol.Snapshot{Text: "v3", Revision: 3})

	// An ack past current+1 means a broadcast was missed in between
	if store.ApplyUpdateAck(protocol.UpdateAck{Revision: 5}) {
		t.Fatal("Ack with a gap must not be applied")
	}
	if store.Revision() != 3 {
		t.Errorf("Revision must stay at 3, got %d", store.Revision())
	}

	types := transport.sentTypes(t)
	if len(types) != 1 || types[0] != protocol.TypeResync {
		t.Fatalf("Expected one resync request, got %v", types)
	}
}

func TestApplyRoutesUpdateAck(t *testing.T) {
	store, _ := connectedStore()

	store.ApplySnapshot(&protocol.Snapshot{Text: "v1", Revision: 1})
	store.ApplyLocalEdit("v2")

	data, _ := protocol.Encode(protocol.TypeUpdateAck, protocol.UpdateAck{Revision: 2})
	if err := store.Apply(data); err != nil {
		t.Fatalf("Apply ack failed: %v", err)
	}
	if store.Revision() != 2 {
		t.Errorf("Expected revision 2 after routed ack, got %d", store.Revision())
	}
}

func TestChatApplyIdempotentByID(t *testing.T) {
	store, _ := connectedStore()

	msg := protocol.ChatMessage{ID: "m1", Seq: 1, Content: "hello"}
	if !store.ApplyChat(msg) {
		t.Fatal("First apply should succeed")
	}
	if store.ApplyChat(msg) {
		t.Error("Duplicate id should be a no-op")
	}
	if len(store.Chat()) != 1 {
		t.Errorf("Expected 1 message, got %d", len(store.Chat()))
	}
}

func TestChatNeverReordersPastHigherSeq(t *testing.T) {
	store, _ := connectedStore()

	store.ApplyChat(protocol.ChatMessage{ID: "m2", Seq: 2, Content: "second"})
	if store.ApplyChat(protocol.ChatMessage{ID: "m1", Seq: 1, Content: "first"}) {
		t.Error("Message older than already-applied seq should be dropped")
	}

	chatLog := store.Chat()
	if len(chatLog) != 1 || chatLog[0].ID != "m2" {
		t.Errorf("Unexpected chat log: %+v", chatLog)
	}
}

func TestCursorUpsert(t *testing.T) {
	store, _ := connectedStore()

	store.ApplyCursor(protocol.CursorUpdate{UserID: "u1", Position: protocol.Position{Line: 1}})
	store.ApplyCursor(protocol.CursorUpdate{UserID: "u1", Position: protocol.Position{Line: 1}})

	if len(store.Cursors()) != 1 {
		t.Fatalf("Applying the same cursor twice should yield one entry, got %d", len(store.Cursors()))
	}

	store.ApplyCursor(protocol.CursorUpdate{UserID: "u1", Position: protocol.Position{Line: 8}})
	cursors := store.Cursors()
	if len(cursors) != 1 || cursors[0].Position.Line != 8 {
		t.Errorf("Expected single cursor at line 8, got %+v", cursors)
	}
}

func TestParticipantLeftClearsCursor(t *testing.T) {
	store, _ := connectedStore()

	store.ApplyParticipantJoined(protocol.Participant{UserID: "u1", DisplayName: "Alice"})
	store.ApplyCursor(protocol.CursorUpdate{UserID: "u1"})

	store.ApplyParticipantLeft("u1")
	if len(store.Participants()) != 0 {
		t.Error("Participant should be removed")
	}
	if len(store.Cursors()) != 0 {
		t.Error("Departed participant's cursor should be removed")
	}
}

func TestSendQueuesWhileDisconnected(t *testing.T) {
	transport := &captureTransport{}
	store := NewStore(transport.send)

	if store.Connected() {
		t.Fatal("New store starts disconnected")
	}

	if err := store.Send([]byte("queued-1")); err != nil {
		t.Fatalf("Send while disconnected should queue: %v", err)
	}
	store.Send([]byte("queued-2"))

	if len(transport.sent) != 0 {
		t.Fatal("Nothing should reach the transport while disconnected")
	}

	store.SetConnected(true)
	if len(transport.sent) != 2 {
		t.Fatalf("Queued sends should flush on reconnect, got %d", len(transport.sent))
	}
	if string(transport.sent[0]) != "queued-1" {
		t.Errorf("Flush should preserve order, got %s", transport.sent[0])
	}
}

func TestFlushBlocksConcurrentSend(t *testing.T) {
	var mu sync.Mutex
	var sent []string
	transport := func(data []byte) error {
		mu.Lock()
		sent = append(sent, string(data))
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		return nil
	}

	store := NewStore(transport)
	store.Send([]byte("queued-1"))
	store.Send([]byte("queued-2"))

	// A send racing the reconnect flush must wait behind it
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(time.Millisecond)
		store.Send([]byte("live"))
	}()

	store.SetConnected(true)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	want := []string{"queued-1", "queued-2", "live"}
	if len(sent) != len(want) {
		t.Fatalf("Expected %d sends, got %v", len(want), sent)
	}
	for i, w := range want {
		if sent[i] != w {
			t.Fatalf("Send order broken: %v", sent)
		}
	}
}

func TestApplyRoutesEncodedEvents(t *testing.T) {
	store, _ := connectedStore()

	data, _ := protocol.Encode(protocol.TypeSnapshot, protocol.Snapshot{Text: "hello", Revision: 1})
	if err := store.Apply(data); err != nil {
		t.Fatalf("Apply snapshot failed: %v", err)
	}

	data, _ = protocol.Encode(protocol.TypeDocumentUpdate, protocol.DocumentUpdate{Text: "world", Revision: 2})
	if err := store.Apply(data); err != nil {
		t.Fatalf("Apply update failed: %v", err)
	}

	if store.Text() != "world" || store.Revision() != 2 {
		t.Errorf("Expected world/2, got %q/%d", store.Text(), store.Revision())
	}

	if err := store.Apply([]byte("garbage")); err == nil {
		t.Error("Malformed event should error")
	}
}
