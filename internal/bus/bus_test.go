package bus

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/werkbank-io/werkbank/internal/store"
	"github.com/werkbank-io/werkbank/pkg/protocol"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s, err := NewSQLiteStore(db)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	return New(s, nil)
}

func publish(t *testing.T, b *Bus, from, to string, prio protocol.Priority) protocol.Message {
	t.Helper()
	msg, err := protocol.NewTaskRequest(from, to, "task", map[string]any{"x": 1}, prio)
	if err != nil {
		t.Fatalf("build message: %v", err)
	}
	if _, err := b.Publish(msg); err != nil {
		t.Fatalf("publish: %v", err)
	}
	return msg
}

func TestPublishPollAcknowledge(t *testing.T) {
	b := newTestBus(t)

	sent := publish(t, b, "A", "B", protocol.PriorityNormal)

	msgs, err := b.Poll("B")
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 pending message, got %d", len(msgs))
	}
	got := msgs[0]
	if got.ID != sent.ID {
		t.Errorf("expected message %s, got %s", sent.ID, got.ID)
	}
	if got.Status != protocol.StatusPending {
		t.Errorf("expected pending, got %q", got.Status)
	}

	var req protocol.TaskRequest
	if err := got.DecodePayload(&req); err != nil {
		t.Fatalf("decode payload: %v", err)
	}

	if err := b.Acknowledge(got.ID); err != nil {
		t.Fatalf("acknowledge: %v", err)
	}

	msgs, _ = b.Poll("B")
	if len(msgs) != 0 {
		t.Fatalf("acknowledged message returned by poll again: %d messages", len(msgs))
	}
}

func TestAcknowledgeIdempotent(t *testing.T) {
	b := newTestBus(t)
	msg := publish(t, b, "A", "B", protocol.PriorityNormal)

	if err := b.Acknowledge(msg.ID); err != nil {
		t.Fatalf("first acknowledge: %v", err)
	}

	first, _ := b.History("B", 1)
	firstStamp := first[0].ProcessedAt

	time.Sleep(5 * time.Millisecond)
	if err := b.Acknowledge(msg.ID); err != nil {
		t.Fatalf("second acknowledge should be a no-op, got %v", err)
	}

	again, _ := b.History("B", 1)
	if firstStamp == nil || again[0].ProcessedAt == nil {
		t.Fatal("processed_at not set")
	}
	if !again[0].ProcessedAt.Equal(*firstStamp) {
		t.Error("second acknowledge moved processed_at")
	}
}

func TestPollFiltersByReceiver(t *testing.T) {
	b := newTestBus(t)
	publish(t, b, "A", "B", protocol.PriorityNormal)
	publish(t, b, "A", "C", protocol.PriorityNormal)

	msgs, _ := b.Poll("B")
	for _, m := range msgs {
		if m.Receiver != "B" {
			t.Errorf("poll(B) returned message for %q", m.Receiver)
		}
	}
	if len(msgs) != 1 {
		t.Errorf("expected 1 message for B, got %d", len(msgs))
	}
}

func TestPollOrdering(t *testing.T) {
	b := newTestBus(t)

	low := publish(t, b, "A", "B", protocol.PriorityLow)
	urgent := publish(t, b, "A", "B", protocol.PriorityUrgent)
	normal1 := publish(t, b, "A", "B", protocol.PriorityNormal)
	normal2 := publish(t, b, "A", "B", protocol.PriorityNormal)
	high := publish(t, b, "A", "B", protocol.PriorityHigh)

	msgs, err := b.Poll("B")
	if err != nil {
		t.Fatalf("poll: %v", err)
	}

	want := []string{urgent.ID, high.ID, normal1.ID, normal2.ID, low.ID}
	if len(msgs) != len(want) {
		t.Fatalf("expected %d messages, got %d", len(want), len(msgs))
	}
	for i, id := range want {
		if msgs[i].ID != id {
			t.Errorf("position %d: expected %s, got %s (prio %s)",
				i, id, msgs[i].ID, msgs[i].Priority)
		}
	}
}

func TestDeadletter(t *testing.T) {
	b := newTestBus(t)
	msg := publish(t, b, "A", "B", protocol.PriorityNormal)

	if err := b.Deadletter(msg.ID); err != nil {
		t.Fatalf("deadletter: %v", err)
	}

	msgs, _ := b.Poll("B")
	if len(msgs) != 0 {
		t.Error("dead-lettered message still pending")
	}

	hist, _ := b.History("B", 10)
	if len(hist) != 1 || hist[0].Status != protocol.StatusDead {
		t.Errorf("expected dead status in history, got %+v", hist)
	}
}

func TestHistoryFilterAndLimit(t *testing.T) {
	b := newTestBus(t)
	publish(t, b, "A", "B", protocol.PriorityNormal)
	publish(t, b, "B", "C", protocol.PriorityNormal)
	publish(t, b, "C", "D", protocol.PriorityNormal)

	hist, err := b.History("B", 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 2 {
		t.Errorf("expected 2 messages touching B, got %d", len(hist))
	}

	all, _ := b.History("", 2)
	if len(all) != 2 {
		t.Errorf("expected limit 2, got %d", len(all))
	}
}

func TestPublishRejectsIncomplete(t *testing.T) {
	b := newTestBus(t)

	if _, err := b.Publish(protocol.Message{Receiver: "B"}); err == nil {
		t.Error("expected error for message without id")
	}
	if _, err := b.Publish(protocol.Message{ID: "m1"}); err == nil {
		t.Error("expected error for message without receiver")
	}
}

func TestWatchSignalsOnPublish(t *testing.T) {
	b := newTestBus(t)
	ch := b.Watch("B")
	defer b.Unwatch("B", ch)

	publish(t, b, "A", "B", protocol.PriorityNormal)

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("no wake-up signal after publish")
	}

	// Signals coalesce; a second publish while unread must not block.
	publish(t, b, "A", "B", protocol.PriorityNormal)
	publish(t, b, "A", "B", protocol.PriorityNormal)
}

func TestCorrelationRoundTrip(t *testing.T) {
	b := newTestBus(t)
	req := publish(t, b, "A", "B", protocol.PriorityHigh)

	resp, err := protocol.NewTaskResponse(req, "B", map[string]string{"ok": "1"}, true)
	if err != nil {
		t.Fatalf("build response: %v", err)
	}
	if _, err := b.Publish(resp); err != nil {
		t.Fatalf("publish response: %v", err)
	}

	msgs, _ := b.Poll("A")
	if len(msgs) != 1 {
		t.Fatalf("expected 1 response for A, got %d", len(msgs))
	}
	if msgs[0].CorrelationID != req.ID {
		t.Errorf("correlation lost on round trip: %q", msgs[0].CorrelationID)
	}
}
