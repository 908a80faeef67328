package protocol

import (
	"encoding/json"
	"testing"
)

func TestPriorityWeight(t *testing.T) {
	tests := []struct {
		prio   Priority
		weight int
	}{
		{PriorityLow, 0},
		{PriorityNormal, 1},
		{PriorityHigh, 2},
		{PriorityUrgent, 3},
		{Priority("bogus"), 1},
	}

	for _, tt := range tests {
		if got := tt.prio.Weight(); got != tt.weight {
			t.Errorf("Weight(%q) = %d, want %d", tt.prio, got, tt.weight)
		}
	}
}

func TestPriorityValid(t *testing.T) {
	if !PriorityUrgent.Valid() {
		t.Error("urgent should be valid")
	}
	if Priority("critical").Valid() {
		t.Error("unknown priority should not be valid")
	}
}

func TestNewTaskRequest(t *testing.T) {
	msg, err := NewTaskRequest("ceo", "sales", "qualify_lead", map[string]any{"x": 1}, PriorityNormal)
	if err != nil {
		t.Fatalf("NewTaskRequest: %v", err)
	}

	if msg.ID == "" {
		t.Error("expected generated ID")
	}
	if msg.Sender != "ceo" || msg.Receiver != "sales" {
		t.Errorf("wrong addressing: %s → %s", msg.Sender, msg.Receiver)
	}
	if msg.Type != TypeTaskRequest {
		t.Errorf("expected task_request, got %q", msg.Type)
	}
	if msg.Status != StatusPending {
		t.Errorf("expected pending, got %q", msg.Status)
	}

	var req TaskRequest
	if err := msg.DecodePayload(&req); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if req.Task != "qualify_lead" {
		t.Errorf("expected task qualify_lead, got %q", req.Task)
	}
}

func TestNewTaskResponse_Correlation(t *testing.T) {
	req, _ := NewTaskRequest("a", "b", "do", nil, PriorityHigh)

	resp, err := NewTaskResponse(req, "b", map[string]string{"ok": "yes"}, true)
	if err != nil {
		t.Fatalf("NewTaskResponse: %v", err)
	}

	if resp.Receiver != "a" {
		t.Errorf("response should go back to requester, got %q", resp.Receiver)
	}
	if resp.CorrelationID != req.ID {
		t.Errorf("correlation_id = %q, want %q", resp.CorrelationID, req.ID)
	}
	if resp.Priority != PriorityHigh {
		t.Errorf("response should inherit priority, got %q", resp.Priority)
	}
}

func TestNewEscalation_Defaults(t *testing.T) {
	msg, err := NewEscalation("finance", "budget exceeded", nil, "")
	if err != nil {
		t.Fatalf("NewEscalation: %v", err)
	}
	if msg.Receiver != OperatorID {
		t.Errorf("escalations go to %s, got %q", OperatorID, msg.Receiver)
	}
	if msg.Priority != PriorityHigh {
		t.Errorf("default escalation priority should be high, got %q", msg.Priority)
	}
}

func TestNewComplianceAlert_Severity(t *testing.T) {
	high, _ := NewComplianceAlert("qa", "compliance", "pii_leak", "high", nil)
	if high.Priority != PriorityUrgent {
		t.Errorf("high severity should be urgent, got %q", high.Priority)
	}
	med, _ := NewComplianceAlert("qa", "compliance", "late_log", "medium", nil)
	if med.Priority != PriorityHigh {
		t.Errorf("medium severity should be high, got %q", med.Priority)
	}
}

func TestNewMessage_InvalidPriorityFallsBack(t *testing.T) {
	msg, err := NewMessage("a", "b", TypeStatusUpdate, StatusUpdate{Status: "ok"}, Priority("weird"))
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	if msg.Priority != PriorityNormal {
		t.Errorf("invalid priority should fall back to normal, got %q", msg.Priority)
	}
}

func TestMessageJSONShape(t *testing.T) {
	msg, _ := NewTaskRequest("a", "b", "t", nil, PriorityNormal)
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var m map[string]any
	json.Unmarshal(data, &m)
	for _, key := range []string{"id", "sender_id", "receiver_id", "type", "payload", "priority", "status", "created_at"} {
		if _, ok := m[key]; !ok {
			t.Errorf("missing field %q in wire shape", key)
		}
	}
	if _, ok := m["processed_at"]; ok {
		t.Error("processed_at should be omitted while pending")
	}
}
