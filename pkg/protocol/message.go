package protocol

import (
	"encoding/json"
	"time"
)

// MessageType tags the payload carried by a message. The set is closed:
// senders use the typed constructors in payload.go rather than free-form tags.
type MessageType string

const (
	TypeTaskRequest        MessageType = "task_request"
	TypeTaskResponse       MessageType = "task_response"
	TypeStatusUpdate       MessageType = "status_update"
	TypeEscalation         MessageType = "escalation"
	TypeKPIUpdate          MessageType = "kpi_update"
	TypeComplianceAlert    MessageType = "compliance_alert"
	TypeSystemNotification MessageType = "system_notification"
)

// Priority orders mailbox delivery. Higher weight drains first.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Weight returns the numeric rank used for mailbox ordering.
// Unknown priorities rank as normal.
func (p Priority) Weight() int {
	switch p {
	case PriorityLow:
		return 0
	case PriorityHigh:
		return 2
	case PriorityUrgent:
		return 3
	default:
		return 1
	}
}

// Valid reports whether p is one of the four defined priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// MessageStatus is the delivery state of a message. Transitions are one-way:
// pending → processed on acknowledge, pending → dead when a receiver gives up.
type MessageStatus string

const (
	StatusPending   MessageStatus = "pending"
	StatusProcessed MessageStatus = "processed"
	StatusDead      MessageStatus = "dead"
)

// Message is the unit of communication between agents. The payload is opaque
// JSON whose shape is implied by Type. CorrelationID, when set, references the
// message this one responds to.
type Message struct {
	ID            string          `json:"id"`
	Sender        string          `json:"sender_id"`
	Receiver      string          `json:"receiver_id"`
	Type          MessageType     `json:"type"`
	Payload       json.RawMessage `json:"payload"`
	Priority      Priority        `json:"priority"`
	Status        MessageStatus   `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	ProcessedAt   *time.Time      `json:"processed_at,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
}

// DecodePayload unmarshals the payload into v.
func (m *Message) DecodePayload(v any) error {
	return json.Unmarshal(m.Payload, v)
}
