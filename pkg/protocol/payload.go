package protocol

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// OperatorID is the reserved receiver for human-in-the-loop escalations.
// Nothing registers an agent under this ID; escalation relays drain it.
const OperatorID = "human_operator"

// TaskRequest asks the receiver to perform a named task.
type TaskRequest struct {
	Task string          `json:"task"`
	Data json.RawMessage `json:"data,omitempty"`
}

// TaskResponse carries the result of an earlier TaskRequest.
type TaskResponse struct {
	Result  json.RawMessage `json:"result,omitempty"`
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
}

// StatusUpdate reports progress on ongoing work.
type StatusUpdate struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Escalation hands a decision to a human operator.
type Escalation struct {
	Reason string          `json:"reason"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// KPIUpdate reports a metric observation.
type KPIUpdate struct {
	Metric string  `json:"metric"`
	Value  float64 `json:"value"`
	Period string  `json:"period,omitempty"`
}

// ComplianceAlert flags a detected or suspected violation.
type ComplianceAlert struct {
	ViolationType string          `json:"violation_type"`
	Severity      string          `json:"severity"`
	Details       json.RawMessage `json:"details,omitempty"`
}

// NewMessage assembles a message of the given type with a fresh UUID and
// pending status. The payload must be JSON-serializable.
func NewMessage(sender, receiver string, typ MessageType, payload any, prio Priority) (Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	if !prio.Valid() {
		prio = PriorityNormal
	}
	return Message{
		ID:        uuid.NewString(),
		Sender:    sender,
		Receiver:  receiver,
		Type:      typ,
		Payload:   raw,
		Priority:  prio,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// NewTaskRequest builds a task_request message.
func NewTaskRequest(sender, receiver, task string, data any, prio Priority) (Message, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, err
	}
	return NewMessage(sender, receiver, TypeTaskRequest, TaskRequest{Task: task, Data: raw}, prio)
}

// NewTaskResponse builds a task_response correlated to the originating
// request. It inherits the request's priority and goes back to its sender.
func NewTaskResponse(req Message, sender string, result any, success bool) (Message, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return Message{}, err
	}
	m, err := NewMessage(sender, req.Sender, TypeTaskResponse, TaskResponse{Result: raw, Success: success}, req.Priority)
	if err != nil {
		return Message{}, err
	}
	m.CorrelationID = req.ID
	return m, nil
}

// NewEscalation builds an escalation addressed to the human operator.
func NewEscalation(sender, reason string, data any, prio Priority) (Message, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, err
	}
	if prio == "" {
		prio = PriorityHigh
	}
	return NewMessage(sender, OperatorID, TypeEscalation, Escalation{Reason: reason, Data: raw}, prio)
}

// NewKPIUpdate builds a kpi_update message.
func NewKPIUpdate(sender, receiver, metric string, value float64) (Message, error) {
	return NewMessage(sender, receiver, TypeKPIUpdate, KPIUpdate{Metric: metric, Value: value}, PriorityNormal)
}

// NewComplianceAlert builds a compliance_alert. High severity is urgent,
// everything else high priority.
func NewComplianceAlert(sender, receiver, violationType, severity string, details any) (Message, error) {
	raw, err := json.Marshal(details)
	if err != nil {
		return Message{}, err
	}
	prio := PriorityHigh
	if severity == "high" {
		prio = PriorityUrgent
	}
	return NewMessage(sender, receiver, TypeComplianceAlert, ComplianceAlert{
		ViolationType: violationType,
		Severity:      severity,
		Details:       raw,
	}, prio)
}
