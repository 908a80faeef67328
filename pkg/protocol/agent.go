package protocol

import "time"

// AgentStatus is the directory state of an agent.
type AgentStatus string

const (
	AgentActive   AgentStatus = "active"
	AgentInactive AgentStatus = "inactive"
)

// AgentSpec defines a named agent's configuration. Pod is a purely
// organizational grouping label (e.g. "vertrieb") with no runtime meaning.
type AgentSpec struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Pod          string `json:"pod"`
	Provider     string `json:"provider,omitempty"`
	Instructions string `json:"instructions,omitempty"`
	WakeSchedule string `json:"wake_schedule,omitempty"` // cron expression
	PollInterval int    `json:"poll_interval,omitempty"` // seconds, 0 = default
}

// AgentInfo is the directory record kept for each agent.
type AgentInfo struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Pod        string      `json:"pod"`
	Status     AgentStatus `json:"status"`
	CreatedAt  time.Time   `json:"created_at"`
	LastActive *time.Time  `json:"last_active,omitempty"`
}

// Metric is one KPI observation. The series is append-only; aggregation
// happens at read time.
type Metric struct {
	AgentID   string    `json:"agent_id"`
	Name      string    `json:"metric_name"`
	Value     float64   `json:"value"`
	Target    *float64  `json:"target,omitempty"`
	Period    string    `json:"period"`
	Timestamp time.Time `json:"timestamp"`
}
