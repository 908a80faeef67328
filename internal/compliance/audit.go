package compliance

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/werkbank-io/werkbank/pkg/protocol"
)

// LogEntry is one recorded compliance check. Entries are write-once.
type LogEntry struct {
	ID         int64            `json:"id"`
	AgentID    string           `json:"agent_id"`
	ActionType string           `json:"action_type"`
	ActionData json.RawMessage  `json:"action_data"`
	Verdict    protocol.Verdict `json:"verdict"`
	Timestamp  time.Time        `json:"timestamp"`
}

// AuditLog persists compliance check outcomes.
type AuditLog struct {
	db *sql.DB
}

// NewAuditLog creates the compliance_logs table if absent.
func NewAuditLog(db *sql.DB) (*AuditLog, error) {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS compliance_logs (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			agent_id    TEXT NOT NULL,
			action_type TEXT NOT NULL,
			action_data TEXT NOT NULL,
			verdict     TEXT NOT NULL,
			created_at  TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_compliance_logs_agent ON compliance_logs(agent_id);
	`)
	if err != nil {
		return nil, fmt.Errorf("audit log: migrate: %w", err)
	}
	return &AuditLog{db: db}, nil
}

// Append records a check outcome.
func (l *AuditLog) Append(agentID string, action protocol.Action, verdict protocol.Verdict) error {
	actionJSON, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("audit log: marshal action: %w", err)
	}
	verdictJSON, err := json.Marshal(verdict)
	if err != nil {
		return fmt.Errorf("audit log: marshal verdict: %w", err)
	}

	_, err = l.db.Exec(`
		INSERT INTO compliance_logs (agent_id, action_type, action_data, verdict, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, agentID, action.Type, string(actionJSON), string(verdictJSON),
		time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("audit log: append: %w", err)
	}
	return nil
}

// Recent returns the newest entries, optionally filtered by agent.
func (l *AuditLog) Recent(agentID string, limit int) ([]LogEntry, error) {
	query := `SELECT id, agent_id, action_type, action_data, verdict, created_at FROM compliance_logs`
	var args []any
	if agentID != "" {
		query += ` WHERE agent_id = ?`
		args = append(args, agentID)
	}
	query += ` ORDER BY id DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := l.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit log: recent: %w", err)
	}
	defer rows.Close()

	var entries []LogEntry
	for rows.Next() {
		var e LogEntry
		var actionData, verdict, createdAt string
		if err := rows.Scan(&e.ID, &e.AgentID, &e.ActionType, &actionData, &verdict, &createdAt); err != nil {
			return nil, fmt.Errorf("audit log: scan: %w", err)
		}
		e.ActionData = []byte(actionData)
		if err := json.Unmarshal([]byte(verdict), &e.Verdict); err != nil {
			return nil, fmt.Errorf("audit log: verdict decode: %w", err)
		}
		e.Timestamp, _ = time.Parse(time.RFC3339Nano, createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
