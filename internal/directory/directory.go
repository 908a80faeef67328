// Package directory keeps the identity record for every agent: who exists,
// which pod it belongs to, whether its runner is up, and when it last did
// anything. Records are created at bootstrap and never deleted.
package directory

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/werkbank-io/werkbank/pkg/protocol"
)

// Directory is the SQLite-backed agent registry.
type Directory struct {
	db *sql.DB
}

// New creates the agents table if absent.
func New(db *sql.DB) (*Directory, error) {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS agents (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL,
			pod         TEXT NOT NULL,
			status      TEXT NOT NULL DEFAULT 'inactive',
			created_at  TEXT NOT NULL,
			last_active TEXT
		);
	`)
	if err != nil {
		return nil, fmt.Errorf("directory: migrate: %w", err)
	}
	return &Directory{db: db}, nil
}

// Ensure registers the agent if unknown and refreshes name and pod if it
// already exists. Status is left alone so a restart doesn't flap it.
func (d *Directory) Ensure(spec protocol.AgentSpec) error {
	_, err := d.db.Exec(`
		INSERT INTO agents (id, name, pod, status, created_at)
		VALUES (?, ?, ?, 'inactive', ?)
		ON CONFLICT(id) DO UPDATE SET name=excluded.name, pod=excluded.pod
	`, spec.ID, spec.Name, spec.Pod, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("directory: ensure %s: %w", spec.ID, err)
	}
	return nil
}

// SetStatus flips the agent's directory status.
func (d *Directory) SetStatus(agentID string, status protocol.AgentStatus) error {
	result, err := d.db.Exec(`UPDATE agents SET status = ? WHERE id = ?`, string(status), agentID)
	if err != nil {
		return fmt.Errorf("directory: set status %s: %w", agentID, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("directory: agent %q not found", agentID)
	}
	return nil
}

// Heartbeat stamps the agent's last-active time.
func (d *Directory) Heartbeat(agentID string) error {
	_, err := d.db.Exec(`UPDATE agents SET last_active = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339), agentID)
	if err != nil {
		return fmt.Errorf("directory: heartbeat %s: %w", agentID, err)
	}
	return nil
}

// Get returns one agent's record.
func (d *Directory) Get(agentID string) (*protocol.AgentInfo, error) {
	row := d.db.QueryRow(`SELECT id, name, pod, status, created_at, last_active FROM agents WHERE id = ?`, agentID)
	info, err := scanAgent(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("agent %q not found", agentID)
		}
		return nil, fmt.Errorf("directory: get: %w", err)
	}
	return info, nil
}

// List returns all agents ordered by pod, then id.
func (d *Directory) List() ([]*protocol.AgentInfo, error) {
	rows, err := d.db.Query(`SELECT id, name, pod, status, created_at, last_active FROM agents ORDER BY pod, id`)
	if err != nil {
		return nil, fmt.Errorf("directory: list: %w", err)
	}
	defer rows.Close()

	var agents []*protocol.AgentInfo
	for rows.Next() {
		info, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("directory: list scan: %w", err)
		}
		agents = append(agents, info)
	}
	return agents, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanAgent(s scannable) (*protocol.AgentInfo, error) {
	var info protocol.AgentInfo
	var status, createdAt string
	var lastActive *string

	if err := s.Scan(&info.ID, &info.Name, &info.Pod, &status, &createdAt, &lastActive); err != nil {
		return nil, err
	}

	info.Status = protocol.AgentStatus(status)
	info.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if lastActive != nil {
		t, _ := time.Parse(time.RFC3339, *lastActive)
		info.LastActive = &t
	}
	return &info, nil
}
