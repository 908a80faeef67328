// Package kpi stores metric observations as an append-only time series.
// Nothing is aggregated at write time; summaries are computed in SQL when
// asked for.
package kpi

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/werkbank-io/werkbank/pkg/protocol"
)

// Store persists KPI observations.
type Store struct {
	db *sql.DB
}

// New creates the kpi_metrics table if absent.
func New(db *sql.DB) (*Store, error) {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS kpi_metrics (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			agent_id    TEXT NOT NULL,
			metric_name TEXT NOT NULL,
			value       REAL NOT NULL,
			target      REAL,
			period      TEXT NOT NULL DEFAULT 'daily',
			created_at  TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_kpi_agent_metric ON kpi_metrics(agent_id, metric_name);
	`)
	if err != nil {
		return nil, fmt.Errorf("kpi store: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Log appends one observation. A zero timestamp means now.
func (s *Store) Log(m protocol.Metric) error {
	if m.Period == "" {
		m.Period = "daily"
	}
	ts := m.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO kpi_metrics (agent_id, metric_name, value, target, period, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, m.AgentID, m.Name, m.Value, m.Target, m.Period, ts.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("kpi store: log: %w", err)
	}
	return nil
}

// Series returns the newest observations for a metric, newest first.
func (s *Store) Series(agentID, name string, limit int) ([]protocol.Metric, error) {
	query := `SELECT agent_id, metric_name, value, target, period, created_at FROM kpi_metrics WHERE agent_id = ? AND metric_name = ? ORDER BY id DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.Query(query, agentID, name)
	if err != nil {
		return nil, fmt.Errorf("kpi store: series: %w", err)
	}
	defer rows.Close()

	var metrics []protocol.Metric
	for rows.Next() {
		var m protocol.Metric
		var createdAt string
		if err := rows.Scan(&m.AgentID, &m.Name, &m.Value, &m.Target, &m.Period, &createdAt); err != nil {
			return nil, fmt.Errorf("kpi store: scan: %w", err)
		}
		m.Timestamp, _ = time.Parse(time.RFC3339Nano, createdAt)
		metrics = append(metrics, m)
	}
	return metrics, rows.Err()
}

// Summary is a read-time aggregate over one metric.
type Summary struct {
	Count int     `json:"count"`
	Sum   float64 `json:"sum"`
	Avg   float64 `json:"avg"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

// Summarize aggregates a metric for an agent since the given time. A zero
// since covers the whole series.
func (s *Store) Summarize(agentID, name string, since time.Time) (Summary, error) {
	query := `
		SELECT COUNT(*), COALESCE(SUM(value), 0), COALESCE(AVG(value), 0), COALESCE(MIN(value), 0), COALESCE(MAX(value), 0)
		FROM kpi_metrics WHERE agent_id = ? AND metric_name = ?`
	args := []any{agentID, name}
	if !since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, since.UTC().Format(time.RFC3339Nano))
	}

	var sum Summary
	err := s.db.QueryRow(query, args...).Scan(&sum.Count, &sum.Sum, &sum.Avg, &sum.Min, &sum.Max)
	if err != nil {
		return Summary{}, fmt.Errorf("kpi store: summarize: %w", err)
	}
	return sum, nil
}
