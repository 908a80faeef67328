package bus

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/werkbank-io/werkbank/pkg/protocol"
)

// SQLiteStore implements Store on a shared SQLite handle.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates the messages table if absent and returns the store.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS messages (
			id             TEXT PRIMARY KEY,
			sender_id      TEXT NOT NULL,
			receiver_id    TEXT NOT NULL,
			type           TEXT NOT NULL,
			payload        TEXT NOT NULL DEFAULT 'null',
			priority       TEXT NOT NULL DEFAULT 'normal',
			status         TEXT NOT NULL DEFAULT 'pending',
			created_at     TEXT NOT NULL,
			processed_at   TEXT,
			correlation_id TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_messages_receiver_status ON messages(receiver_id, status);
		CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(sender_id);
	`)
	if err != nil {
		return fmt.Errorf("bus store: migrate: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Insert(msg protocol.Message) error {
	var corr *string
	if msg.CorrelationID != "" {
		corr = &msg.CorrelationID
	}
	_, err := s.db.Exec(`
		INSERT INTO messages (id, sender_id, receiver_id, type, payload, priority, status, created_at, correlation_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.Sender, msg.Receiver, string(msg.Type), string(msg.Payload),
		string(msg.Priority), string(protocol.StatusPending),
		msg.CreatedAt.UTC().Format(time.RFC3339Nano), corr)
	if err != nil {
		return fmt.Errorf("bus store: insert: %w", err)
	}
	return nil
}

// priorityRank orders low < normal < high < urgent in SQL. Unknown values
// rank as normal, mirroring protocol.Priority.Weight.
const priorityRank = `CASE priority
	WHEN 'urgent' THEN 3
	WHEN 'high'   THEN 2
	WHEN 'low'    THEN 0
	ELSE 1 END`

func (s *SQLiteStore) Pending(receiver string) ([]protocol.Message, error) {
	rows, err := s.db.Query(`
		SELECT id, sender_id, receiver_id, type, payload, priority, status, created_at, processed_at, correlation_id
		FROM messages
		WHERE receiver_id = ? AND status = 'pending'
		ORDER BY `+priorityRank+` DESC, created_at ASC, rowid ASC
	`, receiver)
	if err != nil {
		return nil, fmt.Errorf("bus store: pending: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (s *SQLiteStore) MarkProcessed(id string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	// Only pending rows transition; a second acknowledge matches nothing
	// and succeeds without touching the original processed_at.
	_, err := s.db.Exec(`
		UPDATE messages SET status = 'processed', processed_at = ?
		WHERE id = ? AND status = 'pending'
	`, now, id)
	if err != nil {
		return fmt.Errorf("bus store: mark processed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) MarkDead(id string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.Exec(`
		UPDATE messages SET status = 'dead', processed_at = ?
		WHERE id = ? AND status = 'pending'
	`, now, id)
	if err != nil {
		return fmt.Errorf("bus store: mark dead: %w", err)
	}
	return nil
}

func (s *SQLiteStore) History(agentID string, limit int) ([]protocol.Message, error) {
	query := `
		SELECT id, sender_id, receiver_id, type, payload, priority, status, created_at, processed_at, correlation_id
		FROM messages`
	var args []any
	if agentID != "" {
		query += ` WHERE sender_id = ? OR receiver_id = ?`
		args = append(args, agentID, agentID)
	}
	query += ` ORDER BY created_at DESC, rowid DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("bus store: history: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]protocol.Message, error) {
	var msgs []protocol.Message
	for rows.Next() {
		var m protocol.Message
		var typ, prio, status, createdAt, payload string
		var processedAt, corr *string

		if err := rows.Scan(&m.ID, &m.Sender, &m.Receiver, &typ, &payload, &prio,
			&status, &createdAt, &processedAt, &corr); err != nil {
			return nil, fmt.Errorf("bus store: scan: %w", err)
		}

		m.Type = protocol.MessageType(typ)
		m.Payload = []byte(payload)
		m.Priority = protocol.Priority(prio)
		m.Status = protocol.MessageStatus(status)
		m.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		if processedAt != nil {
			t, _ := time.Parse(time.RFC3339Nano, *processedAt)
			m.ProcessedAt = &t
		}
		if corr != nil {
			m.CorrelationID = *corr
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
