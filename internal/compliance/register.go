package compliance

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/werkbank-io/werkbank/internal/pii"
	"github.com/werkbank-io/werkbank/pkg/protocol"
)

// Register records the legal basis under which an action type may process
// personal data. Entries are persisted and cached in memory for the
// process lifetime.
type Register struct {
	mu    sync.Mutex
	db    *sql.DB
	cache map[string]protocol.ProcessingBasis
}

// NewRegister creates the processing_register table if absent.
func NewRegister(db *sql.DB) (*Register, error) {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS processing_register (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			register_key  TEXT UNIQUE NOT NULL,
			legal_basis   TEXT NOT NULL,
			purpose       TEXT NOT NULL,
			registered_at TEXT NOT NULL
		);
	`)
	if err != nil {
		return nil, fmt.Errorf("compliance register: migrate: %w", err)
	}

	r := &Register{db: db, cache: make(map[string]protocol.ProcessingBasis)}
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Register) load() error {
	rows, err := r.db.Query(`SELECT register_key, legal_basis FROM processing_register`)
	if err != nil {
		return fmt.Errorf("compliance register: load: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, basis string
		if err := rows.Scan(&key, &basis); err != nil {
			return fmt.Errorf("compliance register: scan: %w", err)
		}
		r.cache[key] = protocol.ProcessingBasis(basis)
	}
	return rows.Err()
}

// Key derives the register key for an action type and the PII categories it
// touches. Categories are sorted so the key is stable.
func Key(actionType string, categories []pii.Category) string {
	cats := make([]string, len(categories))
	for i, c := range categories {
		cats[i] = string(c)
	}
	sort.Strings(cats)
	return actionType + "_" + strings.Join(cats, "+")
}

// Lookup returns the registered basis for key, if any.
func (r *Register) Lookup(key string) (protocol.ProcessingBasis, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	basis, ok := r.cache[key]
	return basis, ok
}

// Record registers a processing activity. Re-recording an existing key
// overwrites its basis.
func (r *Register) Record(key string, basis protocol.ProcessingBasis, purpose string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`
		INSERT INTO processing_register (register_key, legal_basis, purpose, registered_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(register_key) DO UPDATE SET legal_basis=excluded.legal_basis, purpose=excluded.purpose
	`, key, string(basis), purpose, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("compliance register: record: %w", err)
	}

	r.cache[key] = basis
	return nil
}
