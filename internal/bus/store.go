package bus

import "github.com/werkbank-io/werkbank/pkg/protocol"

// Store is the persistence interface for the message log. The log is
// append-only: rows are never deleted, only their status advances.
type Store interface {
	// Insert persists a new message with status pending.
	Insert(msg protocol.Message) error
	// Pending returns all pending messages addressed to receiver, ordered by
	// priority descending, then creation time ascending, ties by insertion
	// order.
	Pending(receiver string) ([]protocol.Message, error)
	// MarkProcessed transitions a message pending → processed and stamps
	// processed_at. Marking an already-processed message is a no-op.
	MarkProcessed(id string) error
	// MarkDead transitions a message pending → dead. Used for poison
	// messages after repeated handler failures.
	MarkDead(id string) error
	// History returns the most recent messages, newest first, optionally
	// filtered to those where agentID is sender or receiver.
	History(agentID string, limit int) ([]protocol.Message, error)
}
