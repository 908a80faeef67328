// Package bus is the durable hand-off layer between agents. Messages are
// persisted with pending status and drained by each receiver's own poll
// loop; in-process wake-up notifications are a latency optimization on top,
// never the source of truth.
//
// Delivery is at-least-once: a receiver that crashes between Poll and
// Acknowledge observes the message again on its next poll. Handlers are
// therefore expected to be idempotent.
package bus

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/werkbank-io/werkbank/pkg/protocol"
)

// Bus routes messages between named agents through the persistent store.
type Bus struct {
	mu      sync.RWMutex
	store   Store
	wakeups map[string][]chan struct{}
	logger  *slog.Logger
}

// New creates a Bus on the given store.
func New(store Store, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		store:   store,
		wakeups: make(map[string][]chan struct{}),
		logger:  logger,
	}
}

// Publish persists the message and returns its ID. If the store write fails
// the message was not delivered and the caller decides whether to retry.
// Registered wake-up channels for the receiver are signalled best-effort.
func (b *Bus) Publish(msg protocol.Message) (string, error) {
	if msg.ID == "" {
		return "", fmt.Errorf("bus: message has no id")
	}
	if msg.Receiver == "" {
		return "", fmt.Errorf("bus: message has no receiver")
	}

	if err := b.store.Insert(msg); err != nil {
		return "", fmt.Errorf("bus: publish: %w", err)
	}

	b.logger.Debug("message published",
		"id", msg.ID,
		"from", msg.Sender,
		"to", msg.Receiver,
		"type", msg.Type,
		"priority", msg.Priority,
	)

	b.wake(msg.Receiver)
	return msg.ID, nil
}

// Poll returns all pending messages for the receiver in delivery order.
// It does not mark them processed; callers acknowledge explicitly.
func (b *Bus) Poll(receiver string) ([]protocol.Message, error) {
	msgs, err := b.store.Pending(receiver)
	if err != nil {
		return nil, fmt.Errorf("bus: poll %s: %w", receiver, err)
	}
	return msgs, nil
}

// Acknowledge marks a message processed. Acknowledging twice is a no-op.
func (b *Bus) Acknowledge(id string) error {
	if err := b.store.MarkProcessed(id); err != nil {
		return fmt.Errorf("bus: acknowledge %s: %w", id, err)
	}
	return nil
}

// Deadletter removes a poison message from circulation without deleting it
// from the log.
func (b *Bus) Deadletter(id string) error {
	if err := b.store.MarkDead(id); err != nil {
		return fmt.Errorf("bus: deadletter %s: %w", id, err)
	}
	b.logger.Warn("message dead-lettered", "id", id)
	return nil
}

// History returns the most recent messages, newest first. agentID filters to
// messages the agent sent or received; empty returns all.
func (b *Bus) History(agentID string, limit int) ([]protocol.Message, error) {
	msgs, err := b.store.History(agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("bus: history: %w", err)
	}
	return msgs, nil
}

// Watch returns a channel that receives a signal whenever a message is
// published for the receiver. The channel has capacity one; signals
// coalesce. Callers must still poll — the signal is a hint, not a delivery.
func (b *Bus) Watch(receiver string) <-chan struct{} {
	ch := make(chan struct{}, 1)
	b.mu.Lock()
	b.wakeups[receiver] = append(b.wakeups[receiver], ch)
	b.mu.Unlock()
	return ch
}

// Unwatch removes a previously registered wake-up channel.
func (b *Bus) Unwatch(receiver string, ch <-chan struct{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	chans := b.wakeups[receiver]
	for i, c := range chans {
		if c == ch {
			b.wakeups[receiver] = append(chans[:i], chans[i+1:]...)
			break
		}
	}
	if len(b.wakeups[receiver]) == 0 {
		delete(b.wakeups, receiver)
	}
}

func (b *Bus) wake(receiver string) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.wakeups[receiver] {
		select {
		case ch <- struct{}{}:
		default: // already signalled
		}
	}
}
