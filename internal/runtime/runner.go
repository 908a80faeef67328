// Package runtime drives one agent's processing loop: drain the mailbox,
// hand each message to the agent's handler, run the periodic task, then
// sleep until the next wake-up signal or poll interval.
//
// A handler failure leaves the message pending, so the next tick retries
// it; ticks back off exponentially while failures persist, and a message
// that keeps failing is dead-lettered instead of looping forever.
package runtime

import (
	"context"
	"log/slog"
	"time"

	"github.com/werkbank-io/werkbank/pkg/protocol"
)

const (
	defaultPollInterval = 5 * time.Second
	defaultMaxAttempts  = 3
	defaultMaxBackoff   = 2 * time.Minute
)

// Handler is the single entry point a concrete agent implements. Delivery
// is at-least-once: the runtime calls Handle at most once per observed
// message per tick, but a crash before acknowledge redelivers, so handlers
// must be idempotent.
type Handler interface {
	Handle(ctx context.Context, msg protocol.Message) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, msg protocol.Message) error

func (f HandlerFunc) Handle(ctx context.Context, msg protocol.Message) error { return f(ctx, msg) }

// Mailbox is the slice of the bus the runner needs.
type Mailbox interface {
	Poll(receiver string) ([]protocol.Message, error)
	Acknowledge(id string) error
	Deadletter(id string) error
	Watch(receiver string) <-chan struct{}
	Unwatch(receiver string, ch <-chan struct{})
}

// Presence records runner liveness in the agent directory. Optional.
type Presence interface {
	SetStatus(agentID string, status protocol.AgentStatus) error
	Heartbeat(agentID string) error
}

// Options tune a runner. Zero values pick defaults.
type Options struct {
	PollInterval time.Duration // fallback tick interval when no wake-up arrives
	MaxAttempts  int           // handler failures before a message is dead-lettered
	MaxBackoff   time.Duration // cap for the failure backoff
}

// Runner owns one agent's loop.
type Runner struct {
	agentID  string
	mailbox  Mailbox
	handler  Handler
	periodic func(ctx context.Context) error // optional housekeeping per tick
	presence Presence
	opts     Options
	logger   *slog.Logger

	attempts map[string]int // message id → failed handler attempts
	failing  int            // consecutive ticks with at least one failure
}

// New creates a runner for the agent. periodic and presence may be nil.
func New(agentID string, mailbox Mailbox, handler Handler, periodic func(ctx context.Context) error, presence Presence, opts Options, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = defaultMaxBackoff
	}
	return &Runner{
		agentID:  agentID,
		mailbox:  mailbox,
		handler:  handler,
		periodic: periodic,
		presence: presence,
		opts:     opts,
		logger:   logger,
		attempts: make(map[string]int),
	}
}

// Start runs the loop until ctx is cancelled. The agent is marked active in
// the directory while running and inactive on the way out.
func (r *Runner) Start(ctx context.Context) error {
	r.logger.Info("agent runner started", "agent", r.agentID)

	if r.presence != nil {
		if err := r.presence.SetStatus(r.agentID, protocol.AgentActive); err != nil {
			r.logger.Error("failed to mark agent active", "agent", r.agentID, "error", err)
		}
		defer func() {
			if err := r.presence.SetStatus(r.agentID, protocol.AgentInactive); err != nil {
				r.logger.Error("failed to mark agent inactive", "agent", r.agentID, "error", err)
			}
		}()
	}

	wake := r.mailbox.Watch(r.agentID)
	defer r.mailbox.Unwatch(r.agentID, wake)

	timer := time.NewTimer(0) // first tick immediately
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("agent runner stopping", "agent", r.agentID)
			return ctx.Err()
		case <-wake:
		case <-timer.C:
		}

		r.tick(ctx)

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(r.interval())
	}
}

// tick drains the mailbox once and runs the periodic task.
func (r *Runner) tick(ctx context.Context) {
	msgs, err := r.mailbox.Poll(r.agentID)
	if err != nil {
		r.logger.Error("mailbox poll failed", "agent", r.agentID, "error", err)
		r.failing++
		return
	}

	failed := false
	for _, msg := range msgs {
		if ctx.Err() != nil {
			return
		}
		if r.handleOne(ctx, msg) {
			continue
		}
		failed = true
	}

	if failed {
		r.failing++
	} else {
		r.failing = 0
	}

	if r.periodic != nil {
		if err := r.periodic(ctx); err != nil {
			r.logger.Error("periodic task failed", "agent", r.agentID, "error", err)
		}
	}

	if r.presence != nil {
		if err := r.presence.Heartbeat(r.agentID); err != nil {
			r.logger.Error("heartbeat failed", "agent", r.agentID, "error", err)
		}
	}
}

// handleOne processes a single message. Returns false if the handler failed
// and the message remains pending.
func (r *Runner) handleOne(ctx context.Context, msg protocol.Message) bool {
	err := r.handler.Handle(ctx, msg)
	if err == nil {
		delete(r.attempts, msg.ID)
		if ackErr := r.mailbox.Acknowledge(msg.ID); ackErr != nil {
			r.logger.Error("acknowledge failed", "agent", r.agentID, "msg", msg.ID, "error", ackErr)
		}
		return true
	}

	r.attempts[msg.ID]++
	attempt := r.attempts[msg.ID]
	r.logger.Warn("handler failed",
		"agent", r.agentID,
		"msg", msg.ID,
		"type", msg.Type,
		"attempt", attempt,
		"error", err,
	)

	if attempt >= r.opts.MaxAttempts {
		delete(r.attempts, msg.ID)
		if dlErr := r.mailbox.Deadletter(msg.ID); dlErr != nil {
			r.logger.Error("deadletter failed", "agent", r.agentID, "msg", msg.ID, "error", dlErr)
		} else {
			r.logger.Error("poison message dead-lettered",
				"agent", r.agentID,
				"msg", msg.ID,
				"attempts", attempt,
			)
		}
		// The poison message is out of the mailbox; don't count it
		// toward further backoff.
		return true
	}
	return false
}

// interval returns the wait before the next unforced tick, doubling per
// consecutive failing tick up to the cap.
func (r *Runner) interval() time.Duration {
	if r.failing == 0 {
		return r.opts.PollInterval
	}
	backoff := r.opts.PollInterval
	for i := 0; i < r.failing && backoff < r.opts.MaxBackoff; i++ {
		backoff *= 2
	}
	if backoff > r.opts.MaxBackoff {
		backoff = r.opts.MaxBackoff
	}
	return backoff
}
