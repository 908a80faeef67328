// Package notify delivers human-in-the-loop alerts to external channels.
// Notifiers are send-only; operator decisions come back through the API,
// not through a chat round trip.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/werkbank-io/werkbank/pkg/protocol"
)

// Alert is a single operator notification.
type Alert struct {
	AgentID  string
	Kind     protocol.MessageType
	Reason   string
	Severity string
	Details  string
}

// Notifier delivers an alert to one channel.
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
	Name() string
}

// Multi fans an alert out to every configured channel. A failing channel is
// logged and skipped; one broken webhook must not silence the others.
type Multi struct {
	notifiers []Notifier
	logger    *slog.Logger
}

// NewMulti creates a fan-out notifier.
func NewMulti(logger *slog.Logger, notifiers ...Notifier) *Multi {
	if logger == nil {
		logger = slog.Default()
	}
	return &Multi{notifiers: notifiers, logger: logger}
}

func (m *Multi) Name() string { return "multi" }

func (m *Multi) Notify(ctx context.Context, alert Alert) error {
	var failed []string
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, alert); err != nil {
			m.logger.Error("notify failed", "channel", n.Name(), "agent", alert.AgentID, "error", err)
			failed = append(failed, n.Name())
		}
	}
	if len(failed) == len(m.notifiers) && len(m.notifiers) > 0 {
		return fmt.Errorf("notify: all channels failed: %s", strings.Join(failed, ", "))
	}
	return nil
}

// LogNotifier writes alerts to the structured log. It is the fallback when
// no chat channel is configured, so escalations are never dropped silently.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Name() string { return "log" }

func (l *LogNotifier) Notify(_ context.Context, alert Alert) error {
	l.logger.Warn("operator alert",
		"agent", alert.AgentID,
		"kind", alert.Kind,
		"severity", alert.Severity,
		"reason", alert.Reason,
	)
	return nil
}

// FormatAlert renders an alert as plain text for chat channels.
func FormatAlert(alert Alert) string {
	var b strings.Builder
	switch alert.Kind {
	case protocol.TypeComplianceAlert:
		b.WriteString("⚠️ Compliance alert")
	default:
		b.WriteString("🔔 Escalation")
	}
	fmt.Fprintf(&b, " from %s\n", alert.AgentID)
	if alert.Severity != "" {
		fmt.Fprintf(&b, "Severity: %s\n", alert.Severity)
	}
	fmt.Fprintf(&b, "Reason: %s", alert.Reason)
	if alert.Details != "" {
		fmt.Fprintf(&b, "\n\n%s", alert.Details)
	}
	return b.String()
}
