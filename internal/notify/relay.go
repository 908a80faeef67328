package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/werkbank-io/werkbank/pkg/protocol"
)

// Relay drains the operator mailbox and forwards escalations and compliance
// alerts to the configured channels. It runs as an ordinary runner handler,
// so delivery inherits the bus's retry and dead-letter behavior.
type Relay struct {
	notifier Notifier
	logger   *slog.Logger
}

// NewRelay creates a relay delivering through the given notifier.
func NewRelay(notifier Notifier, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{notifier: notifier, logger: logger}
}

// Handle converts an operator-bound message into an alert and sends it.
// Message types nothing can act on are acknowledged without delivery.
func (r *Relay) Handle(ctx context.Context, msg protocol.Message) error {
	alert, ok := r.toAlert(msg)
	if !ok {
		r.logger.Debug("ignoring operator message", "id", msg.ID, "type", msg.Type)
		return nil
	}
	if err := r.notifier.Notify(ctx, alert); err != nil {
		return fmt.Errorf("notify: relay %s: %w", msg.ID, err)
	}
	return nil
}

func (r *Relay) toAlert(msg protocol.Message) (Alert, bool) {
	switch msg.Type {
	case protocol.TypeEscalation:
		var esc protocol.Escalation
		if err := json.Unmarshal(msg.Payload, &esc); err != nil {
			r.logger.Warn("malformed escalation payload", "id", msg.ID, "error", err)
			return Alert{}, false
		}
		return Alert{
			AgentID:  msg.Sender,
			Kind:     msg.Type,
			Reason:   esc.Reason,
			Severity: string(msg.Priority),
			Details:  prettyDetails(esc.Data),
		}, true

	case protocol.TypeComplianceAlert:
		var ca protocol.ComplianceAlert
		if err := json.Unmarshal(msg.Payload, &ca); err != nil {
			r.logger.Warn("malformed compliance alert payload", "id", msg.ID, "error", err)
			return Alert{}, false
		}
		return Alert{
			AgentID:  msg.Sender,
			Kind:     msg.Type,
			Reason:   ca.ViolationType,
			Severity: ca.Severity,
			Details:  prettyDetails(ca.Details),
		}, true

	default:
		return Alert{}, false
	}
}

func prettyDetails(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var buf map[string]any
	if err := json.Unmarshal(raw, &buf); err != nil {
		return string(raw)
	}
	pretty, err := json.MarshalIndent(buf, "", "  ")
	if err != nil {
		return string(raw)
	}
	return string(pretty)
}
