// Package worker is the generic message handler behind each configured
// agent. It gates every task through the compliance checker, scrubs PII
// before anything reaches an external model and reports the outcome back
// over the bus. Task semantics live in the agent's instructions, not here.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/werkbank-io/werkbank/internal/pii"
	"github.com/werkbank-io/werkbank/internal/provider"
	"github.com/werkbank-io/werkbank/pkg/protocol"
)

// Publisher is the bus slice the worker needs.
type Publisher interface {
	Publish(msg protocol.Message) (string, error)
}

// Checker validates an action before the worker acts on it.
type Checker interface {
	Check(agentID string, action protocol.Action) (protocol.Verdict, error)
}

// KPILogger records metric observations.
type KPILogger interface {
	Log(m protocol.Metric) error
}

// Worker handles one agent's mailbox.
type Worker struct {
	spec     protocol.AgentSpec
	bus      Publisher
	checker  Checker
	filter   *pii.Filter
	provider provider.Provider // nil when the agent has no model
	kpi      KPILogger
	logger   *slog.Logger
}

// New creates a worker for the given agent.
func New(spec protocol.AgentSpec, bus Publisher, checker Checker, filter *pii.Filter, prov provider.Provider, kpiLog KPILogger, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		spec:     spec,
		bus:      bus,
		checker:  checker,
		filter:   filter,
		provider: prov,
		kpi:      kpiLog,
		logger:   logger.With("agent", spec.ID),
	}
}

// Handle dispatches one mailbox message. An error return means the bus
// should retry delivery; business rejections are reported as responses.
func (w *Worker) Handle(ctx context.Context, msg protocol.Message) error {
	switch msg.Type {
	case protocol.TypeTaskRequest:
		return w.handleTask(ctx, msg)
	case protocol.TypeKPIUpdate:
		return w.handleKPI(msg)
	case protocol.TypeSystemNotification, protocol.TypeStatusUpdate:
		w.logger.Debug("notification received", "id", msg.ID, "type", msg.Type)
		return nil
	default:
		w.logger.Warn("unhandled message type", "id", msg.ID, "type", msg.Type)
		return nil
	}
}

func (w *Worker) handleTask(ctx context.Context, msg protocol.Message) error {
	var req protocol.TaskRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		w.logger.Warn("malformed task request", "id", msg.ID, "error", err)
		return w.respond(msg, nil, false, "malformed task request")
	}

	action := protocol.Action{Type: req.Task, Data: decodeData(req.Data)}

	verdict, err := w.checker.Check(w.spec.ID, action)
	if err != nil {
		return fmt.Errorf("worker %s: compliance check: %w", w.spec.ID, err)
	}

	if !verdict.Allowed {
		w.logger.Warn("task blocked", "task", req.Task, "risk", verdict.RiskTier, "reason", verdict.Explanation)
		if err := w.alert(msg, req.Task, verdict); err != nil {
			return err
		}
		return w.respond(msg, nil, false, verdict.Explanation)
	}

	if verdict.HumanInLoop {
		w.logger.Info("task escalated", "task", req.Task, "reason", verdict.Explanation)
		return w.escalate(msg, req.Task, verdict)
	}

	if w.provider == nil {
		return w.respond(msg, nil, false, "agent has no provider configured")
	}

	if len(req.Data) == 0 {
		req.Data = json.RawMessage("{}")
	}

	// Scrub before the payload crosses the provider boundary.
	scrubbed, err := w.filter.ApplyJSON(req.Data)
	if err != nil {
		return fmt.Errorf("worker %s: scrub task data: %w", w.spec.ID, err)
	}

	resp, err := w.provider.Complete(ctx, protocol.CompletionRequest{
		Messages: []protocol.ChatMessage{
			{Role: "system", Content: w.spec.Instructions},
			{Role: "user", Content: fmt.Sprintf("Task: %s\nData: %s", req.Task, scrubbed)},
		},
	})
	if err != nil {
		return fmt.Errorf("worker %s: task %s: %w", w.spec.ID, req.Task, err)
	}

	if w.kpi != nil {
		w.kpi.Log(protocol.Metric{
			AgentID: w.spec.ID,
			Name:    "llm_tokens",
			Value:   float64(resp.Usage.TotalTokens()),
			Period:  "daily",
		})
	}

	return w.respond(msg, map[string]any{"content": resp.Content}, true, "")
}

func (w *Worker) handleKPI(msg protocol.Message) error {
	if w.kpi == nil {
		return nil
	}
	var upd protocol.KPIUpdate
	if err := json.Unmarshal(msg.Payload, &upd); err != nil {
		w.logger.Warn("malformed kpi update", "id", msg.ID, "error", err)
		return nil
	}
	if err := w.kpi.Log(protocol.Metric{
		AgentID: w.spec.ID,
		Name:    upd.Metric,
		Value:   upd.Value,
		Period:  upd.Period,
	}); err != nil {
		return fmt.Errorf("worker %s: log kpi: %w", w.spec.ID, err)
	}
	return nil
}

func (w *Worker) respond(req protocol.Message, result any, success bool, errMsg string) error {
	resp, err := protocol.NewTaskResponse(req, w.spec.ID, result, success)
	if err != nil {
		return fmt.Errorf("worker %s: build response: %w", w.spec.ID, err)
	}
	if errMsg != "" {
		var tr protocol.TaskResponse
		json.Unmarshal(resp.Payload, &tr)
		tr.Error = errMsg
		resp.Payload, _ = json.Marshal(tr)
	}
	if _, err := w.bus.Publish(resp); err != nil {
		return fmt.Errorf("worker %s: publish response: %w", w.spec.ID, err)
	}
	return nil
}

func (w *Worker) escalate(req protocol.Message, task string, verdict protocol.Verdict) error {
	esc, err := protocol.NewEscalation(w.spec.ID, verdict.Explanation, map[string]any{
		"task":       task,
		"request_id": req.ID,
		"sender_id":  req.Sender,
	}, protocol.PriorityHigh)
	if err != nil {
		return fmt.Errorf("worker %s: build escalation: %w", w.spec.ID, err)
	}
	esc.CorrelationID = req.ID
	if _, err := w.bus.Publish(esc); err != nil {
		return fmt.Errorf("worker %s: publish escalation: %w", w.spec.ID, err)
	}
	return nil
}

func (w *Worker) alert(req protocol.Message, task string, verdict protocol.Verdict) error {
	severity := "medium"
	if verdict.RiskTier == protocol.RiskProhibited {
		severity = "high"
	}
	alert, err := protocol.NewComplianceAlert(w.spec.ID, protocol.OperatorID, task, severity, map[string]any{
		"request_id":  req.ID,
		"explanation": verdict.Explanation,
	})
	if err != nil {
		return fmt.Errorf("worker %s: build alert: %w", w.spec.ID, err)
	}
	if _, err := w.bus.Publish(alert); err != nil {
		return fmt.Errorf("worker %s: publish alert: %w", w.spec.ID, err)
	}
	return nil
}

// decodeData turns raw task data into the map form the checker scans.
// Non-object payloads are wrapped so scalar tasks still get scanned.
func decodeData(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err == nil {
		return m
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return map[string]any{"raw": string(raw)}
	}
	return map[string]any{"value": v}
}
