package worker

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/werkbank-io/werkbank/internal/pii"
	"github.com/werkbank-io/werkbank/internal/provider"
	"github.com/werkbank-io/werkbank/pkg/protocol"
)

type fakeBus struct {
	msgs []protocol.Message
}

func (f *fakeBus) Publish(msg protocol.Message) (string, error) {
	f.msgs = append(f.msgs, msg)
	return msg.ID, nil
}

func (f *fakeBus) byType(typ protocol.MessageType) []protocol.Message {
	var out []protocol.Message
	for _, m := range f.msgs {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

type fakeChecker struct {
	verdict protocol.Verdict
	err     error
	actions []protocol.Action
}

func (f *fakeChecker) Check(_ string, action protocol.Action) (protocol.Verdict, error) {
	f.actions = append(f.actions, action)
	return f.verdict, f.err
}

type fakeProvider struct {
	prompts []string
	resp    string
	err     error
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Complete(_ context.Context, req protocol.CompletionRequest) (*protocol.CompletionResponse, error) {
	for _, m := range req.Messages {
		f.prompts = append(f.prompts, m.Content)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &protocol.CompletionResponse{
		Content: f.resp,
		Usage:   protocol.Usage{PromptTokens: 10, CompletionTokens: 5},
	}, nil
}

type fakeKPI struct {
	metrics []protocol.Metric
}

func (f *fakeKPI) Log(m protocol.Metric) error {
	f.metrics = append(f.metrics, m)
	return nil
}

func allowVerdict() protocol.Verdict {
	return protocol.Verdict{Allowed: true, RiskTier: protocol.RiskLow, Explanation: "ok"}
}

func newWorker(bus *fakeBus, checker *fakeChecker, prov *fakeProvider, kpiLog *fakeKPI) *Worker {
	spec := protocol.AgentSpec{ID: "acq-01", Name: "Akquise", Pod: "vertrieb", Instructions: "Qualify leads."}
	var p provider.Provider
	if prov != nil {
		p = prov
	}
	var k KPILogger
	if kpiLog != nil {
		k = kpiLog
	}
	return New(spec, bus, checker, pii.NewFilter(pii.ModeMask), p, k, nil)
}

func taskMsg(t *testing.T, task string, data any) protocol.Message {
	t.Helper()
	msg, err := protocol.NewTaskRequest("sales-01", "acq-01", task, data, protocol.PriorityNormal)
	if err != nil {
		t.Fatalf("build task: %v", err)
	}
	return msg
}

func TestHandleTaskSuccess(t *testing.T) {
	bus := &fakeBus{}
	prov := &fakeProvider{resp: `{"score": 70}`}
	kpiLog := &fakeKPI{}
	w := newWorker(bus, &fakeChecker{verdict: allowVerdict()}, prov, kpiLog)

	msg := taskMsg(t, "qualify_lead", map[string]any{"company": "TechCorp"})
	if err := w.Handle(context.Background(), msg); err != nil {
		t.Fatalf("handle: %v", err)
	}

	responses := bus.byType(protocol.TypeTaskResponse)
	if len(responses) != 1 {
		t.Fatalf("expected 1 response, got %d", len(responses))
	}
	resp := responses[0]
	if resp.Receiver != "sales-01" {
		t.Errorf("response goes back to requester, got %q", resp.Receiver)
	}
	if resp.CorrelationID != msg.ID {
		t.Errorf("correlation lost")
	}

	var tr protocol.TaskResponse
	json.Unmarshal(resp.Payload, &tr)
	if !tr.Success {
		t.Errorf("expected success, got %+v", tr)
	}

	if len(kpiLog.metrics) != 1 || kpiLog.metrics[0].Name != "llm_tokens" {
		t.Errorf("token usage not recorded: %+v", kpiLog.metrics)
	}
	if kpiLog.metrics[0].Value != 15 {
		t.Errorf("tokens = %v", kpiLog.metrics[0].Value)
	}
}

func TestHandleTaskScrubsPIIBeforeProvider(t *testing.T) {
	bus := &fakeBus{}
	prov := &fakeProvider{resp: "ok"}
	w := newWorker(bus, &fakeChecker{verdict: allowVerdict()}, prov, nil)

	msg := taskMsg(t, "qualify_lead", map[string]any{"contact": "max@techcorp.de"})
	if err := w.Handle(context.Background(), msg); err != nil {
		t.Fatalf("handle: %v", err)
	}

	for _, p := range prov.prompts {
		if strings.Contains(p, "max@techcorp.de") {
			t.Errorf("raw email reached the provider: %q", p)
		}
	}
}

func TestHandleTaskBlocked(t *testing.T) {
	bus := &fakeBus{}
	checker := &fakeChecker{verdict: protocol.Verdict{
		Allowed:     false,
		RiskTier:    protocol.RiskProhibited,
		Explanation: "action type is denied",
	}}
	prov := &fakeProvider{resp: "should not run"}
	w := newWorker(bus, checker, prov, nil)

	msg := taskMsg(t, "automatic_rejection_leads", nil)
	if err := w.Handle(context.Background(), msg); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if len(prov.prompts) != 0 {
		t.Error("provider called for a blocked task")
	}

	responses := bus.byType(protocol.TypeTaskResponse)
	if len(responses) != 1 {
		t.Fatalf("expected failure response, got %d", len(responses))
	}
	var tr protocol.TaskResponse
	json.Unmarshal(responses[0].Payload, &tr)
	if tr.Success || tr.Error == "" {
		t.Errorf("expected failure with reason, got %+v", tr)
	}

	alerts := bus.byType(protocol.TypeComplianceAlert)
	if len(alerts) != 1 {
		t.Fatalf("expected compliance alert, got %d", len(alerts))
	}
	if alerts[0].Receiver != protocol.OperatorID {
		t.Errorf("alert receiver = %q", alerts[0].Receiver)
	}
}

func TestHandleTaskEscalated(t *testing.T) {
	bus := &fakeBus{}
	checker := &fakeChecker{verdict: protocol.Verdict{
		Allowed:     true,
		RiskTier:    protocol.RiskHigh,
		HumanInLoop: true,
		Explanation: "score below threshold",
	}}
	prov := &fakeProvider{resp: "should not run"}
	w := newWorker(bus, checker, prov, nil)

	msg := taskMsg(t, "qualify_lead", map[string]any{"score": 25})
	if err := w.Handle(context.Background(), msg); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if len(prov.prompts) != 0 {
		t.Error("provider called for an escalated task")
	}

	escs := bus.byType(protocol.TypeEscalation)
	if len(escs) != 1 {
		t.Fatalf("expected escalation, got %d", len(escs))
	}
	if escs[0].Receiver != protocol.OperatorID {
		t.Errorf("escalation receiver = %q", escs[0].Receiver)
	}
	if escs[0].CorrelationID != msg.ID {
		t.Errorf("escalation not correlated to the request")
	}
}

func TestHandleTaskCheckerFault(t *testing.T) {
	w := newWorker(&fakeBus{}, &fakeChecker{err: errors.New("audit store down")}, &fakeProvider{}, nil)

	msg := taskMsg(t, "qualify_lead", nil)
	if err := w.Handle(context.Background(), msg); err == nil {
		t.Fatal("infrastructure faults must surface for retry")
	}
}

func TestHandleTaskProviderError(t *testing.T) {
	w := newWorker(&fakeBus{}, &fakeChecker{verdict: allowVerdict()}, &fakeProvider{err: errors.New("503")}, nil)

	msg := taskMsg(t, "qualify_lead", nil)
	if err := w.Handle(context.Background(), msg); err == nil {
		t.Fatal("provider errors must surface for retry")
	}
}

func TestHandleTaskNoProvider(t *testing.T) {
	bus := &fakeBus{}
	w := newWorker(bus, &fakeChecker{verdict: allowVerdict()}, nil, nil)

	msg := taskMsg(t, "qualify_lead", nil)
	if err := w.Handle(context.Background(), msg); err != nil {
		t.Fatalf("handle: %v", err)
	}

	responses := bus.byType(protocol.TypeTaskResponse)
	if len(responses) != 1 {
		t.Fatalf("expected response, got %d", len(responses))
	}
	var tr protocol.TaskResponse
	json.Unmarshal(responses[0].Payload, &tr)
	if tr.Success {
		t.Errorf("expected failure without provider, got %+v", tr)
	}
}

func TestHandleKPIUpdate(t *testing.T) {
	kpiLog := &fakeKPI{}
	w := newWorker(&fakeBus{}, &fakeChecker{}, nil, kpiLog)

	msg, _ := protocol.NewKPIUpdate("sales-01", "acq-01", "leads_qualified", 7)
	if err := w.Handle(context.Background(), msg); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if len(kpiLog.metrics) != 1 {
		t.Fatalf("expected 1 metric, got %d", len(kpiLog.metrics))
	}
	m := kpiLog.metrics[0]
	if m.AgentID != "acq-01" || m.Name != "leads_qualified" || m.Value != 7 {
		t.Errorf("metric = %+v", m)
	}
}

func TestHandleNotificationAcked(t *testing.T) {
	bus := &fakeBus{}
	w := newWorker(bus, &fakeChecker{}, nil, nil)

	msg, _ := protocol.NewMessage("scheduler", "acq-01", protocol.TypeSystemNotification,
		map[string]any{"reason": "scheduled_wake"}, protocol.PriorityNormal)
	if err := w.Handle(context.Background(), msg); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(bus.msgs) != 0 {
		t.Errorf("notification should not produce messages")
	}
}
