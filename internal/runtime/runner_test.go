package runtime

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/werkbank-io/werkbank/internal/bus"
	"github.com/werkbank-io/werkbank/internal/store"
	"github.com/werkbank-io/werkbank/pkg/protocol"
)

func newTestBus(t *testing.T) *bus.Bus {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s, err := bus.NewSQLiteStore(db)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	return bus.New(s, nil)
}

func publish(t *testing.T, b *bus.Bus, to string) protocol.Message {
	t.Helper()
	msg, err := protocol.NewTaskRequest("sender", to, "work", nil, protocol.PriorityNormal)
	if err != nil {
		t.Fatalf("build message: %v", err)
	}
	if _, err := b.Publish(msg); err != nil {
		t.Fatalf("publish: %v", err)
	}
	return msg
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestRunnerProcessesAndAcks(t *testing.T) {
	b := newTestBus(t)

	var handled atomic.Int32
	r := New("worker", b, HandlerFunc(func(_ context.Context, msg protocol.Message) error {
		handled.Add(1)
		return nil
	}), nil, nil, Options{PollInterval: 20 * time.Millisecond}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Start(ctx)

	publish(t, b, "worker")

	waitFor(t, "message handled", func() bool { return handled.Load() == 1 })
	waitFor(t, "message acknowledged", func() bool {
		pending, _ := b.Poll("worker")
		return len(pending) == 0
	})
}

func TestRunnerWakesOnPublish(t *testing.T) {
	b := newTestBus(t)

	var handled atomic.Int32
	// Long poll interval: only the wake-up signal can deliver in time.
	r := New("worker", b, HandlerFunc(func(_ context.Context, _ protocol.Message) error {
		handled.Add(1)
		return nil
	}), nil, nil, Options{PollInterval: time.Hour}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Start(ctx)

	// Let the startup tick pass before publishing.
	time.Sleep(50 * time.Millisecond)
	publish(t, b, "worker")

	waitFor(t, "wake-up delivery", func() bool { return handled.Load() == 1 })
}

func TestRunnerDeadlettersPoisonMessage(t *testing.T) {
	b := newTestBus(t)

	var calls atomic.Int32
	r := New("worker", b, HandlerFunc(func(_ context.Context, _ protocol.Message) error {
		calls.Add(1)
		return errors.New("cannot parse")
	}), nil, nil, Options{PollInterval: 10 * time.Millisecond, MaxAttempts: 3, MaxBackoff: 20 * time.Millisecond}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Start(ctx)

	msg := publish(t, b, "worker")

	waitFor(t, "dead-letter", func() bool {
		hist, _ := b.History("worker", 5)
		return len(hist) == 1 && hist[0].Status == protocol.StatusDead
	})

	if got := calls.Load(); got != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", got)
	}

	pending, _ := b.Poll("worker")
	for _, m := range pending {
		if m.ID == msg.ID {
			t.Error("dead-lettered message still pending")
		}
	}
}

func TestRunnerFailureDoesNotBlockOthers(t *testing.T) {
	b := newTestBus(t)

	var ok atomic.Int32
	r := New("worker", b, HandlerFunc(func(_ context.Context, msg protocol.Message) error {
		var req protocol.TaskRequest
		msg.DecodePayload(&req)
		if req.Task == "poison" {
			return errors.New("nope")
		}
		ok.Add(1)
		return nil
	}), nil, nil, Options{PollInterval: 10 * time.Millisecond, MaxAttempts: 2, MaxBackoff: 20 * time.Millisecond}, nil)

	poison, _ := protocol.NewTaskRequest("s", "worker", "poison", nil, protocol.PriorityUrgent)
	b.Publish(poison)
	good, _ := protocol.NewTaskRequest("s", "worker", "fine", nil, protocol.PriorityLow)
	b.Publish(good)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Start(ctx)

	// The healthy message lands even while the urgent one keeps failing.
	waitFor(t, "healthy message handled", func() bool { return ok.Load() == 1 })
	waitFor(t, "poison dead-lettered", func() bool {
		pending, _ := b.Poll("worker")
		return len(pending) == 0
	})
}

func TestRunnerRunsPeriodicTask(t *testing.T) {
	b := newTestBus(t)

	var ticks atomic.Int32
	periodic := func(_ context.Context) error {
		ticks.Add(1)
		return nil
	}
	r := New("worker", b, HandlerFunc(func(_ context.Context, _ protocol.Message) error {
		return nil
	}), periodic, nil, Options{PollInterval: 10 * time.Millisecond}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Start(ctx)

	waitFor(t, "periodic ticks", func() bool { return ticks.Load() >= 3 })
}

func TestRunnerStopsOnCancel(t *testing.T) {
	b := newTestBus(t)

	r := New("worker", b, HandlerFunc(func(_ context.Context, _ protocol.Message) error {
		return nil
	}), nil, nil, Options{PollInterval: 10 * time.Millisecond}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Start(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("runner did not stop on cancel")
	}
}

type fakePresence struct {
	statuses   []protocol.AgentStatus
	heartbeats atomic.Int32
}

func (p *fakePresence) SetStatus(_ string, s protocol.AgentStatus) error {
	p.statuses = append(p.statuses, s)
	return nil
}

func (p *fakePresence) Heartbeat(_ string) error {
	p.heartbeats.Add(1)
	return nil
}

func TestRunnerReportsPresence(t *testing.T) {
	b := newTestBus(t)
	presence := &fakePresence{}

	r := New("worker", b, HandlerFunc(func(_ context.Context, _ protocol.Message) error {
		return nil
	}), nil, presence, Options{PollInterval: 10 * time.Millisecond}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Start(ctx) }()

	waitFor(t, "heartbeats", func() bool { return presence.heartbeats.Load() >= 2 })
	cancel()
	<-done

	if len(presence.statuses) < 2 {
		t.Fatalf("expected active+inactive transitions, got %v", presence.statuses)
	}
	if presence.statuses[0] != protocol.AgentActive {
		t.Errorf("first status should be active, got %q", presence.statuses[0])
	}
	if presence.statuses[len(presence.statuses)-1] != protocol.AgentInactive {
		t.Errorf("last status should be inactive, got %q", presence.statuses[len(presence.statuses)-1])
	}
}
