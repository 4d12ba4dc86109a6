package relay

import (
	"context"
	"testing"
	"time"

	"github.com/IceColdLight/ralph-wiggum-claude-code/internal/contracts"
)

func supervisionEnvelope(t *testing.T, runID string, event contracts.Event) Envelope {
	t.Helper()
	env, err := NewEnvelope(EnvelopeSupervision, "ralph", runID, SupervisionPayload{Event: event})
	if err != nil {
		t.Fatalf("build envelope: %v", err)
	}
	return env
}

func recvEnvelope(t *testing.T, ch <-chan Envelope) Envelope {
	t.Helper()
	select {
	case env, ok := <-ch:
		if !ok {
			t.Fatal("bus channel closed before delivery")
		}
		return env
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for envelope")
	}
	return Envelope{}
}

func TestMemoryBusDeliversOnlyToMatchingSubject(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()

	events, _, err := bus.Subscribe(context.Background(), "ralph.run.events")
	if err != nil {
		t.Fatalf("subscribe events: %v", err)
	}
	signals, _, err := bus.Subscribe(context.Background(), "ralph.run.signals")
	if err != nil {
		t.Fatalf("subscribe signals: %v", err)
	}

	sent := supervisionEnvelope(t, "run-1", contracts.Event{Type: contracts.EventToolInvoked, Tool: "Edit"})
	if err := bus.Publish(context.Background(), "ralph.run.events", sent); err != nil {
		t.Fatalf("publish: %v", err)
	}

	got := recvEnvelope(t, events)
	if got.RunID != "run-1" || got.Type != EnvelopeSupervision {
		t.Fatalf("expected published envelope, got %+v", got)
	}
	select {
	case env := <-signals:
		t.Fatalf("expected no delivery on signals subject, got %+v", env)
	default:
	}
}

func TestMemoryBusUnsubscribeClosesChannelAndStopsDelivery(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()

	out, unsubscribe, err := bus.Subscribe(context.Background(), "events")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	unsubscribe()
	select {
	case _, ok := <-out:
		if ok {
			t.Fatal("expected unsubscribe to close the channel")
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("expected channel to close after unsubscribe")
	}

	// A second unsubscribe and a publish after removal must both be safe.
	unsubscribe()
	sent := supervisionEnvelope(t, "run-1", contracts.Event{Type: contracts.EventAssistantText})
	if err := bus.Publish(context.Background(), "events", sent); err != nil {
		t.Fatalf("publish after unsubscribe: %v", err)
	}
}

func TestMemoryBusCloseRejectsFurtherUse(t *testing.T) {
	bus := NewMemoryBus()
	out, _, err := bus.Subscribe(context.Background(), "events")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	select {
	case _, ok := <-out:
		if ok {
			t.Fatal("expected close to close subscriber channels")
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("expected subscriber channel to close on bus close")
	}

	sent := supervisionEnvelope(t, "run-1", contracts.Event{Type: contracts.EventAssistantText})
	if err := bus.Publish(context.Background(), "events", sent); err == nil {
		t.Fatal("expected publish on closed bus to fail")
	}
	if _, _, err := bus.Subscribe(context.Background(), "events"); err == nil {
		t.Fatal("expected subscribe on closed bus to fail")
	}
	if err := bus.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
