package conformance

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/IceColdLight/ralph-wiggum-claude-code/internal/contracts"
)

// SinkFactory builds a fresh sink plus a drain that returns everything the
// sink received, in order.
type SinkFactory func(t *testing.T) (contracts.EventSink, func() []contracts.Event)

type Config struct {
	Name    string
	NewSink SinkFactory
}

// RunEventSinkSuite checks the behavior every event sink must share:
// delivery in emission order, rejection of untyped events, and safety under
// concurrent emitters.
func RunEventSinkSuite(t *testing.T, cfg Config) {
	t.Helper()

	if strings.TrimSpace(cfg.Name) == "" {
		t.Fatal("sink suite name is required")
	}
	if cfg.NewSink == nil {
		t.Fatal("sink suite factory is required")
	}

	t.Run("delivers events in order", func(t *testing.T) {
		sink, drain := cfg.NewSink(t)
		base := time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)
		for i, typ := range []contracts.EventType{
			contracts.EventIterationStarted,
			contracts.EventToolInvoked,
			contracts.EventIterationFinished,
		} {
			event := contracts.Event{Type: typ, Iteration: 1, Timestamp: base.Add(time.Duration(i) * time.Second)}
			if err := sink.Emit(context.Background(), event); err != nil {
				t.Fatalf("emit %s failed: %v", typ, err)
			}
		}
		got := drain()
		if len(got) != 3 {
			t.Fatalf("expected 3 events, got %d", len(got))
		}
		if got[0].Type != contracts.EventIterationStarted || got[2].Type != contracts.EventIterationFinished {
			t.Fatalf("expected emission order preserved, got %#v", got)
		}
	})

	t.Run("rejects untyped events", func(t *testing.T) {
		sink, drain := cfg.NewSink(t)
		if err := sink.Emit(context.Background(), contracts.Event{Message: "untyped"}); err == nil {
			t.Fatalf("expected untyped event to be rejected by %s", cfg.Name)
		}
		if got := drain(); len(got) != 0 {
			t.Fatalf("expected no delivery for rejected event, got %d", len(got))
		}
	})

	t.Run("safe under concurrent emitters", func(t *testing.T) {
		sink, drain := cfg.NewSink(t)
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = sink.Emit(context.Background(), contracts.Event{Type: contracts.EventAssistantText, Message: "concurrent"})
			}()
		}
		wg.Wait()
		if got := drain(); len(got) != 8 {
			t.Fatalf("expected 8 events after concurrent emit, got %d", len(got))
		}
	})
}
