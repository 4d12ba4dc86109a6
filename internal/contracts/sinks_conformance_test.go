package contracts_test

import (
	"context"
	"sync"
	"testing"

	"github.com/IceColdLight/ralph-wiggum-claude-code/internal/contracts"
	"github.com/IceColdLight/ralph-wiggum-claude-code/internal/contracts/conformance"
)

// recordingSink validates and stores what it receives, like every real sink
// on the run's fanout does.
type recordingSink struct {
	mu     sync.Mutex
	events []contracts.Event
}

func (s *recordingSink) Emit(_ context.Context, event contracts.Event) error {
	if err := event.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) drain() []contracts.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]contracts.Event, len(s.events))
	copy(out, s.events)
	s.events = nil
	return out
}

func TestFanoutSinkSatisfiesEventSinkContract(t *testing.T) {
	conformance.RunEventSinkSuite(t, conformance.Config{
		Name: "fanout sink",
		NewSink: func(t *testing.T) (contracts.EventSink, func() []contracts.Event) {
			recorder := &recordingSink{}
			return contracts.NewFanoutSink(recorder, nil), recorder.drain
		},
	})
}

func TestEventSinkFuncSatisfiesEventSinkContract(t *testing.T) {
	conformance.RunEventSinkSuite(t, conformance.Config{
		Name: "sink func adapter",
		NewSink: func(t *testing.T) (contracts.EventSink, func() []contracts.Event) {
			recorder := &recordingSink{}
			return contracts.EventSinkFunc(recorder.Emit), recorder.drain
		},
	})
}
