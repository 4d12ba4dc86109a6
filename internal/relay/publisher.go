package relay

import (
	"context"
	"fmt"
	"strings"

	"github.com/IceColdLight/ralph-wiggum-claude-code/internal/contracts"
)

// Publisher mirrors supervision events onto the bus. It satisfies
// contracts.EventSink so it joins the fanout next to the file and display
// sinks. Control signals are additionally copied onto the signals subject
// so lightweight monitors can watch for rotation and completion without
// consuming the full feed.
type Publisher struct {
	bus      Bus
	subjects Subjects
	source   string
	runID    string
}

func NewPublisher(bus Bus, subjects Subjects, source, runID string) (*Publisher, error) {
	if bus == nil {
		return nil, fmt.Errorf("relay publisher needs a bus")
	}
	if strings.TrimSpace(source) == "" {
		source = "ralph"
	}
	return &Publisher{bus: bus, subjects: subjects, source: source, runID: runID}, nil
}

// Hello announces the run so monitors that attach later can label it.
func (p *Publisher) Hello(ctx context.Context, payload HelloPayload) error {
	if payload.RunID == "" {
		payload.RunID = p.runID
	}
	env, err := NewEnvelope(EnvelopeHello, p.source, p.runID, payload)
	if err != nil {
		return err
	}
	return p.bus.Publish(ctx, p.subjects.Hello, env)
}

func (p *Publisher) Emit(ctx context.Context, event contracts.Event) error {
	if err := event.Validate(); err != nil {
		return err
	}
	env, err := NewEnvelope(EnvelopeSupervision, p.source, p.runID, SupervisionPayload{Event: event})
	if err != nil {
		return err
	}
	if err := p.bus.Publish(ctx, p.subjects.Events, env); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	if event.Type == contracts.EventControlSignal {
		if err := p.bus.Publish(ctx, p.subjects.Signals, env); err != nil {
			return fmt.Errorf("publish signal: %w", err)
		}
	}
	return nil
}
