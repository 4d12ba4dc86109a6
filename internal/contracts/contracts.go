package contracts

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

type EventType string

const (
	EventRunStarted          EventType = "run_started"
	EventRunFinished         EventType = "run_finished"
	EventIterationStarted    EventType = "iteration_started"
	EventIterationFinished   EventType = "iteration_finished"
	EventSessionStarted      EventType = "session_started"
	EventSessionFinished     EventType = "session_finished"
	EventAssistantText       EventType = "assistant_text"
	EventToolInvoked         EventType = "tool_invoked"
	EventToolCompleted       EventType = "tool_completed"
	EventCommandBlocked      EventType = "command_blocked"
	EventUsageUpdated        EventType = "usage_updated"
	EventControlSignal       EventType = "control_signal"
	EventQualityGateStarted  EventType = "quality_gate_started"
	EventQualityGateFinished EventType = "quality_gate_finished"
	EventTaskAdvanced        EventType = "task_advanced"
	EventChainError          EventType = "chain_error"
)

// TokenSnapshot mirrors the budget tracker state at emission time.
type TokenSnapshot struct {
	ContextTokens       int  `json:"context_tokens"`
	OutputTokens        int  `json:"output_tokens"`
	CacheReadTokens     int  `json:"cache_read_tokens,omitempty"`
	CacheCreationTokens int  `json:"cache_creation_tokens,omitempty"`
	Estimated           bool `json:"estimated,omitempty"`
	WarnThreshold       int  `json:"warn_threshold,omitempty"`
	RotateThreshold     int  `json:"rotate_threshold,omitempty"`
}

// Event is the supervision event shared by every sink: the activity log,
// the display feed, the headless logger and the relay publisher.
type Event struct {
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	Iteration  int            `json:"iteration,omitempty"`
	Task       string         `json:"task,omitempty"`
	Tool       string         `json:"tool,omitempty"`
	Detail     string         `json:"detail,omitempty"`
	Message    string         `json:"message,omitempty"`
	Signal     string         `json:"signal,omitempty"`
	Hint       string         `json:"hint,omitempty"`
	Tokens     *TokenSnapshot `json:"tokens,omitempty"`
	DurationMS int64          `json:"duration_ms,omitempty"`
	Err        string         `json:"error,omitempty"`
}

var ErrMissingEventType = errors.New("event type is required")

func (e Event) Validate() error {
	if e.Type == "" {
		return ErrMissingEventType
	}
	return nil
}

// MarshalEventJSONL renders an event as a single JSON line, newline included.
func MarshalEventJSONL(event Event) (string, error) {
	raw, err := json.Marshal(event)
	if err != nil {
		return "", err
	}
	return string(raw) + "\n", nil
}

func ParseEventJSONL(line []byte) (Event, error) {
	event := Event{}
	if err := json.Unmarshal(line, &event); err != nil {
		return Event{}, err
	}
	if err := event.Validate(); err != nil {
		return Event{}, err
	}
	return event, nil
}

type EventSink interface {
	Emit(ctx context.Context, event Event) error
}

type EventSinkFunc func(ctx context.Context, event Event) error

func (f EventSinkFunc) Emit(ctx context.Context, event Event) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

// FanoutSink delivers every event to all wrapped sinks. A failing sink does
// not stop delivery to the others.
type FanoutSink struct {
	sinks []EventSink
}

func NewFanoutSink(sinks ...EventSink) *FanoutSink {
	kept := make([]EventSink, 0, len(sinks))
	for _, sink := range sinks {
		if sink != nil {
			kept = append(kept, sink)
		}
	}
	return &FanoutSink{sinks: kept}
}

func (s *FanoutSink) Emit(ctx context.Context, event Event) error {
	if s == nil {
		return nil
	}
	var errs []error
	for _, sink := range s.sinks {
		if err := sink.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
