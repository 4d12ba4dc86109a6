package state

import (
	"context"
	"fmt"

	"github.com/IceColdLight/ralph-wiggum-claude-code/internal/contracts"
	"github.com/IceColdLight/ralph-wiggum-claude-code/internal/control"
)

// NewEventSink adapts the state directory into an event sink that keeps the
// durable failure memory. Blocked commands and gutter detections land in the
// error log; a blocked command with a known alternative also leaves a lesson
// so the next prompt warns the agent off it. Everything else passes through
// untouched.
func NewEventSink(d *Dir) contracts.EventSink {
	return contracts.EventSinkFunc(func(_ context.Context, event contracts.Event) error {
		switch event.Type {
		case contracts.EventCommandBlocked:
			if err := d.AppendError(ErrorEntry{
				Timestamp: event.Timestamp,
				Iteration: event.Iteration,
				Task:      event.Task,
				Kind:      "blocked-command",
				Subject:   event.Detail,
				Detail:    event.Message,
				Hint:      event.Hint,
			}); err != nil {
				return err
			}
			if event.Hint == "" {
				return nil
			}
			return d.AppendLesson(fmt.Sprintf("blocked interactive command %q; %s", event.Detail, event.Hint))
		case contracts.EventControlSignal:
			if event.Signal != string(control.SignalGutter) {
				return nil
			}
			return d.AppendError(ErrorEntry{
				Timestamp: event.Timestamp,
				Iteration: event.Iteration,
				Task:      event.Task,
				Kind:      "gutter",
				Subject:   event.Detail,
				Detail:    event.Message,
			})
		case contracts.EventChainError:
			return d.AppendError(ErrorEntry{
				Timestamp: event.Timestamp,
				Iteration: event.Iteration,
				Task:      event.Task,
				Kind:      "chain",
				Subject:   event.Detail,
				Detail:    event.Message,
			})
		}
		return nil
	})
}
