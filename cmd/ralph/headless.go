package main

import (
	"context"

	"github.com/IceColdLight/ralph-wiggum-claude-code/internal/contracts"
	"github.com/IceColdLight/ralph-wiggum-claude-code/internal/logging"
)

// newHeadlessSink turns supervision events into structured log lines for
// plain-display runs, one line per event.
func newHeadlessSink(logger *logging.StructuredLogger) contracts.EventSink {
	return contracts.EventSinkFunc(func(_ context.Context, event contracts.Event) error {
		if err := event.Validate(); err != nil {
			return err
		}
		fields := map[string]interface{}{
			"event_type": string(event.Type),
		}
		if event.Iteration > 0 {
			fields["iteration"] = event.Iteration
		}
		if event.Task != "" {
			fields["task"] = event.Task
		}
		if event.Tool != "" {
			fields["tool"] = event.Tool
		}
		if event.Detail != "" {
			fields["detail"] = event.Detail
		}
		if event.Signal != "" {
			fields["signal"] = event.Signal
		}
		if event.Tokens != nil {
			fields["context_tokens"] = event.Tokens.ContextTokens
		}
		if event.Err != "" {
			fields["error"] = event.Err
		}

		message := event.Message
		if message == "" {
			message = string(event.Type)
		}
		return logger.Event("info", message, fields)
	})
}
