package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/IceColdLight/ralph-wiggum-claude-code/internal/contracts"
	"github.com/IceColdLight/ralph-wiggum-claude-code/internal/stream"
)

const feedLimit = 8

// Feed keeps the most recent activity lines for the status view.
type Feed struct {
	entries []string
}

func (f *Feed) Push(at time.Time, line string) {
	if strings.TrimSpace(line) == "" {
		return
	}
	f.entries = append(f.entries, at.Format("15:04:05")+" "+line)
	if len(f.entries) > feedLimit {
		f.entries = f.entries[len(f.entries)-feedLimit:]
	}
}

func (f *Feed) Lines() []string {
	return f.entries
}

// headline summarizes one supervision event as a single feed line. Events
// that only update gauges return "".
func headline(event contracts.Event) string {
	switch event.Type {
	case contracts.EventRunStarted:
		return "run started on " + event.Task
	case contracts.EventRunFinished:
		if event.Message != "" {
			return fmt.Sprintf("run finished (%s): %s", event.Detail, event.Message)
		}
		return "run finished: " + event.Detail
	case contracts.EventIterationStarted:
		return fmt.Sprintf("iteration %d started, %s", event.Iteration, event.Message)
	case contracts.EventIterationFinished:
		return fmt.Sprintf("iteration %d %s", event.Iteration, event.Detail)
	case contracts.EventSessionStarted:
		return "agent session open"
	case contracts.EventSessionFinished:
		return "agent session closed (" + event.Detail + ")"
	case contracts.EventToolInvoked:
		return event.Tool + " " + truncate(event.Detail, 60)
	case contracts.EventCommandBlocked:
		return "blocked " + truncate(event.Detail, 50) + " (" + event.Message + ")"
	case contracts.EventControlSignal:
		return event.Signal + ": " + truncate(event.Message, 70)
	case contracts.EventQualityGateStarted:
		return "quality gate started"
	case contracts.EventQualityGateFinished:
		return "quality gate " + event.Signal
	case contracts.EventTaskAdvanced:
		return "task advanced to " + event.Task
	case contracts.EventChainError:
		return "chain problem: " + truncate(event.Message, 60)
	case contracts.EventToolCompleted:
		if event.Err != "" {
			return event.Tool + " failed: " + truncate(event.Err, 60)
		}
		return ""
	}
	return ""
}

// phaseLabel maps an event to the short status shown next to the spinner.
// Events with no phase meaning keep the current label.
func phaseLabel(event contracts.Event, current string) string {
	switch event.Type {
	case contracts.EventRunStarted:
		return "starting"
	case contracts.EventIterationStarted:
		return "launching agent"
	case contracts.EventSessionStarted:
		return "agent running"
	case contracts.EventAssistantText:
		return "thinking"
	case contracts.EventToolInvoked:
		return toolPhase(event)
	case contracts.EventCommandBlocked:
		return "command blocked"
	case contracts.EventControlSignal:
		return "signal " + event.Signal
	case contracts.EventQualityGateStarted:
		return "verifying task"
	case contracts.EventQualityGateFinished:
		return "quality " + strings.ToLower(event.Signal)
	case contracts.EventTaskAdvanced:
		return "advancing chain"
	case contracts.EventChainError:
		return "chain problem"
	case contracts.EventIterationFinished:
		if event.Detail != "" {
			return "iteration " + event.Detail
		}
		return "iteration finished"
	case contracts.EventRunFinished:
		if event.Detail != "" {
			return event.Detail
		}
		return "finished"
	}
	return current
}

func toolPhase(event contracts.Event) string {
	switch stream.ClassifyTool(event.Tool) {
	case stream.ToolWrite:
		return "editing " + truncate(event.Detail, 40)
	case stream.ToolRead:
		return "reading " + truncate(event.Detail, 40)
	case stream.ToolShell:
		return "running " + truncate(event.Detail, 40)
	case stream.ToolSearch:
		return "searching"
	case stream.ToolSubagent:
		return "delegating to subagent"
	default:
		return "using " + event.Tool
	}
}

func truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	if limit <= 1 {
		return "…"
	}
	return string(runes[:limit-1]) + "…"
}
