package tui

import (
	"strings"
	"testing"
	"time"

	"github.com/IceColdLight/ralph-wiggum-claude-code/internal/contracts"
)

func TestFeedKeepsMostRecentLines(t *testing.T) {
	at := time.Date(2026, 3, 14, 10, 1, 12, 0, time.UTC)

	var feed Feed
	feed.Push(at, "first")
	feed.Push(at, "   ")
	for i := 0; i < feedLimit; i++ {
		feed.Push(at.Add(time.Duration(i)*time.Second), "line")
	}

	lines := feed.Lines()
	if len(lines) != feedLimit {
		t.Fatalf("expected %d lines, got %d", feedLimit, len(lines))
	}
	for _, line := range lines {
		if strings.Contains(line, "first") {
			t.Fatalf("oldest line should have been dropped, got %q", line)
		}
	}
	if !strings.HasPrefix(lines[0], "10:01:12 ") {
		t.Errorf("expected timestamp prefix, got %q", lines[0])
	}
}

func TestHeadlineSummarizesEvents(t *testing.T) {
	tests := []struct {
		name  string
		event contracts.Event
		want  string
	}{
		{
			name:  "run started",
			event: contracts.Event{Type: contracts.EventRunStarted, Task: "tasks/01-parser.md"},
			want:  "run started on tasks/01-parser.md",
		},
		{
			name:  "iteration started",
			event: contracts.Event{Type: contracts.EventIterationStarted, Iteration: 3, Message: "fresh context"},
			want:  "iteration 3 started, fresh context",
		},
		{
			name:  "tool invoked",
			event: contracts.Event{Type: contracts.EventToolInvoked, Tool: "Edit", Detail: "internal/stream/parser.go"},
			want:  "Edit internal/stream/parser.go",
		},
		{
			name:  "command blocked",
			event: contracts.Event{Type: contracts.EventCommandBlocked, Tool: "Bash", Detail: "git push origin main", Message: "push blocked"},
			want:  "blocked git push origin main (push blocked)",
		},
		{
			name:  "control signal",
			event: contracts.Event{Type: contracts.EventControlSignal, Signal: "ROTATE", Message: "context above rotate threshold"},
			want:  "ROTATE: context above rotate threshold",
		},
		{
			name:  "task advanced",
			event: contracts.Event{Type: contracts.EventTaskAdvanced, Task: "tasks/02-watchdog.md"},
			want:  "task advanced to tasks/02-watchdog.md",
		},
		{
			name:  "quiet assistant text",
			event: contracts.Event{Type: contracts.EventAssistantText, Message: "thinking about the parser"},
			want:  "",
		},
		{
			name:  "quiet usage update",
			event: contracts.Event{Type: contracts.EventUsageUpdated, Tokens: &contracts.TokenSnapshot{ContextTokens: 1}},
			want:  "",
		},
		{
			name:  "tool completed without error",
			event: contracts.Event{Type: contracts.EventToolCompleted, Tool: "Read"},
			want:  "",
		},
		{
			name:  "tool completed with error",
			event: contracts.Event{Type: contracts.EventToolCompleted, Tool: "Bash", Err: "exit status 1"},
			want:  "Bash failed: exit status 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := headline(tt.event); got != tt.want {
				t.Errorf("headline() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPhaseLabelTracksActivity(t *testing.T) {
	tests := []struct {
		name    string
		event   contracts.Event
		current string
		want    string
	}{
		{
			name:  "run started",
			event: contracts.Event{Type: contracts.EventRunStarted},
			want:  "starting",
		},
		{
			name:  "assistant text",
			event: contracts.Event{Type: contracts.EventAssistantText},
			want:  "thinking",
		},
		{
			name:  "write tool",
			event: contracts.Event{Type: contracts.EventToolInvoked, Tool: "Edit", Detail: "main.go"},
			want:  "editing main.go",
		},
		{
			name:  "shell tool",
			event: contracts.Event{Type: contracts.EventToolInvoked, Tool: "Bash", Detail: "go test ./..."},
			want:  "running go test ./...",
		},
		{
			name:  "search tool",
			event: contracts.Event{Type: contracts.EventToolInvoked, Tool: "Grep"},
			want:  "searching",
		},
		{
			name:  "unknown tool",
			event: contracts.Event{Type: contracts.EventToolInvoked, Tool: "WebFetch"},
			want:  "using WebFetch",
		},
		{
			name:  "control signal",
			event: contracts.Event{Type: contracts.EventControlSignal, Signal: "WARN"},
			want:  "signal WARN",
		},
		{
			name:  "quality gate finished",
			event: contracts.Event{Type: contracts.EventQualityGateFinished, Signal: "QC-PASS"},
			want:  "quality qc-pass",
		},
		{
			name:    "gauge event keeps current phase",
			event:   contracts.Event{Type: contracts.EventUsageUpdated},
			current: "thinking",
			want:    "thinking",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := phaseLabel(tt.event, tt.current); got != tt.want {
				t.Errorf("phaseLabel() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTruncateShortensLongText(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("short text should pass through, got %q", got)
	}
	got := truncate("a very long command line that keeps going", 12)
	if got != "a very long…" {
		t.Errorf("truncate() = %q", got)
	}
	if got := truncate("héllo wörld", 6); got != "héllo…" {
		t.Errorf("truncate should count runes, got %q", got)
	}
}
