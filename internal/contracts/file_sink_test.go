package contracts

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestFileEventSinkWritesJSONL(t *testing.T) {
	tempDir := t.TempDir()
	path := filepath.Join(tempDir, "state", "activity.jsonl")
	sink := NewFileEventSink(path)

	err := sink.Emit(context.Background(), Event{
		Type:      EventToolInvoked,
		Iteration: 2,
		Task:      "tasks/01-parser.md",
		Tool:      "shell",
		Detail:    "go test ./...",
		Timestamp: time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("emit failed: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file failed: %v", err)
	}
	if !strings.Contains(string(content), `"type":"tool_invoked"`) {
		t.Fatalf("expected event type in sink output, got %q", string(content))
	}
	if !strings.Contains(string(content), `"task":"tasks/01-parser.md"`) {
		t.Fatalf("expected task path in sink output, got %q", string(content))
	}
}

func TestFileEventSinkDefaultsTimestamp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "activity.jsonl")
	sink := NewFileEventSink(path)

	if err := sink.Emit(context.Background(), Event{Type: EventRunStarted}); err != nil {
		t.Fatalf("emit failed: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file failed: %v", err)
	}
	event, err := ParseEventJSONL([]byte(strings.TrimSpace(string(content))))
	if err != nil {
		t.Fatalf("parse emitted line: %v", err)
	}
	if event.Timestamp.IsZero() {
		t.Fatalf("expected sink to stamp a timestamp")
	}
}

func TestFileEventSinkRejectsUntypedEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "activity.jsonl")
	sink := NewFileEventSink(path)

	if err := sink.Emit(context.Background(), Event{Message: "untyped"}); err == nil {
		t.Fatalf("expected untyped event to be rejected")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected no file for rejected event, stat err=%v", err)
	}
}

func TestFileEventSinkSerializesConcurrentEmits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "activity.jsonl")
	sink := NewFileEventSink(path)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = sink.Emit(context.Background(), Event{Type: EventAssistantText, Message: strings.Repeat("x", 256)})
		}()
	}
	wg.Wait()

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	if len(lines) != 16 {
		t.Fatalf("expected 16 lines, got %d", len(lines))
	}
	for _, line := range lines {
		if _, err := ParseEventJSONL([]byte(line)); err != nil {
			t.Fatalf("interleaved line %q: %v", line, err)
		}
	}
}
