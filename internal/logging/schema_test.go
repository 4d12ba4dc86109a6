package logging

import (
	"strings"
	"testing"
)

func TestValidateStructuredLogLineAcceptsRequiredFields(t *testing.T) {
	samples := []string{
		`{"timestamp":"2026-02-22T10:00:00Z","level":"info","component":"supervisor","task":"tasks/01-parser.md","run_id":"run-99","message":"run started"}`,
		`{"timestamp":"2026-02-22T10:01:00Z","level":"debug","component":"watchdog","task":"tasks/02-budget.md","run_id":"run-101","pid":1234,"message":"scan complete"}`,
	}

	for _, line := range samples {
		if err := ValidateStructuredLogLine([]byte(line)); err != nil {
			t.Fatalf("expected valid schema line, got: %v", err)
		}
	}
}

func TestValidateStructuredLogLineRejectsMissingRequiredField(t *testing.T) {
	line := `{"timestamp":"2026-02-22T10:00:00Z","level":"info","component":"supervisor","task":"tasks/01-parser.md","message":"missing run_id"}`
	if err := ValidateStructuredLogLine([]byte(line)); err == nil {
		t.Fatal("expected validation failure for missing run_id")
	}
}

func TestValidateStructuredLogLineRejectsInvalidTimestamp(t *testing.T) {
	line := `{"timestamp":"not-a-timestamp","level":"info","component":"supervisor","task":"tasks/01-parser.md","run_id":"run-99"}`
	if err := ValidateStructuredLogLine([]byte(line)); err == nil {
		t.Fatal("expected validation failure for invalid timestamp")
	}
}

func TestValidateStructuredLogLineRejectsBlankLine(t *testing.T) {
	if err := ValidateStructuredLogLine([]byte("")); err == nil {
		t.Fatal("expected validation failure for blank line")
	}
	if err := ValidateStructuredLogLine([]byte("   \n")); err == nil {
		t.Fatal("expected validation failure for whitespace-only line")
	}
}

func TestPopulateRequiredLogFieldsDefaults(t *testing.T) {
	fields := populateRequiredLogFields(LoggingSchemaFields{}, "")
	if fields.Component != "ralph" {
		t.Fatalf("expected ralph component default, got %q", fields.Component)
	}
	if fields.Task != "supervisor" {
		t.Fatalf("expected supervisor task default, got %q", fields.Task)
	}
	if fields.RunID != fields.Task {
		t.Fatalf("expected run id to follow task, got %q", fields.RunID)
	}
	if strings.TrimSpace(fields.Timestamp) == "" {
		t.Fatalf("expected timestamp default")
	}
}
