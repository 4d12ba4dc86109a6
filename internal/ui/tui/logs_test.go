package tui

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeLogCapture(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLogBrowserGroupsCapturesByIteration(t *testing.T) {
	dir := t.TempDir()
	writeLogCapture(t, dir, "iteration-001.stderr.log", "first agent pass\n")
	writeLogCapture(t, dir, "iteration-002.stderr.log", "second agent pass\n")
	writeLogCapture(t, dir, "verify-002.stderr.log", "gate output\n")
	writeLogCapture(t, dir, "notes.txt", "ignored\n")

	browser, err := NewLogBrowser(dir)
	if err != nil {
		t.Fatal(err)
	}

	if got := browser.CurrentGroup(); got != "001" {
		t.Fatalf("expected first iteration selected, got %q", got)
	}
	if base := filepath.Base(browser.CurrentFile()); base != "iteration-001.stderr.log" {
		t.Fatalf("expected agent capture selected, got %q", base)
	}

	browser.NextGroup()
	if got := browser.CurrentGroup(); got != "002" {
		t.Fatalf("expected second iteration, got %q", got)
	}
	browser.NextFile()
	if base := filepath.Base(browser.CurrentFile()); base != "verify-002.stderr.log" {
		t.Fatalf("expected gate capture after NextFile, got %q", base)
	}

	view := browser.View()
	if !strings.Contains(view, "> iteration 002") {
		t.Errorf("expected selected iteration marker, got:\n%s", view)
	}
	if !strings.Contains(view, "gate output") {
		t.Errorf("expected selected capture preview, got:\n%s", view)
	}
	if strings.Contains(view, "notes.txt") {
		t.Errorf("non-capture files should be hidden, got:\n%s", view)
	}
}

func TestLogBrowserNavigationClampsAtEdges(t *testing.T) {
	dir := t.TempDir()
	writeLogCapture(t, dir, "iteration-001.stderr.log", "only capture\n")

	browser, err := NewLogBrowser(dir)
	if err != nil {
		t.Fatal(err)
	}

	browser.PrevGroup()
	browser.PrevFile()
	browser.NextGroup()
	browser.NextGroup()
	browser.NextFile()

	if got := browser.CurrentGroup(); got != "001" {
		t.Errorf("expected selection pinned to the only group, got %q", got)
	}
	if base := filepath.Base(browser.CurrentFile()); base != "iteration-001.stderr.log" {
		t.Errorf("expected selection pinned to the only file, got %q", base)
	}
}

func TestLogBrowserPreviewsTailOfLargeCaptures(t *testing.T) {
	dir := t.TempDir()
	var lines []string
	for i := 1; i <= logPreviewLines+10; i++ {
		lines = append(lines, strings.Repeat("x", 3)+" line")
	}
	lines[len(lines)-1] = "final line"
	writeLogCapture(t, dir, "iteration-001.stderr.log", strings.Join(lines, "\n")+"\n")

	browser, err := NewLogBrowser(dir)
	if err != nil {
		t.Fatal(err)
	}

	view := browser.View()
	if !strings.Contains(view, "final line") {
		t.Errorf("expected the capture tail, got:\n%s", view)
	}
	preview := strings.Count(browser.content, "\n") + 1
	if preview != logPreviewLines {
		t.Errorf("expected %d preview lines, got %d", logPreviewLines, preview)
	}
}

func TestLogBrowserMissingRootIsEmpty(t *testing.T) {
	browser, err := NewLogBrowser(filepath.Join(t.TempDir(), "absent"))
	if err != nil {
		t.Fatal(err)
	}
	if got := browser.View(); !strings.Contains(got, "no iteration logs yet") {
		t.Errorf("expected empty-state view, got %q", got)
	}

	browser.NextGroup()
	if got := browser.CurrentFile(); got != "" {
		t.Errorf("empty browser should have no selection, got %q", got)
	}
}

func TestIterationGroup(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"iteration-003.stderr.log", "003"},
		{"verify-003.stderr.log", "003"},
		{"iteration-010.stderr.log", "010"},
		{"iteration-003.log", ""},
		{"stderr.log", ""},
		{"notes.txt", ""},
	}
	for _, tt := range tests {
		if got := iterationGroup(tt.name); got != tt.want {
			t.Errorf("iterationGroup(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}
