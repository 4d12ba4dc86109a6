package taskfile

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTask(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	return path
}

func doneTask(next string) string {
	header := "---\ntask: finished work\nquality_check_passed: true\n"
	if next != "" {
		header += "next_task: " + next + "\n"
	}
	return header + "---\n\n- [x] everything\n"
}

func TestWalkReturnsFirstTaskWithUncheckedCriteria(t *testing.T) {
	dir := t.TempDir()
	entry := writeTask(t, dir, "001.md", doneTask("002.md"))
	writeTask(t, dir, "002.md", doneTask("003.md"))
	writeTask(t, dir, "003.md", `---
task: current work
---

- [x] first
- [x] second
- [ ] third
- [ ] fourth
- [ ] fifth
`)

	result, err := NewWalker().Walk(entry)
	if err != nil {
		t.Fatalf("unexpected walk error: %v", err)
	}
	if result.Status != WalkActive {
		t.Fatalf("expected active status, got %q", result.Status)
	}
	if filepath.Base(result.Task.Path) != "003.md" {
		t.Fatalf("expected 003.md, got %s", result.Task.Path)
	}
	if len(result.Visited) != 3 {
		t.Fatalf("expected 3 visited tasks, got %v", result.Visited)
	}
}

func TestWalkStopsAtTaskAwaitingVerification(t *testing.T) {
	dir := t.TempDir()
	entry := writeTask(t, dir, "001.md", doneTask("002.md"))
	writeTask(t, dir, "002.md", "---\ntask: checked but unverified\n---\n\n- [x] all done\n")

	result, err := NewWalker().Walk(entry)
	if err != nil {
		t.Fatalf("unexpected walk error: %v", err)
	}
	if result.Status != WalkNeedsVerification {
		t.Fatalf("expected needs_verification, got %q", result.Status)
	}
	if filepath.Base(result.Task.Path) != "002.md" {
		t.Fatalf("expected 002.md, got %s", result.Task.Path)
	}
}

func TestWalkReportsChainComplete(t *testing.T) {
	dir := t.TempDir()
	entry := writeTask(t, dir, "001.md", doneTask("002.md"))
	writeTask(t, dir, "002.md", doneTask(""))

	result, err := NewWalker().Walk(entry)
	if err != nil {
		t.Fatalf("unexpected walk error: %v", err)
	}
	if result.Status != WalkChainComplete {
		t.Fatalf("expected chain_complete, got %q", result.Status)
	}
	if result.Task != nil {
		t.Fatalf("expected no task, got %s", result.Task.Path)
	}
}

func TestWalkShortCircuitsOnCycle(t *testing.T) {
	dir := t.TempDir()
	entry := writeTask(t, dir, "001.md", doneTask("002.md"))
	writeTask(t, dir, "002.md", doneTask("001.md"))

	result, err := NewWalker().Walk(entry)
	if err != nil {
		t.Fatalf("unexpected walk error: %v", err)
	}
	if result.Status != WalkCycle {
		t.Fatalf("expected cycle, got %q", result.Status)
	}
	if filepath.Base(result.Task.Path) != "001.md" {
		t.Fatalf("expected the revisited task, got %s", result.Task.Path)
	}
	if result.Detail == "" {
		t.Fatal("expected a detail describing the cycle")
	}
}

func TestWalkKeepsCurrentTaskOnBrokenLink(t *testing.T) {
	dir := t.TempDir()
	entry := writeTask(t, dir, "001.md", doneTask("missing.md"))

	result, err := NewWalker().Walk(entry)
	if err != nil {
		t.Fatalf("unexpected walk error: %v", err)
	}
	if result.Status != WalkBrokenLink {
		t.Fatalf("expected broken_link, got %q", result.Status)
	}
	if filepath.Base(result.Task.Path) != "001.md" {
		t.Fatalf("expected the current task, got %s", result.Task.Path)
	}
}

func TestWalkHonorsDepthBound(t *testing.T) {
	dir := t.TempDir()
	entry := writeTask(t, dir, "001.md", doneTask("002.md"))
	writeTask(t, dir, "002.md", doneTask("003.md"))
	writeTask(t, dir, "003.md", doneTask("004.md"))
	writeTask(t, dir, "004.md", doneTask(""))

	result, err := NewWalker().WithDepth(2).Walk(entry)
	if err != nil {
		t.Fatalf("unexpected walk error: %v", err)
	}
	if result.Status != WalkDepthExceeded {
		t.Fatalf("expected depth_exceeded, got %q", result.Status)
	}
	if result.Task == nil {
		t.Fatal("expected the last visited task")
	}
}

func TestWalkResolvesReferencesRelativeToTheirFile(t *testing.T) {
	dir := t.TempDir()
	entry := writeTask(t, dir, "chain/001.md", doneTask("sub/002.md"))
	writeTask(t, dir, "chain/sub/002.md", "---\ntask: nested\n---\n\n- [ ] pending\n")

	result, err := NewWalker().Walk(entry)
	if err != nil {
		t.Fatalf("unexpected walk error: %v", err)
	}
	if result.Status != WalkActive {
		t.Fatalf("expected active, got %q", result.Status)
	}
	if filepath.Base(result.Task.Path) != "002.md" {
		t.Fatalf("expected the nested task, got %s", result.Task.Path)
	}
}

func TestWalkSurfacesUnreadableEntryTask(t *testing.T) {
	if _, err := NewWalker().Walk(filepath.Join(t.TempDir(), "absent.md")); err == nil {
		t.Fatal("expected an error for an unreadable entry task")
	}
}
