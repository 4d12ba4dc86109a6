package taskfile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleTask = `---
task: Implement the config loader
test_command: go test ./...
next_task: 002-env-overrides.md
quality_check_passed: false
---

# Config loader

Notes about the approach.

1. [x] Parse YAML config
2. [ ] Apply environment overrides
3. [x] Validate thresholds
4. [x] Document defaults
`

func TestParseReadsHeaderAndChecklist(t *testing.T) {
	file, err := Parse(sampleTask)
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if file.Meta.Task != "Implement the config loader" {
		t.Fatalf("expected task description, got %q", file.Meta.Task)
	}
	if file.Meta.TestCommand != "go test ./..." {
		t.Fatalf("expected test command, got %q", file.Meta.TestCommand)
	}
	if file.Meta.NextTask != "002-env-overrides.md" {
		t.Fatalf("expected successor reference, got %q", file.Meta.NextTask)
	}
	if file.Meta.QualityCheckPassed {
		t.Fatal("expected quality_check_passed to be false")
	}

	criteria := file.Criteria()
	if len(criteria) != 4 {
		t.Fatalf("expected 4 criteria, got %d", len(criteria))
	}
	if !criteria[0].Checked || criteria[1].Checked || !criteria[2].Checked || !criteria[3].Checked {
		t.Fatalf("unexpected checked states: %+v", criteria)
	}
	if criteria[1].Text != "Apply environment overrides" {
		t.Fatalf("unexpected criterion text: %q", criteria[1].Text)
	}
	checked, total := file.Progress()
	if checked != 3 || total != 4 {
		t.Fatalf("expected progress 3/4, got %d/%d", checked, total)
	}
}

func TestParseAcceptsFileWithoutHeader(t *testing.T) {
	file, err := Parse("# Just a checklist\n\n- [ ] only item\n")
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if file.Meta.Task != "" || file.Meta.NextTask != "" {
		t.Fatalf("expected empty meta, got %+v", file.Meta)
	}
	if len(file.Criteria()) != 1 {
		t.Fatalf("expected one criterion, got %d", len(file.Criteria()))
	}
}

func TestParseRejectsUnterminatedHeader(t *testing.T) {
	if _, err := Parse("---\ntask: broken\n\n- [ ] item\n"); err == nil {
		t.Fatal("expected an error for an unterminated header")
	}
}

func TestParseReportsHeaderTypeIssues(t *testing.T) {
	_, err := Parse("---\ntask: 42\nquality_check_passed: sometimes\n---\n")
	if err == nil {
		t.Fatal("expected a validation error")
	}
	message := err.Error()
	if !strings.Contains(message, "task must be a string") {
		t.Fatalf("expected task issue in %q", message)
	}
	if !strings.Contains(message, "quality_check_passed must be a boolean") {
		t.Fatalf("expected boolean issue in %q", message)
	}
}

func TestSetCriterionCheckedTouchesOnlyTheMarker(t *testing.T) {
	file, err := Parse("# T\n\n2)  [ ]   keep   my   spacing\n")
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if err := file.SetCriterionChecked(0, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "# T\n\n2)  [x]   keep   my   spacing\n"
	if got := file.Render(); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
	if !file.Criteria()[0].Checked {
		t.Fatal("expected the criterion to be checked after the edit")
	}
}

func TestUncheckForFailedVerificationCountsAmongCheckedItems(t *testing.T) {
	file, err := Parse(sampleTask)
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}

	// Checked items in document order: 1, 3, 4. Position 2 is item 3.
	reopened, err := file.UncheckForFailedVerification(2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reopened.Text != "Validate thresholds" {
		t.Fatalf("expected the second checked item, got %q", reopened.Text)
	}

	criteria := file.Criteria()
	if !criteria[0].Checked {
		t.Fatal("expected item 1 to stay checked")
	}
	if criteria[1].Checked {
		t.Fatal("expected item 2 to stay unchecked")
	}
	if criteria[2].Checked {
		t.Fatal("expected item 3 to be reopened")
	}
	if !criteria[3].Checked {
		t.Fatal("expected item 4 to stay checked")
	}
	if !strings.Contains(file.Render(), "Validate thresholds "+gateAnnotation) {
		t.Fatal("expected the reopened line to carry the annotation")
	}
}

func TestUncheckForFailedVerificationFallsBackToLastChecked(t *testing.T) {
	for _, n := range []int{0, 99} {
		file, err := Parse(sampleTask)
		if err != nil {
			t.Fatalf("unexpected parse error: %v", err)
		}
		reopened, err := file.UncheckForFailedVerification(n)
		if err != nil {
			t.Fatalf("unexpected error for n=%d: %v", n, err)
		}
		if reopened.Text != "Document defaults" {
			t.Fatalf("expected the last checked item for n=%d, got %q", n, reopened.Text)
		}
	}
}

func TestUncheckForFailedVerificationNeedsACheckedItem(t *testing.T) {
	file, err := Parse("# T\n\n- [ ] pending\n")
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if _, err := file.UncheckForFailedVerification(1); err == nil {
		t.Fatal("expected an error with no checked criteria")
	}
}

func TestUncheckForFailedVerificationAnnotatesOnlyOnce(t *testing.T) {
	file, err := Parse("# T\n\n- [x] item one\n")
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if _, err := file.UncheckForFailedVerification(1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := file.SetCriterionChecked(0, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := file.UncheckForFailedVerification(1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := strings.Count(file.Render(), gateAnnotation); got != 1 {
		t.Fatalf("expected one annotation, got %d", got)
	}
}

func TestMarkVerifiedUpdatesExistingHeaderKey(t *testing.T) {
	file, err := Parse(sampleTask)
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	file.MarkVerified()
	if !file.Meta.QualityCheckPassed {
		t.Fatal("expected the meta flag to flip")
	}
	rendered := file.Render()
	if !strings.Contains(rendered, "quality_check_passed: true") {
		t.Fatalf("expected the header line to update, got:\n%s", rendered)
	}
	if strings.Count(rendered, "quality_check_passed") != 1 {
		t.Fatal("expected exactly one quality_check_passed line")
	}

	reparsed, err := Parse(rendered)
	if err != nil {
		t.Fatalf("unexpected reparse error: %v", err)
	}
	if !reparsed.Meta.QualityCheckPassed {
		t.Fatal("expected the flag to survive a round trip")
	}
}

func TestMarkVerifiedInsertsMissingHeaderKey(t *testing.T) {
	file, err := Parse("---\ntask: something\n---\n\n- [x] done\n")
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	file.MarkVerified()
	reparsed, err := Parse(file.Render())
	if err != nil {
		t.Fatalf("unexpected reparse error: %v", err)
	}
	if !reparsed.Meta.QualityCheckPassed {
		t.Fatal("expected the inserted key to parse as true")
	}
	if len(reparsed.Criteria()) != 1 || !reparsed.Criteria()[0].Checked {
		t.Fatalf("expected the checklist to survive, got %+v", reparsed.Criteria())
	}
}

func TestMarkVerifiedCreatesHeaderWhenAbsent(t *testing.T) {
	file, err := Parse("- [x] done\n")
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	file.MarkVerified()
	reparsed, err := Parse(file.Render())
	if err != nil {
		t.Fatalf("unexpected reparse error: %v", err)
	}
	if !reparsed.Meta.QualityCheckPassed {
		t.Fatal("expected a fresh header with the flag set")
	}
}

func TestSaveWritesAtomicallyAndReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "001-config.md")
	if err := os.WriteFile(path, []byte(sampleTask), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	file, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if err := file.SetCriterionChecked(1, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := file.Save(); err != nil {
		t.Fatalf("unexpected save error: %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected reload error: %v", err)
	}
	if !reloaded.AllChecked() {
		t.Fatal("expected every criterion checked after the save")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("unexpected readdir error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected no leftover temp files, found %d entries", len(entries))
	}
}
