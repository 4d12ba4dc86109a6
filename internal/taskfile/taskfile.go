// Package taskfile reads and edits the markdown task files that drive a
// run: a YAML header with the task description and chain link, followed by
// prose holding the acceptance checklist.
package taskfile

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

const headerDelimiter = "---"

// gateAnnotation marks a criterion the quality gate sent back for rework.
const gateAnnotation = "(sent back by quality check)"

var checklistPattern = regexp.MustCompile(`^\s*(?:[-*]|\d+[.)])\s+\[([ xX])\]\s?(.*)$`)

// Meta holds the recognized header keys. Unknown keys are preserved in the
// file but not interpreted.
type Meta struct {
	Task               string
	TestCommand        string
	NextTask           string
	QualityCheckPassed bool
}

// Criterion is one checklist item. Line is its index in the file's lines.
type Criterion struct {
	Line    int
	Text    string
	Checked bool
}

// File is one loaded task file. Mutators edit the in-memory lines; Save
// writes them back atomically.
type File struct {
	Path string
	Meta Meta

	lines           []string
	headerStart     int // index of the opening delimiter, -1 when absent
	headerEnd       int // index of the closing delimiter, -1 when absent
	trailingNewline bool
	criteria        []Criterion
}

// Load reads and parses one task file.
func Load(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read task file %s: %w", path, err)
	}
	file, err := Parse(string(raw))
	if err != nil {
		return nil, fmt.Errorf("parse task file %s: %w", path, err)
	}
	file.Path = path
	return file, nil
}

// Parse builds a File from raw content without touching disk.
func Parse(content string) (*File, error) {
	file := &File{headerStart: -1, headerEnd: -1}
	file.trailingNewline = strings.HasSuffix(content, "\n")
	file.lines = strings.Split(content, "\n")
	if file.trailingNewline {
		file.lines = file.lines[:len(file.lines)-1]
	}

	if err := file.parseHeader(); err != nil {
		return nil, err
	}
	file.rescanChecklist()
	return file, nil
}

func (f *File) parseHeader() error {
	if len(f.lines) == 0 || strings.TrimSpace(f.lines[0]) != headerDelimiter {
		return nil
	}
	closing := -1
	for i := 1; i < len(f.lines); i++ {
		if strings.TrimSpace(f.lines[i]) == headerDelimiter {
			closing = i
			break
		}
	}
	if closing < 0 {
		return fmt.Errorf("task header is not terminated")
	}
	f.headerStart = 0
	f.headerEnd = closing

	raw := strings.Join(f.lines[1:closing], "\n")
	meta, err := parseMeta(raw)
	if err != nil {
		return err
	}
	f.Meta = meta
	return nil
}

func parseMeta(raw string) (Meta, error) {
	meta := Meta{}
	if strings.TrimSpace(raw) == "" {
		return meta, nil
	}

	values := make(map[string]any)
	if err := yaml.Unmarshal([]byte(raw), &values); err != nil {
		return meta, fmt.Errorf("task header must be valid YAML: %v", err)
	}

	issues := []string{}

	if task, ok := values["task"]; ok {
		value, ok := task.(string)
		if !ok {
			issues = append(issues, "task must be a string")
		} else {
			meta.Task = strings.TrimSpace(value)
		}
	}

	if testCommand, ok := values["test_command"]; ok {
		value, ok := testCommand.(string)
		if !ok {
			issues = append(issues, "test_command must be a string")
		} else {
			meta.TestCommand = strings.TrimSpace(value)
		}
	}

	if nextTask, ok := values["next_task"]; ok {
		value, ok := nextTask.(string)
		if !ok {
			issues = append(issues, "next_task must be a string")
		} else {
			meta.NextTask = strings.TrimSpace(value)
		}
	}

	if passed, ok := values["quality_check_passed"]; ok {
		value, ok := passed.(bool)
		if !ok {
			issues = append(issues, "quality_check_passed must be a boolean")
		} else {
			meta.QualityCheckPassed = value
		}
	}

	if len(issues) > 0 {
		return meta, fmt.Errorf("task header validation failed: %s", strings.Join(issues, "; "))
	}
	return meta, nil
}

func (f *File) rescanChecklist() {
	f.criteria = f.criteria[:0]
	start := 0
	if f.headerEnd >= 0 {
		start = f.headerEnd + 1
	}
	for i := start; i < len(f.lines); i++ {
		match := checklistPattern.FindStringSubmatch(f.lines[i])
		if match == nil {
			continue
		}
		f.criteria = append(f.criteria, Criterion{
			Line:    i,
			Text:    strings.TrimSpace(match[2]),
			Checked: match[1] == "x" || match[1] == "X",
		})
	}
}

// Criteria returns the checklist items in document order.
func (f *File) Criteria() []Criterion {
	out := make([]Criterion, len(f.criteria))
	copy(out, f.criteria)
	return out
}

// CheckedCriteria returns only the checked items, in document order.
func (f *File) CheckedCriteria() []Criterion {
	checked := []Criterion{}
	for _, criterion := range f.criteria {
		if criterion.Checked {
			checked = append(checked, criterion)
		}
	}
	return checked
}

// Progress reports checked and total checklist counts.
func (f *File) Progress() (checked int, total int) {
	for _, criterion := range f.criteria {
		if criterion.Checked {
			checked++
		}
	}
	return checked, len(f.criteria)
}

// AllChecked reports whether no criterion remains unchecked. A file without
// a checklist counts as all-checked; verification decides its fate.
func (f *File) AllChecked() bool {
	for _, criterion := range f.criteria {
		if !criterion.Checked {
			return false
		}
	}
	return true
}

// SetCriterionChecked flips one checklist marker, by position in Criteria().
// Only the marker character changes; the rest of the line is untouched.
func (f *File) SetCriterionChecked(index int, checked bool) error {
	if index < 0 || index >= len(f.criteria) {
		return fmt.Errorf("criterion %d does not exist", index)
	}
	line := f.lines[f.criteria[index].Line]
	loc := checklistPattern.FindStringSubmatchIndex(line)
	if loc == nil {
		return fmt.Errorf("criterion %d is no longer a checklist line", index)
	}
	mark := " "
	if checked {
		mark = "x"
	}
	f.lines[f.criteria[index].Line] = line[:loc[2]] + mark + line[loc[3]:]
	f.rescanChecklist()
	return nil
}

// UncheckForFailedVerification applies a failed quality verdict. n is the
// 1-based position among currently checked items; zero or out-of-range
// falls back to the last checked item. The affected line is annotated so
// the next iteration sees why it reopened.
func (f *File) UncheckForFailedVerification(n int) (Criterion, error) {
	checked := f.CheckedCriteria()
	if len(checked) == 0 {
		return Criterion{}, fmt.Errorf("no checked criteria to reopen")
	}
	target := checked[len(checked)-1]
	if n >= 1 && n <= len(checked) {
		target = checked[n-1]
	}

	for index, criterion := range f.criteria {
		if criterion.Line != target.Line {
			continue
		}
		if err := f.SetCriterionChecked(index, false); err != nil {
			return Criterion{}, err
		}
		if !strings.Contains(f.lines[target.Line], gateAnnotation) {
			f.lines[target.Line] = f.lines[target.Line] + " " + gateAnnotation
			f.rescanChecklist()
		}
		return Criterion{Line: target.Line, Text: target.Text, Checked: false}, nil
	}
	return Criterion{}, fmt.Errorf("checked criterion not found")
}

// MarkVerified records a passed quality check in the header.
func (f *File) MarkVerified() {
	f.Meta.QualityCheckPassed = true
	f.setHeaderValue("quality_check_passed", "true")
}

func (f *File) setHeaderValue(key, value string) {
	entry := key + ": " + value
	if f.headerStart < 0 {
		f.lines = append([]string{headerDelimiter, entry, headerDelimiter}, f.lines...)
		f.headerStart = 0
		f.headerEnd = 2
		f.rescanChecklist()
		return
	}
	for i := f.headerStart + 1; i < f.headerEnd; i++ {
		if strings.HasPrefix(strings.TrimSpace(f.lines[i]), key+":") {
			f.lines[i] = entry
			return
		}
	}
	updated := append([]string{}, f.lines[:f.headerEnd]...)
	updated = append(updated, entry)
	updated = append(updated, f.lines[f.headerEnd:]...)
	f.lines = updated
	f.headerEnd++
	f.rescanChecklist()
}

// Body returns everything after the header, for prompt construction.
func (f *File) Body() string {
	start := 0
	if f.headerEnd >= 0 {
		start = f.headerEnd + 1
	}
	return strings.Join(f.lines[start:], "\n")
}

// Render returns the full file content.
func (f *File) Render() string {
	content := strings.Join(f.lines, "\n")
	if f.trailingNewline {
		content += "\n"
	}
	return content
}

// Save writes the file back atomically: temp file in the same directory,
// then rename over the original.
func (f *File) Save() error {
	if f.Path == "" {
		return fmt.Errorf("task file has no path")
	}
	dir := filepath.Dir(f.Path)
	temp, err := os.CreateTemp(dir, ".task-*.md.tmp")
	if err != nil {
		return fmt.Errorf("create temp task file: %w", err)
	}
	tempPath := temp.Name()
	saved := false
	defer func() {
		if !saved {
			temp.Close()
			os.Remove(tempPath)
		}
	}()

	if _, err := temp.WriteString(f.Render()); err != nil {
		return fmt.Errorf("write temp task file: %w", err)
	}
	if err := temp.Sync(); err != nil {
		return fmt.Errorf("sync temp task file: %w", err)
	}
	if err := temp.Close(); err != nil {
		return fmt.Errorf("close temp task file: %w", err)
	}
	if err := os.Rename(tempPath, f.Path); err != nil {
		return fmt.Errorf("replace task file: %w", err)
	}
	saved = true
	return nil
}
