package tui

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const logPreviewLines = 20

// LogBrowser lists the per-iteration stderr captures under the state logs
// directory and previews the selected file. Agent and quality-gate captures
// for the same iteration group together.
type LogBrowser struct {
	root          string
	groups        []string
	filesByGroup  map[string][]string
	selectedGroup int
	selectedFile  int
	content       string
}

func NewLogBrowser(logRoot string) (*LogBrowser, error) {
	browser := &LogBrowser{filesByGroup: map[string][]string{}}
	if strings.TrimSpace(logRoot) == "" {
		return browser, nil
	}
	if info, err := os.Stat(logRoot); err != nil {
		if os.IsNotExist(err) {
			return browser, nil
		}
		return nil, err
	} else if !info.IsDir() {
		return nil, fmt.Errorf("log root is not a directory: %s", logRoot)
	}
	browser.root = logRoot

	entries, err := os.ReadDir(logRoot)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		group := iterationGroup(entry.Name())
		if group == "" {
			continue
		}
		browser.filesByGroup[group] = append(browser.filesByGroup[group], filepath.Join(logRoot, entry.Name()))
	}

	browser.groups = make([]string, 0, len(browser.filesByGroup))
	for group := range browser.filesByGroup {
		browser.groups = append(browser.groups, group)
	}
	sort.Strings(browser.groups)
	for _, group := range browser.groups {
		files := browser.filesByGroup[group]
		sort.SliceStable(files, func(i, j int) bool {
			return filepath.Base(files[i]) < filepath.Base(files[j])
		})
		browser.filesByGroup[group] = files
	}

	if len(browser.groups) > 0 {
		browser.refresh()
	}
	return browser, nil
}

// iterationGroup extracts the iteration number from a capture file name.
// "iteration-003.stderr.log" and "verify-003.stderr.log" both group under
// "003".
func iterationGroup(name string) string {
	if !strings.HasSuffix(name, ".stderr.log") {
		return ""
	}
	base := strings.TrimSuffix(name, ".stderr.log")
	_, num, ok := strings.Cut(base, "-")
	if !ok || num == "" {
		return ""
	}
	return num
}

func (b *LogBrowser) refresh() {
	path := b.CurrentFile()
	if path == "" {
		b.content = ""
		return
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		b.content = fmt.Sprintf("cannot read %s: %v", path, err)
		return
	}
	b.content = tailLines(string(raw), logPreviewLines)
}

func tailLines(content string, n int) string {
	content = strings.TrimRight(content, "\n")
	if content == "" {
		return ""
	}
	lines := strings.Split(content, "\n")
	if len(lines) <= n {
		return content
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}

func (b *LogBrowser) clamp() {
	if len(b.groups) == 0 {
		b.selectedGroup, b.selectedFile = -1, -1
		b.content = ""
		return
	}
	if b.selectedGroup < 0 {
		b.selectedGroup = 0
	}
	if b.selectedGroup >= len(b.groups) {
		b.selectedGroup = len(b.groups) - 1
	}
	files := b.filesByGroup[b.groups[b.selectedGroup]]
	if b.selectedFile < 0 {
		b.selectedFile = 0
	}
	if b.selectedFile >= len(files) {
		b.selectedFile = len(files) - 1
	}
}

func (b *LogBrowser) NextGroup() {
	if b == nil || len(b.groups) == 0 {
		return
	}
	b.selectedGroup++
	b.selectedFile = 0
	b.clamp()
	b.refresh()
}

func (b *LogBrowser) PrevGroup() {
	if b == nil || len(b.groups) == 0 {
		return
	}
	b.selectedGroup--
	b.selectedFile = 0
	b.clamp()
	b.refresh()
}

func (b *LogBrowser) NextFile() {
	if b == nil || len(b.groups) == 0 {
		return
	}
	b.selectedFile++
	b.clamp()
	b.refresh()
}

func (b *LogBrowser) PrevFile() {
	if b == nil || len(b.groups) == 0 {
		return
	}
	b.selectedFile--
	b.clamp()
	b.refresh()
}

// CurrentGroup returns the selected iteration label.
func (b *LogBrowser) CurrentGroup() string {
	if b == nil || b.selectedGroup < 0 || b.selectedGroup >= len(b.groups) {
		return ""
	}
	return b.groups[b.selectedGroup]
}

// CurrentFile returns the absolute path of the selected capture file.
func (b *LogBrowser) CurrentFile() string {
	if b == nil || b.selectedGroup < 0 || b.selectedGroup >= len(b.groups) {
		return ""
	}
	files := b.filesByGroup[b.groups[b.selectedGroup]]
	if b.selectedFile < 0 || b.selectedFile >= len(files) {
		return ""
	}
	return files[b.selectedFile]
}

func (b *LogBrowser) View() string {
	if b == nil {
		return ""
	}
	if len(b.groups) == 0 {
		return "no iteration logs yet\n"
	}

	lines := []string{"Iteration logs:"}
	for i, group := range b.groups {
		prefix := "  "
		if i == b.selectedGroup {
			prefix = "> "
		}
		lines = append(lines, prefix+"iteration "+group)
		if i != b.selectedGroup {
			continue
		}
		for j, file := range b.filesByGroup[group] {
			filePrefix := "      "
			if j == b.selectedFile {
				filePrefix = "    > "
			}
			lines = append(lines, filePrefix+filepath.Base(file))
		}
	}

	lines = append(lines, "", "Selected log:")
	if b.content == "" {
		lines = append(lines, "<empty>")
	} else {
		lines = append(lines, b.content)
	}
	return strings.Join(lines, "\n") + "\n"
}
