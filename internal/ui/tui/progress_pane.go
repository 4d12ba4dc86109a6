package tui

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

// ProgressPane renders the agent's PROGRESS.md scratchpad as terminal
// markdown. The file is rewritten by the agent between iterations, so the
// pane reloads from disk every time it becomes visible.
type ProgressPane struct {
	path    string
	content string
	loadErr error
	width   int
}

func NewProgressPane(path string) ProgressPane {
	return ProgressPane{path: path, width: 80}
}

// Reload reads the scratchpad from disk. A missing file is not an error;
// the agent simply has not written one yet.
func (p *ProgressPane) Reload() {
	raw, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			p.content = ""
			p.loadErr = nil
			return
		}
		p.loadErr = err
		return
	}
	p.content = string(raw)
	p.loadErr = nil
}

func (p *ProgressPane) SetWidth(width int) {
	if width > 0 {
		p.width = width
	}
}

func (p ProgressPane) View() string {
	if p.loadErr != nil {
		return fmt.Sprintf("cannot read %s: %v\n", p.path, p.loadErr)
	}
	if strings.TrimSpace(p.content) == "" {
		return lipgloss.NewStyle().Faint(true).Render("no progress notes yet") + "\n"
	}

	cleaned := normalizeNewlines(stripControlSequences(p.content))
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(p.width),
	)
	if err != nil {
		return cleaned
	}
	rendered, err := renderer.Render(cleaned)
	if err != nil {
		return cleaned
	}
	return rendered
}

// stripControlSequences drops ANSI escapes and stray control characters
// that agent output sometimes leaks into the scratchpad.
func stripControlSequences(text string) string {
	result := text
	for {
		start := strings.Index(result, "\x1b[")
		if start < 0 {
			break
		}
		end := strings.Index(result[start:], "m")
		if end < 0 {
			break
		}
		result = result[:start] + result[start+end+1:]
	}

	clean := make([]rune, 0, len(result))
	for _, r := range result {
		if r == '\n' || r == '\r' || r == '\t' || r >= 32 {
			clean = append(clean, r)
		}
	}
	return string(clean)
}

func normalizeNewlines(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.ReplaceAll(text, "\r", "\n")
}
