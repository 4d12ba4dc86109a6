package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/IceColdLight/ralph-wiggum-claude-code/internal/contracts"
)

type viewMode int

const (
	viewStatus viewMode = iota
	viewProgress
	viewLogs
)

// Options configures the supervision display.
type Options struct {
	// Now is the clock for the output-age readout; nil means time.Now.
	Now func() time.Time
	// Stop is closed when the operator requests a stop.
	Stop chan struct{}
	// ProgressPath is the agent scratchpad rendered on the progress pane.
	ProgressPath string
	// LogsDir holds the per-iteration stderr captures.
	LogsDir string
}

// Model is the interactive status display for one supervised run. It reads
// supervision events from the controller channel and renders the current
// phase, the context budget gauge and a short activity feed.
type Model struct {
	opts Options

	task         string
	iteration    int
	modelName    string
	phase        string
	outcome      string
	tokens       *contracts.TokenSnapshot
	lastOutputAt time.Time

	feed     Feed
	progress ProgressPane
	logs     *LogBrowser
	view     viewMode

	spinner      Spinner
	events       <-chan contracts.Event
	now          func() time.Time
	stopping     bool
	stopNotified bool
	width        int
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	faintStyle = lipgloss.NewStyle().Faint(true)
)

func NewModel(events <-chan contracts.Event, opts Options) Model {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return Model{
		opts:     opts,
		events:   events,
		now:      now,
		spinner:  NewSpinner(),
		progress: NewProgressPane(opts.ProgressPath),
		width:    80,
	}
}

// EventMsg wraps one supervision event for Bubble Tea.
type EventMsg struct {
	Event contracts.Event
}

type tickMsg struct{}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(time.Time) tea.Msg { return tickMsg{} })
}

// waitForEvent blocks until the controller delivers the next event. A
// closed channel quits the program.
func waitForEvent(events <-chan contracts.Event) tea.Cmd {
	return func() tea.Msg {
		if events == nil {
			return nil
		}
		event, ok := <-events
		if !ok {
			return tea.Quit()
		}
		return EventMsg{Event: event}
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Init(), tickCmd(), waitForEvent(m.events))
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	m.spinner, cmd = m.spinner.Update(msg)

	switch typed := msg.(type) {
	case EventMsg:
		m = m.applyEvent(typed.Event)
		return m, tea.Batch(cmd, waitForEvent(m.events))
	case tickMsg:
		return m, tea.Batch(cmd, tickCmd())
	case tea.WindowSizeMsg:
		m.width = typed.Width
		m.progress.SetWidth(typed.Width)
	case tea.KeyMsg:
		return m.handleKey(typed, cmd)
	}
	return m, cmd
}

func (m Model) handleKey(key tea.KeyMsg, cmd tea.Cmd) (tea.Model, tea.Cmd) {
	switch {
	case key.Type == tea.KeyCtrlC || isRune(key, 'q'):
		m.stopping = true
		if m.opts.Stop != nil && !m.stopNotified {
			m.stopNotified = true
			select {
			case <-m.opts.Stop:
			default:
				close(m.opts.Stop)
			}
		}
	case key.Type == tea.KeyTab:
		if m.view == viewProgress {
			m.view = viewStatus
		} else {
			m.view = viewProgress
			m.progress.Reload()
		}
	case isRune(key, 'l'):
		if m.view == viewLogs {
			m.view = viewStatus
		} else if browser, err := NewLogBrowser(m.opts.LogsDir); err == nil {
			m.logs = browser
			m.view = viewLogs
		}
	case key.Type == tea.KeyEsc:
		m.view = viewStatus
	case m.view == viewLogs && key.Type == tea.KeyDown:
		m.logs.NextGroup()
	case m.view == viewLogs && key.Type == tea.KeyUp:
		m.logs.PrevGroup()
	case m.view == viewLogs && key.Type == tea.KeyRight:
		m.logs.NextFile()
	case m.view == viewLogs && key.Type == tea.KeyLeft:
		m.logs.PrevFile()
	}
	return m, cmd
}

func isRune(key tea.KeyMsg, r rune) bool {
	return key.Type == tea.KeyRunes && len(key.Runes) == 1 && key.Runes[0] == r
}

func (m Model) applyEvent(event contracts.Event) Model {
	if event.Task != "" {
		m.task = event.Task
	}
	if event.Iteration > 0 {
		m.iteration = event.Iteration
	}
	if event.Tokens != nil {
		m.tokens = event.Tokens
	}
	switch event.Type {
	case contracts.EventRunStarted:
		m.modelName = event.Detail
	case contracts.EventSessionStarted:
		if event.Detail != "" {
			m.modelName = event.Detail
		}
	case contracts.EventRunFinished:
		m.outcome = event.Detail
	}
	m.phase = phaseLabel(event, m.phase)
	m.lastOutputAt = m.now()
	if line := headline(event); line != "" {
		m.feed.Push(m.now(), line)
	}
	return m
}

func (m Model) View() string {
	switch m.view {
	case viewProgress:
		return m.progress.View() + faintStyle.Render("tab: back · q: stop") + "\n"
	case viewLogs:
		return m.logs.View() + faintStyle.Render("↑/↓ iteration · ←/→ file · l: back · q: stop") + "\n"
	}
	return m.statusView()
}

func (m Model) statusView() string {
	var parts []string

	header := []string{m.spinner.View(), titleStyle.Render("ralph")}
	if m.task != "" {
		header = append(header, m.task)
	}
	if m.iteration > 0 {
		header = append(header, fmt.Sprintf("iteration %d", m.iteration))
	}
	if m.modelName != "" {
		header = append(header, "["+m.modelName+"]")
	}
	parts = append(parts, strings.Join(header, "  "))

	status := []string{}
	if m.phase != "" {
		status = append(status, m.phase)
	}
	status = append(status, "(last output "+m.lastOutputAge()+")")
	parts = append(parts, "  "+strings.Join(status, "  "))

	if gauge := renderGauge(m.tokens); gauge != "" {
		parts = append(parts, "  context "+gauge)
	}

	if lines := m.feed.Lines(); len(lines) > 0 {
		parts = append(parts, "")
		for _, line := range lines {
			parts = append(parts, "  "+line)
		}
	}

	if m.outcome != "" {
		parts = append(parts, "", "  run finished: "+m.outcome)
	}
	if m.stopping {
		parts = append(parts, "", "  stop requested, finishing current iteration")
	}
	parts = append(parts, "", faintStyle.Render("  q: stop · tab: progress · l: logs"))
	return strings.Join(parts, "\n") + "\n"
}

func (m Model) lastOutputAge() string {
	if m.lastOutputAt.IsZero() {
		return "n/a"
	}
	age := m.now().Sub(m.lastOutputAt).Round(time.Second)
	return fmt.Sprintf("%ds ago", int(age.Seconds()))
}

// StopRequested reports whether the operator asked the run to stop.
func (m Model) StopRequested() bool {
	return m.stopping
}
