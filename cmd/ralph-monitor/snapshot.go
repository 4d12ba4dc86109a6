package main

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/IceColdLight/ralph-wiggum-claude-code/internal/contracts"
)

const recentLimit = 12

// RunView is the per-run slice of the snapshot served to the web page.
type RunView struct {
	RunID       string                   `json:"run_id"`
	WorkDir     string                   `json:"workdir,omitempty"`
	Task        string                   `json:"task,omitempty"`
	Model       string                   `json:"model,omitempty"`
	Iteration   int                      `json:"iteration"`
	Phase       string                   `json:"phase"`
	Outcome     string                   `json:"outcome,omitempty"`
	Tokens      *contracts.TokenSnapshot `json:"tokens,omitempty"`
	LastEventAt time.Time                `json:"last_event_at"`
	Recent      []string                 `json:"recent"`
}

// Snapshot is the full monitor state, most recently active run first.
type Snapshot struct {
	Runs      []RunView `json:"runs"`
	UpdatedAt time.Time `json:"updated_at"`
}

// runBoard folds relay frames into per-run views. Runs are keyed by the
// run id stamped on every envelope.
type runBoard struct {
	mu   sync.Mutex
	runs map[string]*RunView
	now  func() time.Time
}

func newRunBoard() *runBoard {
	return &runBoard{
		runs: map[string]*RunView{},
		now:  time.Now,
	}
}

func (b *runBoard) run(runID string) *RunView {
	if runID == "" {
		runID = "unknown"
	}
	view, ok := b.runs[runID]
	if !ok {
		view = &RunView{RunID: runID, Phase: "starting", Recent: []string{}}
		b.runs[runID] = view
	}
	return view
}

// ApplyHello labels a run with the workdir and model announced at start.
func (b *runBoard) ApplyHello(runID, workdir, task, model string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	view := b.run(runID)
	if workdir != "" {
		view.WorkDir = workdir
	}
	if task != "" {
		view.Task = task
	}
	if model != "" {
		view.Model = model
	}
	view.LastEventAt = b.now()
}

// ApplyEvent folds one supervision event into the run it belongs to.
func (b *runBoard) ApplyEvent(runID string, event contracts.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	view := b.run(runID)
	view.LastEventAt = b.now()

	if event.Task != "" {
		view.Task = event.Task
	}
	if event.Iteration > 0 {
		view.Iteration = event.Iteration
	}
	if event.Tokens != nil {
		view.Tokens = event.Tokens
	}

	switch event.Type {
	case contracts.EventRunStarted:
		if event.Detail != "" {
			view.Model = event.Detail
		}
		view.Outcome = ""
		view.Phase = "starting"
	case contracts.EventSessionStarted:
		view.Phase = "thinking"
	case contracts.EventAssistantText:
		view.Phase = "thinking"
	case contracts.EventToolInvoked:
		view.Phase = describeTool(event.Tool, event.Detail)
	case contracts.EventQualityGateStarted:
		view.Phase = "verifying"
	case contracts.EventControlSignal:
		view.Phase = "signal " + event.Signal
	case contracts.EventRunFinished:
		view.Outcome = event.Detail
		view.Phase = "finished"
	}

	if line := recentLine(event); line != "" {
		view.Recent = append(view.Recent, line)
		if len(view.Recent) > recentLimit {
			view.Recent = view.Recent[len(view.Recent)-recentLimit:]
		}
	}
}

// View copies the board into a serializable snapshot, most recent run first.
func (b *runBoard) View() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	runs := make([]RunView, 0, len(b.runs))
	for _, view := range b.runs {
		copied := *view
		copied.Recent = append([]string(nil), view.Recent...)
		if view.Tokens != nil {
			tokens := *view.Tokens
			copied.Tokens = &tokens
		}
		runs = append(runs, copied)
	}
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].LastEventAt.Equal(runs[j].LastEventAt) {
			return runs[i].RunID < runs[j].RunID
		}
		return runs[i].LastEventAt.After(runs[j].LastEventAt)
	})
	return Snapshot{Runs: runs, UpdatedAt: b.now()}
}

func describeTool(tool, detail string) string {
	switch tool {
	case "Edit", "Write", "MultiEdit", "NotebookEdit":
		if detail != "" {
			return "editing " + detail
		}
		return "editing"
	case "Bash":
		if detail != "" {
			return "running " + detail
		}
		return "running a command"
	case "Read", "Grep", "Glob":
		return "searching"
	case "":
		return "working"
	default:
		return "using " + tool
	}
}

func recentLine(event contracts.Event) string {
	switch event.Type {
	case contracts.EventRunStarted:
		return "run started"
	case contracts.EventIterationStarted:
		return fmt.Sprintf("iteration %d started", event.Iteration)
	case contracts.EventToolInvoked:
		if event.Detail != "" {
			return event.Tool + " " + event.Detail
		}
		return event.Tool
	case contracts.EventCommandBlocked:
		return "blocked " + event.Detail
	case contracts.EventControlSignal:
		if event.Message != "" {
			return event.Signal + ": " + event.Message
		}
		return event.Signal
	case contracts.EventQualityGateFinished:
		return "quality gate " + event.Detail
	case contracts.EventTaskAdvanced:
		return "task advanced to " + event.Task
	case contracts.EventChainError:
		return "chain error: " + event.Message
	case contracts.EventRunFinished:
		return "run finished: " + event.Detail
	}
	return ""
}
