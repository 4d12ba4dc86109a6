package loop

import (
	"fmt"
	"strings"

	"github.com/IceColdLight/ralph-wiggum-claude-code/internal/state"
	"github.com/IceColdLight/ralph-wiggum-claude-code/internal/stream"
	"github.com/IceColdLight/ralph-wiggum-claude-code/internal/taskfile"
)

// recentFailureLimit bounds how much failure history is replayed into the
// prompt. Older failures live on in the error log.
const recentFailureLimit = 10

// PromptInputs is everything one iteration's instructions are built from.
// Persisted memory (lessons, failures, progress notes) rides along because
// the agent's context is disposable; the files are what survive a rotation.
type PromptInputs struct {
	Task         *taskfile.File
	Iteration    int
	Lessons      string
	Failures     []state.ErrorEntry
	ChainProblem string
	Branch       string
	OpenPR       bool
}

// BuildPrompt renders the iteration instructions handed to the agent.
func BuildPrompt(in PromptInputs) string {
	sections := []string{
		"You are one bounded iteration of a long-running autonomous run. " +
			"Your context will be discarded; only files survive. Keep every piece " +
			"of progress in the working tree, the task file's checklist, and the " +
			"progress notes.",
		fmt.Sprintf("Iteration: %d", in.Iteration),
		taskSection(in.Task),
	}

	if in.ChainProblem != "" {
		sections = append(sections,
			"Task chain problem: "+in.ChainProblem+"\n"+
				"Repair the chain: create the missing successor task file or correct "+
				"the next_task reference before anything else.")
	}

	if lessons := strings.TrimSpace(in.Lessons); lessons != "" {
		sections = append(sections, "Lessons from earlier iterations:\n"+lessons)
	}

	if len(in.Failures) > 0 {
		sections = append(sections, failureSection(in.Failures))
	}

	if in.Branch != "" {
		section := "Work on branch " + in.Branch + "."
		if in.OpenPR {
			section += " When the whole task chain is complete, open a pull request for it."
		}
		sections = append(sections, section)
	}

	sections = append(sections, workingRules(), markerRules())
	return strings.Join(sections, "\n\n")
}

func taskSection(task *taskfile.File) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task file: %s\n", task.Path)
	if task.Meta.Task != "" {
		fmt.Fprintf(&b, "Task: %s\n", task.Meta.Task)
	}
	if task.Meta.TestCommand != "" {
		fmt.Fprintf(&b, "Test command: %s\n", task.Meta.TestCommand)
	}
	b.WriteString("\n")
	b.WriteString(strings.TrimSpace(task.Body()))
	return b.String()
}

func failureSection(failures []state.ErrorEntry) string {
	if len(failures) > recentFailureLimit {
		failures = failures[len(failures)-recentFailureLimit:]
	}
	var b strings.Builder
	b.WriteString("Recent failures; do not repeat them:\n")
	for _, entry := range failures {
		fmt.Fprintf(&b, "- [%s] %s", entry.Kind, entry.Subject)
		if entry.Detail != "" {
			fmt.Fprintf(&b, ": %s", entry.Detail)
		}
		if entry.Hint != "" {
			fmt.Fprintf(&b, " (%s)", entry.Hint)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// workingRules states the checklist discipline and the interactive-command
// ban. The hints come from the same table the parser and watchdog enforce
// with, so the advice and the enforcement never drift apart.
func workingRules() string {
	var b strings.Builder
	b.WriteString("Rules:\n")
	b.WriteString("- Work the task file's checklist. Check off a criterion ([x]) only when it is genuinely done and tested.\n")
	b.WriteString("- Record progress notes in .ralph/PROGRESS.md as you go.\n")
	b.WriteString("- Never run interactive commands; they will be killed. In particular:\n")
	for _, rule := range stream.BlockingRules {
		fmt.Fprintf(&b, "  - %s\n", rule.Hint)
	}
	return strings.TrimRight(b.String(), "\n")
}

func markerRules() string {
	return fmt.Sprintf(
		"When every criterion in the task file is checked and the work holds, print %s on its own line.\n"+
			"If you are genuinely wedged and cannot make progress, print %s and explain why.",
		stream.Marker(stream.SigilComplete), stream.Marker(stream.SigilGutter))
}
