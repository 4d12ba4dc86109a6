// Package qc runs the quality gate: a fresh bounded verifier session over a
// task whose checklist is fully checked. The verifier re-checks the work and
// prints one verdict marker; the gate turns that verdict into task-file
// state. A verifier that never prints a verdict gets the configured default.
package qc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/IceColdLight/ralph-wiggum-claude-code/internal/claude"
	"github.com/IceColdLight/ralph-wiggum-claude-code/internal/contracts"
	"github.com/IceColdLight/ralph-wiggum-claude-code/internal/logging"
	"github.com/IceColdLight/ralph-wiggum-claude-code/internal/stream"
	"github.com/IceColdLight/ralph-wiggum-claude-code/internal/taskfile"
)

const (
	// DefaultTimeout bounds the verifier session. Verification re-reads
	// finished work; it never needs the room an implementation run gets.
	DefaultTimeout = 2 * time.Minute

	// DefaultKillGrace is how long the verifier gets between SIGTERM and
	// SIGKILL when the gate shuts it down.
	DefaultKillGrace = 5 * time.Second
)

// Gate runs one verification session per call. The zero value of
// FailOnSilence keeps the documented default: a silent or timed-out
// verifier counts as a pass.
type Gate struct {
	Launcher      claude.Launcher
	Timeout       time.Duration // zero means DefaultTimeout
	KillGrace     time.Duration // zero means DefaultKillGrace
	FailOnSilence bool
	Model         string
	WorkDir       string
	StderrPath    string
	Events        contracts.EventSink
	Logger        *logging.StructuredLogger
	Iteration     int
}

// Result reports how one gate run was resolved.
type Result struct {
	Passed         bool
	Defaulted      bool // no verdict marker arrived; the default applied
	TimedOut       bool
	CriterionIndex int                 // 1-based index from a FAIL:N verdict, zero otherwise
	Reopened       *taskfile.Criterion // criterion unchecked by a failed verdict
	Elapsed        time.Duration
}

// Run launches the verifier over task, waits for a verdict or the timeout,
// applies the outcome to the task file and saves it. Errors are reserved
// for the gate itself breaking (launcher or save failures); a misbehaving
// verifier only ever yields the default verdict.
func (g *Gate) Run(ctx context.Context, task *taskfile.File) (Result, error) {
	started := time.Now()
	checked := task.CheckedCriteria()
	if err := g.emit(ctx, contracts.Event{
		Type:    contracts.EventQualityGateStarted,
		Task:    task.Path,
		Message: fmt.Sprintf("verifying %d completed criteria", len(checked)),
	}); err != nil {
		return Result{}, err
	}

	runCtx, cancel := context.WithTimeout(ctx, g.timeout())
	defer cancel()

	session, err := g.Launcher.Start(runCtx, claude.Invocation{
		Prompt:     verificationPrompt(task),
		Model:      g.Model,
		WorkDir:    g.WorkDir,
		StderrPath: g.StderrPath,
		Iteration:  g.Iteration,
	})
	if err != nil {
		return Result{}, fmt.Errorf("start verifier: %w", err)
	}

	verdict, found := g.awaitVerdict(runCtx, session)

	// Reap concurrently so KillTree sees the exit instead of spinning its
	// grace period on an already finished verifier.
	reaped := make(chan struct{})
	go func() {
		_ = session.Wait()
		close(reaped)
	}()
	_ = session.Stdout().Close()
	_ = session.KillTree(g.killGrace())
	<-reaped

	result := Result{
		TimedOut: errors.Is(runCtx.Err(), context.DeadlineExceeded),
		Elapsed:  time.Since(started),
	}
	if found {
		result.Passed = verdict.Kind == stream.SigilQCPass
		result.CriterionIndex = verdict.CriterionIndex
	} else {
		result.Defaulted = true
		result.Passed = !g.FailOnSilence
	}

	if err := g.apply(task, &result); err != nil {
		return result, err
	}
	if err := g.emit(ctx, g.finishedEvent(task, result)); err != nil {
		return result, err
	}
	g.log(task, result)
	return result, nil
}

// awaitVerdict reads the verifier's stream until the first quality verdict
// marker, EOF or the deadline. Markers other than quality verdicts mean
// nothing here and are skipped.
func (g *Gate) awaitVerdict(ctx context.Context, session claude.Session) (stream.Sigil, bool) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = session.KillTree(g.killGrace())
		case <-done:
		}
	}()

	scanner := stream.NewLineScanner(session.Stdout())
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		record, err := stream.DecodeRecord(line)
		if err != nil {
			continue
		}
		for _, text := range record.AssistantTexts() {
			sigil, ok := stream.FindSigil(text)
			if !ok {
				continue
			}
			if sigil.Kind == stream.SigilQCPass || sigil.Kind == stream.SigilQCFail {
				return sigil, true
			}
		}
	}
	return stream.Sigil{}, false
}

// apply writes the verdict back into the task file. A pass records the
// verification header; any failure reopens a criterion so the walker hands
// the task back to the agent.
func (g *Gate) apply(task *taskfile.File, result *Result) error {
	if result.Passed {
		task.MarkVerified()
	} else {
		reopened, err := task.UncheckForFailedVerification(result.CriterionIndex)
		if err != nil {
			return fmt.Errorf("reopen criterion: %w", err)
		}
		result.Reopened = &reopened
	}
	if err := task.Save(); err != nil {
		return fmt.Errorf("save task file after verification: %w", err)
	}
	return nil
}

func (g *Gate) finishedEvent(task *taskfile.File, result Result) contracts.Event {
	event := contracts.Event{
		Type:       contracts.EventQualityGateFinished,
		Task:       task.Path,
		Signal:     string(stream.SigilQCPass),
		Detail:     "verdict",
		DurationMS: result.Elapsed.Milliseconds(),
		Message:    "verification passed",
	}
	if result.Defaulted {
		event.Detail = "default"
		event.Message = "verifier gave no verdict"
		if result.TimedOut {
			event.Message = "verifier timed out without a verdict"
		}
	}
	if !result.Passed {
		event.Signal = string(stream.SigilQCFail)
		if result.Reopened != nil {
			event.Message = fmt.Sprintf("reopened criterion: %s", result.Reopened.Text)
		}
	}
	return event
}

func (g *Gate) emit(ctx context.Context, event contracts.Event) error {
	if g.Events == nil {
		return nil
	}
	event.Timestamp = time.Now().UTC()
	event.Iteration = g.Iteration
	return g.Events.Emit(ctx, event)
}

func (g *Gate) log(task *taskfile.File, result Result) {
	if g.Logger == nil {
		return
	}
	fields := map[string]interface{}{
		"task":        task.Path,
		"passed":      result.Passed,
		"defaulted":   result.Defaulted,
		"timed_out":   result.TimedOut,
		"duration_ms": result.Elapsed.Milliseconds(),
	}
	if result.Reopened != nil {
		fields["reopened"] = result.Reopened.Text
	}
	_ = g.Logger.Event("info", "quality gate finished", fields)
}

func (g *Gate) timeout() time.Duration {
	if g.Timeout > 0 {
		return g.Timeout
	}
	return DefaultTimeout
}

func (g *Gate) killGrace() time.Duration {
	if g.KillGrace > 0 {
		return g.KillGrace
	}
	return DefaultKillGrace
}

// verificationPrompt frames the verifier's job: fresh eyes, no fixes, one
// verdict marker. Criteria are numbered the way FAIL:N counts them, by
// position among checked items.
func verificationPrompt(task *taskfile.File) string {
	var b strings.Builder
	b.WriteString("You are a verification reviewer. The implementation agent claims this task is finished. ")
	b.WriteString("Re-check the work with fresh eyes. Do not fix or change anything.\n\n")

	fmt.Fprintf(&b, "Task file: %s\n", task.Path)
	if task.Meta.Task != "" {
		fmt.Fprintf(&b, "Task: %s\n", task.Meta.Task)
	}
	if task.Meta.TestCommand != "" {
		fmt.Fprintf(&b, "Test command: %s\n", task.Meta.TestCommand)
	}

	checked := task.CheckedCriteria()
	if len(checked) > 0 {
		b.WriteString("\nCriteria marked complete:\n")
		for i, criterion := range checked {
			fmt.Fprintf(&b, "%d. %s\n", i+1, criterion.Text)
		}
	}

	b.WriteString("\nVerify every criterion against the working tree")
	if task.Meta.TestCommand != "" {
		b.WriteString(", and run the test command")
	}
	b.WriteString(". Then print exactly one verdict marker on its own line and stop:\n")
	failMarker := stream.Marker(stream.SigilQCFail)
	failIndexed := strings.TrimSuffix(failMarker, ">>") + ":N>>"
	fmt.Fprintf(&b, "%s if every criterion genuinely holds\n", stream.Marker(stream.SigilQCPass))
	fmt.Fprintf(&b, "%s if criterion N from the list above does not hold\n", failIndexed)
	fmt.Fprintf(&b, "%s if the work fails but no single criterion is to blame\n", failMarker)
	return b.String()
}
