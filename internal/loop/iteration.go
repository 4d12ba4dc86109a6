package loop

import (
	"context"
	"fmt"
	"time"

	"github.com/IceColdLight/ralph-wiggum-claude-code/internal/budget"
	"github.com/IceColdLight/ralph-wiggum-claude-code/internal/claude"
	"github.com/IceColdLight/ralph-wiggum-claude-code/internal/contracts"
	"github.com/IceColdLight/ralph-wiggum-claude-code/internal/control"
	"github.com/IceColdLight/ralph-wiggum-claude-code/internal/state"
	"github.com/IceColdLight/ralph-wiggum-claude-code/internal/stream"
	"github.com/IceColdLight/ralph-wiggum-claude-code/internal/stuck"
	"github.com/IceColdLight/ralph-wiggum-claude-code/internal/taskfile"
	"github.com/IceColdLight/ralph-wiggum-claude-code/internal/watchdog"
)

// IterationOutcome is how one agent session ended.
type IterationOutcome string

const (
	// IterationCompleted: the agent declared the task done.
	IterationCompleted IterationOutcome = "completed"
	// IterationRotated: the context budget forced a fresh session.
	IterationRotated IterationOutcome = "rotated"
	// IterationStuck: a gutter was declared or detected.
	IterationStuck IterationOutcome = "stuck"
	// IterationExhausted: the agent exited on its own without a signal.
	IterationExhausted IterationOutcome = "exhausted"
	// IterationStopped: the user ended the run mid-session.
	IterationStopped IterationOutcome = "stopped"
)

type iterationResult struct {
	outcome IterationOutcome
	verdict control.Verdict
	resume  string
	exitErr error
	tokens  contracts.TokenSnapshot
}

// runIteration owns one agent session end to end: launch, parse, watch,
// wait for the first terminal signal, tear down. Every collaborator that
// carries state is built fresh here; nothing leaks between iterations.
func (r *Runner) runIteration(ctx context.Context, iteration int, task *taskfile.File, resume string) (iterationResult, error) {
	prompt, err := r.buildIterationPrompt(iteration, task)
	if err != nil {
		return iterationResult{}, err
	}

	tracker := budget.NewTracker(r.cfg.WarnThreshold, r.cfg.RotateThreshold, len(prompt))
	detector := stuck.NewDetector()
	latch := control.NewLatch()

	contextNote := "fresh context"
	if resume != "" {
		contextNote = "resuming session " + resume
	}
	r.emit(ctx, contracts.Event{
		Type:      contracts.EventIterationStarted,
		Iteration: iteration,
		Task:      task.Path,
		Message:   contextNote,
	})

	started := time.Now()
	session, err := r.cfg.Launcher.Start(ctx, claude.Invocation{
		Prompt:     prompt,
		Model:      r.cfg.Model,
		Resume:     resume,
		WorkDir:    r.cfg.WorkDir,
		StderrPath: r.cfg.State.StderrPath(iteration),
		Iteration:  iteration,
	})
	if err != nil {
		return iterationResult{}, fmt.Errorf("start agent: %w", err)
	}

	parser := stream.NewParser(stream.ParserConfig{
		Budget:    tracker,
		Detector:  detector,
		Latch:     latch,
		Events:    r.cfg.Events,
		Logger:    r.cfg.Logger,
		Iteration: iteration,
		Task:      task.Path,
	})

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		scanner := stream.NewLineScanner(session.Stdout())
		for scanner.Scan() {
			if err := parser.HandleLine(ctx, scanner.Bytes()); err != nil {
				r.logWarn("event sink failed while parsing agent output", map[string]interface{}{
					"error": err.Error(),
				})
			}
		}
	}()

	dogCtx, stopDog := context.WithCancel(ctx)
	defer stopDog()
	if r.cfg.Scanner != nil {
		dog := watchdog.New(watchdog.Config{
			Scanner:   r.cfg.Scanner,
			Latch:     latch,
			Events:    r.cfg.Events,
			Logger:    r.cfg.Logger,
			Interval:  r.cfg.WatchdogInterval,
			Kill:      r.cfg.KillProcess,
			Iteration: iteration,
			Task:      task.Path,
		})
		go dog.Run(dogCtx, session.PID())
	}

	interrupted := false
	select {
	case <-latch.Done():
	case <-readerDone:
	case <-r.stop():
		interrupted = true
	case <-ctx.Done():
		interrupted = true
	}
	stopDog()

	var exitErr error
	reaped := make(chan struct{})
	go func() {
		exitErr = session.Wait()
		close(reaped)
	}()

	if _, wonEarly := latch.Winner(); wonEarly || interrupted {
		// The agent no longer owns this iteration; take the whole tree down.
		_ = session.Stdout().Close()
		_ = session.KillTree(r.killGrace())
	}
	<-readerDone
	<-reaped
	latch.Close()

	// A verdict can race the final stream lines; Winner is authoritative.
	verdict, won := latch.Winner()
	result := iterationResult{
		verdict: verdict,
		resume:  parser.SessionID(),
		tokens:  tracker.Snapshot(),
	}
	switch {
	case won && verdict.Signal == control.SignalComplete:
		result.outcome = IterationCompleted
	case won && verdict.Signal == control.SignalRotate:
		result.outcome = IterationRotated
	case won && verdict.Signal == control.SignalGutter:
		result.outcome = IterationStuck
	case interrupted:
		result.outcome = IterationStopped
	default:
		result.outcome = IterationExhausted
		result.exitErr = exitErr
	}

	if result.outcome == IterationExhausted && exitErr != nil {
		r.recordExitError(iteration, task.Path, exitErr)
	}

	finished := contracts.Event{
		Type:       contracts.EventIterationFinished,
		Iteration:  iteration,
		Task:       task.Path,
		Detail:     string(result.outcome),
		Message:    verdict.Reason,
		DurationMS: time.Since(started).Milliseconds(),
		Tokens:     &result.tokens,
	}
	if result.exitErr != nil {
		finished.Err = result.exitErr.Error()
	}
	r.emit(ctx, finished)

	return result, nil
}

func (r *Runner) buildIterationPrompt(iteration int, task *taskfile.File) (string, error) {
	lessons, err := r.cfg.State.ReadLessons()
	if err != nil {
		return "", fmt.Errorf("read lessons: %w", err)
	}
	failures, err := r.cfg.State.RecentErrors(recentFailureLimit)
	if err != nil {
		return "", fmt.Errorf("read recent failures: %w", err)
	}
	return BuildPrompt(PromptInputs{
		Task:         task,
		Iteration:    iteration,
		Lessons:      lessons,
		Failures:     failures,
		ChainProblem: r.chainProblem,
		Branch:       r.cfg.Branch,
		OpenPR:       r.cfg.OpenPR,
	}), nil
}

// recordExitError keeps a non-zero agent exit in the error log. The exit
// status never becomes a control signal on its own; the next iteration
// simply starts with this fact in its failure history.
func (r *Runner) recordExitError(iteration int, taskPath string, exitErr error) {
	if err := r.cfg.State.AppendError(state.ErrorEntry{
		Iteration: iteration,
		Task:      taskPath,
		Kind:      "agent-exit",
		Subject:   "agent process",
		Detail:    exitErr.Error(),
	}); err != nil {
		r.logWarn("failed to record agent exit error", map[string]interface{}{
			"error": err.Error(),
		})
	}
}
