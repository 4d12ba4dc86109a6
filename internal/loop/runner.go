// Package loop drives the outer supervision loop: walk the task chain to
// the active task, run bounded agent iterations against it, push finished
// tasks through the quality gate, and keep going until the chain completes,
// a gutter ends the run, or the iteration cap is hit.
package loop

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/IceColdLight/ralph-wiggum-claude-code/internal/claude"
	"github.com/IceColdLight/ralph-wiggum-claude-code/internal/contracts"
	"github.com/IceColdLight/ralph-wiggum-claude-code/internal/control"
	"github.com/IceColdLight/ralph-wiggum-claude-code/internal/logging"
	"github.com/IceColdLight/ralph-wiggum-claude-code/internal/qc"
	"github.com/IceColdLight/ralph-wiggum-claude-code/internal/state"
	"github.com/IceColdLight/ralph-wiggum-claude-code/internal/taskfile"
	"github.com/IceColdLight/ralph-wiggum-claude-code/internal/watchdog"
)

const (
	// DefaultMaxIterations bounds a run that never converges.
	DefaultMaxIterations = 100

	// DefaultKillGrace is how long an agent tree gets between SIGTERM and
	// SIGKILL during teardown.
	DefaultKillGrace = 10 * time.Second
)

// Config wires one Runner. Launcher, State and TaskPath are required; a nil
// Scanner leaves the process watchdog off, which tests use.
type Config struct {
	Launcher claude.Launcher
	Scanner  watchdog.Scanner
	State    *state.Dir
	Events   contracts.EventSink
	Logger   *logging.StructuredLogger

	WorkDir  string
	TaskPath string
	Model    string
	Branch   string
	OpenPR   bool

	MaxIterations   int
	WarnThreshold   int
	RotateThreshold int

	WatchdogInterval time.Duration
	KillGrace        time.Duration

	// KillProcess overrides how the watchdog kills a blocking process.
	// Nil keeps the watchdog's default SIGKILL.
	KillProcess func(pid int) error

	QualityTimeout       time.Duration
	QualityFailOnSilence bool

	// Stop ends the run between and during iterations; the display's quit
	// key closes it.
	Stop <-chan struct{}
}

// RunOutcome is how the whole run ended.
type RunOutcome string

const (
	// RunChainComplete: every task is done and verified.
	RunChainComplete RunOutcome = "chain_complete"
	// RunStuck: a gutter ended the run.
	RunStuck RunOutcome = "stuck"
	// RunIterationCap: the iteration budget ran out before the chain did.
	RunIterationCap RunOutcome = "iteration_cap"
	// RunStopped: the user ended the run.
	RunStopped RunOutcome = "stopped"
)

// Success reports whether this outcome exits zero.
func (o RunOutcome) Success() bool {
	return o == RunChainComplete || o == RunStopped
}

// Summary is the run's final account.
type Summary struct {
	Outcome       RunOutcome
	IterationsRun int
	LastTask      string
	LastVerdict   control.Verdict
	Reason        string
}

// Runner owns one run of the outer loop.
type Runner struct {
	cfg    Config
	walker *taskfile.Walker

	// chainProblem carries a structural chain error from the walk into the
	// next iteration's prompt so the agent can repair the chain.
	chainProblem string
}

func NewRunner(cfg Config) *Runner {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = DefaultKillGrace
	}
	return &Runner{cfg: cfg, walker: taskfile.NewWalker()}
}

// Run loops until the chain completes, something terminal happens, or the
// user stops it. Errors are reserved for the supervisor itself breaking:
// an unreadable task file, a launcher that cannot start, state that cannot
// be written. Agent misbehavior never surfaces as an error.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	r.emit(ctx, contracts.Event{
		Type:    contracts.EventRunStarted,
		Task:    r.cfg.TaskPath,
		Detail:  r.cfg.Model,
		Message: fmt.Sprintf("iteration cap %d", r.cfg.MaxIterations),
	})

	iterationsRun := 0
	lastActive := ""
	resume := ""

	for {
		if r.stopRequested() || ctx.Err() != nil {
			return r.finish(ctx, Summary{
				Outcome:       RunStopped,
				IterationsRun: iterationsRun,
				LastTask:      lastActive,
				Reason:        "stopped before the chain completed",
			})
		}

		walk, err := r.walker.Walk(r.cfg.TaskPath)
		if err != nil {
			return Summary{}, fmt.Errorf("walk task chain: %w", err)
		}

		r.chainProblem = ""
		switch walk.Status {
		case taskfile.WalkChainComplete:
			return r.finish(ctx, Summary{
				Outcome:       RunChainComplete,
				IterationsRun: iterationsRun,
				LastTask:      lastActive,
				Reason:        "every task in the chain is complete and verified",
			})
		case taskfile.WalkCycle, taskfile.WalkBrokenLink, taskfile.WalkDepthExceeded:
			r.chainProblem = walk.Detail
			r.emit(ctx, contracts.Event{
				Type:    contracts.EventChainError,
				Task:    walk.Task.Path,
				Detail:  string(walk.Status),
				Message: walk.Detail,
			})
		}

		task := walk.Task
		if task.Path != lastActive {
			if lastActive != "" {
				r.emit(ctx, contracts.Event{
					Type:    contracts.EventTaskAdvanced,
					Task:    task.Path,
					Detail:  lastActive,
					Message: "chain advanced to the next task",
				})
			}
			lastActive = task.Path
			resume = ""
		}

		if walk.Status == taskfile.WalkNeedsVerification {
			counter, err := r.cfg.State.LoadCounter()
			if err != nil {
				return Summary{}, fmt.Errorf("load iteration counter: %w", err)
			}
			if err := r.runGate(ctx, counter.Iteration, task); err != nil {
				return Summary{}, err
			}
			continue
		}

		if iterationsRun >= r.cfg.MaxIterations {
			return r.finish(ctx, Summary{
				Outcome:       RunIterationCap,
				IterationsRun: iterationsRun,
				LastTask:      task.Path,
				Reason:        fmt.Sprintf("iteration cap of %d reached before the chain completed", r.cfg.MaxIterations),
			})
		}

		counter, err := r.bumpCounter(task.Path)
		if err != nil {
			return Summary{}, err
		}
		iterationsRun++

		result, err := r.runIteration(ctx, counter.Iteration, task, resume)
		if err != nil {
			return Summary{}, err
		}

		switch result.outcome {
		case IterationExhausted:
			// A natural exit keeps its conversation; the next iteration
			// resumes it. Everything else starts clean.
			resume = result.resume
		case IterationCompleted, IterationRotated:
			resume = ""
		case IterationStuck:
			r.recordStuck(task.Path, result.verdict)
			return r.finish(ctx, Summary{
				Outcome:       RunStuck,
				IterationsRun: iterationsRun,
				LastTask:      task.Path,
				LastVerdict:   result.verdict,
				Reason:        result.verdict.Reason,
			})
		case IterationStopped:
			return r.finish(ctx, Summary{
				Outcome:       RunStopped,
				IterationsRun: iterationsRun,
				LastTask:      task.Path,
				Reason:        "stopped mid-iteration",
			})
		}
	}
}

func (r *Runner) runGate(ctx context.Context, iteration int, task *taskfile.File) error {
	gate := &qc.Gate{
		Launcher:      r.cfg.Launcher,
		Timeout:       r.cfg.QualityTimeout,
		KillGrace:     r.cfg.KillGrace,
		FailOnSilence: r.cfg.QualityFailOnSilence,
		Model:         r.cfg.Model,
		WorkDir:       r.cfg.WorkDir,
		StderrPath:    filepath.Join(r.cfg.State.LogsDir(), fmt.Sprintf("verify-%03d.stderr.log", iteration)),
		Events:        r.cfg.Events,
		Logger:        r.cfg.Logger,
		Iteration:     iteration,
	}
	if _, err := gate.Run(ctx, task); err != nil {
		return fmt.Errorf("quality gate on %s: %w", task.Path, err)
	}
	return nil
}

// bumpCounter advances the persisted iteration counter, resetting it when
// the active task changed since the last run.
func (r *Runner) bumpCounter(taskPath string) (state.Counter, error) {
	counter, err := r.cfg.State.LoadCounter()
	if err != nil {
		return state.Counter{}, fmt.Errorf("load iteration counter: %w", err)
	}
	if counter.Task != taskPath {
		counter = state.Counter{Iteration: 1, Task: taskPath}
	} else {
		counter.Iteration++
	}
	if err := r.cfg.State.SaveCounter(counter); err != nil {
		return state.Counter{}, fmt.Errorf("save iteration counter: %w", err)
	}
	return counter, nil
}

func (r *Runner) recordStuck(taskPath string, verdict control.Verdict) {
	lesson := fmt.Sprintf("run ended stuck on %s: %s", taskPath, verdict.Reason)
	if err := r.cfg.State.AppendLesson(lesson); err != nil {
		r.logWarn("failed to append stuck lesson", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func (r *Runner) finish(ctx context.Context, summary Summary) (Summary, error) {
	r.emit(ctx, contracts.Event{
		Type:    contracts.EventRunFinished,
		Task:    summary.LastTask,
		Detail:  string(summary.Outcome),
		Message: summary.Reason,
	})
	if r.cfg.Logger != nil {
		_ = r.cfg.Logger.Event("info", "run finished", map[string]interface{}{
			"outcome":    string(summary.Outcome),
			"iterations": summary.IterationsRun,
			"last_task":  summary.LastTask,
		})
	}
	return summary, nil
}

func (r *Runner) stopRequested() bool {
	if r.cfg.Stop == nil {
		return false
	}
	select {
	case <-r.cfg.Stop:
		return true
	default:
		return false
	}
}

// stop returns the stop channel for selects; nil blocks that branch forever.
func (r *Runner) stop() <-chan struct{} {
	return r.cfg.Stop
}

func (r *Runner) killGrace() time.Duration {
	return r.cfg.KillGrace
}

func (r *Runner) emit(ctx context.Context, event contracts.Event) {
	if r.cfg.Events == nil {
		return
	}
	event.Timestamp = time.Now().UTC()
	if err := r.cfg.Events.Emit(ctx, event); err != nil {
		r.logWarn("event sink failed", map[string]interface{}{
			"error":      err.Error(),
			"event_type": string(event.Type),
		})
	}
}

func (r *Runner) logWarn(message string, fields map[string]interface{}) {
	if r.cfg.Logger == nil {
		return
	}
	_ = r.cfg.Logger.Event("warn", message, fields)
}
