// Package watchdog inspects the live process tree under the agent and
// force-kills known-blocking interactive processes the agent launched,
// directly or transitively. It is the backstop for commands the parser
// never saw declared.
package watchdog

import (
	"context"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/IceColdLight/ralph-wiggum-claude-code/internal/contracts"
	"github.com/IceColdLight/ralph-wiggum-claude-code/internal/control"
	"github.com/IceColdLight/ralph-wiggum-claude-code/internal/logging"
	"github.com/IceColdLight/ralph-wiggum-claude-code/internal/stream"
)

const DefaultInterval = 5 * time.Second

// ProcessInfo is one observed process: its pid and its argv.
type ProcessInfo struct {
	PID     int
	Command []string
}

// Scanner lists the live descendants of a root process.
type Scanner interface {
	Descendants(rootPID int) ([]ProcessInfo, error)
}

// Config wires one Watchdog. Kill defaults to SIGKILL on the single pid.
type Config struct {
	Scanner   Scanner
	Latch     *control.Latch
	Events    contracts.EventSink
	Logger    *logging.StructuredLogger
	Interval  time.Duration
	Kill      func(pid int) error
	Iteration int
	Task      string
}

type Watchdog struct {
	cfg Config
}

func New(cfg Config) *Watchdog {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Kill == nil {
		cfg.Kill = func(pid int) error {
			return syscall.Kill(pid, syscall.SIGKILL)
		}
	}
	return &Watchdog{cfg: cfg}
}

// Run polls until it detects and handles a blocking process, or ctx ends.
// One detection is final: the watchdog kills that single process, offers
// GUTTER and stops polling.
func (w *Watchdog) Run(ctx context.Context, rootPID int) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if w.CheckOnce(ctx, rootPID) {
				return
			}
		}
	}
}

// CheckOnce performs a single scan. It reports whether a blocking process
// was found, in which case the watchdog's work is done.
func (w *Watchdog) CheckOnce(ctx context.Context, rootPID int) bool {
	processes, err := w.cfg.Scanner.Descendants(rootPID)
	if err != nil {
		w.debug("process scan failed", map[string]interface{}{"scan_error": err.Error()})
		return false
	}
	for _, process := range processes {
		tokens := normalizeArgv(process.Command)
		rule, blocked := stream.MatchBlockingTokens(tokens)
		if !blocked {
			continue
		}
		w.handleBlocking(ctx, process, rule)
		return true
	}
	return false
}

func (w *Watchdog) handleBlocking(ctx context.Context, process ProcessInfo, rule stream.BlockingRule) {
	commandLine := strings.Join(process.Command, " ")
	killErr := w.cfg.Kill(process.PID)

	if w.cfg.Events != nil {
		event := contracts.Event{
			Type:      contracts.EventCommandBlocked,
			Timestamp: time.Now().UTC(),
			Iteration: w.cfg.Iteration,
			Task:      w.cfg.Task,
			Tool:      "watchdog",
			Detail:    commandLine,
			Message:   rule.Name,
			Hint:      rule.Hint,
		}
		if killErr != nil {
			event.Err = killErr.Error()
		}
		_ = w.cfg.Events.Emit(ctx, event)
	}

	reason := "blocking process " + rule.Name + ": " + commandLine
	if w.cfg.Latch != nil {
		w.cfg.Latch.Offer(control.Verdict{
			Signal: control.SignalGutter,
			Origin: "watchdog",
			Reason: reason,
		})
	}
	if w.cfg.Events != nil {
		_ = w.cfg.Events.Emit(ctx, contracts.Event{
			Type:      contracts.EventControlSignal,
			Timestamp: time.Now().UTC(),
			Iteration: w.cfg.Iteration,
			Task:      w.cfg.Task,
			Signal:    string(control.SignalGutter),
			Detail:    "watchdog",
			Message:   reason,
		})
	}
	if w.cfg.Logger != nil {
		fields := map[string]interface{}{
			"message":    "killed blocking process",
			"pid":        process.PID,
			"rule":       rule.Name,
			"command":    commandLine,
			"suggestion": rule.Hint,
		}
		if killErr != nil {
			fields["kill_error"] = killErr.Error()
		}
		_ = w.cfg.Logger.Log("error", fields)
	}
}

func (w *Watchdog) debug(message string, fields map[string]interface{}) {
	if w.cfg.Logger == nil {
		return
	}
	_ = w.cfg.Logger.Event("debug", message, fields)
}

// normalizeArgv strips the directory from argv[0] so table rules match
// absolute interpreter paths.
func normalizeArgv(argv []string) []string {
	if len(argv) == 0 {
		return argv
	}
	normalized := append([]string(nil), argv...)
	normalized[0] = filepath.Base(normalized[0])
	return normalized
}
