package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/IceColdLight/ralph-wiggum-claude-code/internal/claude"
	"github.com/IceColdLight/ralph-wiggum-claude-code/internal/config"
	"github.com/IceColdLight/ralph-wiggum-claude-code/internal/contracts"
	"github.com/IceColdLight/ralph-wiggum-claude-code/internal/logging"
	"github.com/IceColdLight/ralph-wiggum-claude-code/internal/loop"
	"github.com/IceColdLight/ralph-wiggum-claude-code/internal/relay"
	"github.com/IceColdLight/ralph-wiggum-claude-code/internal/state"
	"github.com/IceColdLight/ralph-wiggum-claude-code/internal/taskfile"
	"github.com/IceColdLight/ralph-wiggum-claude-code/internal/ui/tui"
	"github.com/IceColdLight/ralph-wiggum-claude-code/internal/version"
	"github.com/IceColdLight/ralph-wiggum-claude-code/internal/watchdog"
)

const (
	configRelPath = ".ralph/config.yaml"

	relayBackendRedis = "redis"
	relayBackendNATS  = "nats"
)

// supervisionDisplay is the controller surface the command drives; tests
// substitute a recorder.
type supervisionDisplay interface {
	contracts.EventSink
	Close()
	Wait() error
}

var isTerminal = func(writer io.Writer) bool {
	if file, ok := writer.(*os.File); ok {
		return term.IsTerminal(int(file.Fd()))
	}
	return false
}

var startDisplay = func(input io.Reader, output io.Writer, opts tui.Options) supervisionDisplay {
	return tui.Start(input, output, opts)
}

var newRelayBus = func(backend string, address string) (relay.Bus, error) {
	switch backend {
	case relayBackendRedis:
		return relay.NewRedisBus(address)
	case relayBackendNATS:
		return relay.NewNATSBus(address)
	default:
		return nil, fmt.Errorf("unsupported relay backend %q", backend)
	}
}

func main() {
	os.Exit(RunMain(os.Args[1:], os.LookupEnv, os.Stdin, os.Stdout, os.Stderr, nil))
}

// RunMain is the testable entrypoint. A nil launcher starts the real agent
// CLI; tests inject a scripted one.
func RunMain(args []string, lookupEnv func(string) (string, bool), stdin io.Reader, stdout io.Writer, stderr io.Writer, launcher claude.Launcher) int {
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	if stdin == nil {
		stdin = strings.NewReader("")
	}
	if lookupEnv == nil {
		lookupEnv = os.LookupEnv
	}

	if version.IsVersionRequest(args) {
		version.Print(stdout, "ralph")
		return 0
	}

	// The config file lives under the supervised tree, so -repo has to be
	// known before the full flag set parses.
	workdir := workdirFromArgs(args)

	resolved := config.Default()
	resolved, _, err := config.LoadFile(resolved, filepath.Join(workdir, configRelPath))
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	resolved, err = config.ApplyEnv(resolved, lookupEnv)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	fs := flag.NewFlagSet("ralph", flag.ContinueOnError)
	fs.SetOutput(stderr)

	// Flag defaults come from the resolved config, so an explicit flag wins
	// over environment and file without any post-parse bookkeeping.
	repo := fs.String("repo", workdir, "repository root to supervise")
	task := fs.String("task", resolved.TaskFile, "entry task file, relative to the repository root")
	model := fs.String("model", resolved.Model, "model selector passed to the agent")
	branch := fs.String("branch", resolved.Branch, "branch the agent should work on")
	openPR := fs.Bool("open-pr", resolved.OpenPR, "ask the agent to open a pull request when the chain completes")
	warnThreshold := fs.Int("warn-threshold", resolved.WarnThreshold, "context tokens that trigger a WARN")
	rotateThreshold := fs.Int("rotate-threshold", resolved.RotateThreshold, "context tokens that trigger a ROTATE")
	maxIterations := fs.Int("max-iterations", resolved.MaxIterations, "iteration cap for this run")
	agentBinary := fs.String("agent-binary", resolved.AgentBinary, "agent CLI binary")
	display := fs.String("display", resolved.Display, "display mode (auto, tui, plain)")
	logLevel := fs.String("log-level", resolved.LogLevel, "diagnostic log level (debug, info, warn, error)")
	skipConfirm := fs.Bool("skip-confirm", resolved.SkipConfirm, "start without the interactive confirmation")
	qcTimeout := fs.String("qc-timeout", resolved.QualityTimeout, "quality gate budget (for example 90s, 2m)")
	qcDefault := fs.String("qc-default", resolved.QualityDefault, "verdict when the gate stays silent (pass, fail)")
	watchdogInterval := fs.Duration("watchdog-interval", watchdog.DefaultInterval, "process tree scan cadence")
	redisURL := fs.String("redis-url", resolved.RedisURL, "redis URL for the live event relay (empty disables)")
	natsURL := fs.String("nats-url", resolved.NATSURL, "nats URL for the live event relay (empty disables)")
	relayChannel := fs.String("relay-channel", resolved.RelayChannel, "relay subject prefix")

	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg := resolved
	cfg.TaskFile = *task
	cfg.Model = *model
	cfg.Branch = *branch
	cfg.OpenPR = *openPR
	cfg.WarnThreshold = *warnThreshold
	cfg.RotateThreshold = *rotateThreshold
	cfg.MaxIterations = *maxIterations
	cfg.AgentBinary = *agentBinary
	cfg.Display = *display
	cfg.LogLevel = *logLevel
	cfg.SkipConfirm = *skipConfirm
	cfg.QualityTimeout = *qcTimeout
	cfg.QualityDefault = *qcDefault
	cfg.RedisURL = *redisURL
	cfg.NATSURL = *natsURL
	cfg.RelayChannel = *relayChannel

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	taskPath := cfg.TaskFile
	if !filepath.IsAbs(taskPath) {
		taskPath = filepath.Join(*repo, taskPath)
	}
	entry, err := taskfile.Load(taskPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	if !cfg.SkipConfirm {
		confirmed, err := confirmStart(runSummary(cfg, taskPath, entry), stdin, stdout)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		if !confirmed {
			fmt.Fprintln(stdout, "Run not started.")
			return 0
		}
	}

	stateDir, err := state.Open(*repo)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	runID := newRunID(time.Now())
	logger := logging.NewStructuredLogger(stderr, cfg.LogLevel, logging.LoggingSchemaFields{
		Component: "ralph",
		Task:      cfg.TaskFile,
		RunID:     runID,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	stopCh := make(chan struct{})
	sinks := []contracts.EventSink{
		contracts.NewFileEventSink(stateDir.ActivityLogPath()),
		state.NewEventSink(stateDir),
	}

	if cfg.RelayEnabled() {
		backend, address := relayBackendRedis, cfg.RedisURL
		if cfg.RedisURL == "" {
			backend, address = relayBackendNATS, cfg.NATSURL
		}
		bus, err := newRelayBus(backend, address)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		defer func() {
			_ = bus.Close()
		}()
		publisher, err := relay.NewPublisher(bus, relay.DefaultSubjects(cfg.RelayChannel), "ralph", runID)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		workDirAbs, absErr := filepath.Abs(*repo)
		if absErr != nil {
			workDirAbs = *repo
		}
		if err := publisher.Hello(ctx, relay.HelloPayload{
			RunID:     runID,
			WorkDir:   workDirAbs,
			Task:      cfg.TaskFile,
			Model:     cfg.Model,
			StartedAt: time.Now().UTC(),
		}); err != nil {
			_ = logger.Event("warn", "relay hello failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
		sinks = append(sinks, publisher)
	}

	displayMode := cfg.Display
	if displayMode == config.DisplayAuto {
		if isTerminal(stdout) {
			displayMode = config.DisplayTUI
		} else {
			displayMode = config.DisplayPlain
		}
	}

	var program supervisionDisplay
	if displayMode == config.DisplayTUI {
		program = startDisplay(stdin, stdout, tui.Options{
			Stop:         stopCh,
			ProgressPath: stateDir.ProgressPath(),
			LogsDir:      stateDir.LogsDir(),
		})
		sinks = append(sinks, program)
	} else {
		eventLogger := logging.NewStructuredLogger(stdout, cfg.LogLevel, logging.LoggingSchemaFields{
			Component: "ralph",
			Task:      cfg.TaskFile,
			RunID:     runID,
		})
		sinks = append(sinks, newHeadlessSink(eventLogger))
	}
	if isTerminal(stdout) {
		defer fmt.Fprint(stdout, "\x1b[?25h")
	}

	if launcher == nil {
		launcher = &claude.CLILauncher{
			Binary:   cfg.AgentBinary,
			Commands: logging.NewCommandLogger(stateDir.LogsDir()),
		}
	}

	runner := loop.NewRunner(loop.Config{
		Launcher:             launcher,
		Scanner:              watchdog.NewProcScanner(),
		State:                stateDir,
		Events:               contracts.NewFanoutSink(sinks...),
		Logger:               logger,
		WorkDir:              *repo,
		TaskPath:             taskPath,
		Model:                cfg.Model,
		Branch:               cfg.Branch,
		OpenPR:               cfg.OpenPR,
		MaxIterations:        cfg.MaxIterations,
		WarnThreshold:        cfg.WarnThreshold,
		RotateThreshold:      cfg.RotateThreshold,
		WatchdogInterval:     *watchdogInterval,
		QualityTimeout:       cfg.QualityTimeoutDuration(),
		QualityFailOnSilence: !cfg.QualityPassOnSilence(),
		Stop:                 stopCh,
	})

	summary, err := runner.Run(ctx)
	if program != nil {
		program.Close()
		_ = program.Wait()
	}
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	message := outcomeMessage(summary, stateDir)
	if summary.Outcome.Success() {
		fmt.Fprintln(stdout, message)
		return 0
	}
	fmt.Fprintln(stderr, message)
	return 1
}

// workdirFromArgs pre-scans for -repo so the config file can be read from
// the right tree before the full flag set parses.
func workdirFromArgs(args []string) string {
	for i := 0; i < len(args); i++ {
		name, value, hasValue := strings.Cut(args[i], "=")
		if name != "-repo" && name != "--repo" {
			continue
		}
		if hasValue {
			return value
		}
		if i+1 < len(args) {
			return args[i+1]
		}
	}
	return "."
}

func newRunID(now time.Time) string {
	return "run-" + now.UTC().Format("20060102-150405")
}

func outcomeMessage(summary loop.Summary, dir *state.Dir) string {
	switch summary.Outcome {
	case loop.RunChainComplete:
		return fmt.Sprintf("Task chain complete after %d iterations.", summary.IterationsRun)
	case loop.RunStopped:
		if summary.LastTask == "" {
			return fmt.Sprintf("Run stopped after %d iterations.", summary.IterationsRun)
		}
		return fmt.Sprintf("Run stopped after %d iterations on %s.", summary.IterationsRun, summary.LastTask)
	case loop.RunStuck:
		return fmt.Sprintf("Run stuck on %s: %s\nInspect %s and %s before retrying.",
			summary.LastTask, summary.Reason, dir.ErrorLogPath(), dir.LessonsPath())
	case loop.RunIterationCap:
		return fmt.Sprintf("Iteration cap reached on %s after %d iterations.\nInspect %s and %s before retrying.",
			summary.LastTask, summary.IterationsRun, dir.ErrorLogPath(), dir.LessonsPath())
	}
	return string(summary.Outcome)
}
