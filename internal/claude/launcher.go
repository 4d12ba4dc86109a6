// Package claude starts and supervises the coding agent subprocess. The
// agent is driven in print mode with stream-json output: one JSON record
// per stdout line, stderr to a per-iteration log file.
package claude

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/IceColdLight/ralph-wiggum-claude-code/internal/logging"
)

const DefaultBinary = "claude"

// Invocation is everything one agent launch needs.
type Invocation struct {
	Prompt     string
	Model      string
	Resume     string // session id from a previous natural exit
	WorkDir    string
	StderrPath string
	Iteration  int
	ExtraArgs  []string
}

// Session is one live agent subprocess.
type Session interface {
	Stdout() io.ReadCloser
	PID() int
	Wait() error
	// KillTree terminates the whole process group: SIGTERM, a grace
	// window, then SIGKILL for whatever survived.
	KillTree(grace time.Duration) error
}

// Launcher starts agent sessions. The CLI launcher shells out to the real
// binary; tests script sessions instead.
type Launcher interface {
	Start(ctx context.Context, inv Invocation) (Session, error)
}

// BuildArgs renders the CLI invocation for one launch.
func BuildArgs(inv Invocation) []string {
	args := []string{
		"-p", inv.Prompt,
		"--output-format", "stream-json",
		"--verbose",
		"--dangerously-skip-permissions",
	}
	if inv.Model != "" {
		args = append(args, "--model", inv.Model)
	}
	if inv.Resume != "" {
		args = append(args, "--resume", inv.Resume)
	}
	return append(args, inv.ExtraArgs...)
}

type CLILauncher struct {
	Binary string
	// Commands, when set, records every launch's lifecycle to the command
	// log once the session is reaped.
	Commands *logging.CommandLogger
}

func (l *CLILauncher) Start(ctx context.Context, inv Invocation) (Session, error) {
	binary := l.Binary
	if binary == "" {
		binary = DefaultBinary
	}

	args := BuildArgs(inv)
	cmd := exec.Command(binary, args...)
	cmd.Dir = inv.WorkDir
	cmd.Env = os.Environ()
	// A fresh process group lets us terminate every descendant at once.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stderrFile *os.File
	if inv.StderrPath != "" {
		if err := os.MkdirAll(filepath.Dir(inv.StderrPath), 0o755); err != nil {
			return nil, fmt.Errorf("prepare stderr log dir: %w", err)
		}
		file, err := os.Create(inv.StderrPath)
		if err != nil {
			return nil, fmt.Errorf("create stderr log: %w", err)
		}
		stderrFile = file
		cmd.Stderr = stderrFile
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		if stderrFile != nil {
			_ = stderrFile.Close()
		}
		return nil, fmt.Errorf("open agent stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		_ = stdout.Close()
		if stderrFile != nil {
			_ = stderrFile.Close()
		}
		return nil, fmt.Errorf("start %s: %w", binary, err)
	}

	session := &cliSession{
		cmd:        cmd,
		stdout:     stdout,
		stderrFile: stderrFile,
		commands:   l.Commands,
		argv:       append([]string{binary}, args...),
		iteration:  inv.Iteration,
		stderrPath: inv.StderrPath,
		started:    time.Now(),
		done:       make(chan struct{}),
	}

	if ctx != nil && ctx.Err() != nil {
		_ = session.KillTree(time.Second)
		_ = session.Wait()
		return nil, ctx.Err()
	}

	return session, nil
}

type cliSession struct {
	cmd        *exec.Cmd
	stdout     io.ReadCloser
	stderrFile *os.File

	commands   *logging.CommandLogger
	argv       []string
	iteration  int
	stderrPath string
	started    time.Time

	waitOnce sync.Once
	waitErr  error
	done     chan struct{}
}

func (s *cliSession) Stdout() io.ReadCloser {
	return s.stdout
}

func (s *cliSession) PID() int {
	if s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

func (s *cliSession) Wait() error {
	s.waitOnce.Do(func() {
		s.waitErr = s.cmd.Wait()
		if s.stderrFile != nil {
			_ = s.stderrFile.Close()
		}
		if s.commands != nil {
			// Stdout went to the parser, not a buffer; the stderr capture
			// file carries whatever the agent printed on its way out.
			_ = s.commands.LogCommand(s.iteration, s.argv, "", stderrTail(s.stderrPath), s.waitErr, s.started)
		}
		close(s.done)
	})
	<-s.done
	return s.waitErr
}

// stderrTail reads the end of the session's stderr capture for the command
// log. Read problems just mean an empty tail.
func stderrTail(path string) string {
	if path == "" {
		return ""
	}
	file, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return ""
	}
	const tailBytes = 4096
	if size := info.Size(); size > tailBytes {
		if _, err := file.Seek(size-tailBytes, io.SeekStart); err != nil {
			return ""
		}
	}
	data, err := io.ReadAll(file)
	if err != nil {
		return ""
	}
	return string(data)
}

func (s *cliSession) KillTree(grace time.Duration) error {
	pid := s.PID()
	if pid <= 0 {
		return nil
	}
	// With Setpgid the group id equals the root pid.
	_ = syscall.Kill(-pid, syscall.SIGTERM)
	_ = syscall.Kill(pid, syscall.SIGTERM)

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		select {
		case <-s.done:
			return nil
		default:
		}
		if syscall.Kill(pid, 0) != nil {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	_ = syscall.Kill(-pid, syscall.SIGKILL)
	_ = syscall.Kill(pid, syscall.SIGKILL)
	return nil
}
